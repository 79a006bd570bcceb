package secret

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBox(t *testing.T) *Box {
	t.Helper()
	key, err := GenerateKey()
	require.NoError(t, err)
	box, err := NewBoxFromBase64(key)
	require.NoError(t, err)
	return box
}

func TestSealOpenRoundTrip(t *testing.T) {
	box := newTestBox(t)

	sealed, err := box.Seal("s3cr3t-pass")
	require.NoError(t, err)
	assert.NotContains(t, string(sealed), "s3cr3t")

	plain, err := box.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "s3cr3t-pass", plain)
}

func TestSealUsesFreshNonce(t *testing.T) {
	box := newTestBox(t)

	a, err := box.Seal("same")
	require.NoError(t, err)
	b, err := box.Seal("same")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestOpenWithWrongKey(t *testing.T) {
	sealed, err := newTestBox(t).Seal("value")
	require.NoError(t, err)

	_, err = newTestBox(t).Open(sealed)
	assert.ErrorIs(t, err, ErrCorrupted)
}

func TestEmptyValues(t *testing.T) {
	box := newTestBox(t)

	sealed, err := box.Seal("")
	require.NoError(t, err)
	assert.True(t, sealed.IsZero())

	plain, err := box.Open("")
	require.NoError(t, err)
	assert.Empty(t, plain)
}

func TestNewBoxRejectsShortKey(t *testing.T) {
	_, err := NewBox([]byte("short"))
	assert.Error(t, err)

	_, err = NewBoxFromBase64("not base64!!")
	assert.Error(t, err)
}
