package rad

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCreateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	m := newBackend(t)
	require.NoError(t, m.EnsureProfile(ctx, ProfileSpec{Name: "year", ValidityDays: 365}))

	require.NoError(t, m.CreateAccount(ctx, "u1", "pw", "month"))
	require.NoError(t, m.CreateAccount(ctx, "u1", "pw", "month"))
	assert.ErrorIs(t, m.CreateAccount(ctx, "u1", "pw", "year"), ErrAlreadyExists)
	assert.ErrorIs(t, m.CreateAccount(ctx, "u2", "pw", "missing"), ErrRejected)
}

func TestMemoryTokensAreIdempotent(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	m := newBackend(t)
	m.SetClock(func() time.Time { return now })
	require.NoError(t, m.CreateAccount(ctx, "u1", "pw", "month"))

	require.NoError(t, m.ExtendValidity(ctx, "u1", 30, "op-1"))
	require.NoError(t, m.ExtendValidity(ctx, "u1", 30, "op-1"))
	require.NoError(t, m.GrantAdditionalData(ctx, "u1", 50, "op-1"))
	require.NoError(t, m.GrantAdditionalData(ctx, "u1", 50, "op-1"))

	st, err := m.AccountStatus(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, now.AddDate(0, 0, 60), *st.ExpiresAt)
	assert.Equal(t, int64(150), st.AllowanceBytes)
}

func TestMemoryMissingAccount(t *testing.T) {
	ctx := context.Background()
	m := newBackend(t)

	st, err := m.AccountStatus(ctx, "ghost")
	require.NoError(t, err)
	assert.False(t, st.Exists)

	assert.ErrorIs(t, m.Disable(ctx, "ghost"), ErrNotFound)
	assert.NoError(t, m.DeleteAccount(ctx, "ghost"))
}

func TestMemoryLostReplyApplies(t *testing.T) {
	ctx := context.Background()
	m := newBackend(t)
	m.LoseReply("create", 1)

	err := m.CreateAccount(ctx, "u1", "pw", "month")
	assert.ErrorIs(t, err, ErrUnreachable)
	assert.True(t, m.Has("u1"))
}

func TestRemainingBytes(t *testing.T) {
	assert.Equal(t, int64(40), (&AccountStatus{UsedBytes: 60, AllowanceBytes: 100}).RemainingBytes())
	assert.Equal(t, int64(0), (&AccountStatus{UsedBytes: 120, AllowanceBytes: 100}).RemainingBytes())
	assert.Equal(t, int64(0), (&AccountStatus{UsedBytes: 5}).RemainingBytes())
}
