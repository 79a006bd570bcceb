package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serotonyl.ru/vpn-shop/internal/common"
	"serotonyl.ru/vpn-shop/internal/features/provisioning"
)

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("x: %w", common.ErrNotFound), http.StatusNotFound},
		{common.ErrInvalidAmount, http.StatusBadRequest},
		{common.ErrAlreadyDecided, http.StatusConflict},
		{common.ErrOperationNotPending, http.StatusConflict},
		{common.ErrNotSuperAdmin, http.StatusForbidden},
		{common.ErrTooManyAttempts, http.StatusTooManyRequests},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{&provisioning.ProvisioningError{Op: "admin_disable", Cause: common.ErrNotFound}, http.StatusBadGateway},
		{&provisioning.ProvisioningError{Op: "purchase", Cause: common.ErrInternal, Pending: true}, http.StatusAccepted},
		{fmt.Errorf("%w: disk full", common.ErrInternal), http.StatusInternalServerError},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, statusFor(c.err), c.err.Error())
	}
}

func TestMemoryRevocations(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewMemoryRevocations()
	m.now = func() time.Time { return now }

	require.NoError(t, m.Revoke(context.Background(), "jti-1", time.Hour))
	ok, err := m.Revoked(context.Background(), "jti-1")
	require.NoError(t, err)
	assert.True(t, ok)

	now = now.Add(2 * time.Hour)
	ok, _ = m.Revoked(context.Background(), "jti-1")
	assert.False(t, ok)
}

func TestRedisRevocations(t *testing.T) {
	client, mock := redismock.NewClientMock()
	r := NewRedisRevocations(client, "vpnshop:revoked:")

	mock.ExpectSet("vpnshop:revoked:jti-1", "1", time.Hour).SetVal("OK")
	require.NoError(t, r.Revoke(context.Background(), "jti-1", time.Hour))

	mock.ExpectExists("vpnshop:revoked:jti-1").SetVal(1)
	ok, err := r.Revoked(context.Background(), "jti-1")
	require.NoError(t, err)
	assert.True(t, ok)

	mock.ExpectExists("vpnshop:revoked:jti-2").SetVal(0)
	ok, err = r.Revoked(context.Background(), "jti-2")
	require.NoError(t, err)
	assert.False(t, ok)

	// истёкший токен не пишем
	require.NoError(t, r.Revoke(context.Background(), "jti-3", -time.Second))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTokens(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tk := &tokens{secret: []byte("0123456789abcdef0123456789abcdef"), ttl: time.Hour, now: func() time.Time { return now }}

	raw, exp, err := tk.issue(42)
	require.NoError(t, err)
	assert.Equal(t, now.Add(time.Hour), exp)

	claims, id, err := tk.parse(raw)
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)
	assert.NotEmpty(t, claims.ID)

	other := &tokens{secret: []byte("another-secret-another-secret-xx"), ttl: time.Hour, now: tk.now}
	_, _, err = other.parse(raw)
	assert.ErrorIs(t, err, common.ErrBadCredentials)

	now = now.Add(2 * time.Hour)
	_, _, err = tk.parse(raw)
	assert.ErrorIs(t, err, common.ErrBadCredentials)
}
