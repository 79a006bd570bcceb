package rad

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, Initial: time.Millisecond, Multiplier: 2, Max: 5 * time.Millisecond}
}

func newBackend(t *testing.T) *Memory {
	t.Helper()
	m := NewMemory("test")
	require.NoError(t, m.EnsureProfile(context.Background(), ProfileSpec{Name: "month", ValidityDays: 30, DataCapBytes: 100}))
	return m
}

func TestResilientRetriesUnreachable(t *testing.T) {
	m := newBackend(t)
	m.Fail("create", ErrUnreachable, 2)
	r := NewResilient(m, "test", time.Second, fastPolicy())

	err := r.CreateAccount(context.Background(), "u1", "pw", "month")
	require.NoError(t, err)
	assert.Equal(t, 3, m.Calls("create"))
	assert.True(t, m.Has("u1"))
}

func TestResilientGivesUpAfterBudget(t *testing.T) {
	m := newBackend(t)
	m.Fail("create", ErrUnreachable, -1)
	r := NewResilient(m, "test", time.Second, fastPolicy())

	err := r.CreateAccount(context.Background(), "u1", "pw", "month")
	assert.ErrorIs(t, err, ErrUnreachable)
	assert.Equal(t, 3, m.Calls("create"))
	assert.False(t, m.Has("u1"))
}

func TestResilientDoesNotRetryRejected(t *testing.T) {
	m := newBackend(t)
	m.Fail("create", ErrRejected, -1)
	r := NewResilient(m, "test", time.Second, fastPolicy())

	err := r.CreateAccount(context.Background(), "u1", "pw", "month")
	assert.ErrorIs(t, err, ErrRejected)
	assert.False(t, Retryable(err))
	assert.Equal(t, 1, m.Calls("create"))
}

func TestResilientTimeoutIsUnreachable(t *testing.T) {
	m := newBackend(t)
	m.SetDelay(50 * time.Millisecond)
	r := NewResilient(m, "test", 5*time.Millisecond, RetryPolicy{Attempts: 2, Initial: time.Millisecond})

	err := r.Ping(context.Background())
	assert.ErrorIs(t, err, ErrUnreachable)
}

func TestResilientWrapsBareErrors(t *testing.T) {
	r := NewResilient(bareErr{}, "test", time.Second, RetryPolicy{Attempts: 1})

	err := r.Ping(context.Background())
	var re *Error
	require.True(t, errors.As(err, &re))
	assert.Equal(t, "ping", re.Op)
	assert.ErrorIs(t, err, ErrUnreachable)
}

func TestNextDelayIsBounded(t *testing.T) {
	p := RetryPolicy{Initial: 100 * time.Millisecond, Multiplier: 2, Jitter: 0.5, Max: time.Second}

	assert.Equal(t, 100*time.Millisecond, p.nextDelay(0, 0.5))
	assert.Equal(t, 200*time.Millisecond, p.nextDelay(1, 0.5))
	assert.Equal(t, time.Second, p.nextDelay(10, 1))
	assert.Equal(t, 50*time.Millisecond, p.nextDelay(0, 0))
}

func TestErrorDetail(t *testing.T) {
	err := NewError("create", "msk-1", ErrRejected, nil, "input does not match any value of profile")
	assert.Equal(t, "input does not match any value of profile", Detail(err))
	assert.Contains(t, err.Error(), "msk-1")
	assert.NotErrorIs(t, err, ErrUnreachable)
}

// bareErr — клиент, который возвращает ошибки без вида.
type bareErr struct{ Directory }

func (bareErr) Ping(context.Context) error { return errors.New("connection reset by peer") }
