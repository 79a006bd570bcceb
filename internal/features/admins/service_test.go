package admins

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serotonyl.ru/vpn-shop/internal/common"
)

type fakeStore struct {
	admins   map[int64]*Admin
	attempts map[int64][]bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{admins: map[int64]*Admin{}, attempts: map[int64][]bool{}}
}

func (f *fakeStore) Exists(_ context.Context, id int64) (bool, error) {
	_, ok := f.admins[id]
	return ok, nil
}

func (f *fakeStore) List(context.Context) ([]*Admin, error) {
	out := make([]*Admin, 0, len(f.admins))
	for _, a := range f.admins {
		out = append(out, a)
	}
	return out, nil
}

func (f *fakeStore) Add(_ context.Context, a *Admin) error {
	f.admins[a.UserID] = a
	return nil
}

func (f *fakeStore) Remove(_ context.Context, id int64) error {
	if _, ok := f.admins[id]; !ok {
		return common.ErrNotFound
	}
	delete(f.admins, id)
	return nil
}

func (f *fakeStore) LogAttempt(_ context.Context, id int64, ok bool) error {
	f.attempts[id] = append(f.attempts[id], ok)
	return nil
}

func (f *fakeStore) RecentFailures(_ context.Context, id int64, _ time.Time) (int, error) {
	n := 0
	for _, ok := range f.attempts[id] {
		if !ok {
			n++
		}
	}
	return n, nil
}

func TestAuthorizer_Roles(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	a := NewAuthorizer(store, []int64{100}, "")

	assert.NoError(t, a.RequireAdmin(ctx, 100))
	assert.ErrorIs(t, a.RequireAdmin(ctx, 7), common.ErrNotAdmin)

	assert.ErrorIs(t, a.AddAdmin(ctx, 7, 8, "x"), common.ErrNotSuperAdmin)
	require.NoError(t, a.AddAdmin(ctx, 100, 7, "carol"))
	assert.NoError(t, a.RequireAdmin(ctx, 7))

	// обычный админ не может управлять админами
	assert.ErrorIs(t, a.RemoveAdmin(ctx, 7, 7), common.ErrNotSuperAdmin)
	assert.Error(t, a.RemoveAdmin(ctx, 100, 100))

	require.NoError(t, a.RemoveAdmin(ctx, 100, 7))
	assert.ErrorIs(t, a.RequireAdmin(ctx, 7), common.ErrNotAdmin)
}

func TestAuthorizer_VerifyToken(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	hash := HashToken("s3cret-token", []byte("0123456789abcdef"))
	a := NewAuthorizer(store, []int64{100}, hash)

	assert.NoError(t, a.VerifyToken(ctx, 100, "s3cret-token"))

	// верный токен, но пользователь не админ
	assert.ErrorIs(t, a.VerifyToken(ctx, 5, "s3cret-token"), common.ErrNotAdmin)

	for i := 0; i < maxFailedAttempts; i++ {
		assert.ErrorIs(t, a.VerifyToken(ctx, 100, "wrong"), common.ErrBadCredentials)
	}
	// после трёх неудач блокируется даже верный токен
	err := a.VerifyToken(ctx, 100, "s3cret-token")
	assert.ErrorIs(t, err, common.ErrTooManyAttempts)
}

func TestVerifyArgon2id_BadFormat(t *testing.T) {
	assert.False(t, verifyArgon2id("x", "not-a-hash"))
	assert.False(t, verifyArgon2id("x", "$argon2id$v=19$m=bad$salt$hash"))
}
