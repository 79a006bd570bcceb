package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serotonyl.ru/vpn-shop/internal/common"
	"serotonyl.ru/vpn-shop/internal/features/entitlements"
	"serotonyl.ru/vpn-shop/internal/features/ledger"
	"serotonyl.ru/vpn-shop/internal/store"
)

func TestDoRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	m := New()
	boom := errors.New("boom")

	err := m.Do(ctx, func(ctx context.Context, tx *store.Tx) error {
		if _, err := tx.Ledger.EnsureAccount(ctx, 1); err != nil {
			return err
		}
		if _, err := ledger.Credit(ctx, tx.Ledger, 1, decimal.NewFromInt(10), ledger.KindDeposit, "", ""); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	err = m.Do(ctx, func(ctx context.Context, tx *store.Tx) error {
		_, err := tx.Ledger.GetAccount(ctx, 1)
		return err
	})
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestFailOnIsOneShot(t *testing.T) {
	ctx := context.Background()
	m := New()
	boom := errors.New("disk full")
	m.FailOn("entitlements.ReserveUsername", boom)

	reserve := func() error {
		return m.Do(ctx, func(ctx context.Context, tx *store.Tx) error {
			return tx.Entitlements.ReserveUsername(ctx, "uabc")
		})
	}

	assert.ErrorIs(t, reserve(), boom)
	assert.NoError(t, reserve())
	assert.ErrorIs(t, reserve(), entitlements.ErrUsernameTaken)
}

func TestUsernameTombstoneSurvivesDelete(t *testing.T) {
	ctx := context.Background()
	m := New()

	err := m.Do(ctx, func(ctx context.Context, tx *store.Tx) error {
		if err := tx.Entitlements.ReserveUsername(ctx, "u1"); err != nil {
			return err
		}
		sub := &entitlements.Subscription{OwnerAccountID: 1, RemoteUsername: "u1"}
		if err := tx.Entitlements.Create(ctx, sub); err != nil {
			return err
		}
		return tx.Entitlements.Delete(ctx, sub.ID)
	})
	require.NoError(t, err)

	err = m.Do(ctx, func(ctx context.Context, tx *store.Tx) error {
		return tx.Entitlements.ReserveUsername(ctx, "u1")
	})
	assert.ErrorIs(t, err, entitlements.ErrUsernameTaken)
}
