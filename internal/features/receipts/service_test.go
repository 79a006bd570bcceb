package receipts_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serotonyl.ru/vpn-shop/internal/common"
	"serotonyl.ru/vpn-shop/internal/features/receipts"
	"serotonyl.ru/vpn-shop/internal/store"
	"serotonyl.ru/vpn-shop/internal/store/memory"
)

func TestLimitsValidate(t *testing.T) {
	l := receipts.Limits{Min: decimal.NewFromInt(5), Max: decimal.NewFromInt(1000)}

	assert.NoError(t, l.Validate(decimal.NewFromInt(5)))
	assert.NoError(t, l.Validate(decimal.RequireFromString("999.99")))
	assert.ErrorIs(t, l.Validate(decimal.RequireFromString("4.99")), common.ErrInvalidAmount)
	assert.ErrorIs(t, l.Validate(decimal.NewFromInt(1001)), common.ErrInvalidAmount)
	assert.ErrorIs(t, l.Validate(decimal.RequireFromString("10.005")), common.ErrInvalidAmount)
	assert.ErrorIs(t, l.Validate(decimal.Zero), common.ErrInvalidAmount)
}

func TestDecideOnce(t *testing.T) {
	ctx := context.Background()
	m := memory.New()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	var id int64
	require.NoError(t, m.Do(ctx, func(ctx context.Context, tx *store.Tx) error {
		r := &receipts.Receipt{AccountID: 5, ClaimedAmount: decimal.NewFromInt(50), EvidenceRef: "photo-1"}
		if err := tx.Receipts.Insert(ctx, r); err != nil {
			return err
		}
		id = r.ID
		return nil
	}))

	require.NoError(t, m.Do(ctx, func(ctx context.Context, tx *store.Tx) error {
		r, err := receipts.Decide(ctx, tx.Receipts, id, receipts.StatusRejected, "размытое фото", 100, now)
		require.NoError(t, err)
		assert.Equal(t, receipts.StatusRejected, r.Status)
		return nil
	}))

	err := m.Do(ctx, func(ctx context.Context, tx *store.Tx) error {
		_, err := receipts.Decide(ctx, tx.Receipts, id, receipts.StatusApproved, "", 100, now)
		return err
	})
	assert.ErrorIs(t, err, common.ErrAlreadyDecided)

	require.NoError(t, m.Do(ctx, func(ctx context.Context, tx *store.Tx) error {
		pending, err := tx.Receipts.ListPending(ctx)
		require.NoError(t, err)
		assert.Empty(t, pending)
		return nil
	}))
}
