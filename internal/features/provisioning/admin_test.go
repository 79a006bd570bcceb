package provisioning

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serotonyl.ru/vpn-shop/internal/common"
	"serotonyl.ru/vpn-shop/internal/features/journal"
	"serotonyl.ru/vpn-shop/internal/features/ledger"
	"serotonyl.ru/vpn-shop/internal/features/rad"
)

func TestAdjustBalance_WritesDelta(t *testing.T) {
	h := newHarness(t)
	h.deposit(accountID, 50)

	balance, err := h.orch.AdjustBalance(h.ctx, adminID, accountID, decimal.RequireFromString("12.50"), "компенсация")
	require.NoError(t, err)
	assert.True(t, balance.Equal(decimal.RequireFromString("12.50")))
	h.assertBalance(accountID, "12.50")

	last := h.entries(accountID)[0]
	assert.Equal(t, ledger.KindManualAdjustment, last.Kind)
	assert.True(t, last.Amount.Equal(decimal.RequireFromString("-37.50")))
	assert.Contains(t, last.Memo, "компенсация")
	assert.NotEmpty(t, last.OperationID)
	assert.Equal(t, journal.StateCompleted, h.op(last.OperationID).State)

	_, err = h.orch.AdjustBalance(h.ctx, 7, accountID, decimal.Zero, "")
	assert.ErrorIs(t, err, common.ErrNotAdmin)
	_, err = h.orch.AdjustBalance(h.ctx, adminID, accountID, decimal.NewFromInt(-1), "")
	assert.ErrorIs(t, err, common.ErrInvalidAmount)
}

func TestAdjustBalance_JournalAmountReadUnderLock(t *testing.T) {
	h := newHarness(t)
	h.deposit(accountID, 50)

	var calls []string
	h.store.OnCall(func(method string) { calls = append(calls, method) })
	_, err := h.orch.AdjustBalance(h.ctx, adminID, accountID, decimal.NewFromInt(20), "")
	require.NoError(t, err)
	h.store.OnCall(nil)

	lockAt, insertAt := -1, -1
	for i, m := range calls {
		if m == "ledger.LockAccount" && lockAt < 0 {
			lockAt = i
		}
		if m == "journal.Insert" && insertAt < 0 {
			insertAt = i
		}
	}
	require.GreaterOrEqual(t, lockAt, 0)
	require.GreaterOrEqual(t, insertAt, 0)
	assert.Less(t, lockAt, insertAt)

	last := h.entries(accountID)[0]
	assert.True(t, h.op(last.OperationID).Amount.Equal(last.Amount))
	assert.True(t, last.Amount.Equal(decimal.NewFromInt(-30)))
}

func TestDelete_RemoteFirst(t *testing.T) {
	h := newHarness(t)
	h.deposit(accountID, 50)
	sub, err := h.orch.Purchase(h.ctx, accountID, h.plan.ID)
	require.NoError(t, err)

	h.rad.Fail("delete", rad.ErrRejected, 1)
	err = h.orch.Delete(h.ctx, adminID, sub.ID)
	require.ErrorIs(t, err, common.ErrProvisioningFailed)

	// локальная запись осталась, операция failed
	assert.Len(t, h.subs(accountID), 1)
	assert.True(t, h.rad.Has(sub.RemoteUsername))
	var pe *ProvisioningError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, journal.StateFailed, h.op(pe.OperationID).State)

	require.NoError(t, h.orch.Delete(h.ctx, adminID, sub.ID))
	assert.Empty(t, h.subs(accountID))
	assert.False(t, h.rad.Has(sub.RemoteUsername))
	h.assertBalance(accountID, "20")
}

func TestAdminEdits(t *testing.T) {
	h := newHarness(t)
	h.deposit(accountID, 50)
	sub, err := h.orch.Purchase(h.ctx, accountID, h.plan.ID)
	require.NoError(t, err)

	t.Run("только админ", func(t *testing.T) {
		assert.ErrorIs(t, h.orch.Disable(h.ctx, 7, sub.ID), common.ErrNotAdmin)
		_, err := h.orch.ExtendExpiry(h.ctx, 7, sub.ID, 5)
		assert.ErrorIs(t, err, common.ErrNotAdmin)
	})

	t.Run("disable/enable", func(t *testing.T) {
		h.rad.SetUsage(sub.RemoteUsername, 0, 2)
		require.NoError(t, h.orch.Disable(h.ctx, adminID, sub.ID))
		st, err := h.rad.AccountStatus(h.ctx, sub.RemoteUsername)
		require.NoError(t, err)
		assert.False(t, st.Enabled)
		assert.Zero(t, st.ActiveSessions)

		require.NoError(t, h.orch.Enable(h.ctx, adminID, sub.ID))
		st, err = h.rad.AccountStatus(h.ctx, sub.RemoteUsername)
		require.NoError(t, err)
		assert.True(t, st.Enabled)
	})

	t.Run("extend", func(t *testing.T) {
		before := h.sub(sub.ID)
		got, err := h.orch.ExtendExpiry(h.ctx, adminID, sub.ID, 7)
		require.NoError(t, err)
		assert.True(t, got.ExpiryAt.Equal(before.ExpiryAt.AddDate(0, 0, 7)))

		_, err = h.orch.ExtendExpiry(h.ctx, adminID, sub.ID, 0)
		assert.ErrorIs(t, err, common.ErrInvalidAmount)
	})

	t.Run("grant data", func(t *testing.T) {
		got, err := h.orch.GrantData(h.ctx, adminID, sub.ID, 10*common.Gigabyte)
		require.NoError(t, err)
		assert.Equal(t, 60*common.Gigabyte, got.TotalCapBytes)
		st, err := h.rad.AccountStatus(h.ctx, sub.RemoteUsername)
		require.NoError(t, err)
		assert.Equal(t, 60*common.Gigabyte, st.AllowanceBytes)
		assert.Equal(t, 2, h.events.count(EventSubscriptionGifted))
	})

	t.Run("reset secret", func(t *testing.T) {
		pass, err := h.orch.ResetSecret(h.ctx, adminID, sub.ID)
		require.NoError(t, err)
		assert.Equal(t, pass, h.rad.Secret(sub.RemoteUsername))
		view, err := h.orch.SubscriptionStatus(h.ctx, sub.ID)
		require.NoError(t, err)
		assert.Equal(t, pass, view.Secret)
	})

	t.Run("сбой роутера не меняет запись", func(t *testing.T) {
		before := h.sub(sub.ID)
		h.rad.Fail("extend", rad.ErrUnreachable, -1)
		defer h.rad.Heal("extend")

		_, err := h.orch.ExtendExpiry(h.ctx, adminID, sub.ID, 3)
		require.ErrorIs(t, err, common.ErrProvisioningFailed)
		var pe *ProvisioningError
		require.True(t, errors.As(err, &pe))
		assert.False(t, pe.MoneyMoved)
		assert.True(t, h.sub(sub.ID).ExpiryAt.Equal(before.ExpiryAt))
	})

	h.assertBalance(accountID, "20")
}

func TestDisableExpired(t *testing.T) {
	h := newHarness(t)
	h.deposit(accountID, 60)
	expiring, err := h.orch.Purchase(h.ctx, accountID, h.plan.ID)
	require.NoError(t, err)

	h.clock.Advance(20 * 24 * time.Hour)
	fresh, err := h.orch.Purchase(h.ctx, accountID, h.plan.ID)
	require.NoError(t, err)

	h.clock.Advance(15 * 24 * time.Hour)
	n, err := h.orch.DisableExpired(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	st, err := h.rad.AccountStatus(h.ctx, expiring.RemoteUsername)
	require.NoError(t, err)
	assert.False(t, st.Enabled)
	st, err = h.rad.AccountStatus(h.ctx, fresh.RemoteUsername)
	require.NoError(t, err)
	assert.True(t, st.Enabled)

	// повторный проход ничего не делает
	n, err = h.orch.DisableExpired(h.ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}
