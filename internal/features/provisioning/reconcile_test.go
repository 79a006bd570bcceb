package provisioning

import (
	"context"
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
	"serotonyl.ru/vpn-shop/internal/store"
)

// orphanPurchase имитирует падение процесса сразу после резерва:
// деньги списаны, операция pending, на роутер никто не ходил.
func (h *harness) orphanPurchase(account int64) *journal.Operation {
	h.t.Helper()
	snap := h.plan.Snapshot()
	op := &journal.Operation{
		ID:             "7d0c1a52-5f3e-4a41-9c55-0d7f1f0e8a11",
		Kind:           journal.KindPurchase,
		State:          journal.StatePending,
		AccountID:      account,
		BackendID:      h.backendID,
		RemoteUsername: "uorphan001",
		Amount:         h.plan.Price,
		Payload:        journal.Payload{Plan: &snap},
	}
	require.NoError(h.t, h.store.Do(h.ctx, func(ctx context.Context, tx *store.Tx) error {
		if _, err := ledger.Debit(ctx, tx.Ledger, account, h.plan.Price, ledger.KindPurchase, h.plan.Name, op.ID); err != nil {
			return err
		}
		if err := tx.Entitlements.ReserveUsername(ctx, op.RemoteUsername); err != nil {
			return err
		}
		return tx.Journal.Insert(ctx, op)
	}))
	return op
}

func TestReconcile_CompletesPurchaseWhenAccountExists(t *testing.T) {
	h := newHarness(t)
	h.deposit(accountID, 50)

	h.store.FailOn("entitlements.Create", errors.New("connection reset"))
	_, err := h.orch.Purchase(h.ctx, accountID, h.plan.ID)
	require.Error(t, err)
	assert.NotErrorIs(t, err, common.ErrProvisioningFailed)
	assert.ErrorIs(t, err, common.ErrInternal)

	var pe *ProvisioningError
	require.True(t, errors.As(err, &pe))
	assert.True(t, pe.Pending)
	assert.True(t, pe.MoneyMoved)
	assert.Equal(t, journal.StatePending, h.op(pe.OperationID).State)
	assert.Empty(t, h.subs(accountID))

	// моложе Grace — не трогаем
	pass, err := h.orch.Reconcile(h.ctx)
	require.NoError(t, err)
	assert.Zero(t, pass.Completed)

	h.clock.Advance(3 * time.Minute)
	pass, err = h.orch.Reconcile(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, pass.Completed)

	subs := h.subs(accountID)
	require.Len(t, subs, 1)
	assert.True(t, h.rad.Has(subs[0].RemoteUsername))
	assert.Equal(t, journal.StateCompleted, h.op(pe.OperationID).State)
	assert.Equal(t, subs[0].ID, h.op(pe.OperationID).SubscriptionID)
	h.assertBalance(accountID, "20")

	// повторный проход ничего не меняет
	pass, err = h.orch.Reconcile(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, Pass{}, *pass)
	assert.Len(t, h.subs(accountID), 1)
	assert.False(t, h.orch.LastPass().IsZero())
}

func TestReconcile_RefundsOrphanedPurchaseExactlyOnce(t *testing.T) {
	h := newHarness(t)
	h.deposit(accountID, 50)
	op := h.orphanPurchase(accountID)
	h.assertBalance(accountID, "20")

	h.clock.Advance(3 * time.Minute)
	pass, err := h.orch.Reconcile(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, pass.Compensated)
	assert.Equal(t, journal.StateCompensated, h.op(op.ID).State)
	h.assertBalance(accountID, "50")

	pass, err = h.orch.Reconcile(h.ctx)
	require.NoError(t, err)
	assert.Zero(t, pass.Compensated)
	h.assertBalance(accountID, "50")

	var refunds int
	require.NoError(t, h.store.Do(h.ctx, func(ctx context.Context, tx *store.Tx) error {
		entries, err := tx.Ledger.ListEntriesByOperation(ctx, op.ID)
		for _, e := range entries {
			if e.Kind == ledger.KindRefund {
				refunds++
			}
		}
		return err
	}))
	assert.Equal(t, 1, refunds)
}

func TestReconcile_DefersWhenBackendUnreachable(t *testing.T) {
	h := newHarness(t)
	h.deposit(accountID, 50)
	op := h.orphanPurchase(accountID)
	h.clock.Advance(3 * time.Minute)

	h.rad.Fail("status", rad.ErrUnreachable, -1)
	pass, err := h.orch.Reconcile(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, pass.Deferred)
	assert.Equal(t, journal.StatePending, h.op(op.ID).State)
	h.assertBalance(accountID, "20")

	h.rad.Heal("status")
	pass, err = h.orch.Reconcile(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, pass.Compensated)
	h.assertBalance(accountID, "50")
}

func TestReconcile_CompletesRenewalConfirmedByBackend(t *testing.T) {
	h := newHarness(t)
	h.deposit(accountID, 60)
	sub, err := h.orch.Purchase(h.ctx, accountID, h.plan.ID)
	require.NoError(t, err)

	h.store.FailOn("entitlements.UpdateExpiry", errors.New("connection reset"))
	_, err = h.orch.Renew(h.ctx, sub.ID)
	var pe *ProvisioningError
	require.True(t, errors.As(err, &pe))
	assert.True(t, pe.Pending)
	assert.True(t, h.sub(sub.ID).ExpiryAt.Equal(sub.ExpiryAt))

	h.clock.Advance(3 * time.Minute)
	pass, err := h.orch.Reconcile(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, pass.Completed)
	assert.True(t, h.sub(sub.ID).ExpiryAt.Equal(sub.ExpiryAt.AddDate(0, 0, 30)))
	h.assertBalance(accountID, "0")
}

func TestReconcile_RefundsUnconfirmedRenewal(t *testing.T) {
	h := newHarness(t)
	h.deposit(accountID, 60)
	sub, err := h.orch.Purchase(h.ctx, accountID, h.plan.ID)
	require.NoError(t, err)

	// резерв продления записан, до роутера дело не дошло
	expiry := sub.ExpiryAt.AddDate(0, 0, 30)
	snap := h.plan.Snapshot()
	op := &journal.Operation{
		ID: "0b8f4a0e-2d7c-4c3b-8f0e-9a6d5e4c3b2a", Kind: journal.KindRenewal, State: journal.StatePending,
		AccountID: accountID, SubscriptionID: sub.ID, BackendID: h.backendID,
		RemoteUsername: sub.RemoteUsername, Amount: h.plan.Price,
		Payload: journal.Payload{Plan: &snap, NewExpiry: &expiry, NewCapBytes: snap.DataCapBytes, Days: 30},
	}
	require.NoError(t, h.store.Do(h.ctx, func(ctx context.Context, tx *store.Tx) error {
		if _, err := ledger.Debit(ctx, tx.Ledger, accountID, h.plan.Price, ledger.KindRenewal, "", op.ID); err != nil {
			return err
		}
		return tx.Journal.Insert(ctx, op)
	}))
	h.assertBalance(accountID, "0")

	got, err := h.orch.Repair(h.ctx, op.ID)
	require.NoError(t, err)
	assert.Equal(t, journal.StateCompensated, got.State)
	h.assertBalance(accountID, "30")
	assert.True(t, h.sub(sub.ID).ExpiryAt.Equal(sub.ExpiryAt))

	_, err = h.orch.Repair(h.ctx, op.ID)
	assert.ErrorIs(t, err, common.ErrOperationNotPending)
}

func TestReconcile_RetriesRemoteCleanup(t *testing.T) {
	h := newHarness(t)
	h.deposit(accountID, 50)
	h.rad.LoseReply("create", -1)
	h.rad.Fail("delete", rad.ErrUnreachable, 3)

	_, err := h.orch.Purchase(h.ctx, accountID, h.plan.ID)
	var pe *ProvisioningError
	require.True(t, errors.As(err, &pe))
	h.assertBalance(accountID, "50")

	// аккаунт создан, но удалить сразу не вышло
	op := h.op(pe.OperationID)
	assert.True(t, op.RemoteCleanup)
	assert.True(t, h.rad.Has(op.RemoteUsername))

	pass, err := h.orch.Reconcile(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, pass.CleanedUp)
	assert.False(t, h.rad.Has(op.RemoteUsername))
	assert.False(t, h.op(op.ID).RemoteCleanup)
}

func TestReconcile_ClosesInterruptedAdminOps(t *testing.T) {
	h := newHarness(t)
	h.deposit(accountID, 50)
	sub, err := h.orch.Purchase(h.ctx, accountID, h.plan.ID)
	require.NoError(t, err)

	insert := func(id string, kind journal.Kind) {
		require.NoError(t, h.store.Do(h.ctx, func(ctx context.Context, tx *store.Tx) error {
			return tx.Journal.Insert(ctx, &journal.Operation{
				ID: id, Kind: kind, State: journal.StatePending, AccountID: accountID,
				SubscriptionID: sub.ID, BackendID: h.backendID, RemoteUsername: sub.RemoteUsername,
			})
		}))
	}
	insert("11111111-1111-1111-1111-111111111111", journal.KindAdminDisable)
	insert("22222222-2222-2222-2222-222222222222", journal.KindAdminDelete)
	// удаление успело дойти до роутера
	require.NoError(t, h.rad.DeleteAccount(h.ctx, sub.RemoteUsername))

	h.clock.Advance(3 * time.Minute)
	pass, err := h.orch.Reconcile(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, pass.Failed)
	assert.Equal(t, 1, pass.Completed)
	assert.Empty(t, h.subs(accountID))
	h.assertBalance(accountID, "20")
}

func TestReconciliationReport(t *testing.T) {
	h := newHarness(t)
	h.deposit(accountID, 100)
	a, err := h.orch.Purchase(h.ctx, accountID, h.plan.ID)
	require.NoError(t, err)
	b, err := h.orch.Purchase(h.ctx, accountID, h.plan.ID)
	require.NoError(t, err)

	h.rad.SetExpiry(a.RemoteUsername, a.ExpiryAt.Add(-72*time.Hour))
	h.rad.SetExpiry(b.RemoteUsername, b.ExpiryAt.Add(time.Hour))
	require.NoError(t, h.store.Do(h.ctx, func(ctx context.Context, tx *store.Tx) error {
		return tx.Ledger.SetBalance(ctx, accountID, decimal.NewFromInt(99))
	}))

	rep, err := h.orch.ReconciliationReport(h.ctx)
	require.NoError(t, err)
	require.Len(t, rep.Drifts, 1)
	assert.True(t, rep.Drifts[0].Cached.Equal(decimal.NewFromInt(99)))
	assert.True(t, rep.Drifts[0].Computed.Equal(decimal.NewFromInt(40)))
	require.Len(t, rep.ExpiryMismatches, 1)
	assert.Equal(t, a.ID, rep.ExpiryMismatches[0].SubscriptionID)
	assert.Empty(t, rep.StaleOperations)

	balance, err := h.orch.RebuildBalance(h.ctx, accountID)
	require.NoError(t, err)
	assert.True(t, balance.Equal(decimal.NewFromInt(40)))
	h.assertBalance(accountID, "40")
}
