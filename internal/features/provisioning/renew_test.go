package provisioning

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serotonyl.ru/vpn-shop/internal/common"
	"serotonyl.ru/vpn-shop/internal/features/journal"
	"serotonyl.ru/vpn-shop/internal/features/rad"
)

func TestRenew_ExpiredRestartsFromNow(t *testing.T) {
	h := newHarness(t)
	h.deposit(accountID, 60)
	sub, err := h.orch.Purchase(h.ctx, accountID, h.plan.ID)
	require.NoError(t, err)

	h.clock.Advance(40 * 24 * time.Hour)
	renewed, err := h.orch.Renew(h.ctx, sub.ID)
	require.NoError(t, err)

	assert.True(t, renewed.ExpiryAt.Equal(h.clock.Now().AddDate(0, 0, 30)))
	assert.False(t, renewed.Expired(h.clock.Now()))
	h.assertBalance(accountID, "0")
}

func TestRenew_ActiveExtendsFromExpiry(t *testing.T) {
	h := newHarness(t)
	h.deposit(accountID, 60)
	sub, err := h.orch.Purchase(h.ctx, accountID, h.plan.ID)
	require.NoError(t, err)

	h.clock.Advance(10 * 24 * time.Hour)
	renewed, err := h.orch.Renew(h.ctx, sub.ID)
	require.NoError(t, err)
	assert.True(t, renewed.ExpiryAt.Equal(sub.ExpiryAt.AddDate(0, 0, 30)))

	st, err := h.orch.SubscriptionStatus(h.ctx, sub.ID)
	require.NoError(t, err)
	require.NotNil(t, st.Remote.ExpiresAt)
	assert.True(t, st.Remote.ExpiresAt.Equal(renewed.ExpiryAt))
}

func TestRenew_UnreachableRefundsAndKeepsExpiry(t *testing.T) {
	h := newHarness(t)
	h.deposit(accountID, 60)
	sub, err := h.orch.Purchase(h.ctx, accountID, h.plan.ID)
	require.NoError(t, err)

	h.rad.Fail("extend", rad.ErrUnreachable, -1)
	_, err = h.orch.Renew(h.ctx, sub.ID)
	require.ErrorIs(t, err, common.ErrProvisioningFailed)

	var pe *ProvisioningError
	require.True(t, errors.As(err, &pe))
	assert.False(t, pe.MoneyMoved)
	assert.Equal(t, journal.StateCompensated, h.op(pe.OperationID).State)

	h.assertBalance(accountID, "30")
	assert.True(t, h.sub(sub.ID).ExpiryAt.Equal(sub.ExpiryAt))
	assert.Nil(t, h.sub(sub.ID).RenewedAt)
	assert.Equal(t, 3, h.rad.Calls("extend"))
}

func TestRenew_MissingRemoteAccountRefunds(t *testing.T) {
	h := newHarness(t)
	h.deposit(accountID, 60)
	sub, err := h.orch.Purchase(h.ctx, accountID, h.plan.ID)
	require.NoError(t, err)
	require.NoError(t, h.rad.DeleteAccount(h.ctx, sub.RemoteUsername))

	_, err = h.orch.Renew(h.ctx, sub.ID)
	require.ErrorIs(t, err, common.ErrProvisioningFailed)
	assert.ErrorIs(t, err, rad.ErrNotFound)
	h.assertBalance(accountID, "30")
}

func TestRenew_UsesLatestPlanVersion(t *testing.T) {
	h := newHarness(t)
	h.deposit(accountID, 100)
	sub, err := h.orch.Purchase(h.ctx, accountID, h.plan.ID)
	require.NoError(t, err)

	v2 := h.publish("month", 40)
	assert.Equal(t, 2, v2.Version)

	renewed, err := h.orch.Renew(h.ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, renewed.Plan.Version)
	assert.True(t, renewed.Plan.Price.Equal(decimal.NewFromInt(40)))
	h.assertBalance(accountID, "30")

	// старая версия больше не продаётся
	_, err = h.orch.Purchase(h.ctx, accountID, h.plan.ID)
	assert.ErrorIs(t, err, common.ErrPlanInactive)
}

func TestRenew_ReenablesAndResetsAllowance(t *testing.T) {
	h := newHarness(t)
	h.deposit(accountID, 60)
	sub, err := h.orch.Purchase(h.ctx, accountID, h.plan.ID)
	require.NoError(t, err)

	require.NoError(t, h.orch.Disable(h.ctx, adminID, sub.ID))
	h.rad.SetUsage(sub.RemoteUsername, 45*common.Gigabyte, 0)

	_, err = h.orch.Renew(h.ctx, sub.ID)
	require.NoError(t, err)

	st, err := h.rad.AccountStatus(h.ctx, sub.RemoteUsername)
	require.NoError(t, err)
	assert.True(t, st.Enabled)
	assert.Equal(t, 50*common.Gigabyte, st.RemainingBytes())
}

func TestRenew_GrantFailureRefundsAndDisablesAgain(t *testing.T) {
	h := newHarness(t)
	h.deposit(accountID, 60)
	sub, err := h.orch.Purchase(h.ctx, accountID, h.plan.ID)
	require.NoError(t, err)

	require.NoError(t, h.orch.Disable(h.ctx, adminID, sub.ID))
	h.rad.SetUsage(sub.RemoteUsername, 45*common.Gigabyte, 0)
	h.rad.Fail("grant_data", rad.ErrUnreachable, -1)

	_, err = h.orch.Renew(h.ctx, sub.ID)
	require.ErrorIs(t, err, common.ErrProvisioningFailed)
	assert.ErrorIs(t, err, ErrPartiallyApplied)

	var pe *ProvisioningError
	require.True(t, errors.As(err, &pe))
	op := h.op(pe.OperationID)
	assert.Equal(t, journal.StateCompensated, op.State)
	assert.Contains(t, op.Error, ErrPartiallyApplied.Error())

	h.assertBalance(accountID, "30")
	assert.True(t, h.sub(sub.ID).ExpiryAt.Equal(sub.ExpiryAt))

	st, err := h.rad.AccountStatus(h.ctx, sub.RemoteUsername)
	require.NoError(t, err)
	assert.False(t, st.Enabled)
	assert.Equal(t, 1, h.rad.Calls("extend"))
}

func TestRenew_ConcurrentRenewalsAreSerialised(t *testing.T) {
	h := newHarness(t)
	h.deposit(accountID, 90)
	sub, err := h.orch.Purchase(h.ctx, accountID, h.plan.ID)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.orch.Renew(h.ctx, sub.ID)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	// обе оплачены, каждая продлила от результата предыдущей
	assert.True(t, h.sub(sub.ID).ExpiryAt.Equal(sub.ExpiryAt.AddDate(0, 0, 60)))
	h.assertBalance(accountID, "0")
	assert.Equal(t, 2, h.rad.Calls("extend"))
}

func TestRenew_UnknownSubscription(t *testing.T) {
	h := newHarness(t)
	_, err := h.orch.Renew(h.ctx, 9999)
	assert.ErrorIs(t, err, common.ErrNotFound)
}
