package dialog

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serotonyl.ru/vpn-shop/internal/common"
	"serotonyl.ru/vpn-shop/internal/features/entitlements"
	"serotonyl.ru/vpn-shop/internal/features/receipts"
)

func TestNext_Table(t *testing.T) {
	cases := []struct {
		from State
		ev   Event
		to   State
	}{
		{StateIdle, EventBuy, StateChoosingPlan},
		{StateChoosingPlan, EventPicked, StateConfirmPurchase},
		{StateConfirmPurchase, EventConfirm, StateProcessing},
		{StateProcessing, EventSucceeded, StateIdle},
		{StateProcessing, EventNoFunds, StateAwaitingAmount},
		{StateProcessing, EventPlanUnavailable, StateChoosingPlan},
		{StateIdle, EventTopUp, StateAwaitingAmount},
		{StateAwaitingAmount, EventAmountEntered, StateAwaitingReceipt},
		{StateAwaitingReceipt, EventReceiptSent, StateProcessing},
		{StateConfirmRenewal, EventCancel, StateIdle},
	}
	for _, c := range cases {
		t.Run(fmt.Sprintf("%s/%s", c.from, c.ev), func(t *testing.T) {
			to, err := Next(c.from, c.ev)
			require.NoError(t, err)
			assert.Equal(t, c.to, to)
		})
	}
}

func TestNext_Rejects(t *testing.T) {
	_, err := Next(StateIdle, EventConfirm)
	assert.ErrorIs(t, err, ErrBadTransition)

	_, err = Next(StateChoosingPlan, EventReceiptSent)
	assert.ErrorIs(t, err, ErrBadTransition)

	// пока ядро работает, отменить нельзя
	to, err := Next(StateProcessing, EventCancel)
	assert.ErrorIs(t, err, ErrBadTransition)
	assert.Equal(t, StateProcessing, to)
}

func TestOutcome(t *testing.T) {
	assert.Equal(t, EventSucceeded, Outcome(nil))
	assert.Equal(t, EventNoFunds, Outcome(fmt.Errorf("списание: %w", common.ErrInsufficientFunds)))
	assert.Equal(t, EventPlanUnavailable, Outcome(common.ErrPlanInactive))
	assert.Equal(t, EventFailed, Outcome(common.ErrProvisioningFailed))
	assert.Equal(t, EventFailed, Outcome(context.Canceled))
}

func TestSessions_Expire(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewSessions()
	s.SetClock(func() time.Time { return now })

	_, err := s.Fire(1, EventBuy, nil)
	require.NoError(t, err)
	assert.Equal(t, StateChoosingPlan, s.Get(1).State)

	now = now.Add(6 * time.Minute)
	assert.Equal(t, StateIdle, s.Get(1).State)
	assert.Equal(t, 1, s.Sweep())

	// после истечения диалог начинается заново
	_, err = s.Fire(1, EventPicked, nil)
	assert.ErrorIs(t, err, ErrBadTransition)
}

type fakeShop struct {
	purchaseErr error
	purchased   []int64
	renewed     []int64
	receipts    []decimal.Decimal
}

func (f *fakeShop) Purchase(_ context.Context, _ int64, planID int64) (*entitlements.Subscription, error) {
	f.purchased = append(f.purchased, planID)
	if f.purchaseErr != nil {
		return nil, f.purchaseErr
	}
	return &entitlements.Subscription{ID: 1, OwnerAccountID: 10}, nil
}

func (f *fakeShop) Renew(_ context.Context, subID int64) (*entitlements.Subscription, error) {
	f.renewed = append(f.renewed, subID)
	return &entitlements.Subscription{ID: subID}, nil
}

func (f *fakeShop) SubmitReceipt(_ context.Context, accountID int64, amount decimal.Decimal, _ string) (*receipts.Receipt, error) {
	f.receipts = append(f.receipts, amount)
	return &receipts.Receipt{ID: 7, AccountID: accountID, ClaimedAmount: amount}, nil
}

func TestDriver_Purchase(t *testing.T) {
	shop := &fakeShop{}
	d := NewDriver(NewSessions(), shop)

	_, err := d.Start(10, EventBuy)
	require.NoError(t, err)
	_, err = d.PickPlan(10, 3)
	require.NoError(t, err)

	sess, sub, err := d.Confirm(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, StateIdle, sess.State)
	assert.Equal(t, int64(10), sub.OwnerAccountID)
	assert.Equal(t, []int64{3}, shop.purchased)
	assert.Equal(t, StateIdle, d.Sessions().Get(10).State)
}

func TestDriver_NoFundsLeadsToTopUp(t *testing.T) {
	shop := &fakeShop{purchaseErr: fmt.Errorf("purchase: %w", common.ErrInsufficientFunds)}
	d := NewDriver(NewSessions(), shop)

	_, err := d.Start(10, EventBuy)
	require.NoError(t, err)
	_, err = d.PickPlan(10, 3)
	require.NoError(t, err)

	sess, _, err := d.Confirm(context.Background(), 10)
	assert.ErrorIs(t, err, common.ErrInsufficientFunds)
	assert.Equal(t, StateAwaitingAmount, sess.State)
	assert.Equal(t, EventTopUp, sess.Flow)

	_, err = d.EnterAmount(10, "abc")
	assert.Error(t, err)
	_, err = d.EnterAmount(10, "10.50")
	require.NoError(t, err)

	sess, r, err := d.SendReceipt(context.Background(), 10, "photo-id")
	require.NoError(t, err)
	assert.Equal(t, StateIdle, sess.State)
	assert.True(t, r.ClaimedAmount.Equal(decimal.RequireFromString("10.5")))
}

func TestDriver_Renew(t *testing.T) {
	shop := &fakeShop{}
	d := NewDriver(NewSessions(), shop)

	_, err := d.PickSubscription(10, 5)
	assert.True(t, errors.Is(err, ErrBadTransition))

	_, err = d.Start(10, EventRenew)
	require.NoError(t, err)
	_, err = d.PickSubscription(10, 5)
	require.NoError(t, err)
	_, _, err = d.Confirm(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, []int64{5}, shop.renewed)
}

func TestDriver_Cancel(t *testing.T) {
	d := NewDriver(NewSessions(), &fakeShop{})
	_, err := d.Start(10, EventTopUp)
	require.NoError(t, err)
	sess, err := d.Cancel(10)
	require.NoError(t, err)
	assert.Equal(t, StateIdle, sess.State)
}
