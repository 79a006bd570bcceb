package dialog

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/vpn-shop/internal/features/entitlements"
	"serotonyl.ru/vpn-shop/internal/features/receipts"
)

// Shop — операции ядра, которые запускает диалог.
type Shop interface {
	Purchase(ctx context.Context, accountID, planID int64) (*entitlements.Subscription, error)
	Renew(ctx context.Context, subscriptionID int64) (*entitlements.Subscription, error)
	SubmitReceipt(ctx context.Context, accountID int64, amount decimal.Decimal, evidenceRef string) (*receipts.Receipt, error)
}

// Driver ведёт диалог и на финальном шаге вызывает ядро.
// Результат вызова возвращается как есть, отрисовка на фронтенде.
type Driver struct {
	sessions *Sessions
	shop     Shop
}

// NewDriver создаёт Driver.
func NewDriver(sessions *Sessions, shop Shop) *Driver {
	return &Driver{sessions: sessions, shop: shop}
}

// Sessions — хранилище диалогов.
func (d *Driver) Sessions() *Sessions {
	return d.sessions
}

// Start начинает сценарий: buy, renew или top_up.
func (d *Driver) Start(userID int64, flow Event) (Session, error) {
	return d.sessions.Fire(userID, flow, nil)
}

// PickPlan запоминает выбранный тариф.
func (d *Driver) PickPlan(userID, planID int64) (Session, error) {
	if cur := d.sessions.Get(userID); cur.State != StateChoosingPlan {
		return cur, fmt.Errorf("%w: тариф выбирают в состоянии %q", ErrBadTransition, StateChoosingPlan)
	}
	return d.sessions.Fire(userID, EventPicked, func(s *Session) { s.PlanID = planID })
}

// PickSubscription запоминает подписку для продления.
func (d *Driver) PickSubscription(userID, subID int64) (Session, error) {
	if cur := d.sessions.Get(userID); cur.State != StateChoosingSub {
		return cur, fmt.Errorf("%w: подписку выбирают в состоянии %q", ErrBadTransition, StateChoosingSub)
	}
	return d.sessions.Fire(userID, EventPicked, func(s *Session) { s.SubscriptionID = subID })
}

// EnterAmount запоминает сумму пополнения.
func (d *Driver) EnterAmount(userID int64, raw string) (Session, error) {
	amount, err := decimal.NewFromString(raw)
	if err != nil || !amount.IsPositive() {
		return d.sessions.Get(userID), fmt.Errorf("сумма %q не распознана", raw)
	}
	return d.sessions.Fire(userID, EventAmountEntered, func(s *Session) { s.Amount = amount.String() })
}

// Confirm подтверждает покупку или продление и вызывает ядро.
func (d *Driver) Confirm(ctx context.Context, userID int64) (Session, *entitlements.Subscription, error) {
	sess, err := d.sessions.Fire(userID, EventConfirm, nil)
	if err != nil {
		return sess, nil, err
	}

	var sub *entitlements.Subscription
	var callErr error
	switch sess.Flow {
	case EventBuy:
		sub, callErr = d.shop.Purchase(ctx, userID, sess.PlanID)
	case EventRenew:
		sub, callErr = d.shop.Renew(ctx, sess.SubscriptionID)
	default:
		callErr = fmt.Errorf("%w: подтверждение в сценарии %q", ErrBadTransition, sess.Flow)
	}
	next, err := d.finish(userID, sess, callErr)
	if err != nil {
		return next, nil, err
	}
	return next, sub, callErr
}

// SendReceipt отправляет чек с суммой из диалога.
func (d *Driver) SendReceipt(ctx context.Context, userID int64, evidenceRef string) (Session, *receipts.Receipt, error) {
	sess, err := d.sessions.Fire(userID, EventReceiptSent, nil)
	if err != nil {
		return sess, nil, err
	}
	amount, _ := decimal.NewFromString(sess.Amount)
	r, callErr := d.shop.SubmitReceipt(ctx, userID, amount, evidenceRef)
	next, err := d.finish(userID, sess, callErr)
	if err != nil {
		return next, nil, err
	}
	return next, r, callErr
}

// Cancel прерывает диалог.
func (d *Driver) Cancel(userID int64) (Session, error) {
	return d.sessions.Fire(userID, EventCancel, nil)
}

// finish переводит диалог из processing по результату ядра.
func (d *Driver) finish(userID int64, sess Session, callErr error) (Session, error) {
	ev := Outcome(callErr)
	next, err := d.sessions.Fire(userID, ev, func(s *Session) {
		if ev == EventNoFunds {
			s.Flow = EventTopUp
		}
	})
	if err != nil {
		d.sessions.Clear(userID)
		return Session{State: StateIdle}, err
	}
	if callErr != nil {
		log.WithFields(log.Fields{"user": userID, "flow": sess.Flow, "state": next.State}).
			WithError(callErr).Info("Диалог: операция не выполнена")
	}
	return next, nil
}
