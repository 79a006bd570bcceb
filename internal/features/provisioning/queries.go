package provisioning

import (
	"context"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/vpn-shop/internal/features/catalog"
	"serotonyl.ru/vpn-shop/internal/features/entitlements"
	"serotonyl.ru/vpn-shop/internal/features/ledger"
	"serotonyl.ru/vpn-shop/internal/features/rad"
	"serotonyl.ru/vpn-shop/internal/store"
)

// SubscriptionView — подписка вместе с тем, что о ней знает роутер.
type SubscriptionView struct {
	Subscription *entitlements.Subscription
	Secret       string
	Expired      bool
	DaysLeft     int
	// Remote — nil, если роутер не ответил; причина в RemoteError.
	Remote      *rad.AccountStatus
	RemoteError string
}

// Balance возвращает баланс счёта.
func (o *Orchestrator) Balance(ctx context.Context, accountID int64) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := o.uow.Do(ctx, func(ctx context.Context, tx *store.Tx) error {
		acc, err := tx.Ledger.GetAccount(ctx, accountID)
		if err != nil {
			return err
		}
		balance = acc.Balance
		return nil
	})
	return balance, storageErr(err)
}

// Subscriptions — подписки счёта.
func (o *Orchestrator) Subscriptions(ctx context.Context, accountID int64) ([]*entitlements.Subscription, error) {
	var out []*entitlements.Subscription
	err := o.uow.Do(ctx, func(ctx context.Context, tx *store.Tx) error {
		var err error
		out, err = tx.Entitlements.ListForAccount(ctx, accountID)
		return err
	})
	return out, storageErr(err)
}

// History — последние проводки счёта, новые первыми.
func (o *Orchestrator) History(ctx context.Context, accountID int64, limit int) ([]*ledger.Entry, error) {
	var out []*ledger.Entry
	err := o.uow.Do(ctx, func(ctx context.Context, tx *store.Tx) error {
		var err error
		out, err = tx.Ledger.ListEntries(ctx, accountID, limit)
		return err
	})
	return out, storageErr(err)
}

// Plans — активные тарифы.
func (o *Orchestrator) Plans(ctx context.Context) ([]*catalog.Plan, error) {
	var out []*catalog.Plan
	err := o.uow.Do(ctx, func(ctx context.Context, tx *store.Tx) error {
		var err error
		out, err = tx.Catalog.ListActivePlans(ctx)
		return err
	})
	return out, storageErr(err)
}

// SubscriptionStatus — локальная запись плюс живое состояние с роутера.
// Недоступный роутер не ошибка: вид возвращается без Remote.
func (o *Orchestrator) SubscriptionStatus(ctx context.Context, subID int64) (*SubscriptionView, error) {
	var sub *entitlements.Subscription
	err := o.uow.Do(ctx, func(ctx context.Context, tx *store.Tx) error {
		var err error
		sub, err = tx.Entitlements.Get(ctx, subID)
		return err
	})
	if err != nil {
		return nil, storageErr(err)
	}

	now := o.now()
	view := &SubscriptionView{
		Subscription: sub,
		Expired:      sub.Expired(now),
		DaysLeft:     sub.DaysLeft(now),
	}
	if pass, err := o.box.Open(sub.RemoteSecret); err == nil {
		view.Secret = pass
	} else {
		log.WithError(err).WithField("sub", sub.ID).Warn("Не удалось расшифровать пароль подписки")
	}

	dir, err := o.dirs.Get(ctx, sub.BackendID)
	if err == nil {
		view.Remote, err = dir.AccountStatus(ctx, sub.RemoteUsername)
	}
	if err != nil {
		view.Remote = nil
		view.RemoteError = rad.Detail(err)
	}
	return view, nil
}
