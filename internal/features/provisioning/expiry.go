package provisioning

import (
	"context"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/vpn-shop/internal/features/entitlements"
	"serotonyl.ru/vpn-shop/internal/store"
)

// DisableExpired отключает на роутерах аккаунты истёкших подписок.
// Роутер сам следит за сроком профиля, проход страхует от рассинхрона
// после ручных правок на роутере. Возвращает число отключённых.
func (o *Orchestrator) DisableExpired(ctx context.Context) (int, error) {
	var subs []*entitlements.Subscription
	err := o.uow.Do(ctx, func(ctx context.Context, tx *store.Tx) error {
		var err error
		subs, err = tx.Entitlements.ListExpiring(ctx, o.now())
		return err
	})
	if err != nil {
		return 0, storageErr(err)
	}

	disabled := 0
	for _, sub := range subs {
		if ctx.Err() != nil {
			break
		}
		ok, err := o.disableExpired(ctx, sub)
		if err != nil {
			log.WithError(err).WithField("sub", sub.ID).Warn("Не удалось отключить истёкшую подписку")
			continue
		}
		if ok {
			disabled++
		}
	}
	if disabled > 0 {
		log.WithField("count", disabled).Info("Истёкшие подписки отключены")
	}
	return disabled, nil
}

func (o *Orchestrator) disableExpired(ctx context.Context, sub *entitlements.Subscription) (bool, error) {
	unlock, err := o.lockSub(ctx, sub.ID)
	if err != nil {
		return false, err
	}
	defer unlock()

	// подписку могли продлить, пока ждали блокировку
	var fresh *entitlements.Subscription
	err = o.uow.Do(ctx, func(ctx context.Context, tx *store.Tx) error {
		var err error
		fresh, err = tx.Entitlements.Get(ctx, sub.ID)
		return err
	})
	if err != nil {
		return false, err
	}
	if !fresh.Expired(o.now()) {
		return false, nil
	}

	dir, err := o.dirs.Get(ctx, fresh.BackendID)
	if err != nil {
		return false, err
	}
	st, err := dir.AccountStatus(ctx, fresh.RemoteUsername)
	if err != nil {
		return false, err
	}
	if !st.Exists || !st.Enabled {
		return false, nil
	}
	if err := dir.Disable(ctx, fresh.RemoteUsername); err != nil {
		return false, err
	}
	if err := dir.DisconnectSessions(ctx, fresh.RemoteUsername); err != nil {
		return false, err
	}
	return true, nil
}
