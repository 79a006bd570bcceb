package provisioning

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/vpn-shop/internal/common"
	"serotonyl.ru/vpn-shop/internal/features/catalog"
	"serotonyl.ru/vpn-shop/internal/features/rad"
	"serotonyl.ru/vpn-shop/internal/store"
)

// CreateBackend регистрирует роутер. Пароль сохраняется зашифрованным.
func (o *Orchestrator) CreateBackend(ctx context.Context, actor int64, b *catalog.Backend, password string) (*catalog.Backend, error) {
	if err := o.requireAdmin(ctx, actor); err != nil {
		return nil, err
	}
	sealed, err := o.box.Seal(password)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrInternal, err)
	}
	b.Password = sealed
	err = o.uow.Do(ctx, func(ctx context.Context, tx *store.Tx) error {
		return tx.Catalog.CreateBackend(ctx, b)
	})
	if err != nil {
		return nil, storageErr(err)
	}
	log.WithFields(log.Fields{"backend": b.Name, "host": b.Host, "actor": actor}).Info("Сервер доступа добавлен")
	return b, nil
}

// PublishPlan сохраняет новую версию тарифа и создаёт его профиль на роутере.
// Старые версии семейства отключаются: продления пойдут по новой.
func (o *Orchestrator) PublishPlan(ctx context.Context, actor int64, p *catalog.Plan) (*catalog.Plan, error) {
	if err := o.requireAdmin(ctx, actor); err != nil {
		return nil, err
	}
	// Бесплатных тарифов нет: в таблице plans стоит CHECK (price > 0).
	if !p.Price.IsPositive() || p.ValidityDays <= 0 || p.DataCapBytes < 0 {
		return nil, common.ErrInvalidAmount
	}
	dir, err := o.dirs.Get(ctx, p.BackendID)
	if err == nil {
		err = dir.EnsureProfile(ctx, profileSpec(p))
	}
	if err != nil {
		return nil, &ProvisioningError{Op: "publish_plan", Cause: err, BackendDetail: rad.Detail(err)}
	}

	p.Active = true
	err = o.uow.Do(ctx, func(ctx context.Context, tx *store.Tx) error {
		prev, err := tx.Catalog.LatestInFamily(ctx, p.Family, p.BackendID)
		switch {
		case err == nil:
			if err := tx.Catalog.SetPlanActive(ctx, prev.ID, false); err != nil {
				return err
			}
		case !errors.Is(err, common.ErrPlanInactive):
			return err
		}
		return tx.Catalog.CreatePlan(ctx, p)
	})
	if err != nil {
		return nil, storageErr(err)
	}
	log.WithFields(log.Fields{"plan": p.Name, "family": p.Family, "version": p.Version, "actor": actor}).Info("Тариф опубликован")
	return p, nil
}

// SetPlanActive включает или выключает версию тарифа.
func (o *Orchestrator) SetPlanActive(ctx context.Context, actor, planID int64, active bool) error {
	if err := o.requireAdmin(ctx, actor); err != nil {
		return err
	}
	err := o.uow.Do(ctx, func(ctx context.Context, tx *store.Tx) error {
		return tx.Catalog.SetPlanActive(ctx, planID, active)
	})
	return storageErr(err)
}

// SyncProfiles создаёт на роутерах профили всех активных тарифов.
// Вызывается при старте; недоступный роутер не мешает остальным.
func (o *Orchestrator) SyncProfiles(ctx context.Context) error {
	plans, err := o.Plans(ctx)
	if err != nil {
		return err
	}
	var failed int
	for _, p := range plans {
		dir, err := o.dirs.Get(ctx, p.BackendID)
		if err == nil {
			err = dir.EnsureProfile(ctx, profileSpec(p))
		}
		if err != nil {
			failed++
			log.WithError(err).WithField("plan", p.Name).Warn("Не удалось синхронизировать профиль тарифа")
		}
	}
	if failed > 0 {
		return fmt.Errorf("не синхронизировано профилей: %d из %d", failed, len(plans))
	}
	return nil
}

func profileSpec(p *catalog.Plan) rad.ProfileSpec {
	return rad.ProfileSpec{
		Name:         p.RemoteProfile,
		ValidityDays: p.ValidityDays,
		DataCapBytes: p.DataCapBytes,
		RateLimit:    p.RateLimit,
	}
}
