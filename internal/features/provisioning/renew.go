package provisioning

import (
	"context"
	"fmt"
	"time"

	"serotonyl.ru/vpn-shop/internal/features/entitlements"
	"serotonyl.ru/vpn-shop/internal/features/journal"
	"serotonyl.ru/vpn-shop/internal/features/ledger"
	"serotonyl.ru/vpn-shop/internal/features/rad"
	"serotonyl.ru/vpn-shop/internal/store"
)

// Renew продлевает подписку по актуальной версии её тарифа.
// Новый срок считается от текущего, если он не истёк, иначе от now.
// Пока роутер не подтвердил продление, локальный срок не меняется.
func (o *Orchestrator) Renew(ctx context.Context, subscriptionID int64) (*entitlements.Subscription, error) {
	return detach(o, ctx, "renewal", func(ctx context.Context) (*entitlements.Subscription, error) {
		return o.renew(ctx, subscriptionID)
	})
}

func (o *Orchestrator) renew(ctx context.Context, subID int64) (*entitlements.Subscription, error) {
	unlock, err := o.lockSub(ctx, subID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	opID := o.newID()
	now := o.now()
	var op *journal.Operation
	err = o.uow.Do(ctx, func(ctx context.Context, tx *store.Tx) error {
		sub, err := tx.Entitlements.Get(ctx, subID)
		if err != nil {
			return err
		}
		plan, err := tx.Catalog.LatestInFamily(ctx, sub.Plan.Family, sub.BackendID)
		if err != nil {
			return err
		}
		if _, err := ledger.Debit(ctx, tx.Ledger, sub.OwnerAccountID, plan.Price, ledger.KindRenewal, plan.Name, opID); err != nil {
			return err
		}
		snap := plan.Snapshot()
		expiry := nextExpiry(sub.ExpiryAt, now, plan.ValidityDays)
		op = &journal.Operation{
			ID:             opID,
			Kind:           journal.KindRenewal,
			State:          journal.StatePending,
			AccountID:      sub.OwnerAccountID,
			SubscriptionID: sub.ID,
			BackendID:      sub.BackendID,
			RemoteUsername: sub.RemoteUsername,
			Amount:         plan.Price,
			Payload: journal.Payload{
				Plan:        &snap,
				NewExpiry:   &expiry,
				NewCapBytes: plan.DataCapBytes,
				Days:        plan.ValidityDays,
			},
		}
		return tx.Journal.Insert(ctx, op)
	})
	if err != nil {
		return nil, storageErr(err)
	}
	l := logOp(op)
	l.Info("Продление: средства зарезервированы")

	dir, err := o.dirs.Get(ctx, op.BackendID)
	if err == nil {
		err = applyRenewal(ctx, dir, op)
	}
	if err != nil {
		l.WithError(err).Warn("Продление: сервер доступа не применил изменение")
		return nil, o.compensate(ctx, dir, op, err, "refund: failed renewal")
	}

	sub, err := o.completeRenewal(ctx, op, now)
	if err != nil {
		l.WithError(err).Error("Продление: применено на роутере, но не записано")
		return nil, &ProvisioningError{
			Op:          string(op.Kind),
			OperationID: op.ID,
			Cause:       storageErr(err),
			MoneyMoved:  true,
			Pending:     true,
		}
	}

	l.WithField("expiry", sub.ExpiryAt).Info("Продление завершено")
	o.emit(ctx, Event{
		Kind:           EventSubscriptionRenewed,
		AccountID:      sub.OwnerAccountID,
		SubscriptionID: sub.ID,
		OperationID:    op.ID,
		Amount:         op.Amount,
		PlanName:       sub.Plan.Name,
		ExpiryAt:       sub.ExpiryAt,
	})
	return sub, nil
}

// applyRenewal включает аккаунт, продлевает срок и выдаёт свежий лимит.
// Лимит не накопительный: после продления остаток равен лимиту тарифа.
// Продление и выдача трафика идемпотентны по ID операции.
func applyRenewal(ctx context.Context, dir rad.Directory, op *journal.Operation) error {
	st, err := dir.AccountStatus(ctx, op.RemoteUsername)
	if err != nil {
		return err
	}
	if !st.Exists {
		return rad.NewError("status", "", rad.ErrNotFound, nil, op.RemoteUsername)
	}
	if !st.Enabled {
		if err := dir.Enable(ctx, op.RemoteUsername); err != nil {
			return err
		}
	}
	if err := dir.ExtendValidity(ctx, op.RemoteUsername, op.Payload.Days, op.ID); err != nil {
		return err
	}
	if capBytes := op.Payload.NewCapBytes; capBytes > 0 {
		grant := st.UsedBytes + capBytes - st.AllowanceBytes
		if grant > 0 {
			if err := dir.GrantAdditionalData(ctx, op.RemoteUsername, grant, op.ID); err != nil {
				if !st.Enabled {
					// До продления аккаунт был выключен, выключаем обратно.
					if derr := dir.Disable(ctx, op.RemoteUsername); derr != nil {
						logOp(op).WithError(derr).Warn("Продление: не удалось снова выключить аккаунт")
					}
				}
				return fmt.Errorf("%w: %w", ErrPartiallyApplied, err)
			}
		}
	}
	return nil
}

func (o *Orchestrator) completeRenewal(ctx context.Context, op *journal.Operation, renewedAt time.Time) (*entitlements.Subscription, error) {
	var sub *entitlements.Subscription
	err := o.uow.Do(ctx, func(ctx context.Context, tx *store.Tx) error {
		if _, err := journal.Finish(ctx, tx.Journal, op.ID, journal.StateCompleted, ""); err != nil {
			return err
		}
		term := entitlements.Term{
			Plan:          *op.Payload.Plan,
			ExpiryAt:      *op.Payload.NewExpiry,
			TotalCapBytes: op.Payload.NewCapBytes,
			RenewedAt:     &renewedAt,
		}
		if err := tx.Entitlements.UpdateExpiry(ctx, op.SubscriptionID, term); err != nil {
			return err
		}
		s, err := tx.Entitlements.Get(ctx, op.SubscriptionID)
		sub = s
		return err
	})
	return sub, err
}
