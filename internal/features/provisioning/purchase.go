package provisioning

import (
	"context"
	"errors"
	"fmt"
	"time"

	"serotonyl.ru/vpn-shop/internal/common"
	"serotonyl.ru/vpn-shop/internal/features/catalog"
	"serotonyl.ru/vpn-shop/internal/features/entitlements"
	"serotonyl.ru/vpn-shop/internal/features/journal"
	"serotonyl.ru/vpn-shop/internal/features/ledger"
	"serotonyl.ru/vpn-shop/internal/features/rad"
	"serotonyl.ru/vpn-shop/internal/store"
)

// Purchase покупает тариф planID для счёта accountID.
//
// Ошибки: common.ErrInsufficientFunds (ничего не записано, роутер не
// вызывался), common.ErrPlanInactive, *ProvisioningError (деньги
// возвращены, подписки нет).
func (o *Orchestrator) Purchase(ctx context.Context, accountID, planID int64) (*entitlements.Subscription, error) {
	return detach(o, ctx, "purchase", func(ctx context.Context) (*entitlements.Subscription, error) {
		return o.purchase(ctx, accountID, planID)
	})
}

func (o *Orchestrator) purchase(ctx context.Context, accountID, planID int64) (*entitlements.Subscription, error) {
	opID := o.newID()
	unlock, err := o.locks.Lock(ctx, opKey(opID))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrInternal, err)
	}
	defer unlock()

	op, pass, plan, err := o.reservePurchase(ctx, opID, accountID, planID)
	if err != nil {
		return nil, storageErr(err)
	}
	l := logOp(op)
	l.WithField("plan", plan.Name).Info("Покупка: средства зарезервированы")

	dir, err := o.dirs.Get(ctx, plan.BackendID)
	if err == nil {
		err = dir.CreateAccount(ctx, op.RemoteUsername, pass, plan.RemoteProfile)
	}
	if err != nil {
		l.WithError(err).Warn("Покупка: сервер доступа не создал аккаунт")
		return nil, o.compensate(ctx, dir, op, err, "refund: failed purchase")
	}

	sub, err := o.completePurchase(ctx, op, o.now())
	if err != nil {
		l.WithError(err).Error("Покупка: аккаунт создан, но подписка не записана")
		return nil, &ProvisioningError{
			Op:          string(op.Kind),
			OperationID: op.ID,
			Cause:       storageErr(err),
			MoneyMoved:  true,
			Pending:     true,
		}
	}

	l.WithField("sub", sub.ID).Info("Покупка завершена")
	o.emit(ctx, Event{
		Kind:           EventSubscriptionCreated,
		AccountID:      accountID,
		SubscriptionID: sub.ID,
		OperationID:    op.ID,
		Amount:         op.Amount,
		PlanName:       plan.Name,
		ExpiryAt:       sub.ExpiryAt,
	})
	return sub, nil
}

// reservePurchase списывает цену, занимает логин и пишет операцию в журнал.
// Занятый логин — редкость, тогда пробуем другой в новой транзакции.
func (o *Orchestrator) reservePurchase(ctx context.Context, opID string, accountID, planID int64) (*journal.Operation, string, *catalog.Plan, error) {
	for attempt := 1; ; attempt++ {
		username, err := newUsername()
		if err != nil {
			return nil, "", nil, err
		}
		pass, err := newSecret()
		if err != nil {
			return nil, "", nil, err
		}
		sealed, err := o.box.Seal(pass)
		if err != nil {
			return nil, "", nil, err
		}

		var (
			op   *journal.Operation
			plan *catalog.Plan
		)
		err = o.uow.Do(ctx, func(ctx context.Context, tx *store.Tx) error {
			p, err := tx.Catalog.GetPlan(ctx, planID)
			if err != nil {
				return err
			}
			if !p.Active {
				return fmt.Errorf("%w: %s", common.ErrPlanInactive, p.Name)
			}
			plan = p
			if _, err := tx.Ledger.EnsureAccount(ctx, accountID); err != nil {
				return err
			}
			if _, err := ledger.Debit(ctx, tx.Ledger, accountID, p.Price, ledger.KindPurchase, p.Name, opID); err != nil {
				return err
			}
			if err := tx.Entitlements.ReserveUsername(ctx, username); err != nil {
				return err
			}
			snap := p.Snapshot()
			op = &journal.Operation{
				ID:             opID,
				Kind:           journal.KindPurchase,
				State:          journal.StatePending,
				AccountID:      accountID,
				BackendID:      p.BackendID,
				RemoteUsername: username,
				Amount:         p.Price,
				Payload:        journal.Payload{Plan: &snap, Secret: sealed},
			}
			return tx.Journal.Insert(ctx, op)
		})
		if errors.Is(err, entitlements.ErrUsernameTaken) && attempt < maxUsernameAttempts {
			continue
		}
		if err != nil {
			return nil, "", nil, err
		}
		return op, pass, plan, nil
	}
}

// completePurchase создаёт подписку и закрывает операцию.
func (o *Orchestrator) completePurchase(ctx context.Context, op *journal.Operation, now time.Time) (*entitlements.Subscription, error) {
	snap := op.Payload.Plan
	if snap == nil {
		return nil, fmt.Errorf("операция %s без тарифа", op.ID)
	}
	sub := &entitlements.Subscription{
		OwnerAccountID: op.AccountID,
		BackendID:      op.BackendID,
		RemoteUsername: op.RemoteUsername,
		RemoteSecret:   op.Payload.Secret,
		Plan:           *snap,
		ExpiryAt:       now.AddDate(0, 0, snap.ValidityDays),
		TotalCapBytes:  snap.DataCapBytes,
	}
	err := o.uow.Do(ctx, func(ctx context.Context, tx *store.Tx) error {
		if _, err := journal.Finish(ctx, tx.Journal, op.ID, journal.StateCompleted, ""); err != nil {
			return err
		}
		if err := tx.Entitlements.Create(ctx, sub); err != nil {
			return err
		}
		return tx.Journal.SetSubscription(ctx, op.ID, sub.ID)
	})
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// compensate возвращает деньги по неудачной операции и отдаёт *ProvisioningError.
// Если сервер был недоступен, аккаунт мог создаться, поэтому операция
// помечается на удаление на роутере и удаление пробуется сразу.
func (o *Orchestrator) compensate(ctx context.Context, dir rad.Directory, op *journal.Operation, cause error, memo string) error {
	cleanup := op.Kind == journal.KindPurchase && dir != nil && rad.Retryable(cause)
	detail := rad.Detail(cause)
	if errors.Is(cause, ErrPartiallyApplied) {
		detail = ErrPartiallyApplied.Error() + ": " + detail
	}

	err := o.uow.Do(ctx, func(ctx context.Context, tx *store.Tx) error {
		if err := refund(ctx, tx, op, memo, detail); err != nil {
			return err
		}
		if cleanup {
			return tx.Journal.SetRemoteCleanup(ctx, op.ID, true)
		}
		return nil
	})
	moneyMoved := false
	if err != nil {
		// Операция осталась pending, её вернёт сверка.
		logOp(op).WithError(err).Error("Не удалось вернуть средства")
		moneyMoved = op.Amount.IsPositive()
	} else {
		compensationsTotal.WithLabelValues(string(op.Kind)).Inc()
		logOp(op).WithField("amount", op.Amount.String()).Info("Средства возвращены")
	}

	if cleanup && err == nil {
		o.cleanupRemote(ctx, dir, op)
	}

	o.emit(ctx, Event{
		Kind:           EventProvisioningFailed,
		AccountID:      op.AccountID,
		SubscriptionID: op.SubscriptionID,
		OperationID:    op.ID,
		Amount:         op.Amount,
		Detail:         detail,
	})
	return &ProvisioningError{
		Op:            string(op.Kind),
		OperationID:   op.ID,
		Cause:         cause,
		BackendDetail: detail,
		MoneyMoved:    moneyMoved,
	}
}

// cleanupRemote удаляет аккаунт, который мог остаться на роутере.
// Неудача не страшна: флаг remote_cleanup остаётся, повторит сверка.
func (o *Orchestrator) cleanupRemote(ctx context.Context, dir rad.Directory, op *journal.Operation) bool {
	if err := dir.DeleteAccount(ctx, op.RemoteUsername); err != nil {
		logOp(op).WithError(err).Warn("Не удалось удалить аккаунт на роутере, повторим при сверке")
		return false
	}
	err := o.uow.Do(ctx, func(ctx context.Context, tx *store.Tx) error {
		return tx.Journal.SetRemoteCleanup(ctx, op.ID, false)
	})
	if err != nil {
		logOp(op).WithError(err).Warn("Не удалось снять флаг remote_cleanup")
		return false
	}
	return true
}
