package provisioning

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/vpn-shop/internal/common"
	"serotonyl.ru/vpn-shop/internal/features/entitlements"
	"serotonyl.ru/vpn-shop/internal/features/journal"
	"serotonyl.ru/vpn-shop/internal/features/ledger"
	"serotonyl.ru/vpn-shop/internal/features/rad"
	"serotonyl.ru/vpn-shop/internal/store"
)

// AdjustBalance выставляет баланс счёта в newBalance.
// Пишется проводка manual_adjustment на разницу, баланс не перезаписывается вслепую.
func (o *Orchestrator) AdjustBalance(ctx context.Context, actor, accountID int64, newBalance decimal.Decimal, reason string) (decimal.Decimal, error) {
	if err := o.requireAdmin(ctx, actor); err != nil {
		return decimal.Zero, err
	}
	if newBalance.IsNegative() {
		return decimal.Zero, common.ErrInvalidAmount
	}
	return detach(o, ctx, string(journal.KindAdminBalance), func(ctx context.Context) (decimal.Decimal, error) {
		opID := o.newID()
		var balance decimal.Decimal
		err := o.uow.Do(ctx, func(ctx context.Context, tx *store.Tx) error {
			if _, err := tx.Ledger.EnsureAccount(ctx, accountID); err != nil {
				return err
			}
			// Разница в журнале должна совпасть с проводкой: читаем под блокировкой.
			acc, err := tx.Ledger.LockAccount(ctx, accountID)
			if err != nil {
				return err
			}
			op := &journal.Operation{
				ID:        opID,
				Kind:      journal.KindAdminBalance,
				State:     journal.StateCompleted,
				AccountID: accountID,
				Amount:    newBalance.Sub(acc.Balance),
				Payload:   journal.Payload{Actor: actor, Reason: reason},
			}
			if err := tx.Journal.Insert(ctx, op); err != nil {
				return err
			}
			memo := fmt.Sprintf("admin %d", actor)
			if reason != "" {
				memo += ": " + reason
			}
			balance, err = ledger.Adjust(ctx, tx.Ledger, accountID, newBalance, memo, opID)
			return err
		})
		if err != nil {
			return decimal.Zero, storageErr(err)
		}
		logOp(&journal.Operation{ID: opID, Kind: journal.KindAdminBalance, AccountID: accountID}).
			WithFields(log.Fields{"actor": actor, "balance": balance.String()}).
			Info("Баланс изменён администратором")
		return balance, nil
	})
}

// adminEdit — общий путь админских правок подписки:
// журнал pending → изменение на роутере → подтверждение локально.
// При отказе роутера локальная запись не меняется, операция failed.
type adminEdit struct {
	kind    journal.Kind
	payload journal.Payload
	remote  func(ctx context.Context, dir rad.Directory, sub *entitlements.Subscription, op *journal.Operation) error
	commit  func(ctx context.Context, tx *store.Tx, sub *entitlements.Subscription, op *journal.Operation) error
}

func (o *Orchestrator) runAdminEdit(ctx context.Context, actor, subID int64, e adminEdit) (*entitlements.Subscription, error) {
	if err := o.requireAdmin(ctx, actor); err != nil {
		return nil, err
	}
	return detach(o, ctx, string(e.kind), func(ctx context.Context) (*entitlements.Subscription, error) {
		unlock, err := o.lockSub(ctx, subID)
		if err != nil {
			return nil, err
		}
		defer unlock()

		e.payload.Actor = actor
		var (
			sub *entitlements.Subscription
			op  *journal.Operation
		)
		err = o.uow.Do(ctx, func(ctx context.Context, tx *store.Tx) error {
			s, err := tx.Entitlements.Get(ctx, subID)
			if err != nil {
				return err
			}
			sub = s
			op = &journal.Operation{
				ID:             o.newID(),
				Kind:           e.kind,
				State:          journal.StatePending,
				AccountID:      s.OwnerAccountID,
				SubscriptionID: s.ID,
				BackendID:      s.BackendID,
				RemoteUsername: s.RemoteUsername,
				Payload:        e.payload,
			}
			return tx.Journal.Insert(ctx, op)
		})
		if err != nil {
			return nil, storageErr(err)
		}
		l := logOp(op).WithField("actor", actor)

		dir, err := o.dirs.Get(ctx, sub.BackendID)
		if err == nil {
			err = e.remote(ctx, dir, sub, op)
		}
		if err != nil {
			l.WithError(err).Warn("Админ-операция: сервер доступа не применил изменение")
			o.failOp(ctx, op, rad.Detail(err))
			return nil, &ProvisioningError{
				Op:            string(op.Kind),
				OperationID:   op.ID,
				Cause:         err,
				BackendDetail: rad.Detail(err),
			}
		}

		var out *entitlements.Subscription
		err = o.uow.Do(ctx, func(ctx context.Context, tx *store.Tx) error {
			if _, err := journal.Finish(ctx, tx.Journal, op.ID, journal.StateCompleted, ""); err != nil {
				return err
			}
			if e.commit == nil {
				out = sub
				return nil
			}
			if err := e.commit(ctx, tx, sub, op); err != nil {
				return err
			}
			if e.kind == journal.KindAdminDelete {
				return nil
			}
			s, err := tx.Entitlements.Get(ctx, subID)
			out = s
			return err
		})
		if err != nil {
			l.WithError(err).Error("Админ-операция: применено на роутере, но не записано")
			return nil, &ProvisioningError{
				Op:          string(op.Kind),
				OperationID: op.ID,
				Cause:       storageErr(err),
				Pending:     true,
			}
		}
		l.Info("Админ-операция выполнена")
		if e.kind == journal.KindAdminExtend || e.kind == journal.KindAdminGrantData {
			o.emit(ctx, Event{
				Kind:           EventSubscriptionGifted,
				AccountID:      out.OwnerAccountID,
				SubscriptionID: out.ID,
				OperationID:    op.ID,
				PlanName:       out.Plan.Name,
				ExpiryAt:       out.ExpiryAt,
				Days:           e.payload.Days,
				GrantBytes:     e.payload.GrantBytes,
			})
		}
		return out, nil
	})
}

// failOp закрывает операцию без денег как failed.
func (o *Orchestrator) failOp(ctx context.Context, op *journal.Operation, reason string) {
	err := o.uow.Do(ctx, func(ctx context.Context, tx *store.Tx) error {
		_, err := journal.Finish(ctx, tx.Journal, op.ID, journal.StateFailed, reason)
		return err
	})
	if err != nil {
		logOp(op).WithError(err).Error("Не удалось закрыть операцию")
	}
}

// ResetSecret выдаёт новый пароль VPN-аккаунта и возвращает его.
func (o *Orchestrator) ResetSecret(ctx context.Context, actor, subID int64) (string, error) {
	pass, err := newSecret()
	if err != nil {
		return "", fmt.Errorf("%w: %v", common.ErrInternal, err)
	}
	sealed, err := o.box.Seal(pass)
	if err != nil {
		return "", fmt.Errorf("%w: %v", common.ErrInternal, err)
	}
	_, err = o.runAdminEdit(ctx, actor, subID, adminEdit{
		kind:    journal.KindAdminResetSecret,
		payload: journal.Payload{Secret: sealed},
		remote: func(ctx context.Context, dir rad.Directory, sub *entitlements.Subscription, _ *journal.Operation) error {
			return dir.ResetSecret(ctx, sub.RemoteUsername, pass)
		},
		commit: func(ctx context.Context, tx *store.Tx, sub *entitlements.Subscription, _ *journal.Operation) error {
			return tx.Entitlements.UpdateCredentials(ctx, sub.ID, sealed)
		},
	})
	if err != nil {
		return "", err
	}
	return pass, nil
}

// Disable отключает аккаунт на роутере и рвёт активные сессии.
func (o *Orchestrator) Disable(ctx context.Context, actor, subID int64) error {
	_, err := o.runAdminEdit(ctx, actor, subID, adminEdit{
		kind: journal.KindAdminDisable,
		remote: func(ctx context.Context, dir rad.Directory, sub *entitlements.Subscription, _ *journal.Operation) error {
			if err := dir.Disable(ctx, sub.RemoteUsername); err != nil {
				return err
			}
			return dir.DisconnectSessions(ctx, sub.RemoteUsername)
		},
	})
	return err
}

// Enable включает аккаунт на роутере.
func (o *Orchestrator) Enable(ctx context.Context, actor, subID int64) error {
	_, err := o.runAdminEdit(ctx, actor, subID, adminEdit{
		kind: journal.KindAdminEnable,
		remote: func(ctx context.Context, dir rad.Directory, sub *entitlements.Subscription, _ *journal.Operation) error {
			return dir.Enable(ctx, sub.RemoteUsername)
		},
	})
	return err
}

// ExtendExpiry бесплатно продлевает подписку на days дней по тем же правилам,
// что и обычное продление.
func (o *Orchestrator) ExtendExpiry(ctx context.Context, actor, subID int64, days int) (*entitlements.Subscription, error) {
	if days <= 0 {
		return nil, fmt.Errorf("%w: дней должно быть больше нуля", common.ErrInvalidAmount)
	}
	return o.runAdminEdit(ctx, actor, subID, adminEdit{
		kind:    journal.KindAdminExtend,
		payload: journal.Payload{Days: days},
		remote: func(ctx context.Context, dir rad.Directory, sub *entitlements.Subscription, op *journal.Operation) error {
			return dir.ExtendValidity(ctx, sub.RemoteUsername, days, op.ID)
		},
		commit: func(ctx context.Context, tx *store.Tx, sub *entitlements.Subscription, _ *journal.Operation) error {
			return tx.Entitlements.UpdateExpiry(ctx, sub.ID, entitlements.Term{
				Plan:          sub.Plan,
				ExpiryAt:      nextExpiry(sub.ExpiryAt, o.now(), days),
				TotalCapBytes: sub.TotalCapBytes,
			})
		},
	})
}

// GrantData добавляет трафик к лимиту подписки.
func (o *Orchestrator) GrantData(ctx context.Context, actor, subID int64, bytes int64) (*entitlements.Subscription, error) {
	if bytes <= 0 {
		return nil, fmt.Errorf("%w: объём должен быть больше нуля", common.ErrInvalidAmount)
	}
	return o.runAdminEdit(ctx, actor, subID, adminEdit{
		kind:    journal.KindAdminGrantData,
		payload: journal.Payload{GrantBytes: bytes},
		remote: func(ctx context.Context, dir rad.Directory, sub *entitlements.Subscription, op *journal.Operation) error {
			return dir.GrantAdditionalData(ctx, sub.RemoteUsername, bytes, op.ID)
		},
		commit: func(ctx context.Context, tx *store.Tx, sub *entitlements.Subscription, _ *journal.Operation) error {
			return tx.Entitlements.UpdateExpiry(ctx, sub.ID, entitlements.Term{
				Plan:          sub.Plan,
				ExpiryAt:      sub.ExpiryAt,
				TotalCapBytes: sub.TotalCapBytes + bytes,
			})
		},
	})
}

// Delete удаляет подписку. Сначала аккаунт на роутере, потом локальная запись;
// если роутер не удалил аккаунт, запись остаётся и возвращается ошибка.
// Логин остаётся занятым навсегда.
func (o *Orchestrator) Delete(ctx context.Context, actor, subID int64) error {
	_, err := o.runAdminEdit(ctx, actor, subID, adminEdit{
		kind: journal.KindAdminDelete,
		remote: func(ctx context.Context, dir rad.Directory, sub *entitlements.Subscription, _ *journal.Operation) error {
			return dir.DeleteAccount(ctx, sub.RemoteUsername)
		},
		commit: func(ctx context.Context, tx *store.Tx, sub *entitlements.Subscription, _ *journal.Operation) error {
			return tx.Entitlements.Delete(ctx, sub.ID)
		},
	})
	return err
}
