package provisioning

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/vpn-shop/internal/common"
	"serotonyl.ru/vpn-shop/internal/features/entitlements"
	"serotonyl.ru/vpn-shop/internal/features/journal"
	"serotonyl.ru/vpn-shop/internal/features/ledger"
	"serotonyl.ru/vpn-shop/internal/store"
)

// Расхождение сроков больше суток попадает в отчёт.
const expiryTolerance = 24 * time.Hour

// ExpiryMismatch — срок подписки локально и на роутере не совпадает.
type ExpiryMismatch struct {
	SubscriptionID int64
	RemoteUsername string
	LocalExpiry    time.Time
	RemoteExpiry   *time.Time
	Missing        bool // аккаунта нет на роутере
}

// Report — отчёт сверки. Только чтение, ничего не чинит.
type Report struct {
	GeneratedAt      time.Time
	Drifts           []ledger.Drift
	ExpiryMismatches []ExpiryMismatch
	// Unchecked — подписки, которые не удалось проверить (роутер недоступен).
	Unchecked       []int64
	StaleOperations []*journal.Operation
	LastPass        time.Time
}

// Pass — итог прохода сверки.
type Pass struct {
	Completed   int
	Compensated int
	Failed      int
	Deferred    int // роутер недоступен, попробуем в следующий раз
	CleanedUp   int
}

// ReconciliationReport собирает расхождения: баланс против суммы проводок,
// срок подписки против роутера и зависшие операции.
func (o *Orchestrator) ReconciliationReport(ctx context.Context) (*Report, error) {
	now := o.now()
	rep := &Report{GeneratedAt: now, LastPass: o.LastPass()}
	var subs []*entitlements.Subscription
	err := o.uow.Do(ctx, func(ctx context.Context, tx *store.Tx) error {
		var err error
		if rep.Drifts, err = ledger.Drifts(ctx, tx.Ledger); err != nil {
			return err
		}
		if rep.StaleOperations, err = tx.Journal.ListPending(ctx, now.Add(-o.grace)); err != nil {
			return err
		}
		subs, err = tx.Entitlements.List(ctx)
		return err
	})
	if err != nil {
		return nil, storageErr(err)
	}
	balanceDrifts.Set(float64(len(rep.Drifts)))

	for _, sub := range subs {
		dir, err := o.dirs.Get(ctx, sub.BackendID)
		if err != nil {
			rep.Unchecked = append(rep.Unchecked, sub.ID)
			continue
		}
		st, err := dir.AccountStatus(ctx, sub.RemoteUsername)
		if err != nil {
			rep.Unchecked = append(rep.Unchecked, sub.ID)
			continue
		}
		m := ExpiryMismatch{SubscriptionID: sub.ID, RemoteUsername: sub.RemoteUsername, LocalExpiry: sub.ExpiryAt}
		switch {
		case !st.Exists:
			m.Missing = true
		case st.ExpiresAt == nil:
			continue
		default:
			m.RemoteExpiry = st.ExpiresAt
			diff := st.ExpiresAt.Sub(sub.ExpiryAt)
			if diff < 0 {
				diff = -diff
			}
			if diff <= expiryTolerance {
				continue
			}
		}
		rep.ExpiryMismatches = append(rep.ExpiryMismatches, m)
	}
	return rep, nil
}

// LastPass — время последнего прохода сверки.
func (o *Orchestrator) LastPass() time.Time {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastPass
}

// Reconcile доводит до конца pending-операции старше Grace и удаляет
// аккаунты, оставшиеся на роутерах после неудачных покупок.
// Каждый переход условный (только из pending), поэтому повтор безопасен.
func (o *Orchestrator) Reconcile(ctx context.Context) (*Pass, error) {
	now := o.now()
	var pending, cleanup []*journal.Operation
	err := o.uow.Do(ctx, func(ctx context.Context, tx *store.Tx) error {
		var err error
		if pending, err = tx.Journal.ListPending(ctx, now.Add(-o.grace)); err != nil {
			return err
		}
		cleanup, err = tx.Journal.ListRemoteCleanup(ctx)
		return err
	})
	if err != nil {
		return nil, storageErr(err)
	}
	pendingOperations.Set(float64(len(pending)))

	pass := &Pass{}
	for _, op := range pending {
		if ctx.Err() != nil {
			break
		}
		state, err := o.resolve(ctx, op)
		switch {
		case errors.Is(err, common.ErrOperationNotPending):
			// операцию успел закрыть кто-то другой
		case err != nil:
			pass.Deferred++
			logOp(op).WithError(err).Warn("Сверка: операция отложена")
		case state == journal.StateCompleted:
			pass.Completed++
		case state == journal.StateCompensated:
			pass.Compensated++
		case state == journal.StateFailed:
			pass.Failed++
		}
		reconcileTotal.WithLabelValues(string(op.Kind), resultLabel(state, err)).Inc()
	}
	for _, op := range cleanup {
		dir, err := o.dirs.Get(ctx, op.BackendID)
		if err != nil {
			continue
		}
		if o.cleanupRemote(ctx, dir, op) {
			pass.CleanedUp++
		}
	}

	o.mu.Lock()
	o.lastPass = now
	o.mu.Unlock()
	if len(pending) > 0 || pass.CleanedUp > 0 {
		log.WithFields(log.Fields{
			"completed":   pass.Completed,
			"compensated": pass.Compensated,
			"failed":      pass.Failed,
			"deferred":    pass.Deferred,
			"cleaned_up":  pass.CleanedUp,
		}).Info("Сверка завершена")
	}
	return pass, nil
}

func resultLabel(state journal.State, err error) string {
	if err != nil {
		return "deferred"
	}
	return string(state)
}

// Repair вручную запускает доведение одной операции, не дожидаясь Grace.
func (o *Orchestrator) Repair(ctx context.Context, operationID string) (*journal.Operation, error) {
	return detach(o, ctx, "repair", func(ctx context.Context) (*journal.Operation, error) {
		var op *journal.Operation
		err := o.uow.Do(ctx, func(ctx context.Context, tx *store.Tx) error {
			var err error
			op, err = tx.Journal.Get(ctx, operationID)
			return err
		})
		if err != nil {
			return nil, storageErr(err)
		}
		if op.State.Terminal() {
			if !op.RemoteCleanup {
				return op, fmt.Errorf("%w: %s в состоянии %s", common.ErrOperationNotPending, op.ID, op.State)
			}
			dir, err := o.dirs.Get(ctx, op.BackendID)
			if err != nil {
				return op, &ProvisioningError{Op: "repair", OperationID: op.ID, Cause: err, BackendDetail: err.Error()}
			}
			if !o.cleanupRemote(ctx, dir, op) {
				return op, &ProvisioningError{Op: "repair", OperationID: op.ID, Cause: common.ErrProvisioningFailed}
			}
			op.RemoteCleanup = false
			return op, nil
		}
		state, err := o.resolve(ctx, op)
		if err != nil {
			return op, storageErr(err)
		}
		op.State = state
		return op, nil
	})
}

// RebuildBalance пересчитывает кеш баланса по проводкам.
func (o *Orchestrator) RebuildBalance(ctx context.Context, accountID int64) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := o.uow.Do(ctx, func(ctx context.Context, tx *store.Tx) error {
		var err error
		balance, err = ledger.Rebuild(ctx, tx.Ledger, accountID)
		return err
	})
	if err != nil {
		return decimal.Zero, storageErr(err)
	}
	log.WithFields(log.Fields{"account": accountID, "balance": balance.String()}).Warn("Баланс пересчитан по проводкам")
	return balance, nil
}

// resolve решает судьбу одной pending-операции по состоянию роутера.
func (o *Orchestrator) resolve(ctx context.Context, op *journal.Operation) (journal.State, error) {
	key := opKey(op.ID)
	if op.SubscriptionID != 0 {
		key = subKey(op.SubscriptionID)
	}
	unlock, err := o.locks.Lock(ctx, key)
	if err != nil {
		return "", err
	}
	defer unlock()

	switch op.Kind {
	case journal.KindPurchase:
		return o.resolvePurchase(ctx, op)
	case journal.KindRenewal:
		return o.resolveRenewal(ctx, op)
	case journal.KindAdminDelete:
		return o.resolveDelete(ctx, op)
	default:
		return o.resolveAdmin(ctx, op)
	}
}

// resolvePurchase: аккаунт есть на роутере — создаём подписку, нет — возврат.
func (o *Orchestrator) resolvePurchase(ctx context.Context, op *journal.Operation) (journal.State, error) {
	dir, err := o.dirs.Get(ctx, op.BackendID)
	if err != nil {
		return "", err
	}
	st, err := dir.AccountStatus(ctx, op.RemoteUsername)
	if err != nil {
		return "", err
	}
	l := logOp(op)

	if !st.Exists {
		err := o.uow.Do(ctx, func(ctx context.Context, tx *store.Tx) error {
			return refund(ctx, tx, op, "refund: failed purchase", "сверка: аккаунт не создан на роутере")
		})
		if err != nil {
			return "", err
		}
		compensationsTotal.WithLabelValues(string(op.Kind)).Inc()
		l.Warn("Сверка: покупка не дошла до роутера, средства возвращены")
		o.emit(ctx, Event{Kind: EventProvisioningFailed, AccountID: op.AccountID, OperationID: op.ID, Amount: op.Amount, Detail: "аккаунт не создан"})
		return journal.StateCompensated, nil
	}

	start := op.CreatedAt
	sub, err := o.completePurchase(ctx, op, start)
	if err != nil {
		return "", err
	}
	l.WithField("sub", sub.ID).Info("Сверка: покупка завершена")
	o.emit(ctx, Event{
		Kind:           EventSubscriptionCreated,
		AccountID:      op.AccountID,
		SubscriptionID: sub.ID,
		OperationID:    op.ID,
		Amount:         op.Amount,
		PlanName:       sub.Plan.Name,
		ExpiryAt:       sub.ExpiryAt,
	})
	return journal.StateCompleted, nil
}

// resolveRenewal: роутер показывает срок не меньше запланированного (с
// допуском в сутки) — продление записывается, иначе деньги возвращаются.
func (o *Orchestrator) resolveRenewal(ctx context.Context, op *journal.Operation) (journal.State, error) {
	refundRenewal := func(reason string) (journal.State, error) {
		err := o.uow.Do(ctx, func(ctx context.Context, tx *store.Tx) error {
			return refund(ctx, tx, op, "refund: failed renewal", reason)
		})
		if err != nil {
			return "", err
		}
		compensationsTotal.WithLabelValues(string(op.Kind)).Inc()
		logOp(op).WithField("reason", reason).Warn("Сверка: продление не подтверждено, средства возвращены")
		o.emit(ctx, Event{Kind: EventProvisioningFailed, AccountID: op.AccountID, SubscriptionID: op.SubscriptionID, OperationID: op.ID, Amount: op.Amount, Detail: reason})
		return journal.StateCompensated, nil
	}

	var exists bool
	err := o.uow.Do(ctx, func(ctx context.Context, tx *store.Tx) error {
		_, err := tx.Entitlements.Get(ctx, op.SubscriptionID)
		if errors.Is(err, common.ErrNotFound) {
			return nil
		}
		exists = err == nil
		return err
	})
	if err != nil {
		return "", err
	}
	if !exists {
		return refundRenewal("подписка удалена")
	}

	dir, err := o.dirs.Get(ctx, op.BackendID)
	if err != nil {
		return "", err
	}
	st, err := dir.AccountStatus(ctx, op.RemoteUsername)
	if err != nil {
		return "", err
	}
	if !st.Exists {
		return refundRenewal("аккаунт отсутствует на роутере")
	}
	planned := *op.Payload.NewExpiry
	if st.ExpiresAt == nil || st.ExpiresAt.Before(planned.Add(-expiryTolerance)) {
		return refundRenewal("роутер не подтвердил новый срок")
	}

	sub, err := o.completeRenewal(ctx, op, op.CreatedAt)
	if err != nil {
		return "", err
	}
	logOp(op).Info("Сверка: продление завершено")
	o.emit(ctx, Event{
		Kind:           EventSubscriptionRenewed,
		AccountID:      sub.OwnerAccountID,
		SubscriptionID: sub.ID,
		OperationID:    op.ID,
		Amount:         op.Amount,
		PlanName:       sub.Plan.Name,
		ExpiryAt:       sub.ExpiryAt,
	})
	return journal.StateCompleted, nil
}

// resolveDelete: аккаунта на роутере уже нет — дописываем удаление локально.
func (o *Orchestrator) resolveDelete(ctx context.Context, op *journal.Operation) (journal.State, error) {
	dir, err := o.dirs.Get(ctx, op.BackendID)
	if err != nil {
		return "", err
	}
	st, err := dir.AccountStatus(ctx, op.RemoteUsername)
	if err != nil {
		return "", err
	}
	if st.Exists {
		return o.resolveAdmin(ctx, op)
	}
	err = o.uow.Do(ctx, func(ctx context.Context, tx *store.Tx) error {
		if _, err := journal.Finish(ctx, tx.Journal, op.ID, journal.StateCompleted, ""); err != nil {
			return err
		}
		err := tx.Entitlements.Delete(ctx, op.SubscriptionID)
		if errors.Is(err, common.ErrNotFound) {
			return nil
		}
		return err
	})
	if err != nil {
		return "", err
	}
	logOp(op).Info("Сверка: удаление подписки завершено")
	return journal.StateCompleted, nil
}

// resolveAdmin закрывает прерванную админ-операцию как failed.
// Денег она не двигала, админ повторит её при необходимости.
func (o *Orchestrator) resolveAdmin(ctx context.Context, op *journal.Operation) (journal.State, error) {
	err := o.uow.Do(ctx, func(ctx context.Context, tx *store.Tx) error {
		_, err := journal.Finish(ctx, tx.Journal, op.ID, journal.StateFailed, "прервана, закрыта сверкой")
		return err
	})
	if err != nil {
		return "", err
	}
	logOp(op).Warn("Сверка: админ-операция закрыта как failed")
	return journal.StateFailed, nil
}
