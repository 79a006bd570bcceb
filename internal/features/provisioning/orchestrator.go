// Package provisioning — оркестратор: связывает деньги, подписки и роутеры.
//
// Каждая операция устроена одинаково: резерв в локальной БД (списание и
// запись журнала в одной транзакции), изменение на сервере доступа, затем
// подтверждение или компенсация. Журнал операций хранит всё, что нужно
// сверке, чтобы после падения довести операцию до конечного состояния.
package provisioning

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/vpn-shop/internal/common"
	"serotonyl.ru/vpn-shop/internal/features/journal"
	"serotonyl.ru/vpn-shop/internal/features/ledger"
	"serotonyl.ru/vpn-shop/internal/features/rad"
	"serotonyl.ru/vpn-shop/internal/features/receipts"
	"serotonyl.ru/vpn-shop/internal/lock"
	"serotonyl.ru/vpn-shop/internal/secret"
	"serotonyl.ru/vpn-shop/internal/store"
)

// Directories отдаёт клиент сервера доступа по ID. Реализация — rad.Registry.
type Directories interface {
	Get(ctx context.Context, backendID int64) (rad.Directory, error)
}

// Authorizer проверяет права администратора. Реализация — admins.Authorizer.
type Authorizer interface {
	RequireAdmin(ctx context.Context, actor int64) error
}

// Deps — зависимости оркестратора.
type Deps struct {
	Store       store.UnitOfWork
	Directories Directories
	Locker      lock.Locker
	Authorizer  Authorizer
	Publisher   Publisher
	Box         *secret.Box
	Limits      receipts.Limits
	// Grace — pending-операции моложе этого возраста сверка не трогает.
	Grace time.Duration
	Now   func() time.Time
}

// Orchestrator — единственная точка изменения подписок и денег.
type Orchestrator struct {
	uow    store.UnitOfWork
	dirs   Directories
	locks  lock.Locker
	auth   Authorizer
	events Publisher
	box    *secret.Box
	limits receipts.Limits
	grace  time.Duration
	now    func() time.Time
	newID  func() string

	mu       sync.Mutex
	closed   bool
	inflight sync.WaitGroup
	lastPass time.Time
}

// New создаёт оркестратор.
func New(d Deps) *Orchestrator {
	o := &Orchestrator{
		uow:    d.Store,
		dirs:   d.Directories,
		locks:  d.Locker,
		auth:   d.Authorizer,
		events: d.Publisher,
		box:    d.Box,
		limits: d.Limits,
		grace:  d.Grace,
		now:    d.Now,
		newID:  func() string { return uuid.NewString() },
	}
	if o.locks == nil {
		o.locks = lock.NewLocal()
	}
	if o.events == nil {
		o.events = nopPublisher{}
	}
	if o.now == nil {
		o.now = time.Now
	}
	return o
}

// Close ждёт завершения операций, уже запущенных в фоне.
func (o *Orchestrator) Close(ctx context.Context) error {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()

	done := make(chan struct{})
	go func() {
		o.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("не дождались завершения операций: %w", ctx.Err())
	}
}

// detach выполняет операцию в отдельной горутине на контексте без отмены.
// Если вызывающий перестал ждать, он получает ctx.Err(), а операция
// (включая компенсацию) доходит до конца.
func detach[T any](o *Orchestrator, ctx context.Context, name string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return zero, fmt.Errorf("%w: сервис останавливается", common.ErrInternal)
	}
	o.inflight.Add(1)
	o.mu.Unlock()

	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		defer o.inflight.Done()
		defer func() {
			if r := recover(); r != nil {
				log.WithField("op", name).Errorf("Паника в операции: %v", r)
				ch <- result{err: fmt.Errorf("%w: паника в %s", common.ErrInternal, name)}
			}
		}()
		v, err := fn(context.WithoutCancel(ctx))
		operationsTotal.WithLabelValues(name, outcome(err)).Inc()
		ch <- result{v: v, err: err}
	}()

	select {
	case r := <-ch:
		return r.v, r.err
	case <-ctx.Done():
		log.WithField("op", name).Warn("Вызывающий перестал ждать, операция продолжается в фоне")
		return zero, ctx.Err()
	}
}

func subKey(id int64) string { return fmt.Sprintf("sub:%d", id) }
func opKey(id string) string  { return "op:" + id }

// lockSub берёт блокировку подписки.
func (o *Orchestrator) lockSub(ctx context.Context, id int64) (func(), error) {
	unlock, err := o.locks.Lock(ctx, subKey(id))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrInternal, err)
	}
	return unlock, nil
}

func (o *Orchestrator) requireAdmin(ctx context.Context, actor int64) error {
	if o.auth == nil {
		return common.ErrNotAdmin
	}
	return o.auth.RequireAdmin(ctx, actor)
}

func (o *Orchestrator) emit(ctx context.Context, ev Event) {
	if ev.At.IsZero() {
		ev.At = o.now()
	}
	o.events.Publish(ctx, ev)
}

// nextExpiry — продление от текущего срока, если он не истёк, иначе от now.
func nextExpiry(current, now time.Time, days int) time.Time {
	if current.Before(now) {
		return now.AddDate(0, 0, days)
	}
	return current.AddDate(0, 0, days)
}

// refund возвращает деньги по операции и переводит её в compensated.
// Вызывается внутри единицы работы.
func refund(ctx context.Context, tx *store.Tx, op *journal.Operation, memo, reason string) error {
	if _, err := journal.Finish(ctx, tx.Journal, op.ID, journal.StateCompensated, reason); err != nil {
		return err
	}
	if !op.Amount.IsPositive() {
		return nil
	}
	if _, err := ledger.Credit(ctx, tx.Ledger, op.AccountID, op.Amount, ledger.KindRefund, memo, op.ID); err != nil {
		return fmt.Errorf("ошибка возврата: %w", err)
	}
	return nil
}

func logOp(op *journal.Operation) *log.Entry {
	return log.WithFields(log.Fields{
		"op_id":   op.ID,
		"kind":    op.Kind,
		"account": op.AccountID,
		"sub":     op.SubscriptionID,
		"backend": op.BackendID,
		"user":    op.RemoteUsername,
	})
}
