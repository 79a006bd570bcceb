// Package memory — хранилище в памяти процесса.
// Единицы работы выполняются строго по очереди, откат делается
// восстановлением снимка состояния. Используется в тестах и в dev-режиме.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"serotonyl.ru/vpn-shop/internal/common"
	"serotonyl.ru/vpn-shop/internal/features/catalog"
	"serotonyl.ru/vpn-shop/internal/features/entitlements"
	"serotonyl.ru/vpn-shop/internal/features/journal"
	"serotonyl.ru/vpn-shop/internal/features/ledger"
	"serotonyl.ru/vpn-shop/internal/features/receipts"
	"serotonyl.ru/vpn-shop/internal/store"
)

type state struct {
	accounts      map[int64]ledger.Account
	entries       []ledger.Entry
	subscriptions map[int64]entitlements.Subscription
	usernames     map[string]struct{}
	receipts      map[int64]receipts.Receipt
	operations    map[string]journal.Operation
	plans         map[int64]catalog.Plan
	backends      map[int64]catalog.Backend
	seq           int64
}

func newState() *state {
	return &state{
		accounts:      make(map[int64]ledger.Account),
		subscriptions: make(map[int64]entitlements.Subscription),
		usernames:     make(map[string]struct{}),
		receipts:      make(map[int64]receipts.Receipt),
		operations:    make(map[string]journal.Operation),
		plans:         make(map[int64]catalog.Plan),
		backends:      make(map[int64]catalog.Backend),
	}
}

// clone копирует состояние. Значения в картах — структуры,
// указатели внутри (RenewedAt, DecidedAt, Payload) не мутируются на месте.
func (s *state) clone() *state {
	c := newState()
	for k, v := range s.accounts {
		c.accounts[k] = v
	}
	c.entries = append([]ledger.Entry(nil), s.entries...)
	for k, v := range s.subscriptions {
		c.subscriptions[k] = v
	}
	for k := range s.usernames {
		c.usernames[k] = struct{}{}
	}
	for k, v := range s.receipts {
		c.receipts[k] = v
	}
	for k, v := range s.operations {
		c.operations[k] = v
	}
	for k, v := range s.plans {
		c.plans[k] = v
	}
	for k, v := range s.backends {
		c.backends[k] = v
	}
	c.seq = s.seq
	return c
}

func (s *state) nextID() int64 {
	s.seq++
	return s.seq
}

// Store — UnitOfWork в памяти.
type Store struct {
	mu    sync.Mutex
	st    *state
	now   func() time.Time
	fails map[string]error
	hook  func(method string)
}

// New создаёт пустое хранилище.
func New() *Store {
	return &Store{
		st:    newState(),
		now:   time.Now,
		fails: make(map[string]error),
	}
}

var _ store.UnitOfWork = (*Store)(nil)

// SetClock подменяет часы, которыми заполняются CreatedAt/UpdatedAt.
func (m *Store) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// FailOn заставляет следующий вызов метода (например "entitlements.Create")
// вернуть err. Срабатывает один раз.
func (m *Store) FailOn(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fails[method] = err
}

// OnCall регистрирует наблюдателя за вызовами методов хранилища.
// Вызывается под блокировкой хранилища, внутри нельзя вызывать Do.
func (m *Store) OnCall(fn func(method string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hook = fn
}

// Do выполняет fn на копии состояния и подменяет состояние только при успехе.
func (m *Store) Do(ctx context.Context, fn func(ctx context.Context, tx *store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	work := m.st.clone()
	t := &txState{owner: m, st: work}
	tx := &store.Tx{
		Ledger:       (*ledgerRepo)(t),
		Entitlements: (*entitlementRepo)(t),
		Receipts:     (*receiptRepo)(t),
		Journal:      (*journalRepo)(t),
		Catalog:      (*catalogRepo)(t),
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	m.st = work
	return nil
}

// txState — состояние одной единицы работы.
type txState struct {
	owner *Store
	st    *state
}

func (t *txState) call(method string) error {
	if t.owner.hook != nil {
		t.owner.hook(method)
	}
	if err, ok := t.owner.fails[method]; ok {
		delete(t.owner.fails, method)
		return fmt.Errorf("%s: %w", method, err)
	}
	return nil
}

func (t *txState) now() time.Time {
	return t.owner.now()
}

func notFound(what string, id any) error {
	return fmt.Errorf("%w: %s %v", common.ErrNotFound, what, id)
}
