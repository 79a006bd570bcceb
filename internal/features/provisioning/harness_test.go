package provisioning

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serotonyl.ru/vpn-shop/internal/common"
	"serotonyl.ru/vpn-shop/internal/features/catalog"
	"serotonyl.ru/vpn-shop/internal/features/entitlements"
	"serotonyl.ru/vpn-shop/internal/features/journal"
	"serotonyl.ru/vpn-shop/internal/features/ledger"
	"serotonyl.ru/vpn-shop/internal/features/rad"
	"serotonyl.ru/vpn-shop/internal/features/receipts"
	"serotonyl.ru/vpn-shop/internal/secret"
	"serotonyl.ru/vpn-shop/internal/store"
	"serotonyl.ru/vpn-shop/internal/store/memory"
)

const (
	adminID   int64 = 100
	accountID int64 = 555
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Publish(_ context.Context, ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) count(kind EventKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

type staticAdmins []int64

func (s staticAdmins) RequireAdmin(_ context.Context, actor int64) error {
	for _, id := range s {
		if id == actor {
			return nil
		}
	}
	return common.ErrNotAdmin
}

type harness struct {
	t         *testing.T
	ctx       context.Context
	clock     *fakeClock
	store     *memory.Store
	rad       *rad.Memory
	orch      *Orchestrator
	events    *recorder
	backendID int64
	plan      *catalog.Plan
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()
	clock := &fakeClock{t: time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)}

	st := memory.New()
	st.SetClock(clock.Now)
	mem := rad.NewMemory("test")
	mem.SetClock(clock.Now)

	key, err := secret.GenerateKey()
	require.NoError(t, err)
	box, err := secret.NewBoxFromBase64(key)
	require.NoError(t, err)

	backend := &catalog.Backend{Name: "test", Kind: catalog.BackendMemory, Active: true}
	require.NoError(t, st.Do(ctx, func(ctx context.Context, tx *store.Tx) error {
		return tx.Catalog.CreateBackend(ctx, backend)
	}))

	reg := rad.NewRegistry(nil, nil, time.Second, rad.RetryPolicy{
		Attempts:   3,
		Initial:    time.Millisecond,
		Multiplier: 2,
		Max:        5 * time.Millisecond,
	})
	reg.Register(backend.ID, backend.Name, mem)

	events := &recorder{}
	orch := New(Deps{
		Store:       st,
		Directories: reg,
		Authorizer:  staticAdmins{adminID},
		Publisher:   events,
		Box:         box,
		Limits:      receipts.Limits{Min: decimal.NewFromInt(5), Max: decimal.NewFromInt(1000)},
		Grace:       2 * time.Minute,
		Now:         clock.Now,
	})
	t.Cleanup(func() { _ = orch.Close(context.Background()) })

	h := &harness{t: t, ctx: ctx, clock: clock, store: st, rad: mem, orch: orch, events: events, backendID: backend.ID}
	h.plan = h.publish("month", 30)
	return h
}

func (h *harness) publish(family string, price int64) *catalog.Plan {
	h.t.Helper()
	p, err := h.orch.PublishPlan(h.ctx, adminID, &catalog.Plan{
		Family:        family,
		Name:          "Месяц",
		Price:         decimal.NewFromInt(price),
		ValidityDays:  30,
		DataCapBytes:  50 * common.Gigabyte,
		RemoteProfile: family,
		BackendID:     h.backendID,
	})
	require.NoError(h.t, err)
	return p
}

func (h *harness) deposit(account int64, amount int64) {
	h.t.Helper()
	r, err := h.orch.SubmitReceipt(h.ctx, account, decimal.NewFromInt(amount), "photo")
	require.NoError(h.t, err)
	_, err = h.orch.ApproveReceipt(h.ctx, adminID, r.ID, "ok")
	require.NoError(h.t, err)
}

func (h *harness) assertBalance(account int64, want string) {
	h.t.Helper()
	got, err := h.orch.Balance(h.ctx, account)
	require.NoError(h.t, err)
	assert.True(h.t, got.Equal(decimal.RequireFromString(want)), "баланс %s, ожидали %s", got, want)
	h.assertConsistent(account)
}

// assertConsistent проверяет, что кеш баланса равен сумме проводок.
func (h *harness) assertConsistent(account int64) {
	h.t.Helper()
	require.NoError(h.t, h.store.Do(h.ctx, func(ctx context.Context, tx *store.Tx) error {
		d, err := ledger.Check(ctx, tx.Ledger, account)
		require.NoError(h.t, err)
		assert.Nil(h.t, d)
		return nil
	}))
}

func (h *harness) entries(account int64) []*ledger.Entry {
	h.t.Helper()
	out, err := h.orch.History(h.ctx, account, 0)
	require.NoError(h.t, err)
	return out
}

func (h *harness) subs(account int64) []*entitlements.Subscription {
	h.t.Helper()
	out, err := h.orch.Subscriptions(h.ctx, account)
	require.NoError(h.t, err)
	return out
}

func (h *harness) op(id string) *journal.Operation {
	h.t.Helper()
	var op *journal.Operation
	require.NoError(h.t, h.store.Do(h.ctx, func(ctx context.Context, tx *store.Tx) error {
		var err error
		op, err = tx.Journal.Get(ctx, id)
		return err
	}))
	return op
}

func (h *harness) sub(id int64) *entitlements.Subscription {
	h.t.Helper()
	var s *entitlements.Subscription
	require.NoError(h.t, h.store.Do(h.ctx, func(ctx context.Context, tx *store.Tx) error {
		var err error
		s, err = tx.Entitlements.Get(ctx, id)
		return err
	}))
	return s
}
