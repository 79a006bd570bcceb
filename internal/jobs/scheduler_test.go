package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serotonyl.ru/vpn-shop/internal/features/ledger"
	"serotonyl.ru/vpn-shop/internal/features/provisioning"
)

type fakeEngine struct {
	reconciles int
	expired    int
	reports    int
	err        error
}

func (f *fakeEngine) Reconcile(context.Context) (*provisioning.Pass, error) {
	f.reconciles++
	return &provisioning.Pass{}, f.err
}

func (f *fakeEngine) DisableExpired(context.Context) (int, error) {
	f.expired++
	return 2, f.err
}

func (f *fakeEngine) ReconciliationReport(context.Context) (*provisioning.Report, error) {
	f.reports++
	if f.err != nil {
		return nil, f.err
	}
	return &provisioning.Report{
		Drifts: []ledger.Drift{{AccountID: 1, Cached: decimal.NewFromInt(5), Computed: decimal.Zero}},
	}, nil
}

type countingSweeper struct{ n int }

func (c *countingSweeper) Sweep() int {
	c.n++
	return 0
}

func TestScheduler_RejectsBadSpec(t *testing.T) {
	s := NewScheduler(&fakeEngine{}, nil, Schedule{Reconcile: "not a spec", Expiry: "@hourly", Drift: "@daily"}, time.UTC)
	err := s.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reconcile")
}

func TestScheduler_StartStop(t *testing.T) {
	sw := &countingSweeper{}
	s := NewScheduler(&fakeEngine{}, sw, Schedule{Reconcile: "*/5 * * * *", Expiry: "15 * * * *", Drift: "0 3 * * *"}, time.UTC)
	require.NoError(t, s.Start(context.Background()))
	assert.Len(t, s.cron.Entries(), 4)
	s.Stop()
}

func TestScheduler_JobsCallEngine(t *testing.T) {
	eng := &fakeEngine{}
	sw := &countingSweeper{}
	s := NewScheduler(eng, sw, Schedule{}, time.UTC)
	ctx := context.Background()

	s.reconcile(ctx)
	s.disableExpired(ctx)
	s.checkDrift(ctx)
	s.sweepDialogs()
	assert.Equal(t, 1, eng.reconciles)
	assert.Equal(t, 1, eng.expired)
	assert.Equal(t, 1, eng.reports)
	assert.Equal(t, 1, sw.n)

	// ошибки только логируются
	eng.err = errors.New("db down")
	s.reconcile(ctx)
	s.disableExpired(ctx)
	s.checkDrift(ctx)
	assert.Equal(t, 2, eng.reports)
}
