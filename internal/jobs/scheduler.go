// Package jobs управляет фоновыми задачами (cron).
// scheduler.go настраивает расписание: проход сверки, отключение
// истёкших подписок и ежедневная проверка расхождений баланса.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/vpn-shop/internal/features/provisioning"
)

// Engine — операции ядра, которые запускаются по расписанию.
type Engine interface {
	Reconcile(ctx context.Context) (*provisioning.Pass, error)
	DisableExpired(ctx context.Context) (int, error)
	ReconciliationReport(ctx context.Context) (*provisioning.Report, error)
}

// Sweeper чистит истёкшие диалоги.
type Sweeper interface {
	Sweep() int
}

// Schedule — cron-выражения задач.
type Schedule struct {
	Reconcile string
	Expiry    string
	Drift     string
}

// Scheduler управляет фоновыми задачами.
type Scheduler struct {
	cron     *cron.Cron
	engine   Engine
	sweeper  Sweeper
	schedule Schedule
	timeout  time.Duration
}

// NewScheduler создаёт планировщик в заданном часовом поясе.
// Задача, не успевшая закончиться к следующему запуску, пропускает его.
func NewScheduler(engine Engine, sweeper Sweeper, schedule Schedule, loc *time.Location) *Scheduler {
	logger := cron.PrintfLogger(log.StandardLogger())
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	return &Scheduler{
		cron:     c,
		engine:   engine,
		sweeper:  sweeper,
		schedule: schedule,
		timeout:  10 * time.Minute,
	}
}

// Start регистрирует задачи и запускает cron.
func (s *Scheduler) Start(ctx context.Context) error {
	jobs := []struct {
		name string
		spec string
		run  func(ctx context.Context)
	}{
		{"reconcile", s.schedule.Reconcile, s.reconcile},
		{"expiry", s.schedule.Expiry, s.disableExpired},
		{"drift", s.schedule.Drift, s.checkDrift},
	}
	for _, j := range jobs {
		run := j.run
		if _, err := s.cron.AddFunc(j.spec, func() {
			ctx, cancel := context.WithTimeout(ctx, s.timeout)
			defer cancel()
			run(ctx)
		}); err != nil {
			return fmt.Errorf("задача %s: некорректное расписание %q: %w", j.name, j.spec, err)
		}
	}
	if s.sweeper != nil {
		if _, err := s.cron.AddFunc("@every 1m", s.sweepDialogs); err != nil {
			return err
		}
	}

	s.cron.Start()
	log.WithFields(log.Fields{
		"reconcile": s.schedule.Reconcile,
		"expiry":    s.schedule.Expiry,
		"drift":     s.schedule.Drift,
	}).Info("Планировщик задач запущен")
	return nil
}

// Stop останавливает планировщик и ждёт выполняющиеся задачи.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	log.Info("Планировщик задач остановлен")
}

func (s *Scheduler) reconcile(ctx context.Context) {
	log.Debug("[CRON] Проход сверки")
	if _, err := s.engine.Reconcile(ctx); err != nil {
		log.WithError(err).Error("[CRON] Ошибка сверки")
	}
}

func (s *Scheduler) disableExpired(ctx context.Context) {
	n, err := s.engine.DisableExpired(ctx)
	if err != nil {
		log.WithError(err).Error("[CRON] Ошибка отключения истёкших подписок")
		return
	}
	if n > 0 {
		log.WithField("count", n).Info("[CRON] Истёкшие подписки отключены")
	}
}

// checkDrift ничего не чинит: расхождения пишутся в лог и в метрику,
// пересчёт баланса запускает админ.
func (s *Scheduler) checkDrift(ctx context.Context) {
	rep, err := s.engine.ReconciliationReport(ctx)
	if err != nil {
		log.WithError(err).Error("[CRON] Ошибка отчёта сверки")
		return
	}
	for _, d := range rep.Drifts {
		log.WithFields(log.Fields{
			"account":  d.AccountID,
			"cached":   d.Cached.String(),
			"computed": d.Computed.String(),
		}).Error("[CRON] Баланс расходится с проводками")
	}
	for _, m := range rep.ExpiryMismatches {
		log.WithFields(log.Fields{
			"sub":     m.SubscriptionID,
			"local":   m.LocalExpiry,
			"remote":  m.RemoteExpiry,
			"missing": m.Missing,
		}).Warn("[CRON] Срок подписки расходится с роутером")
	}
	if len(rep.StaleOperations) > 0 {
		log.WithField("count", len(rep.StaleOperations)).Warn("[CRON] Есть зависшие операции")
	}
}

func (s *Scheduler) sweepDialogs() {
	if n := s.sweeper.Sweep(); n > 0 {
		log.WithField("count", n).Debug("[CRON] Истёкшие диалоги удалены")
	}
}
