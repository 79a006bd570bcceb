// Package app инициализирует все компоненты приложения.
// app.go — точка сборки: создаёт БД-пул, хранилище, клиенты роутеров,
// оркестратор, уведомления, админ-API и планировщик.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/vpn-shop/internal/common"
	"serotonyl.ru/vpn-shop/internal/config"
	"serotonyl.ru/vpn-shop/internal/db/postgres"
	"serotonyl.ru/vpn-shop/internal/dialog"
	"serotonyl.ru/vpn-shop/internal/features/admins"
	"serotonyl.ru/vpn-shop/internal/features/catalog"
	"serotonyl.ru/vpn-shop/internal/features/provisioning"
	"serotonyl.ru/vpn-shop/internal/features/rad"
	"serotonyl.ru/vpn-shop/internal/features/rad/mikrotik"
	"serotonyl.ru/vpn-shop/internal/features/receipts"
	"serotonyl.ru/vpn-shop/internal/features/settings"
	"serotonyl.ru/vpn-shop/internal/httpapi"
	"serotonyl.ru/vpn-shop/internal/jobs"
	"serotonyl.ru/vpn-shop/internal/lock"
	"serotonyl.ru/vpn-shop/internal/notify"
	"serotonyl.ru/vpn-shop/internal/secret"
	pgstore "serotonyl.ru/vpn-shop/internal/store/postgres"
)

// App содержит все компоненты приложения.
type App struct {
	DB           *pgxpool.Pool
	Redis        *redis.Client
	Directories  *rad.Registry
	Orchestrator *provisioning.Orchestrator
	Notifier     *notify.Notifier
	Dialog       *dialog.Driver
	HTTP         *httpapi.Server
	Scheduler    *jobs.Scheduler

	sqlDB *sql.DB
}

// New создаёт и инициализирует приложение.
// Порядок инициализации важен — компоненты зависят друг от друга.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	loc := common.LoadLocation(cfg.AppTimezone)

	box, err := secret.NewBoxFromBase64(cfg.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("ENCRYPTION_KEY: %w", err)
	}

	// === 1. База данных ===
	pool, err := postgres.NewPool(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("ошибка подключения к БД: %w", err)
	}
	if err := postgres.RunMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ошибка миграций: %w", err)
	}
	st := pgstore.New(pool)
	// Админы и настройки живут в тех же таблицах, но через database/sql.
	sqlDB := stdlib.OpenDBFromPool(pool)

	a := &App{DB: pool, sqlDB: sqlDB}

	// === 2. Блокировки ===
	var locker lock.Locker = lock.NewLocal()
	var revocations httpapi.Revocations = httpapi.NewMemoryRevocations()
	if cfg.LockBackend == "redis" {
		a.Redis = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr(),
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := a.Redis.Ping(ctx).Err(); err != nil {
			a.close()
			return nil, fmt.Errorf("redis недоступен: %w", err)
		}
		locker = lock.NewRedis(a.Redis, "vpnshop:lock:", cfg.LockTTL)
		revocations = httpapi.NewRedisRevocations(a.Redis, "vpnshop:jwt:")
		log.Info("Блокировки и отзыв токенов через Redis")
	}

	// === 3. Роутеры ===
	policy := rad.RetryPolicy{
		Attempts:   cfg.RADRetryAttempts,
		Initial:    cfg.RADRetryInitial,
		Multiplier: 2,
		Jitter:     0.2,
		Max:        cfg.RADRetryMax,
	}
	loader := func(ctx context.Context, backendID int64) (*catalog.Backend, error) {
		return pgstore.Bind(pool).Catalog.GetBackend(ctx, backendID)
	}
	a.Directories = rad.NewRegistry(loader, directoryFactory(box, cfg.RADDialTimeout), cfg.RADCallTimeout, policy)

	// === 4. Сервисы ===
	authz := admins.NewAuthorizer(admins.NewRepository(sqlDB), cfg.AdminIDs, cfg.AdminTokenHash)
	settingsSvc := settings.NewService(settings.NewRepository(sqlDB))

	var sender notify.Sender = notify.LogSender{}
	if cfg.TelegramBotToken != "" {
		tg, err := notify.NewTelegramSender(cfg.TelegramBotToken)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("ошибка создания Telegram API: %w", err)
		}
		sender = tg
	} else {
		log.Warn("TELEGRAM_BOT_TOKEN не задан, уведомления пишутся в лог")
	}
	a.Notifier = notify.New(sender, settingsSvc, notify.Options{
		QueueSize: cfg.NotifyQueueSize,
		Timeout:   cfg.NotifyTimeout,
		Location:  loc,
	})

	a.Orchestrator = provisioning.New(provisioning.Deps{
		Store:       st,
		Directories: a.Directories,
		Locker:      locker,
		Authorizer:  authz,
		Publisher:   a.Notifier,
		Box:         box,
		Limits:      receipts.Limits{Min: cfg.ReceiptMinAmount, Max: cfg.ReceiptMaxAmount},
		Grace:       cfg.ReconcileGrace,
		Now:         time.Now,
	})

	// Роутер мог пересоздаться пустым: досоздаём профили активных тарифов.
	if err := a.Orchestrator.SyncProfiles(ctx); err != nil {
		log.WithError(err).Warn("Не все профили тарифов синхронизированы")
	}

	// === 5. Фронтенд и админ-API ===
	a.Dialog = dialog.NewDriver(dialog.NewSessions(), a.Orchestrator)
	a.HTTP = httpapi.New(a.Orchestrator, authz, settingsSvc, httpapi.Options{
		Addr:        cfg.HTTPAddr,
		JWTSecret:   cfg.AdminJWTSecret,
		JWTTTL:      cfg.AdminJWTTTL,
		RateLimit:   cfg.RateLimitRequests,
		RateWindow:  cfg.RateLimitWindow,
		Revocations: revocations,
		Health:      pool,
	})

	// === 6. Планировщик задач ===
	a.Scheduler = jobs.NewScheduler(a.Orchestrator, a.Dialog.Sessions(), jobs.Schedule{
		Reconcile: cfg.ReconcileSchedule,
		Expiry:    cfg.ExpirySchedule,
		Drift:     cfg.DriftSchedule,
	}, loc)

	return a, nil
}

// directoryFactory создаёт клиент по описанию сервера из каталога.
func directoryFactory(box *secret.Box, dialTimeout time.Duration) rad.Factory {
	return func(b *catalog.Backend) (rad.Directory, error) {
		switch b.Kind {
		case catalog.BackendMikroTik:
			password, err := box.Open(b.Password)
			if err != nil {
				return nil, fmt.Errorf("пароль сервера %s: %w", b.Name, err)
			}
			return mikrotik.New(b.Name, mikrotik.TCPDialer(b.Host, b.Port, b.Username, password, dialTimeout)), nil
		case catalog.BackendMemory:
			return rad.NewMemory(b.Name), nil
		default:
			return nil, fmt.Errorf("неизвестный тип сервера %q", b.Kind)
		}
	}
}

// Run запускает планировщик и HTTP-сервер. Возвращается, когда ctx отменён
// или сервер упал.
func (a *App) Run(ctx context.Context) error {
	if err := a.Scheduler.Start(ctx); err != nil {
		return fmt.Errorf("планировщик: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := a.HTTP.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		return nil
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return fmt.Errorf("HTTP-сервер: %w", err)
	}
}

// Shutdown останавливает компоненты в обратном порядке.
// Соединения с БД и Redis закрываются последними.
func (a *App) Shutdown(ctx context.Context) {
	if err := a.HTTP.Shutdown(ctx); err != nil {
		log.WithError(err).Warn("HTTP-сервер остановлен с ошибкой")
	}
	a.Scheduler.Stop()
	if err := a.Orchestrator.Close(ctx); err != nil {
		log.WithError(err).Warn("Не все операции успели завершиться")
	}
	if err := a.Notifier.Close(ctx); err != nil {
		log.WithError(err).Warn("Очередь уведомлений не разобрана до конца")
	}
	a.close()
}

func (a *App) close() {
	if a.Directories != nil {
		a.Directories.Close()
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			log.WithError(err).Warn("Ошибка закрытия Redis")
		}
	}
	if err := a.sqlDB.Close(); err != nil {
		log.WithError(err).Warn("Ошибка закрытия database/sql")
	}
	a.DB.Close()
}
