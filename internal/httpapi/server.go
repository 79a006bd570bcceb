// Package httpapi — админ-API поверх chi: сверка, ручная починка операций,
// решения по чекам, правки баланса и подписок, настройки.
// Вход по токену (Argon2id), дальше JWT в заголовке Authorization.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/vpn-shop/internal/features/admins"
	"serotonyl.ru/vpn-shop/internal/features/provisioning"
	"serotonyl.ru/vpn-shop/internal/features/settings"
)

// Pinger проверяет зависимости для /healthz.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options — параметры сервера.
type Options struct {
	Addr        string
	JWTSecret   string
	JWTTTL      time.Duration
	RateLimit   int
	RateWindow  time.Duration
	Revocations Revocations
	Health      Pinger
	Now         func() time.Time
}

// Server — HTTP-сервер админ-API.
type Server struct {
	orch        *provisioning.Orchestrator
	admins      *admins.Authorizer
	settings    *settings.Service
	revocations Revocations
	health      Pinger
	tokens      *tokens
	limiter     *RateLimiter
	validate    *validator.Validate
	now         func() time.Time

	srv *http.Server
}

// New собирает сервер и маршруты.
func New(orch *provisioning.Orchestrator, auth *admins.Authorizer, st *settings.Service, opts Options) *Server {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Revocations == nil {
		opts.Revocations = NewMemoryRevocations()
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = 30
	}
	if opts.RateWindow <= 0 {
		opts.RateWindow = time.Minute
	}
	s := &Server{
		orch:        orch,
		admins:      auth,
		settings:    st,
		revocations: opts.Revocations,
		health:      opts.Health,
		tokens:      &tokens{secret: []byte(opts.JWTSecret), ttl: opts.JWTTTL, now: opts.Now},
		limiter:     NewRateLimiter(opts.RateLimit, opts.RateWindow),
		validate:    validator.New(),
		now:         opts.Now,
	}
	s.srv = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Routes возвращает обработчик со всеми маршрутами.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger)
	r.Use(recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/admin", func(r chi.Router) {
		r.With(limitBy(s.limiter, clientIP)).Post("/login", s.login)

		r.Group(func(r chi.Router) {
			r.Use(s.authenticate)
			r.Use(limitBy(s.limiter, adminKey))

			r.Post("/logout", s.logout)

			r.Get("/reconciliation", s.reconciliationReport)
			r.Post("/reconciliation/run", s.runReconcile)
			r.Post("/operations/{id}/repair", s.repair)

			r.Get("/receipts/pending", s.pendingReceipts)
			r.Post("/receipts/{id}/approve", s.approveReceipt)
			r.Post("/receipts/{id}/reject", s.rejectReceipt)

			r.Get("/accounts/{id}", s.account)
			r.Post("/accounts/{id}/balance", s.adjustBalance)
			r.Post("/accounts/{id}/rebuild", s.rebuildBalance)

			r.Get("/subscriptions/{id}", s.subscription)
			r.Post("/subscriptions/{id}/disable", s.disable)
			r.Post("/subscriptions/{id}/enable", s.enable)
			r.Post("/subscriptions/{id}/reset-secret", s.resetSecret)
			r.Post("/subscriptions/{id}/extend", s.extend)
			r.Post("/subscriptions/{id}/grant-data", s.grantData)
			r.Delete("/subscriptions/{id}", s.deleteSubscription)

			r.Get("/plans", s.plans)
			r.Post("/plans", s.publishPlan)
			r.Post("/plans/{id}/active", s.setPlanActive)

			r.Get("/settings/{key}", s.getSetting)
			r.Put("/settings/{key}", s.putSetting)

			r.Get("/admins", s.listAdmins)
			r.Post("/admins", s.addAdmin)
			r.Delete("/admins/{id}", s.removeAdmin)
		})
	})
	return r
}

// Start слушает адрес до Shutdown.
func (s *Server) Start() error {
	log.WithField("addr", s.srv.Addr).Info("Админ-API запущен")
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("админ-API: %w", err)
	}
	return nil
}

// Shutdown дожидается текущих запросов.
func (s *Server) Shutdown(ctx context.Context) error {
	s.limiter.Close()
	return s.srv.Shutdown(ctx)
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		if err := s.health.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "last_reconcile": s.orch.LastPass()})
}

// decode читает JSON-тело и проверяет его тегами validate.
func (s *Server) decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	// пустое тело — все поля по умолчанию, обязательные отсечёт validate
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	if err := s.validate.Struct(dst); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}
