package rad

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	log "github.com/sirupsen/logrus"
)

// RetryPolicy — ограниченные повторы с экспоненциальной задержкой.
type RetryPolicy struct {
	Attempts   int // Всего попыток, включая первую
	Initial    time.Duration
	Multiplier float64
	Jitter     float64 // Доля случайного разброса задержки, 0..1
	Max        time.Duration
}

// DefaultRetryPolicy — три попытки: 500ms, 1s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, Initial: 500 * time.Millisecond, Multiplier: 2, Jitter: 0.2, Max: 5 * time.Second}
}

func (p RetryPolicy) nextDelay(attempt int, rng float64) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	base := float64(p.Initial)
	if base <= 0 {
		base = float64(500 * time.Millisecond)
	}
	multiplier := p.Multiplier
	if multiplier <= 1 {
		multiplier = 2
	}
	delay := base * math.Pow(multiplier, float64(attempt))
	if p.Jitter > 0 {
		j := p.Jitter
		if j > 1 {
			j = 1
		}
		delay = delay * (1 + (rng*2-1)*j)
	}
	if p.Max > 0 && delay > float64(p.Max) {
		delay = float64(p.Max)
	}
	return time.Duration(delay)
}

// Resilient оборачивает Directory: таймаут на каждую попытку и повторы
// только для ErrUnreachable. Отказы роутера не повторяются.
type Resilient struct {
	next    Directory
	backend string
	timeout time.Duration
	policy  RetryPolicy
}

// NewResilient создаёт обёртку. timeout <= 0 — без таймаута на попытку.
func NewResilient(next Directory, backend string, timeout time.Duration, policy RetryPolicy) *Resilient {
	if policy.Attempts <= 0 {
		policy.Attempts = 1
	}
	return &Resilient{next: next, backend: backend, timeout: timeout, policy: policy}
}

var _ Directory = (*Resilient)(nil)

// Unwrap возвращает обёрнутый клиент.
func (r *Resilient) Unwrap() Directory { return r.next }

func (r *Resilient) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 0; attempt < r.policy.Attempts; attempt++ {
		if attempt > 0 {
			retriesTotal.WithLabelValues(r.backend, op).Inc()
			delay := r.policy.nextDelay(attempt-1, rand.Float64())
			log.WithFields(log.Fields{
				"backend": r.backend,
				"op":      op,
				"attempt": attempt + 1,
				"delay":   delay,
			}).Warnf("Сервер доступа недоступен, повтор: %v", err)
			if waitErr := sleep(ctx, delay); waitErr != nil {
				break
			}
		}

		err = r.attempt(ctx, op, fn)
		if err == nil || !Retryable(err) {
			break
		}
	}
	callsTotal.WithLabelValues(r.backend, op, outcome(err)).Inc()
	return err
}

func (r *Resilient) attempt(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	callCtx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	start := time.Now()
	err := fn(callCtx)
	callDuration.WithLabelValues(r.backend, op).Observe(time.Since(start).Seconds())

	if err == nil {
		return nil
	}
	var re *Error
	if errors.As(err, &re) {
		return err
	}
	// Голая ошибка контекста или транспорта — считаем сервер недоступным.
	return NewError(op, r.backend, ErrUnreachable, err, "")
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (r *Resilient) CreateAccount(ctx context.Context, username, secret, profile string) error {
	return r.call(ctx, "create", func(ctx context.Context) error {
		return r.next.CreateAccount(ctx, username, secret, profile)
	})
}

func (r *Resilient) AccountStatus(ctx context.Context, username string) (*AccountStatus, error) {
	var st *AccountStatus
	err := r.call(ctx, "status", func(ctx context.Context) error {
		var err error
		st, err = r.next.AccountStatus(ctx, username)
		return err
	})
	if err != nil {
		return nil, err
	}
	return st, nil
}

func (r *Resilient) Disable(ctx context.Context, username string) error {
	return r.call(ctx, "disable", func(ctx context.Context) error {
		return r.next.Disable(ctx, username)
	})
}

func (r *Resilient) Enable(ctx context.Context, username string) error {
	return r.call(ctx, "enable", func(ctx context.Context) error {
		return r.next.Enable(ctx, username)
	})
}

func (r *Resilient) ResetSecret(ctx context.Context, username, secret string) error {
	return r.call(ctx, "reset_secret", func(ctx context.Context) error {
		return r.next.ResetSecret(ctx, username, secret)
	})
}

func (r *Resilient) ExtendValidity(ctx context.Context, username string, days int, token string) error {
	return r.call(ctx, "extend", func(ctx context.Context) error {
		return r.next.ExtendValidity(ctx, username, days, token)
	})
}

func (r *Resilient) GrantAdditionalData(ctx context.Context, username string, bytes int64, token string) error {
	return r.call(ctx, "grant_data", func(ctx context.Context) error {
		return r.next.GrantAdditionalData(ctx, username, bytes, token)
	})
}

func (r *Resilient) DeleteAccount(ctx context.Context, username string) error {
	return r.call(ctx, "delete", func(ctx context.Context) error {
		return r.next.DeleteAccount(ctx, username)
	})
}

func (r *Resilient) DisconnectSessions(ctx context.Context, username string) error {
	return r.call(ctx, "disconnect", func(ctx context.Context) error {
		return r.next.DisconnectSessions(ctx, username)
	})
}

func (r *Resilient) EnsureProfile(ctx context.Context, spec ProfileSpec) error {
	return r.call(ctx, "ensure_profile", func(ctx context.Context) error {
		return r.next.EnsureProfile(ctx, spec)
	})
}

func (r *Resilient) Ping(ctx context.Context) error {
	return r.call(ctx, "ping", r.next.Ping)
}
