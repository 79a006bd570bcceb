package rad

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type memAccount struct {
	secret    string
	profile   string
	enabled   bool
	used      int64
	allowance int64
	expires   time.Time
	sessions  int
	tokens    map[string]struct{}
}

type memFailure struct {
	err       error
	times     int  // < 0 — всегда
	lostReply bool // изменение применяется, но клиент получает ошибку
}

// Memory — сервер доступа в памяти. Используется в тестах и в dev-режиме.
// Умеет имитировать сбои: отказ до применения изменения и
// потерянный ответ после применения.
type Memory struct {
	mu       sync.Mutex
	name     string
	now      func() time.Time
	accounts map[string]*memAccount
	profiles map[string]ProfileSpec
	failures map[string]*memFailure
	calls    map[string]int
	delay    time.Duration
}

// NewMemory создаёт пустой сервер.
func NewMemory(name string) *Memory {
	return &Memory{
		name:     name,
		now:      time.Now,
		accounts: make(map[string]*memAccount),
		profiles: make(map[string]ProfileSpec),
		failures: make(map[string]*memFailure),
		calls:    make(map[string]int),
	}
}

var _ Directory = (*Memory)(nil)

// SetClock подменяет часы.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// SetDelay задаёт задержку ответа на каждый вызов (с учётом ctx).
func (m *Memory) SetDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
}

// Fail заставляет операцию op падать с ошибкой вида kind times раз
// (times < 0 — пока не вызван Heal). Изменение не применяется.
func (m *Memory) Fail(op string, kind error, times int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[op] = &memFailure{err: kind, times: times}
}

// LoseReply применяет изменение, но times раз возвращает ErrUnreachable.
func (m *Memory) LoseReply(op string, times int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[op] = &memFailure{err: ErrUnreachable, times: times, lostReply: true}
}

// Heal снимает имитацию сбоя.
func (m *Memory) Heal(op string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.failures, op)
}

// Calls — сколько раз вызывалась операция op (включая неудачные).
func (m *Memory) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

// Has сообщает, есть ли аккаунт на сервере.
func (m *Memory) Has(username string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.accounts[username]
	return ok
}

// Secret возвращает текущий пароль аккаунта.
func (m *Memory) Secret(username string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if acc, ok := m.accounts[username]; ok {
		return acc.secret
	}
	return ""
}

// SetUsage выставляет скачанный трафик и число сессий.
func (m *Memory) SetUsage(username string, usedBytes int64, sessions int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if acc, ok := m.accounts[username]; ok {
		acc.used = usedBytes
		acc.sessions = sessions
	}
}

// SetExpiry выставляет срок действия аккаунта.
func (m *Memory) SetExpiry(username string, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if acc, ok := m.accounts[username]; ok {
		acc.expires = at
	}
}

// Len — число аккаунтов на сервере.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.accounts)
}

// begin отмечает вызов и решает, нужно ли упасть до или после изменения.
// При успехе возвращается с захваченным m.mu и функцией, которую
// вызывают с результатом изменения.
func (m *Memory) begin(ctx context.Context, op string) (func(error) error, error) {
	m.mu.Lock()
	delay := m.delay
	m.mu.Unlock()
	if delay > 0 {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return nil, NewError(op, m.name, ErrUnreachable, ctx.Err(), "")
		case <-t.C:
		}
	}

	m.mu.Lock()
	m.calls[op]++
	f, ok := m.failures[op]
	if ok && f.times != 0 {
		if f.times > 0 {
			f.times--
		}
		err := NewError(op, m.name, f.err, nil, "имитация сбоя")
		if !f.lostReply {
			m.mu.Unlock()
			return nil, err
		}
		return func(applyErr error) error {
			if applyErr != nil {
				return applyErr
			}
			return err
		}, nil
	}
	return func(applyErr error) error { return applyErr }, nil
}

// run выполняет изменение под блокировкой.
func (m *Memory) run(ctx context.Context, op string, apply func() error) error {
	finish, err := m.begin(ctx, op)
	if err != nil {
		return err
	}
	defer m.mu.Unlock()
	return finish(apply())
}

func (m *Memory) notFound(op, username string) error {
	return NewError(op, m.name, ErrNotFound, nil, username)
}

// EnsureProfile создаёт или обновляет профиль тарифа.
func (m *Memory) EnsureProfile(ctx context.Context, spec ProfileSpec) error {
	return m.run(ctx, "ensure_profile", func() error {
		m.profiles[spec.Name] = spec
		return nil
	})
}

func (m *Memory) CreateAccount(ctx context.Context, username, secret, profile string) error {
	return m.run(ctx, "create", func() error {
		spec, ok := m.profiles[profile]
		if !ok {
			return NewError("create", m.name, ErrRejected, nil, fmt.Sprintf("профиль %q не найден", profile))
		}
		if acc, exists := m.accounts[username]; exists {
			if acc.profile == profile {
				return nil
			}
			return NewError("create", m.name, ErrAlreadyExists, nil, username)
		}
		m.accounts[username] = &memAccount{
			secret:    secret,
			profile:   profile,
			enabled:   true,
			allowance: spec.DataCapBytes,
			expires:   m.now().AddDate(0, 0, spec.ValidityDays),
			tokens:    make(map[string]struct{}),
		}
		return nil
	})
}

func (m *Memory) AccountStatus(ctx context.Context, username string) (*AccountStatus, error) {
	var st *AccountStatus
	err := m.run(ctx, "status", func() error {
		acc, ok := m.accounts[username]
		if !ok {
			st = &AccountStatus{}
			return nil
		}
		expires := acc.expires
		st = &AccountStatus{
			Exists:         true,
			Enabled:        acc.enabled,
			Profile:        acc.profile,
			UsedBytes:      acc.used,
			AllowanceBytes: acc.allowance,
			ActiveSessions: acc.sessions,
			ExpiresAt:      &expires,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return st, nil
}

func (m *Memory) update(ctx context.Context, op, username string, fn func(acc *memAccount)) error {
	return m.run(ctx, op, func() error {
		acc, ok := m.accounts[username]
		if !ok {
			return m.notFound(op, username)
		}
		fn(acc)
		return nil
	})
}

func (m *Memory) Disable(ctx context.Context, username string) error {
	return m.update(ctx, "disable", username, func(acc *memAccount) { acc.enabled = false })
}

func (m *Memory) Enable(ctx context.Context, username string) error {
	return m.update(ctx, "enable", username, func(acc *memAccount) { acc.enabled = true })
}

func (m *Memory) ResetSecret(ctx context.Context, username, secret string) error {
	return m.update(ctx, "reset_secret", username, func(acc *memAccount) { acc.secret = secret })
}

func (m *Memory) DisconnectSessions(ctx context.Context, username string) error {
	return m.update(ctx, "disconnect", username, func(acc *memAccount) { acc.sessions = 0 })
}

// ExtendValidity продлевает срок от текущего окончания или от «сейчас», если срок истёк.
func (m *Memory) ExtendValidity(ctx context.Context, username string, days int, token string) error {
	return m.update(ctx, "extend", username, func(acc *memAccount) {
		key := "extend:" + token
		if _, seen := acc.tokens[key]; seen {
			return
		}
		acc.tokens[key] = struct{}{}
		now := m.now()
		if acc.expires.Before(now) {
			acc.expires = now
		}
		acc.expires = acc.expires.AddDate(0, 0, days)
	})
}

func (m *Memory) GrantAdditionalData(ctx context.Context, username string, bytes int64, token string) error {
	return m.update(ctx, "grant_data", username, func(acc *memAccount) {
		key := "grant:" + token
		if _, seen := acc.tokens[key]; seen {
			return
		}
		acc.tokens[key] = struct{}{}
		acc.allowance += bytes
	})
}

func (m *Memory) DeleteAccount(ctx context.Context, username string) error {
	return m.run(ctx, "delete", func() error {
		delete(m.accounts, username)
		return nil
	})
}

func (m *Memory) Ping(ctx context.Context) error {
	return m.run(ctx, "ping", func() error { return nil })
}
