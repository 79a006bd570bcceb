package rad

import (
	"context"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/vpn-shop/internal/features/catalog"
)

// BackendLoader читает описание сервера из каталога.
type BackendLoader func(ctx context.Context, backendID int64) (*catalog.Backend, error)

// Factory создаёт клиент для сервера.
type Factory func(b *catalog.Backend) (Directory, error)

// Registry отдаёт клиент по ID сервера. Клиенты создаются лениво и
// оборачиваются в Resilient. У каждого сервера свой клиент со своим
// соединением, поэтому зависший роутер не тормозит остальные.
type Registry struct {
	mu      sync.Mutex
	dirs    map[int64]Directory
	load    BackendLoader
	factory Factory
	timeout time.Duration
	policy  RetryPolicy
}

// NewRegistry создаёт реестр.
func NewRegistry(load BackendLoader, factory Factory, timeout time.Duration, policy RetryPolicy) *Registry {
	return &Registry{
		dirs:    make(map[int64]Directory),
		load:    load,
		factory: factory,
		timeout: timeout,
		policy:  policy,
	}
}

// Register ставит готовый клиент для сервера (обёртка Resilient добавляется).
func (r *Registry) Register(backendID int64, name string, dir Directory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dirs[backendID] = NewResilient(dir, name, r.timeout, r.policy)
}

// Get возвращает клиент сервера.
func (r *Registry) Get(ctx context.Context, backendID int64) (Directory, error) {
	r.mu.Lock()
	if dir, ok := r.dirs[backendID]; ok {
		r.mu.Unlock()
		return dir, nil
	}
	r.mu.Unlock()

	if r.load == nil || r.factory == nil {
		return nil, fmt.Errorf("сервер %d не зарегистрирован", backendID)
	}
	b, err := r.load(ctx, backendID)
	if err != nil {
		return nil, fmt.Errorf("ошибка загрузки сервера %d: %w", backendID, err)
	}
	if !b.Active {
		return nil, NewError("connect", b.Name, ErrRejected, nil, "сервер отключён")
	}
	dir, err := r.factory(b)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания клиента для %s: %w", b.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.dirs[backendID]; ok {
		closeDirectory(dir)
		return existing, nil
	}
	wrapped := NewResilient(dir, b.Name, r.timeout, r.policy)
	r.dirs[backendID] = wrapped
	log.WithFields(log.Fields{"backend": b.Name, "host": b.Host}).Info("Клиент сервера доступа создан")
	return wrapped, nil
}

// Invalidate забывает клиент, например после смены пароля роутера.
func (r *Registry) Invalidate(backendID int64) {
	r.mu.Lock()
	dir, ok := r.dirs[backendID]
	delete(r.dirs, backendID)
	r.mu.Unlock()
	if ok {
		closeDirectory(dir)
	}
}

// Close закрывает все клиенты.
func (r *Registry) Close() {
	r.mu.Lock()
	dirs := r.dirs
	r.dirs = make(map[int64]Directory)
	r.mu.Unlock()
	for _, dir := range dirs {
		closeDirectory(dir)
	}
}

func closeDirectory(dir Directory) {
	if res, ok := dir.(*Resilient); ok {
		dir = res.Unwrap()
	}
	if c, ok := dir.(interface{ Close() error }); ok {
		if err := c.Close(); err != nil {
			log.Warnf("Ошибка закрытия клиента сервера доступа: %v", err)
		}
	}
}
