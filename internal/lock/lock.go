// Package lock — блокировки по ключу для последовательных операций
// над одной подпиской. Local работает внутри процесса, Redis — между
// несколькими инстансами.
package lock

import (
	"context"
	"errors"
	"sync"
)

// ErrNotAcquired — блокировку не удалось взять до отмены контекста.
var ErrNotAcquired = errors.New("не удалось взять блокировку")

// Locker берёт блокировку по ключу. unlock обязательно вызвать.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// Local — мьютексы по ключу в памяти процесса.
type Local struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	ch   chan struct{}
	refs int
}

// NewLocal создаёт пустой набор блокировок.
func NewLocal() *Local {
	return &Local{locks: make(map[string]*entry)}
}

// Lock ждёт освобождения ключа или отмены ctx.
func (l *Local) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	e, ok := l.locks[key]
	if !ok {
		e = &entry{ch: make(chan struct{}, 1)}
		l.locks[key] = e
	}
	e.refs++
	l.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(key, e)
		return nil, errors.Join(ErrNotAcquired, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.ch
			l.release(key, e)
		})
	}, nil
}

func (l *Local) release(key string, e *entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.locks, key)
	}
}
