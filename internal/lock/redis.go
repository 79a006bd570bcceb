package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// releaseScript удаляет ключ, только если он всё ещё наш.
const releaseScript = `if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end`

// refreshScript продлевает TTL, только если ключ всё ещё наш.
const refreshScript = `if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
else
	return 0
end`

// Redis — распределённая блокировка: SET NX PX + снятие по токену.
// Пока блокировка взята, TTL продлевается каждую треть срока, поэтому
// долгая операция с роутером не теряет её. TTL страхует от упавшего инстанса.
type Redis struct {
	client   *redis.Client
	prefix   string
	ttl      time.Duration
	refresh  time.Duration
	poll     time.Duration
	newToken func() string
	// onLost вызывается, если продлить блокировку не удалось: ключ истёк
	// или его занял другой владелец.
	onLost func(key string)
}

// NewRedis создаёт блокировщик.
func NewRedis(client *redis.Client, prefix string, ttl time.Duration) *Redis {
	return &Redis{
		client:   client,
		prefix:   prefix,
		ttl:      ttl,
		refresh:  ttl / 3,
		poll:     50 * time.Millisecond,
		newToken: uuid.NewString,
		onLost: func(key string) {
			log.WithField("key", key).Error("Блокировка потеряна до завершения операции")
		},
	}
}

// Lock опрашивает Redis, пока ключ не освободится или ctx не отменится.
func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	full := r.prefix + key
	token := r.newToken()

	for {
		ok, err := r.client.SetNX(ctx, full, token, r.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, errors.Join(ErrNotAcquired, ctx.Err())
			}
			return nil, fmt.Errorf("ошибка redis при взятии блокировки %s: %w", full, err)
		}
		if ok {
			break
		}

		t := time.NewTimer(r.poll)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, errors.Join(ErrNotAcquired, ctx.Err())
		case <-t.C:
		}
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go r.keepAlive(full, token, stop, done)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			// Снимаем даже если ctx вызывающего уже отменён.
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := r.client.Eval(releaseCtx, releaseScript, []string{full}, token).Err(); err != nil {
				log.WithField("key", full).Warnf("Не удалось снять блокировку: %v", err)
			}
		})
	}, nil
}

// keepAlive продлевает TTL ключа, пока не закрыт stop.
// Сетевая ошибка не останавливает продление, чужой или истёкший ключ останавливает.
func (r *Redis) keepAlive(full, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	if r.refresh <= 0 {
		return
	}
	t := time.NewTicker(r.refresh)
	defer t.Stop()

	for {
		select {
		case <-stop:
			return
		case <-t.C:
		}
		ok, err := r.extend(full, token)
		if err != nil {
			log.WithField("key", full).Warnf("Не удалось продлить блокировку: %v", err)
			continue
		}
		if !ok {
			r.onLost(full)
			return
		}
	}
}

// extend продлевает TTL ключа до r.ttl. false — ключ уже не наш.
func (r *Redis) extend(full, token string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), r.refresh)
	defer cancel()
	n, err := r.client.Eval(ctx, refreshScript, []string{full}, token, r.ttl.Milliseconds()).Int64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
