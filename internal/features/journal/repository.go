package journal

import (
	"context"
	"time"
)

// Store — доступ к журналу операций. Нет записи — common.ErrNotFound.
type Store interface {
	// Insert сохраняет операцию и заполняет CreatedAt/UpdatedAt.
	Insert(ctx context.Context, op *Operation) error
	Get(ctx context.Context, id string) (*Operation, error)
	// Lock читает операцию с блокировкой строки.
	Lock(ctx context.Context, id string) (*Operation, error)
	SetState(ctx context.Context, id string, state State, errMsg string) error
	SetSubscription(ctx context.Context, id string, subscriptionID int64) error
	SetRemoteCleanup(ctx context.Context, id string, pending bool) error
	// ListPending возвращает pending-операции, созданные раньше olderThan.
	ListPending(ctx context.Context, olderThan time.Time) ([]*Operation, error)
	ListRemoteCleanup(ctx context.Context) ([]*Operation, error)
}
