package receipts

import (
	"context"
	"time"
)

// Store — доступ к чекам. Нет записи — common.ErrNotFound.
type Store interface {
	// Insert сохраняет чек и заполняет ID и SubmittedAt.
	Insert(ctx context.Context, r *Receipt) error
	Get(ctx context.Context, id int64) (*Receipt, error)
	Lock(ctx context.Context, id int64) (*Receipt, error)
	ListPending(ctx context.Context) ([]*Receipt, error)
	ListForAccount(ctx context.Context, accountID int64) ([]*Receipt, error)
	SetDecision(ctx context.Context, id int64, status Status, memo string, actor int64, at time.Time) error
}
