package entitlements

import (
	"context"
	"time"

	"serotonyl.ru/vpn-shop/internal/secret"
)

// Store — доступ к подпискам. Нет записи — common.ErrNotFound.
type Store interface {
	Get(ctx context.Context, id int64) (*Subscription, error)
	GetByRemoteUsername(ctx context.Context, username string) (*Subscription, error)
	ListForAccount(ctx context.Context, accountID int64) ([]*Subscription, error)
	// ListExpiring возвращает подписки со сроком до before.
	ListExpiring(ctx context.Context, before time.Time) ([]*Subscription, error)
	List(ctx context.Context) ([]*Subscription, error)
	// Create сохраняет подписку и заполняет ID и CreatedAt.
	Create(ctx context.Context, s *Subscription) error
	UpdateExpiry(ctx context.Context, id int64, term Term) error
	UpdateCredentials(ctx context.Context, id int64, sealed secret.Sealed) error
	Delete(ctx context.Context, id int64) error
	// ReserveUsername навсегда занимает логин. Повтор — ErrUsernameTaken.
	ReserveUsername(ctx context.Context, username string) error
}
