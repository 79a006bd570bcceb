package provisioning

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"serotonyl.ru/vpn-shop/internal/features/receipts"
)

// EventKind — тип доменного события.
type EventKind string

const (
	EventSubscriptionCreated EventKind = "subscription_created"
	EventSubscriptionRenewed EventKind = "subscription_renewed"
	EventReceiptDecided      EventKind = "receipt_decided"
	EventProvisioningFailed  EventKind = "provisioning_failed"
	// EventSubscriptionGifted — админ бесплатно продлил подписку или добавил трафик.
	EventSubscriptionGifted  EventKind = "subscription_gifted"
)

// Event — что произошло и с чьим счётом.
type Event struct {
	Kind           EventKind
	AccountID      int64
	SubscriptionID int64
	OperationID    string
	ReceiptID      int64
	ReceiptStatus  receipts.Status
	Amount         decimal.Decimal
	PlanName       string
	ExpiryAt       time.Time
	Days           int
	GrantBytes     int64
	Detail         string
	At             time.Time
}

// Publisher доставляет события. Ошибки доставки не влияют на операцию,
// поэтому Publish ничего не возвращает и не должен надолго блокировать.
type Publisher interface {
	Publish(ctx context.Context, ev Event)
}

// PublisherFunc позволяет использовать функцию как Publisher.
type PublisherFunc func(ctx context.Context, ev Event)

func (f PublisherFunc) Publish(ctx context.Context, ev Event) { f(ctx, ev) }

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, Event) {}
