package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/vpn-shop/internal/common"
	"serotonyl.ru/vpn-shop/internal/features/provisioning"
	"serotonyl.ru/vpn-shop/internal/features/receipts"
	"serotonyl.ru/vpn-shop/internal/features/settings"
)

var deliveries = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "vpnshop_notifications_total",
	Help: "Уведомления по результату доставки.",
}, []string{"kind", "result"})

// Messages — тексты, которые админы могут переопределить.
type Messages interface {
	Message(ctx context.Context, name string) (string, error)
}

// Options — параметры очереди.
type Options struct {
	QueueSize int
	Timeout   time.Duration
	Location  *time.Location
}

// Notifier реализует provisioning.Publisher: кладёт событие в очередь
// и отправляет его из отдельной горутины.
type Notifier struct {
	sender  Sender
	msgs    Messages
	timeout time.Duration
	loc     *time.Location

	mu     sync.RWMutex
	closed bool
	queue  chan provisioning.Event
	done   chan struct{}
}

// New создаёт Notifier и запускает отправку.
func New(sender Sender, msgs Messages, opts Options) *Notifier {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	n := &Notifier{
		sender:  sender,
		msgs:    msgs,
		timeout: opts.Timeout,
		loc:     opts.Location,
		queue:   make(chan provisioning.Event, opts.QueueSize),
		done:    make(chan struct{}),
	}
	go n.run()
	return n
}

// Publish ставит событие в очередь. Очередь полна — событие теряется.
func (n *Notifier) Publish(_ context.Context, ev provisioning.Event) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		return
	}
	select {
	case n.queue <- ev:
	default:
		deliveries.WithLabelValues(string(ev.Kind), "dropped").Inc()
		log.WithFields(log.Fields{"kind": ev.Kind, "account": ev.AccountID}).Warn("Очередь уведомлений переполнена")
	}
}

// Close дожидается отправки того, что уже в очереди.
func (n *Notifier) Close(ctx context.Context) error {
	n.mu.Lock()
	if !n.closed {
		n.closed = true
		close(n.queue)
	}
	n.mu.Unlock()

	select {
	case <-n.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (n *Notifier) run() {
	defer close(n.done)
	for ev := range n.queue {
		n.deliver(ev)
	}
}

func (n *Notifier) deliver(ev provisioning.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
	defer cancel()

	text, ok := n.render(ctx, ev)
	if !ok {
		return
	}
	l := log.WithFields(log.Fields{"kind": ev.Kind, "account": ev.AccountID})
	if err := n.sender.Send(ctx, ev.AccountID, text); err != nil {
		deliveries.WithLabelValues(string(ev.Kind), "error").Inc()
		l.WithError(err).Warn("Не удалось доставить уведомление")
		return
	}
	deliveries.WithLabelValues(string(ev.Kind), "sent").Inc()
	l.Debug("Уведомление доставлено")
}

// render собирает текст уведомления. false — событие пользователю не показывается.
func (n *Notifier) render(ctx context.Context, ev provisioning.Event) (string, bool) {
	switch ev.Kind {
	case provisioning.EventSubscriptionCreated:
		return fmt.Sprintf("🔐 Подписка «%s» оформлена.\nДействует до %s.",
			ev.PlanName, common.FormatDate(ev.ExpiryAt, n.loc)), true

	case provisioning.EventSubscriptionRenewed:
		return fmt.Sprintf("🔄 Подписка «%s» продлена до %s.",
			ev.PlanName, common.FormatDate(ev.ExpiryAt, n.loc)), true

	case provisioning.EventSubscriptionGifted:
		if ev.GrantBytes > 0 {
			return fmt.Sprintf("🎁 К подписке «%s» добавлено %s трафика.",
				ev.PlanName, common.FormatGigabytes(ev.GrantBytes)), true
		}
		return fmt.Sprintf("🎁 Подписка «%s» продлена на %d %s, до %s.",
			ev.PlanName, ev.Days, common.PluralizeDays(ev.Days), common.FormatDate(ev.ExpiryAt, n.loc)), true

	case provisioning.EventReceiptDecided:
		name := settings.MsgReceiptDeny
		if ev.ReceiptStatus == receipts.StatusApproved {
			name = settings.MsgReceiptApprove
		}
		text, err := n.msgs.Message(ctx, name)
		if err != nil {
			log.WithError(err).Warn("Не удалось прочитать текст уведомления")
			return "", false
		}
		return fmt.Sprintf("%s\nЧек #%d на %s.", text, ev.ReceiptID, common.FormatMoney(ev.Amount)), true

	case provisioning.EventProvisioningFailed:
		if ev.Amount.IsPositive() {
			return fmt.Sprintf("⚠️ Сервер доступа не ответил. %s возвращены на баланс.",
				common.FormatMoney(ev.Amount)), true
		}
		return "⚠️ Сервер доступа не ответил, попробуйте позже.", true
	}
	return "", false
}
