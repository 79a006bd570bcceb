package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serotonyl.ru/vpn-shop/internal/common"
	"serotonyl.ru/vpn-shop/internal/features/provisioning"
	"serotonyl.ru/vpn-shop/internal/features/receipts"
	"serotonyl.ru/vpn-shop/internal/features/settings"
)

type sent struct {
	chat int64
	text string
}

type fakeSender struct {
	mu   sync.Mutex
	msgs []sent
	err  error
}

func (f *fakeSender) Send(_ context.Context, chatID int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, sent{chatID, text})
	return nil
}

type staticMessages map[string]string

func (m staticMessages) Message(_ context.Context, name string) (string, error) {
	text, ok := m[name]
	if !ok {
		return "", errors.New("нет текста")
	}
	return text, nil
}

func TestNotifier_DeliversInOrder(t *testing.T) {
	sender := &fakeSender{}
	n := New(sender, staticMessages{settings.MsgReceiptApprove: "Чек принят"}, Options{})

	expiry := time.Date(2026, 2, 9, 12, 0, 0, 0, time.UTC)
	n.Publish(context.Background(), provisioning.Event{
		Kind: provisioning.EventReceiptDecided, AccountID: 7, ReceiptID: 3,
		ReceiptStatus: receipts.StatusApproved, Amount: decimal.NewFromInt(50),
	})
	n.Publish(context.Background(), provisioning.Event{
		Kind: provisioning.EventSubscriptionCreated, AccountID: 7, PlanName: "Месяц", ExpiryAt: expiry,
	})
	n.Publish(context.Background(), provisioning.Event{
		Kind: provisioning.EventProvisioningFailed, AccountID: 8, Amount: decimal.NewFromInt(30),
	})
	require.NoError(t, n.Close(context.Background()))

	require.Len(t, sender.msgs, 3)
	assert.Equal(t, int64(7), sender.msgs[0].chat)
	assert.Contains(t, sender.msgs[0].text, "Чек принят")
	assert.Contains(t, sender.msgs[0].text, "$50.00")
	assert.Contains(t, sender.msgs[1].text, "09.02.2026")
	assert.Equal(t, int64(8), sender.msgs[2].chat)
	assert.Contains(t, sender.msgs[2].text, "$30.00")
}

func TestNotifier_FailuresAreSwallowed(t *testing.T) {
	sender := &fakeSender{err: errors.New("bot blocked")}
	n := New(sender, staticMessages{}, Options{QueueSize: 1})

	n.Publish(context.Background(), provisioning.Event{Kind: provisioning.EventSubscriptionRenewed, AccountID: 1})
	// неизвестный текст: событие пропускается
	n.Publish(context.Background(), provisioning.Event{Kind: provisioning.EventReceiptDecided, AccountID: 1})
	require.NoError(t, n.Close(context.Background()))
	assert.Empty(t, sender.msgs)

	// после Close события игнорируются
	n.Publish(context.Background(), provisioning.Event{Kind: provisioning.EventSubscriptionRenewed, AccountID: 1})
}

func TestNotifier_Gifts(t *testing.T) {
	sender := &fakeSender{}
	n := New(sender, staticMessages{}, Options{})

	n.Publish(context.Background(), provisioning.Event{
		Kind: provisioning.EventSubscriptionGifted, AccountID: 5, PlanName: "Месяц",
		Days: 3, ExpiryAt: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	})
	n.Publish(context.Background(), provisioning.Event{
		Kind: provisioning.EventSubscriptionGifted, AccountID: 5, PlanName: "Месяц",
		GrantBytes: 5 * common.Gigabyte,
	})
	require.NoError(t, n.Close(context.Background()))

	require.Len(t, sender.msgs, 2)
	assert.Contains(t, sender.msgs[0].text, "3 дня")
	assert.Contains(t, sender.msgs[1].text, "5.0 ГБ")
}
