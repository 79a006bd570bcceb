// Package dialog описывает шаги разговора пользователя с ботом:
// покупка, продление и пополнение баланса.
// Переходы заданы явной таблицей, состояние живёт в памяти 5 минут.
package dialog

import "time"

// State — шаг диалога.
type State string

const (
	StateIdle            State = ""                 // Нет активного диалога
	StateChoosingPlan    State = "choosing_plan"    // Ждём выбор тарифа
	StateConfirmPurchase State = "confirm_purchase" // Ждём подтверждение покупки
	StateChoosingSub     State = "choosing_sub"     // Ждём выбор подписки для продления
	StateConfirmRenewal  State = "confirm_renewal"  // Ждём подтверждение продления
	StateAwaitingAmount  State = "awaiting_amount"  // Ждём сумму пополнения
	StateAwaitingReceipt State = "awaiting_receipt" // Ждём фото чека
	StateProcessing      State = "processing"       // Запрос ушёл в оркестратор
)

// Event — что произошло в диалоге.
type Event string

const (
	EventBuy             Event = "buy"
	EventRenew           Event = "renew"
	EventTopUp           Event = "top_up"
	EventPicked          Event = "picked"
	EventAmountEntered   Event = "amount_entered"
	EventReceiptSent     Event = "receipt_sent"
	EventConfirm         Event = "confirm"
	EventCancel          Event = "cancel"
	EventSucceeded       Event = "succeeded"
	EventNoFunds         Event = "no_funds"
	EventFailed          Event = "failed"
	EventPlanUnavailable Event = "plan_unavailable"
)

// Session — текущее состояние диалога пользователя.
type Session struct {
	State State
	// Flow — какой сценарий идёт: buy, renew или top_up.
	Flow Event
	// Выбранный тариф или подписка.
	PlanID         int64
	SubscriptionID int64
	Amount         string
	ExpiresAt      time.Time
}

const sessionTTL = 5 * time.Minute
