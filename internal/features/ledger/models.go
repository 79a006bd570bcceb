// Package ledger ведёт денежный журнал пользователей.
// models.go описывает счета и проводки.
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// Kind — тип проводки.
type Kind string

const (
	KindDeposit          Kind = "deposit"           // Пополнение по одобренному чеку
	KindPurchase         Kind = "purchase"          // Покупка подписки
	KindRenewal          Kind = "renewal"           // Продление подписки
	KindRefund           Kind = "refund"            // Возврат при неудачном провижининге
	KindManualAdjustment Kind = "manual_adjustment" // Ручная правка баланса админом
)

// Valid сообщает, что тип проводки известен.
func (k Kind) Valid() bool {
	switch k {
	case KindDeposit, KindPurchase, KindRenewal, KindRefund, KindManualAdjustment:
		return true
	}
	return false
}

// Account — денежный счёт пользователя.
// Balance — кеш суммы всех проводок счёта, никогда не бывает отрицательным.
type Account struct {
	ID        int64           `db:"id"` // Telegram user ID владельца
	Balance   decimal.Decimal `db:"balance"`
	CreatedAt time.Time       `db:"created_at"`
	UpdatedAt time.Time       `db:"updated_at"`
}

// Entry — одна неизменяемая проводка.
// Amount со знаком: списания отрицательные, начисления положительные.
type Entry struct {
	ID          int64           `db:"id"`
	AccountID   int64           `db:"account_id"`
	Amount      decimal.Decimal `db:"amount"`
	Kind        Kind            `db:"kind"`
	Memo        string          `db:"memo"`
	OperationID string          `db:"operation_id"` // Пусто для старых записей
	CreatedAt   time.Time       `db:"created_at"`
}

// Drift — расхождение кеша баланса с суммой проводок.
type Drift struct {
	AccountID int64           `json:"account_id"`
	Cached    decimal.Decimal `json:"cached"`
	Computed  decimal.Decimal `json:"computed"`
}

// Delta возвращает разницу Cached - Computed.
func (d Drift) Delta() decimal.Decimal {
	return d.Cached.Sub(d.Computed)
}
