// Package journal — журнал операций провижининга.
// Каждая операция проходит путь pending → completed | compensated | failed.
// Запись в pending делается до обращения к роутеру, поэтому после рестарта
// сверка видит все незавершённые операции.
package journal

import (
	"time"

	"github.com/shopspring/decimal"

	"serotonyl.ru/vpn-shop/internal/features/catalog"
	"serotonyl.ru/vpn-shop/internal/secret"
)

// Kind — тип операции.
type Kind string

const (
	KindPurchase         Kind = "purchase"
	KindRenewal          Kind = "renewal"
	KindAdminExtend      Kind = "admin_extend"
	KindAdminGrantData   Kind = "admin_grant_data"
	KindAdminDelete      Kind = "admin_delete"
	KindAdminResetSecret Kind = "admin_reset_secret"
	KindAdminDisable     Kind = "admin_disable"
	KindAdminEnable      Kind = "admin_enable"
	KindAdminBalance     Kind = "admin_balance"
)

// MovesMoney — операция списывает деньги и при неудаче требует возврата.
func (k Kind) MovesMoney() bool {
	return k == KindPurchase || k == KindRenewal
}

// State — состояние операции.
type State string

const (
	StatePending     State = "pending"
	StateCompleted   State = "completed"
	StateCompensated State = "compensated"
	StateFailed      State = "failed"
)

// Terminal — из этого состояния переходов нет.
func (s State) Terminal() bool {
	return s != StatePending
}

// Payload — данные, нужные чтобы довести операцию до конца после рестарта.
type Payload struct {
	Plan        *catalog.Snapshot `json:"plan,omitempty"`
	Secret      secret.Sealed     `json:"secret,omitempty"`
	NewExpiry   *time.Time        `json:"new_expiry,omitempty"`
	NewCapBytes int64             `json:"new_cap_bytes,omitempty"`
	GrantBytes  int64             `json:"grant_bytes,omitempty"`
	Days        int               `json:"days,omitempty"`
	Actor       int64             `json:"actor,omitempty"`
	Reason      string            `json:"reason,omitempty"`
}

// Operation — запись журнала.
type Operation struct {
	ID             string          `db:"id"` // uuid
	Kind           Kind            `db:"kind"`
	State          State           `db:"state"`
	AccountID      int64           `db:"account_id"`
	SubscriptionID int64           `db:"subscription_id"` // 0 пока подписки нет
	BackendID      int64           `db:"backend_id"`
	RemoteUsername string          `db:"remote_username"`
	Amount         decimal.Decimal `db:"amount"`
	Payload        Payload         `db:"payload"`
	Error          string          `db:"error"`
	// RemoteCleanup — на роутере мог остаться аккаунт, который надо удалить.
	RemoteCleanup bool      `db:"remote_cleanup"`
	CreatedAt     time.Time `db:"created_at"`
	UpdatedAt     time.Time `db:"updated_at"`
}
