// Package receipts — приём чеков о пополнении.
// Чек создаётся пользователем и закрывается одним необратимым решением админа.
package receipts

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status — состояние чека.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// Receipt — заявка на зачисление денег.
type Receipt struct {
	ID            int64           `db:"id"`
	AccountID     int64           `db:"account_id"`
	ClaimedAmount decimal.Decimal `db:"claimed_amount"`
	EvidenceRef   string          `db:"evidence_ref"` // file_id фото чека в Telegram
	Status        Status          `db:"status"`
	DecisionMemo  string          `db:"decision_memo"`
	DecidedBy     int64           `db:"decided_by"`
	SubmittedAt   time.Time       `db:"submitted_at"`
	DecidedAt     *time.Time      `db:"decided_at"`
}
