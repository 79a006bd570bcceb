package receipts

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"serotonyl.ru/vpn-shop/internal/common"
)

// Limits — допустимый диапазон суммы чека.
type Limits struct {
	Min decimal.Decimal
	Max decimal.Decimal
}

// Validate проверяет сумму: положительная и в пределах [Min, Max].
func (l Limits) Validate(amount decimal.Decimal) error {
	if !amount.IsPositive() || amount.LessThan(l.Min) || amount.GreaterThan(l.Max) {
		return fmt.Errorf("%w: сумма должна быть от %s до %s",
			common.ErrInvalidAmount, common.FormatMoney(l.Min), common.FormatMoney(l.Max))
	}
	if !amount.Equal(amount.Round(2)) {
		return fmt.Errorf("%w: не больше двух знаков после запятой", common.ErrInvalidAmount)
	}
	return nil
}

// Decide фиксирует решение по чеку. Решение принимается один раз:
// для не-pending чека вернётся common.ErrAlreadyDecided.
func Decide(ctx context.Context, s Store, id int64, status Status, memo string, actor int64, now time.Time) (*Receipt, error) {
	if status != StatusApproved && status != StatusRejected {
		return nil, fmt.Errorf("недопустимое решение %q", status)
	}
	r, err := s.Lock(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.Status != StatusPending {
		return r, fmt.Errorf("%w: чек #%d уже %s", common.ErrAlreadyDecided, id, r.Status)
	}
	if err := s.SetDecision(ctx, id, status, memo, actor, now); err != nil {
		return nil, fmt.Errorf("ошибка записи решения: %w", err)
	}
	r.Status = status
	r.DecisionMemo = memo
	r.DecidedBy = actor
	r.DecidedAt = &now
	return r, nil
}
