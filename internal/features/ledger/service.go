// Package ledger — service.go содержит денежные операции.
// Каждая функция получает Store текущей единицы работы: проводка и
// обновление кеша баланса коммитятся вместе или не коммитятся вовсе.
package ledger

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"serotonyl.ru/vpn-shop/internal/common"
)

// Memo добавляет к описанию метку операции "[op:<id>]".
func Memo(memo, operationID string) string {
	if operationID == "" {
		return memo
	}
	if memo == "" {
		return fmt.Sprintf("[op:%s]", operationID)
	}
	return fmt.Sprintf("%s [op:%s]", memo, operationID)
}

// Debit списывает amount со счёта и возвращает новый баланс.
// Если денег не хватает — common.ErrInsufficientFunds, ничего не записано.
func Debit(ctx context.Context, s Store, accountID int64, amount decimal.Decimal, kind Kind, memo, operationID string) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Zero, common.ErrInvalidAmount
	}

	acc, err := s.LockAccount(ctx, accountID)
	if err != nil {
		return decimal.Zero, err
	}
	if acc.Balance.LessThan(amount) {
		return acc.Balance, fmt.Errorf("%w: нужно %s, есть %s",
			common.ErrInsufficientFunds, common.FormatMoney(amount), common.FormatMoney(acc.Balance))
	}

	return apply(ctx, s, acc, amount.Neg(), kind, memo, operationID)
}

// Credit начисляет amount на счёт. Нулевая сумма ничего не пишет.
func Credit(ctx context.Context, s Store, accountID int64, amount decimal.Decimal, kind Kind, memo, operationID string) (decimal.Decimal, error) {
	if amount.IsNegative() {
		return decimal.Zero, common.ErrInvalidAmount
	}

	acc, err := s.LockAccount(ctx, accountID)
	if err != nil {
		return decimal.Zero, err
	}
	if amount.IsZero() {
		return acc.Balance, nil
	}

	return apply(ctx, s, acc, amount, kind, memo, operationID)
}

// Adjust выставляет баланс в target, записывая manual_adjustment на разницу.
func Adjust(ctx context.Context, s Store, accountID int64, target decimal.Decimal, memo, operationID string) (decimal.Decimal, error) {
	if target.IsNegative() {
		return decimal.Zero, common.ErrInvalidAmount
	}

	acc, err := s.LockAccount(ctx, accountID)
	if err != nil {
		return decimal.Zero, err
	}
	delta := target.Sub(acc.Balance)
	if delta.IsZero() {
		return acc.Balance, nil
	}

	return apply(ctx, s, acc, delta, KindManualAdjustment, memo, operationID)
}

func apply(ctx context.Context, s Store, acc *Account, delta decimal.Decimal, kind Kind, memo, operationID string) (decimal.Decimal, error) {
	entry := &Entry{
		AccountID:   acc.ID,
		Amount:      delta,
		Kind:        kind,
		Memo:        Memo(memo, operationID),
		OperationID: operationID,
	}
	if err := s.InsertEntry(ctx, entry); err != nil {
		return decimal.Zero, fmt.Errorf("ошибка записи проводки: %w", err)
	}

	balance := acc.Balance.Add(delta)
	if err := s.SetBalance(ctx, acc.ID, balance); err != nil {
		return decimal.Zero, fmt.Errorf("ошибка обновления баланса: %w", err)
	}
	return balance, nil
}

// Check сверяет кеш баланса с суммой проводок. nil — расхождения нет.
func Check(ctx context.Context, s Store, accountID int64) (*Drift, error) {
	acc, err := s.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	sum, err := s.SumEntries(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if acc.Balance.Equal(sum) {
		return nil, nil
	}
	return &Drift{AccountID: accountID, Cached: acc.Balance, Computed: sum}, nil
}

// Drifts проверяет все счета.
func Drifts(ctx context.Context, s Store) ([]Drift, error) {
	ids, err := s.ListAccountIDs(ctx)
	if err != nil {
		return nil, err
	}
	var out []Drift
	for _, id := range ids {
		d, err := Check(ctx, s, id)
		if err != nil {
			return nil, err
		}
		if d != nil {
			out = append(out, *d)
		}
	}
	return out, nil
}

// Rebuild пересчитывает кеш баланса по журналу проводок.
func Rebuild(ctx context.Context, s Store, accountID int64) (decimal.Decimal, error) {
	if _, err := s.LockAccount(ctx, accountID); err != nil {
		return decimal.Zero, err
	}
	sum, err := s.SumEntries(ctx, accountID)
	if err != nil {
		return decimal.Zero, err
	}
	if err := s.SetBalance(ctx, accountID, sum); err != nil {
		return decimal.Zero, fmt.Errorf("ошибка обновления баланса: %w", err)
	}
	return sum, nil
}
