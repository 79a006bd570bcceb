// Package ledger — repository.go описывает хранилище счетов и проводок.
// Реализации живут в internal/store/postgres и internal/store/memory.
package ledger

import (
	"context"

	"github.com/shopspring/decimal"
)

// Store — доступ к счетам и проводкам внутри одной единицы работы.
// Бизнес-логики здесь нет, только чтение и запись строк.
type Store interface {
	// EnsureAccount создаёт счёт с нулевым балансом, если его ещё нет.
	EnsureAccount(ctx context.Context, accountID int64) (*Account, error)
	// LockAccount читает счёт с блокировкой строки до конца единицы работы.
	// Нет счёта — common.ErrNotFound.
	LockAccount(ctx context.Context, accountID int64) (*Account, error)
	GetAccount(ctx context.Context, accountID int64) (*Account, error)
	SetBalance(ctx context.Context, accountID int64, balance decimal.Decimal) error
	// InsertEntry дописывает проводку и заполняет её ID и CreatedAt.
	InsertEntry(ctx context.Context, e *Entry) error
	SumEntries(ctx context.Context, accountID int64) (decimal.Decimal, error)
	// ListEntries возвращает последние проводки счёта, новые первыми.
	ListEntries(ctx context.Context, accountID int64, limit int) ([]*Entry, error)
	ListEntriesByOperation(ctx context.Context, operationID string) ([]*Entry, error)
	ListAccountIDs(ctx context.Context) ([]int64, error)
}
