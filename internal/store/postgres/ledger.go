package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	db "serotonyl.ru/vpn-shop/internal/db/postgres"
	"serotonyl.ru/vpn-shop/internal/features/ledger"
)

// LedgerRepository работает с таблицами accounts и ledger_entries.
type LedgerRepository struct {
	db db.DBTX
}

const accountColumns = `id, balance, created_at, updated_at`

func scanAccount(row pgx.Row) (*ledger.Account, error) {
	var a ledger.Account
	if err := row.Scan(&a.ID, &a.Balance, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}

// EnsureAccount создаёт счёт при первом обращении пользователя.
func (r *LedgerRepository) EnsureAccount(ctx context.Context, accountID int64) (*ledger.Account, error) {
	_, err := r.db.Exec(ctx, `
		INSERT INTO accounts (id, balance) VALUES ($1, 0)
		ON CONFLICT (id) DO NOTHING
	`, accountID)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания счёта: %w", err)
	}
	return r.GetAccount(ctx, accountID)
}

// LockAccount блокирует строку счёта до конца транзакции.
func (r *LedgerRepository) LockAccount(ctx context.Context, accountID int64) (*ledger.Account, error) {
	a, err := scanAccount(r.db.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = $1 FOR UPDATE`, accountID))
	if err != nil {
		return nil, notFound(err, "счёт", accountID)
	}
	return a, nil
}

func (r *LedgerRepository) GetAccount(ctx context.Context, accountID int64) (*ledger.Account, error) {
	a, err := scanAccount(r.db.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = $1`, accountID))
	if err != nil {
		return nil, notFound(err, "счёт", accountID)
	}
	return a, nil
}

func (r *LedgerRepository) SetBalance(ctx context.Context, accountID int64, balance decimal.Decimal) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE accounts SET balance = $2, updated_at = NOW() WHERE id = $1
	`, accountID, balance)
	if err != nil {
		return fmt.Errorf("ошибка обновления баланса: %w", err)
	}
	return mustAffect(tag.RowsAffected(), "счёт", accountID)
}

// InsertEntry дописывает проводку. Пустой OperationID пишется как NULL.
func (r *LedgerRepository) InsertEntry(ctx context.Context, e *ledger.Entry) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO ledger_entries (account_id, amount, kind, memo, operation_id)
		VALUES ($1, $2, $3, $4, NULLIF($5, '')::uuid)
		RETURNING id, created_at
	`, e.AccountID, e.Amount, string(e.Kind), e.Memo, e.OperationID).Scan(&e.ID, &e.CreatedAt)
	if err != nil {
		return fmt.Errorf("ошибка записи проводки: %w", err)
	}
	return nil
}

func (r *LedgerRepository) SumEntries(ctx context.Context, accountID int64) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := r.db.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0) FROM ledger_entries WHERE account_id = $1
	`, accountID).Scan(&sum)
	if err != nil {
		return decimal.Zero, fmt.Errorf("ошибка подсчёта проводок: %w", err)
	}
	return sum, nil
}

const entryColumns = `id, account_id, amount, kind, memo, COALESCE(operation_id::text, ''), created_at`

func (r *LedgerRepository) queryEntries(ctx context.Context, sql string, args ...any) ([]*ledger.Entry, error) {
	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения проводок: %w", err)
	}
	defer rows.Close()

	var entries []*ledger.Entry
	for rows.Next() {
		var e ledger.Entry
		var kind string
		if err := rows.Scan(&e.ID, &e.AccountID, &e.Amount, &kind, &e.Memo, &e.OperationID, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("ошибка сканирования проводки: %w", err)
		}
		e.Kind = ledger.Kind(kind)
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// ListEntries возвращает последние limit проводок счёта (0 — все).
func (r *LedgerRepository) ListEntries(ctx context.Context, accountID int64, limit int) ([]*ledger.Entry, error) {
	if limit <= 0 {
		return r.queryEntries(ctx, `
			SELECT `+entryColumns+` FROM ledger_entries
			WHERE account_id = $1 ORDER BY id DESC
		`, accountID)
	}
	return r.queryEntries(ctx, `
		SELECT `+entryColumns+` FROM ledger_entries
		WHERE account_id = $1 ORDER BY id DESC LIMIT $2
	`, accountID, limit)
}

func (r *LedgerRepository) ListEntriesByOperation(ctx context.Context, operationID string) ([]*ledger.Entry, error) {
	return r.queryEntries(ctx, `
		SELECT `+entryColumns+` FROM ledger_entries
		WHERE operation_id = $1::uuid ORDER BY id
	`, operationID)
}

func (r *LedgerRepository) ListAccountIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.db.Query(ctx, `SELECT id FROM accounts ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения счетов: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
