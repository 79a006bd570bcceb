package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	db "serotonyl.ru/vpn-shop/internal/db/postgres"
	"serotonyl.ru/vpn-shop/internal/features/journal"
)

// JournalRepository работает с таблицей operations.
type JournalRepository struct {
	db db.DBTX
}

const operationColumns = `id::text, kind, state, account_id, subscription_id, backend_id,
	remote_username, amount, payload, error, remote_cleanup, created_at, updated_at`

func scanOperation(row pgx.Row) (*journal.Operation, error) {
	var op journal.Operation
	var kind, state string
	var payload []byte
	err := row.Scan(&op.ID, &kind, &state, &op.AccountID, &op.SubscriptionID, &op.BackendID,
		&op.RemoteUsername, &op.Amount, &payload, &op.Error, &op.RemoteCleanup, &op.CreatedAt, &op.UpdatedAt)
	if err != nil {
		return nil, err
	}
	op.Kind = journal.Kind(kind)
	op.State = journal.State(state)
	if err := json.Unmarshal(payload, &op.Payload); err != nil {
		return nil, fmt.Errorf("операция %s: битый payload: %w", op.ID, err)
	}
	return &op, nil
}

func (r *JournalRepository) Insert(ctx context.Context, op *journal.Operation) error {
	payload, err := json.Marshal(op.Payload)
	if err != nil {
		return fmt.Errorf("ошибка сериализации payload: %w", err)
	}
	err = r.db.QueryRow(ctx, `
		INSERT INTO operations
			(id, kind, state, account_id, subscription_id, backend_id, remote_username, amount, payload, error)
		VALUES ($1::uuid, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at
	`, op.ID, string(op.Kind), string(op.State), op.AccountID, op.SubscriptionID, op.BackendID,
		op.RemoteUsername, op.Amount, payload, op.Error,
	).Scan(&op.CreatedAt, &op.UpdatedAt)
	if err != nil {
		return fmt.Errorf("ошибка записи операции: %w", err)
	}
	return nil
}

func (r *JournalRepository) Get(ctx context.Context, id string) (*journal.Operation, error) {
	op, err := scanOperation(r.db.QueryRow(ctx,
		`SELECT `+operationColumns+` FROM operations WHERE id = $1::uuid`, id))
	if err != nil {
		return nil, notFound(err, "операция", id)
	}
	return op, nil
}

func (r *JournalRepository) Lock(ctx context.Context, id string) (*journal.Operation, error) {
	op, err := scanOperation(r.db.QueryRow(ctx,
		`SELECT `+operationColumns+` FROM operations WHERE id = $1::uuid FOR UPDATE`, id))
	if err != nil {
		return nil, notFound(err, "операция", id)
	}
	return op, nil
}

func (r *JournalRepository) exec(ctx context.Context, id, sql string, args ...any) error {
	tag, err := r.db.Exec(ctx, sql, append([]any{id}, args...)...)
	if err != nil {
		return fmt.Errorf("ошибка обновления операции: %w", err)
	}
	return mustAffect(tag.RowsAffected(), "операция", id)
}

func (r *JournalRepository) SetState(ctx context.Context, id string, state journal.State, errMsg string) error {
	return r.exec(ctx, id, `
		UPDATE operations SET state = $2, error = $3, updated_at = NOW() WHERE id = $1::uuid
	`, string(state), errMsg)
}

func (r *JournalRepository) SetSubscription(ctx context.Context, id string, subscriptionID int64) error {
	return r.exec(ctx, id, `
		UPDATE operations SET subscription_id = $2, updated_at = NOW() WHERE id = $1::uuid
	`, subscriptionID)
}

func (r *JournalRepository) SetRemoteCleanup(ctx context.Context, id string, pending bool) error {
	return r.exec(ctx, id, `
		UPDATE operations SET remote_cleanup = $2, updated_at = NOW() WHERE id = $1::uuid
	`, pending)
}

func (r *JournalRepository) list(ctx context.Context, where string, args ...any) ([]*journal.Operation, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+operationColumns+` FROM operations `+where+` ORDER BY created_at, id`, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения операций: %w", err)
	}
	defer rows.Close()

	var ops []*journal.Operation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования операции: %w", err)
		}
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

func (r *JournalRepository) ListPending(ctx context.Context, olderThan time.Time) ([]*journal.Operation, error) {
	return r.list(ctx, `WHERE state = 'pending' AND created_at < $1`, olderThan)
}

func (r *JournalRepository) ListRemoteCleanup(ctx context.Context) ([]*journal.Operation, error) {
	return r.list(ctx, `WHERE remote_cleanup`)
}
