package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	db "serotonyl.ru/vpn-shop/internal/db/postgres"
	"serotonyl.ru/vpn-shop/internal/features/receipts"
)

// ReceiptRepository работает с таблицей receipts.
type ReceiptRepository struct {
	db db.DBTX
}

const receiptColumns = `id, account_id, claimed_amount, evidence_ref, status,
	decision_memo, decided_by, submitted_at, decided_at`

func scanReceipt(row pgx.Row) (*receipts.Receipt, error) {
	var r receipts.Receipt
	var status string
	err := row.Scan(&r.ID, &r.AccountID, &r.ClaimedAmount, &r.EvidenceRef, &status,
		&r.DecisionMemo, &r.DecidedBy, &r.SubmittedAt, &r.DecidedAt)
	if err != nil {
		return nil, err
	}
	r.Status = receipts.Status(status)
	return &r, nil
}

func (r *ReceiptRepository) Insert(ctx context.Context, rc *receipts.Receipt) error {
	if rc.Status == "" {
		rc.Status = receipts.StatusPending
	}
	err := r.db.QueryRow(ctx, `
		INSERT INTO receipts (account_id, claimed_amount, evidence_ref, status)
		VALUES ($1, $2, $3, $4)
		RETURNING id, submitted_at
	`, rc.AccountID, rc.ClaimedAmount, rc.EvidenceRef, string(rc.Status)).Scan(&rc.ID, &rc.SubmittedAt)
	if err != nil {
		return fmt.Errorf("ошибка сохранения чека: %w", err)
	}
	return nil
}

func (r *ReceiptRepository) Get(ctx context.Context, id int64) (*receipts.Receipt, error) {
	rc, err := scanReceipt(r.db.QueryRow(ctx, `SELECT `+receiptColumns+` FROM receipts WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "чек", id)
	}
	return rc, nil
}

func (r *ReceiptRepository) Lock(ctx context.Context, id int64) (*receipts.Receipt, error) {
	rc, err := scanReceipt(r.db.QueryRow(ctx, `SELECT `+receiptColumns+` FROM receipts WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, notFound(err, "чек", id)
	}
	return rc, nil
}

func (r *ReceiptRepository) list(ctx context.Context, where string, args ...any) ([]*receipts.Receipt, error) {
	rows, err := r.db.Query(ctx, `SELECT `+receiptColumns+` FROM receipts `+where+` ORDER BY id`, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения чеков: %w", err)
	}
	defer rows.Close()

	var out []*receipts.Receipt
	for rows.Next() {
		rc, err := scanReceipt(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования чека: %w", err)
		}
		out = append(out, rc)
	}
	return out, rows.Err()
}

func (r *ReceiptRepository) ListPending(ctx context.Context) ([]*receipts.Receipt, error) {
	return r.list(ctx, `WHERE status = 'pending'`)
}

func (r *ReceiptRepository) ListForAccount(ctx context.Context, accountID int64) ([]*receipts.Receipt, error) {
	return r.list(ctx, `WHERE account_id = $1`, accountID)
}

func (r *ReceiptRepository) SetDecision(ctx context.Context, id int64, status receipts.Status, memo string, actor int64, at time.Time) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE receipts SET status = $2, decision_memo = $3, decided_by = $4, decided_at = $5
		WHERE id = $1
	`, id, string(status), memo, actor, at)
	if err != nil {
		return fmt.Errorf("ошибка записи решения по чеку: %w", err)
	}
	return mustAffect(tag.RowsAffected(), "чек", id)
}
