package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	db "serotonyl.ru/vpn-shop/internal/db/postgres"
	"serotonyl.ru/vpn-shop/internal/features/entitlements"
	"serotonyl.ru/vpn-shop/internal/secret"
)

// EntitlementRepository работает с таблицами subscriptions и remote_usernames.
type EntitlementRepository struct {
	db db.DBTX
}

const subscriptionColumns = `id, owner_account_id, backend_id, remote_username, remote_secret,
	plan, expiry_at, total_cap_bytes, created_at, renewed_at`

func scanSubscription(row pgx.Row) (*entitlements.Subscription, error) {
	var s entitlements.Subscription
	var sealed string
	var plan []byte
	err := row.Scan(&s.ID, &s.OwnerAccountID, &s.BackendID, &s.RemoteUsername, &sealed,
		&plan, &s.ExpiryAt, &s.TotalCapBytes, &s.CreatedAt, &s.RenewedAt)
	if err != nil {
		return nil, err
	}
	s.RemoteSecret = secret.Sealed(sealed)
	if err := json.Unmarshal(plan, &s.Plan); err != nil {
		return nil, fmt.Errorf("подписка %d: битый снимок тарифа: %w", s.ID, err)
	}
	return &s, nil
}

func (r *EntitlementRepository) Get(ctx context.Context, id int64) (*entitlements.Subscription, error) {
	s, err := scanSubscription(r.db.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "подписка", id)
	}
	return s, nil
}

func (r *EntitlementRepository) GetByRemoteUsername(ctx context.Context, username string) (*entitlements.Subscription, error) {
	s, err := scanSubscription(r.db.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE remote_username = $1`, username))
	if err != nil {
		return nil, notFound(err, "подписка", username)
	}
	return s, nil
}

func (r *EntitlementRepository) list(ctx context.Context, where string, args ...any) ([]*entitlements.Subscription, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions `+where+` ORDER BY id`, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения подписок: %w", err)
	}
	defer rows.Close()

	var subs []*entitlements.Subscription
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования подписки: %w", err)
		}
		subs = append(subs, s)
	}
	return subs, rows.Err()
}

func (r *EntitlementRepository) ListForAccount(ctx context.Context, accountID int64) ([]*entitlements.Subscription, error) {
	return r.list(ctx, `WHERE owner_account_id = $1`, accountID)
}

func (r *EntitlementRepository) ListExpiring(ctx context.Context, before time.Time) ([]*entitlements.Subscription, error) {
	return r.list(ctx, `WHERE expiry_at < $1`, before)
}

func (r *EntitlementRepository) List(ctx context.Context) ([]*entitlements.Subscription, error) {
	return r.list(ctx, ``)
}

func (r *EntitlementRepository) Create(ctx context.Context, s *entitlements.Subscription) error {
	plan, err := json.Marshal(s.Plan)
	if err != nil {
		return fmt.Errorf("ошибка сериализации тарифа: %w", err)
	}
	err = r.db.QueryRow(ctx, `
		INSERT INTO subscriptions
			(owner_account_id, backend_id, remote_username, remote_secret, plan_id, plan, expiry_at, total_cap_bytes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at
	`, s.OwnerAccountID, s.BackendID, s.RemoteUsername, string(s.RemoteSecret),
		s.Plan.PlanID, plan, s.ExpiryAt, s.TotalCapBytes,
	).Scan(&s.ID, &s.CreatedAt)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return entitlements.ErrUsernameTaken
		}
		return fmt.Errorf("ошибка создания подписки: %w", err)
	}
	return nil
}

// UpdateExpiry сохраняет новые условия. RenewedAt = nil не трогает колонку.
func (r *EntitlementRepository) UpdateExpiry(ctx context.Context, id int64, term entitlements.Term) error {
	plan, err := json.Marshal(term.Plan)
	if err != nil {
		return fmt.Errorf("ошибка сериализации тарифа: %w", err)
	}
	tag, err := r.db.Exec(ctx, `
		UPDATE subscriptions
		SET plan_id = $2, plan = $3, expiry_at = $4, total_cap_bytes = $5,
		    renewed_at = COALESCE($6, renewed_at)
		WHERE id = $1
	`, id, term.Plan.PlanID, plan, term.ExpiryAt, term.TotalCapBytes, term.RenewedAt)
	if err != nil {
		return fmt.Errorf("ошибка обновления подписки: %w", err)
	}
	return mustAffect(tag.RowsAffected(), "подписка", id)
}

func (r *EntitlementRepository) UpdateCredentials(ctx context.Context, id int64, sealed secret.Sealed) error {
	tag, err := r.db.Exec(ctx, `UPDATE subscriptions SET remote_secret = $2 WHERE id = $1`, id, string(sealed))
	if err != nil {
		return fmt.Errorf("ошибка обновления пароля: %w", err)
	}
	return mustAffect(tag.RowsAffected(), "подписка", id)
}

// Delete удаляет подписку. Логин остаётся в remote_usernames навсегда.
func (r *EntitlementRepository) Delete(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM subscriptions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("ошибка удаления подписки: %w", err)
	}
	return mustAffect(tag.RowsAffected(), "подписка", id)
}

func (r *EntitlementRepository) ReserveUsername(ctx context.Context, username string) error {
	_, err := r.db.Exec(ctx, `INSERT INTO remote_usernames (username) VALUES ($1)`, username)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return entitlements.ErrUsernameTaken
		}
		return fmt.Errorf("ошибка резервирования логина: %w", err)
	}
	return nil
}
