// Package admins — repository.go работает с таблицами admins и admin_login_attempts.
// Таблицы маленькие и редко меняются, поэтому здесь database/sql поверх пула pgx.
package admins

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"serotonyl.ru/vpn-shop/internal/common"
)

// Repository работает с админ-таблицами.
type Repository struct {
	db *sql.DB
}

// NewRepository создаёт репозиторий.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Exists проверяет, есть ли пользователь в таблице admins.
func (r *Repository) Exists(ctx context.Context, userID int64) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM admins WHERE user_id = $1)`, userID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("ошибка проверки админа: %w", err)
	}
	return exists, nil
}

// List возвращает всех админов из БД.
func (r *Repository) List(ctx context.Context) ([]*Admin, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT user_id, username, added_by, added_at FROM admins ORDER BY added_at`)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения админов: %w", err)
	}
	defer rows.Close()

	var out []*Admin
	for rows.Next() {
		var a Admin
		if err := rows.Scan(&a.UserID, &a.Username, &a.AddedBy, &a.AddedAt); err != nil {
			return nil, fmt.Errorf("ошибка сканирования админа: %w", err)
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

// Add добавляет админа. Повторное добавление обновляет username.
func (r *Repository) Add(ctx context.Context, a *Admin) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO admins (user_id, username, added_by)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE SET username = EXCLUDED.username
	`, a.UserID, a.Username, a.AddedBy)
	if err != nil {
		return fmt.Errorf("ошибка добавления админа: %w", err)
	}
	return nil
}

// Remove удаляет админа.
func (r *Repository) Remove(ctx context.Context, userID int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM admins WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("ошибка удаления админа: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: админ %d", common.ErrNotFound, userID)
	}
	return nil
}

// LogAttempt записывает попытку входа в админ-API.
func (r *Repository) LogAttempt(ctx context.Context, userID int64, success bool) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO admin_login_attempts (user_id, success) VALUES ($1, $2)`, userID, success)
	return err
}

// RecentFailures возвращает количество неудачных попыток с момента since.
func (r *Repository) RecentFailures(ctx context.Context, userID int64, since time.Time) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM admin_login_attempts
		WHERE user_id = $1 AND success = FALSE AND attempt_time >= $2
	`, userID, since).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return count, err
}
