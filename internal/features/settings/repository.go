package settings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Repository читает и пишет таблицу admin_settings.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Get возвращает сырое JSON-значение. ok=false, если ключ ещё не сохранялся.
func (r *Repository) Get(ctx context.Context, key Key) ([]byte, bool, error) {
	var raw []byte
	err := r.db.QueryRowContext(ctx,
		`SELECT value FROM admin_settings WHERE key = $1`, string(key),
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("ошибка чтения настройки %s: %w", key, err)
	}
	return raw, true, nil
}

// Put сохраняет значение.
func (r *Repository) Put(ctx context.Context, key Key, value []byte, actor int64) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO admin_settings (key, value, updated_by, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (key) DO UPDATE
		SET value = EXCLUDED.value, updated_by = EXCLUDED.updated_by, updated_at = NOW()
	`, string(key), value, actor)
	if err != nil {
		return fmt.Errorf("ошибка сохранения настройки %s: %w", key, err)
	}
	return nil
}
