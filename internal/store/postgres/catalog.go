package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"serotonyl.ru/vpn-shop/internal/common"
	db "serotonyl.ru/vpn-shop/internal/db/postgres"
	"serotonyl.ru/vpn-shop/internal/features/catalog"
	"serotonyl.ru/vpn-shop/internal/secret"
)

// CatalogRepository работает с таблицами plans и backends.
type CatalogRepository struct {
	db db.DBTX
}

const planColumns = `id, family, version, name, description, price, validity_days,
	data_cap_bytes, remote_profile, rate_limit, backend_id, active, created_at`

func scanPlan(row pgx.Row) (*catalog.Plan, error) {
	var p catalog.Plan
	err := row.Scan(&p.ID, &p.Family, &p.Version, &p.Name, &p.Description, &p.Price, &p.ValidityDays,
		&p.DataCapBytes, &p.RemoteProfile, &p.RateLimit, &p.BackendID, &p.Active, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *CatalogRepository) GetPlan(ctx context.Context, id int64) (*catalog.Plan, error) {
	p, err := scanPlan(r.db.QueryRow(ctx, `SELECT `+planColumns+` FROM plans WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "тариф", id)
	}
	return p, nil
}

func (r *CatalogRepository) LatestInFamily(ctx context.Context, family string, backendID int64) (*catalog.Plan, error) {
	p, err := scanPlan(r.db.QueryRow(ctx, `
		SELECT `+planColumns+` FROM plans
		WHERE family = $1 AND backend_id = $2 AND active
		ORDER BY version DESC LIMIT 1
	`, family, backendID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: семейство %s", common.ErrPlanInactive, family)
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка получения тарифа: %w", err)
	}
	return p, nil
}

func (r *CatalogRepository) ListActivePlans(ctx context.Context) ([]*catalog.Plan, error) {
	rows, err := r.db.Query(ctx, `SELECT `+planColumns+` FROM plans WHERE active ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения тарифов: %w", err)
	}
	defer rows.Close()

	var plans []*catalog.Plan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования тарифа: %w", err)
		}
		plans = append(plans, p)
	}
	return plans, rows.Err()
}

// CreatePlan добавляет версию тарифа. Номер версии считается в той же
// транзакции, уникальный индекс (family, backend_id, version) ловит гонки.
func (r *CatalogRepository) CreatePlan(ctx context.Context, p *catalog.Plan) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO plans
			(family, version, name, description, price, validity_days, data_cap_bytes,
			 remote_profile, rate_limit, backend_id, active)
		VALUES ($1,
			(SELECT COALESCE(MAX(version), 0) + 1 FROM plans WHERE family = $1 AND backend_id = $9),
			$2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, version, created_at
	`, p.Family, p.Name, p.Description, p.Price, p.ValidityDays, p.DataCapBytes,
		p.RemoteProfile, p.RateLimit, p.BackendID, p.Active,
	).Scan(&p.ID, &p.Version, &p.CreatedAt)
	if err != nil {
		return fmt.Errorf("ошибка создания тарифа: %w", err)
	}
	return nil
}

func (r *CatalogRepository) SetPlanActive(ctx context.Context, id int64, active bool) error {
	tag, err := r.db.Exec(ctx, `UPDATE plans SET active = $2 WHERE id = $1`, id, active)
	if err != nil {
		return fmt.Errorf("ошибка обновления тарифа: %w", err)
	}
	return mustAffect(tag.RowsAffected(), "тариф", id)
}

const backendColumns = `id, name, kind, host, port, username, password, location, active, created_at`

func scanBackend(row pgx.Row) (*catalog.Backend, error) {
	var b catalog.Backend
	var kind, password string
	err := row.Scan(&b.ID, &b.Name, &kind, &b.Host, &b.Port, &b.Username, &password, &b.Location, &b.Active, &b.CreatedAt)
	if err != nil {
		return nil, err
	}
	b.Kind = catalog.BackendKind(kind)
	b.Password = secret.Sealed(password)
	return &b, nil
}

func (r *CatalogRepository) GetBackend(ctx context.Context, id int64) (*catalog.Backend, error) {
	b, err := scanBackend(r.db.QueryRow(ctx, `SELECT `+backendColumns+` FROM backends WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "сервер", id)
	}
	return b, nil
}

func (r *CatalogRepository) ListBackends(ctx context.Context) ([]*catalog.Backend, error) {
	rows, err := r.db.Query(ctx, `SELECT `+backendColumns+` FROM backends ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения серверов: %w", err)
	}
	defer rows.Close()

	var out []*catalog.Backend
	for rows.Next() {
		b, err := scanBackend(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования сервера: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (r *CatalogRepository) CreateBackend(ctx context.Context, b *catalog.Backend) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO backends (name, kind, host, port, username, password, location, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at
	`, b.Name, string(b.Kind), b.Host, b.Port, b.Username, string(b.Password), b.Location, b.Active,
	).Scan(&b.ID, &b.CreatedAt)
	if err != nil {
		return fmt.Errorf("ошибка создания сервера: %w", err)
	}
	return nil
}
