package catalog

import "context"

// Store — доступ к тарифам и серверам.
type Store interface {
	GetPlan(ctx context.Context, id int64) (*Plan, error)
	// LatestInFamily возвращает последнюю активную версию тарифа
	// для указанного сервера. Нет такой — common.ErrPlanInactive.
	LatestInFamily(ctx context.Context, family string, backendID int64) (*Plan, error)
	ListActivePlans(ctx context.Context) ([]*Plan, error)
	// CreatePlan сохраняет новую версию: Version = max(version)+1 в семействе.
	CreatePlan(ctx context.Context, p *Plan) error
	SetPlanActive(ctx context.Context, id int64, active bool) error

	GetBackend(ctx context.Context, id int64) (*Backend, error)
	ListBackends(ctx context.Context) ([]*Backend, error)
	CreateBackend(ctx context.Context, b *Backend) error
}
