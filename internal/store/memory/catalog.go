package memory

import (
	"context"
	"sort"

	"serotonyl.ru/vpn-shop/internal/common"
	"serotonyl.ru/vpn-shop/internal/features/catalog"
)

type catalogRepo txState

func (r *catalogRepo) t() *txState { return (*txState)(r) }

func (r *catalogRepo) GetPlan(_ context.Context, id int64) (*catalog.Plan, error) {
	p, ok := r.st.plans[id]
	if !ok {
		return nil, notFound("тариф", id)
	}
	return &p, nil
}

func (r *catalogRepo) LatestInFamily(_ context.Context, family string, backendID int64) (*catalog.Plan, error) {
	var best *catalog.Plan
	for _, p := range r.st.plans {
		p := p
		if p.Family != family || p.BackendID != backendID || !p.Active {
			continue
		}
		if best == nil || p.Version > best.Version {
			best = &p
		}
	}
	if best == nil {
		return nil, common.ErrPlanInactive
	}
	return best, nil
}

func (r *catalogRepo) ListActivePlans(_ context.Context) ([]*catalog.Plan, error) {
	var out []*catalog.Plan
	for _, p := range r.st.plans {
		p := p
		if p.Active {
			out = append(out, &p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *catalogRepo) CreatePlan(_ context.Context, p *catalog.Plan) error {
	if err := r.t().call("catalog.CreatePlan"); err != nil {
		return err
	}
	version := 0
	for _, existing := range r.st.plans {
		if existing.Family == p.Family && existing.BackendID == p.BackendID && existing.Version > version {
			version = existing.Version
		}
	}
	p.ID = r.st.nextID()
	p.Version = version + 1
	p.CreatedAt = r.t().now()
	r.st.plans[p.ID] = *p
	return nil
}

func (r *catalogRepo) SetPlanActive(_ context.Context, id int64, active bool) error {
	p, ok := r.st.plans[id]
	if !ok {
		return notFound("тариф", id)
	}
	p.Active = active
	r.st.plans[id] = p
	return nil
}

func (r *catalogRepo) GetBackend(_ context.Context, id int64) (*catalog.Backend, error) {
	b, ok := r.st.backends[id]
	if !ok {
		return nil, notFound("сервер", id)
	}
	return &b, nil
}

func (r *catalogRepo) ListBackends(_ context.Context) ([]*catalog.Backend, error) {
	var out []*catalog.Backend
	for _, b := range r.st.backends {
		b := b
		out = append(out, &b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *catalogRepo) CreateBackend(_ context.Context, b *catalog.Backend) error {
	if err := r.t().call("catalog.CreateBackend"); err != nil {
		return err
	}
	b.ID = r.st.nextID()
	b.CreatedAt = r.t().now()
	r.st.backends[b.ID] = *b
	return nil
}
