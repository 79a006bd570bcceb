package memory

import (
	"context"
	"sort"
	"time"

	"serotonyl.ru/vpn-shop/internal/features/entitlements"
	"serotonyl.ru/vpn-shop/internal/secret"
)

type entitlementRepo txState

func (r *entitlementRepo) t() *txState { return (*txState)(r) }

func (r *entitlementRepo) Get(_ context.Context, id int64) (*entitlements.Subscription, error) {
	sub, ok := r.st.subscriptions[id]
	if !ok {
		return nil, notFound("подписка", id)
	}
	return &sub, nil
}

func (r *entitlementRepo) GetByRemoteUsername(_ context.Context, username string) (*entitlements.Subscription, error) {
	for _, sub := range r.st.subscriptions {
		sub := sub
		if sub.RemoteUsername == username {
			return &sub, nil
		}
	}
	return nil, notFound("подписка", username)
}

func (r *entitlementRepo) filter(keep func(entitlements.Subscription) bool) []*entitlements.Subscription {
	var out []*entitlements.Subscription
	for _, sub := range r.st.subscriptions {
		sub := sub
		if keep(sub) {
			out = append(out, &sub)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *entitlementRepo) ListForAccount(_ context.Context, accountID int64) ([]*entitlements.Subscription, error) {
	return r.filter(func(s entitlements.Subscription) bool { return s.OwnerAccountID == accountID }), nil
}

func (r *entitlementRepo) ListExpiring(_ context.Context, before time.Time) ([]*entitlements.Subscription, error) {
	return r.filter(func(s entitlements.Subscription) bool { return s.ExpiryAt.Before(before) }), nil
}

func (r *entitlementRepo) List(_ context.Context) ([]*entitlements.Subscription, error) {
	return r.filter(func(entitlements.Subscription) bool { return true }), nil
}

func (r *entitlementRepo) Create(_ context.Context, s *entitlements.Subscription) error {
	if err := r.t().call("entitlements.Create"); err != nil {
		return err
	}
	for _, existing := range r.st.subscriptions {
		if existing.RemoteUsername == s.RemoteUsername {
			return entitlements.ErrUsernameTaken
		}
	}
	s.ID = r.st.nextID()
	s.CreatedAt = r.t().now()
	r.st.subscriptions[s.ID] = *s
	return nil
}

func (r *entitlementRepo) UpdateExpiry(_ context.Context, id int64, term entitlements.Term) error {
	if err := r.t().call("entitlements.UpdateExpiry"); err != nil {
		return err
	}
	sub, ok := r.st.subscriptions[id]
	if !ok {
		return notFound("подписка", id)
	}
	sub.Plan = term.Plan
	sub.ExpiryAt = term.ExpiryAt
	sub.TotalCapBytes = term.TotalCapBytes
	if term.RenewedAt != nil {
		at := *term.RenewedAt
		sub.RenewedAt = &at
	}
	r.st.subscriptions[id] = sub
	return nil
}

func (r *entitlementRepo) UpdateCredentials(_ context.Context, id int64, sealed secret.Sealed) error {
	if err := r.t().call("entitlements.UpdateCredentials"); err != nil {
		return err
	}
	sub, ok := r.st.subscriptions[id]
	if !ok {
		return notFound("подписка", id)
	}
	sub.RemoteSecret = sealed
	r.st.subscriptions[id] = sub
	return nil
}

func (r *entitlementRepo) Delete(_ context.Context, id int64) error {
	if err := r.t().call("entitlements.Delete"); err != nil {
		return err
	}
	if _, ok := r.st.subscriptions[id]; !ok {
		return notFound("подписка", id)
	}
	delete(r.st.subscriptions, id)
	return nil
}

func (r *entitlementRepo) ReserveUsername(_ context.Context, username string) error {
	if err := r.t().call("entitlements.ReserveUsername"); err != nil {
		return err
	}
	if _, ok := r.st.usernames[username]; ok {
		return entitlements.ErrUsernameTaken
	}
	r.st.usernames[username] = struct{}{}
	return nil
}
