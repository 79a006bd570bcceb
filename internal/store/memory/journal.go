package memory

import (
	"context"
	"sort"
	"time"

	"serotonyl.ru/vpn-shop/internal/features/journal"
)

type journalRepo txState

func (r *journalRepo) t() *txState { return (*txState)(r) }

func (r *journalRepo) Insert(_ context.Context, op *journal.Operation) error {
	if err := r.t().call("journal.Insert"); err != nil {
		return err
	}
	now := r.t().now()
	op.CreatedAt = now
	op.UpdatedAt = now
	r.st.operations[op.ID] = *op
	return nil
}

func (r *journalRepo) Get(_ context.Context, id string) (*journal.Operation, error) {
	op, ok := r.st.operations[id]
	if !ok {
		return nil, notFound("операция", id)
	}
	return &op, nil
}

func (r *journalRepo) Lock(ctx context.Context, id string) (*journal.Operation, error) {
	if err := r.t().call("journal.Lock"); err != nil {
		return nil, err
	}
	return r.Get(ctx, id)
}

func (r *journalRepo) update(id string, fn func(op *journal.Operation)) error {
	op, ok := r.st.operations[id]
	if !ok {
		return notFound("операция", id)
	}
	fn(&op)
	op.UpdatedAt = r.t().now()
	r.st.operations[id] = op
	return nil
}

func (r *journalRepo) SetState(_ context.Context, id string, state journal.State, errMsg string) error {
	if err := r.t().call("journal.SetState"); err != nil {
		return err
	}
	return r.update(id, func(op *journal.Operation) {
		op.State = state
		op.Error = errMsg
	})
}

func (r *journalRepo) SetSubscription(_ context.Context, id string, subscriptionID int64) error {
	return r.update(id, func(op *journal.Operation) { op.SubscriptionID = subscriptionID })
}

func (r *journalRepo) SetRemoteCleanup(_ context.Context, id string, pending bool) error {
	return r.update(id, func(op *journal.Operation) { op.RemoteCleanup = pending })
}

func (r *journalRepo) list(keep func(journal.Operation) bool) []*journal.Operation {
	var out []*journal.Operation
	for _, op := range r.st.operations {
		op := op
		if keep(op) {
			out = append(out, &op)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (r *journalRepo) ListPending(_ context.Context, olderThan time.Time) ([]*journal.Operation, error) {
	return r.list(func(op journal.Operation) bool {
		return op.State == journal.StatePending && op.CreatedAt.Before(olderThan)
	}), nil
}

func (r *journalRepo) ListRemoteCleanup(_ context.Context) ([]*journal.Operation, error) {
	return r.list(func(op journal.Operation) bool { return op.RemoteCleanup }), nil
}
