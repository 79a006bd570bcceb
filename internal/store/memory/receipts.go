package memory

import (
	"context"
	"sort"
	"time"

	"serotonyl.ru/vpn-shop/internal/features/receipts"
)

type receiptRepo txState

func (r *receiptRepo) t() *txState { return (*txState)(r) }

func (r *receiptRepo) Insert(_ context.Context, rc *receipts.Receipt) error {
	if err := r.t().call("receipts.Insert"); err != nil {
		return err
	}
	rc.ID = r.st.nextID()
	rc.SubmittedAt = r.t().now()
	if rc.Status == "" {
		rc.Status = receipts.StatusPending
	}
	r.st.receipts[rc.ID] = *rc
	return nil
}

func (r *receiptRepo) Get(_ context.Context, id int64) (*receipts.Receipt, error) {
	rc, ok := r.st.receipts[id]
	if !ok {
		return nil, notFound("чек", id)
	}
	return &rc, nil
}

func (r *receiptRepo) Lock(ctx context.Context, id int64) (*receipts.Receipt, error) {
	if err := r.t().call("receipts.Lock"); err != nil {
		return nil, err
	}
	return r.Get(ctx, id)
}

func (r *receiptRepo) list(keep func(receipts.Receipt) bool) []*receipts.Receipt {
	var out []*receipts.Receipt
	for _, rc := range r.st.receipts {
		rc := rc
		if keep(rc) {
			out = append(out, &rc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *receiptRepo) ListPending(_ context.Context) ([]*receipts.Receipt, error) {
	return r.list(func(rc receipts.Receipt) bool { return rc.Status == receipts.StatusPending }), nil
}

func (r *receiptRepo) ListForAccount(_ context.Context, accountID int64) ([]*receipts.Receipt, error) {
	return r.list(func(rc receipts.Receipt) bool { return rc.AccountID == accountID }), nil
}

func (r *receiptRepo) SetDecision(_ context.Context, id int64, status receipts.Status, memo string, actor int64, at time.Time) error {
	if err := r.t().call("receipts.SetDecision"); err != nil {
		return err
	}
	rc, ok := r.st.receipts[id]
	if !ok {
		return notFound("чек", id)
	}
	rc.Status = status
	rc.DecisionMemo = memo
	rc.DecidedBy = actor
	rc.DecidedAt = &at
	r.st.receipts[id] = rc
	return nil
}
