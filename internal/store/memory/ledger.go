package memory

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"

	"serotonyl.ru/vpn-shop/internal/features/ledger"
)

type ledgerRepo txState

func (r *ledgerRepo) t() *txState { return (*txState)(r) }

func (r *ledgerRepo) EnsureAccount(_ context.Context, accountID int64) (*ledger.Account, error) {
	if err := r.t().call("ledger.EnsureAccount"); err != nil {
		return nil, err
	}
	acc, ok := r.st.accounts[accountID]
	if !ok {
		now := r.t().now()
		acc = ledger.Account{ID: accountID, Balance: decimal.Zero, CreatedAt: now, UpdatedAt: now}
		r.st.accounts[accountID] = acc
	}
	return &acc, nil
}

func (r *ledgerRepo) LockAccount(ctx context.Context, accountID int64) (*ledger.Account, error) {
	if err := r.t().call("ledger.LockAccount"); err != nil {
		return nil, err
	}
	return r.GetAccount(ctx, accountID)
}

func (r *ledgerRepo) GetAccount(_ context.Context, accountID int64) (*ledger.Account, error) {
	acc, ok := r.st.accounts[accountID]
	if !ok {
		return nil, notFound("счёт", accountID)
	}
	return &acc, nil
}

func (r *ledgerRepo) SetBalance(_ context.Context, accountID int64, balance decimal.Decimal) error {
	if err := r.t().call("ledger.SetBalance"); err != nil {
		return err
	}
	acc, ok := r.st.accounts[accountID]
	if !ok {
		return notFound("счёт", accountID)
	}
	acc.Balance = balance
	acc.UpdatedAt = r.t().now()
	r.st.accounts[accountID] = acc
	return nil
}

func (r *ledgerRepo) InsertEntry(_ context.Context, e *ledger.Entry) error {
	if err := r.t().call("ledger.InsertEntry"); err != nil {
		return err
	}
	if _, ok := r.st.accounts[e.AccountID]; !ok {
		return notFound("счёт", e.AccountID)
	}
	e.ID = r.st.nextID()
	e.CreatedAt = r.t().now()
	r.st.entries = append(r.st.entries, *e)
	return nil
}

func (r *ledgerRepo) SumEntries(_ context.Context, accountID int64) (decimal.Decimal, error) {
	sum := decimal.Zero
	for _, e := range r.st.entries {
		e := e
		if e.AccountID == accountID {
			sum = sum.Add(e.Amount)
		}
	}
	return sum, nil
}

func (r *ledgerRepo) ListEntries(_ context.Context, accountID int64, limit int) ([]*ledger.Entry, error) {
	var out []*ledger.Entry
	for i := len(r.st.entries) - 1; i >= 0; i-- {
		e := r.st.entries[i]
		if e.AccountID != accountID {
			continue
		}
		out = append(out, &e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *ledgerRepo) ListEntriesByOperation(_ context.Context, operationID string) ([]*ledger.Entry, error) {
	var out []*ledger.Entry
	for _, e := range r.st.entries {
		e := e
		if e.OperationID == operationID {
			out = append(out, &e)
		}
	}
	return out, nil
}

func (r *ledgerRepo) ListAccountIDs(_ context.Context) ([]int64, error) {
	ids := make([]int64, 0, len(r.st.accounts))
	for id := range r.st.accounts {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}
