package provisioning

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/vpn-shop/internal/features/ledger"
	"serotonyl.ru/vpn-shop/internal/features/receipts"
	"serotonyl.ru/vpn-shop/internal/store"
)

// SubmitReceipt ставит чек о пополнении в очередь на проверку.
func (o *Orchestrator) SubmitReceipt(ctx context.Context, accountID int64, amount decimal.Decimal, evidenceRef string) (*receipts.Receipt, error) {
	if err := o.limits.Validate(amount); err != nil {
		return nil, err
	}
	r := &receipts.Receipt{
		AccountID:     accountID,
		ClaimedAmount: amount,
		EvidenceRef:   strings.TrimSpace(evidenceRef),
		Status:        receipts.StatusPending,
	}
	err := o.uow.Do(ctx, func(ctx context.Context, tx *store.Tx) error {
		if _, err := tx.Ledger.EnsureAccount(ctx, accountID); err != nil {
			return err
		}
		return tx.Receipts.Insert(ctx, r)
	})
	if err != nil {
		return nil, storageErr(err)
	}
	log.WithFields(log.Fields{"receipt": r.ID, "account": accountID, "amount": amount.String()}).Info("Чек принят на проверку")
	return r, nil
}

// ApproveReceipt подтверждает чек и зачисляет сумму одной транзакцией:
// чек не может стать approved без проводки.
func (o *Orchestrator) ApproveReceipt(ctx context.Context, actor, receiptID int64, memo string) (*receipts.Receipt, error) {
	return o.decideReceipt(ctx, actor, receiptID, receipts.StatusApproved, memo)
}

// RejectReceipt отклоняет чек. Баланс не меняется, решение окончательное.
func (o *Orchestrator) RejectReceipt(ctx context.Context, actor, receiptID int64, memo string) (*receipts.Receipt, error) {
	return o.decideReceipt(ctx, actor, receiptID, receipts.StatusRejected, memo)
}

func (o *Orchestrator) decideReceipt(ctx context.Context, actor, receiptID int64, status receipts.Status, memo string) (*receipts.Receipt, error) {
	if err := o.requireAdmin(ctx, actor); err != nil {
		return nil, err
	}
	return detach(o, ctx, "receipt_"+string(status), func(ctx context.Context) (*receipts.Receipt, error) {
		var decided *receipts.Receipt
		err := o.uow.Do(ctx, func(ctx context.Context, tx *store.Tx) error {
			r, err := receipts.Decide(ctx, tx.Receipts, receiptID, status, memo, actor, o.now())
			if err != nil {
				return err
			}
			decided = r
			if status != receipts.StatusApproved {
				return nil
			}
			if _, err := tx.Ledger.EnsureAccount(ctx, r.AccountID); err != nil {
				return err
			}
			_, err = ledger.Credit(ctx, tx.Ledger, r.AccountID, r.ClaimedAmount, ledger.KindDeposit, fmt.Sprintf("receipt #%d", r.ID), "")
			return err
		})
		if err != nil {
			return nil, storageErr(err)
		}

		log.WithFields(log.Fields{
			"receipt": decided.ID,
			"account": decided.AccountID,
			"status":  decided.Status,
			"actor":   actor,
		}).Info("Решение по чеку")
		o.emit(ctx, Event{
			Kind:          EventReceiptDecided,
			AccountID:     decided.AccountID,
			ReceiptID:     decided.ID,
			ReceiptStatus: decided.Status,
			Amount:        decided.ClaimedAmount,
			Detail:        decided.DecisionMemo,
		})
		return decided, nil
	})
}

// PendingReceipts — очередь чеков на проверку.
func (o *Orchestrator) PendingReceipts(ctx context.Context) ([]*receipts.Receipt, error) {
	var out []*receipts.Receipt
	err := o.uow.Do(ctx, func(ctx context.Context, tx *store.Tx) error {
		var err error
		out, err = tx.Receipts.ListPending(ctx)
		return err
	})
	return out, storageErr(err)
}
