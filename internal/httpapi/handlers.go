package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"serotonyl.ru/vpn-shop/internal/common"
	"serotonyl.ru/vpn-shop/internal/features/catalog"
	"serotonyl.ru/vpn-shop/internal/features/entitlements"
	"serotonyl.ru/vpn-shop/internal/features/journal"
	"serotonyl.ru/vpn-shop/internal/features/ledger"
	"serotonyl.ru/vpn-shop/internal/features/rad"
	"serotonyl.ru/vpn-shop/internal/features/receipts"
	"serotonyl.ru/vpn-shop/internal/features/settings"
)

func pathID(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: id %q", errBadRequest, raw)
	}
	return id, nil
}

func actor(r *http.Request) int64 {
	id, _ := adminFrom(r.Context())
	return id
}

// --- Ответы ---

type operationResponse struct {
	ID             string          `json:"id"`
	Kind           journal.Kind    `json:"kind"`
	State          journal.State   `json:"state"`
	AccountID      int64           `json:"account_id"`
	SubscriptionID int64           `json:"subscription_id,omitempty"`
	BackendID      int64           `json:"backend_id"`
	RemoteUsername string          `json:"remote_username,omitempty"`
	Amount         decimal.Decimal `json:"amount"`
	Error          string          `json:"error,omitempty"`
	RemoteCleanup  bool            `json:"remote_cleanup,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

func toOperation(op *journal.Operation) operationResponse {
	return operationResponse{
		ID:             op.ID,
		Kind:           op.Kind,
		State:          op.State,
		AccountID:      op.AccountID,
		SubscriptionID: op.SubscriptionID,
		BackendID:      op.BackendID,
		RemoteUsername: op.RemoteUsername,
		Amount:         op.Amount,
		Error:          op.Error,
		RemoteCleanup:  op.RemoteCleanup,
		CreatedAt:      op.CreatedAt,
		UpdatedAt:      op.UpdatedAt,
	}
}

type subscriptionResponse struct {
	ID             int64              `json:"id"`
	AccountID      int64              `json:"account_id"`
	BackendID      int64              `json:"backend_id"`
	RemoteUsername string             `json:"remote_username"`
	Plan           catalog.Snapshot   `json:"plan"`
	ExpiryAt       time.Time          `json:"expiry_at"`
	TotalCapBytes  int64              `json:"total_cap_bytes"`
	RenewedAt      *time.Time         `json:"renewed_at,omitempty"`
	Expired        bool               `json:"expired"`
	DaysLeft       int                `json:"days_left"`
	Remote         *rad.AccountStatus `json:"remote,omitempty"`
	RemoteError    string             `json:"remote_error,omitempty"`
}

func toSubscription(sub *entitlements.Subscription, now time.Time) subscriptionResponse {
	return subscriptionResponse{
		ID:             sub.ID,
		AccountID:      sub.OwnerAccountID,
		BackendID:      sub.BackendID,
		RemoteUsername: sub.RemoteUsername,
		Plan:           sub.Plan,
		ExpiryAt:       sub.ExpiryAt,
		TotalCapBytes:  sub.TotalCapBytes,
		RenewedAt:      sub.RenewedAt,
		Expired:        sub.Expired(now),
		DaysLeft:       sub.DaysLeft(now),
	}
}

type receiptResponse struct {
	ID           int64           `json:"id"`
	AccountID    int64           `json:"account_id"`
	Amount       decimal.Decimal `json:"amount"`
	EvidenceRef  string          `json:"evidence_ref"`
	Status       receipts.Status `json:"status"`
	DecisionMemo string          `json:"decision_memo,omitempty"`
	DecidedBy    int64           `json:"decided_by,omitempty"`
	SubmittedAt  time.Time       `json:"submitted_at"`
}

func toReceipt(rc *receipts.Receipt) receiptResponse {
	return receiptResponse{
		ID:           rc.ID,
		AccountID:    rc.AccountID,
		Amount:       rc.ClaimedAmount,
		EvidenceRef:  rc.EvidenceRef,
		Status:       rc.Status,
		DecisionMemo: rc.DecisionMemo,
		DecidedBy:    rc.DecidedBy,
		SubmittedAt:  rc.SubmittedAt,
	}
}

// --- Сверка ---

type mismatchResponse struct {
	SubscriptionID int64      `json:"subscription_id"`
	RemoteUsername string     `json:"remote_username"`
	LocalExpiry    time.Time  `json:"local_expiry"`
	RemoteExpiry   *time.Time `json:"remote_expiry,omitempty"`
	Missing        bool       `json:"missing"`
}

type reportResponse struct {
	GeneratedAt      time.Time           `json:"generated_at"`
	LastPass         time.Time           `json:"last_pass"`
	Drifts           []ledger.Drift      `json:"drifts"`
	ExpiryMismatches []mismatchResponse  `json:"expiry_mismatches"`
	Unchecked        []int64             `json:"unchecked"`
	StaleOperations  []operationResponse `json:"stale_operations"`
}

func (s *Server) reconciliationReport(w http.ResponseWriter, r *http.Request) {
	rep, err := s.orch.ReconciliationReport(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	resp := reportResponse{
		GeneratedAt:      rep.GeneratedAt,
		LastPass:         rep.LastPass,
		Drifts:           rep.Drifts,
		Unchecked:        rep.Unchecked,
		ExpiryMismatches: make([]mismatchResponse, 0, len(rep.ExpiryMismatches)),
		StaleOperations:  make([]operationResponse, 0, len(rep.StaleOperations)),
	}
	for _, m := range rep.ExpiryMismatches {
		resp.ExpiryMismatches = append(resp.ExpiryMismatches, mismatchResponse(m))
	}
	for _, op := range rep.StaleOperations {
		resp.StaleOperations = append(resp.StaleOperations, toOperation(op))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) runReconcile(w http.ResponseWriter, r *http.Request) {
	pass, err := s.orch.Reconcile(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{
		"completed":   pass.Completed,
		"compensated": pass.Compensated,
		"failed":      pass.Failed,
		"deferred":    pass.Deferred,
		"cleaned_up":  pass.CleanedUp,
	})
}

func (s *Server) repair(w http.ResponseWriter, r *http.Request) {
	op, err := s.orch.Repair(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOperation(op))
}

// --- Чеки ---

type decisionRequest struct {
	Memo string `json:"memo" validate:"max=500"`
}

func (s *Server) pendingReceipts(w http.ResponseWriter, r *http.Request) {
	list, err := s.orch.PendingReceipts(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]receiptResponse, 0, len(list))
	for _, rc := range list {
		out = append(out, toReceipt(rc))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) approveReceipt(w http.ResponseWriter, r *http.Request) {
	s.decideReceipt(w, r, s.orch.ApproveReceipt)
}

func (s *Server) rejectReceipt(w http.ResponseWriter, r *http.Request) {
	s.decideReceipt(w, r, s.orch.RejectReceipt)
}

type decideFunc func(ctx context.Context, actor, receiptID int64, memo string) (*receipts.Receipt, error)

func (s *Server) decideReceipt(w http.ResponseWriter, r *http.Request, decide decideFunc) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req decisionRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	rc, err := decide(r.Context(), actor(r), id, req.Memo)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toReceipt(rc))
}

// --- Счета ---

type accountResponse struct {
	AccountID     int64                  `json:"account_id"`
	Balance       decimal.Decimal        `json:"balance"`
	Entries       []*ledger.Entry        `json:"entries"`
	Subscriptions []subscriptionResponse `json:"subscriptions"`
}

func (s *Server) account(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	balance, err := s.orch.Balance(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	entries, err := s.orch.History(r.Context(), id, 50)
	if err != nil {
		writeError(w, err)
		return
	}
	subs, err := s.orch.Subscriptions(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	resp := accountResponse{AccountID: id, Balance: balance, Entries: entries, Subscriptions: make([]subscriptionResponse, 0, len(subs))}
	now := s.now()
	for _, sub := range subs {
		resp.Subscriptions = append(resp.Subscriptions, toSubscription(sub, now))
	}
	writeJSON(w, http.StatusOK, resp)
}

type balanceRequest struct {
	Balance decimal.Decimal `json:"balance"`
	Reason  string          `json:"reason" validate:"required,max=200"`
}

func (s *Server) adjustBalance(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req balanceRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	balance, err := s.orch.AdjustBalance(r.Context(), actor(r), id, req.Balance, req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"account_id": id, "balance": balance})
}

func (s *Server) rebuildBalance(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	balance, err := s.orch.RebuildBalance(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"account_id": id, "balance": balance})
}

// --- Подписки ---

func (s *Server) subscription(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	view, err := s.orch.SubscriptionStatus(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	resp := toSubscription(view.Subscription, s.now())
	resp.Remote = view.Remote
	resp.RemoteError = view.RemoteError
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) disable(w http.ResponseWriter, r *http.Request) {
	s.subscriptionAction(w, r, func(id int64) error { return s.orch.Disable(r.Context(), actor(r), id) })
}

func (s *Server) enable(w http.ResponseWriter, r *http.Request) {
	s.subscriptionAction(w, r, func(id int64) error { return s.orch.Enable(r.Context(), actor(r), id) })
}

func (s *Server) deleteSubscription(w http.ResponseWriter, r *http.Request) {
	s.subscriptionAction(w, r, func(id int64) error { return s.orch.Delete(r.Context(), actor(r), id) })
}

func (s *Server) subscriptionAction(w http.ResponseWriter, r *http.Request, do func(id int64) error) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := do(id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) resetSecret(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	secret, err := s.orch.ResetSecret(r.Context(), actor(r), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"secret": secret})
}

type extendRequest struct {
	Days int `json:"days" validate:"required,min=1,max=3650"`
}

func (s *Server) extend(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req extendRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	sub, err := s.orch.ExtendExpiry(r.Context(), actor(r), id, req.Days)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSubscription(sub, s.now()))
}

type grantRequest struct {
	Gigabytes int64 `json:"gigabytes" validate:"required,min=1,max=100000"`
}

func (s *Server) grantData(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req grantRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	sub, err := s.orch.GrantData(r.Context(), actor(r), id, req.Gigabytes*common.Gigabyte)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSubscription(sub, s.now()))
}

// --- Тарифы ---

type planRequest struct {
	Family        string          `json:"family" validate:"required,max=64"`
	Name          string          `json:"name" validate:"required,max=128"`
	Description   string          `json:"description" validate:"max=1000"`
	Price         decimal.Decimal `json:"price"`
	ValidityDays  int             `json:"validity_days" validate:"required,min=1,max=3650"`
	DataCapGB     int64           `json:"data_cap_gb" validate:"min=0"`
	RemoteProfile string          `json:"remote_profile" validate:"required,max=64"`
	RateLimit     string          `json:"rate_limit" validate:"max=64"`
	BackendID     int64           `json:"backend_id" validate:"required"`
}

func (s *Server) plans(w http.ResponseWriter, r *http.Request) {
	list, err := s.orch.Plans(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) publishPlan(w http.ResponseWriter, r *http.Request) {
	var req planRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	p, err := s.orch.PublishPlan(r.Context(), actor(r), &catalog.Plan{
		Family:        req.Family,
		Name:          req.Name,
		Description:   req.Description,
		Price:         req.Price,
		ValidityDays:  req.ValidityDays,
		DataCapBytes:  req.DataCapGB * common.Gigabyte,
		RemoteProfile: req.RemoteProfile,
		RateLimit:     req.RateLimit,
		BackendID:     req.BackendID,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

type planActiveRequest struct {
	Active *bool `json:"active" validate:"required"`
}

func (s *Server) setPlanActive(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req planActiveRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.orch.SetPlanActive(r.Context(), actor(r), id, *req.Active); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Настройки ---

func (s *Server) getSetting(w http.ResponseWriter, r *http.Request) {
	raw, err := s.settings.Raw(r.Context(), settings.Key(chi.URLParam(r, "key")))
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(raw)
}

func (s *Server) putSetting(w http.ResponseWriter, r *http.Request) {
	key := settings.Key(chi.URLParam(r, "key"))
	if !settings.Known(key) {
		writeError(w, fmt.Errorf("%w: %s", common.ErrUnknownSetting, key))
		return
	}
	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeError(w, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	if err := s.settings.SetRaw(r.Context(), actor(r), key, raw); err != nil {
		if statusFor(err) == http.StatusInternalServerError && !errors.Is(err, common.ErrInternal) {
			// не прошло проверку типа или validate
			err = fmt.Errorf("%w: %v", errBadRequest, err)
		}
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Админы ---

type adminRequest struct {
	UserID   int64  `json:"user_id" validate:"required"`
	Username string `json:"username" validate:"max=64"`
}

func (s *Server) listAdmins(w http.ResponseWriter, r *http.Request) {
	list, err := s.admins.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) addAdmin(w http.ResponseWriter, r *http.Request) {
	var req adminRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.admins.AddAdmin(r.Context(), actor(r), req.UserID, req.Username); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) removeAdmin(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.admins.RemoveAdmin(r.Context(), actor(r), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
