package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/vpn-shop/internal/common"
	"serotonyl.ru/vpn-shop/internal/features/provisioning"
)

type errorResponse struct {
	Error       string `json:"error"`
	OperationID string `json:"operation_id,omitempty"`
	MoneyMoved  bool   `json:"money_moved,omitempty"`
	Pending     bool   `json:"pending,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Debug("Не удалось записать ответ")
	}
}

// errBadRequest — тело или параметры запроса не прошли проверку.
var errBadRequest = errors.New("некорректный запрос")

// statusFor сопоставляет ошибку ядра HTTP-статусу.
func statusFor(err error) int {
	// изменение на роутере: 202 — допишет сверка, 502 — не применилось
	var pe *provisioning.ProvisioningError
	if errors.As(err, &pe) {
		if pe.Pending {
			return http.StatusAccepted
		}
		return http.StatusBadGateway
	}
	switch {
	case errors.Is(err, errBadRequest), errors.Is(err, common.ErrInvalidAmount):
		return http.StatusBadRequest
	case errors.Is(err, common.ErrBadCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, common.ErrNotAdmin), errors.Is(err, common.ErrNotSuperAdmin):
		return http.StatusForbidden
	case errors.Is(err, common.ErrNotFound), errors.Is(err, common.ErrUnknownSetting):
		return http.StatusNotFound
	case errors.Is(err, common.ErrAlreadyDecided),
		errors.Is(err, common.ErrOperationNotPending),
		errors.Is(err, common.ErrPlanInactive),
		errors.Is(err, common.ErrInsufficientFunds):
		return http.StatusConflict
	case errors.Is(err, common.ErrTooManyAttempts):
		return http.StatusTooManyRequests
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	resp := errorResponse{Error: err.Error()}
	var pe *provisioning.ProvisioningError
	if errors.As(err, &pe) {
		resp.OperationID = pe.OperationID
		resp.MoneyMoved = pe.MoneyMoved
		resp.Pending = pe.Pending
	}
	if status == http.StatusInternalServerError {
		log.WithError(err).Error("Ошибка админ-API")
		resp.Error = common.ErrInternal.Error()
	}
	writeJSON(w, status, resp)
}
