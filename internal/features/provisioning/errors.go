package provisioning

import (
	"context"
	"errors"
	"fmt"

	"serotonyl.ru/vpn-shop/internal/common"
	"serotonyl.ru/vpn-shop/internal/features/entitlements"
)

// ErrPartiallyApplied — роутер продлил срок, но не выдал трафик.
// Деньги возвращаются, продлённый срок на роутере покажет отчёт сверки.
var ErrPartiallyApplied = errors.New("срок на сервере продлён, трафик не выдан")

// ProvisioningError — операция не применилась на сервере доступа.
// MoneyMoved говорит вызывающему, остались ли деньги списанными.
type ProvisioningError struct {
	Op            string // purchase, renewal, admin_extend, ...
	OperationID   string
	Cause         error
	BackendDetail string
	MoneyMoved    bool
	// Pending — изменение на роутере применено, но локально не записано.
	// Операцию завершит сверка.
	Pending bool
}

func (e *ProvisioningError) Error() string {
	msg := fmt.Sprintf("%s [op:%s]: %v", e.Op, e.OperationID, common.ErrProvisioningFailed)
	if e.Pending {
		msg = fmt.Sprintf("%s [op:%s]: изменение применено на сервере, запись будет завершена сверкой", e.Op, e.OperationID)
	}
	if e.BackendDetail != "" {
		msg += ": " + e.BackendDetail
	}
	if e.MoneyMoved {
		msg += " (средства списаны)"
	}
	return msg
}

func (e *ProvisioningError) Unwrap() error {
	return e.Cause
}

func (e *ProvisioningError) Is(target error) bool {
	return target == common.ErrProvisioningFailed && !e.Pending
}

// known — ошибки, которые отдаются вызывающему как есть.
var known = []error{
	common.ErrInsufficientFunds,
	common.ErrInvalidAmount,
	common.ErrNotFound,
	common.ErrAlreadyDecided,
	common.ErrPlanInactive,
	common.ErrOperationNotPending,
	common.ErrNotAdmin,
	common.ErrProvisioningFailed,
	common.ErrInternal,
	entitlements.ErrUsernameTaken,
	context.Canceled,
	context.DeadlineExceeded,
}

// storageErr приводит ошибку хранилища к таксономии: всё неизвестное — ErrInternal.
func storageErr(err error) error {
	if err == nil {
		return nil
	}
	for _, k := range known {
		if errors.Is(err, k) {
			return err
		}
	}
	var pe *ProvisioningError
	if errors.As(err, &pe) {
		return err
	}
	return fmt.Errorf("%w: %v", common.ErrInternal, err)
}
