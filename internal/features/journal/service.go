package journal

import (
	"context"
	"fmt"

	"serotonyl.ru/vpn-shop/internal/common"
)

// Finish переводит pending-операцию в конечное состояние.
// Переход условный: если операция уже завершена, вернётся
// common.ErrOperationNotPending и ничего не изменится.
func Finish(ctx context.Context, s Store, id string, to State, errMsg string) (*Operation, error) {
	if !to.Terminal() {
		return nil, fmt.Errorf("недопустимое конечное состояние %q", to)
	}
	op, err := s.Lock(ctx, id)
	if err != nil {
		return nil, err
	}
	if op.State.Terminal() {
		return op, fmt.Errorf("%w: %s в состоянии %s", common.ErrOperationNotPending, id, op.State)
	}
	if err := s.SetState(ctx, id, to, errMsg); err != nil {
		return nil, fmt.Errorf("ошибка смены состояния операции: %w", err)
	}
	op.State = to
	op.Error = errMsg
	return op, nil
}
