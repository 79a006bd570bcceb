package dialog

import (
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/vpn-shop/internal/common"
)

// ErrBadTransition — событие не допустимо в текущем состоянии.
var ErrBadTransition = errors.New("недопустимый шаг диалога")

type transition struct {
	from  State
	event Event
}

// table — все допустимые переходы. Отмена разрешена из любого
// состояния, кроме processing, и обрабатывается отдельно.
var table = map[transition]State{
	{StateIdle, EventBuy}:   StateChoosingPlan,
	{StateIdle, EventRenew}: StateChoosingSub,
	{StateIdle, EventTopUp}: StateAwaitingAmount,

	{StateChoosingPlan, EventPicked}:     StateConfirmPurchase,
	{StateConfirmPurchase, EventConfirm}: StateProcessing,

	{StateChoosingSub, EventPicked}:     StateConfirmRenewal,
	{StateConfirmRenewal, EventConfirm}: StateProcessing,

	{StateAwaitingAmount, EventAmountEntered}: StateAwaitingReceipt,
	{StateAwaitingReceipt, EventReceiptSent}:  StateProcessing,

	{StateProcessing, EventSucceeded}: StateIdle,
	{StateProcessing, EventFailed}:    StateIdle,
	// Не хватило денег — сразу предлагаем пополнить.
	{StateProcessing, EventNoFunds}: StateAwaitingAmount,
	// Тариф сняли с продажи, пока пользователь думал.
	{StateProcessing, EventPlanUnavailable}: StateChoosingPlan,
}

// Next возвращает состояние после события.
func Next(from State, ev Event) (State, error) {
	if ev == EventCancel {
		if from == StateProcessing {
			return from, fmt.Errorf("%w: запрос уже выполняется", ErrBadTransition)
		}
		return StateIdle, nil
	}
	to, ok := table[transition{from, ev}]
	if !ok {
		return from, fmt.Errorf("%w: %q в состоянии %q", ErrBadTransition, ev, from)
	}
	return to, nil
}

// Outcome переводит результат вызова оркестратора в событие диалога.
func Outcome(err error) Event {
	switch {
	case err == nil:
		return EventSucceeded
	case errors.Is(err, common.ErrInsufficientFunds):
		return EventNoFunds
	case errors.Is(err, common.ErrPlanInactive):
		return EventPlanUnavailable
	default:
		return EventFailed
	}
}

// Sessions хранит диалоги пользователей в памяти.
type Sessions struct {
	mu       sync.RWMutex
	sessions map[int64]*Session
	now      func() time.Time
}

// NewSessions создаёт хранилище диалогов.
func NewSessions() *Sessions {
	return &Sessions{sessions: make(map[int64]*Session), now: time.Now}
}

// SetClock подменяет часы (для тестов).
func (s *Sessions) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Get возвращает копию текущего диалога. Истёкший диалог — idle.
func (s *Sessions) Get(userID int64) Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[userID]
	if !ok || s.now().After(sess.ExpiresAt) {
		return Session{State: StateIdle}
	}
	return *sess
}

// Fire применяет событие к диалогу пользователя. update вызывается до
// сохранения и может записать выбранный тариф, подписку или сумму.
// Переход в idle удаляет диалог.
func (s *Sessions) Fire(userID int64, ev Event, update func(*Session)) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := Session{State: StateIdle}
	if sess, ok := s.sessions[userID]; ok && !s.now().After(sess.ExpiresAt) {
		cur = *sess
	}
	to, err := Next(cur.State, ev)
	if err != nil {
		return cur, err
	}

	if cur.State == StateIdle {
		cur = Session{Flow: ev}
	}
	cur.State = to
	if update != nil {
		update(&cur)
	}
	if to == StateIdle {
		delete(s.sessions, userID)
		return cur, nil
	}
	cur.ExpiresAt = s.now().Add(sessionTTL)
	next := cur
	s.sessions[userID] = &next

	log.WithFields(log.Fields{
		"user":  userID,
		"event": ev,
		"state": to,
	}).Debug("Шаг диалога")
	return cur, nil
}

// Clear сбрасывает диалог.
func (s *Sessions) Clear(userID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, userID)
}

// Sweep удаляет истёкшие диалоги и возвращает их число.
func (s *Sessions) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	n := 0
	for id, sess := range s.sessions {
		if now.After(sess.ExpiresAt) {
			delete(s.sessions, id)
			n++
		}
	}
	return n
}
