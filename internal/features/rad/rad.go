// Package rad — клиент сервера доступа (Remote Access Directory).
// Directory описывает операции над VPN-аккаунтами на одном роутере,
// ошибки разделены на виды: недоступен (можно повторить), отказ,
// нет аккаунта, аккаунт уже есть с другим профилем.
package rad

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Виды ошибок сервера доступа.
var (
	ErrUnreachable   = errors.New("сервер доступа недоступен")
	ErrRejected      = errors.New("сервер доступа отклонил запрос")
	ErrNotFound      = errors.New("аккаунт не найден на сервере доступа")
	ErrAlreadyExists = errors.New("аккаунт уже существует с другим профилем")
)

// Error — ошибка вызова сервера доступа.
type Error struct {
	Op      string // Операция: create, status, extend, ...
	Backend string // Имя сервера
	Kind    error  // Один из ErrUnreachable, ErrRejected, ErrNotFound, ErrAlreadyExists
	Err     error  // Исходная ошибка транспорта или роутера
	Detail  string // Сообщение роутера, если есть
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s на %s: %v", e.Op, e.Backend, e.Kind)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += fmt.Sprintf(" (%v)", e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is сопоставляет ошибку с её видом.
func (e *Error) Is(target error) bool {
	return target == e.Kind
}

// NewError собирает ошибку указанного вида.
func NewError(op, backend string, kind, err error, detail string) *Error {
	return &Error{Op: op, Backend: backend, Kind: kind, Err: err, Detail: detail}
}

// Retryable — повторять имеет смысл только недоступность.
func Retryable(err error) bool {
	return errors.Is(err, ErrUnreachable)
}

// Detail возвращает сообщение роутера из цепочки ошибок.
func Detail(err error) string {
	var re *Error
	if errors.As(err, &re) {
		if re.Detail != "" {
			return re.Detail
		}
		if re.Err != nil {
			return re.Err.Error()
		}
		return re.Kind.Error()
	}
	if err != nil {
		return err.Error()
	}
	return ""
}

// AccountStatus — состояние аккаунта, как его видит роутер.
type AccountStatus struct {
	Exists         bool
	Enabled        bool
	Profile        string
	UsedBytes      int64 // Скачано за всё время
	AllowanceBytes int64 // Суммарный лимит трафика, 0 — без лимита
	ActiveSessions int
	ExpiresAt      *time.Time // nil, если роутер не сообщает срок
}

// RemainingBytes — остаток трафика, 0 если лимита нет или он исчерпан.
func (s *AccountStatus) RemainingBytes() int64 {
	if s.AllowanceBytes <= 0 || s.UsedBytes >= s.AllowanceBytes {
		return 0
	}
	return s.AllowanceBytes - s.UsedBytes
}

// ProfileSpec — профиль тарифа на роутере.
type ProfileSpec struct {
	Name         string
	ValidityDays int
	DataCapBytes int64  // 0 — без лимита
	RateLimit    string // "rx/tx", пусто — без ограничения
}

// Directory — операции над аккаунтами одного сервера доступа.
//
// CreateAccount для существующего аккаунта с тем же профилем — успех.
// ExtendValidity и GrantAdditionalData идемпотентны по token: повтор
// с уже применённым token ничего не меняет. Disable, Enable, ResetSecret
// и DeleteAccount идемпотентны сами по себе, удаление отсутствующего
// аккаунта — успех. AccountStatus для отсутствующего аккаунта
// возвращает Exists=false без ошибки.
type Directory interface {
	CreateAccount(ctx context.Context, username, secret, profile string) error
	AccountStatus(ctx context.Context, username string) (*AccountStatus, error)
	Disable(ctx context.Context, username string) error
	Enable(ctx context.Context, username string) error
	ResetSecret(ctx context.Context, username, secret string) error
	ExtendValidity(ctx context.Context, username string, days int, token string) error
	GrantAdditionalData(ctx context.Context, username string, bytes int64, token string) error
	DeleteAccount(ctx context.Context, username string) error
	DisconnectSessions(ctx context.Context, username string) error
	EnsureProfile(ctx context.Context, spec ProfileSpec) error
	Ping(ctx context.Context) error
}
