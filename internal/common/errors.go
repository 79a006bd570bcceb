// Package common — errors.go определяет ошибки, которые используются во всех модулях.
// Эти ошибки позволяют вызывающему коду (фронтенд, админ-API) различать
// типы проблем и понимать, двигались ли деньги.
package common

import "errors"

// Ошибки кошелька
var (
	// ErrInsufficientFunds — на балансе меньше, чем нужно списать. Ничего не записано.
	ErrInsufficientFunds = errors.New("недостаточно средств на балансе")
	// ErrInvalidAmount — некорректная сумма (ноль, отрицательная или вне допустимого диапазона)
	ErrInvalidAmount = errors.New("некорректная сумма")
)

// Ошибки провижининга
var (
	// ErrProvisioningFailed — роутер не принял изменение; деньги возвращены.
	ErrProvisioningFailed = errors.New("не удалось применить изменение на сервере доступа")
	// ErrPlanInactive — тариф отключён или не имеет активной версии
	ErrPlanInactive = errors.New("тариф недоступен")
	// ErrOperationNotPending — операция уже завершена или компенсирована
	ErrOperationNotPending = errors.New("операция уже завершена")
)

// Ошибки чеков
var (
	// ErrAlreadyDecided — по чеку уже принято решение, повторно нельзя
	ErrAlreadyDecided = errors.New("по чеку уже принято решение")
)

// Общие ошибки
var (
	// ErrNotFound — счёт, подписка, чек или операция не найдены
	ErrNotFound = errors.New("не найдено")
	// ErrInternal — сбой хранилища; частичных изменений не осталось
	ErrInternal = errors.New("внутренняя ошибка")
)

// Ошибки админки
var (
	// ErrNotAdmin — пользователь не является администратором
	ErrNotAdmin = errors.New("у вас нет прав администратора")
	// ErrNotSuperAdmin — действие доступно только супер-админам из ADMIN_IDS
	ErrNotSuperAdmin = errors.New("действие доступно только супер-админу")
	// ErrUnknownSetting — ключ настроек не зарегистрирован
	ErrUnknownSetting = errors.New("неизвестный ключ настроек")
	// ErrBadCredentials — токен админ-API не подошёл
	ErrBadCredentials = errors.New("неверный токен")
	// ErrTooManyAttempts — 3 неудачные попытки входа за час
	ErrTooManyAttempts = errors.New("слишком много попыток, подождите 1 час")
)
