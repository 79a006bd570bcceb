// Package entitlements хранит подписки пользователей.
// Только персистентность: вся логика живёт в оркестраторе.
package entitlements

import (
	"errors"
	"time"

	"serotonyl.ru/vpn-shop/internal/features/catalog"
	"serotonyl.ru/vpn-shop/internal/secret"
)

// ErrUsernameTaken — логин уже когда-то выдавался. Логины не переиспользуются.
var ErrUsernameTaken = errors.New("логин уже использовался")

// Subscription — оплаченный доступ, привязанный к одному аккаунту на роутере.
type Subscription struct {
	ID             int64            `db:"id"`
	OwnerAccountID int64            `db:"owner_account_id"`
	BackendID      int64            `db:"backend_id"`
	RemoteUsername string           `db:"remote_username"`
	RemoteSecret   secret.Sealed    `db:"remote_secret"`
	Plan           catalog.Snapshot `db:"plan"`
	ExpiryAt       time.Time        `db:"expiry_at"`
	TotalCapBytes  int64            `db:"total_cap_bytes"` // 0 — без лимита
	CreatedAt      time.Time        `db:"created_at"`
	RenewedAt      *time.Time       `db:"renewed_at"`
}

// Expired — срок истёк. Не хранится, всегда вычисляется.
func (s *Subscription) Expired(now time.Time) bool {
	return s.ExpiryAt.Before(now)
}

// DaysLeft — сколько полных дней осталось (0 для истёкших).
func (s *Subscription) DaysLeft(now time.Time) int {
	if s.Expired(now) {
		return 0
	}
	return int(s.ExpiryAt.Sub(now).Hours() / 24)
}

// Term — новые условия подписки после продления или правки.
type Term struct {
	Plan          catalog.Snapshot
	ExpiryAt      time.Time
	TotalCapBytes int64
	RenewedAt     *time.Time
}
