// Package admins — service.go проверяет права и токен админ-API.
package admins

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"slices"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/argon2"

	"serotonyl.ru/vpn-shop/internal/common"
)

// Store — хранилище админов.
type Store interface {
	Exists(ctx context.Context, userID int64) (bool, error)
	List(ctx context.Context) ([]*Admin, error)
	Add(ctx context.Context, a *Admin) error
	Remove(ctx context.Context, userID int64) error
	LogAttempt(ctx context.Context, userID int64, success bool) error
	RecentFailures(ctx context.Context, userID int64, since time.Time) (int, error)
}

// Authorizer решает, кто админ.
type Authorizer struct {
	store     Store
	superIDs  []int64
	tokenHash string
	now       func() time.Time
}

// NewAuthorizer создаёт сервис. superIDs — из ADMIN_IDS, tokenHash — Argon2id-хеш токена API.
func NewAuthorizer(store Store, superIDs []int64, tokenHash string) *Authorizer {
	return &Authorizer{store: store, superIDs: superIDs, tokenHash: tokenHash, now: time.Now}
}

// IsSuperAdmin — пользователь из ADMIN_IDS.
func (a *Authorizer) IsSuperAdmin(userID int64) bool {
	return slices.Contains(a.superIDs, userID)
}

// IsAdmin — супер-админ или админ из БД.
func (a *Authorizer) IsAdmin(ctx context.Context, userID int64) (bool, error) {
	if a.IsSuperAdmin(userID) {
		return true, nil
	}
	if a.store == nil {
		return false, nil
	}
	return a.store.Exists(ctx, userID)
}

// RequireAdmin возвращает common.ErrNotAdmin, если у actor нет прав.
func (a *Authorizer) RequireAdmin(ctx context.Context, actor int64) error {
	ok, err := a.IsAdmin(ctx, actor)
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrInternal, err)
	}
	if !ok {
		return common.ErrNotAdmin
	}
	return nil
}

// AddAdmin добавляет админа. Доступно только супер-админам.
func (a *Authorizer) AddAdmin(ctx context.Context, actor, userID int64, username string) error {
	if !a.IsSuperAdmin(actor) {
		return common.ErrNotSuperAdmin
	}
	if err := a.store.Add(ctx, &Admin{UserID: userID, Username: username, AddedBy: actor}); err != nil {
		return err
	}
	log.WithFields(log.Fields{"actor": actor, "user_id": userID}).Info("Админ добавлен")
	return nil
}

// RemoveAdmin удаляет админа. Супер-админа удалить нельзя.
func (a *Authorizer) RemoveAdmin(ctx context.Context, actor, userID int64) error {
	if !a.IsSuperAdmin(actor) {
		return common.ErrNotSuperAdmin
	}
	if a.IsSuperAdmin(userID) {
		return fmt.Errorf("супер-админ задаётся в ADMIN_IDS и не удаляется")
	}
	if err := a.store.Remove(ctx, userID); err != nil {
		return err
	}
	log.WithFields(log.Fields{"actor": actor, "user_id": userID}).Info("Админ удалён")
	return nil
}

// List возвращает админов из БД (без супер-админов).
func (a *Authorizer) List(ctx context.Context) ([]*Admin, error) {
	return a.store.List(ctx)
}

// VerifyToken проверяет токен админ-API для пользователя userID.
// Защита от перебора: 3 неудачные попытки за час — блокировка.
func (a *Authorizer) VerifyToken(ctx context.Context, userID int64, token string) error {
	failures, err := a.store.RecentFailures(ctx, userID, a.now().Add(-attemptsWindow))
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrInternal, err)
	}
	if failures >= maxFailedAttempts {
		return common.ErrTooManyAttempts
	}

	match := verifyArgon2id(token, a.tokenHash)
	if err := a.store.LogAttempt(ctx, userID, match); err != nil {
		log.WithError(err).Warn("Не удалось записать попытку входа")
	}
	if !match {
		return common.ErrBadCredentials
	}
	return a.RequireAdmin(ctx, userID)
}

// verifyArgon2id проверяет пароль по хешу Argon2id.
// Формат хеша: $argon2id$v=19$m=65536,t=3,p=2$<salt_base64>$<hash_base64>
func verifyArgon2id(password, encodedHash string) bool {
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 6 {
		log.Error("Некорректный формат хеша Argon2id")
		return false
	}

	var memory uint32
	var iterations uint32
	var parallelism uint8
	_, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &parallelism)
	if err != nil {
		log.WithError(err).Error("Ошибка парсинга параметров Argon2id")
		return false
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		log.WithError(err).Error("Ошибка декодирования соли")
		return false
	}
	expectedHash, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		log.WithError(err).Error("Ошибка декодирования хеша")
		return false
	}

	computedHash := argon2.IDKey([]byte(password), salt, iterations, memory, parallelism, uint32(len(expectedHash)))

	// Сравниваем в постоянном времени (защита от timing attack)
	return subtle.ConstantTimeCompare(computedHash, expectedHash) == 1
}

// HashToken строит Argon2id-хеш в формате, который понимает verifyArgon2id.
func HashToken(token string, salt []byte) string {
	const (
		memory      = 64 * 1024
		iterations  = 3
		parallelism = 2
		keyLen      = 32
	)
	hash := argon2.IDKey([]byte(token), salt, iterations, memory, parallelism, keyLen)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, memory, iterations, parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash))
}
