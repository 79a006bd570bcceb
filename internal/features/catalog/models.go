// Package catalog хранит тарифы и серверы доступа (роутеры).
// Тариф версионируется: правка цены создаёт новую версию в том же семействе,
// старые подписки продолжают ссылаться на свою версию.
package catalog

import (
	"time"

	"github.com/shopspring/decimal"

	"serotonyl.ru/vpn-shop/internal/secret"
)

// BackendKind — тип сервера доступа.
type BackendKind string

const (
	BackendMikroTik BackendKind = "mikrotik" // MikroTik User Manager v7
	BackendMemory   BackendKind = "memory"   // In-memory, для разработки
)

// Backend — сервер доступа. Пароль хранится только зашифрованным.
type Backend struct {
	ID        int64         `db:"id"`
	Name      string        `db:"name"`
	Kind      BackendKind   `db:"kind"`
	Host      string        `db:"host"`
	Port      int           `db:"port"`
	Username  string        `db:"username"`
	Password  secret.Sealed `db:"password"`
	Location  string        `db:"location"`
	Active    bool          `db:"active"`
	CreatedAt time.Time     `db:"created_at"`
}

// Plan — одна версия тарифа.
type Plan struct {
	ID            int64           `db:"id"`
	Family        string          `db:"family"`  // Семейство: все версии одного тарифа
	Version       int             `db:"version"` // Растёт с каждой правкой
	Name          string          `db:"name"`
	Description   string          `db:"description"`
	Price         decimal.Decimal `db:"price"`
	ValidityDays  int             `db:"validity_days"`
	DataCapBytes  int64           `db:"data_cap_bytes"` // 0 — без лимита
	RemoteProfile string          `db:"remote_profile"` // Профиль в User Manager
	RateLimit     string          `db:"rate_limit"`     // Например "10M/10M", пусто — без ограничения
	BackendID     int64           `db:"backend_id"`
	Active        bool            `db:"active"`
	CreatedAt     time.Time       `db:"created_at"`
}

// Snapshot — копия условий тарифа на момент покупки или продления.
type Snapshot struct {
	PlanID        int64           `json:"plan_id"`
	Family        string          `json:"family"`
	Version       int             `json:"version"`
	Name          string          `json:"name"`
	Price         decimal.Decimal `json:"price"`
	ValidityDays  int             `json:"validity_days"`
	DataCapBytes  int64           `json:"data_cap_bytes"`
	RemoteProfile string          `json:"remote_profile"`
}

// Snapshot фиксирует текущие условия тарифа.
func (p *Plan) Snapshot() Snapshot {
	return Snapshot{
		PlanID:        p.ID,
		Family:        p.Family,
		Version:       p.Version,
		Name:          p.Name,
		Price:         p.Price,
		ValidityDays:  p.ValidityDays,
		DataCapBytes:  p.DataCapBytes,
		RemoteProfile: p.RemoteProfile,
	}
}
