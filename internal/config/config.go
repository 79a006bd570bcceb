// Package config загружает конфигурацию сервиса из переменных окружения.
// Используется envconfig для маппинга переменных окружения на поля структуры.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

// Config содержит ВСЕ настройки приложения.
type Config struct {
	// --- Telegram ---
	// Супер-админы из окружения. Только они управляют списком админов в БД.
	AdminIDsRaw string  `envconfig:"ADMIN_IDS" required:"true"`
	AdminIDs    []int64 `envconfig:"-"` // заполним вручную
	// Токен нужен только для доставки уведомлений. Пустой — уведомления пишутся в лог.
	TelegramBotToken string `envconfig:"TELEGRAM_BOT_TOKEN"`

	// --- Database ---
	// В Docker внутри контейнера "localhost" почти всегда неправильно.
	// Дефолт ставим "postgres" (имя сервиса в docker-compose), а для локалки переопределяй DB_HOST=localhost.
	DBHost     string `envconfig:"DB_HOST" default:"postgres"`
	DBPort     int    `envconfig:"DB_PORT" default:"5432"`
	DBUser     string `envconfig:"DB_USER" default:"vpnshop"`
	DBPassword string `envconfig:"DB_PASSWORD" required:"true"`
	DBName     string `envconfig:"DB_NAME" default:"vpn_shop"`
	DBSSLMode  string `envconfig:"DB_SSLMODE" default:"disable"`
	DBMaxConns int32  `envconfig:"DB_MAX_CONNS" default:"25"`
	DBMinConns int32  `envconfig:"DB_MIN_CONNS" default:"5"`

	// --- Application ---
	AppEnv      string `envconfig:"APP_ENV" default:"development"`
	AppLogLevel string `envconfig:"APP_LOG_LEVEL" default:"debug"`
	AppTimezone string `envconfig:"APP_TIMEZONE" default:"Europe/Moscow"`

	// --- Secrets ---
	// 32 байта в base64. Им шифруются пароли роутеров и VPN-аккаунтов.
	EncryptionKey string `envconfig:"ENCRYPTION_KEY" required:"true"`

	// --- Remote Access Directory (роутеры) ---
	RADCallTimeout   time.Duration `envconfig:"RAD_CALL_TIMEOUT" default:"10s"`
	RADDialTimeout   time.Duration `envconfig:"RAD_DIAL_TIMEOUT" default:"5s"`
	RADRetryAttempts int           `envconfig:"RAD_RETRY_ATTEMPTS" default:"3"`
	RADRetryInitial  time.Duration `envconfig:"RAD_RETRY_INITIAL" default:"500ms"`
	RADRetryMax      time.Duration `envconfig:"RAD_RETRY_MAX" default:"5s"`

	// --- Reconciliation ---
	// Операции в состоянии pending старше этого порога подбирает сверка.
	ReconcileGrace    time.Duration `envconfig:"RECONCILE_GRACE" default:"2m"`
	ReconcileSchedule string        `envconfig:"RECONCILE_SCHEDULE" default:"*/5 * * * *"`
	ExpirySchedule    string        `envconfig:"EXPIRY_SCHEDULE" default:"15 * * * *"`
	DriftSchedule     string        `envconfig:"DRIFT_SCHEDULE" default:"0 3 * * *"`

	// --- Receipts ---
	ReceiptMinAmountRaw string          `envconfig:"RECEIPT_MIN_AMOUNT" default:"5"`
	ReceiptMaxAmountRaw string          `envconfig:"RECEIPT_MAX_AMOUNT" default:"1000"`
	ReceiptMinAmount    decimal.Decimal `envconfig:"-"`
	ReceiptMaxAmount    decimal.Decimal `envconfig:"-"`

	// --- Locks ---
	// local — мьютексы в памяти процесса, redis — для нескольких инстансов.
	// Redis-блокировка продлевает LOCK_TTL, пока операция не закончилась.
	LockBackend   string        `envconfig:"LOCK_BACKEND" default:"local"`
	LockTTL       time.Duration `envconfig:"LOCK_TTL" default:"2m"`
	RedisHost     string        `envconfig:"REDIS_HOST" default:"redis"`
	RedisPort     int           `envconfig:"REDIS_PORT" default:"6379"`
	RedisPassword string        `envconfig:"REDIS_PASSWORD"`
	RedisDB       int           `envconfig:"REDIS_DB" default:"0"`

	// --- Admin API ---
	HTTPAddr string `envconfig:"HTTP_ADDR" default:":8080"`
	// Argon2id-хеш токена админ-API (scripts/generate_hash.go).
	AdminTokenHash string `envconfig:"ADMIN_TOKEN_HASH" required:"true"`
	// Ключ подписи JWT, который выдаёт POST /admin/login.
	AdminJWTSecret string        `envconfig:"ADMIN_JWT_SECRET" required:"true"`
	AdminJWTTTL    time.Duration `envconfig:"ADMIN_JWT_TTL" default:"12h"`

	// --- Rate Limiting ---
	RateLimitRequests int           `envconfig:"RATE_LIMIT_REQUESTS" default:"30"`
	RateLimitWindow   time.Duration `envconfig:"RATE_LIMIT_WINDOW" default:"1m"`

	// --- Notifications ---
	NotifyQueueSize int           `envconfig:"NOTIFY_QUEUE_SIZE" default:"256"`
	NotifyTimeout   time.Duration `envconfig:"NOTIFY_TIMEOUT" default:"10s"`
}

// DatabaseDSN возвращает строку подключения к PostgreSQL в формате DSN.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode,
	)
}

// RedisAddr возвращает адрес Redis в формате host:port.
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.RedisHost, c.RedisPort)
}

func (c *Config) Validate() error {
	if c.RADRetryAttempts <= 0 {
		return fmt.Errorf("RAD_RETRY_ATTEMPTS должен быть > 0")
	}
	if c.RADCallTimeout <= 0 {
		return fmt.Errorf("RAD_CALL_TIMEOUT должен быть > 0")
	}
	if c.DBMaxConns <= 0 || c.DBMinConns < 0 || c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("некорректные DB_MIN_CONNS/DB_MAX_CONNS")
	}
	if len(c.AdminJWTSecret) < 32 {
		return fmt.Errorf("ADMIN_JWT_SECRET должен быть не короче 32 символов")
	}
	if c.LockBackend != "local" && c.LockBackend != "redis" {
		return fmt.Errorf("LOCK_BACKEND должен быть local или redis, получено %q", c.LockBackend)
	}
	if c.LockTTL < 3*time.Second {
		return fmt.Errorf("LOCK_TTL должен быть не меньше 3s, получено %s", c.LockTTL)
	}
	if c.ReceiptMinAmount.IsNegative() || c.ReceiptMaxAmount.LessThan(c.ReceiptMinAmount) {
		return fmt.Errorf("некорректные RECEIPT_MIN_AMOUNT/RECEIPT_MAX_AMOUNT")
	}
	return nil
}

// Load читает переменные окружения и заполняет структуру Config.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("не удалось загрузить конфигурацию: %w", err)
	}

	ids, err := parseInt64CSV(cfg.AdminIDsRaw)
	if err != nil {
		return nil, fmt.Errorf("ADMIN_IDS parse: %w", err)
	}
	cfg.AdminIDs = ids

	if cfg.ReceiptMinAmount, err = decimal.NewFromString(cfg.ReceiptMinAmountRaw); err != nil {
		return nil, fmt.Errorf("RECEIPT_MIN_AMOUNT parse: %w", err)
	}
	if cfg.ReceiptMaxAmount, err = decimal.NewFromString(cfg.ReceiptMaxAmountRaw); err != nil {
		return nil, fmt.Errorf("RECEIPT_MAX_AMOUNT parse: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func parseInt64CSV(s string) ([]int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]int64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		v, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad int64 %q: %w", p, err)
		}
		out = append(out, v)
	}
	return out, nil
}
