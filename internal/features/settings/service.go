package settings

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/vpn-shop/internal/common"
)

// Store — хранилище настроек.
type Store interface {
	Get(ctx context.Context, key Key) ([]byte, bool, error)
	Put(ctx context.Context, key Key, value []byte, actor int64) error
}

// Service отдаёт настройки в типизированном виде.
type Service struct {
	store    Store
	validate *validator.Validate
}

func NewService(store Store) *Service {
	return &Service{store: store, validate: validator.New()}
}

// load декодирует значение ключа в dst, подставляя дефолт.
func (s *Service) load(ctx context.Context, key Key, dst any) error {
	raw, ok, err := s.store.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrInternal, err)
	}
	if !ok {
		raw, _ = Default(key)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		// битое значение в БД не должно ломать бота
		log.WithError(err).WithField("key", key).Warn("Настройка повреждена, используем значение по умолчанию")
		def, _ := Default(key)
		return json.Unmarshal(def, dst)
	}
	return nil
}

func (s *Service) save(ctx context.Context, key Key, v any, actor int64) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if err := s.store.Put(ctx, key, b, actor); err != nil {
		return fmt.Errorf("%w: %v", common.ErrInternal, err)
	}
	log.WithFields(log.Fields{"key": key, "actor": actor}).Info("Настройка обновлена")
	return nil
}

// Raw возвращает значение ключа в JSON (для админ-API).
func (s *Service) Raw(ctx context.Context, key Key) (json.RawMessage, error) {
	target, err := newValue(key)
	if err != nil {
		return nil, err
	}
	if err := s.load(ctx, key, target); err != nil {
		return nil, err
	}
	return json.Marshal(target)
}

// SetRaw проверяет JSON по типу ключа и сохраняет его.
func (s *Service) SetRaw(ctx context.Context, actor int64, key Key, raw json.RawMessage) error {
	target, err := newValue(key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("некорректное значение для %s: %w", key, err)
	}
	if err := s.check(key, target); err != nil {
		return err
	}
	return s.save(ctx, key, target, actor)
}

func newValue(key Key) (any, error) {
	switch key {
	case KeyPaymentCards:
		return &[]PaymentCard{}, nil
	case KeyWalletPresets:
		return &[]decimal.Decimal{}, nil
	case KeyCustomMessages:
		return &map[string]string{}, nil
	case KeyConnectionInfo:
		return &map[string]Connection{}, nil
	case KeyTicketSubjects:
		return &[]string{}, nil
	}
	return nil, fmt.Errorf("%w: %s", common.ErrUnknownSetting, key)
}

func (s *Service) check(key Key, v any) error {
	switch val := v.(type) {
	case *[]PaymentCard:
		for i := range *val {
			if err := s.validate.Struct((*val)[i]); err != nil {
				return fmt.Errorf("карта #%d: %w", i+1, err)
			}
		}
	case *map[string]Connection:
		for id, c := range *val {
			if _, err := strconv.ParseInt(id, 10, 64); err != nil {
				return fmt.Errorf("ключ %q должен быть id сервера", id)
			}
			if err := s.validate.Struct(c.L2TP); err != nil {
				return fmt.Errorf("сервер %s l2tp: %w", id, err)
			}
			if err := s.validate.Struct(c.SSTP); err != nil {
				return fmt.Errorf("сервер %s sstp: %w", id, err)
			}
		}
	case *[]decimal.Decimal:
		for _, p := range *val {
			if !p.IsPositive() {
				return fmt.Errorf("%w: пресет %s", common.ErrInvalidAmount, p)
			}
		}
	}
	return nil
}

// PaymentCards возвращает реквизиты для оплаты.
func (s *Service) PaymentCards(ctx context.Context) ([]PaymentCard, error) {
	var cards []PaymentCard
	err := s.load(ctx, KeyPaymentCards, &cards)
	return cards, err
}

// AddPaymentCard дописывает карту в конец списка.
func (s *Service) AddPaymentCard(ctx context.Context, actor int64, card PaymentCard) error {
	if err := s.validate.Struct(card); err != nil {
		return err
	}
	cards, err := s.PaymentCards(ctx)
	if err != nil {
		return err
	}
	return s.save(ctx, KeyPaymentCards, append(cards, card), actor)
}

// RemovePaymentCard удаляет карту по индексу.
func (s *Service) RemovePaymentCard(ctx context.Context, actor int64, idx int) error {
	cards, err := s.PaymentCards(ctx)
	if err != nil {
		return err
	}
	if idx < 0 || idx >= len(cards) {
		return fmt.Errorf("%w: карта #%d", common.ErrNotFound, idx)
	}
	cards = append(cards[:idx], cards[idx+1:]...)
	return s.save(ctx, KeyPaymentCards, cards, actor)
}

// WalletPresets — суммы быстрых пополнений.
func (s *Service) WalletPresets(ctx context.Context) ([]decimal.Decimal, error) {
	var presets []decimal.Decimal
	err := s.load(ctx, KeyWalletPresets, &presets)
	return presets, err
}

// AddWalletPreset добавляет пресет, если такого ещё нет.
func (s *Service) AddWalletPreset(ctx context.Context, actor int64, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return common.ErrInvalidAmount
	}
	presets, err := s.WalletPresets(ctx)
	if err != nil {
		return err
	}
	for _, p := range presets {
		if p.Equal(amount) {
			return nil
		}
	}
	return s.save(ctx, KeyWalletPresets, append(presets, amount), actor)
}

// Message возвращает текст шаблона, переопределённый админом или дефолтный.
func (s *Service) Message(ctx context.Context, name string) (string, error) {
	var msgs map[string]string
	if err := s.load(ctx, KeyCustomMessages, &msgs); err != nil {
		return "", err
	}
	if m, ok := msgs[name]; ok {
		return m, nil
	}
	def := defaults[KeyCustomMessages].(map[string]string)
	return def[name], nil
}

// SetMessage переопределяет шаблон.
func (s *Service) SetMessage(ctx context.Context, actor int64, name, text string) error {
	var msgs map[string]string
	if err := s.load(ctx, KeyCustomMessages, &msgs); err != nil {
		return err
	}
	if msgs == nil {
		msgs = map[string]string{}
	}
	msgs[name] = text
	return s.save(ctx, KeyCustomMessages, msgs, actor)
}

// Connection возвращает параметры подключения к бэкенду.
func (s *Service) Connection(ctx context.Context, backendID int64) (Connection, error) {
	var all map[string]Connection
	if err := s.load(ctx, KeyConnectionInfo, &all); err != nil {
		return Connection{}, err
	}
	if c, ok := all[strconv.FormatInt(backendID, 10)]; ok {
		return c, nil
	}
	return defaultConnection(), nil
}

// SetConnection сохраняет параметры подключения к бэкенду.
func (s *Service) SetConnection(ctx context.Context, actor, backendID int64, c Connection) error {
	if err := s.validate.Struct(c.L2TP); err != nil {
		return err
	}
	if err := s.validate.Struct(c.SSTP); err != nil {
		return err
	}
	var all map[string]Connection
	if err := s.load(ctx, KeyConnectionInfo, &all); err != nil {
		return err
	}
	if all == nil {
		all = map[string]Connection{}
	}
	all[strconv.FormatInt(backendID, 10)] = c
	return s.save(ctx, KeyConnectionInfo, all, actor)
}

// TicketSubjects — темы обращений в поддержку.
func (s *Service) TicketSubjects(ctx context.Context) ([]string, error) {
	var subj []string
	if err := s.load(ctx, KeyTicketSubjects, &subj); err != nil {
		return nil, err
	}
	if len(subj) == 0 {
		return defaults[KeyTicketSubjects].([]string), nil
	}
	return subj, nil
}
