// Package settings хранит настройки, которые админы меняют на лету:
// реквизиты для оплаты, пресеты пополнения, тексты сообщений,
// параметры подключения к серверам и темы тикетов.
package settings

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// Key — зарегистрированный ключ настроек.
type Key string

const (
	KeyPaymentCards   Key = "payment_cards"
	KeyWalletPresets  Key = "wallet_presets"
	KeyCustomMessages Key = "custom_messages"
	KeyConnectionInfo Key = "connection_info"
	KeyTicketSubjects Key = "ticket_subjects"
)

// PaymentCard — реквизиты, которые показываются при пополнении.
type PaymentCard struct {
	Number string `json:"number" validate:"required,min=12,max=32"`
	Holder string `json:"holder" validate:"required,max=128"`
	Bank   string `json:"bank" validate:"max=128"`
}

// Endpoint — адрес одного протокола на сервере.
type Endpoint struct {
	IP     string `json:"ip" validate:"omitempty,ip|hostname"`
	Port   int    `json:"port" validate:"min=1,max=65535"`
	Secret string `json:"secret,omitempty"`
}

// Connection — как клиенту подключиться к бэкенду.
type Connection struct {
	L2TP Endpoint `json:"l2tp"`
	SSTP Endpoint `json:"sstp"`
}

// Шаблоны сообщений, которые можно переопределить.
const (
	MsgWelcome        = "welcome"
	MsgDownloadApps   = "download_apps_text"
	MsgReceiptApprove = "receipt_approve_msg"
	MsgReceiptDeny    = "receipt_deny_msg"
)

// defaults — значения по умолчанию, пока админ ничего не сохранил.
var defaults = map[Key]any{
	KeyPaymentCards:  []PaymentCard{},
	KeyWalletPresets: []decimal.Decimal{decimal.NewFromInt(5), decimal.NewFromInt(10), decimal.NewFromInt(20)},
	KeyCustomMessages: map[string]string{
		MsgWelcome:        "👋 Добро пожаловать в VPN-магазин!",
		MsgDownloadApps:   "📱 Скачайте приложение для своей платформы.",
		MsgReceiptApprove: "✅ Чек подтверждён, баланс пополнен.",
		MsgReceiptDeny:    "❌ Чек отклонён.",
	},
	KeyConnectionInfo: map[string]Connection{},
	KeyTicketSubjects: []string{
		"🔌 Проблемы с подключением",
		"💰 Проблема с оплатой",
		"📱 Помощь с приложением",
		"🔄 Продление",
		"❓ Общий вопрос",
	},
}

// defaultConnection — параметры сервера, для которого ничего не задано.
func defaultConnection() Connection {
	return Connection{
		L2TP: Endpoint{Port: 1701, Secret: "123456"},
		SSTP: Endpoint{Port: 443},
	}
}

// Known сообщает, зарегистрирован ли ключ.
func Known(k Key) bool {
	_, ok := defaults[k]
	return ok
}

// Keys возвращает все ключи.
func Keys() []Key {
	return []Key{KeyPaymentCards, KeyWalletPresets, KeyCustomMessages, KeyConnectionInfo, KeyTicketSubjects}
}

// Default возвращает значение по умолчанию в JSON.
func Default(k Key) (json.RawMessage, bool) {
	v, ok := defaults[k]
	if !ok {
		return nil, false
	}
	b, _ := json.Marshal(v)
	return b, true
}
