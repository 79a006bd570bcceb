// Package notify доставляет события ядра владельцу счёта в Telegram.
// Доставка асинхронная: ошибки только логируются и ничего не откатывают.
package notify

import (
	"context"
	"fmt"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
	log "github.com/sirupsen/logrus"
)

// Sender отправляет текст в чат.
type Sender interface {
	Send(ctx context.Context, chatID int64, text string) error
}

// TelegramSender — Sender поверх Bot API.
type TelegramSender struct {
	bot *telego.Bot
}

// NewTelegramSender создаёт клиента Bot API.
func NewTelegramSender(token string) (*TelegramSender, error) {
	bot, err := telego.NewBot(token, telego.WithDiscardLogger())
	if err != nil {
		return nil, fmt.Errorf("ошибка создания клиента Telegram: %w", err)
	}
	return &TelegramSender{bot: bot}, nil
}

func (s *TelegramSender) Send(ctx context.Context, chatID int64, text string) error {
	_, err := s.bot.SendMessage(ctx, tu.Message(tu.ID(chatID), text))
	return err
}

// LogSender пишет уведомления в лог. Используется, когда токен бота не задан.
type LogSender struct{}

func (LogSender) Send(_ context.Context, chatID int64, text string) error {
	log.WithField("chat", chatID).Info("Уведомление: " + text)
	return nil
}
