package notify

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	fiberlog "github.com/gofiber/fiber/v2/log"

	"github.com/artforge-ai/artforge-api/internal/models"
)

// Alerter pushes operational alerts (payment mismatches, provider outages)
// to a Telegram ops channel. Best-effort only.
type Alerter struct {
	bot    *tgbotapi.BotAPI
	chatID int64
}

func NewAlerter(cfg models.TelegramConfig) (*Alerter, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return &Alerter{bot: bot, chatID: cfg.ChatID}, nil
}

func (a *Alerter) Alert(format string, args ...any) {
	msg := tgbotapi.NewMessage(a.chatID, fmt.Sprintf(format, args...))
	if _, err := a.bot.Send(msg); err != nil {
		fiberlog.Errorf("notify: telegram alert: %v", err)
	}
}
