package alert

import (
	"context"
	"fmt"

	"github.com/go-telegram/bot"
	"github.com/juju/errors"

	"go-hotspot/db"
)

// TelegramNotifier sends critical alerts to an operator chat.
type TelegramNotifier struct {
	bot    *bot.Bot
	chatID int64
}

func NewTelegramNotifier(token string, chatID int64) (*TelegramNotifier, error) {
	b, err := bot.New(token)
	if err != nil {
		return nil, errors.Annotate(err, "creating telegram bot")
	}
	return &TelegramNotifier{bot: b, chatID: chatID}, nil
}

func (t *TelegramNotifier) Notify(ctx context.Context, a db.Alert) error {
	if a.Severity != db.SeverityCritical {
		return nil
	}
	text := fmt.Sprintf("[%s] %s\ntenant: %s\nsource: %s\n%s", a.Severity, a.Subject, a.TenantID, a.Source, a.Message)
	_, err := t.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: t.chatID,
		Text:   text,
	})
	return errors.Annotate(err, "sending telegram alert")
}
