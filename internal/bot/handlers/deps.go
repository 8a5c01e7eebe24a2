package handlers

import (
	"context"
	"log/slog"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/edgard/taxbot/internal/config"
	"github.com/edgard/taxbot/internal/database"
	"github.com/edgard/taxbot/internal/notify"
	"github.com/edgard/taxbot/internal/processing"
)

// Checker runs a mailbox check. *processing.Processor satisfies it.
type Checker interface {
	Check(ctx context.Context) ([]processing.Result, error)
}

// Messenger is the part of the Telegram client handlers talk to.
// *bot.Bot satisfies it.
type Messenger interface {
	notify.Sender
	EditMessageText(ctx context.Context, params *bot.EditMessageTextParams) (*models.Message, error)
}

// HandlerDeps provides dependencies for Telegram command handlers.
type HandlerDeps struct {
	Logger   *slog.Logger
	Config   *config.Config
	Store    database.Store
	Checker  Checker
	Reporter *notify.Reporter
}

// reply sends an HTML formatted message to chatID and logs failures.
func reply(ctx context.Context, log *slog.Logger, m Messenger, chatID int64, text string) *models.Message {
	msg, err := m.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:    chatID,
		Text:      text,
		ParseMode: models.ParseModeHTML,
	})
	if err != nil {
		log.ErrorContext(ctx, "Failed to send message", "error", err, "chat_id", chatID)
		return nil
	}
	return msg
}
