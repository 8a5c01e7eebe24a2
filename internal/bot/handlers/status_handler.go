package handlers

import (
	"context"
	"fmt"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

const statusFormat = "📊 <b>Статус бота</b>\n\n" +
	"🕐 Последняя проверка: %s\n" +
	"📧 Писем обработано: %d\n" +
	"📁 Реестров обработано: %d"

// NewStatusHandler returns a handler for the /status command.
func NewStatusHandler(deps HandlerDeps) bot.HandlerFunc {
	h := statusHandler{deps}
	return func(ctx context.Context, b *bot.Bot, update *models.Update) {
		h.handle(ctx, b, update)
	}
}

type statusHandler struct {
	deps HandlerDeps
}

func (h statusHandler) handle(ctx context.Context, m Messenger, update *models.Update) {
	log := h.deps.Logger.With("handler", "status")

	if update.Message == nil {
		return
	}
	chatID := update.Message.Chat.ID

	stats, err := h.deps.Store.GetStats(ctx)
	if err != nil {
		log.ErrorContext(ctx, "Failed to load stats", "error", err)
		reply(ctx, log, m, chatID, h.deps.Config.Messages.GeneralError)
		return
	}

	reply(ctx, log, m, chatID, fmt.Sprintf(statusFormat, stats.LastCheck, stats.EmailsProcessed, stats.FilesProcessed))
}
