package handlers

import (
	"context"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// NewStartHandler returns a handler for the /start command.
func NewStartHandler(deps HandlerDeps) bot.HandlerFunc {
	h := startHandler{deps}
	return func(ctx context.Context, b *bot.Bot, update *models.Update) {
		h.handle(ctx, b, update)
	}
}

// startHandler greets administrators and turns everyone else away.
type startHandler struct {
	deps HandlerDeps
}

func (h startHandler) handle(ctx context.Context, m Messenger, update *models.Update) {
	log := h.deps.Logger.With("handler", "start")

	if update.Message == nil || update.Message.From == nil {
		log.WarnContext(ctx, "Start handler received update with nil message or sender", "update_id", update.ID)
		return
	}

	chatID := update.Message.Chat.ID
	userID := update.Message.From.ID
	log.InfoContext(ctx, "Handling /start command", "chat_id", chatID, "user_id", userID)

	if !h.deps.Config.IsAdmin(userID) {
		log.WarnContext(ctx, "Start requested by non-admin", "user_id", userID)
		reply(ctx, log, m, chatID, h.deps.Config.Messages.StartDenied)
		return
	}

	reply(ctx, log, m, chatID, h.deps.Config.Messages.Welcome)
}
