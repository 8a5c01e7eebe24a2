// Package handlers contains Telegram bot command handlers,
// along with their registration logic and middleware.
package handlers

import (
	"context"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// AdminOnly creates a middleware that lets only configured administrators through.
// Everyone else gets the "not authorized" message and the handler is skipped.
func AdminOnly(deps HandlerDeps) tgbot.Middleware {
	return func(next tgbot.HandlerFunc) tgbot.HandlerFunc {
		return func(ctx context.Context, b *tgbot.Bot, update *models.Update) {
			if !authorize(ctx, deps, b, update) {
				return
			}
			next(ctx, b, update)
		}
	}
}

// authorize reports whether the sender of update is an administrator and
// answers the sender otherwise.
func authorize(ctx context.Context, deps HandlerDeps, m Messenger, update *models.Update) bool {
	if update.Message == nil || update.Message.From == nil {
		return false
	}

	userID := update.Message.From.ID
	if deps.Config.IsAdmin(userID) {
		return true
	}

	chatID := update.Message.Chat.ID
	log := deps.Logger.With("middleware", "AdminOnly")
	log.WarnContext(ctx, "Unauthorized access attempt", "user_id", userID, "chat_id", chatID)
	reply(ctx, log, m, chatID, deps.Config.Messages.NotAuthorized)
	return false
}
