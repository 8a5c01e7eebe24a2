package handlers

import (
	"context"
	"errors"
	"fmt"
	"html"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/edgard/taxbot/internal/processing"
)

// NewRunHandler returns a handler for the /run command.
func NewRunHandler(deps HandlerDeps) bot.HandlerFunc {
	h := runHandler{deps}
	return func(ctx context.Context, b *bot.Bot, update *models.Update) {
		h.handle(ctx, b, update)
	}
}

// runHandler triggers a mailbox check and reports every new registry to the
// requesting chat. Requires admin privileges (enforced by middleware).
type runHandler struct {
	deps HandlerDeps
}

func (h runHandler) handle(ctx context.Context, m Messenger, update *models.Update) {
	log := h.deps.Logger.With("handler", "run")

	if update.Message == nil || update.Message.From == nil {
		log.ErrorContext(ctx, "Run handler called with nil Message or From", "update_id", update.ID)
		return
	}

	chatID := update.Message.Chat.ID
	msgs := h.deps.Config.Messages
	log.InfoContext(ctx, "Manual check requested", "chat_id", chatID, "user_id", update.Message.From.ID)

	status := reply(ctx, log, m, chatID, msgs.Checking)

	results, err := h.deps.Checker.Check(ctx)
	switch {
	case errors.Is(err, processing.ErrCheckInProgress):
		h.finish(ctx, m, chatID, status, msgs.CheckBusy)
		return
	case err != nil:
		log.ErrorContext(ctx, "Manual check failed", "error", err)
		h.finish(ctx, m, chatID, status, fmt.Sprintf(msgs.CheckFailed, html.EscapeString(err.Error())))
		return
	case len(results) == 0:
		h.finish(ctx, m, chatID, status, msgs.NothingFound)
		return
	}

	for _, res := range results {
		if err := h.deps.Reporter.Send(ctx, m, chatID, res); err != nil {
			log.ErrorContext(ctx, "Failed to deliver report", "error", err, "date", res.Registry.Date)
		}
	}

	h.finish(ctx, m, chatID, status, fmt.Sprintf(msgs.Processed, len(results)))
}

// finish replaces the progress message with text, or sends text as a new
// message when the progress message could not be sent or edited.
func (h runHandler) finish(ctx context.Context, m Messenger, chatID int64, status *models.Message, text string) {
	log := h.deps.Logger.With("handler", "run")

	if status != nil {
		_, err := m.EditMessageText(ctx, &bot.EditMessageTextParams{
			ChatID:    chatID,
			MessageID: status.ID,
			Text:      text,
			ParseMode: models.ParseModeHTML,
		})
		if err == nil {
			return
		}
		log.WarnContext(ctx, "Failed to edit status message", "error", err, "chat_id", chatID)
	}

	reply(ctx, log, m, chatID, text)
}
