package handlers

import (
	"context"
	"fmt"
	"html"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

const historyLimit = 10

// NewHistoryHandler returns a handler for the /history command.
func NewHistoryHandler(deps HandlerDeps) bot.HandlerFunc {
	h := historyHandler{deps}
	return func(ctx context.Context, b *bot.Bot, update *models.Update) {
		h.handle(ctx, b, update)
	}
}

type historyHandler struct {
	deps HandlerDeps
}

func (h historyHandler) handle(ctx context.Context, m Messenger, update *models.Update) {
	log := h.deps.Logger.With("handler", "history")

	if update.Message == nil {
		return
	}
	chatID := update.Message.Chat.ID

	records, err := h.deps.Store.RecentRegistries(ctx, historyLimit)
	if err != nil {
		log.ErrorContext(ctx, "Failed to load registry history", "error", err)
		reply(ctx, log, m, chatID, h.deps.Config.Messages.GeneralError)
		return
	}
	if len(records) == 0 {
		reply(ctx, log, m, chatID, h.deps.Config.Messages.NoRegistries)
		return
	}

	var sb strings.Builder
	sb.WriteString("🗂 <b>Последние реестры</b>\n")
	for _, rec := range records {
		fmt.Fprintf(&sb, "\n%s — <b>%s RUB</b> (платежей: %d)",
			html.EscapeString(rec.RegistryDate), rec.TotalAmount.StringFixed(2), rec.PaymentsCount)
	}

	reply(ctx, log, m, chatID, sb.String())
}
