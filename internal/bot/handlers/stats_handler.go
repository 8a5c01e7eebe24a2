package handlers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

const dateLayout = "2006-01-02"

// NewStatsHandler returns a handler for the /stats command.
func NewStatsHandler(deps HandlerDeps) bot.HandlerFunc {
	h := statsHandler{deps: deps, now: time.Now}
	return func(ctx context.Context, b *bot.Bot, update *models.Update) {
		h.handle(ctx, b, update)
	}
}

// statsHandler reports income for the current month, the current year and
// all time, taken from the registry history.
type statsHandler struct {
	deps HandlerDeps
	now  func() time.Time
}

func (h statsHandler) handle(ctx context.Context, m Messenger, update *models.Update) {
	log := h.deps.Logger.With("handler", "stats")

	if update.Message == nil {
		return
	}
	chatID := update.Message.Chat.ID

	now := h.now().In(h.deps.Config.Scheduler.Location())
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	yearStart := time.Date(now.Year(), time.January, 1, 0, 0, 0, 0, now.Location())
	today := now.Format(dateLayout)

	periods := []struct {
		title string
		from  string
		to    string
	}{
		{"Текущий месяц", monthStart.Format(dateLayout), today},
		{"Текущий год", yearStart.Format(dateLayout), today},
		{"За всё время", "", ""},
	}

	var sb strings.Builder
	sb.WriteString("📈 <b>Доходы НПД</b>\n")

	for _, p := range periods {
		summary, err := h.deps.Store.IncomeSummary(ctx, p.from, p.to)
		if err != nil {
			log.ErrorContext(ctx, "Failed to summarize income", "error", err, "from", p.from, "to", p.to)
			reply(ctx, log, m, chatID, h.deps.Config.Messages.GeneralError)
			return
		}
		fmt.Fprintf(&sb, "\n<b>%s</b>\n💰 %s RUB\n🗂 Реестров: %d\n📦 Платежей: %d\n",
			p.title, summary.Total.StringFixed(2), summary.Registries, summary.Payments)
	}

	reply(ctx, log, m, chatID, strings.TrimRight(sb.String(), "\n"))
}
