package handlers

import (
	"context"
	"fmt"
	"html"
	"slices"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/edgard/taxbot/internal/config"
)

// NewSettingsHandler returns a handler for the /settings command.
func NewSettingsHandler(deps HandlerDeps) bot.HandlerFunc {
	h := settingsHandler{deps}
	return func(ctx context.Context, b *bot.Bot, update *models.Update) {
		h.handle(ctx, b, update)
	}
}

// settingsHandler shows the effective configuration. Secrets are never printed.
type settingsHandler struct {
	deps HandlerDeps
}

func (h settingsHandler) handle(ctx context.Context, m Messenger, update *models.Update) {
	log := h.deps.Logger.With("handler", "settings")

	if update.Message == nil {
		return
	}

	reply(ctx, log, m, update.Message.Chat.ID, renderSettings(h.deps.Config))
}

func renderSettings(cfg *config.Config) string {
	orDash := func(s string) string {
		if s == "" {
			return "—"
		}
		return html.EscapeString(s)
	}

	var sb strings.Builder
	sb.WriteString("⚙️ <b>Настройки</b>\n\n")
	fmt.Fprintf(&sb, "🕐 Ежедневная проверка: %02d:%02d (%s)\n",
		cfg.Scheduler.DailyHour, cfg.Scheduler.DailyMinute, html.EscapeString(cfg.Scheduler.Timezone))

	names := make([]string, 0, len(cfg.Scheduler.Tasks))
	for name := range cfg.Scheduler.Tasks {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		task := cfg.Scheduler.Tasks[name]
		state := "выкл."
		if task.Enabled {
			state = "<code>" + html.EscapeString(task.Schedule) + "</code>"
		}
		fmt.Fprintf(&sb, "• %s: %s\n", html.EscapeString(name), state)
	}

	fmt.Fprintf(&sb, "\n📬 IMAP: %s:%d\n", orDash(cfg.IMAP.Host), cfg.IMAP.Port)
	fmt.Fprintf(&sb, "👤 Пользователь: %s\n", orDash(cfg.IMAP.User))
	fmt.Fprintf(&sb, "🔎 Отправитель: %s\n", orDash(cfg.IMAP.FromFilter))
	fmt.Fprintf(&sb, "🔎 Тема: %s\n", orDash(cfg.IMAP.SubjectFilter))
	fmt.Fprintf(&sb, "📅 Глубина поиска: %d дн.\n", cfg.IMAP.DaysToCheck)
	fmt.Fprintf(&sb, "📎 Расширения: %s\n", html.EscapeString(strings.Join(cfg.IMAP.AllowedExtensions, ", ")))
	fmt.Fprintf(&sb, "\n🧾 Описание дохода: %s", orDash(cfg.Report.TaxDescription))

	return sb.String()
}
