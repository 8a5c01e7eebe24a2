package handlers

import (
	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// RegisteredHandler represents a command handler with its description and middleware.
// It encapsulates all information needed to register and document a command.
type RegisteredHandler struct {
	HandlerType tgbot.HandlerType
	Pattern     string
	Description string
	Handler     tgbot.HandlerFunc
	Middleware  []tgbot.Middleware
	MatchType   tgbot.MatchType
}

// RegisterAllCommands initializes and returns a map of all available bot commands.
// /start answers everyone (with a refusal for strangers); every other command
// is admin-only.
func RegisterAllCommands(deps HandlerDeps) map[string]RegisteredHandler {
	handlers := make(map[string]RegisteredHandler)

	handlers["/start"] = command("start", "Начало работы", NewStartHandler(deps))

	adminMiddleware := []tgbot.Middleware{AdminOnly(deps)}
	admin := func(pattern, description string, h tgbot.HandlerFunc) RegisteredHandler {
		rh := command(pattern, description, h)
		rh.Middleware = adminMiddleware
		return rh
	}

	handlers["/help"] = admin("help", "Список команд", NewHelpHandler(deps))
	handlers["/run"] = admin("run", "Проверить почту сейчас", NewRunHandler(deps))
	handlers["/status"] = admin("status", "Статистика обработки", NewStatusHandler(deps))
	handlers["/stats"] = admin("stats", "Доходы и статистика НПД", NewStatsHandler(deps))
	handlers["/history"] = admin("history", "История реестров", NewHistoryHandler(deps))
	handlers["/settings"] = admin("settings", "Настройки бота", NewSettingsHandler(deps))

	return handlers
}

func command(pattern, description string, h tgbot.HandlerFunc) RegisteredHandler {
	return RegisteredHandler{
		HandlerType: tgbot.HandlerTypeMessageText,
		Pattern:     pattern,
		Description: description,
		Handler:     h,
		MatchType:   tgbot.MatchTypeCommandStartOnly,
	}
}

// menuOrder is the order commands appear in the Telegram command menu.
var menuOrder = []string{"/run", "/status", "/stats", "/history", "/settings", "/help", "/start"}

// BotCommands returns the command menu for registered, in menu order.
func BotCommands(registered map[string]RegisteredHandler) []models.BotCommand {
	commands := make([]models.BotCommand, 0, len(registered))
	for _, name := range menuOrder {
		rh, ok := registered[name]
		if !ok || rh.Description == "" {
			continue
		}
		commands = append(commands, models.BotCommand{Command: rh.Pattern, Description: rh.Description})
	}
	return commands
}
