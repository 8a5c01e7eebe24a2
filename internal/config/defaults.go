package config

import "time"

const (
	databaseFile = "bot.db"
	reportsDir   = "reports"
)

// Task names known to the scheduler.
const (
	TaskEmailCheck     = "email_check"
	TaskSQLMaintenance = "sql_maintenance"
	TaskReportCleanup  = "report_cleanup"
)

// Default values for configuration
const (
	DefaultLogLevel  = "info"
	DefaultLogFormat = "text"

	DefaultDataDir = "/app/data"

	DefaultIMAPPort          = 993
	DefaultDaysToCheck       = 7
	DefaultAllowedExtensions = ".csv"
	DefaultIMAPTimeout       = 30 * time.Second
	DefaultIMAPRetries       = 3

	DefaultTimezone    = "UTC"
	DefaultDailyHour   = 10
	DefaultDailyMinute = 0

	DefaultSQLMaintenanceSchedule = "0 4 * * 0"  // Sundays at 04:00
	DefaultReportCleanupSchedule  = "30 3 * * *" // every day at 03:30

	DefaultTaxDescription  = "Доступ к IT-сервису"
	DefaultReportRetention = 30 * 24 * time.Hour
)

// DefaultMessages are the texts the bot replies with unless overridden.
var DefaultMessages = MessagesConfig{
	Welcome: "👋 <b>YooKassa Tax Bot</b>\n\n" +
		"Автоматическая обработка реестров для НПД.\n\n" +
		"Команды:\n" +
		"/run — проверить почту сейчас\n" +
		"/status — статистика обработки",
	Help: "Команды:\n" +
		"/run — проверить почту сейчас\n" +
		"/status — статистика обработки\n" +
		"/stats — доходы и статистика НПД\n" +
		"/history — история реестров\n" +
		"/settings — настройки бота",
	StartDenied:     "⛔ Access denied. This bot is private.",
	NotAuthorized:   "⛔ Access denied.",
	Checking:        "🔄 Проверяю почту...",
	NothingFound:    "✅ Новых реестров не найдено.",
	Processed:       "✅ Обработано реестров: %d",
	CheckFailed:     "❌ Ошибка: %s",
	CheckBusy:       "⏳ Проверка уже выполняется, попробуйте позже.",
	GeneralError:    "❌ Произошла ошибка. Попробуйте позже.",
	NoRegistries:    "Реестров пока нет.",
	TaxFileCaption:  "📄 Итоговая запись для НПД",
	PaymentsCaption: "📋 Детализация платежей",
}

// defaultTasks returns the task table used when the configuration file does not define one.
func defaultTasks() map[string]TaskConfig {
	return map[string]TaskConfig{
		TaskEmailCheck:     {Enabled: true},
		TaskSQLMaintenance: {Enabled: true, Schedule: DefaultSQLMaintenanceSchedule},
		TaskReportCleanup:  {Enabled: true, Schedule: DefaultReportCleanupSchedule},
	}
}
