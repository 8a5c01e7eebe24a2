package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// ErrConfiguration wraps every failure to produce a usable configuration.
var ErrConfiguration = errors.New("configuration error")

// envBindings maps configuration keys to the environment variables the
// container is deployed with.
var envBindings = map[string]string{
	"log.level":               "LOG_LEVEL",
	"log.format":              "LOG_FORMAT",
	"telegram.token":          "TELEGRAM_BOT_TOKEN",
	"telegram.admin_ids":      "ADMIN_IDS",
	"storage.data_dir":        "DATA_DIR",
	"imap.host":               "IMAP_HOST",
	"imap.port":               "IMAP_PORT",
	"imap.user":               "IMAP_USER",
	"imap.password":           "IMAP_PASSWORD",
	"imap.from_filter":        "EMAIL_FROM_FILTER",
	"imap.subject_filter":     "EMAIL_SUBJECT_FILTER",
	"imap.days_to_check":      "DAYS_TO_CHECK",
	"imap.allowed_extensions": "ALLOWED_EXTENSIONS",
	"imap.timeout":            "IMAP_TIMEOUT",
	"imap.retries":            "IMAP_RETRIES",
	"scheduler.timezone":      "TIMEZONE",
	"scheduler.daily_hour":    "DAILY_HOUR",
	"scheduler.daily_minute":  "DAILY_MINUTE",
	"report.tax_description":  "TAX_DESCRIPTION",
	"report.retention":        "REPORT_RETENTION",
}

// Load loads and validates configuration from:
//  1. Default values
//  2. the YAML file at path, if path is not empty and the file exists
//  3. environment variables (TELEGRAM_BOT_TOKEN, ADMIN_IDS, IMAP_HOST, ...)
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("%w: failed to bind %s: %v", ErrConfiguration, env, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !isNotExist(err) {
				return nil, fmt.Errorf("%w: failed to read config file %s: %v", ErrConfiguration, path, err)
			}
			// Config file not found is okay, environment and defaults apply
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("%w: failed to parse config: %v", ErrConfiguration, err)
	}

	adminIDs, err := parseIDList(v.Get("telegram.admin_ids"))
	if err != nil {
		return nil, fmt.Errorf("%w: invalid admin ids: %v", ErrConfiguration, err)
	}
	cfg.Telegram.AdminIDs = adminIDs
	cfg.IMAP.AllowedExtensions = normalizeExtensions(parseStringList(v.Get("imap.allowed_extensions")))

	cfg.Scheduler.Tasks = mergeTasks(defaultTasks(), cfg.Scheduler.Tasks)
	cfg.Scheduler.applyDailySchedule()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}

	return cfg, nil
}

// setDefaults sets default values for optional configuration parameters
func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", DefaultLogLevel)
	v.SetDefault("log.format", DefaultLogFormat)

	v.SetDefault("storage.data_dir", DefaultDataDir)

	v.SetDefault("imap.port", DefaultIMAPPort)
	v.SetDefault("imap.days_to_check", DefaultDaysToCheck)
	v.SetDefault("imap.allowed_extensions", DefaultAllowedExtensions)
	v.SetDefault("imap.timeout", DefaultIMAPTimeout)
	v.SetDefault("imap.retries", DefaultIMAPRetries)

	v.SetDefault("scheduler.timezone", DefaultTimezone)
	v.SetDefault("scheduler.daily_hour", DefaultDailyHour)
	v.SetDefault("scheduler.daily_minute", DefaultDailyMinute)

	v.SetDefault("report.tax_description", DefaultTaxDescription)
	v.SetDefault("report.retention", DefaultReportRetention)

	v.SetDefault("messages.welcome", DefaultMessages.Welcome)
	v.SetDefault("messages.help", DefaultMessages.Help)
	v.SetDefault("messages.start_denied", DefaultMessages.StartDenied)
	v.SetDefault("messages.not_authorized", DefaultMessages.NotAuthorized)
	v.SetDefault("messages.checking", DefaultMessages.Checking)
	v.SetDefault("messages.nothing_found", DefaultMessages.NothingFound)
	v.SetDefault("messages.processed", DefaultMessages.Processed)
	v.SetDefault("messages.check_failed", DefaultMessages.CheckFailed)
	v.SetDefault("messages.check_busy", DefaultMessages.CheckBusy)
	v.SetDefault("messages.general_error", DefaultMessages.GeneralError)
	v.SetDefault("messages.no_registries", DefaultMessages.NoRegistries)
	v.SetDefault("messages.tax_file_caption", DefaultMessages.TaxFileCaption)
	v.SetDefault("messages.payments_caption", DefaultMessages.PaymentsCaption)
}

// mergeTasks lays the configured task table over the defaults. A task the
// file names without a schedule keeps the default one.
func mergeTasks(defaults, configured map[string]TaskConfig) map[string]TaskConfig {
	for name, task := range configured {
		if task.Schedule == "" {
			task.Schedule = defaults[name].Schedule
		}
		defaults[name] = task
	}
	return defaults
}

// applyDailySchedule derives the email check cron expression from the daily
// hour and minute unless the task table sets one explicitly.
func (c *SchedulerConfig) applyDailySchedule() {
	task, ok := c.Tasks[TaskEmailCheck]
	if !ok || task.Schedule != "" {
		return
	}
	task.Schedule = fmt.Sprintf("%d %d * * *", c.DailyMinute, c.DailyHour)
	c.Tasks[TaskEmailCheck] = task
}

// parseIDList accepts either a comma separated string ("1, 2") or a YAML list.
func parseIDList(raw any) ([]int64, error) {
	var ids []int64
	for _, item := range parseStringList(raw) {
		id, err := strconv.ParseInt(item, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%q is not a user id", item)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func parseStringList(raw any) []string {
	var parts []string
	switch val := raw.(type) {
	case nil:
		return nil
	case string:
		parts = strings.Split(val, ",")
	case []string:
		parts = val
	case []any:
		for _, item := range val {
			parts = append(parts, fmt.Sprint(item))
		}
	default:
		parts = []string{fmt.Sprint(val)}
	}

	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// normalizeExtensions lowercases extensions and makes sure each starts with a dot.
func normalizeExtensions(exts []string) []string {
	out := make([]string, 0, len(exts))
	for _, ext := range exts {
		ext = strings.ToLower(ext)
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		out = append(out, ext)
	}
	return out
}

func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
