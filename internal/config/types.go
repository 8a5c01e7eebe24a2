// Package config manages application configuration from environment variables,
// an optional YAML file, and default values.
package config

import (
	"path/filepath"
	"slices"
	"time"
)

// Config defines the application configuration for all components of the bot.
type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	Storage   StorageConfig   `mapstructure:"storage"`
	IMAP      IMAPConfig      `mapstructure:"imap"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Report    ReportConfig    `mapstructure:"report"`
	Messages  MessagesConfig  `mapstructure:"messages"`
}

// LogConfig controls the slog handler.
type LogConfig struct {
	Level  string `mapstructure:"level"  validate:"required,oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"required,oneof=json text"`
}

// TelegramConfig holds the bot token and the list of users allowed to talk to it.
type TelegramConfig struct {
	Token    string  `mapstructure:"token"  validate:"required"`
	AdminIDs []int64 `mapstructure:"-"      validate:"required,min=1,dive,gt=0"`
}

// StorageConfig describes the persistent volume the process writes to.
type StorageConfig struct {
	DataDir string `mapstructure:"data_dir" validate:"required"`
}

// IMAPConfig describes the mailbox that receives payment registries.
type IMAPConfig struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"                validate:"min=1,max=65535"`
	User              string        `mapstructure:"user"`
	Password          string        `mapstructure:"password"`
	FromFilter        string        `mapstructure:"from_filter"`
	SubjectFilter     string        `mapstructure:"subject_filter"`
	DaysToCheck       int           `mapstructure:"days_to_check"       validate:"min=1,max=365"`
	AllowedExtensions []string      `mapstructure:"-"                   validate:"required,min=1,dive,required"`
	Timeout           time.Duration `mapstructure:"timeout"             validate:"min=1s,max=5m"`
	Retries           uint64        `mapstructure:"retries"             validate:"max=10"`
}

// SchedulerConfig controls when scheduled tasks run.
type SchedulerConfig struct {
	Timezone    string                `mapstructure:"timezone"     validate:"required,timezone"`
	DailyHour   int                   `mapstructure:"daily_hour"   validate:"min=0,max=23"`
	DailyMinute int                   `mapstructure:"daily_minute" validate:"min=0,max=59"`
	Tasks       map[string]TaskConfig `mapstructure:"tasks"`
}

// TaskConfig configures a single scheduled task.
type TaskConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Schedule string `mapstructure:"schedule"`
}

// ReportConfig controls generated report files.
type ReportConfig struct {
	TaxDescription string        `mapstructure:"tax_description" validate:"required"`
	Retention      time.Duration `mapstructure:"retention"       validate:"min=1h"`
}

// MessagesConfig holds user-facing texts.
type MessagesConfig struct {
	Welcome         string `mapstructure:"welcome"          validate:"required"`
	Help            string `mapstructure:"help"             validate:"required"`
	StartDenied     string `mapstructure:"start_denied"     validate:"required"`
	NotAuthorized   string `mapstructure:"not_authorized"   validate:"required"`
	Checking        string `mapstructure:"checking"         validate:"required"`
	NothingFound    string `mapstructure:"nothing_found"    validate:"required"`
	Processed       string `mapstructure:"processed"        validate:"required"`
	CheckFailed     string `mapstructure:"check_failed"     validate:"required"`
	CheckBusy       string `mapstructure:"check_busy"       validate:"required"`
	GeneralError    string `mapstructure:"general_error"    validate:"required"`
	NoRegistries    string `mapstructure:"no_registries"    validate:"required"`
	TaxFileCaption  string `mapstructure:"tax_file_caption" validate:"required"`
	PaymentsCaption string `mapstructure:"payments_caption" validate:"required"`
}

// DatabasePath returns the SQLite file location inside the data directory.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Storage.DataDir, databaseFile)
}

// ReportsDir returns the directory generated report files are written to.
func (c *Config) ReportsDir() string {
	return filepath.Join(c.Storage.DataDir, reportsDir)
}

// IsAdmin reports whether userID is one of the configured administrators.
func (c *Config) IsAdmin(userID int64) bool {
	return slices.Contains(c.Telegram.AdminIDs, userID)
}

// Location returns the scheduler time zone. Validation guarantees it loads.
func (c *SchedulerConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
