package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
)

// Validate checks struct constraints and that every enabled task has a
// schedule the cron parser accepts.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}

	for name, task := range c.Scheduler.Tasks {
		if !task.Enabled {
			continue
		}
		if strings.TrimSpace(task.Schedule) == "" {
			return fmt.Errorf("scheduler task %q is enabled but has no schedule", name)
		}
		// gocron.CronJob(expr, false) uses the same five-field parser.
		if _, err := cron.ParseStandard(task.Schedule); err != nil {
			return fmt.Errorf("scheduler task %q: invalid schedule %q: %w", name, task.Schedule, err)
		}
	}

	return nil
}
