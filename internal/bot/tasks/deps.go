// Package tasks implements the bot's scheduled tasks.
// It includes task definitions, dependencies, and registration mechanisms.
package tasks

import (
	"context"
	"log/slog"
	"time"

	"github.com/edgard/taxbot/internal/config"
	"github.com/edgard/taxbot/internal/database"
	"github.com/edgard/taxbot/internal/notify"
	"github.com/edgard/taxbot/internal/processing"
)

// Checker runs a mailbox check. *processing.Processor satisfies it.
type Checker interface {
	Check(ctx context.Context) ([]processing.Result, error)
}

// Pruner removes old report files. *report.Writer satisfies it.
type Pruner interface {
	Prune(olderThan time.Duration) (int, error)
}

// TaskDeps contains all dependencies required by scheduled tasks.
type TaskDeps struct {
	Logger   *slog.Logger
	Config   *config.Config
	Store    database.Store
	Checker  Checker
	Reporter *notify.Reporter
	Sender   notify.Sender
	Pruner   Pruner
}
