package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/edgard/taxbot/internal/processing"
)

// newEmailCheckTask creates the daily mailbox check. New registries are sent
// to every administrator; a failed delivery to one admin does not stop the rest.
func newEmailCheckTask(deps TaskDeps) ScheduledTaskFunc {
	log := deps.Logger.With("task", "email_check")

	return func(ctx context.Context) error {
		startTime := time.Now()

		results, err := deps.Checker.Check(ctx)
		if errors.Is(err, processing.ErrCheckInProgress) {
			log.WarnContext(ctx, "Skipping scheduled check, another check is running")
			return nil
		}
		if err != nil {
			return fmt.Errorf("scheduled email check failed: %w", err)
		}

		if len(results) == 0 {
			log.InfoContext(ctx, "No new registries found", "duration", time.Since(startTime))
			return nil
		}

		for _, adminID := range deps.Config.Telegram.AdminIDs {
			for _, res := range results {
				if err := deps.Reporter.Send(ctx, deps.Sender, adminID, res); err != nil {
					log.ErrorContext(ctx, "Error sending report to admin", "admin_id", adminID, "date", res.Registry.Date, "error", err)
					break
				}
			}
		}

		log.InfoContext(ctx, "Sent reports to admins", "reports", len(results), "admins", len(deps.Config.Telegram.AdminIDs),
			"duration", time.Since(startTime))
		return nil
	}
}
