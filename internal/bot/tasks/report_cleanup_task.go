package tasks

import (
	"context"
	"fmt"
)

// newReportCleanupTask removes report files older than the configured retention.
func newReportCleanupTask(deps TaskDeps) ScheduledTaskFunc {
	log := deps.Logger.With("task", "report_cleanup")

	return func(ctx context.Context) error {
		removed, err := deps.Pruner.Prune(deps.Config.Report.Retention)
		if err != nil {
			return fmt.Errorf("report cleanup failed after removing %d files: %w", removed, err)
		}

		log.InfoContext(ctx, "Report cleanup completed", "removed", removed, "retention", deps.Config.Report.Retention)
		return nil
	}
}
