package jobmanager

import (
	"context"
	"time"
)

// pruneLoop periodically deletes old scan runs and export files.
func (jm *JobManager) pruneLoop(ctx context.Context) {
	ticker := time.NewTicker(jm.config.GetPruneInterval())
	defer ticker.Stop()

	jm.prune(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			jm.prune(ctx)
		}
	}
}

// prune removes runs and exports older than RetainDays.
func (jm *JobManager) prune(ctx context.Context) {
	days := jm.config.RetainDays
	if days <= 0 {
		return
	}
	retain := time.Duration(days) * 24 * time.Hour

	runs, err := jm.storage.InternalStore().DeleteScanRunsBefore(ctx, jm.now().Add(-retain))
	if err != nil {
		jm.logger.Warn().Err(err).Msg("Pruner: failed to delete old scan runs")
	}

	files := 0
	if jm.reports != nil {
		if files, err = jm.reports.PurgeExports(ctx, retain); err != nil {
			jm.logger.Warn().Err(err).Msg("Pruner: failed to purge old exports")
		}
	}

	if runs > 0 || files > 0 {
		jm.logger.Info().Int("runs", runs).Int("exports", files).Msg("Pruned scan history")
	}
}
