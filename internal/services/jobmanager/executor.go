package jobmanager

import (
	"context"
	"fmt"

	"github.com/bobmcallan/revisor/internal/interfaces"
	"github.com/bobmcallan/revisor/internal/models"
)

// Run executes a scan synchronously, recording it like a queued run.
// progress, if set, sees every ticker. The returned run is COMPLETE.
func (jm *JobManager) Run(ctx context.Context, opts models.ScanOptions, progress interfaces.ProgressFunc) (*models.ScanRun, error) {
	run, err := jm.createRun(ctx, opts)
	if err != nil {
		return nil, err
	}
	jm.executeRun(ctx, run, progress)
	if run.Result == nil {
		return run, fmt.Errorf("scan run %s failed: %s", run.ID, run.Error)
	}
	return run, nil
}

// executeRun moves a run to RUNNING, scans its universe and completes it.
func (jm *JobManager) executeRun(ctx context.Context, run *models.ScanRun, progress interfaces.ProgressFunc) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	jm.mu.Lock()
	jm.active[run.ID] = cancel
	jm.mu.Unlock()
	defer func() {
		jm.mu.Lock()
		delete(jm.active, run.ID)
		jm.mu.Unlock()
	}()

	run.State = models.ScanRunning
	run.StartedAt = jm.now()
	jm.save(ctx, run)
	jm.broadcast(models.ScanEventStarted, run, nil)

	result, err := jm.scan(runCtx, run, progress)
	jm.finish(ctx, run, result, err)

	event := jm.logger.Info().Str("run_id", run.ID).Str("universe", run.Options.Universe)
	if err != nil {
		event.Str("error", run.Error).Msg("Scan run failed")
		return
	}
	event.
		Int("scored", result.Stats.Scored).
		Int("failed", result.Stats.Failed).
		Bool("cancelled", result.Stats.Cancelled).
		Dur("duration", result.Stats.Duration).
		Msg("Scan run complete")
}

// scan loads the universe and ranks it, persisting progress every
// ProgressEvery tickers.
func (jm *JobManager) scan(ctx context.Context, run *models.ScanRun, progress interfaces.ProgressFunc) (*models.RankedUniverse, error) {
	entries, err := jm.universes.Load(ctx, run.Options.Universe)
	if err != nil {
		return nil, fmt.Errorf("failed to load universe: %w", err)
	}

	every := max(jm.config.ProgressEvery, 1)
	return jm.ranker.Scan(ctx, entries, run.Options, func(p models.ScanProgress) {
		run.Progress = p
		if progress != nil {
			progress(p)
		}
		if p.Completed%every == 0 || p.Completed == p.Total {
			jm.save(ctx, run)
			jm.broadcast(models.ScanEventProgress, run, &p)
		}
	})
}
