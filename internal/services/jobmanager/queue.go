package jobmanager

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/bobmcallan/revisor/internal/models"
)

// Submit records a PENDING run and queues it for a processor.
func (jm *JobManager) Submit(ctx context.Context, opts models.ScanOptions) (*models.ScanRun, error) {
	run, err := jm.createRun(ctx, opts)
	if err != nil {
		return nil, err
	}

	jm.mu.Lock()
	jm.pending[run.ID] = true
	jm.mu.Unlock()
	jm.broadcast(models.ScanEventQueued, run, nil)

	select {
	case jm.queue <- run.ID:
	default:
		jm.mu.Lock()
		delete(jm.pending, run.ID)
		jm.mu.Unlock()
		jm.finish(ctx, run, nil, ErrQueueFull)
		return nil, ErrQueueFull
	}

	jm.logger.Info().
		Str("run_id", run.ID).
		Str("universe", opts.Universe).
		Msg("Scan queued")
	return run, nil
}

// createRun validates the options and stores a new PENDING run.
func (jm *JobManager) createRun(ctx context.Context, opts models.ScanOptions) (*models.ScanRun, error) {
	opts.Universe = strings.TrimSpace(opts.Universe)
	if opts.Universe == "" {
		return nil, fmt.Errorf("%w: universe is required", ErrInvalidOptions)
	}
	if opts.MaxStocks < 0 || opts.Workers < 0 {
		return nil, fmt.Errorf("%w: max_stocks and workers must not be negative", ErrInvalidOptions)
	}

	run := &models.ScanRun{
		ID:        uuid.New().String(),
		State:     models.ScanPending,
		Options:   opts,
		CreatedAt: jm.now(),
	}
	if err := jm.storage.InternalStore().SaveScanRun(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to record scan run: %w", err)
	}
	return run, nil
}

// save persists run state. It ignores cancellation of ctx so the final
// COMPLETE record is written even while shutting down.
func (jm *JobManager) save(ctx context.Context, run *models.ScanRun) {
	if err := jm.storage.InternalStore().SaveScanRun(context.WithoutCancel(ctx), run); err != nil {
		jm.logger.Warn().Str("run_id", run.ID).Err(err).Msg("Failed to save scan run")
	}
}

// finish marks run COMPLETE with either a result or an error.
func (jm *JobManager) finish(ctx context.Context, run *models.ScanRun, result *models.RankedUniverse, runErr error) {
	run.State = models.ScanComplete
	run.CompletedAt = jm.now()
	if runErr != nil {
		run.Error = runErr.Error()
	} else {
		run.Result = result
	}
	jm.save(ctx, run)
	jm.broadcast(models.ScanEventCompleted, run, nil)
}

func (jm *JobManager) broadcast(eventType string, run *models.ScanRun, progress *models.ScanProgress) {
	jm.hub.Broadcast(models.ScanEvent{
		Type:      eventType,
		Run:       run.Summary(),
		Progress:  progress,
		Timestamp: jm.now(),
	})
}
