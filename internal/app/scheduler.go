package app

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/bobmcallan/revisor/internal/common"
	"github.com/bobmcallan/revisor/internal/models"
)

// captureTimeout bounds one scheduled capture batch.
const captureTimeout = 2 * time.Hour

// CaptureRunner runs one capture batch for a named universe.
type CaptureRunner interface {
	Capture(ctx context.Context, universe string) (*models.CaptureResult, error)
}

// Scheduler triggers the daily estimates capture on a cron schedule.
type Scheduler struct {
	runner CaptureRunner
	cron   *cron.Cron
	logger *common.Logger
}

// NewScheduler creates a capture scheduler. Schedules include a seconds field.
func NewScheduler(runner CaptureRunner, logger *common.Logger) *Scheduler {
	return &Scheduler{
		runner: runner,
		cron:   cron.New(cron.WithSeconds()),
		logger: logger,
	}
}

// Start registers the capture job and starts the cron loop.
func (s *Scheduler) Start(schedule, universe string) error {
	if _, err := s.cron.AddFunc(schedule, func() { s.runCapture(universe) }); err != nil {
		return err
	}
	s.cron.Start()
	s.logger.Info().
		Str("schedule", schedule).
		Str("universe", universe).
		Msg("Capture scheduler started")
	return nil
}

// Stop stops the cron loop and waits for a running capture to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info().Msg("Capture scheduler stopped")
}

// Next returns the next scheduled run, or the zero time when none is registered.
func (s *Scheduler) Next() time.Time {
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

func (s *Scheduler) runCapture(universe string) {
	ctx, cancel := context.WithTimeout(context.Background(), captureTimeout)
	defer cancel()

	s.logger.Info().Str("universe", universe).Msg("Starting scheduled capture")

	result, err := s.runner.Capture(ctx, universe)
	if err != nil {
		s.logger.Error().
			Err(err).
			Str("universe", universe).
			Msg("Scheduled capture failed")
		return
	}

	s.logger.Info().
		Int("saved", result.Saved).
		Int("total", result.Total).
		Int("skipped", result.Skipped).
		Dur("duration", result.Duration).
		Msg("Scheduled capture complete")
}
