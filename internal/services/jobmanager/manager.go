// Package jobmanager runs ranking scans in the background and records each
// run in the internal store as it moves PENDING -> RUNNING -> COMPLETE.
package jobmanager

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/bobmcallan/revisor/internal/common"
	"github.com/bobmcallan/revisor/internal/interfaces"
	"github.com/bobmcallan/revisor/internal/models"
)

var (
	// ErrQueueFull is returned by Submit when the run queue has no room.
	ErrQueueFull = errors.New("scan queue is full")
	// ErrRunNotActive is returned by Cancel for a run that is neither queued nor running.
	ErrRunNotActive = errors.New("scan run is not active")
	// ErrInvalidOptions wraps scan option validation failures.
	ErrInvalidOptions = errors.New("invalid scan options")
)

// JobManager owns the scan queue, the processor goroutines and the prune loop.
type JobManager struct {
	ranker    interfaces.RankingService
	tracker   interfaces.EstimatesService
	universes interfaces.UniverseService
	reports   interfaces.ReportService
	storage   interfaces.StorageManager
	logger    *common.Logger
	hub       *ScanWSHub
	config    common.JobsConfig
	now       func() time.Time

	queue chan string

	mu        sync.Mutex
	pending   map[string]bool
	cancelled map[string]bool
	active    map[string]context.CancelFunc
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewJobManager creates a new job manager. reports may be nil, in which case
// old exports are not purged.
func NewJobManager(
	ranker interfaces.RankingService,
	tracker interfaces.EstimatesService,
	universes interfaces.UniverseService,
	reports interfaces.ReportService,
	storage interfaces.StorageManager,
	logger *common.Logger,
	config common.JobsConfig,
) *JobManager {
	size := config.QueueSize
	if size <= 0 {
		size = 16
	}
	return &JobManager{
		ranker:    ranker,
		tracker:   tracker,
		universes: universes,
		reports:   reports,
		storage:   storage,
		logger:    logger,
		hub:       NewScanWSHub(logger),
		config:    config,
		now:       time.Now,
		queue:     make(chan string, size),
		pending:   make(map[string]bool),
		cancelled: make(map[string]bool),
		active:    make(map[string]context.CancelFunc),
	}
}

// safeGo launches a goroutine with panic recovery and logging.
func (jm *JobManager) safeGo(name string, fn func()) {
	jm.wg.Add(1)
	go func() {
		defer jm.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				jm.logger.Error().
					Str("goroutine", name).
					Str("panic", fmt.Sprintf("%v", r)).
					Str("stack", string(debug.Stack())).
					Msg("Recovered from panic in job manager goroutine")
			}
		}()
		fn()
	}()
}

// Start closes out runs orphaned by a previous process, then launches the
// processor pool, the prune loop and the WebSocket hub.
// Safe to call multiple times: stops any existing loops before starting.
func (jm *JobManager) Start() {
	jm.mu.Lock()
	running := jm.cancel != nil
	jm.mu.Unlock()
	if running {
		jm.Stop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	jm.mu.Lock()
	jm.cancel = cancel
	jm.mu.Unlock()

	if count, err := jm.recoverOrphans(ctx); err != nil {
		jm.logger.Warn().Err(err).Msg("Failed to close orphaned scan runs")
	} else if count > 0 {
		jm.logger.Info().Int("count", count).Msg("Closed scan runs orphaned by a previous process")
	}

	jm.hub.Start()
	jm.safeGo("websocket-hub", func() { jm.hub.Run() })
	jm.safeGo("pruner", func() { jm.pruneLoop(ctx) })

	maxConc := jm.config.MaxConcurrent
	if maxConc <= 0 {
		maxConc = 1
	}
	for i := 0; i < maxConc; i++ {
		name := fmt.Sprintf("processor-%d", i)
		jm.safeGo(name, func() { jm.processLoop(ctx) })
	}

	jm.logger.Info().
		Int("max_concurrent", maxConc).
		Int("queue_size", cap(jm.queue)).
		Msg("Job manager started")
}

// Stop cancels all loops and running scans and waits for completion.
func (jm *JobManager) Stop() {
	jm.mu.Lock()
	if jm.cancel != nil {
		jm.cancel()
		jm.cancel = nil
	}
	jm.mu.Unlock()
	jm.hub.Stop()
	jm.wg.Wait()
	jm.logger.Info().Msg("Job manager stopped")
}

// Hub returns the WebSocket hub for external handler registration.
func (jm *JobManager) Hub() *ScanWSHub {
	return jm.hub
}

// Cancel stops a running scan, or marks a queued one so it completes without
// scanning when dequeued.
func (jm *JobManager) Cancel(id string) error {
	jm.mu.Lock()
	defer jm.mu.Unlock()
	if cancel, ok := jm.active[id]; ok {
		cancel()
		return nil
	}
	if jm.pending[id] {
		jm.cancelled[id] = true
		return nil
	}
	return fmt.Errorf("%w: %s", ErrRunNotActive, id)
}

// processLoop executes queued runs until the manager stops.
func (jm *JobManager) processLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-jm.queue:
			jm.processRun(ctx, id)
		}
	}
}

func (jm *JobManager) processRun(ctx context.Context, id string) {
	jm.mu.Lock()
	delete(jm.pending, id)
	skipped := jm.cancelled[id]
	delete(jm.cancelled, id)
	jm.mu.Unlock()

	run, err := jm.storage.InternalStore().GetScanRun(ctx, id)
	if err != nil {
		jm.logger.Warn().Str("run_id", id).Err(err).Msg("Processor: queued run not found")
		return
	}

	if skipped {
		jm.finish(ctx, run, nil, errors.New("cancelled before start"))
		return
	}
	jm.executeRun(ctx, run, nil)
}

// recoverOrphans completes runs left PENDING or RUNNING by a process that
// exited mid-scan. Runs are never resumed.
func (jm *JobManager) recoverOrphans(ctx context.Context) (int, error) {
	store := jm.storage.InternalStore()
	runs, err := store.ListScanRuns(ctx, 0)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, summary := range runs {
		if summary.State == models.ScanComplete || jm.isPending(summary.ID) {
			continue
		}
		run, err := store.GetScanRun(ctx, summary.ID)
		if err != nil {
			return count, err
		}
		run.State = models.ScanComplete
		run.CompletedAt = jm.now()
		run.Error = "interrupted"
		if err := store.SaveScanRun(ctx, run); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

func (jm *JobManager) isPending(id string) bool {
	jm.mu.Lock()
	defer jm.mu.Unlock()
	return jm.pending[id]
}
