// Package app wires configuration, storage, clients and services into the
// shared core used by cmd/revisor and cmd/revisor-server.
package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bobmcallan/revisor/internal/clients/fmp"
	"github.com/bobmcallan/revisor/internal/common"
	"github.com/bobmcallan/revisor/internal/interfaces"
	"github.com/bobmcallan/revisor/internal/models"
	"github.com/bobmcallan/revisor/internal/services/estimates"
	"github.com/bobmcallan/revisor/internal/services/jobmanager"
	"github.com/bobmcallan/revisor/internal/services/ranker"
	"github.com/bobmcallan/revisor/internal/services/report"
	"github.com/bobmcallan/revisor/internal/services/universe"
	"github.com/bobmcallan/revisor/internal/storage"
)

// FMPKeyName is the system KV key (and env mapping) for the FMP API key.
const FMPKeyName = "fmp_api_key"

// App holds all initialized services and clients. The services are built
// once and never reassigned; an API key change swaps only the FMP client
// they share.
type App struct {
	Config           *common.Config
	Logger           *common.Logger
	Storage          interfaces.StorageManager
	EstimatesService *estimates.Service
	UniverseService  *universe.Service
	RankingService   *ranker.Service
	ReportService    *report.Service
	JobManager       *jobmanager.JobManager
	StartupTime      time.Time

	fmp       swappableClient
	scheduler *Scheduler
}

// getBinaryDir returns the directory containing the executable.
func getBinaryDir() string {
	exe, err := os.Executable()
	if err != nil {
		return "."
	}
	return filepath.Dir(exe)
}

// ResolveConfigPath returns configPath, else REVISOR_CONFIG, else revisor.toml
// next to the binary, else config/revisor.toml.
func ResolveConfigPath(configPath string) string {
	if configPath == "" {
		configPath = os.Getenv("REVISOR_CONFIG")
	}
	if configPath == "" {
		configPath = filepath.Join(getBinaryDir(), "revisor.toml")
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			configPath = "config/revisor.toml" // fallback for development
		}
	}
	return configPath
}

// NewApp loads configuration and initializes everything.
// configPath may be empty, in which case ResolveConfigPath decides.
func NewApp(configPath string) (*App, error) {
	common.LoadVersionFromFile()

	config, err := common.LoadConfig(ResolveConfigPath(configPath))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return NewAppWithConfig(config, common.NewLoggerFromConfig(config.Logging))
}

// NewAppWithConfig initializes storage, the FMP client and all services from
// an already loaded config.
func NewAppWithConfig(config *common.Config, logger *common.Logger) (*App, error) {
	startupStart := time.Now()
	ctx := context.Background()

	storageManager, err := storage.NewManager(ctx, logger, config)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	a := &App{
		Config:      config,
		Logger:      logger,
		Storage:     storageManager,
		StartupTime: startupStart,
	}

	fmpKey, err := common.ResolveAPIKey(ctx, storageManager.InternalStore(), FMPKeyName, config.Clients.FMP.APIKey)
	if err != nil {
		logger.Warn().Msg("FMP API key not configured - captures and scans will be unavailable")
	} else if client, err := newFMPClient(fmpKey, config, logger); err != nil {
		logger.Warn().Err(err).Msg("Failed to initialize FMP client")
	} else {
		a.fmp.store(client)
	}

	a.wireServices()

	logger.Info().
		Bool("fmp", a.HasFMP()).
		Dur("startup", time.Since(startupStart)).
		Msg("App initialized")
	return a, nil
}

func newFMPClient(apiKey string, config *common.Config, logger *common.Logger) (*fmp.Client, error) {
	return fmp.NewClient(apiKey,
		fmp.WithBaseURL(config.Clients.FMP.BaseURL),
		fmp.WithLogger(logger),
		fmp.WithRateLimit(config.Clients.FMP.RateLimit),
		fmp.WithTimeout(config.Clients.FMP.GetTimeout()),
	)
}

// wireServices builds every service around the shared swappable client.
func (a *App) wireServices() {
	a.EstimatesService = estimates.NewService(a.Storage, &a.fmp, a.Config, a.Logger)
	a.UniverseService = universe.NewService(&a.fmp, a.Config, a.Logger)
	a.RankingService = ranker.NewService(&a.fmp, a.EstimatesService, a.Config, a.Logger)
	a.ReportService = report.NewService(a.Storage, a.Config, a.Logger)
	a.JobManager = jobmanager.NewJobManager(
		a.RankingService,
		a.EstimatesService,
		a.UniverseService,
		a.ReportService,
		a.Storage,
		a.Logger,
		a.Config.Jobs,
	)
}

// SetAPIKey stores the FMP key in the internal KV and swaps in a client
// built from it. Safe to call while scans and captures are running.
func (a *App) SetAPIKey(ctx context.Context, key string) error {
	if key == "" {
		return fmp.ErrMissingAPIKey
	}
	client, err := newFMPClient(key, a.Config, a.Logger)
	if err != nil {
		return err
	}
	if err := a.Storage.InternalStore().SetSystemKV(ctx, FMPKeyName, key); err != nil {
		return fmt.Errorf("failed to store API key: %w", err)
	}
	a.UseFMPClient(client)
	a.Logger.Info().Msg("FMP API key updated")
	return nil
}

// UseFMPClient replaces the upstream client used by every service. Upstream
// calls already in flight finish on the old client; later calls use the new
// one. A nil client puts the services back into the unconfigured state.
func (a *App) UseFMPClient(client interfaces.FMPClient) {
	a.fmp.store(client)
}

// HasFMP reports whether an upstream client is configured.
func (a *App) HasFMP() bool {
	return a.fmp.current.Load() != nil
}

// RequireFMP returns fmp.ErrMissingAPIKey when no client is configured.
func (a *App) RequireFMP() error {
	if !a.HasFMP() {
		return fmp.ErrMissingAPIKey
	}
	return nil
}

// StartJobs launches the background scan processors.
func (a *App) StartJobs() {
	a.JobManager.Start()
}

// Capture runs a capture batch for the scheduler.
func (a *App) Capture(ctx context.Context, universe string) (*models.CaptureResult, error) {
	if err := a.RequireFMP(); err != nil {
		return nil, err
	}
	return a.JobManager.Capture(ctx, universe)
}

// StartScheduler starts the daily capture schedule when capture is enabled.
func (a *App) StartScheduler() error {
	if !a.Config.Capture.Enabled {
		a.Logger.Info().Msg("Capture schedule disabled")
		return nil
	}
	if err := a.RequireFMP(); err != nil {
		return fmt.Errorf("capture schedule requires an FMP API key: %w", err)
	}
	s := NewScheduler(a, a.Logger)
	if err := s.Start(a.Config.Capture.Schedule, a.Config.Capture.Universe); err != nil {
		return err
	}
	a.scheduler = s
	return nil
}

// Close releases all resources held by the App.
// Shutdown order: stop scheduler, stop job manager, close storage.
func (a *App) Close() {
	if a.scheduler != nil {
		a.scheduler.Stop()
		a.scheduler = nil
	}
	if a.JobManager != nil {
		a.JobManager.Stop()
	}
	if a.Storage != nil {
		a.Storage.Close()
		a.Storage = nil
	}
}
