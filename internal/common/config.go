// Package common provides shared utilities for Revisor
package common

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	toml "github.com/pelletier/go-toml/v2"

	"github.com/bobmcallan/revisor/internal/interfaces"
)

// Config holds all configuration for Revisor
type Config struct {
	Environment string          `toml:"environment"`
	Server      ServerConfig    `toml:"server"`
	Storage     StorageConfig   `toml:"storage"`
	Clients     ClientsConfig   `toml:"clients"`
	Scan        ScanConfig      `toml:"scan"`
	Scoring     ScoringConfig   `toml:"scoring"`
	Capture     CaptureConfig   `toml:"capture"`
	Jobs        JobsConfig      `toml:"jobs"`
	Universes   UniversesConfig `toml:"universes"`
	Logging     LoggingConfig   `toml:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port" validate:"min=1,max=65535"`
}

// StorageConfig holds configuration for the two storage areas.
type StorageConfig struct {
	Snapshots SnapshotStoreConfig `toml:"snapshots"` // Estimate snapshots (SQLite or PostgreSQL)
	Internal  AreaConfig          `toml:"internal"`  // System KV + scan runs (BadgerHold)
}

// SnapshotStoreConfig selects and configures the snapshot backend.
type SnapshotStoreConfig struct {
	Driver      string `toml:"driver" validate:"oneof=sqlite postgres"`
	Path        string `toml:"path"`
	DatabaseURL string `toml:"database_url"`
}

// AreaConfig holds path configuration for a storage area.
type AreaConfig struct {
	Path string `toml:"path" validate:"required"`
}

// ClientsConfig holds API client configurations
type ClientsConfig struct {
	FMP FMPConfig `toml:"fmp"`
}

// FMPConfig holds Financial Modeling Prep API configuration
type FMPConfig struct {
	BaseURL   string `toml:"base_url" validate:"required,url"`
	APIKey    string `toml:"api_key"`
	RateLimit int    `toml:"rate_limit" validate:"min=1"`
	Timeout   string `toml:"timeout"`
}

// GetTimeout parses and returns the timeout duration
func (c *FMPConfig) GetTimeout() time.Duration {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 10 * time.Second
	}
	return d
}

// ScanConfig holds settings for ranking scans.
type ScanConfig struct {
	MaxWorkers         int    `toml:"max_workers" validate:"min=1,max=100"`
	SequentialDelay    string `toml:"sequential_delay"`
	RatingWindowDays   int    `toml:"rating_window_days" validate:"min=1"`
	RatingActionsLimit int    `toml:"rating_actions_limit" validate:"min=1"`
	RevisionDays       []int  `toml:"revision_days" validate:"min=1,dive,min=1"`
	TopN               int    `toml:"top_n" validate:"min=1"`
	ExportDir          string `toml:"export_dir"`
}

// GetSequentialDelay parses and returns the delay between sequential requests
func (c *ScanConfig) GetSequentialDelay() time.Duration {
	d, err := time.ParseDuration(c.SequentialDelay)
	if err != nil {
		return 200 * time.Millisecond
	}
	return d
}

// ScoringConfig holds the composite score weights.
type ScoringConfig struct {
	BeatPoints         float64 `toml:"beat_points" validate:"gte=0"`
	MissPenalty        float64 `toml:"miss_penalty" validate:"gte=0"`
	SurpriseMultiplier float64 `toml:"surprise_multiplier" validate:"gte=0"`
	SurpriseCap        float64 `toml:"surprise_cap" validate:"gte=0"`
	SurpriseFloor      float64 `toml:"surprise_floor" validate:"lte=0"`
	RatingMultiplier   float64 `toml:"rating_multiplier" validate:"gte=0"`
	RatingCap          float64 `toml:"rating_cap" validate:"gte=0"`
}

// CaptureConfig holds settings for the daily snapshot capture job.
type CaptureConfig struct {
	Enabled    bool   `toml:"enabled"`
	Schedule   string `toml:"schedule" validate:"required"`
	Universe   string `toml:"universe" validate:"required"`
	MaxWorkers int    `toml:"max_workers" validate:"min=1,max=100"`
	Periods    int    `toml:"periods" validate:"min=1"`
}

// JobsConfig holds settings for the background scan run manager.
type JobsConfig struct {
	MaxConcurrent int    `toml:"max_concurrent" validate:"min=1,max=10"`
	QueueSize     int    `toml:"queue_size" validate:"min=1"`
	RetainDays    int    `toml:"retain_days" validate:"min=1"`
	PruneInterval string `toml:"prune_interval"`
	ProgressEvery int    `toml:"progress_every" validate:"min=1"`
}

// GetPruneInterval parses and returns how often old runs and exports are pruned
func (c *JobsConfig) GetPruneInterval() time.Duration {
	d, err := time.ParseDuration(c.PruneInterval)
	if err != nil || d <= 0 {
		return time.Hour
	}
	return d
}

// UniversesConfig holds paths to the named reference lists.
type UniversesConfig struct {
	Master     string `toml:"master"`
	SP500      string `toml:"sp500"`
	Disruption string `toml:"disruption"`
	Broad      string `toml:"broad"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level    string   `toml:"level"`
	Format   string   `toml:"format"`
	Outputs  []string `toml:"outputs"`
	FilePath string   `toml:"file_path"`
}

// NewDefaultConfig returns a Config with sensible defaults
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8090,
		},
		Storage: StorageConfig{
			Snapshots: SnapshotStoreConfig{
				Driver: "sqlite",
				Path:   "data/estimates_history.db",
			},
			Internal: AreaConfig{Path: "data/internal"},
		},
		Clients: ClientsConfig{
			FMP: FMPConfig{
				BaseURL:   "https://financialmodelingprep.com/api",
				RateLimit: 25,
				Timeout:   "10s",
			},
		},
		Scan: ScanConfig{
			MaxWorkers:         10,
			SequentialDelay:    "200ms",
			RatingWindowDays:   90,
			RatingActionsLimit: 20,
			RevisionDays:       []int{7, 30, 60, 90},
			TopN:               20,
			ExportDir:          "data/exports",
		},
		Scoring: ScoringConfig{
			BeatPoints:         10,
			MissPenalty:        8,
			SurpriseMultiplier: 3,
			SurpriseCap:        30,
			SurpriseFloor:      -20,
			RatingMultiplier:   5,
			RatingCap:          30,
		},
		Capture: CaptureConfig{
			Enabled:    false,
			Schedule:   "0 30 6 * * 1-5",
			Universe:   "master",
			MaxWorkers: 10,
			Periods:    4,
		},
		Jobs: JobsConfig{
			MaxConcurrent: 1,
			QueueSize:     16,
			RetainDays:    30,
			PruneInterval: "1h",
			ProgressEvery: 25,
		},
		Universes: UniversesConfig{
			Master:     "data/universes/master_ticker_list.csv",
			SP500:      "data/universes/sp500.xlsx",
			Disruption: "data/universes/disruption_index.xlsx",
			Broad:      "data/universes/broad_universe.xlsx",
		},
		Logging: LoggingConfig{
			Level:    "info",
			Format:   "text",
			Outputs:  []string{"console"},
			FilePath: "./logs/revisor.log",
		},
	}
}

// LoadConfig loads configuration from files with .env and environment overrides
func LoadConfig(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	// Load and merge each config file in order (later files override earlier)
	for _, path := range paths {
		if path == "" {
			continue
		}

		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue // Skip missing files
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	// .env never overrides variables already present in the process environment
	_ = godotenv.Load()

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("REVISOR_ENV"); env != "" {
		config.Environment = env
	}

	if host := os.Getenv("REVISOR_HOST"); host != "" {
		config.Server.Host = host
	}

	if port := os.Getenv("REVISOR_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}

	if level := os.Getenv("REVISOR_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}

	if path := os.Getenv("REVISOR_DATA_PATH"); path != "" {
		config.Storage.Snapshots.Path = filepath.Join(path, "estimates_history.db")
		config.Storage.Internal.Path = filepath.Join(path, "internal")
	}

	if w := os.Getenv("REVISOR_MAX_WORKERS"); w != "" {
		if n, err := strconv.Atoi(w); err == nil {
			config.Scan.MaxWorkers = n
		}
	}

	// A DATABASE_URL switches snapshots to the shared PostgreSQL backend
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		config.Storage.Snapshots.Driver = "postgres"
		config.Storage.Snapshots.DatabaseURL = dsn
	}
}

// Validate checks struct-level constraints on the loaded configuration.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.Storage.Snapshots.Driver == "postgres" && c.Storage.Snapshots.DatabaseURL == "" {
		return fmt.Errorf("storage.snapshots.database_url is required for the postgres driver")
	}
	if c.Storage.Snapshots.Driver == "sqlite" && c.Storage.Snapshots.Path == "" {
		return fmt.Errorf("storage.snapshots.path is required for the sqlite driver")
	}
	return nil
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}

// UniversePath returns the configured file for a named reference list.
func (c *Config) UniversePath(name string) (string, bool) {
	switch strings.ToLower(name) {
	case "master":
		return c.Universes.Master, c.Universes.Master != ""
	case "sp500":
		return c.Universes.SP500, c.Universes.SP500 != ""
	case "disruption":
		return c.Universes.Disruption, c.Universes.Disruption != ""
	case "broad":
		return c.Universes.Broad, c.Universes.Broad != ""
	}
	return "", false
}

// ResolveAPIKey resolves an API key from environment, InternalStore, or fallback
func ResolveAPIKey(ctx context.Context, store interfaces.KeyValueStore, name string, fallback string) (string, error) {
	keyToEnvMapping := map[string][]string{
		"fmp_api_key": {"FMP_API_KEY", "REVISOR_FMP_API_KEY"},
	}

	// Check environment variables first (highest priority)
	if envVarNames, ok := keyToEnvMapping[name]; ok {
		for _, envVarName := range envVarNames {
			if envValue := os.Getenv(envVarName); envValue != "" {
				return envValue, nil
			}
		}
	}

	// Try InternalStore system KV (medium priority)
	if store != nil {
		apiKey, err := store.GetSystemKV(ctx, name)
		if err == nil && apiKey != "" {
			return apiKey, nil
		}
	}

	// Fallback (lowest priority)
	if fallback != "" {
		return fallback, nil
	}

	return "", fmt.Errorf("API key '%s' not found in environment or store", name)
}
