// Package common provides shared test infrastructure
package common

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/bobmcallan/revisor/internal/clients/fmp"
	appcommon "github.com/bobmcallan/revisor/internal/common"
	"github.com/bobmcallan/revisor/internal/interfaces"
	"github.com/bobmcallan/revisor/internal/models"
	"github.com/bobmcallan/revisor/internal/storage"
)

// MockFMPClient implements FMPClient for testing. Missing entries return
// fmp.ErrNoData. Safe for concurrent use.
type MockFMPClient struct {
	mu sync.Mutex

	Estimates    map[string][]models.AnalystEstimate
	PriceTargets map[string]*models.PriceTargetConsensus
	Actions      map[string][]models.RatingAction
	Ratings      map[string]*models.AnalystRatings
	Surprises    map[string][]models.EarningsSurprise
	Profiles     map[string]*models.CompanyProfile

	// Errors fails every call for a ticker with the given error.
	Errors map[string]error
	// Panics makes every call for a ticker panic.
	Panics map[string]bool
	// Delay is slept (ctx-aware) before each call.
	Delay time.Duration

	calls map[string]int
}

// NewMockFMPClient creates an empty mock client
func NewMockFMPClient() *MockFMPClient {
	return &MockFMPClient{
		Estimates:    make(map[string][]models.AnalystEstimate),
		PriceTargets: make(map[string]*models.PriceTargetConsensus),
		Actions:      make(map[string][]models.RatingAction),
		Ratings:      make(map[string]*models.AnalystRatings),
		Surprises:    make(map[string][]models.EarningsSurprise),
		Profiles:     make(map[string]*models.CompanyProfile),
		Errors:       make(map[string]error),
		Panics:       make(map[string]bool),
		calls:        make(map[string]int),
	}
}

// Calls returns how many calls were made for ticker.
func (m *MockFMPClient) Calls(ticker string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[ticker]
}

func (m *MockFMPClient) enter(ctx context.Context, ticker string) error {
	m.mu.Lock()
	m.calls[ticker]++
	err := m.Errors[ticker]
	panics := m.Panics[ticker]
	delay := m.Delay
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return &fmp.TransportError{Endpoint: "mock", Err: ctx.Err()}
		}
	}
	if panics {
		panic("mock panic for " + ticker)
	}
	return err
}

func (m *MockFMPClient) GetAnalystEstimates(ctx context.Context, ticker string) ([]models.AnalystEstimate, error) {
	if err := m.enter(ctx, ticker); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if ests, ok := m.Estimates[ticker]; ok && len(ests) > 0 {
		return ests, nil
	}
	return nil, fmp.ErrNoData
}

func (m *MockFMPClient) GetPriceTargetConsensus(ctx context.Context, ticker string) (*models.PriceTargetConsensus, error) {
	if err := m.enter(ctx, ticker); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if pt, ok := m.PriceTargets[ticker]; ok {
		return pt, nil
	}
	return nil, fmp.ErrNoData
}

func (m *MockFMPClient) GetUpgradesDowngrades(ctx context.Context, ticker string) ([]models.RatingAction, error) {
	if err := m.enter(ctx, ticker); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if actions, ok := m.Actions[ticker]; ok {
		return actions, nil
	}
	return nil, fmp.ErrNoData
}

func (m *MockFMPClient) GetAnalystRecommendations(ctx context.Context, ticker string) (*models.AnalystRatings, error) {
	if err := m.enter(ctx, ticker); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.Ratings[ticker]; ok {
		return r, nil
	}
	return nil, fmp.ErrNoData
}

func (m *MockFMPClient) GetEarningsSurprises(ctx context.Context, ticker string) ([]models.EarningsSurprise, error) {
	if err := m.enter(ctx, ticker); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.Surprises[ticker]; ok {
		return s, nil
	}
	return nil, fmp.ErrNoData
}

func (m *MockFMPClient) GetCompanyProfile(ctx context.Context, ticker string) (*models.CompanyProfile, error) {
	if err := m.enter(ctx, ticker); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.Profiles[ticker]; ok {
		return p, nil
	}
	return nil, fmp.ErrNoData
}

var _ interfaces.FMPClient = (*MockFMPClient)(nil)

// NewTestConfig returns the default config with every storage path under a
// temp directory.
func NewTestConfig(t *testing.T) *appcommon.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := appcommon.NewDefaultConfig()
	cfg.Storage.Snapshots.Driver = "sqlite"
	cfg.Storage.Snapshots.Path = filepath.Join(dir, "estimates_history.db")
	cfg.Storage.Internal.Path = filepath.Join(dir, "internal")
	cfg.Scan.ExportDir = filepath.Join(dir, "exports")
	cfg.Scan.SequentialDelay = "1ms"
	return cfg
}

// NewTestStorage opens a real storage manager rooted in cfg's temp paths.
func NewTestStorage(t *testing.T, cfg *appcommon.Config) interfaces.StorageManager {
	t.Helper()
	m, err := storage.NewManager(context.Background(), appcommon.NewSilentLogger(), cfg)
	if err != nil {
		t.Fatalf("failed to open test storage: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T { return &v }
