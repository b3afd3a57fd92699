package data

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/revisor/internal/common"
	"github.com/bobmcallan/revisor/internal/interfaces"
	"github.com/bobmcallan/revisor/internal/models"
	"github.com/bobmcallan/revisor/internal/storage"
	tcommon "github.com/bobmcallan/revisor/tests/common"
)

// backend is one snapshot driver under test. Postgres runs share a database,
// so tickers are prefixed per test.
type backend struct {
	name   string
	config func(t *testing.T) *common.Config
}

func backends() []backend {
	list := []backend{{
		name:   storage.DriverSQLite,
		config: tcommon.NewTestConfig,
	}}
	if os.Getenv("REVISOR_TEST_DOCKER") == "true" {
		list = append(list, backend{
			name: storage.DriverPostgres,
			config: func(t *testing.T) *common.Config {
				cfg := tcommon.NewTestConfig(t)
				cfg.Storage.Snapshots.Driver = storage.DriverPostgres
				cfg.Storage.Snapshots.DatabaseURL = tcommon.StartPostgres(t).DatabaseURL()
				return cfg
			},
		})
	}
	return list
}

// forEachBackend runs fn once per snapshot driver with a fresh manager and a
// ticker prefix unique to the run.
func forEachBackend(t *testing.T, fn func(t *testing.T, cfg *common.Config, mgr interfaces.StorageManager, prefix string)) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			cfg := b.config(t)
			mgr := tcommon.NewTestStorage(t, cfg)
			fn(t, cfg, mgr, fmt.Sprintf("X%d", time.Now().UnixNano()%1_000_000_000))
		})
	}
}

func testContext() context.Context {
	return context.Background()
}

func day(s string) time.Time {
	t, err := time.Parse(models.SnapshotDateFormat, s)
	if err != nil {
		panic(err)
	}
	return t
}

func est(period string, eps float64, analysts int) models.AnalystEstimate {
	return models.AnalystEstimate{
		Date:           period,
		EPSAvg:         tcommon.Ptr(eps),
		RevenueAvg:     tcommon.Ptr(eps * 100),
		NumAnalystsEPS: tcommon.Ptr(analysts),
	}
}

func save(t *testing.T, store interfaces.SnapshotStore, ticker, date string, ests ...models.AnalystEstimate) {
	t.Helper()
	_, err := store.SaveSnapshot(testContext(), ticker, ests, day(date), 4)
	require.NoError(t, err)
}
