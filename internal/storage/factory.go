package storage

import (
	"context"
	"fmt"

	"github.com/bobmcallan/revisor/internal/common"
	"github.com/bobmcallan/revisor/internal/interfaces"
	"github.com/bobmcallan/revisor/internal/storage/pgsnapshots"
	"github.com/bobmcallan/revisor/internal/storage/snapshotdb"
)

// Snapshot backend driver names.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// NewSnapshotStore creates the snapshot backend selected by config.
// Supported drivers: "sqlite" (default), "postgres".
func NewSnapshotStore(ctx context.Context, logger *common.Logger, config *common.SnapshotStoreConfig) (interfaces.SnapshotStore, error) {
	driver := config.Driver
	if driver == "" {
		driver = DriverSQLite
	}

	switch driver {
	case DriverSQLite:
		store, err := snapshotdb.NewStore(logger, config.Path)
		if err != nil {
			return nil, err
		}
		return store, nil

	case DriverPostgres:
		store, err := pgsnapshots.NewStore(ctx, logger, config.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return store, nil

	default:
		return nil, fmt.Errorf("unknown snapshot driver: %s (supported: sqlite, postgres)", driver)
	}
}
