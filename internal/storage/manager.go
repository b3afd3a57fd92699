// Package storage provides the top-level StorageManager that coordinates
// the 3 storage areas: snapshots, internaldb, and exportfs.
package storage

import (
	"context"
	"fmt"

	"github.com/bobmcallan/revisor/internal/common"
	"github.com/bobmcallan/revisor/internal/interfaces"
	"github.com/bobmcallan/revisor/internal/storage/exportfs"
	"github.com/bobmcallan/revisor/internal/storage/internaldb"
)

// Manager implements interfaces.StorageManager using 3 storage areas.
type Manager struct {
	snapshots interfaces.SnapshotStore
	internal  *internaldb.Store
	exports   *exportfs.Store
	logger    *common.Logger
}

// NewManager creates a new StorageManager with the 3 storage areas.
func NewManager(ctx context.Context, logger *common.Logger, config *common.Config) (*Manager, error) {
	snapshotStore, err := NewSnapshotStore(ctx, logger, &config.Storage.Snapshots)
	if err != nil {
		return nil, fmt.Errorf("failed to create snapshot store: %w", err)
	}

	internalStore, err := internaldb.NewStore(logger, config.Storage.Internal.Path)
	if err != nil {
		snapshotStore.Close()
		return nil, fmt.Errorf("failed to create internal store: %w", err)
	}

	exportStore, err := exportfs.NewStore(logger, config.Scan.ExportDir)
	if err != nil {
		snapshotStore.Close()
		internalStore.Close()
		return nil, fmt.Errorf("failed to create export store: %w", err)
	}

	backend, location := snapshotStore.Describe()
	logger.Info().
		Str("snapshots", backend+":"+location).
		Str("internal", config.Storage.Internal.Path).
		Str("exports", config.Scan.ExportDir).
		Msg("Storage manager initialized (3 areas)")

	return &Manager{
		snapshots: snapshotStore,
		internal:  internalStore,
		exports:   exportStore,
		logger:    logger,
	}, nil
}

func (m *Manager) SnapshotStore() interfaces.SnapshotStore {
	return m.snapshots
}

func (m *Manager) InternalStore() interfaces.InternalStore {
	return m.internal
}

func (m *Manager) ExportStore() interfaces.ExportStore {
	return m.exports
}

func (m *Manager) Close() error {
	var firstErr error
	if err := m.snapshots.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := m.internal.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := m.exports.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// Compile-time check
var _ interfaces.StorageManager = (*Manager)(nil)
