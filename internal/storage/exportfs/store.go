// Package exportfs stores generated report artifacts (workbooks, charts) on disk.
package exportfs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bobmcallan/revisor/internal/common"
	"github.com/bobmcallan/revisor/internal/models"
)

// Store writes artifacts under basePath/<kind>/<name>.
type Store struct {
	basePath string
	logger   *common.Logger
}

// NewStore creates the export directory if needed.
func NewStore(logger *common.Logger, path string) (*Store, error) {
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create export path %s: %w", path, err)
	}
	logger.Info().Str("path", path).Msg("ExportFS store opened")
	return &Store{basePath: path, logger: logger}, nil
}

// WriteExport writes data atomically and returns the final path.
func (s *Store) WriteExport(_ context.Context, kind, name string, data []byte) (string, error) {
	dir := filepath.Join(s.basePath, sanitizeKey(kind))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	target := filepath.Join(dir, sanitizeKey(name))

	tmpFile, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, target); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("failed to rename temp file: %w", err)
	}

	s.logger.Debug().Str("path", target).Int("bytes", len(data)).Msg("Export written")
	return target, nil
}

// ReadExport returns the bytes of an artifact.
func (s *Store) ReadExport(_ context.Context, kind, name string) ([]byte, error) {
	path := filepath.Join(s.basePath, sanitizeKey(kind), sanitizeKey(name))
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read export %s: %w", path, err)
	}
	return data, nil
}

// ListExports returns artifacts of kind, newest first.
func (s *Store) ListExports(_ context.Context, kind string) ([]models.ExportFile, error) {
	dir := filepath.Join(s.basePath, sanitizeKey(kind))
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list exports in %s: %w", dir, err)
	}

	var files []models.ExportFile
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".tmp-") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, models.ExportFile{
			Kind:       kind,
			Name:       e.Name(),
			Path:       filepath.Join(dir, e.Name()),
			Size:       info.Size(),
			ModifiedAt: info.ModTime(),
		})
	}
	sort.Slice(files, func(i, j int) bool {
		return files[i].ModifiedAt.After(files[j].ModifiedAt)
	})
	return files, nil
}

// PurgeOlderThan removes artifacts of kind last modified before cutoff.
func (s *Store) PurgeOlderThan(ctx context.Context, kind string, cutoff time.Time) (int, error) {
	files, err := s.ListExports(ctx, kind)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, f := range files {
		if f.ModifiedAt.Before(cutoff) {
			if os.Remove(f.Path) == nil {
				count++
			}
		}
	}
	return count, nil
}

// Close is a no-op for file-based storage.
func (s *Store) Close() error {
	return nil
}

func sanitizeKey(key string) string {
	r := strings.NewReplacer("/", "_", "\\", "_", ":", "_", "..", "_")
	return r.Replace(key)
}
