// Package report renders rankings and revision data as workbooks and markdown.
package report

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bobmcallan/revisor/internal/common"
	"github.com/bobmcallan/revisor/internal/interfaces"
	"github.com/bobmcallan/revisor/internal/models"
)

// Export kinds, used as sub-directories of the export store.
const (
	KindRankings  = "rankings"
	KindCharts    = "charts"
	KindUniverses = "universes"
)

// Service writes report artifacts to the export store
type Service struct {
	storage interfaces.StorageManager
	config  *common.Config
	logger  *common.Logger
}

var _ interfaces.ReportService = (*Service)(nil)

// NewService creates a new report service
func NewService(storage interfaces.StorageManager, config *common.Config, logger *common.Logger) *Service {
	return &Service{storage: storage, config: config, logger: logger}
}

// ExportRanking builds the ranked workbook and stores it. An empty name uses
// the timestamped default. Returns the stored file path.
func (s *Service) ExportRanking(ctx context.Context, universe *models.RankedUniverse, name string) (string, error) {
	if universe == nil {
		return "", fmt.Errorf("no ranking to export")
	}
	if name == "" {
		generated := universe.GeneratedAt
		if generated.IsZero() {
			generated = time.Now()
		}
		name = ExportFileName(generated)
	}
	if !strings.HasSuffix(strings.ToLower(name), ".xlsx") {
		name += ".xlsx"
	}

	data, err := BuildWorkbook(universe, s.config.Scan.TopN)
	if err != nil {
		return "", fmt.Errorf("failed to build ranking workbook: %w", err)
	}
	path, err := s.storage.ExportStore().WriteExport(ctx, KindRankings, name, data)
	if err != nil {
		return "", fmt.Errorf("failed to store ranking workbook: %w", err)
	}

	s.logger.Info().
		Str("path", path).
		Int("rows", len(universe.Rows)).
		Msg("Ranking exported")
	return path, nil
}

// SaveChart stores a rendered chart PNG for ticker.
func (s *Service) SaveChart(ctx context.Context, ticker string, png []byte) (string, error) {
	name := fmt.Sprintf("%s_eps_revisions_%s.png", strings.ToUpper(ticker), time.Now().Format("20060102"))
	return s.storage.ExportStore().WriteExport(ctx, KindCharts, name, png)
}

// SaveUniverse stores an enriched universe workbook.
func (s *Service) SaveUniverse(ctx context.Context, name string, data []byte) (string, error) {
	if !strings.HasSuffix(strings.ToLower(name), ".xlsx") {
		name += ".xlsx"
	}
	return s.storage.ExportStore().WriteExport(ctx, KindUniverses, name, data)
}

// ListExports returns stored artifacts of a kind, newest first.
func (s *Service) ListExports(ctx context.Context, kind string) ([]models.ExportFile, error) {
	return s.storage.ExportStore().ListExports(ctx, kind)
}

// PurgeExports removes ranking workbooks and charts older than retain.
func (s *Service) PurgeExports(ctx context.Context, retain time.Duration) (int, error) {
	cutoff := time.Now().Add(-retain)
	total := 0
	for _, kind := range []string{KindRankings, KindCharts} {
		n, err := s.storage.ExportStore().PurgeOlderThan(ctx, kind, cutoff)
		if err != nil {
			return total, fmt.Errorf("failed to purge %s exports: %w", kind, err)
		}
		total += n
	}
	return total, nil
}
