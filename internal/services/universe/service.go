// Package universe loads the named ticker reference lists used by captures
// and scans.
package universe

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/bobmcallan/revisor/internal/common"
	"github.com/bobmcallan/revisor/internal/interfaces"
	"github.com/bobmcallan/revisor/internal/models"
)

// Named universes.
const (
	Master     = "master"
	SP500      = "sp500"
	Disruption = "disruption"
	Both       = "both"
	Broad      = "broad"
)

// ErrUnknownUniverse is returned for a name that is neither a configured
// universe nor a .csv/.xlsx path.
var ErrUnknownUniverse = errors.New("unknown universe")

// Service implements UniverseService
type Service struct {
	fmp    interfaces.FMPClient
	config *common.Config
	logger *common.Logger
}

var _ interfaces.UniverseService = (*Service)(nil)

// NewService creates a universe service. fmp is only needed for EnrichSectors.
func NewService(fmp interfaces.FMPClient, config *common.Config, logger *common.Logger) *Service {
	return &Service{fmp: fmp, config: config, logger: logger}
}

// Available lists the named universes.
func (s *Service) Available() []string {
	return []string{Master, SP500, Disruption, Both, Broad}
}

// Load resolves name to a list of entries. A name ending in .csv or .xlsx is
// read as a file with a header row.
func (s *Service) Load(ctx context.Context, name string) ([]models.UniverseEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	key := strings.ToLower(strings.TrimSpace(name))
	var entries []models.UniverseEntry
	var err error

	switch key {
	case Master:
		entries, err = LoadMasterCSV(s.path(Master))
	case SP500:
		entries, err = LoadXLSX(s.path(SP500), "Symbol")
	case Disruption:
		entries, err = LoadDisruptionXLSX(s.path(Disruption))
	case Broad:
		entries, err = LoadXLSX(s.path(Broad), "Ticker")
	case Both:
		var sp, dis []models.UniverseEntry
		if sp, err = LoadXLSX(s.path(SP500), "Symbol"); err != nil {
			return nil, err
		}
		if dis, err = LoadDisruptionXLSX(s.path(Disruption)); err != nil {
			return nil, err
		}
		entries = Dedupe(append(sp, dis...))
	default:
		switch strings.ToLower(filepath.Ext(key)) {
		case ".csv":
			entries, err = LoadCSV(name)
		case ".xlsx":
			entries, err = LoadXLSX(name, "")
		default:
			return nil, fmt.Errorf("%w: %q", ErrUnknownUniverse, name)
		}
	}
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("universe", name).Int("tickers", len(entries)).Msg("Universe loaded")
	return entries, nil
}

func (s *Service) path(name string) string {
	p, _ := s.config.UniversePath(name)
	return p
}

// LoadMasterCSV reads the headerless master list: Ticker, Name, Exchange.
// "SYMBOL EXCH" tickers are converted to the API's suffix form.
func LoadMasterCSV(path string) ([]models.UniverseEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open master universe: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	var entries []models.UniverseEntry
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read master universe %s: %w", path, err)
		}
		ticker := common.ToFMPTicker(field(rec, 0))
		if ticker == "" {
			continue
		}
		entries = append(entries, models.UniverseEntry{
			Ticker:   ticker,
			Name:     field(rec, 1),
			Exchange: field(rec, 2),
		})
	}
	return entries, nil
}

// LoadCSV reads a CSV with a header row. The ticker comes from a Ticker or
// Symbol column (else the first column); Sector and Industry are optional.
func LoadCSV(path string) ([]models.UniverseEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open universe %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read universe %s: %w", path, err)
	}
	return entriesFromRows(rows, ""), nil
}

// Dedupe drops repeated tickers, keeping the first occurrence.
func Dedupe(entries []models.UniverseEntry) []models.UniverseEntry {
	seen := make(map[string]bool, len(entries))
	out := make([]models.UniverseEntry, 0, len(entries))
	for _, e := range entries {
		if seen[e.Ticker] {
			continue
		}
		seen[e.Ticker] = true
		out = append(out, e)
	}
	return out
}

// SectorMap maps ticker to sector for entries that have one.
func SectorMap(entries []models.UniverseEntry) map[string]string {
	out := make(map[string]string, len(entries))
	for _, e := range entries {
		if e.Sector != "" {
			out[e.Ticker] = e.Sector
		}
	}
	return out
}

// Sectors returns the distinct sectors present, in first-seen order.
func Sectors(entries []models.UniverseEntry) []string {
	seen := make(map[string]bool)
	var out []string
	for _, e := range entries {
		if e.Sector == "" || seen[e.Sector] {
			continue
		}
		seen[e.Sector] = true
		out = append(out, e.Sector)
	}
	return out
}

// entriesFromRows maps header-row tables onto entries. tickerColumn names the
// preferred ticker header; Ticker and Symbol are tried next, then column 0.
func entriesFromRows(rows [][]string, tickerColumn string) []models.UniverseEntry {
	if len(rows) == 0 {
		return nil
	}
	header := make(map[string]int)
	for i, h := range rows[0] {
		header[strings.ToLower(strings.TrimSpace(h))] = i
	}

	tickerIdx := 0
	for _, name := range []string{tickerColumn, "ticker", "symbol"} {
		if i, ok := header[strings.ToLower(name)]; ok && name != "" {
			tickerIdx = i
			break
		}
	}
	col := func(name string) int {
		if i, ok := header[name]; ok {
			return i
		}
		return -1
	}
	nameIdx, exchangeIdx := col("name"), col("exchange")
	sectorIdx, industryIdx := col("sector"), col("industry")
	if nameIdx < 0 {
		nameIdx = col("security")
	}

	var entries []models.UniverseEntry
	for _, row := range rows[1:] {
		ticker := strings.ToUpper(field(row, tickerIdx))
		if ticker == "" || ticker == "NAN" {
			continue
		}
		entries = append(entries, models.UniverseEntry{
			Ticker:   ticker,
			Name:     field(row, nameIdx),
			Exchange: field(row, exchangeIdx),
			Sector:   field(row, sectorIdx),
			Industry: field(row, industryIdx),
		})
	}
	return entries
}

func field(rec []string, i int) string {
	if i < 0 || i >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[i])
}
