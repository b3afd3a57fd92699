package universe

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/bobmcallan/revisor/internal/models"
)

// disruptionSkipRows is the number of sheet rows above the first ticker in the
// disruption index workbook (a column header and two banner rows).
const disruptionSkipRows = 3

// LoadXLSX reads the first sheet of a workbook with a header row.
func LoadXLSX(path, tickerColumn string) ([]models.UniverseEntry, error) {
	rows, err := firstSheetRows(path)
	if err != nil {
		return nil, err
	}
	return entriesFromRows(rows, tickerColumn), nil
}

// LoadDisruptionXLSX reads the disruption index layout: banner rows, then
// upper-cased symbols in the second column.
func LoadDisruptionXLSX(path string) ([]models.UniverseEntry, error) {
	rows, err := firstSheetRows(path)
	if err != nil {
		return nil, err
	}

	var entries []models.UniverseEntry
	for i, row := range rows {
		if i < disruptionSkipRows {
			continue
		}
		ticker := strings.ToUpper(field(row, 1))
		if ticker == "" {
			continue
		}
		entries = append(entries, models.UniverseEntry{Ticker: ticker, Name: field(row, 0)})
	}
	return entries, nil
}

func firstSheetRows(path string) ([][]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook %s: %w", path, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("workbook %s has no sheets", path)
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %s: %w", sheets[0], err)
	}
	return rows, nil
}

// WriteXLSX renders entries as a single-sheet workbook readable by LoadXLSX.
func WriteXLSX(entries []models.UniverseEntry) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	const sheet = "Universe"
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return nil, fmt.Errorf("failed to name sheet: %w", err)
	}

	header := []interface{}{"Ticker", "Name", "Exchange", "Sector", "Industry"}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return nil, fmt.Errorf("failed to write header: %w", err)
	}
	for i, e := range entries {
		row := []interface{}{e.Ticker, e.Name, e.Exchange, e.Sector, e.Industry}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return nil, fmt.Errorf("failed to write row %d: %w", i+2, err)
		}
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("failed to encode workbook: %w", err)
	}
	return buf.Bytes(), nil
}
