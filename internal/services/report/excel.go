package report

import (
	"bytes"
	"fmt"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"

	"github.com/bobmcallan/revisor/internal/models"
)

const (
	rankingsSheet = "Rankings"
	maxColWidth   = 50
)

// rankingColumns is the Rankings sheet layout, one column per metrics field.
var rankingColumns = []struct {
	header string
	value  func(m *models.TickerMetrics) interface{}
}{
	{"rank", func(m *models.TickerMetrics) interface{} { return m.Rank }},
	{"ticker", func(m *models.TickerMetrics) interface{} { return m.Ticker }},
	{"sector", func(m *models.TickerMetrics) interface{} { return m.Sector }},
	{"industry", func(m *models.TickerMetrics) interface{} { return m.Industry }},
	{"timestamp", func(m *models.TickerMetrics) interface{} { return m.ScoredAt.Format(time.RFC3339) }},
	{"current_eps_q1", func(m *models.TickerMetrics) interface{} { return floatCell(m.CurrentEPSQ1) }},
	{"current_eps_fy1", func(m *models.TickerMetrics) interface{} { return floatCell(m.CurrentEPSFY1) }},
	{"current_revenue_q1", func(m *models.TickerMetrics) interface{} { return floatCell(m.CurrentRevenueQ1) }},
	{"analyst_count_eps", func(m *models.TickerMetrics) interface{} { return intCell(m.AnalystCountEPS) }},
	{"analyst_count_revenue", func(m *models.TickerMetrics) interface{} { return intCell(m.AnalystCountRevenue) }},
	{"eps_revision_pct", func(m *models.TickerMetrics) interface{} { return floatCell(m.EPSRevisionPct) }},
	{"revenue_revision_pct", func(m *models.TickerMetrics) interface{} { return floatCell(m.RevenueRevisionPct) }},
	{"analyst_count_change", func(m *models.TickerMetrics) interface{} { return intCell(m.AnalystCountChange) }},
	{"revision_source", func(m *models.TickerMetrics) interface{} { return m.RevisionSource }},
	{"price_target_avg", func(m *models.TickerMetrics) interface{} { return floatCell(m.PriceTargetAvg) }},
	{"price_target_high", func(m *models.TickerMetrics) interface{} { return floatCell(m.PriceTargetHigh) }},
	{"price_target_low", func(m *models.TickerMetrics) interface{} { return floatCell(m.PriceTargetLow) }},
	{"upgrades_count", func(m *models.TickerMetrics) interface{} { return m.UpgradesCount }},
	{"downgrades_count", func(m *models.TickerMetrics) interface{} { return m.DowngradesCount }},
	{"net_rating_change", func(m *models.TickerMetrics) interface{} { return m.NetRatingChange }},
	{"strong_buy", func(m *models.TickerMetrics) interface{} { return m.StrongBuy }},
	{"buy", func(m *models.TickerMetrics) interface{} { return m.Buy }},
	{"hold", func(m *models.TickerMetrics) interface{} { return m.Hold }},
	{"sell", func(m *models.TickerMetrics) interface{} { return m.Sell }},
	{"strong_sell", func(m *models.TickerMetrics) interface{} { return m.StrongSell }},
	{"beats_4q", func(m *models.TickerMetrics) interface{} { return m.Beats4Q }},
	{"misses_4q", func(m *models.TickerMetrics) interface{} { return m.Misses4Q }},
	{"streak", func(m *models.TickerMetrics) interface{} { return m.Streak }},
	{"avg_surprise_pct", func(m *models.TickerMetrics) interface{} { return m.AvgSurprisePct }},
	{"revision_strength_score", func(m *models.TickerMetrics) interface{} { return m.RevisionStrengthScore }},
}

// topColumns are the headers of the Top N sheet, a subset of rankingColumns.
var topColumns = []string{
	"ticker", "revision_strength_score", "eps_revision_pct",
	"revenue_revision_pct", "net_rating_change", "analyst_count_change",
}

// TopSheetName names the summary sheet for n rows.
func TopSheetName(n int) string {
	return "Top " + strconv.Itoa(n)
}

// ExportFileName is the default workbook name for a scan finished at t.
func ExportFileName(t time.Time) string {
	return "earnings_revisions_ranked_" + t.Format("20060102_150405") + ".xlsx"
}

// BuildWorkbook renders the ranked universe as an xlsx workbook with a full
// Rankings sheet and a Top N summary sheet.
func BuildWorkbook(universe *models.RankedUniverse, topN int) ([]byte, error) {
	if universe == nil {
		return nil, fmt.Errorf("no ranking to export")
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", rankingsSheet); err != nil {
		return nil, fmt.Errorf("failed to name sheet: %w", err)
	}

	headers := make([]string, len(rankingColumns))
	for i, c := range rankingColumns {
		headers[i] = c.header
	}
	widths := make([]int, len(headers))
	table := make([][]interface{}, 0, len(universe.Rows))
	for i := range universe.Rows {
		row := make([]interface{}, len(rankingColumns))
		for j, c := range rankingColumns {
			row[j] = c.value(&universe.Rows[i])
		}
		table = append(table, row)
	}
	if err := writeTable(f, rankingsSheet, headers, table, widths); err != nil {
		return nil, err
	}
	for j, w := range widths {
		col, err := excelize.ColumnNumberToName(j + 1)
		if err != nil {
			return nil, err
		}
		if err := f.SetColWidth(rankingsSheet, col, col, float64(min(w+2, maxColWidth))); err != nil {
			return nil, fmt.Errorf("failed to set column width: %w", err)
		}
	}

	top := universe.Top(topN)
	topSheet := TopSheetName(topN)
	if _, err := f.NewSheet(topSheet); err != nil {
		return nil, fmt.Errorf("failed to add sheet %s: %w", topSheet, err)
	}
	index := make(map[string]int, len(headers))
	for i, h := range headers {
		index[h] = i
	}
	topTable := make([][]interface{}, 0, len(top))
	for i := range top {
		row := make([]interface{}, len(topColumns))
		for j, h := range topColumns {
			row[j] = table[i][index[h]]
		}
		topTable = append(topTable, row)
	}
	if err := writeTable(f, topSheet, topColumns, topTable, make([]int, len(topColumns))); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("failed to encode workbook: %w", err)
	}
	return buf.Bytes(), nil
}

// writeTable writes a header row and data rows, tracking the widest rendered
// value per column in widths.
func writeTable(f *excelize.File, sheet string, headers []string, rows [][]interface{}, widths []int) error {
	headerRow := make([]interface{}, len(headers))
	for i, h := range headers {
		headerRow[i] = h
		widths[i] = max(widths[i], utf8.RuneCountInString(h))
	}
	if err := f.SetSheetRow(sheet, "A1", &headerRow); err != nil {
		return fmt.Errorf("failed to write %s header: %w", sheet, err)
	}

	for i, row := range rows {
		for j, v := range row {
			widths[j] = max(widths[j], utf8.RuneCountInString(cellText(v)))
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		r := row
		if err := f.SetSheetRow(sheet, cell, &r); err != nil {
			return fmt.Errorf("failed to write %s row %d: %w", sheet, i+2, err)
		}
	}
	return nil
}

func cellText(v interface{}) string {
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

// floatCell and intCell leave the cell empty for missing values.
func floatCell(v *float64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func intCell(v *int) interface{} {
	if v == nil {
		return nil
	}
	return *v
}
