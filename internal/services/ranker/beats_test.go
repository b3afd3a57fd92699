package ranker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/bobmcallan/revisor/internal/models"
)

func quarter(date string, actual, estimated float64) models.EarningsSurprise {
	d, _ := time.Parse("2006-01-02", date)
	return models.EarningsSurprise{Date: d, Actual: actual, Estimated: estimated}
}

func TestAnalyzeBeatsMisses_AllBeats(t *testing.T) {
	got := AnalyzeBeatsMisses([]models.EarningsSurprise{
		quarter("2025-04-30", 1.10, 1.00),
		quarter("2025-01-30", 1.20, 1.00),
		quarter("2024-10-30", 1.05, 1.00),
		quarter("2024-07-30", 1.01, 1.00),
	})
	assert.Equal(t, 4, got.Beats)
	assert.Equal(t, 0, got.Misses)
	assert.Equal(t, "BBBB", got.Streak)
	assert.Equal(t, 9.0, got.AvgSurprisePct)
}

func TestAnalyzeBeatsMisses_StreakReadsOldestToNewest(t *testing.T) {
	got := AnalyzeBeatsMisses([]models.EarningsSurprise{
		quarter("2025-04-30", 2.0, 1.0), // newest: beat
		quarter("2025-01-30", 0.5, 1.0), // miss
		quarter("2024-10-30", 1.0, 1.0), // meet
		quarter("2024-07-30", 1.5, 1.0), // beat
		quarter("2024-04-30", 0.0, 1.0), // fifth quarter, ignored
	})
	assert.Equal(t, "B-MB", got.Streak)
	assert.Equal(t, 2, got.Beats)
	assert.Equal(t, 1, got.Misses)
	assert.Equal(t, 1, got.Meets)
	assert.Equal(t, 25.0, got.AvgSurprisePct, "(50 + 0 - 50 + 100) / 4")
}

func TestAnalyzeBeatsMisses_OrdersByDate(t *testing.T) {
	got := AnalyzeBeatsMisses([]models.EarningsSurprise{
		quarter("2024-07-30", 1.5, 1.0),
		quarter("2025-04-30", 0.5, 1.0),
		quarter("2024-10-30", 1.5, 1.0),
		quarter("2025-01-30", 1.5, 1.0),
	})
	assert.Equal(t, "BBBM", got.Streak)
}

func TestAnalyzeBeatsMisses_ZeroEstimateSkipped(t *testing.T) {
	got := AnalyzeBeatsMisses([]models.EarningsSurprise{
		quarter("2025-04-30", 1.0, 0),
		quarter("2025-01-30", -0.8, -1.0),
	})
	assert.Equal(t, 1, got.Quarters)
	assert.Equal(t, 1, got.Beats, "a smaller loss than expected is a beat")
	assert.Equal(t, "B", got.Streak)
	assert.Equal(t, 20.0, got.AvgSurprisePct)
}

func TestAnalyzeBeatsMisses_Empty(t *testing.T) {
	for _, in := range [][]models.EarningsSurprise{
		nil,
		{quarter("2025-04-30", 1.0, 0), quarter("2025-01-30", 2.0, 0)},
	} {
		got := AnalyzeBeatsMisses(in)
		assert.Equal(t, models.StreakUnavailable, got.Streak)
		assert.Equal(t, 0.0, got.AvgSurprisePct)
		assert.Equal(t, 0, got.Beats+got.Misses+got.Meets)
	}
}
