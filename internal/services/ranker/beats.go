package ranker

import (
	"sort"
	"strings"

	"github.com/bobmcallan/revisor/internal/common"
	"github.com/bobmcallan/revisor/internal/models"
)

// surpriseQuarters is how many reported quarters feed the beats/misses record.
const surpriseQuarters = 4

// AnalyzeBeatsMisses classifies the four most recent reported quarters.
// Quarters with a zero estimate are ignored entirely. The streak reads oldest
// to newest; AvgSurprisePct is rounded to 2 decimals.
func AnalyzeBeatsMisses(surprises []models.EarningsSurprise) models.BeatsMisses {
	result := models.BeatsMisses{Streak: models.StreakUnavailable}
	if len(surprises) == 0 {
		return result
	}

	recent := newestFirst(surprises)
	if len(recent) > surpriseQuarters {
		recent = recent[:surpriseQuarters]
	}

	var streak strings.Builder
	var total float64
	for i := len(recent) - 1; i >= 0; i-- {
		q := recent[i]
		if q.Estimated == 0 {
			continue
		}
		total += (q.Actual - q.Estimated) / abs(q.Estimated) * 100
		result.Quarters++

		switch {
		case q.Actual > q.Estimated:
			result.Beats++
			streak.WriteByte('B')
		case q.Actual < q.Estimated:
			result.Misses++
			streak.WriteByte('M')
		default:
			result.Meets++
			streak.WriteByte('-')
		}
	}

	if result.Quarters > 0 {
		result.Streak = streak.String()
		result.AvgSurprisePct = common.Round2(total / float64(result.Quarters))
	}
	return result
}

// newestFirst copies surprises ordered by date descending. Undated records
// keep their upstream position relative to each other.
func newestFirst(surprises []models.EarningsSurprise) []models.EarningsSurprise {
	out := append([]models.EarningsSurprise(nil), surprises...)
	for _, s := range out {
		if s.Date.IsZero() {
			return out
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.After(out[j].Date) })
	return out
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
