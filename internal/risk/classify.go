package risk

import (
	"fmt"
	"math"
	"sort"

	"github.com/vajraai/vajra/internal/features"
)

// Percentile returns the p-th percentile of values using linear
// interpolation between the two closest ranks. values is not modified.
func Percentile(values []float64, p float64) float64 {
	n := len(values)
	if n == 0 {
		return math.NaN()
	}
	sorted := make([]float64, n)
	copy(sorted, values)
	sort.Float64s(sorted)
	return percentileSorted(sorted, p)
}

func percentileSorted(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 1 {
		return sorted[0]
	}
	rank := p / 100 * float64(n-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}

// ComputeThresholds derives the HIGH and MEDIUM cut-offs from the batch.
func ComputeThresholds(scores []float64) Thresholds {
	sorted := make([]float64, len(scores))
	copy(sorted, scores)
	sort.Float64s(sorted)
	return Thresholds{
		High:   percentileSorted(sorted, HighPercentile),
		Medium: percentileSorted(sorted, MediumPercentile),
	}
}

// LevelFor maps a score to a tier. Both comparisons are strict, so a score
// equal to a threshold stays in the lower tier.
func LevelFor(score float64, th Thresholds) Level {
	switch {
	case score > th.High:
		return LevelHigh
	case score > th.Medium:
		return LevelMedium
	default:
		return LevelLow
	}
}

// Override escalates a LOW single-bidder award above OverrideAmount to
// MEDIUM. It never lowers a level. The bool reports whether it fired.
func Override(r features.Record, level Level) (Level, bool) {
	if level == LevelLow &&
		r.NumBidders != nil && *r.NumBidders == OverrideBidders &&
		r.Amount > OverrideAmount {
		return LevelMedium, true
	}
	return level, false
}

// Classify builds one Report per score. scores[i] must belong to records[i].
func Classify(scores []float64, records []features.Record) []Report {
	reports, _ := classify(scores, records)
	return reports
}

// classify also returns how many reports the override escalated.
func classify(scores []float64, records []features.Record) ([]Report, int) {
	if len(scores) != len(records) {
		panic(fmt.Sprintf("risk: %d scores for %d records", len(scores), len(records)))
	}
	if len(scores) == 0 {
		return []Report{}, 0
	}

	th := ComputeThresholds(scores)
	reports := make([]Report, len(records))
	overrides := 0
	for i, r := range records {
		level, fired := Override(r, LevelFor(scores[i], th))
		if fired {
			overrides++
		}
		reports[i] = Report{
			TransactionID: r.TransactionID,
			AnomalyScore:  scores[i],
			RiskLevel:     level,
			DerivedMetrics: DerivedMetrics{
				OverspendRatio: Overspend(r),
				Bidders:        r.NumBidders,
			},
		}
	}
	return reports, overrides
}
