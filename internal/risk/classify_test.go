package risk

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vajraai/vajra/internal/features"
)

func ptrF(v float64) *float64 { return &v }
func ptrI(v int) *int         { return &v }

func TestPercentile_LinearInterpolation(t *testing.T) {
	values := []float64{5, 1, 4, 2, 3}

	assert.InDelta(t, 4.8, Percentile(values, 95), 1e-12)
	assert.InDelta(t, 4.4, Percentile(values, 85), 1e-12)
	assert.InDelta(t, 3.0, Percentile(values, 50), 1e-12)
	assert.Equal(t, 1.0, Percentile(values, 0))
	assert.Equal(t, 5.0, Percentile(values, 100))
	assert.Equal(t, []float64{5, 1, 4, 2, 3}, values, "input must not be reordered")
}

func TestPercentile_Degenerate(t *testing.T) {
	assert.True(t, math.IsNaN(Percentile(nil, 95)))
	assert.Equal(t, 7.0, Percentile([]float64{7}, 95))
	assert.Equal(t, 2.0, Percentile([]float64{2, 2, 2}, 85))
}

func TestComputeThresholds(t *testing.T) {
	scores := make([]float64, 21)
	for i := range scores {
		scores[i] = float64(i)
	}
	th := ComputeThresholds(scores)
	assert.InDelta(t, 19.0, th.High, 1e-12)
	assert.InDelta(t, 17.0, th.Medium, 1e-12)
}

func TestLevelFor_StrictComparisons(t *testing.T) {
	th := Thresholds{High: 0.9, Medium: 0.5}

	tests := []struct {
		score float64
		want  Level
	}{
		{0.1, LevelLow},
		{0.5, LevelLow},
		{0.50001, LevelMedium},
		{0.9, LevelMedium},
		{0.95, LevelHigh},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, LevelFor(tt.score, th), "score %v", tt.score)
	}
}

func TestOverride(t *testing.T) {
	tests := []struct {
		name      string
		record    features.Record
		level     Level
		want      Level
		wantFired bool
	}{
		{"single bidder large award", features.Record{Amount: 15000, NumBidders: ptrI(1)}, LevelLow, LevelMedium, true},
		{"amount at limit", features.Record{Amount: 10000, NumBidders: ptrI(1)}, LevelLow, LevelLow, false},
		{"two bidders", features.Record{Amount: 15000, NumBidders: ptrI(2)}, LevelLow, LevelLow, false},
		{"bidders absent", features.Record{Amount: 15000}, LevelLow, LevelLow, false},
		{"already medium", features.Record{Amount: 15000, NumBidders: ptrI(1)}, LevelMedium, LevelMedium, false},
		{"never downgrades high", features.Record{Amount: 15000, NumBidders: ptrI(1)}, LevelHigh, LevelHigh, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, fired := Override(tt.record, tt.level)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantFired, fired)
		})
	}
}

func TestClassify_OrderAndMetrics(t *testing.T) {
	records := []features.Record{
		{TransactionID: 10, Amount: 500, EstimatedCost: ptrF(400)},
		{TransactionID: 10, Amount: 500},
		{TransactionID: 3, Amount: 15000, NumBidders: ptrI(1)},
	}
	scores := []float64{0.2, 0.1, 0.05}

	reports := Classify(scores, records)
	require.Len(t, reports, 3)

	for i, r := range reports {
		assert.Equal(t, records[i].TransactionID, r.TransactionID)
		assert.Equal(t, scores[i], r.AnomalyScore)
	}
	assert.Equal(t, 100.0, reports[0].DerivedMetrics.OverspendRatio)
	assert.Equal(t, 0.0, reports[1].DerivedMetrics.OverspendRatio)
	assert.Nil(t, reports[1].DerivedMetrics.Bidders)
	require.NotNil(t, reports[2].DerivedMetrics.Bidders)
	assert.Equal(t, 1, *reports[2].DerivedMetrics.Bidders)
	assert.Equal(t, LevelMedium, reports[2].RiskLevel, "lowest score escalated by override")
}

func TestClassify_Monotonic(t *testing.T) {
	scores := []float64{0.9, 0.1, 0.5, 0.3, 0.7, 0.2, 0.8, 0.4, 0.6, 0.05, 1.2, 0.15}
	records := make([]features.Record, len(scores))
	for i := range records {
		records[i] = features.Record{TransactionID: int64(i), Amount: 100}
	}

	reports := Classify(scores, records)
	for i := range reports {
		for j := range reports {
			if scores[i] > scores[j] {
				assert.GreaterOrEqual(t, reports[i].RiskLevel.Severity(), reports[j].RiskLevel.Severity())
			}
		}
	}
}

func TestClassify_LengthMismatchPanics(t *testing.T) {
	assert.Panics(t, func() {
		Classify([]float64{1, 2}, []features.Record{{}})
	})
}

func TestLevel_Severity(t *testing.T) {
	assert.Less(t, LevelLow.Severity(), LevelMedium.Severity())
	assert.Less(t, LevelMedium.Severity(), LevelHigh.Severity())
	assert.False(t, Level("CRITICAL").Valid())
	assert.True(t, LevelHigh.Valid())
}
