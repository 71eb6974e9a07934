// Package risk turns per-transaction anomaly scores into risk tiers.
//
// Tiers are relative to the batch: a transaction is HIGH when its score
// exceeds the batch's 95th percentile and MEDIUM above the 85th. Percentiles
// over very small batches are unstable; a batch of one is always LOW before
// overrides. A single-bidder award above OverrideAmount is never left at LOW.
package risk

import (
	"github.com/vajraai/vajra/internal/features"
)

// Level is the risk tier assigned to a transaction.
type Level string

const (
	LevelLow    Level = "LOW"
	LevelMedium Level = "MEDIUM"
	LevelHigh   Level = "HIGH"
)

// Levels lists every tier from least to most severe.
var Levels = []Level{LevelLow, LevelMedium, LevelHigh}

// Severity orders levels; unknown levels sort below LOW.
func (l Level) Severity() int {
	switch l {
	case LevelLow:
		return 1
	case LevelMedium:
		return 2
	case LevelHigh:
		return 3
	default:
		return 0
	}
}

// Valid reports whether l is one of the defined tiers.
func (l Level) Valid() bool {
	return l.Severity() > 0
}

// Threshold percentiles and the single-bidder override rule.
const (
	HighPercentile   = 95.0
	MediumPercentile = 85.0

	OverrideBidders = 1
	OverrideAmount  = 10000.0
)

// DerivedMetrics carries the explanatory values reported with each result.
type DerivedMetrics struct {
	OverspendRatio float64 `json:"overspend_ratio"`
	Bidders        *int    `json:"bidders"`
}

// Report is the classification of one transaction.
type Report struct {
	TransactionID  int64          `json:"transaction_id"`
	AnomalyScore   float64        `json:"anomaly_score"`
	RiskLevel      Level          `json:"risk_level"`
	DerivedMetrics DerivedMetrics `json:"derived_metrics"`
}

// Thresholds are the batch-relative score cut-offs.
type Thresholds struct {
	High   float64 `json:"high"`
	Medium float64 `json:"medium"`
}

// Overspend is the amount paid above the effective cost. It is a difference,
// not a ratio, despite the reported field name.
func Overspend(r features.Record) float64 {
	return r.Amount - features.EffectiveCost(r)
}
