package risk

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/vajraai/vajra/internal/features"
	"github.com/vajraai/vajra/internal/logging"
	"github.com/vajraai/vajra/internal/metrics"
	"github.com/vajraai/vajra/internal/model"
	"github.com/vajraai/vajra/internal/normalize"
	"github.com/vajraai/vajra/internal/scoring"
	"github.com/vajraai/vajra/internal/traces"
)

// Engine runs the full detection pipeline over one batch at a time. It holds
// only the frozen model, so one Engine may serve concurrent batches.
type Engine struct {
	model model.Reconstructor
}

// NewEngine creates a detection engine backed by the given model.
func NewEngine(m model.Reconstructor) *Engine {
	return &Engine{model: m}
}

// Scores returns the anomaly score of every record, in input order.
func (e *Engine) Scores(ctx context.Context, records []features.Record) ([]float64, error) {
	x, err := features.Matrix(records)
	if err != nil {
		return nil, err
	}

	ctx, span := traces.StartSpan(ctx, "risk.Scores", traces.BatchSize(len(records)))
	defer span.End()

	// The scaler is fitted on this batch and dropped with it.
	z, scaler := normalize.FitTransform(x)
	if len(scaler.Degenerate) > 0 {
		names := make([]string, len(scaler.Degenerate))
		for i, col := range scaler.Degenerate {
			names[i] = features.ColumnNames[col]
			metrics.DegenerateColumnsTotal.WithLabelValues(names[i]).Inc()
		}
		logging.L(ctx).Debug("feature columns without spread, using unit scale",
			"columns", names,
			"batch_size", len(records),
		)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	recon := e.model.Reconstruct(z)
	scores := scoring.ReconstructionErrors(z, recon)
	for i, s := range scores {
		if math.IsNaN(s) || math.IsInf(s, 0) {
			return nil, fmt.Errorf("transactions[%d]: anomaly score: %w", i, features.ErrNonFinite)
		}
	}
	return scores, nil
}

// Detect scores and classifies a batch. Reports are returned in input order.
// An empty batch returns features.ErrEmptyBatch and a batch with a
// non-finite feature or score returns features.ErrNonFinite.
func (e *Engine) Detect(ctx context.Context, records []features.Record) ([]Report, error) {
	start := time.Now()
	ctx, span := traces.StartSpan(ctx, "risk.Detect", traces.BatchSize(len(records)))
	defer span.End()

	scores, err := e.Scores(ctx, records)
	if err != nil {
		traces.Fail(span, err)
		result := "error"
		if errors.Is(err, features.ErrEmptyBatch) || errors.Is(err, features.ErrNonFinite) {
			result = "invalid"
		}
		metrics.DetectionBatchesTotal.WithLabelValues(result).Inc()
		return nil, err
	}

	reports, overrides := classify(scores, records)

	counts := make(map[Level]int, len(Levels))
	for _, r := range reports {
		counts[r.RiskLevel]++
	}
	for _, l := range Levels {
		metrics.TransactionsScoredTotal.WithLabelValues(string(l)).Add(float64(counts[l]))
		span.SetAttributes(traces.RiskCount(string(l), counts[l]))
	}
	metrics.OverridesTotal.Add(float64(overrides))
	metrics.DetectionBatchSize.Observe(float64(len(records)))
	metrics.DetectionDuration.Observe(time.Since(start).Seconds())
	metrics.DetectionBatchesTotal.WithLabelValues("ok").Inc()

	logging.L(ctx).Debug("batch scored",
		"batch_size", len(records),
		"high", counts[LevelHigh],
		"medium", counts[LevelMedium],
		"overrides", overrides,
		"latency_ms", time.Since(start).Milliseconds(),
	)

	return reports, nil
}
