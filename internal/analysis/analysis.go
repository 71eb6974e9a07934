// Package analysis scores the stored procurement transactions and keeps the
// anomaly results, live stream and alert feed in step with each run.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vajraai/vajra/internal/alerts"
	"github.com/vajraai/vajra/internal/features"
	"github.com/vajraai/vajra/internal/idgen"
	"github.com/vajraai/vajra/internal/logging"
	"github.com/vajraai/vajra/internal/metrics"
	"github.com/vajraai/vajra/internal/procurement"
	"github.com/vajraai/vajra/internal/realtime"
	"github.com/vajraai/vajra/internal/risk"
	"github.com/vajraai/vajra/internal/syncutil"
	"github.com/vajraai/vajra/internal/traces"
)

// ErrNoTransactions is returned by Analyze when nothing has been uploaded.
var ErrNoTransactions = errors.New("analysis: no transactions found")

// Thresholds used when explaining a result.
const (
	AmountToAverageRatio = 2.0
	HighFrequency        = 5.0
	OverEstimateRatio    = 1.2
)

// Reason texts attached to results.
const (
	ReasonAboveAverage = "Amount significantly higher than vendor average"
	ReasonFrequency    = "High transaction frequency in short time"
	ReasonSingleBidder = "Single bidder on a high-value transaction"
	ReasonOverEstimate = "Amount exceeds the estimated cost by more than 20%"
	ReasonModel        = "Unusual pattern detected by the model"
)

// BuildRecords derives model records from stored transactions. Frequency is
// the vendor's transaction count within txs and avg_amount the vendor's mean
// amount. Row i describes txs[i].
func BuildRecords(txs []*procurement.Transaction) []features.Record {
	type stats struct {
		count int
		total decimal.Decimal
	}
	byVendor := make(map[string]*stats)
	for _, tx := range txs {
		s, ok := byVendor[tx.VendorID]
		if !ok {
			s = &stats{}
			byVendor[tx.VendorID] = s
		}
		s.count++
		s.total = s.total.Add(tx.Amount)
	}

	records := make([]features.Record, len(txs))
	for i, tx := range txs {
		s := byVendor[tx.VendorID]
		r := features.Record{
			TransactionID: tx.ID,
			Amount:        tx.Amount.InexactFloat64(),
			Frequency:     float64(s.count),
			AvgAmount:     s.total.Div(decimal.NewFromInt(int64(s.count))).InexactFloat64(),
			NumBidders:    tx.NumBidders,
		}
		if tx.EstimatedCost.Valid {
			cost := tx.EstimatedCost.Decimal.InexactFloat64()
			r.EstimatedCost = &cost
		}
		records[i] = r
	}
	return records
}

// Reasons explains a record in plain language. Every record gets at least
// one reason.
func Reasons(r features.Record) []string {
	var reasons []string
	if r.Amount > r.AvgAmount*AmountToAverageRatio {
		reasons = append(reasons, ReasonAboveAverage)
	}
	if r.Frequency > HighFrequency {
		reasons = append(reasons, ReasonFrequency)
	}
	if r.NumBidders != nil && *r.NumBidders == 1 && r.Amount > risk.OverrideAmount {
		reasons = append(reasons, ReasonSingleBidder)
	}
	if r.EstimatedCost != nil && *r.EstimatedCost > 0 && r.Amount > *r.EstimatedCost*OverEstimateRatio {
		reasons = append(reasons, ReasonOverEstimate)
	}
	if len(reasons) == 0 {
		reasons = append(reasons, ReasonModel)
	}
	return reasons
}

// Run summarizes one analysis pass.
type Run struct {
	ID              string                   `json:"run_id"`
	Analyzed        int                      `json:"analyzed"`
	Counts          procurement.Distribution `json:"counts"`
	AlertsPublished int                      `json:"alerts_published"`
	AlertsFailed    int                      `json:"alerts_failed"`
	StartedAt       time.Time                `json:"started_at"`
	DurationMs      int64                    `json:"duration_ms"`
}

// HighRiskTransaction is the payload streamed for each HIGH result.
type HighRiskTransaction struct {
	RunID         string          `json:"run_id"`
	TransactionID int64           `json:"transaction_id"`
	VendorID      string          `json:"vendor_id"`
	VendorName    string          `json:"vendor_name"`
	Amount        decimal.Decimal `json:"amount"`
	Reasons       []string        `json:"reasons"`
}

// EventSink receives stream events. *realtime.Hub satisfies it.
type EventSink interface {
	Broadcast(event *realtime.Event)
}

// Service uploads and analyzes procurement transactions.
type Service struct {
	store     procurement.Store
	engine    *risk.Engine
	events    EventSink
	publisher alerts.Publisher
	now       func() time.Time

	// Analyze replaces the whole result set; runs must not interleave.
	runMu *syncutil.ContextMutex
}

// Option configures a Service.
type Option func(*Service)

// WithEvents streams run events to sink.
func WithEvents(sink EventSink) Option {
	return func(s *Service) { s.events = sink }
}

// WithPublisher sends HIGH results to p.
func WithPublisher(p alerts.Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates an analysis service.
func NewService(store procurement.Store, engine *risk.Engine, opts ...Option) *Service {
	s := &Service{
		store:     store,
		engine:    engine,
		publisher: alerts.NoopPublisher{},
		now:       time.Now,
		runMu:     syncutil.NewContextMutex(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Upload validates and stores a batch of transactions.
func (s *Service) Upload(ctx context.Context, in []procurement.NewTransaction) ([]*procurement.Transaction, error) {
	txs, err := procurement.ParseNewTransactions(in)
	if err != nil {
		return nil, err
	}
	if err := s.store.InsertTransactions(ctx, txs); err != nil {
		return nil, fmt.Errorf("store transactions: %w", err)
	}
	logging.L(ctx).Info("transactions uploaded", "count", len(txs))
	return txs, nil
}

// Analyze scores every stored transaction and replaces the stored results.
func (s *Service) Analyze(ctx context.Context) (*Run, error) {
	unlock, ok := s.runMu.TryLock()
	if !ok {
		logging.L(ctx).Info("analysis already running, waiting for it to finish")
		var err error
		if unlock, err = s.runMu.Lock(ctx); err != nil {
			return nil, err
		}
	}
	defer unlock()

	run := &Run{ID: idgen.WithPrefix("run_"), StartedAt: s.now().UTC()}
	ctx = logging.WithRunID(ctx, run.ID)
	ctx, span := traces.StartSpan(ctx, "analysis.Analyze", traces.RunID(run.ID))
	defer span.End()

	err := s.analyze(ctx, run)
	switch {
	case errors.Is(err, ErrNoTransactions):
		metrics.AnalysisRunsTotal.WithLabelValues("empty").Inc()
		return nil, err
	case err != nil:
		traces.Fail(span, err)
		metrics.AnalysisRunsTotal.WithLabelValues("error").Inc()
		logging.L(ctx).Error("analysis failed", "error", err)
		return nil, err
	}
	metrics.AnalysisRunsTotal.WithLabelValues("ok").Inc()
	span.SetAttributes(traces.BatchSize(run.Analyzed))
	return run, nil
}

func (s *Service) analyze(ctx context.Context, run *Run) error {
	txs, err := s.store.ListTransactions(ctx)
	if err != nil {
		return fmt.Errorf("list transactions: %w", err)
	}
	if len(txs) == 0 {
		return ErrNoTransactions
	}

	records := BuildRecords(txs)
	reports, err := s.engine.Detect(ctx, records)
	if err != nil {
		return fmt.Errorf("detect: %w", err)
	}

	detectedAt := s.now().UTC()
	results := make([]*procurement.Result, len(reports))
	for i, rep := range reports {
		results[i] = &procurement.Result{
			TransactionID: rep.TransactionID,
			AnomalyScore:  rep.AnomalyScore,
			RiskLevel:     rep.RiskLevel,
			Reasons:       Reasons(records[i]),
			RunID:         run.ID,
			DetectedAt:    detectedAt,
		}
		switch rep.RiskLevel {
		case risk.LevelHigh:
			run.Counts.High++
		case risk.LevelMedium:
			run.Counts.Medium++
		default:
			run.Counts.Low++
		}
	}
	if err := s.store.ReplaceResults(ctx, results); err != nil {
		return fmt.Errorf("store results: %w", err)
	}
	run.Analyzed = len(results)

	for i, res := range results {
		if res.RiskLevel == risk.LevelHigh {
			s.notifyHighRisk(ctx, run, txs[i], res)
		}
	}
	run.DurationMs = s.now().Sub(run.StartedAt).Milliseconds()

	if s.events != nil {
		s.events.Broadcast(realtime.AnalysisCompleted(run))
	}
	logging.L(ctx).Info("analysis completed",
		"analyzed", run.Analyzed,
		"high", run.Counts.High,
		"medium", run.Counts.Medium,
		"alerts_failed", run.AlertsFailed,
		"duration_ms", run.DurationMs,
	)
	return nil
}

// notifyHighRisk streams and alerts one HIGH result. Alert failures are
// counted on the run, never returned.
func (s *Service) notifyHighRisk(ctx context.Context, run *Run, tx *procurement.Transaction, res *procurement.Result) {
	if s.events != nil {
		s.events.Broadcast(realtime.HighRiskTransaction(res.AnomalyScore, HighRiskTransaction{
			RunID:         run.ID,
			TransactionID: tx.ID,
			VendorID:      tx.VendorID,
			VendorName:    tx.VendorName,
			Amount:        tx.Amount,
			Reasons:       res.Reasons,
		}))
	}

	err := s.publisher.Publish(ctx, &alerts.Alert{
		ID:            idgen.WithPrefix("alert_"),
		RunID:         run.ID,
		TransactionID: tx.ID,
		VendorID:      tx.VendorID,
		VendorName:    tx.VendorName,
		Department:    tx.Department,
		Amount:        tx.Amount,
		AnomalyScore:  res.AnomalyScore,
		RiskLevel:     res.RiskLevel,
		Reasons:       res.Reasons,
		DetectedAt:    res.DetectedAt,
	})
	if err != nil {
		run.AlertsFailed++
		return
	}
	run.AlertsPublished++
}
