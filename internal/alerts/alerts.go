// Package alerts delivers high-risk transaction alerts to downstream systems.
package alerts

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vajraai/vajra/internal/risk"
)

// Alert describes one flagged transaction.
type Alert struct {
	ID            string          `json:"id"`
	RunID         string          `json:"run_id"`
	TransactionID int64           `json:"transaction_id"`
	VendorID      string          `json:"vendor_id"`
	VendorName    string          `json:"vendor_name"`
	Department    string          `json:"department"`
	Amount        decimal.Decimal `json:"amount"`
	AnomalyScore  float64         `json:"anomaly_score"`
	RiskLevel     risk.Level      `json:"risk_level"`
	Reasons       []string        `json:"reasons"`
	DetectedAt    time.Time       `json:"detected_at"`
}

// Publisher sends alerts.
type Publisher interface {
	Publish(ctx context.Context, alert *Alert) error
	Ping(ctx context.Context) error
	Close() error
}

// NoopPublisher discards alerts. It is used when alerting is disabled.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, *Alert) error { return nil }
func (NoopPublisher) Ping(context.Context) error            { return nil }
func (NoopPublisher) Close() error                          { return nil }
