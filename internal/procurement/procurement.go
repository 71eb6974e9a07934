// Package procurement stores procurement transactions and the anomaly results
// produced for them, and builds the dashboard reports served over the API.
package procurement

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vajraai/vajra/internal/risk"
	"github.com/vajraai/vajra/internal/validation"
)

// ErrNotFound is returned when a vendor or transaction does not exist.
var ErrNotFound = errors.New("procurement: not found")

// Transaction is one stored procurement award.
type Transaction struct {
	ID              int64               `json:"id"`
	VendorID        string              `json:"vendor_id"`
	VendorName      string              `json:"vendor_name"`
	Department      string              `json:"department"`
	Amount          decimal.Decimal     `json:"amount"`
	Location        string              `json:"location"`
	TransactionDate string              `json:"transaction_date"` // YYYY-MM-DD
	EstimatedCost   decimal.NullDecimal `json:"estimated_cost"`
	NumBidders      *int                `json:"num_bidders"`
	CreatedAt       time.Time           `json:"created_at"`
}

// Result is the stored outcome of scoring one transaction in an analysis run.
type Result struct {
	TransactionID int64      `json:"transaction_id"`
	AnomalyScore  float64    `json:"anomaly_score"`
	RiskLevel     risk.Level `json:"risk_level"`
	Reasons       []string   `json:"reasons"`
	RunID         string     `json:"run_id"`
	DetectedAt    time.Time  `json:"detected_at"`
}

// Store persists transactions and results.
type Store interface {
	// InsertTransactions stores txs and fills in ID and CreatedAt.
	InsertTransactions(ctx context.Context, txs []*Transaction) error
	// ListTransactions returns every transaction ordered by ID.
	ListTransactions(ctx context.Context) ([]*Transaction, error)
	// ReplaceResults atomically swaps the stored results for results.
	ReplaceResults(ctx context.Context, results []*Result) error
	// ListResults returns every result ordered by transaction ID.
	ListResults(ctx context.Context) ([]*Result, error)
	Ping(ctx context.Context) error
}

// NewTransaction is the upload payload for one transaction.
type NewTransaction struct {
	VendorID        string           `json:"vendor_id"`
	VendorName      string           `json:"vendor_name"`
	Department      string           `json:"department"`
	Amount          *decimal.Decimal `json:"amount"`
	Location        string           `json:"location"`
	TransactionDate string           `json:"transaction_date"`
	EstimatedCost   *decimal.Decimal `json:"estimated_cost,omitempty"`
	NumBidders      *int             `json:"num_bidders,omitempty"`
}

// MaxMoney is the largest amount a NUMERIC(15,2) column holds.
const MaxMoney = 9999999999999.99

func (n NewTransaction) validators(prefix string) []func() *validation.ValidationError {
	checks := []func() *validation.ValidationError{
		validation.Required(prefix+"vendor_id", n.VendorID),
		validation.MaxLength(prefix+"vendor_id", n.VendorID, 128),
		validation.Required(prefix+"vendor_name", n.VendorName),
		validation.MaxLength(prefix+"vendor_name", n.VendorName, 255),
		validation.Required(prefix+"department", n.Department),
		validation.MaxLength(prefix+"department", n.Department, 255),
		validation.MaxLength(prefix+"location", n.Location, 255),
		validation.Present(prefix+"amount", n.Amount != nil),
		validation.Required(prefix+"transaction_date", n.TransactionDate),
	}
	if n.Amount != nil {
		v := n.Amount.Round(2).InexactFloat64()
		checks = append(checks,
			validation.NonNegative(prefix+"amount", v),
			validation.AtMost(prefix+"amount", v, MaxMoney))
	}
	if n.EstimatedCost != nil {
		v := n.EstimatedCost.Round(2).InexactFloat64()
		checks = append(checks,
			validation.NonNegative(prefix+"estimated_cost", v),
			validation.AtMost(prefix+"estimated_cost", v, MaxMoney))
	}
	if n.NumBidders != nil {
		checks = append(checks,
			validation.NonNegative(prefix+"num_bidders", float64(*n.NumBidders)),
			validation.AtMost(prefix+"num_bidders", float64(*n.NumBidders), math.MaxInt32))
	}
	if n.VendorID != "" {
		checks = append(checks, func() *validation.ValidationError {
			if !validation.IsValidVendorID(strings.TrimSpace(n.VendorID)) {
				return &validation.ValidationError{Field: prefix + "vendor_id", Message: "must contain only letters, digits, or _.:-"}
			}
			return nil
		})
	}
	if n.TransactionDate != "" {
		checks = append(checks, func() *validation.ValidationError {
			if _, err := ParseDate(n.TransactionDate); err != nil {
				return &validation.ValidationError{Field: prefix + "transaction_date", Message: "must be a YYYY-MM-DD date"}
			}
			return nil
		})
	}
	return checks
}

// Transaction converts a validated payload. A zero estimated cost or bidder
// count is stored as absent.
func (n NewTransaction) Transaction() *Transaction {
	date, _ := ParseDate(n.TransactionDate)
	tx := &Transaction{
		VendorID:        strings.TrimSpace(n.VendorID),
		VendorName:      validation.SanitizeString(n.VendorName, 255),
		Department:      validation.SanitizeString(n.Department, 255),
		Amount:          n.Amount.Round(2),
		Location:        validation.SanitizeString(n.Location, 255),
		TransactionDate: date.Format(time.DateOnly),
	}
	if n.EstimatedCost != nil && !n.EstimatedCost.IsZero() {
		tx.EstimatedCost = decimal.NewNullDecimal(n.EstimatedCost.Round(2))
	}
	if n.NumBidders != nil && *n.NumBidders != 0 {
		b := *n.NumBidders
		tx.NumBidders = &b
	}
	return tx
}

// ParseNewTransactions validates an upload batch and converts it. All field
// errors across the batch are reported together.
func ParseNewTransactions(in []NewTransaction) ([]*Transaction, error) {
	if len(in) == 0 {
		return nil, validation.ValidationErrors{{Field: "transactions", Message: "at least one transaction is required"}}
	}

	var errs validation.ValidationErrors
	for i, n := range in {
		errs = append(errs, validation.Validate(n.validators(fmt.Sprintf("transactions[%d].", i))...)...)
	}
	if len(errs) > 0 {
		return nil, errs
	}

	out := make([]*Transaction, len(in))
	for i, n := range in {
		out[i] = n.Transaction()
	}
	return out, nil
}

// ParseDate accepts a calendar date or an RFC 3339 timestamp and returns the
// date at UTC midnight.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q", s)
	}
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
}
