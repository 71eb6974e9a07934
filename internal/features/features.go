// Package features turns raw procurement records into the fixed five-column
// feature vectors consumed by the anomaly model.
//
// Column order is part of the model contract:
//
//	0 amount
//	1 frequency
//	2 avg_amount
//	3 cost_variance    (amount - effective_cost) / (effective_cost + Epsilon)
//	4 competition_risk 1 / (effective_bidders + Epsilon)
package features

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/vajraai/vajra/internal/validation"
)

// NumFeatures is the width of every feature vector.
const NumFeatures = 5

const (
	// Epsilon keeps the derived ratios finite when a denominator is zero.
	Epsilon = 1e-9

	// DefaultBidders is assumed when a record carries no bidder count.
	DefaultBidders = 3.0
)

// Column indices into a Vector.
const (
	ColAmount = iota
	ColFrequency
	ColAvgAmount
	ColCostVariance
	ColCompetitionRisk
)

// ColumnNames names the columns of a Vector in order.
var ColumnNames = [NumFeatures]string{
	"amount",
	"frequency",
	"avg_amount",
	"cost_variance",
	"competition_risk",
}

// ErrEmptyBatch is returned when a batch contains no records.
var ErrEmptyBatch = errors.New("features: batch contains no transactions")

// ErrNonFinite is returned when a record derives to a NaN or infinite
// feature, or a batch scores to one.
var ErrNonFinite = errors.New("features: non-finite value")

// NonFiniteError names the record and column that derived to a non-finite
// value. It matches ErrNonFinite with errors.Is.
type NonFiniteError struct {
	Index         int
	TransactionID int64
	Column        string
}

func (e *NonFiniteError) Error() string {
	return fmt.Sprintf("transactions[%d] (transaction_id %d): %s is not a finite number",
		e.Index, e.TransactionID, e.Column)
}

func (e *NonFiniteError) Is(target error) bool { return target == ErrNonFinite }

// Record is one transaction submitted for scoring.
type Record struct {
	TransactionID int64    `json:"transaction_id"`
	Amount        float64  `json:"amount"`
	Frequency     float64  `json:"frequency"`
	AvgAmount     float64  `json:"avg_amount"`
	EstimatedCost *float64 `json:"estimated_cost,omitempty"`
	NumBidders    *int     `json:"num_bidders,omitempty"`
}

// Vector is the derived feature row for one Record.
type Vector [NumFeatures]float64

// EffectiveCost is the estimated cost when present, otherwise the amount.
func EffectiveCost(r Record) float64 {
	if r.EstimatedCost != nil {
		return *r.EstimatedCost
	}
	return r.Amount
}

// EffectiveBidders is the bidder count when present, otherwise DefaultBidders.
func EffectiveBidders(r Record) float64 {
	if r.NumBidders != nil {
		return float64(*r.NumBidders)
	}
	return DefaultBidders
}

// Derive computes the feature vector for a single record.
func Derive(r Record) Vector {
	cost := EffectiveCost(r)
	bidders := EffectiveBidders(r)
	return Vector{
		ColAmount:          r.Amount,
		ColFrequency:       r.Frequency,
		ColAvgAmount:       r.AvgAmount,
		ColCostVariance:    (r.Amount - cost) / (cost + Epsilon),
		ColCompetitionRisk: 1 / (bidders + Epsilon),
	}
}

// Matrix derives every record into an N x NumFeatures matrix. Row i
// corresponds to records[i]. A record deriving to NaN or ±Inf fails the
// whole batch with a *NonFiniteError.
func Matrix(records []Record) (*mat.Dense, error) {
	if len(records) == 0 {
		return nil, ErrEmptyBatch
	}
	data := make([]float64, 0, len(records)*NumFeatures)
	for i, r := range records {
		v := Derive(r)
		for j, f := range v {
			if math.IsNaN(f) || math.IsInf(f, 0) {
				return nil, &NonFiniteError{Index: i, TransactionID: r.TransactionID, Column: ColumnNames[j]}
			}
		}
		data = append(data, v[:]...)
	}
	return mat.NewDense(len(records), NumFeatures, data), nil
}

// Input is the wire form of a Record. Required fields are pointers so a
// missing field can be told apart from an explicit zero.
type Input struct {
	TransactionID *int64   `json:"transaction_id"`
	Amount        *float64 `json:"amount"`
	Frequency     *float64 `json:"frequency"`
	AvgAmount     *float64 `json:"avg_amount"`
	EstimatedCost *float64 `json:"estimated_cost"`
	NumBidders    *int     `json:"num_bidders"`
}

func (in Input) validators(prefix string) []func() *validation.ValidationError {
	return []func() *validation.ValidationError{
		validation.Present(prefix+"transaction_id", in.TransactionID != nil),
		validation.Present(prefix+"amount", in.Amount != nil),
		validation.Present(prefix+"frequency", in.Frequency != nil),
		validation.Present(prefix+"avg_amount", in.AvgAmount != nil),
	}
}

// Record converts a validated Input. Call ParseInputs first.
func (in Input) Record() Record {
	r := Record{
		EstimatedCost: in.EstimatedCost,
		NumBidders:    in.NumBidders,
	}
	if in.TransactionID != nil {
		r.TransactionID = *in.TransactionID
	}
	if in.Amount != nil {
		r.Amount = *in.Amount
	}
	if in.Frequency != nil {
		r.Frequency = *in.Frequency
	}
	if in.AvgAmount != nil {
		r.AvgAmount = *in.AvgAmount
	}
	return r
}

// ParseInputs validates a whole batch and converts it. Nothing is converted
// unless every input is complete; the returned error lists every missing
// field as validation.ValidationErrors.
func ParseInputs(inputs []Input) ([]Record, error) {
	if len(inputs) == 0 {
		return nil, ErrEmptyBatch
	}

	var errs validation.ValidationErrors
	for i, in := range inputs {
		errs = append(errs, validation.Validate(in.validators(fmt.Sprintf("transactions[%d].", i))...)...)
	}
	if len(errs) > 0 {
		return nil, errs
	}

	records := make([]Record, len(inputs))
	for i, in := range inputs {
		records[i] = in.Record()
	}
	return records, nil
}
