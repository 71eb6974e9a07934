package procurement

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/vajraai/vajra/internal/pagination"
	"github.com/vajraai/vajra/internal/risk"
)

// Report limits.
const (
	TopVendorsLimit     = 5
	VendorDetailTxLimit = 50
	DefaultResultsLimit = 50
	MaxResultsLimit     = 200
)

// Dimension is a heatmap grouping.
type Dimension string

const (
	DimensionLocation   Dimension = "location"
	DimensionDepartment Dimension = "department"
	DimensionTime       Dimension = "time"
)

// ScoredTransaction is a transaction joined with its result, if any.
type ScoredTransaction struct {
	*Transaction
	AnomalyScore *float64    `json:"anomaly_score"`
	RiskLevel    *risk.Level `json:"risk_level"`
	Reasons      []string    `json:"reasons,omitempty"`
}

func (s ScoredTransaction) flagged() bool {
	return s.RiskLevel != nil && *s.RiskLevel != risk.LevelLow
}

// Overview is the dashboard headline.
type Overview struct {
	TotalTransactions   int             `json:"total_transactions"`
	FlaggedTransactions int             `json:"flagged_transactions"`
	HighRiskCount       int             `json:"high_risk_transactions"`
	AmountAtRisk        decimal.Decimal `json:"amount_at_risk"`
	FlaggedPercentage   int             `json:"flagged_percentage"`
}

// Distribution counts stored results per risk level.
type Distribution struct {
	Low    int `json:"LOW"`
	Medium int `json:"MEDIUM"`
	High   int `json:"HIGH"`
}

// VendorRisk is one row of the top-vendors panel.
type VendorRisk struct {
	VendorID            string          `json:"vendor_id"`
	VendorName          string          `json:"vendor_name"`
	FlaggedTransactions int             `json:"flagged_transactions"`
	TotalAmount         decimal.Decimal `json:"total_amount"`
	RiskLevel           risk.Level      `json:"risk_level"`
}

// HeatCell is one bucket of a heatmap.
type HeatCell struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

// VendorSummary aggregates one vendor's transactions.
type VendorSummary struct {
	VendorID          string          `json:"vendor_id"`
	VendorName        string          `json:"vendor_name"`
	TotalTransactions int             `json:"total_transactions"`
	TotalAmount       decimal.Decimal `json:"total_amount"`
	FlaggedCount      int             `json:"flagged_count"`
	HighRiskCount     int             `json:"high_risk_count"`
}

// VendorDetail is a vendor summary plus its most recent transactions.
type VendorDetail struct {
	Vendor       VendorSummary       `json:"vendor"`
	Transactions []ScoredTransaction `json:"transactions"`
}

// ResultQuery selects a page of scored transactions.
type ResultQuery struct {
	Level  risk.Level // empty for all levels
	Limit  int
	Cursor string
}

// ResultPage is a page of scored transactions ordered by score, highest first.
type ResultPage struct {
	Results    []ScoredTransaction `json:"results"`
	NextCursor string              `json:"next_cursor,omitempty"`
	HasMore    bool                `json:"has_more"`
}

// Reports computes dashboard views over a store.
type Reports struct {
	store Store
}

// NewReports creates a report builder.
func NewReports(store Store) *Reports {
	return &Reports{store: store}
}

// load joins every transaction with its result.
func (r *Reports) load(ctx context.Context) ([]ScoredTransaction, error) {
	txs, err := r.store.ListTransactions(ctx)
	if err != nil {
		return nil, err
	}
	results, err := r.store.ListResults(ctx)
	if err != nil {
		return nil, err
	}
	return Join(txs, results), nil
}

// Join attaches each result to its transaction. Transactions keep their order.
func Join(txs []*Transaction, results []*Result) []ScoredTransaction {
	byTx := make(map[int64]*Result, len(results))
	for _, res := range results {
		byTx[res.TransactionID] = res
	}
	out := make([]ScoredTransaction, len(txs))
	for i, tx := range txs {
		out[i] = ScoredTransaction{Transaction: tx}
		if res, ok := byTx[tx.ID]; ok {
			score, level := res.AnomalyScore, res.RiskLevel
			out[i].AnomalyScore = &score
			out[i].RiskLevel = &level
			out[i].Reasons = res.Reasons
		}
	}
	return out
}

// Overview counts every stored transaction. Flagged means MEDIUM or HIGH.
func (r *Reports) Overview(ctx context.Context) (*Overview, error) {
	rows, err := r.load(ctx)
	if err != nil {
		return nil, err
	}

	o := &Overview{TotalTransactions: len(rows), AmountAtRisk: decimal.Zero}
	for _, row := range rows {
		if !row.flagged() {
			continue
		}
		o.FlaggedTransactions++
		o.AmountAtRisk = o.AmountAtRisk.Add(row.Amount)
		if *row.RiskLevel == risk.LevelHigh {
			o.HighRiskCount++
		}
	}
	if o.TotalTransactions > 0 {
		o.FlaggedPercentage = int(math.Round(float64(o.FlaggedTransactions) / float64(o.TotalTransactions) * 100))
	}
	return o, nil
}

// RiskDistribution counts stored results per level.
func (r *Reports) RiskDistribution(ctx context.Context) (*Distribution, error) {
	results, err := r.store.ListResults(ctx)
	if err != nil {
		return nil, err
	}
	d := &Distribution{}
	for _, res := range results {
		switch res.RiskLevel {
		case risk.LevelLow:
			d.Low++
		case risk.LevelMedium:
			d.Medium++
		case risk.LevelHigh:
			d.High++
		}
	}
	return d, nil
}

// TopVendors returns vendors with flagged transactions, largest flagged
// amount first, each tagged with its most severe level.
func (r *Reports) TopVendors(ctx context.Context, limit int) ([]VendorRisk, error) {
	rows, err := r.load(ctx)
	if err != nil {
		return nil, err
	}

	byVendor := make(map[string]*VendorRisk)
	for _, row := range rows {
		if !row.flagged() {
			continue
		}
		v, ok := byVendor[row.VendorID]
		if !ok {
			v = &VendorRisk{VendorID: row.VendorID, RiskLevel: risk.LevelLow, TotalAmount: decimal.Zero}
			byVendor[row.VendorID] = v
		}
		v.VendorName = row.VendorName
		v.FlaggedTransactions++
		v.TotalAmount = v.TotalAmount.Add(row.Amount)
		if row.RiskLevel.Severity() > v.RiskLevel.Severity() {
			v.RiskLevel = *row.RiskLevel
		}
	}

	out := make([]VendorRisk, 0, len(byVendor))
	for _, v := range byVendor {
		out = append(out, *v)
	}
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].TotalAmount.Cmp(out[j].TotalAmount); c != 0 {
			return c > 0
		}
		return out[i].VendorID < out[j].VendorID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Heatmap counts scored transactions by dimension, optionally only those at
// level. Location and department buckets are ordered by count; time buckets
// by date.
func (r *Reports) Heatmap(ctx context.Context, dim Dimension, level risk.Level) ([]HeatCell, error) {
	var label func(ScoredTransaction) string
	switch dim {
	case DimensionLocation:
		label = func(s ScoredTransaction) string { return s.Location }
	case DimensionDepartment:
		label = func(s ScoredTransaction) string { return s.Department }
	case DimensionTime:
		label = func(s ScoredTransaction) string { return s.TransactionDate }
	default:
		return nil, fmt.Errorf("unknown heatmap dimension %q", dim)
	}

	rows, err := r.load(ctx)
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int)
	for _, row := range rows {
		if row.RiskLevel == nil || (level != "" && *row.RiskLevel != level) {
			continue
		}
		counts[label(row)]++
	}

	out := make([]HeatCell, 0, len(counts))
	for k, n := range counts {
		out = append(out, HeatCell{Label: k, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if dim != DimensionTime && out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Label < out[j].Label
	})
	return out, nil
}

// Vendors summarizes every vendor, most flagged first.
func (r *Reports) Vendors(ctx context.Context) ([]VendorSummary, error) {
	rows, err := r.load(ctx)
	if err != nil {
		return nil, err
	}
	out := summarize(rows)
	sort.Slice(out, func(i, j int) bool {
		if out[i].FlaggedCount != out[j].FlaggedCount {
			return out[i].FlaggedCount > out[j].FlaggedCount
		}
		if c := out[i].TotalAmount.Cmp(out[j].TotalAmount); c != 0 {
			return c > 0
		}
		return out[i].VendorID < out[j].VendorID
	})
	return out, nil
}

// VendorDetail returns one vendor's summary and latest transactions.
// Returns ErrNotFound if the vendor has no transactions.
func (r *Reports) VendorDetail(ctx context.Context, vendorID string) (*VendorDetail, error) {
	rows, err := r.load(ctx)
	if err != nil {
		return nil, err
	}

	var mine []ScoredTransaction
	for _, row := range rows {
		if row.VendorID == vendorID {
			mine = append(mine, row)
		}
	}
	if len(mine) == 0 {
		return nil, ErrNotFound
	}

	sort.SliceStable(mine, func(i, j int) bool {
		if mine[i].TransactionDate != mine[j].TransactionDate {
			return mine[i].TransactionDate > mine[j].TransactionDate
		}
		return mine[i].ID > mine[j].ID
	})

	detail := &VendorDetail{Vendor: summarize(mine)[0], Transactions: mine}
	if len(detail.Transactions) > VendorDetailTxLimit {
		detail.Transactions = detail.Transactions[:VendorDetailTxLimit]
	}
	return detail, nil
}

// Results pages through scored transactions, highest score first.
func (r *Reports) Results(ctx context.Context, q ResultQuery) (*ResultPage, error) {
	cursor, err := pagination.Decode(q.Cursor)
	if err != nil {
		return nil, err
	}
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultResultsLimit
	}
	if limit > MaxResultsLimit {
		limit = MaxResultsLimit
	}

	rows, err := r.load(ctx)
	if err != nil {
		return nil, err
	}

	var scored []ScoredTransaction
	for _, row := range rows {
		if row.RiskLevel == nil || (q.Level != "" && *row.RiskLevel != q.Level) {
			continue
		}
		scored = append(scored, row)
	}
	sort.Slice(scored, func(i, j int) bool {
		if *scored[i].AnomalyScore != *scored[j].AnomalyScore {
			return *scored[i].AnomalyScore > *scored[j].AnomalyScore
		}
		return scored[i].ID < scored[j].ID
	})

	page := make([]ScoredTransaction, 0, limit+1)
	for _, row := range scored {
		if !cursor.Precedes(*row.AnomalyScore, row.ID) {
			continue
		}
		page = append(page, row)
		if len(page) > limit {
			break
		}
	}

	items, next, more := pagination.ComputePage(page, limit, func(s ScoredTransaction) (float64, int64) {
		return *s.AnomalyScore, s.ID
	})
	return &ResultPage{Results: items, NextCursor: next, HasMore: more}, nil
}

// summarize groups rows by vendor in first-seen order.
func summarize(rows []ScoredTransaction) []VendorSummary {
	index := make(map[string]int)
	var out []VendorSummary
	for _, row := range rows {
		i, ok := index[row.VendorID]
		if !ok {
			i = len(out)
			index[row.VendorID] = i
			out = append(out, VendorSummary{VendorID: row.VendorID, VendorName: row.VendorName, TotalAmount: decimal.Zero})
		}
		v := &out[i]
		v.TotalTransactions++
		v.TotalAmount = v.TotalAmount.Add(row.Amount)
		if row.flagged() {
			v.FlaggedCount++
		}
		if row.RiskLevel != nil && *row.RiskLevel == risk.LevelHigh {
			v.HighRiskCount++
		}
	}
	return out
}
