package procurement

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/vajraai/vajra/migrations"
)

// PostgresStore persists transactions and results in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate applies the embedded goose migrations.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	return migrations.Up(ctx, s.db)
}

func (s *PostgresStore) InsertTransactions(ctx context.Context, txs []*Transaction) error {
	dbTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert: %w", err)
	}
	defer func() { _ = dbTx.Rollback() }()

	stmt, err := dbTx.PrepareContext(ctx, `
		INSERT INTO transactions
			(vendor_id, vendor_name, department, amount, location, transaction_date, estimated_cost, num_bidders)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at
	`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, tx := range txs {
		var bidders sql.NullInt64
		if tx.NumBidders != nil {
			bidders = sql.NullInt64{Int64: int64(*tx.NumBidders), Valid: true}
		}
		err := stmt.QueryRowContext(ctx,
			tx.VendorID,
			tx.VendorName,
			tx.Department,
			tx.Amount,
			tx.Location,
			tx.TransactionDate,
			tx.EstimatedCost,
			bidders,
		).Scan(&tx.ID, &tx.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert transaction for vendor %s: %w", tx.VendorID, err)
		}
	}

	if err := dbTx.Commit(); err != nil {
		return fmt.Errorf("commit insert: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListTransactions(ctx context.Context) ([]*Transaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, vendor_id, vendor_name, department, amount, location,
		       transaction_date, estimated_cost, num_bidders, created_at
		FROM transactions
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Transaction
	for rows.Next() {
		var (
			tx      Transaction
			date    time.Time
			bidders sql.NullInt64
		)
		if err := rows.Scan(&tx.ID, &tx.VendorID, &tx.VendorName, &tx.Department, &tx.Amount,
			&tx.Location, &date, &tx.EstimatedCost, &bidders, &tx.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		tx.TransactionDate = date.Format(time.DateOnly)
		if bidders.Valid {
			b := int(bidders.Int64)
			tx.NumBidders = &b
		}
		out = append(out, &tx)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ReplaceResults(ctx context.Context, results []*Result) error {
	dbTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace: %w", err)
	}
	defer func() { _ = dbTx.Rollback() }()

	if _, err := dbTx.ExecContext(ctx, `DELETE FROM anomaly_results`); err != nil {
		return fmt.Errorf("clear results: %w", err)
	}

	stmt, err := dbTx.PrepareContext(ctx, `
		INSERT INTO anomaly_results (transaction_id, anomaly_score, risk_level, reasons, run_id, detected_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`)
	if err != nil {
		return fmt.Errorf("prepare result insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, r := range results {
		if _, err := stmt.ExecContext(ctx,
			r.TransactionID,
			r.AnomalyScore,
			string(r.RiskLevel),
			pq.Array(r.Reasons),
			r.RunID,
			r.DetectedAt,
		); err != nil {
			return fmt.Errorf("insert result for transaction %d: %w", r.TransactionID, err)
		}
	}

	if err := dbTx.Commit(); err != nil {
		return fmt.Errorf("commit replace: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListResults(ctx context.Context) ([]*Result, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT transaction_id, anomaly_score, risk_level, reasons, run_id, detected_at
		FROM anomaly_results
		ORDER BY transaction_id
	`)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.TransactionID, &r.AnomalyScore, &r.RiskLevel,
			pq.Array(&r.Reasons), &r.RunID, &r.DetectedAt); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
