package procurement

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists transactions and results in a single SQLite file.
// It suits single-node deployments that want results to survive restarts
// without running Postgres.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path and applies
// the schema. Use ":memory:" for a throwaway database.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// One writer at a time; also keeps a :memory: database on one connection.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Migrate creates the tables if they don't exist.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS transactions (
			id               INTEGER PRIMARY KEY AUTOINCREMENT,
			vendor_id        TEXT NOT NULL,
			vendor_name      TEXT NOT NULL,
			department       TEXT NOT NULL,
			amount           TEXT NOT NULL,
			location         TEXT NOT NULL DEFAULT '',
			transaction_date TEXT NOT NULL,
			estimated_cost   TEXT,
			num_bidders      INTEGER,
			created_at       TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_transactions_vendor
			ON transactions (vendor_id, transaction_date);

		CREATE TABLE IF NOT EXISTS anomaly_results (
			transaction_id INTEGER PRIMARY KEY REFERENCES transactions(id) ON DELETE CASCADE,
			anomaly_score  REAL NOT NULL,
			risk_level     TEXT NOT NULL CHECK (risk_level IN ('LOW', 'MEDIUM', 'HIGH')),
			reasons        TEXT NOT NULL DEFAULT '[]',
			run_id         TEXT NOT NULL,
			detected_at    TEXT NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("create sqlite schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) InsertTransactions(ctx context.Context, txs []*Transaction) error {
	dbTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert: %w", err)
	}
	defer func() { _ = dbTx.Rollback() }()

	now := time.Now().UTC()
	for _, tx := range txs {
		var estimated, bidders any
		if tx.EstimatedCost.Valid {
			estimated = tx.EstimatedCost.Decimal.String()
		}
		if tx.NumBidders != nil {
			bidders = *tx.NumBidders
		}
		res, err := dbTx.ExecContext(ctx, `
			INSERT INTO transactions
				(vendor_id, vendor_name, department, amount, location, transaction_date, estimated_cost, num_bidders, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, tx.VendorID, tx.VendorName, tx.Department, tx.Amount.String(), tx.Location,
			tx.TransactionDate, estimated, bidders, now.Format(time.RFC3339Nano))
		if err != nil {
			return fmt.Errorf("insert transaction for vendor %s: %w", tx.VendorID, err)
		}
		if tx.ID, err = res.LastInsertId(); err != nil {
			return fmt.Errorf("read inserted id: %w", err)
		}
		tx.CreatedAt = now
	}

	if err := dbTx.Commit(); err != nil {
		return fmt.Errorf("commit insert: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListTransactions(ctx context.Context) ([]*Transaction, error) {
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
			tx        Transaction
			bidders   sql.NullInt64
			createdAt string
		)
		if err := rows.Scan(&tx.ID, &tx.VendorID, &tx.VendorName, &tx.Department, &tx.Amount,
			&tx.Location, &tx.TransactionDate, &tx.EstimatedCost, &bidders, &createdAt); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		if bidders.Valid {
			b := int(bidders.Int64)
			tx.NumBidders = &b
		}
		if tx.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("parse created_at of transaction %d: %w", tx.ID, err)
		}
		out = append(out, &tx)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ReplaceResults(ctx context.Context, results []*Result) error {
	dbTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace: %w", err)
	}
	defer func() { _ = dbTx.Rollback() }()

	if _, err := dbTx.ExecContext(ctx, `DELETE FROM anomaly_results`); err != nil {
		return fmt.Errorf("clear results: %w", err)
	}

	for _, r := range results {
		reasons, err := json.Marshal(r.Reasons)
		if err != nil {
			return fmt.Errorf("marshal reasons: %w", err)
		}
		if _, err := dbTx.ExecContext(ctx, `
			INSERT INTO anomaly_results (transaction_id, anomaly_score, risk_level, reasons, run_id, detected_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, r.TransactionID, r.AnomalyScore, string(r.RiskLevel), string(reasons), r.RunID,
			r.DetectedAt.UTC().Format(time.RFC3339Nano)); err != nil {
			return fmt.Errorf("insert result for transaction %d: %w", r.TransactionID, err)
		}
	}

	if err := dbTx.Commit(); err != nil {
		return fmt.Errorf("commit replace: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListResults(ctx context.Context) ([]*Result, error) {
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
		var (
			r          Result
			reasons    string
			detectedAt string
		)
		if err := rows.Scan(&r.TransactionID, &r.AnomalyScore, &r.RiskLevel, &reasons, &r.RunID, &detectedAt); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		if err := json.Unmarshal([]byte(reasons), &r.Reasons); err != nil {
			return nil, fmt.Errorf("decode reasons of transaction %d: %w", r.TransactionID, err)
		}
		if r.DetectedAt, err = time.Parse(time.RFC3339Nano, detectedAt); err != nil {
			return nil, fmt.Errorf("parse detected_at of transaction %d: %w", r.TransactionID, err)
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
