package procurement

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vajraai/vajra/internal/risk"
	"github.com/vajraai/vajra/internal/testutil"
)

func intPtr(v int) *int { return &v }

func testTx(vendor string, amount string, date string) *Transaction {
	return &Transaction{
		VendorID:        vendor,
		VendorName:      "Vendor " + vendor,
		Department:      "Public Works",
		Amount:          decimal.RequireFromString(amount),
		Location:        "Pune",
		TransactionDate: date,
	}
}

// runStoreContract exercises behaviour every Store implementation must share.
func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("insert assigns ids and round-trips fields", func(t *testing.T) {
		s := newStore(t)

		withExtras := testTx("V-1", "15000.50", "2024-03-01")
		withExtras.EstimatedCost = decimal.NewNullDecimal(decimal.RequireFromString("10000"))
		withExtras.NumBidders = intPtr(1)
		plain := testTx("V-2", "99.99", "2024-03-02")

		require.NoError(t, s.InsertTransactions(ctx, []*Transaction{withExtras, plain}))
		assert.NotZero(t, withExtras.ID)
		assert.Greater(t, plain.ID, withExtras.ID)
		assert.False(t, withExtras.CreatedAt.IsZero())

		txs, err := s.ListTransactions(ctx)
		require.NoError(t, err)
		require.Len(t, txs, 2)

		got := txs[0]
		assert.Equal(t, withExtras.ID, got.ID)
		assert.Equal(t, "V-1", got.VendorID)
		assert.Equal(t, "Vendor V-1", got.VendorName)
		assert.True(t, got.Amount.Equal(decimal.RequireFromString("15000.50")), got.Amount.String())
		assert.Equal(t, "2024-03-01", got.TransactionDate)
		require.True(t, got.EstimatedCost.Valid)
		assert.True(t, got.EstimatedCost.Decimal.Equal(decimal.NewFromInt(10000)))
		require.NotNil(t, got.NumBidders)
		assert.Equal(t, 1, *got.NumBidders)

		assert.False(t, txs[1].EstimatedCost.Valid)
		assert.Nil(t, txs[1].NumBidders)
	})

	t.Run("replace results swaps the whole set", func(t *testing.T) {
		s := newStore(t)
		a, b := testTx("V-1", "10", "2024-01-01"), testTx("V-1", "20", "2024-01-02")
		require.NoError(t, s.InsertTransactions(ctx, []*Transaction{a, b}))

		now := time.Now().UTC().Truncate(time.Millisecond)
		require.NoError(t, s.ReplaceResults(ctx, []*Result{
			{TransactionID: a.ID, AnomalyScore: 0.1, RiskLevel: risk.LevelLow, Reasons: []string{"one"}, RunID: "run_1", DetectedAt: now},
			{TransactionID: b.ID, AnomalyScore: 2.5, RiskLevel: risk.LevelHigh, Reasons: []string{"two", "three"}, RunID: "run_1", DetectedAt: now},
		}))

		require.NoError(t, s.ReplaceResults(ctx, []*Result{
			{TransactionID: b.ID, AnomalyScore: 0.7, RiskLevel: risk.LevelMedium, Reasons: []string{"again"}, RunID: "run_2", DetectedAt: now},
		}))

		results, err := s.ListResults(ctx)
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, b.ID, results[0].TransactionID)
		assert.Equal(t, 0.7, results[0].AnomalyScore)
		assert.Equal(t, risk.LevelMedium, results[0].RiskLevel)
		assert.Equal(t, []string{"again"}, results[0].Reasons)
		assert.Equal(t, "run_2", results[0].RunID)
		assert.True(t, now.Equal(results[0].DetectedAt), "detected_at %v != %v", results[0].DetectedAt, now)
	})

	t.Run("results for unknown transactions are rejected", func(t *testing.T) {
		s := newStore(t)
		err := s.ReplaceResults(ctx, []*Result{{TransactionID: 999, RiskLevel: risk.LevelLow, RunID: "r", DetectedAt: time.Now()}})
		assert.Error(t, err)
	})

	t.Run("ping", func(t *testing.T) {
		assert.NoError(t, newStore(t).Ping(ctx))
	})
}

func TestMemoryStore(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store { return NewMemoryStore() })
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	tx := testTx("V-1", "10", "2024-01-01")
	require.NoError(t, s.InsertTransactions(ctx, []*Transaction{tx}))

	txs, _ := s.ListTransactions(ctx)
	txs[0].VendorName = "mutated"

	again, _ := s.ListTransactions(ctx)
	assert.Equal(t, "Vendor V-1", again[0].VendorName)
}

func TestSQLiteStore(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store {
		s, err := OpenSQLite(context.Background(), ":memory:")
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestSQLiteStore_File(t *testing.T) {
	ctx := context.Background()
	path := t.TempDir() + "/vajra.db"

	s, err := OpenSQLite(ctx, path)
	require.NoError(t, err)
	require.NoError(t, s.InsertTransactions(ctx, []*Transaction{testTx("V-9", "1.00", "2024-05-05")}))
	require.NoError(t, s.Close())

	reopened, err := OpenSQLite(ctx, path)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	txs, err := reopened.ListTransactions(ctx)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, "V-9", txs[0].VendorID)
}

func TestPostgresStore(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store {
		db, cleanup := testutil.PGTest(t)
		t.Cleanup(cleanup)
		return NewPostgresStore(db)
	})
}
