package procurement

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vajraai/vajra/internal/validation"
)

func decodeUpload(t *testing.T, body string) []NewTransaction {
	t.Helper()
	var in []NewTransaction
	require.NoError(t, json.Unmarshal([]byte(body), &in))
	return in
}

func TestParseNewTransactions(t *testing.T) {
	in := decodeUpload(t, `[
		{"vendor_id": "V-100", "vendor_name": " Acme Supplies ", "department": "Health",
		 "amount": 15000.456, "location": "Delhi", "transaction_date": "2024-02-10",
		 "estimated_cost": "10000", "num_bidders": 1},
		{"vendor_id": "V-200", "vendor_name": "Bolt", "department": "Roads",
		 "amount": 10, "transaction_date": "2024-02-11T15:04:05Z",
		 "estimated_cost": 0, "num_bidders": 0}
	]`)

	txs, err := ParseNewTransactions(in)
	require.NoError(t, err)
	require.Len(t, txs, 2)

	assert.Equal(t, "Acme Supplies", txs[0].VendorName)
	assert.Equal(t, "15000.46", txs[0].Amount.StringFixed(2))
	assert.Equal(t, "2024-02-10", txs[0].TransactionDate)
	require.True(t, txs[0].EstimatedCost.Valid)
	assert.Equal(t, "10000", txs[0].EstimatedCost.Decimal.String())
	require.NotNil(t, txs[0].NumBidders)
	assert.Equal(t, 1, *txs[0].NumBidders)

	assert.Equal(t, "2024-02-11", txs[1].TransactionDate)
	assert.False(t, txs[1].EstimatedCost.Valid, "zero estimate is stored as absent")
	assert.Nil(t, txs[1].NumBidders, "zero bidders is stored as absent")
}

func TestParseNewTransactions_Empty(t *testing.T) {
	_, err := ParseNewTransactions(nil)
	var verrs validation.ValidationErrors
	require.True(t, errors.As(err, &verrs))
	assert.Equal(t, "transactions", verrs[0].Field)
}

func TestParseNewTransactions_FieldErrors(t *testing.T) {
	in := decodeUpload(t, `[
		{"vendor_id": "V-1", "vendor_name": "ok", "department": "d", "amount": 1, "transaction_date": "2024-01-01"},
		{"vendor_id": "bad id/with slash", "department": "d", "amount": -5,
		 "transaction_date": "01/02/2024", "num_bidders": -1}
	]`)

	_, err := ParseNewTransactions(in)
	var verrs validation.ValidationErrors
	require.True(t, errors.As(err, &verrs))

	fields := make(map[string]bool)
	for _, e := range verrs {
		fields[e.Field] = true
	}
	assert.True(t, fields["transactions[1].vendor_id"])
	assert.True(t, fields["transactions[1].vendor_name"])
	assert.True(t, fields["transactions[1].amount"])
	assert.True(t, fields["transactions[1].num_bidders"])
	assert.True(t, fields["transactions[1].transaction_date"])
	for f := range fields {
		assert.NotContains(t, f, "transactions[0]")
	}
}

func TestParseNewTransactions_MoneyBounds(t *testing.T) {
	in := decodeUpload(t, `[
		{"vendor_id": "V-1", "vendor_name": "ok", "department": "d", "amount": 9999999999999.99,
		 "estimated_cost": 9999999999999.99, "transaction_date": "2024-01-01"},
		{"vendor_id": "V-2", "vendor_name": "big", "department": "d", "amount": 10000000000000,
		 "estimated_cost": 1e14, "num_bidders": 3000000000, "transaction_date": "2024-01-01"},
		{"vendor_id": "V-3", "vendor_name": "rounds up", "department": "d", "amount": 9999999999999.995,
		 "transaction_date": "2024-01-01"}
	]`)

	_, err := ParseNewTransactions(in)
	var verrs validation.ValidationErrors
	require.True(t, errors.As(err, &verrs))

	msgs := make(map[string]string)
	for _, e := range verrs {
		msgs[e.Field] = e.Message
	}
	assert.Len(t, msgs, 4)
	assert.Equal(t, "must be at most 9999999999999.99", msgs["transactions[1].amount"])
	assert.Contains(t, msgs, "transactions[1].estimated_cost")
	assert.Contains(t, msgs, "transactions[1].num_bidders")
	assert.Contains(t, msgs, "transactions[2].amount")
}

func TestParseDate(t *testing.T) {
	d, err := ParseDate("2024-12-31")
	require.NoError(t, err)
	assert.Equal(t, 31, d.Day())

	d, err = ParseDate("2024-12-31T23:59:59+00:00")
	require.NoError(t, err)
	assert.Equal(t, "2024-12-31", d.Format("2006-01-02"))

	_, err = ParseDate("yesterday")
	assert.Error(t, err)
}

func TestTransaction_JSON(t *testing.T) {
	txs, err := ParseNewTransactions(decodeUpload(t, `[
		{"vendor_id": "V-1", "vendor_name": "n", "department": "d", "amount": 12.5, "transaction_date": "2024-01-01"}
	]`))
	require.NoError(t, err)

	raw, err := json.Marshal(txs[0])
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, "12.5", out["amount"])
	assert.Nil(t, out["estimated_cost"])
	assert.Nil(t, out["num_bidders"])
}
