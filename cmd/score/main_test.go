package main

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vajraai/vajra/internal/risk"
	"github.com/vajraai/vajra/internal/validation"
)

func batch() string {
	var rows []string
	for range 20 {
		rows = append(rows, `{"transaction_id": 1, "amount": 100, "frequency": 3, "avg_amount": 100}`)
	}
	rows = append(rows, `{"transaction_id": 99, "amount": 90000, "frequency": 1, "avg_amount": 500, "estimated_cost": 1000, "num_bidders": 1}`)
	return "[" + strings.Join(rows, ",") + "]"
}

func TestRun_ScoresInOrder(t *testing.T) {
	var out bytes.Buffer
	err := run(context.Background(), options{seed: 1337}, strings.NewReader(batch()), &out)
	require.NoError(t, err)

	var reports []risk.Report
	require.NoError(t, json.Unmarshal(out.Bytes(), &reports))
	require.Len(t, reports, 21)
	assert.Equal(t, int64(99), reports[20].TransactionID)
	for _, r := range reports {
		assert.GreaterOrEqual(t, r.AnomalyScore, 0.0)
		assert.True(t, r.RiskLevel.Valid())
	}
}

func TestRun_FlaggedOnly(t *testing.T) {
	var out bytes.Buffer
	err := run(context.Background(), options{seed: 1337, flagged: true}, strings.NewReader(batch()), &out)
	require.NoError(t, err)

	var reports []risk.Report
	require.NoError(t, json.Unmarshal(out.Bytes(), &reports))
	for _, r := range reports {
		assert.NotEqual(t, risk.LevelLow, r.RiskLevel)
	}
}

func TestRun_InvalidInput(t *testing.T) {
	var out bytes.Buffer

	err := run(context.Background(), options{}, strings.NewReader(`{"not": "an array"}`), &out)
	assert.Error(t, err)

	err = run(context.Background(), options{}, strings.NewReader(`[{"transaction_id": 1}]`), &out)
	var verrs validation.ValidationErrors
	require.ErrorAs(t, err, &verrs)
	assert.Len(t, verrs, 3)

	assert.Empty(t, out.String())
}

func TestRun_MissingWeights(t *testing.T) {
	var out bytes.Buffer
	err := run(context.Background(), options{weights: t.TempDir() + "/nope.json"}, strings.NewReader(batch()), &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load model")
}
