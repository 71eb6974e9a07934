package mcpserver

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSetup(t *testing.T, handler http.Handler) *Handlers {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	return NewHandlers(NewClient(Config{APIURL: ts.URL + "/"}))
}

func makeRequest(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	if args == nil {
		args = map[string]any{}
	}
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content, "expected at least one content block")
	tc, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected TextContent, got %T", result.Content[0])
	return tc.Text
}

func jsonHandler(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}
}

// --- Client ---

func TestClient_AuthHeaderOnlyWhenConfigured(t *testing.T) {
	var gotAuth []string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = append(gotAuth, r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"LOW": 1, "MEDIUM": 0, "HIGH": 0}`))
	}))
	defer ts.Close()

	_, err := NewClient(Config{APIURL: ts.URL}).RiskDistribution(context.Background())
	require.NoError(t, err)
	_, err = NewClient(Config{APIURL: ts.URL, APIKey: "secret"}).RiskDistribution(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"", "Bearer secret"}, gotAuth)
}

func TestClient_HTTPError_WithAPIMessage(t *testing.T) {
	ts := httptest.NewServer(jsonHandler(http.StatusNotFound, `{"error": "not_found", "message": "Vendor not found"}`))
	defer ts.Close()

	_, err := NewClient(Config{APIURL: ts.URL}).Vendor(context.Background(), "V-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
	assert.Contains(t, err.Error(), "Vendor not found")
}

func TestClient_HTTPError_NonJSON(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream timeout\n"))
	}))
	defer ts.Close()

	_, err := NewClient(Config{APIURL: ts.URL}).Overview(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
	assert.Contains(t, err.Error(), "upstream timeout")
}

func TestClient_EscapesVendorID(t *testing.T) {
	var gotPath string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		_, _ = w.Write([]byte(`{"vendor": {"vendor_id": "a:b"}, "transactions": []}`))
	}))
	defer ts.Close()

	_, err := NewClient(Config{APIURL: ts.URL}).Vendor(context.Background(), "a:b")
	require.NoError(t, err)
	assert.Equal(t, "/api/vendors/a:b", gotPath)
}

func TestClient_ResultsQuery(t *testing.T) {
	var gotQuery string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		_, _ = w.Write([]byte(`{"results": [], "has_more": false}`))
	}))
	defer ts.Close()

	_, err := NewClient(Config{APIURL: ts.URL}).Results(context.Background(), "MEDIUM", 25)
	require.NoError(t, err)
	assert.Equal(t, "limit=25&risk=MEDIUM", gotQuery)
}

// --- detect_anomalies ---

func TestHandleDetectAnomalies(t *testing.T) {
	var sent []map[string]any
	mux := http.NewServeMux()
	mux.HandleFunc("POST /detect", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&sent))
		_, _ = io.WriteString(w, `[
			{"transaction_id": 1, "anomaly_score": 0.1, "risk_level": "LOW", "derived_metrics": {"overspend_ratio": 0, "bidders": null}},
			{"transaction_id": 2, "anomaly_score": 0.9, "risk_level": "MEDIUM", "derived_metrics": {"overspend_ratio": 5000, "bidders": 1}},
			{"transaction_id": 3, "anomaly_score": 4.2, "risk_level": "HIGH", "derived_metrics": {"overspend_ratio": 0, "bidders": null}}
		]`)
	})
	h := newTestSetup(t, mux)

	result, err := h.HandleDetectAnomalies(context.Background(), makeRequest(map[string]any{
		"transactions": []any{
			map[string]any{"transaction_id": 1, "amount": 10, "frequency": 1, "avg_amount": 10},
			map[string]any{"transaction_id": 2, "amount": 15000, "frequency": 1, "avg_amount": 15000, "estimated_cost": 10000, "num_bidders": 1},
			map[string]any{"transaction_id": 3, "amount": 99999, "frequency": 1, "avg_amount": 10},
		},
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	text := resultText(t, result)
	assert.Contains(t, text, "Scored 3 transaction(s): 1 HIGH, 1 MEDIUM, 1 LOW.")
	assert.Contains(t, text, "#3  HIGH")
	assert.Contains(t, text, "bidders 1")
	assert.Less(t, strings.Index(text, "#3"), strings.Index(text, "#2"), "highest score first")
	assert.NotContains(t, text, "#1 ")

	require.Len(t, sent, 3)
	assert.Equal(t, float64(10000), sent[1]["estimated_cost"])
}

func TestHandleDetectAnomalies_BadArguments(t *testing.T) {
	h := newTestSetup(t, http.NotFoundHandler())

	for _, args := range []map[string]any{nil, {"transactions": []any{}}, {"transactions": "nope"}} {
		result, err := h.HandleDetectAnomalies(context.Background(), makeRequest(args))
		require.NoError(t, err)
		assert.True(t, result.IsError)
	}
}

func TestHandleDetectAnomalies_APIError(t *testing.T) {
	h := newTestSetup(t, jsonHandler(http.StatusBadRequest,
		`{"error": "invalid_input", "message": "transactions[0].amount: is required"}`))

	result, err := h.HandleDetectAnomalies(context.Background(), makeRequest(map[string]any{
		"transactions": []any{map[string]any{"transaction_id": 1}},
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "transactions[0].amount: is required")
}

// --- get_risk_overview ---

func TestHandleGetRiskOverview(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/dashboard/overview", jsonHandler(http.StatusOK, `{
		"total_transactions": 40, "flagged_transactions": 6, "high_risk_transactions": 2,
		"amount_at_risk": "125000.5", "flagged_percentage": 15}`))
	mux.HandleFunc("GET /api/dashboard/risk-distribution", jsonHandler(http.StatusOK, `{"LOW": 34, "MEDIUM": 4, "HIGH": 2}`))
	h := newTestSetup(t, mux)

	result, err := h.HandleGetRiskOverview(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	require.False(t, result.IsError)

	text := resultText(t, result)
	assert.Contains(t, text, "Flagged:        6 (15%)")
	assert.Contains(t, text, "Amount at risk: 125000.50")
	assert.Contains(t, text, "LOW 34 / MEDIUM 4 / HIGH 2")
	assert.NotContains(t, text, "No analysis")
}

func TestHandleGetRiskOverview_NotAnalyzed(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/dashboard/overview", jsonHandler(http.StatusOK, `{"total_transactions": 3, "amount_at_risk": "0"}`))
	mux.HandleFunc("GET /api/dashboard/risk-distribution", jsonHandler(http.StatusOK, `{"LOW": 0, "MEDIUM": 0, "HIGH": 0}`))
	h := newTestSetup(t, mux)

	result, err := h.HandleGetRiskOverview(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	assert.Contains(t, resultText(t, result), "No analysis has been run yet.")
}

// --- list_flagged_vendors ---

func TestHandleListFlaggedVendors(t *testing.T) {
	h := newTestSetup(t, jsonHandler(http.StatusOK, `[
		{"vendor_id": "V-2", "vendor_name": "Bolt Roads", "flagged_transactions": 3, "total_amount": "90000", "risk_level": "HIGH"},
		{"vendor_id": "V-7", "vendor_name": "Medline", "flagged_transactions": 1, "total_amount": "12000.5", "risk_level": "MEDIUM"}
	]`))

	result, err := h.HandleListFlaggedVendors(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	text := resultText(t, result)
	assert.Contains(t, text, "Top 2 vendor(s)")
	assert.Contains(t, text, "1. Bolt Roads (V-2)")
	assert.Contains(t, text, "total 12000.50, worst level MEDIUM")
}

func TestHandleListFlaggedVendors_Empty(t *testing.T) {
	h := newTestSetup(t, jsonHandler(http.StatusOK, `[]`))
	result, err := h.HandleListFlaggedVendors(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	assert.Equal(t, "No vendors have flagged transactions.", resultText(t, result))
}

// --- get_vendor ---

func TestHandleGetVendor(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/vendors/{id}", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "V-2", r.PathValue("id"))
		_, _ = io.WriteString(w, `{
			"vendor": {"vendor_id": "V-2", "vendor_name": "Bolt Roads", "total_transactions": 2,
			           "total_amount": "60000", "flagged_count": 1, "high_risk_count": 1},
			"transactions": [
				{"id": 9, "vendor_id": "V-2", "amount": "50000", "transaction_date": "2024-03-02",
				 "anomaly_score": 3.5, "risk_level": "HIGH", "reasons": ["Single bidder on a high-value transaction"]},
				{"id": 4, "vendor_id": "V-2", "amount": "10000", "transaction_date": "2024-02-01",
				 "anomaly_score": null, "risk_level": null}
			]}`)
	})
	h := newTestSetup(t, mux)

	result, err := h.HandleGetVendor(context.Background(), makeRequest(map[string]any{"vendor_id": "V-2"}))
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))

	text := resultText(t, result)
	assert.Contains(t, text, "Vendor Bolt Roads (V-2)")
	assert.Contains(t, text, "#9  2024-03-02  V-2  50000.00  HIGH score 3.5000")
	assert.Contains(t, text, "Single bidder on a high-value transaction")
	assert.Contains(t, text, "#4  2024-02-01  V-2  10000.00  unscored")
}

func TestHandleGetVendor_Validation(t *testing.T) {
	h := newTestSetup(t, http.NotFoundHandler())

	for _, id := range []string{"", "   ", "has space", "slash/y"} {
		result, err := h.HandleGetVendor(context.Background(), makeRequest(map[string]any{"vendor_id": id}))
		require.NoError(t, err)
		assert.True(t, result.IsError, id)
	}
}

// --- list_risky_transactions ---

func TestHandleListRiskyTransactions(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/results", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "HIGH", r.URL.Query().Get("risk"))
		assert.Equal(t, "10", r.URL.Query().Get("limit"))
		_, _ = io.WriteString(w, `{"results": [
			{"id": 9, "vendor_id": "V-2", "amount": "50000", "transaction_date": "2024-03-02",
			 "anomaly_score": 3.5, "risk_level": "HIGH", "reasons": ["Unusual pattern detected by the model"]}
		], "next_cursor": "abc", "has_more": true}`)
	})
	h := newTestSetup(t, mux)

	result, err := h.HandleListRiskyTransactions(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	text := resultText(t, result)
	assert.Contains(t, text, "1 HIGH transaction(s)")
	assert.Contains(t, text, "(more available)")
}

func TestHandleListRiskyTransactions_Validation(t *testing.T) {
	h := newTestSetup(t, http.NotFoundHandler())

	for _, args := range []map[string]any{
		{"risk_level": "SEVERE"},
		{"limit": 0},
		{"limit": 500},
	} {
		result, err := h.HandleListRiskyTransactions(context.Background(), makeRequest(args))
		require.NoError(t, err)
		assert.True(t, result.IsError, args)
	}
}

func TestNewMCPServer(t *testing.T) {
	s := NewMCPServer(Config{APIURL: "http://localhost:8080"}, "test")
	require.NotNil(t, s)
}

func TestHandlers_NeverReturnGoError(t *testing.T) {
	h := NewHandlers(NewClient(Config{APIURL: "http://127.0.0.1:1"}))

	tests := []struct {
		name string
		fn   func() (*mcp.CallToolResult, error)
	}{
		{"DetectAnomalies", func() (*mcp.CallToolResult, error) {
			return h.HandleDetectAnomalies(context.Background(), makeRequest(map[string]any{
				"transactions": []any{map[string]any{"transaction_id": 1}},
			}))
		}},
		{"GetRiskOverview", func() (*mcp.CallToolResult, error) {
			return h.HandleGetRiskOverview(context.Background(), makeRequest(nil))
		}},
		{"ListFlaggedVendors", func() (*mcp.CallToolResult, error) {
			return h.HandleListFlaggedVendors(context.Background(), makeRequest(nil))
		}},
		{"GetVendor", func() (*mcp.CallToolResult, error) {
			return h.HandleGetVendor(context.Background(), makeRequest(map[string]any{"vendor_id": "V-1"}))
		}},
		{"ListRiskyTransactions", func() (*mcp.CallToolResult, error) {
			return h.HandleListRiskyTransactions(context.Background(), makeRequest(nil))
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := tt.fn()
			assert.NoError(t, err)
			require.NotNil(t, result)
			assert.True(t, result.IsError)
		})
	}
}

func TestClient_Timeout(t *testing.T) {
	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
		_, _ = w.Write([]byte(`{}`))
	}))
	defer ts.Close()
	defer close(release)

	client := NewClient(Config{APIURL: ts.URL, Timeout: 50 * time.Millisecond})
	start := time.Now()
	_, err := client.Overview(context.Background())
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
}
