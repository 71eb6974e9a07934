package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/vajraai/vajra/internal/procurement"
	"github.com/vajraai/vajra/internal/risk"
)

// Config holds the settings for reaching the Vajra API.
type Config struct {
	APIURL  string        // base URL, e.g. "http://localhost:8080"
	APIKey  string        // optional bearer token for a gateway in front of the API
	Timeout time.Duration // per request; 30s when zero
}

// Client is a plain HTTP client for the Vajra API.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// NewClient creates an API client.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// apiError is the error body every API route returns.
type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// do sends a request and decodes a successful JSON response into out.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u, err := url.Parse(c.cfg.APIURL + path)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr apiError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Message != "" {
			return fmt.Errorf("API error (%d): %s", resp.StatusCode, apiErr.Message)
		}
		return fmt.Errorf("API error (%d): %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Detect scores a batch of transactions.
func (c *Client) Detect(ctx context.Context, transactions []any) ([]risk.Report, error) {
	var reports []risk.Report
	if err := c.do(ctx, http.MethodPost, "/detect", nil, transactions, &reports); err != nil {
		return nil, err
	}
	return reports, nil
}

// Overview returns the dashboard headline numbers.
func (c *Client) Overview(ctx context.Context) (*procurement.Overview, error) {
	var o procurement.Overview
	if err := c.do(ctx, http.MethodGet, "/api/dashboard/overview", nil, nil, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

// RiskDistribution returns result counts per level.
func (c *Client) RiskDistribution(ctx context.Context) (*procurement.Distribution, error) {
	var d procurement.Distribution
	if err := c.do(ctx, http.MethodGet, "/api/dashboard/risk-distribution", nil, nil, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// TopVendors returns the vendors with the most money in flagged transactions.
func (c *Client) TopVendors(ctx context.Context) ([]procurement.VendorRisk, error) {
	var top []procurement.VendorRisk
	if err := c.do(ctx, http.MethodGet, "/api/dashboard/top-vendors", nil, nil, &top); err != nil {
		return nil, err
	}
	return top, nil
}

// Vendor returns one vendor's summary and latest transactions.
func (c *Client) Vendor(ctx context.Context, vendorID string) (*procurement.VendorDetail, error) {
	var d procurement.VendorDetail
	if err := c.do(ctx, http.MethodGet, "/api/vendors/"+url.PathEscape(vendorID), nil, nil, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// Results returns the highest-scoring stored results, optionally at one level.
func (c *Client) Results(ctx context.Context, level string, limit int) (*procurement.ResultPage, error) {
	q := url.Values{}
	if level != "" {
		q.Set("risk", level)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var page procurement.ResultPage
	if err := c.do(ctx, http.MethodGet, "/api/results", q, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}
