package mcpserver

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/vajraai/vajra/internal/procurement"
	"github.com/vajraai/vajra/internal/risk"
	"github.com/vajraai/vajra/internal/validation"
)

// maxListed bounds how many rows a text result spells out.
const maxListed = 10

// Handlers holds the handler functions for each MCP tool.
type Handlers struct {
	client *Client
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(client *Client) *Handlers {
	return &Handlers{client: client}
}

// HandleDetectAnomalies scores the supplied batch.
func (h *Handlers) HandleDetectAnomalies(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	txs, ok := req.GetArguments()["transactions"].([]any)
	if !ok || len(txs) == 0 {
		return mcp.NewToolResultError("transactions must be a non-empty array"), nil
	}

	reports, err := h.client.Detect(ctx, txs)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Detection failed: %v", err)), nil
	}
	return mcp.NewToolResultText(formatReports(reports)), nil
}

// HandleGetRiskOverview summarizes the stored analysis.
func (h *Handlers) HandleGetRiskOverview(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	o, err := h.client.Overview(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to load overview: %v", err)), nil
	}
	d, err := h.client.RiskDistribution(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to load risk distribution: %v", err)), nil
	}
	return mcp.NewToolResultText(formatOverview(o, d)), nil
}

// HandleListFlaggedVendors lists vendors by flagged spend.
func (h *Handlers) HandleListFlaggedVendors(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	top, err := h.client.TopVendors(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to load vendors: %v", err)), nil
	}
	return mcp.NewToolResultText(formatVendorRisk(top)), nil
}

// HandleGetVendor describes one vendor.
func (h *Handlers) HandleGetVendor(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	vendorID := strings.TrimSpace(req.GetString("vendor_id", ""))
	if vendorID == "" {
		return mcp.NewToolResultError("vendor_id is required"), nil
	}
	if !validation.IsValidVendorID(vendorID) {
		return mcp.NewToolResultError("vendor_id must be 1-128 characters of letters, digits, or _.:-"), nil
	}

	d, err := h.client.Vendor(ctx, vendorID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to load vendor %s: %v", vendorID, err)), nil
	}
	return mcp.NewToolResultText(formatVendorDetail(d)), nil
}

// HandleListRiskyTransactions lists the top-scoring stored results.
func (h *Handlers) HandleListRiskyTransactions(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	level := req.GetString("risk_level", string(risk.LevelHigh))
	if !risk.Level(level).Valid() {
		return mcp.NewToolResultError("risk_level must be LOW, MEDIUM, or HIGH"), nil
	}
	limit := req.GetInt("limit", maxListed)
	if limit < 1 || limit > procurement.MaxResultsLimit {
		return mcp.NewToolResultError(fmt.Sprintf("limit must be between 1 and %d", procurement.MaxResultsLimit)), nil
	}

	page, err := h.client.Results(ctx, level, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to load results: %v", err)), nil
	}
	return mcp.NewToolResultText(formatResults(level, page)), nil
}

func formatReports(reports []risk.Report) string {
	counts := make(map[risk.Level]int, len(risk.Levels))
	var flagged []risk.Report
	for _, r := range reports {
		counts[r.RiskLevel]++
		if r.RiskLevel != risk.LevelLow {
			flagged = append(flagged, r)
		}
	}
	sort.SliceStable(flagged, func(i, j int) bool {
		return flagged[i].AnomalyScore > flagged[j].AnomalyScore
	})

	var sb strings.Builder
	fmt.Fprintf(&sb, "Scored %d transaction(s): %d HIGH, %d MEDIUM, %d LOW.\n",
		len(reports), counts[risk.LevelHigh], counts[risk.LevelMedium], counts[risk.LevelLow])
	if len(flagged) == 0 {
		sb.WriteString("No transactions were flagged.")
		return sb.String()
	}

	sb.WriteString("\nFlagged:\n")
	for i, r := range flagged {
		if i == maxListed {
			fmt.Fprintf(&sb, "  ... and %d more\n", len(flagged)-maxListed)
			break
		}
		fmt.Fprintf(&sb, "  #%d  %-6s  score %.4f  overspend %.2f", r.TransactionID, r.RiskLevel, r.AnomalyScore, r.DerivedMetrics.OverspendRatio)
		if r.DerivedMetrics.Bidders != nil {
			fmt.Fprintf(&sb, "  bidders %d", *r.DerivedMetrics.Bidders)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func formatOverview(o *procurement.Overview, d *procurement.Distribution) string {
	var sb strings.Builder
	sb.WriteString("Procurement risk overview:\n")
	fmt.Fprintf(&sb, "  Transactions:   %d\n", o.TotalTransactions)
	fmt.Fprintf(&sb, "  Flagged:        %d (%d%%)\n", o.FlaggedTransactions, o.FlaggedPercentage)
	fmt.Fprintf(&sb, "  High risk:      %d\n", o.HighRiskCount)
	fmt.Fprintf(&sb, "  Amount at risk: %s\n", o.AmountAtRisk.StringFixed(2))
	fmt.Fprintf(&sb, "  Distribution:   LOW %d / MEDIUM %d / HIGH %d\n", d.Low, d.Medium, d.High)
	if o.TotalTransactions > 0 && d.Low+d.Medium+d.High == 0 {
		sb.WriteString("\nNo analysis has been run yet.")
	}
	return sb.String()
}

func formatVendorRisk(top []procurement.VendorRisk) string {
	if len(top) == 0 {
		return "No vendors have flagged transactions."
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Top %d vendor(s) by flagged amount:\n\n", len(top))
	for i, v := range top {
		fmt.Fprintf(&sb, "%d. %s (%s)\n", i+1, v.VendorName, v.VendorID)
		fmt.Fprintf(&sb, "   %d flagged transaction(s), total %s, worst level %s\n",
			v.FlaggedTransactions, v.TotalAmount.StringFixed(2), v.RiskLevel)
	}
	return sb.String()
}

func formatVendorDetail(d *procurement.VendorDetail) string {
	v := d.Vendor
	var sb strings.Builder
	fmt.Fprintf(&sb, "Vendor %s (%s):\n", v.VendorName, v.VendorID)
	fmt.Fprintf(&sb, "  Transactions: %d, total %s\n", v.TotalTransactions, v.TotalAmount.StringFixed(2))
	fmt.Fprintf(&sb, "  Flagged: %d, high risk: %d\n", v.FlaggedCount, v.HighRiskCount)

	if len(d.Transactions) == 0 {
		return sb.String()
	}
	sb.WriteString("\nRecent transactions:\n")
	for i, tx := range d.Transactions {
		if i == maxListed {
			fmt.Fprintf(&sb, "  ... and %d more\n", len(d.Transactions)-maxListed)
			break
		}
		writeScored(&sb, tx)
	}
	return sb.String()
}

func formatResults(level string, page *procurement.ResultPage) string {
	if len(page.Results) == 0 {
		return fmt.Sprintf("No %s transactions in the latest analysis.", level)
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d %s transaction(s), highest score first:\n", len(page.Results), level)
	for _, tx := range page.Results {
		writeScored(&sb, tx)
	}
	if page.HasMore {
		sb.WriteString("  (more available)\n")
	}
	return sb.String()
}

func writeScored(sb *strings.Builder, tx procurement.ScoredTransaction) {
	level, score := "unscored", ""
	if tx.RiskLevel != nil {
		level = string(*tx.RiskLevel)
	}
	if tx.AnomalyScore != nil {
		score = fmt.Sprintf(" score %.4f", *tx.AnomalyScore)
	}
	fmt.Fprintf(sb, "  #%d  %s  %s  %s  %s%s\n",
		tx.ID, tx.TransactionDate, tx.VendorID, tx.Amount.StringFixed(2), level, score)
	if len(tx.Reasons) > 0 {
		fmt.Fprintf(sb, "      %s\n", strings.Join(tx.Reasons, "; "))
	}
}
