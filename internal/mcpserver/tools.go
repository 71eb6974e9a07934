package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions. Descriptions are what the model reads when choosing a tool.

var ToolDetectAnomalies = mcp.NewTool("detect_anomalies",
	mcp.WithDescription(
		"Score a batch of procurement transactions for anomalies. "+
			"Risk levels are relative to the batch: the top 5% of scores are HIGH and the next 10% MEDIUM, "+
			"so send at least twenty transactions for meaningful results. "+
			"Single-bidder awards above 10000 are never reported as LOW."),
	mcp.WithArray("transactions",
		mcp.Required(),
		mcp.Description("Transactions to score. Each needs transaction_id, amount, frequency (vendor transaction count) "+
			"and avg_amount (vendor average); estimated_cost and num_bidders are optional."),
		mcp.Items(map[string]any{
			"type":     "object",
			"required": []string{"transaction_id", "amount", "frequency", "avg_amount"},
			"properties": map[string]any{
				"transaction_id": map[string]any{"type": "integer"},
				"amount":         map[string]any{"type": "number"},
				"frequency":      map[string]any{"type": "number"},
				"avg_amount":     map[string]any{"type": "number"},
				"estimated_cost": map[string]any{"type": "number"},
				"num_bidders":    map[string]any{"type": "integer"},
			},
		})),
)

var ToolGetRiskOverview = mcp.NewTool("get_risk_overview",
	mcp.WithDescription(
		"Summarize the latest analysis of stored procurement data: transaction totals, "+
			"how many were flagged, the amount at risk and the LOW/MEDIUM/HIGH split."),
)

var ToolListFlaggedVendors = mcp.NewTool("list_flagged_vendors",
	mcp.WithDescription(
		"List the vendors with the largest total amount in flagged (MEDIUM or HIGH) transactions, "+
			"with their flagged transaction count and worst risk level."),
)

var ToolGetVendor = mcp.NewTool("get_vendor",
	mcp.WithDescription(
		"Get one vendor's totals and its most recent transactions with their risk level, score and reasons."),
	mcp.WithString("vendor_id",
		mcp.Required(),
		mcp.Description("The vendor identifier, e.g. 'V-1042'")),
)

var ToolListRiskyTransactions = mcp.NewTool("list_risky_transactions",
	mcp.WithDescription(
		"List stored transactions with the highest anomaly scores from the latest analysis."),
	mcp.WithString("risk_level",
		mcp.Description("Only return this level (default HIGH)"),
		mcp.Enum("LOW", "MEDIUM", "HIGH")),
	mcp.WithNumber("limit",
		mcp.Description("Maximum number of transactions to return (default 10, max 200)"),
		mcp.Min(1),
		mcp.Max(200)),
)
