package analysis

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/vajraai/vajra/internal/logging"
	"github.com/vajraai/vajra/internal/pagination"
	"github.com/vajraai/vajra/internal/procurement"
	"github.com/vajraai/vajra/internal/risk"
	"github.com/vajraai/vajra/internal/validation"
)

// Handler serves the upload, analysis and dashboard API.
type Handler struct {
	service *Service
	reports *procurement.Reports
}

// NewHandler creates a handler.
func NewHandler(service *Service, reports *procurement.Reports) *Handler {
	return &Handler{service: service, reports: reports}
}

// RegisterRoutes mounts the API under r (normally /api).
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/upload", h.Upload)
	r.POST("/analyze", h.Analyze)
	r.GET("/results", h.Results)

	dash := r.Group("/dashboard")
	dash.GET("/overview", h.Overview)
	dash.GET("/risk-distribution", h.RiskDistribution)
	dash.GET("/top-vendors", h.TopVendors)

	r.GET("/heatmap/:dimension", h.Heatmap)

	vendors := r.Group("/vendors")
	vendors.Use(validation.VendorParamMiddleware())
	vendors.GET("", h.Vendors)
	vendors.GET("/:id", h.VendorDetail)
}

// Upload handles POST /api/upload.
func (h *Handler) Upload(c *gin.Context) {
	var in []procurement.NewTransaction
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Request body must be a JSON array of transactions",
		})
		return
	}

	txs, err := h.service.Upload(c.Request.Context(), in)
	if err != nil {
		var verrs validation.ValidationErrors
		if errors.As(err, &verrs) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_input",
				"message": verrs.Error(),
				"details": verrs,
			})
			return
		}
		h.internalError(c, "upload_failed", "Failed to store transactions", err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message":      "Transactions uploaded successfully",
		"inserted":     len(txs),
		"transactions": txs,
	})
}

// Analyze handles POST /api/analyze.
func (h *Handler) Analyze(c *gin.Context) {
	run, err := h.service.Analyze(c.Request.Context())
	if errors.Is(err, ErrNoTransactions) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "no_transactions",
			"message": "No transactions found",
		})
		return
	}
	if err != nil {
		h.internalError(c, "analysis_failed", "Fraud analysis failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":  "Fraud analysis completed",
		"analyzed": run.Analyzed,
		"run":      run,
	})
}

// Results handles GET /api/results?risk=&limit=&cursor=.
func (h *Handler) Results(c *gin.Context) {
	level, ok := riskParam(c)
	if !ok {
		return
	}
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_limit",
				"message": "limit must be a positive integer",
			})
			return
		}
		limit = n
	}

	page, err := h.reports.Results(c.Request.Context(), procurement.ResultQuery{
		Level:  level,
		Limit:  limit,
		Cursor: c.Query("cursor"),
	})
	if errors.Is(err, pagination.ErrInvalidCursor) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_cursor",
			"message": "cursor is malformed",
		})
		return
	}
	if err != nil {
		h.internalError(c, "query_failed", "Failed to load results", err)
		return
	}
	c.JSON(http.StatusOK, page)
}

// Overview handles GET /api/dashboard/overview.
func (h *Handler) Overview(c *gin.Context) {
	o, err := h.reports.Overview(c.Request.Context())
	if err != nil {
		h.internalError(c, "query_failed", "Failed to load overview", err)
		return
	}
	c.JSON(http.StatusOK, o)
}

// RiskDistribution handles GET /api/dashboard/risk-distribution.
func (h *Handler) RiskDistribution(c *gin.Context) {
	d, err := h.reports.RiskDistribution(c.Request.Context())
	if err != nil {
		h.internalError(c, "query_failed", "Failed to load risk distribution", err)
		return
	}
	c.JSON(http.StatusOK, d)
}

// TopVendors handles GET /api/dashboard/top-vendors.
func (h *Handler) TopVendors(c *gin.Context) {
	top, err := h.reports.TopVendors(c.Request.Context(), procurement.TopVendorsLimit)
	if err != nil {
		h.internalError(c, "query_failed", "Failed to load top vendors", err)
		return
	}
	c.JSON(http.StatusOK, nonNil(top))
}

// Heatmap handles GET /api/heatmap/:dimension?risk=.
func (h *Handler) Heatmap(c *gin.Context) {
	dim := procurement.Dimension(c.Param("dimension"))
	switch dim {
	case procurement.DimensionLocation, procurement.DimensionDepartment, procurement.DimensionTime:
	default:
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_dimension",
			"message": "dimension must be one of location, department, time",
		})
		return
	}
	level, ok := riskParam(c)
	if !ok {
		return
	}

	cells, err := h.reports.Heatmap(c.Request.Context(), dim, level)
	if err != nil {
		h.internalError(c, "query_failed", "Failed to load heatmap", err)
		return
	}
	c.JSON(http.StatusOK, nonNil(cells))
}

// Vendors handles GET /api/vendors.
func (h *Handler) Vendors(c *gin.Context) {
	vendors, err := h.reports.Vendors(c.Request.Context())
	if err != nil {
		h.internalError(c, "query_failed", "Failed to load vendors", err)
		return
	}
	c.JSON(http.StatusOK, nonNil(vendors))
}

// VendorDetail handles GET /api/vendors/:id.
func (h *Handler) VendorDetail(c *gin.Context) {
	detail, err := h.reports.VendorDetail(c.Request.Context(), c.Param("id"))
	if errors.Is(err, procurement.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Vendor not found",
		})
		return
	}
	if err != nil {
		h.internalError(c, "query_failed", "Failed to load vendor", err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

// riskParam reads the optional ?risk= filter. It writes a 400 and returns
// false for an unknown level.
func riskParam(c *gin.Context) (risk.Level, bool) {
	raw := c.Query("risk")
	if raw == "" {
		return "", true
	}
	levels := make([]string, len(risk.Levels))
	for i, l := range risk.Levels {
		levels[i] = string(l)
	}
	if verrs := validation.Validate(validation.OneOf("risk", raw, levels...)); len(verrs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_risk_level",
			"message": verrs[0].Field + " " + verrs[0].Message,
		})
		return "", false
	}
	return risk.Level(raw), true
}

func (h *Handler) internalError(c *gin.Context, code, message string, err error) {
	logging.L(c.Request.Context()).Error(message, "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{
		"error":   code,
		"message": message,
	})
}

// nonNil keeps empty lists encoding as [] rather than null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
