package risk

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vajraai/vajra/internal/features"
	"github.com/vajraai/vajra/internal/logging"
	"github.com/vajraai/vajra/internal/metrics"
	"github.com/vajraai/vajra/internal/validation"
)

// Handler exposes the detection pipeline over HTTP.
type Handler struct {
	engine *Engine
}

// NewHandler creates a new detection handler.
func NewHandler(engine *Engine) *Handler {
	return &Handler{engine: engine}
}

// RegisterRoutes sets up the detection route.
func (h *Handler) RegisterRoutes(r gin.IRoutes) {
	r.POST("/detect", h.Detect)
}

// Detect handles POST /detect. The body is a JSON array of transactions and
// the response is one report per transaction, in request order.
func (h *Handler) Detect(c *gin.Context) {
	var inputs []features.Input
	if err := c.ShouldBindJSON(&inputs); err != nil {
		metrics.DetectionBatchesTotal.WithLabelValues("invalid").Inc()
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Request body must be a JSON array of transactions",
		})
		return
	}

	records, err := features.ParseInputs(inputs)
	if err != nil {
		metrics.DetectionBatchesTotal.WithLabelValues("invalid").Inc()
		abortInvalid(c, err)
		return
	}

	reports, err := h.engine.Detect(c.Request.Context(), records)
	if err != nil {
		if errors.Is(err, features.ErrEmptyBatch) || errors.Is(err, features.ErrNonFinite) {
			abortInvalid(c, err)
			return
		}
		logging.L(c.Request.Context()).Error("detection failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "detection_failed",
			"message": "Failed to score transactions",
		})
		return
	}

	c.JSON(http.StatusOK, reports)
}

func abortInvalid(c *gin.Context, err error) {
	var verrs validation.ValidationErrors
	if errors.As(err, &verrs) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_input",
			"message": verrs.Error(),
			"details": verrs,
		})
		return
	}
	if errors.Is(err, features.ErrNonFinite) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_input",
			"message": err.Error(),
		})
		return
	}
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   "invalid_input",
		"message": "At least one transaction is required",
	})
}
