package detection

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mbd888/bankguard/internal/ledger"
	"github.com/mbd888/bankguard/internal/logging"
	"github.com/mbd888/bankguard/internal/validation"
)

// Handler provides HTTP endpoints for triggering detection.
type Handler struct {
	coordinator *Coordinator
}

// NewHandler creates a new detection handler.
func NewHandler(coordinator *Coordinator) *Handler {
	return &Handler{coordinator: coordinator}
}

// RegisterRoutes sets up detection routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/detection/run", h.RunDetection)
	r.POST("/detection/transactions/:id/check", validation.IDParamMiddleware(), h.CheckTransaction)
}

// RunRequest optionally overrides the scan window.
type RunRequest struct {
	From *time.Time `json:"from"`
	To   *time.Time `json:"to"`
}

// RunDetection handles POST /v1/detection/run
func (h *Handler) RunDetection(c *gin.Context) {
	var req RunRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}
	if (req.From == nil) != (req.To == nil) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_window",
			"message": "from and to must be given together",
		})
		return
	}

	ctx := c.Request.Context()
	var (
		report *ScanReport
		err    error
	)
	if req.From != nil {
		report, err = h.coordinator.Scan(ctx, ledger.Window{From: *req.From, To: *req.To})
	} else {
		report, err = h.coordinator.RunDetection(ctx)
	}

	if err != nil {
		switch {
		case errors.Is(err, ledger.ErrInvalidWindow):
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_window", "message": err.Error()})
		case errors.Is(err, ErrScanInterrupted):
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"error":   "scan_interrupted",
				"message": err.Error(),
				"report":  report,
			})
		default:
			logging.L(ctx).Error("detection run failed", "error", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"error":   "ledger_unavailable",
				"message": "Failed to collect transactions",
				"report":  report,
			})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"report": report})
}

// CheckTransaction handles POST /v1/detection/transactions/:id/check
func (h *Handler) CheckTransaction(c *gin.Context) {
	id := c.Param("id")
	if err := h.coordinator.CheckTransaction(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "not_accepted",
			"message": "Detection pool is busy; retry later",
		})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"status":        "accepted",
		"transactionId": id,
	})
}
