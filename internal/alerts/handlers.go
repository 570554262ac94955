package alerts

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mbd888/bankguard/internal/logging"
	"github.com/mbd888/bankguard/internal/pagination"
	"github.com/mbd888/bankguard/internal/validation"
)

// Handler provides HTTP endpoints for alert review.
type Handler struct {
	service *Service
}

// NewHandler creates a new alert handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up alert routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/alerts", h.ListAlerts)
	r.GET("/alerts/:id", validation.IDParamMiddleware(), h.GetAlert)
	r.PUT("/alerts/:id/status", validation.IDParamMiddleware(), h.UpdateAlertStatus)
}

// UpdateStatusRequest is the body of PUT /v1/alerts/:id/status.
type UpdateStatusRequest struct {
	Status string `json:"status"`
	Actor  string `json:"actor"`
	Notes  string `json:"notes"`
}

// ListAlerts handles GET /v1/alerts
func (h *Handler) ListAlerts(c *gin.Context) {
	page, err := pagination.ParseQuery(c.Query("offset"), c.Query("limit"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_pagination",
			"message": err.Error(),
		})
		return
	}

	filter := Filter{
		Keyword: validation.SanitizeString(c.Query("keyword"), 200),
		Type:    Type(c.Query("type")),
		Status:  Status(c.Query("status")),
	}

	result, err := h.service.List(c.Request.Context(), filter, page)
	if err != nil {
		h.writeError(c, err, "Failed to list alerts")
		return
	}

	c.JSON(http.StatusOK, result)
}

// GetAlert handles GET /v1/alerts/:id
func (h *Handler) GetAlert(c *gin.Context) {
	alert, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err, "Failed to get alert")
		return
	}
	c.JSON(http.StatusOK, gin.H{"alert": alert})
}

// UpdateAlertStatus handles PUT /v1/alerts/:id/status
func (h *Handler) UpdateAlertStatus(c *gin.Context) {
	var req UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	if errs := validation.Validate(
		validation.Required("status", req.Status),
		validation.OneOf("status", req.Status,
			string(StatusNew), string(StatusProcessing), string(StatusResolved), string(StatusIgnored)),
		validation.Required("actor", req.Actor),
		validation.MaxLength("actor", req.Actor, 200),
		validation.MaxLength("notes", req.Notes, validation.MaxStringLength),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	alert, err := h.service.UpdateStatus(c.Request.Context(), c.Param("id"),
		Status(req.Status),
		validation.SanitizeString(req.Actor, 200),
		validation.SanitizeString(req.Notes, validation.MaxStringLength),
	)
	if err != nil {
		h.writeError(c, err, "Failed to update alert status")
		return
	}
	c.JSON(http.StatusOK, gin.H{"alert": alert})
}

func (h *Handler) writeError(c *gin.Context, err error, msg string) {
	switch {
	case errors.Is(err, ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "Alert not found"})
	case errors.Is(err, ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": err.Error()})
	default:
		logging.L(c.Request.Context()).Error(msg, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": msg})
	}
}
