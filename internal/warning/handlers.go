package warning

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/walletguard/internal/validation"
)

// Handler serves the warning queue over HTTP.
type Handler struct {
	queue *Queue
}

// NewHandler creates a new warning handler
func NewHandler(q *Queue) *Handler {
	return &Handler{queue: q}
}

// RegisterRoutes mounts the warning routes. All of them require operator auth.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/warnings", h.ListWarnings)
	r.GET("/warnings/:id", h.GetWarning)
	r.POST("/warnings/:id/decision", h.Decide)
}

// DecideRequest is the body of POST /warnings/:id/decision.
type DecideRequest struct {
	Outcome string `json:"outcome" binding:"required"`
	Reason  string `json:"reason"`
}

// ListWarnings handles GET /warnings
func (h *Handler) ListWarnings(c *gin.Context) {
	warnings := h.queue.List()
	c.JSON(http.StatusOK, gin.H{
		"warnings": warnings,
		"count":    len(warnings),
	})
}

// GetWarning handles GET /warnings/:id
func (h *Handler) GetWarning(c *gin.Context) {
	w, err := h.queue.Get(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Warning not found",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"warning": w})
}

// Decide handles POST /warnings/:id/decision
func (h *Handler) Decide(c *gin.Context) {
	var req DecideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "outcome is required",
		})
		return
	}

	if errs := validation.Validate(
		validation.OneOf("outcome", req.Outcome, "PROCEED", "REJECT"),
		validation.MaxLength("reason", req.Reason, validation.MaxReasonLength),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	reason := validation.SanitizeString(req.Reason, validation.MaxReasonLength)
	w, err := h.queue.Resolve(c.Param("id"), req.Outcome, reason)
	if err != nil {
		switch {
		case errors.Is(err, ErrWarningNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "Warning not found"})
		case errors.Is(err, ErrAlreadyResolved):
			c.JSON(http.StatusConflict, gin.H{"error": "already_resolved", "message": "Warning was already resolved"})
		case errors.Is(err, ErrInvalidOutcome):
			c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "Failed to resolve warning"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"warning": w})
}
