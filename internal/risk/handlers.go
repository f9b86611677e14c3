package risk

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/walletguard/internal/logging"
	"github.com/mbd888/walletguard/internal/pagination"
)

// Handler serves the verdict audit log.
type Handler struct {
	store Store
}

// NewHandler creates a new verdict handler
func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

// RegisterRoutes mounts the audit log routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/verdicts", h.ListVerdicts)
	r.GET("/verdicts/:id", h.GetVerdict)
}

// ListVerdicts handles GET /verdicts?cursor=&limit=
func (h *Handler) ListVerdicts(c *gin.Context) {
	limit, err := pagination.ParseLimit(c.Query("limit"), DefaultPageSize, MaxPageSize)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	page, err := h.store.List(c.Request.Context(), c.Query("cursor"), limit)
	if err != nil {
		if errors.Is(err, ErrInvalidCursor) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_cursor", "message": "Cursor is malformed or expired"})
			return
		}
		logging.L(c.Request.Context()).Error("failed to list verdicts", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "Failed to list verdicts"})
		return
	}
	c.JSON(http.StatusOK, page)
}

// GetVerdict handles GET /verdicts/:id
func (h *Handler) GetVerdict(c *gin.Context) {
	v, err := h.store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrVerdictNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "Verdict not found"})
			return
		}
		logging.L(c.Request.Context()).Error("failed to get verdict", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "Failed to get verdict"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"verdict": v})
}
