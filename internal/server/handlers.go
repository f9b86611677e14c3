package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/walletguard/internal/bridge"
	"github.com/mbd888/walletguard/internal/health"
	"github.com/mbd888/walletguard/internal/risk"
	"github.com/mbd888/walletguard/internal/validation"
)

// HealthResponse is returned by /health.
type HealthResponse struct {
	Status    string          `json:"status"`
	Version   string          `json:"version"`
	Checks    []health.Status `json:"checks"`
	Realtime  map[string]any  `json:"realtime,omitempty"`
	Timestamp string          `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	healthy, checks := s.health.CheckAll(c.Request.Context())

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	} else {
		for _, ch := range checks {
			if !ch.Healthy {
				status = "degraded"
				break
			}
		}
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   Version,
		Checks:    checks,
		Realtime:  s.hub.Stats(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	if healthy, checks := s.health.CheckAll(c.Request.Context()); !healthy {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "checks": checks})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// AssessRequest scores a transaction without submitting it.
type AssessRequest struct {
	Wallet   string `json:"wallet" binding:"required"`
	Contract string `json:"contract" binding:"required"`
	Data     string `json:"data"`
	TxType   string `json:"txType"`
}

// AssessResponse carries a dry-run assessment.
type AssessResponse struct {
	Assessment  risk.Assessment `json:"assessment"`
	TxType      risk.TxType     `json:"txType"`
	AutoProceed bool            `json:"autoProceed"`
}

// assessHandler runs the scorer for a transaction a wallet is about to send.
// Nothing is gated or recorded.
func (s *Server) assessHandler(c *gin.Context) {
	var req AssessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "wallet and contract are required",
		})
		return
	}

	checks := []func() *validation.ValidationError{
		validation.ValidAddress("wallet", req.Wallet),
		validation.ValidAddress("contract", req.Contract),
	}
	if req.Data != "" {
		checks = append(checks, validation.ValidCalldata("data", req.Data))
	}
	if req.TxType != "" {
		checks = append(checks, validation.OneOf("txType", req.TxType,
			string(risk.TxApprove), string(risk.TxSwap), string(risk.TxSend)))
	}
	if errs := validation.Validate(checks...); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	txType, ok := risk.ParseTxType(req.TxType)
	if !ok {
		txType = bridge.Classify(req.Data)
	}
	wallet := validation.SanitizeAddress(req.Wallet)
	contract := validation.SanitizeAddress(req.Contract)

	a := s.bridge.Assess(c.Request.Context(), wallet, contract, txType)
	c.JSON(http.StatusOK, AssessResponse{
		Assessment:  a,
		TxType:      txType,
		AutoProceed: risk.AutoProceed(a.Risk),
	})
}

// pendingHandler lists submissions still waiting on a decision.
func (s *Server) pendingHandler(c *gin.Context) {
	pending := s.interceptor.Pending()
	c.JSON(http.StatusOK, gin.H{
		"pending": pending,
		"count":   len(pending),
	})
}
