package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/layer-3/agentrelay/core"
	"github.com/layer-3/agentrelay/service"
	"go.uber.org/zap"
)

// Pinger reports whether a backing dependency is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// RelayHandlers contains HTTP handlers for the relay endpoints
type RelayHandlers struct {
	relay  *service.RelayService
	health Pinger
	logger *zap.Logger
}

// NewRelayHandlers creates new relay handlers
func NewRelayHandlers(relay *service.RelayService, health Pinger, logger *zap.Logger) *RelayHandlers {
	return &RelayHandlers{
		relay:  relay,
		health: health,
		logger: logger,
	}
}

// StoreSession verifies a signed identity assertion and stores it as the
// caller's session
func (h *RelayHandlers) StoreSession(c *gin.Context) {
	raw, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	var assertion core.Assertion
	if err := json.Unmarshal(raw, &assertion); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	if err := h.relay.StoreSession(c.Request.Context(), string(raw), assertion); err != nil {
		if errors.Is(err, core.ErrAuthenticationFailed) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid session"})
			return
		}
		h.logger.Error("store session", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store session"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// AskAgent starts an agent run for the caller's question
func (h *RelayHandlers) AskAgent(c *gin.Context) {
	var req struct {
		AccountID string `json:"accountId" binding:"required"`
		Question  string `json:"question" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	handle, err := h.relay.Ask(c.Request.Context(), req.AccountID, req.Question)
	if err != nil {
		statusCode := http.StatusInternalServerError
		errorMsg := "Failed to ask agent"

		switch {
		case errors.Is(err, core.ErrSessionNotFound):
			statusCode = http.StatusUnauthorized
			errorMsg = "Session not found"
		case errors.Is(err, core.ErrAgentUnavailable):
			statusCode = http.StatusBadGateway
			errorMsg = "Agent unavailable"
		case errors.Is(err, core.ErrLedgerUnavailable), errors.Is(err, core.ErrLedgerReverted):
			statusCode = http.StatusBadGateway
			errorMsg = "Ledger notification failed"
		}

		if statusCode >= http.StatusInternalServerError {
			h.logger.Error("ask agent",
				zap.String("account_id", req.AccountID),
				zap.String("run_id", handle.RunID),
				zap.Error(err))
		}
		c.JSON(statusCode, gin.H{"error": errorMsg})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"threadId": handle.ThreadID,
		"runId":    handle.RunID,
	})
}

// Result reports the state of the caller's latest run
func (h *RelayHandlers) Result(c *gin.Context) {
	accountID := c.Query("accountId")
	if accountID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "accountId is required"})
		return
	}

	run, err := h.relay.Result(c.Request.Context(), accountID)
	if errors.Is(err, core.ErrRunNotFound) {
		c.JSON(http.StatusOK, gin.H{"status": "pending"})
		return
	}
	if err != nil {
		h.logger.Error("get result", zap.String("account_id", accountID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get result"})
		return
	}

	switch run.Status {
	case core.RunStatusCompleted:
		c.JSON(http.StatusOK, gin.H{"status": "completed", "result": run.Result})
	case core.RunStatusFailed:
		c.JSON(http.StatusOK, gin.H{"status": "failed", "error": run.Error})
	default:
		c.JSON(http.StatusOK, gin.H{"status": "pending"})
	}
}

// Health reports whether the store is reachable
func (h *RelayHandlers) Health(c *gin.Context) {
	if h.health != nil {
		if err := h.health.Ping(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
