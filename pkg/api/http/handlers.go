package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/aescanero/triage/pkg/domain"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	defaultMemoryLimit = 100
	defaultEventLimit  = 100
	defaultRunLimit    = 20
	healthCheckTimeout = 2 * time.Second
)

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail represents error details
type ErrorDetail struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// CancelResponse acknowledges a cancellation request.
type CancelResponse struct {
	RunID       string `json:"runId"`
	Status      string `json:"status"`
	CancelledAt string `json:"cancelledAt"`
}

func abortWithError(c *gin.Context, status int, code, message string, details interface{}) {
	c.AbortWithStatusJSON(status, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
			Details: details,
		},
	})
}

// queryLimit parses a positive ?limit= value, falling back to def.
func queryLimit(c *gin.Context, def int) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		abortWithError(c, http.StatusBadRequest, "INVALID_LIMIT", "limit must be a positive integer", raw)
		return 0, false
	}
	return n, true
}

// handleHealth handles health check requests
func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
	defer cancel()

	status := "healthy"
	code := http.StatusOK
	checks := gin.H{}
	if s.orchestrator != nil {
		checks["orchestrator"] = "ok"
	}
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			checks[name] = err.Error()
			status = "unhealthy"
			code = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	body := gin.H{
		"status":    status,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"checks":    checks,
	}
	if s.orchestrator != nil {
		body["activeRuns"] = s.orchestrator.ActiveRuns()
	}
	c.JSON(code, body)
}

// handleProcess runs the pipeline over the request body and returns the
// final State. Aborted runs still answer 200: the State carries the errors.
func (s *Server) handleProcess(c *gin.Context) {
	var input domain.Payload
	if err := c.ShouldBindJSON(&input); err != nil {
		s.logger.Warn("invalid request", zap.Error(err))
		abortWithError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
		return
	}
	if input == nil {
		abortWithError(c, http.StatusBadRequest, "INVALID_REQUEST", "request body must be a JSON object", nil)
		return
	}

	state, err := s.orchestrator.Submit(c.Request.Context(), input)
	if err != nil {
		s.logger.Warn("run aborted",
			zap.String("run_id", state.ID()),
			zap.String("kind", domain.KindOf(err)),
			zap.Error(err))
	}

	c.JSON(http.StatusOK, state)
}

// handleListRuns returns archived runs, newest first.
func (s *Server) handleListRuns(c *gin.Context) {
	limit, ok := queryLimit(c, defaultRunLimit)
	if !ok {
		return
	}

	runs, err := s.orchestrator.ListRuns(c.Request.Context(), limit)
	if err != nil {
		s.logger.Error("failed to list runs", zap.Error(err))
		abortWithError(c, http.StatusInternalServerError, "RUN_STORE_ERROR", "Failed to list runs", err.Error())
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"runs":  runs,
		"total": len(runs),
		"limit": limit,
	})
}

// handleGetRun returns an in-flight or archived run.
func (s *Server) handleGetRun(c *gin.Context) {
	runID := c.Param("id")

	snap, err := s.orchestrator.GetRun(c.Request.Context(), runID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			abortWithError(c, http.StatusNotFound, "NOT_FOUND", "Run not found", nil)
			return
		}
		s.logger.Error("failed to get run", zap.String("run_id", runID), zap.Error(err))
		abortWithError(c, http.StatusInternalServerError, "RUN_STORE_ERROR", "Failed to get run", err.Error())
		return
	}

	c.JSON(http.StatusOK, snap)
}

// handleCancelRun handles run cancellation
func (s *Server) handleCancelRun(c *gin.Context) {
	runID := c.Param("id")

	if err := s.orchestrator.CancelRun(c.Request.Context(), runID); err != nil {
		abortWithError(c, http.StatusConflict, "CANCELLATION_FAILED", "Run is not in flight", err.Error())
		return
	}

	c.JSON(http.StatusAccepted, CancelResponse{
		RunID:       runID,
		Status:      "cancelling",
		CancelledAt: time.Now().UTC().Format(time.RFC3339),
	})
}

// handleListMemories lists one memory partition, or all three.
func (s *Server) handleListMemories(c *gin.Context) {
	if s.memory == nil {
		abortWithError(c, http.StatusServiceUnavailable, "MEMORY_NOT_AVAILABLE", "Memory store is not configured", nil)
		return
	}
	limit, ok := queryLimit(c, defaultMemoryLimit)
	if !ok {
		return
	}

	memoryType := c.DefaultQuery("type", "all")
	ctx := c.Request.Context()

	if memoryType == "all" {
		result := gin.H{}
		for _, kind := range domain.MemoryKinds {
			entries, err := s.listMemories(ctx, kind, limit)
			if err != nil {
				s.memoryError(c, kind, err)
				return
			}
			result[string(kind)] = entries
		}
		c.JSON(http.StatusOK, result)
		return
	}

	kind, err := domain.ParseMemoryKind(memoryType)
	if err != nil {
		abortWithError(c, http.StatusBadRequest, "INVALID_MEMORY_TYPE", err.Error(), nil)
		return
	}
	entries, err := s.listMemories(ctx, kind, limit)
	if err != nil {
		s.memoryError(c, kind, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}

func (s *Server) listMemories(ctx context.Context, kind domain.MemoryKind, limit int) (interface{}, error) {
	switch kind {
	case domain.MemoryWorking:
		return s.memory.ListWorking(ctx, limit)
	case domain.MemoryEpisodic:
		return s.memory.ListEpisodic(ctx, limit)
	default:
		return s.memory.ListSemantic(ctx, limit)
	}
}

func (s *Server) memoryError(c *gin.Context, kind domain.MemoryKind, err error) {
	s.logger.Error("memory retrieval failed",
		zap.String("memory_type", string(kind)),
		zap.Error(err))
	abortWithError(c, http.StatusInternalServerError, "MEMORY_ERROR", "Failed to retrieve memories", err.Error())
}

// handleDeleteMemory deletes one memory entry.
func (s *Server) handleDeleteMemory(c *gin.Context) {
	if s.memory == nil {
		abortWithError(c, http.StatusServiceUnavailable, "MEMORY_NOT_AVAILABLE", "Memory store is not configured", nil)
		return
	}

	kind, err := domain.ParseMemoryKind(c.Param("type"))
	if err != nil {
		abortWithError(c, http.StatusBadRequest, "INVALID_MEMORY_TYPE", err.Error(), nil)
		return
	}
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		abortWithError(c, http.StatusBadRequest, "INVALID_MEMORY_ID", "memory id must be an integer", c.Param("id"))
		return
	}

	deleted, err := s.memory.Delete(c.Request.Context(), kind, id)
	if err != nil {
		s.logger.Error("memory deletion failed",
			zap.String("memory_type", string(kind)),
			zap.Int64("memory_id", id),
			zap.Error(err))
		abortWithError(c, http.StatusInternalServerError, "MEMORY_ERROR", "Failed to delete memory", err.Error())
		return
	}
	if !deleted {
		abortWithError(c, http.StatusNotFound, "NOT_FOUND", "Memory not found", nil)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// handleListEvents returns the most recent events, oldest first.
func (s *Server) handleListEvents(c *gin.Context) {
	if s.events == nil {
		abortWithError(c, http.StatusServiceUnavailable, "EVENTS_NOT_AVAILABLE", "Event bus is not configured", nil)
		return
	}
	limit, ok := queryLimit(c, defaultEventLimit)
	if !ok {
		return
	}

	c.JSON(http.StatusOK, s.events.History(limit))
}

// handleClearEvents drops the retained event history. Live subscribers are
// unaffected.
func (s *Server) handleClearEvents(c *gin.Context) {
	if s.events == nil {
		abortWithError(c, http.StatusServiceUnavailable, "EVENTS_NOT_AVAILABLE", "Event bus is not configured", nil)
		return
	}
	s.events.ClearHistory()
	c.JSON(http.StatusOK, gin.H{"success": true})
}
