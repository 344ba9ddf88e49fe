package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gdugdh24/gowith-backend/internal/domain"
	"github.com/gdugdh24/gowith-backend/internal/usecase/matching"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// MatchingService is the part of the matching runner the API exposes.
type MatchingService interface {
	Start(ctx context.Context, requestID int64) (string, error)
	Status(ctx context.Context, requestID int64) (matching.StatusView, error)
	Cancel(requestID int64) bool
	Matches(ctx context.Context, requestID int64) ([]*domain.Match, error)
}

type MatchingHandler struct {
	matching MatchingService
	logger   *zap.Logger
}

func NewMatchingHandler(matching MatchingService, logger *zap.Logger) *MatchingHandler {
	return &MatchingHandler{
		matching: matching,
		logger:   logger.Named("http"),
	}
}

// StartMatchingResponse is returned when a run is queued.
type StartMatchingResponse struct {
	RequestID int64  `json:"request_id"`
	RunID     string `json:"run_id"`
	StatusURL string `json:"status_url"`
}

// StartMatching handles POST /requests/:id/matching
// @Summary Start matching
// @Description Queue a matching run for a buddy request
// @Tags matching
// @Security BearerAuth
// @Produce json
// @Param id path int true "Buddy request ID"
// @Success 202 {object} StartMatchingResponse
// @Failure 400 {object} ErrorResponse
// @Failure 503 {object} ErrorResponse
// @Router /requests/{id}/matching [post]
func (h *MatchingHandler) StartMatching(c *gin.Context) {
	requestID, ok := requestIDParam(c)
	if !ok {
		return
	}

	runID, err := h.matching.Start(c.Request.Context(), requestID)
	if err != nil {
		if errors.Is(err, matching.ErrRunnerClosed) {
			c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "matching is shutting down"})
			return
		}
		h.logger.Error("failed to start matching", zap.Int64("request_id", requestID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to start matching"})
		return
	}

	c.JSON(http.StatusAccepted, StartMatchingResponse{
		RequestID: requestID,
		RunID:     runID,
		StatusURL: fmt.Sprintf("/api/v1/requests/%d/matching/status", requestID),
	})
}

// GetStatus handles GET /requests/:id/matching/status
// @Summary Matching status
// @Tags matching
// @Security BearerAuth
// @Produce json
// @Param id path int true "Buddy request ID"
// @Success 200 {object} matching.StatusView
// @Failure 400 {object} ErrorResponse
// @Failure 503 {object} ErrorResponse
// @Router /requests/{id}/matching/status [get]
func (h *MatchingHandler) GetStatus(c *gin.Context) {
	requestID, ok := requestIDParam(c)
	if !ok {
		return
	}

	view, err := h.matching.Status(c.Request.Context(), requestID)
	if err != nil {
		h.logger.Error("failed to read matching status", zap.Int64("request_id", requestID), zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "status temporarily unavailable"})
		return
	}

	c.JSON(http.StatusOK, view)
}

// CancelMatching handles POST /requests/:id/matching/cancel
func (h *MatchingHandler) CancelMatching(c *gin.Context) {
	requestID, ok := requestIDParam(c)
	if !ok {
		return
	}

	if !h.matching.Cancel(requestID) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "no matching run in progress"})
		return
	}
	c.JSON(http.StatusAccepted, SuccessResponse{Message: "cancellation requested"})
}

// ListMatches handles GET /requests/:id/matches
func (h *MatchingHandler) ListMatches(c *gin.Context) {
	requestID, ok := requestIDParam(c)
	if !ok {
		return
	}

	matches, err := h.matching.Matches(c.Request.Context(), requestID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "buddy request not found"})
			return
		}
		h.logger.Error("failed to list matches", zap.Int64("request_id", requestID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to list matches"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"matches": matches})
}

func requestIDParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request id"})
		return 0, false
	}
	return id, true
}
