package handler

import (
	"net/http"
	"strconv"
	"time"

	"estatecrm/internal/service/history"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type HistoryHandler struct {
	svc    *history.Service
	logger *zap.Logger
}

func NewHistoryHandler(svc *history.Service, logger *zap.Logger) *HistoryHandler {
	return &HistoryHandler{svc: svc, logger: logger}
}

// Recent takes ?limit=n; missing or non-positive means the default.
func (h *HistoryHandler) Recent(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			badRequest(c, h.logger, "RecentHistory", "invalid limit", err)
			return
		}
		limit = n
	}
	entries, err := h.svc.Recent(c.Request.Context(), limit)
	if err != nil {
		respondError(c, h.logger, "RecentHistory", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"history": entries})
}

// Range takes RFC 3339 ?from= and ?to= bounds, both inclusive.
func (h *HistoryHandler) Range(c *gin.Context) {
	from, err := time.Parse(time.RFC3339, c.Query("from"))
	if err != nil {
		badRequest(c, h.logger, "HistoryRange", "invalid from", err)
		return
	}
	to, err := time.Parse(time.RFC3339, c.Query("to"))
	if err != nil {
		badRequest(c, h.logger, "HistoryRange", "invalid to", err)
		return
	}
	entries, err := h.svc.ByDateRange(c.Request.Context(), from, to)
	if err != nil {
		respondError(c, h.logger, "HistoryRange", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"history": entries})
}

func (h *HistoryHandler) ByStage(c *gin.Context) {
	id, ok := uuidParam(c, h.logger, "StageHistory", "id")
	if !ok {
		return
	}
	entries, err := h.svc.ByStage(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, "StageHistory", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"history": entries})
}

func (h *HistoryHandler) AverageTimeInStage(c *gin.Context) {
	id, ok := uuidParam(c, h.logger, "AverageTimeInStage", "id")
	if !ok {
		return
	}
	avg, err := h.svc.AverageTimeInStage(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, "AverageTimeInStage", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"stage_id":        id,
		"average_seconds": avg.Seconds(),
		"average":         avg.String(),
	})
}
