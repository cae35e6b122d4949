package handler

import (
	"net/http"

	"estatecrm/internal/service/analytics"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type AnalyticsHandler struct {
	svc    *analytics.Service
	logger *zap.Logger
}

func NewAnalyticsHandler(svc *analytics.Service, logger *zap.Logger) *AnalyticsHandler {
	return &AnalyticsHandler{svc: svc, logger: logger}
}

func (h *AnalyticsHandler) Deals(c *gin.Context) {
	id, ok := uuidParam(c, h.logger, "DealAnalytics", "id")
	if !ok {
		return
	}
	res, err := h.svc.DealAnalytics(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, "DealAnalytics", err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *AnalyticsHandler) Stages(c *gin.Context) {
	id, ok := uuidParam(c, h.logger, "StageAnalytics", "id")
	if !ok {
		return
	}
	res, err := h.svc.StageAnalytics(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, "StageAnalytics", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"stages": res})
}

func (h *AnalyticsHandler) PropertyTypes(c *gin.Context) {
	id, ok := uuidParam(c, h.logger, "PropertyTypeAnalytics", "id")
	if !ok {
		return
	}
	res, err := h.svc.PropertyTypeAnalytics(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, "PropertyTypeAnalytics", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"property_types": res})
}
