package handler

import (
	"net/http"
	"time"

	"estatecrm/internal/model"
	"estatecrm/internal/service/pipeline"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type PipelineHandler struct {
	svc    *pipeline.Service
	logger *zap.Logger
}

func NewPipelineHandler(svc *pipeline.Service, logger *zap.Logger) *PipelineHandler {
	return &PipelineHandler{svc: svc, logger: logger}
}

type pipelineRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	IsActive    *bool  `json:"is_active"`
}

func (h *PipelineHandler) List(c *gin.Context) {
	h.logger.Info("ListPipelines request received", zap.String("client_ip", c.ClientIP()))
	pipelines, err := h.svc.List(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, "ListPipelines", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"pipelines": pipelines})
}

func (h *PipelineHandler) ListActive(c *gin.Context) {
	pipelines, err := h.svc.ListActive(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, "ListActivePipelines", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"pipelines": pipelines})
}

func (h *PipelineHandler) Get(c *gin.Context) {
	id, ok := uuidParam(c, h.logger, "GetPipeline", "id")
	if !ok {
		return
	}
	p, err := h.svc.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, "GetPipeline", err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *PipelineHandler) GetWithStages(c *gin.Context) {
	id, ok := uuidParam(c, h.logger, "GetPipelineWithStages", "id")
	if !ok {
		return
	}
	p, err := h.svc.GetWithStages(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, "GetPipelineWithStages", err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *PipelineHandler) Create(c *gin.Context) {
	var req pipelineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.logger, "CreatePipeline", "invalid request body", err)
		return
	}
	h.logger.Info("CreatePipeline request received", zap.String("name", req.Name))

	p, err := h.svc.Create(c.Request.Context(), req.Name, req.Description)
	if err != nil {
		respondError(c, h.logger, "CreatePipeline", err)
		return
	}
	h.logger.Info("CreatePipeline: success", zap.String("pipeline_id", p.ID.String()))
	c.JSON(http.StatusCreated, p)
}

func (h *PipelineHandler) Update(c *gin.Context) {
	id, ok := uuidParam(c, h.logger, "UpdatePipeline", "id")
	if !ok {
		return
	}
	var req pipelineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.logger, "UpdatePipeline", "invalid request body", err)
		return
	}

	p := &model.Pipeline{ID: id, Name: req.Name, Description: req.Description, IsActive: true}
	if req.IsActive != nil {
		p.IsActive = *req.IsActive
	}
	updated, err := h.svc.Update(c.Request.Context(), p)
	if err != nil {
		respondError(c, h.logger, "UpdatePipeline", err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (h *PipelineHandler) Delete(c *gin.Context) {
	id, ok := uuidParam(c, h.logger, "DeletePipeline", "id")
	if !ok {
		return
	}
	if err := h.svc.Delete(c.Request.Context(), id); err != nil {
		respondError(c, h.logger, "DeletePipeline", err)
		return
	}
	h.logger.Info("DeletePipeline: success", zap.String("pipeline_id", id.String()))
	c.Status(http.StatusNoContent)
}

// InitializeDefaults seeds the default pipelines; 207 when some failed.
func (h *PipelineHandler) InitializeDefaults(c *gin.Context) {
	h.logger.Info("InitializeDefaults request received")
	results := h.svc.InitializeDefaults(c.Request.Context())

	type item struct {
		Pipeline string `json:"pipeline"`
		Status   string `json:"status"`
		Error    string `json:"error,omitempty"`
	}
	items := make([]item, 0, len(results))
	for _, r := range results {
		it := item{Pipeline: r.Pipeline, Status: r.Status}
		if r.Err != nil {
			it.Error = r.Err.Error()
		}
		items = append(items, it)
	}

	status := http.StatusOK
	if !results.AllSucceeded() {
		status = http.StatusMultiStatus
	}
	c.JSON(status, gin.H{"results": items, "success": results.AllSucceeded()})
}

type stageRequest struct {
	PipelineID       string `json:"pipeline_id"`
	Name             string `json:"name"`
	Description      string `json:"description"`
	Order            int    `json:"order"`
	ExpectedDuration string `json:"expected_duration"` // e.g. "72h"
}

func (r stageRequest) duration() (time.Duration, error) {
	if r.ExpectedDuration == "" {
		return 0, nil
	}
	return time.ParseDuration(r.ExpectedDuration)
}
