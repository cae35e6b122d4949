package handler

import (
	"net/http"

	"estatecrm/internal/model"
	"estatecrm/internal/service/pipeline"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type StageHandler struct {
	svc    *pipeline.Service
	logger *zap.Logger
}

func NewStageHandler(svc *pipeline.Service, logger *zap.Logger) *StageHandler {
	return &StageHandler{svc: svc, logger: logger}
}

func (h *StageHandler) List(c *gin.Context) {
	stages, err := h.svc.ListStages(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, "ListStages", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"stages": stages})
}

func (h *StageHandler) ListByPipeline(c *gin.Context) {
	id, ok := uuidParam(c, h.logger, "ListStagesByPipeline", "id")
	if !ok {
		return
	}
	stages, err := h.svc.ListStagesByPipeline(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, "ListStagesByPipeline", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"stages": stages})
}

func (h *StageHandler) Get(c *gin.Context) {
	id, ok := uuidParam(c, h.logger, "GetStage", "id")
	if !ok {
		return
	}
	st, err := h.svc.GetStage(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, "GetStage", err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// Next returns the following stage or 404 for the last one.
func (h *StageHandler) Next(c *gin.Context) {
	id, ok := uuidParam(c, h.logger, "NextStage", "id")
	if !ok {
		return
	}
	st, err := h.svc.NextStage(c.Request.Context(), id)
	h.neighbour(c, "NextStage", st, err)
}

func (h *StageHandler) Previous(c *gin.Context) {
	id, ok := uuidParam(c, h.logger, "PreviousStage", "id")
	if !ok {
		return
	}
	st, err := h.svc.PreviousStage(c.Request.Context(), id)
	h.neighbour(c, "PreviousStage", st, err)
}

func (h *StageHandler) neighbour(c *gin.Context, op string, st *model.Stage, err error) {
	if err != nil {
		respondError(c, h.logger, op, err)
		return
	}
	if st == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no adjacent stage"})
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h *StageHandler) Create(c *gin.Context) {
	var req stageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.logger, "CreateStage", "invalid request body", err)
		return
	}
	pipelineID, err := uuid.Parse(req.PipelineID)
	if err != nil {
		badRequest(c, h.logger, "CreateStage", "invalid pipeline_id", err)
		return
	}
	expected, err := req.duration()
	if err != nil {
		badRequest(c, h.logger, "CreateStage", "invalid expected_duration", err)
		return
	}
	h.logger.Info("CreateStage request received",
		zap.String("pipeline_id", pipelineID.String()),
		zap.String("name", req.Name),
		zap.Int("order", req.Order),
	)

	st, err := h.svc.CreateStage(c.Request.Context(), pipelineID, req.Name, req.Description, req.Order, expected)
	if err != nil {
		respondError(c, h.logger, "CreateStage", err)
		return
	}
	h.logger.Info("CreateStage: success", zap.String("stage_id", st.ID.String()))
	c.JSON(http.StatusCreated, st)
}

func (h *StageHandler) Update(c *gin.Context) {
	id, ok := uuidParam(c, h.logger, "UpdateStage", "id")
	if !ok {
		return
	}
	var req stageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.logger, "UpdateStage", "invalid request body", err)
		return
	}
	expected, err := req.duration()
	if err != nil {
		badRequest(c, h.logger, "UpdateStage", "invalid expected_duration", err)
		return
	}

	st, err := h.svc.UpdateStage(c.Request.Context(), &model.Stage{
		ID:               id,
		Name:             req.Name,
		Description:      req.Description,
		Order:            req.Order,
		ExpectedDuration: expected,
	})
	if err != nil {
		respondError(c, h.logger, "UpdateStage", err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h *StageHandler) Delete(c *gin.Context) {
	id, ok := uuidParam(c, h.logger, "DeleteStage", "id")
	if !ok {
		return
	}
	if err := h.svc.DeleteStage(c.Request.Context(), id); err != nil {
		respondError(c, h.logger, "DeleteStage", err)
		return
	}
	h.logger.Info("DeleteStage: success", zap.String("stage_id", id.String()))
	c.Status(http.StatusNoContent)
}

type reorderRequest struct {
	StageIDs []uuid.UUID `json:"stage_ids"`
}

// Reorder gives each listed stage its position in stage_ids as order.
func (h *StageHandler) Reorder(c *gin.Context) {
	pipelineID, ok := uuidParam(c, h.logger, "ReorderStages", "id")
	if !ok {
		return
	}
	var req reorderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.logger, "ReorderStages", "invalid request body", err)
		return
	}
	h.logger.Info("ReorderStages request received",
		zap.String("pipeline_id", pipelineID.String()),
		zap.Int("stages", len(req.StageIDs)),
	)

	stages, err := h.svc.ReorderStages(c.Request.Context(), pipelineID, req.StageIDs)
	if err != nil {
		respondError(c, h.logger, "ReorderStages", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"stages": stages})
}
