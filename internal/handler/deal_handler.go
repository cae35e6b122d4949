package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"estatecrm/internal/model"
	"estatecrm/internal/service/deal"
	"estatecrm/internal/service/history"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type DealHandler struct {
	deals   *deal.Service
	history *history.Service
	logger  *zap.Logger
}

func NewDealHandler(deals *deal.Service, hist *history.Service, logger *zap.Logger) *DealHandler {
	return &DealHandler{deals: deals, history: hist, logger: logger}
}

type createDealRequest struct {
	Title             string           `json:"title"`
	ClientID          string           `json:"client_id"`
	PipelineID        string           `json:"pipeline_id"`
	StageID           string           `json:"stage_id"`
	PropertyID        *string          `json:"property_id"`
	RequestID         *string          `json:"request_id"`
	Notes             string           `json:"notes"`
	Amount            *decimal.Decimal `json:"amount"`
	ExpectedCloseDate *time.Time       `json:"expected_close_date"`
}

func (r createDealRequest) params() (model.DealParams, error) {
	p := model.DealParams{
		Title:             r.Title,
		Notes:             r.Notes,
		Amount:            r.Amount,
		ExpectedCloseDate: r.ExpectedCloseDate,
	}
	ids := []struct {
		field string
		raw   string
		dst   *uuid.UUID
	}{
		{"client_id", r.ClientID, &p.ClientID},
		{"pipeline_id", r.PipelineID, &p.PipelineID},
		{"stage_id", r.StageID, &p.StageID},
	}
	for _, f := range ids {
		id, err := uuid.Parse(f.raw)
		if err != nil {
			return p, &model.ValidationError{Field: f.field, Message: "must be a UUID"}
		}
		*f.dst = id
	}

	var err error
	if p.PropertyID, err = optionalUUID(r.PropertyID); err != nil {
		return p, &model.ValidationError{Field: "property_id", Message: "must be a UUID"}
	}
	if p.RequestID, err = optionalUUID(r.RequestID); err != nil {
		return p, &model.ValidationError{Field: "request_id", Message: "must be a UUID"}
	}
	return p, nil
}

type updateDealRequest struct {
	Title             *string          `json:"title"`
	Notes             *string          `json:"notes"`
	Amount            *decimal.Decimal `json:"amount"`
	ClearAmount       bool             `json:"clear_amount"`
	ExpectedCloseDate *time.Time       `json:"expected_close_date"`
	PropertyID        *string          `json:"property_id"`
	RequestID         *string          `json:"request_id"`
}

type moveStageRequest struct {
	StageID string `json:"stage_id"`
	Notes   string `json:"notes"`
}

// moveStageResponse mirrors the transition outcome for UI clients.
type moveStageResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Deal    *model.Deal `json:"deal,omitempty"`
}

func (h *DealHandler) list(c *gin.Context, op string, f model.DealFilter) {
	deals, err := h.deals.List(c.Request.Context(), f)
	if err != nil {
		respondError(c, h.logger, op, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deals": deals, "count": len(deals)})
}

// List supports the optional query filters client_id, pipeline_id, stage_id
// and active=true.
func (h *DealHandler) List(c *gin.Context) {
	var f model.DealFilter
	for _, q := range []struct {
		name string
		dst  **uuid.UUID
	}{
		{"client_id", &f.ClientID},
		{"pipeline_id", &f.PipelineID},
		{"stage_id", &f.StageID},
	} {
		raw := c.Query(q.name)
		if raw == "" {
			continue
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			badRequest(c, h.logger, "ListDeals", "invalid "+q.name, err)
			return
		}
		*q.dst = &id
	}
	if active := c.Query("active"); active != "" {
		v, err := strconv.ParseBool(active)
		if err != nil {
			badRequest(c, h.logger, "ListDeals", "invalid active", err)
			return
		}
		f.ActiveOnly = v
	}
	h.list(c, "ListDeals", f)
}

func (h *DealHandler) ListActive(c *gin.Context) {
	h.list(c, "ListActiveDeals", model.DealFilter{ActiveOnly: true})
}

func (h *DealHandler) ListOverdue(c *gin.Context) {
	deals, err := h.deals.ListOverdue(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, "ListOverdueDeals", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deals": deals, "count": len(deals)})
}

func (h *DealHandler) ListByClient(c *gin.Context) {
	id, ok := uuidParam(c, h.logger, "ListDealsByClient", "id")
	if !ok {
		return
	}
	h.list(c, "ListDealsByClient", model.DealFilter{ClientID: &id})
}

func (h *DealHandler) ListByPipeline(c *gin.Context) {
	id, ok := uuidParam(c, h.logger, "ListDealsByPipeline", "id")
	if !ok {
		return
	}
	h.list(c, "ListDealsByPipeline", model.DealFilter{PipelineID: &id})
}

func (h *DealHandler) ListByStage(c *gin.Context) {
	id, ok := uuidParam(c, h.logger, "ListDealsByStage", "id")
	if !ok {
		return
	}
	h.list(c, "ListDealsByStage", model.DealFilter{StageID: &id, ActiveOnly: true})
}

func (h *DealHandler) Get(c *gin.Context) {
	id, ok := uuidParam(c, h.logger, "GetDeal", "id")
	if !ok {
		return
	}
	d, err := h.deals.GetWithHistory(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, "GetDeal", err)
		return
	}
	setETag(c, d)
	c.JSON(http.StatusOK, d)
}

func (h *DealHandler) Details(c *gin.Context) {
	id, ok := uuidParam(c, h.logger, "GetDealDetails", "id")
	if !ok {
		return
	}
	details, err := h.deals.Details(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, "GetDealDetails", err)
		return
	}
	setETag(c, details.Deal)
	c.JSON(http.StatusOK, details)
}

func (h *DealHandler) History(c *gin.Context) {
	id, ok := uuidParam(c, h.logger, "GetDealHistory", "id")
	if !ok {
		return
	}
	entries, err := h.history.ByDeal(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, "GetDealHistory", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"history": entries})
}

func (h *DealHandler) Create(c *gin.Context) {
	var req createDealRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.logger, "CreateDeal", "invalid request body", err)
		return
	}
	params, err := req.params()
	if err != nil {
		respondError(c, h.logger, "CreateDeal", err)
		return
	}
	h.logger.Info("CreateDeal request received",
		zap.String("client_id", params.ClientID.String()),
		zap.String("pipeline_id", params.PipelineID.String()),
		zap.String("user_id", c.GetString(ContextUserID)),
	)

	d, err := h.deals.Create(c.Request.Context(), params)
	if err != nil {
		respondError(c, h.logger, "CreateDeal", err)
		return
	}
	h.logger.Info("CreateDeal: success", zap.String("deal_id", d.ID.String()))
	setETag(c, d)
	c.JSON(http.StatusCreated, d)
}

func (h *DealHandler) Update(c *gin.Context) {
	id, ok := uuidParam(c, h.logger, "UpdateDeal", "id")
	if !ok {
		return
	}
	rev, err := expectedRevision(c)
	if err != nil {
		badRequest(c, h.logger, "UpdateDeal", "invalid If-Match", err)
		return
	}
	var req updateDealRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.logger, "UpdateDeal", "invalid request body", err)
		return
	}

	changes := model.DealChanges{
		Title:             req.Title,
		Notes:             req.Notes,
		Amount:            req.Amount,
		ClearAmount:       req.ClearAmount,
		ExpectedCloseDate: req.ExpectedCloseDate,
	}
	if changes.PropertyID, err = optionalUUID(req.PropertyID); err != nil {
		badRequest(c, h.logger, "UpdateDeal", "invalid property_id", err)
		return
	}
	if changes.RequestID, err = optionalUUID(req.RequestID); err != nil {
		badRequest(c, h.logger, "UpdateDeal", "invalid request_id", err)
		return
	}

	d, err := h.deals.Update(c.Request.Context(), id, changes, rev)
	if err != nil {
		respondError(c, h.logger, "UpdateDeal", err)
		return
	}
	setETag(c, d)
	c.JSON(http.StatusOK, d)
}

// MoveStage answers {success, message}. Rule violations are 422, a missing
// deal or stage is 404 and a stale revision is 409.
func (h *DealHandler) MoveStage(c *gin.Context) {
	id, ok := uuidParam(c, h.logger, "MoveDealStage", "id")
	if !ok {
		return
	}
	rev, err := expectedRevision(c)
	if err != nil {
		badRequest(c, h.logger, "MoveDealStage", "invalid If-Match", err)
		return
	}
	var req moveStageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.logger, "MoveDealStage", "invalid request body", err)
		return
	}
	stageID, err := uuid.Parse(req.StageID)
	if err != nil {
		badRequest(c, h.logger, "MoveDealStage", "invalid stage_id", err)
		return
	}
	h.logger.Info("MoveDealStage request received",
		zap.String("deal_id", id.String()),
		zap.String("stage_id", stageID.String()),
		zap.String("user_id", c.GetString(ContextUserID)),
	)

	d, err := h.deals.MoveToStage(c.Request.Context(), id, stageID, req.Notes, rev)
	if err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			h.logger.Error("MoveDealStage: failed", zap.Error(err))
			c.JSON(status, moveStageResponse{Message: "internal error"})
			return
		}
		c.JSON(status, moveStageResponse{Message: err.Error()})
		return
	}

	h.logger.Info("MoveDealStage: success",
		zap.String("deal_id", d.ID.String()),
		zap.Int64("revision", d.Revision),
	)
	setETag(c, d)
	c.JSON(http.StatusOK, moveStageResponse{Success: true, Message: "deal moved to stage", Deal: d})
}

// ValidateMove reports whether a move would be accepted without applying it.
func (h *DealHandler) ValidateMove(c *gin.Context) {
	id, ok := uuidParam(c, h.logger, "ValidateDealMove", "id")
	if !ok {
		return
	}
	stageID, err := uuid.Parse(c.Query("stage_id"))
	if err != nil {
		badRequest(c, h.logger, "ValidateDealMove", "invalid stage_id", err)
		return
	}
	err = h.deals.ValidateTransition(c.Request.Context(), id, stageID)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, moveStageResponse{Success: true, Message: "transition allowed"})
	case statusFor(err) == http.StatusInternalServerError:
		respondError(c, h.logger, "ValidateDealMove", err)
	default:
		c.JSON(http.StatusOK, moveStageResponse{Message: err.Error()})
	}
}

func (h *DealHandler) Close(c *gin.Context) {
	h.setStatus(c, "CloseDeal", h.deals.Close)
}

func (h *DealHandler) Reopen(c *gin.Context) {
	h.setStatus(c, "ReopenDeal", h.deals.Reopen)
}

func (h *DealHandler) setStatus(c *gin.Context, op string, apply func(ctx context.Context, id uuid.UUID, rev *int64) (*model.Deal, error)) {
	id, ok := uuidParam(c, h.logger, op, "id")
	if !ok {
		return
	}
	rev, err := expectedRevision(c)
	if err != nil {
		badRequest(c, h.logger, op, "invalid If-Match", err)
		return
	}
	d, err := apply(c.Request.Context(), id, rev)
	if err != nil {
		respondError(c, h.logger, op, err)
		return
	}
	h.logger.Info(op+": success", zap.String("deal_id", id.String()), zap.Bool("is_active", d.IsActive))
	setETag(c, d)
	c.JSON(http.StatusOK, d)
}

func (h *DealHandler) Delete(c *gin.Context) {
	id, ok := uuidParam(c, h.logger, "DeleteDeal", "id")
	if !ok {
		return
	}
	if err := h.deals.Delete(c.Request.Context(), id); err != nil {
		respondError(c, h.logger, "DeleteDeal", err)
		return
	}
	h.logger.Info("DeleteDeal: success", zap.String("deal_id", id.String()))
	c.Status(http.StatusNoContent)
}
