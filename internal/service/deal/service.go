package deal

import (
	"context"
	"fmt"
	"time"

	mqcontracts "estatecrm/contracts/mq"
	"estatecrm/internal/model"
	"estatecrm/internal/store"
	"estatecrm/pkg/logger"
	"estatecrm/pkg/metrics"
	"estatecrm/pkg/trace"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Service runs deal lifecycle operations: read, validate, mutate, persist.
type Service struct {
	deals     store.DealStore
	history   store.HistoryStore
	stages    store.StageStore
	pipelines store.PipelineStore
	clients   store.ClientDirectory
	now       func() time.Time
	logger    *zap.Logger
}

func NewService(st store.Store, now func() time.Time, logger *zap.Logger) *Service {
	return &Service{
		deals:     st,
		history:   st,
		stages:    st,
		pipelines: st,
		clients:   st,
		now:       now,
		logger:    logger,
	}
}

func (s *Service) Create(ctx context.Context, params model.DealParams) (*model.Deal, error) {
	now := s.now()
	deal, err := model.NewDeal(params, now)
	if err != nil {
		return nil, err
	}

	exists, err := s.clients.ClientExists(ctx, params.ClientID)
	if err != nil {
		return nil, fmt.Errorf("check client: %w", err)
	}
	if !exists {
		return nil, model.NotFound("client", params.ClientID)
	}
	if _, err := s.pipelines.GetPipeline(ctx, params.PipelineID); err != nil {
		return nil, err
	}
	stage, err := s.stages.GetStage(ctx, params.StageID)
	if err != nil {
		return nil, err
	}
	if stage.PipelineID != params.PipelineID {
		return nil, &model.ValidationError{Field: "stage_id", Message: "stage does not belong to the pipeline"}
	}

	deal.SetStageDeadline(stage)

	event := model.Event{RoutingKey: mqcontracts.RoutingDealCreated, Payload: mqcontracts.DealCreatedPayload{
		DealID:     deal.ID.String(),
		ClientID:   deal.ClientID.String(),
		PipelineID: deal.PipelineID.String(),
		StageID:    deal.CurrentStageID.String(),
		Title:      deal.Title,
		CreatedAt:  deal.CreatedAt,
		TraceID:    trace.FromContext(ctx),
	}}
	if err := s.deals.CreateDeal(ctx, deal, event); err != nil {
		return nil, fmt.Errorf("create deal: %w", err)
	}

	metrics.RecordLifecycle("created")
	logger.WithTrace(ctx, s.logger).Info("Deal created",
		zap.String("deal_id", deal.ID.String()),
		zap.String("pipeline_id", deal.PipelineID.String()),
		zap.String("stage_id", deal.CurrentStageID.String()),
	)
	return deal, nil
}

// load fetches the deal and checks the caller's revision when one is given.
func (s *Service) load(ctx context.Context, id uuid.UUID, expectedRevision *int64) (*model.Deal, error) {
	deal, err := s.deals.GetDeal(ctx, id)
	if err != nil {
		return nil, err
	}
	if expectedRevision != nil && *expectedRevision != deal.Revision {
		return nil, fmt.Errorf("%w: have revision %d, caller expected %d",
			model.ErrConcurrentModification, deal.Revision, *expectedRevision)
	}
	return deal, nil
}

// Update edits the descriptive fields of a deal.
func (s *Service) Update(ctx context.Context, id uuid.UUID, changes model.DealChanges, expectedRevision *int64) (*model.Deal, error) {
	deal, err := s.load(ctx, id, expectedRevision)
	if err != nil {
		return nil, err
	}
	loaded := deal.Revision
	if err := deal.Apply(changes, s.now()); err != nil {
		return nil, err
	}
	if err := s.deals.UpdateDeal(ctx, deal, loaded); err != nil {
		return nil, err
	}
	logger.WithTrace(ctx, s.logger).Info("Deal updated",
		zap.String("deal_id", deal.ID.String()),
		zap.Int64("revision", deal.Revision),
	)
	return deal, nil
}

// MoveToStage validates and applies a stage transition, writing the deal,
// its history entry and the deal.stage_changed event together.
func (s *Service) MoveToStage(ctx context.Context, dealID, stageID uuid.UUID, notes string, expectedRevision *int64) (*model.Deal, error) {
	deal, err := s.load(ctx, dealID, expectedRevision)
	if err != nil {
		return nil, s.reject(ctx, err, dealID, stageID)
	}
	t, err := s.checkTransition(ctx, deal, stageID)
	if err != nil {
		return nil, err
	}

	loaded := deal.Revision
	entry, err := deal.MoveToStage(t.to, notes, s.now())
	if err != nil {
		return nil, s.reject(ctx, err, dealID, stageID)
	}

	event := model.Event{RoutingKey: mqcontracts.RoutingDealStageChanged, Payload: mqcontracts.DealStageChangedPayload{
		DealID:             deal.ID.String(),
		PipelineID:         deal.PipelineID.String(),
		FromStageID:        entry.FromStageID.String(),
		ToStageID:          entry.ToStageID.String(),
		Backward:           t.backward,
		TimeInStageSeconds: int64(entry.TimeInStage / time.Second),
		Notes:              entry.Notes,
		ChangedAt:          entry.ChangedAt,
		TraceID:            trace.FromContext(ctx),
	}}
	if err := s.deals.SaveTransition(ctx, deal, loaded, entry, event); err != nil {
		return nil, s.reject(ctx, err, dealID, stageID)
	}

	metrics.RecordTransition(t.backward)
	logger.WithTrace(ctx, s.logger).Info("Deal moved to stage",
		zap.String("deal_id", deal.ID.String()),
		zap.String("from_stage", t.from.Name),
		zap.String("to_stage", t.to.Name),
		zap.Duration("time_in_stage", entry.TimeInStage),
	)
	return deal, nil
}

func (s *Service) Close(ctx context.Context, id uuid.UUID, expectedRevision *int64) (*model.Deal, error) {
	return s.setStatus(ctx, id, expectedRevision, false)
}

func (s *Service) Reopen(ctx context.Context, id uuid.UUID, expectedRevision *int64) (*model.Deal, error) {
	return s.setStatus(ctx, id, expectedRevision, true)
}

func (s *Service) setStatus(ctx context.Context, id uuid.UUID, expectedRevision *int64, active bool) (*model.Deal, error) {
	deal, err := s.load(ctx, id, expectedRevision)
	if err != nil {
		return nil, err
	}
	loaded := deal.Revision
	now := s.now()

	routingKey, lifecycle := mqcontracts.RoutingDealClosed, "closed"
	if active {
		routingKey, lifecycle = mqcontracts.RoutingDealReopened, "reopened"
		deal.Reopen(now)
	} else {
		deal.Close(now)
	}

	event := model.Event{RoutingKey: routingKey, Payload: mqcontracts.DealStatusPayload{
		DealID:     deal.ID.String(),
		PipelineID: deal.PipelineID.String(),
		StageID:    deal.CurrentStageID.String(),
		IsActive:   deal.IsActive,
		At:         now,
		TraceID:    trace.FromContext(ctx),
	}}
	if err := s.deals.UpdateDeal(ctx, deal, loaded, event); err != nil {
		return nil, err
	}

	metrics.RecordLifecycle(lifecycle)
	logger.WithTrace(ctx, s.logger).Info("Deal "+lifecycle,
		zap.String("deal_id", deal.ID.String()),
		zap.String("stage_id", deal.CurrentStageID.String()),
	)
	return deal, nil
}

func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.deals.DeleteDeal(ctx, id); err != nil {
		return err
	}
	metrics.RecordLifecycle("deleted")
	logger.WithTrace(ctx, s.logger).Info("Deal deleted", zap.String("deal_id", id.String()))
	return nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*model.Deal, error) {
	return s.deals.GetDeal(ctx, id)
}

// GetWithHistory returns the deal with its transitions attached, oldest first.
func (s *Service) GetWithHistory(ctx context.Context, id uuid.UUID) (*model.Deal, error) {
	deal, err := s.deals.GetDeal(ctx, id)
	if err != nil {
		return nil, err
	}
	entries, err := s.history.HistoryByDeal(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load history of %s: %w", id, err)
	}
	deal.History = make([]model.HistoryEntry, len(entries))
	for i, e := range entries {
		deal.History[len(entries)-1-i] = e
	}
	return deal, nil
}

// Details bundles the deal with its pipeline, current stage and history.
// Missing pipeline or stage records are left nil.
func (s *Service) Details(ctx context.Context, id uuid.UUID) (*model.DealDetails, error) {
	deal, err := s.GetWithHistory(ctx, id)
	if err != nil {
		return nil, err
	}
	details := &model.DealDetails{Deal: deal, History: deal.History}
	if p, err := s.pipelines.GetPipeline(ctx, deal.PipelineID); err == nil {
		details.Pipeline = p
	}
	if st, err := s.stages.GetStage(ctx, deal.CurrentStageID); err == nil {
		details.Stage = st
	}
	return details, nil
}

func (s *Service) List(ctx context.Context, f model.DealFilter) ([]model.Deal, error) {
	return s.deals.ListDeals(ctx, f)
}

func (s *Service) ListActive(ctx context.Context) ([]model.Deal, error) {
	return s.deals.ListDeals(ctx, model.DealFilter{ActiveOnly: true})
}

func (s *Service) ListByClient(ctx context.Context, clientID uuid.UUID) ([]model.Deal, error) {
	return s.deals.ListDeals(ctx, model.DealFilter{ClientID: &clientID})
}

func (s *Service) ListByPipeline(ctx context.Context, pipelineID uuid.UUID) ([]model.Deal, error) {
	return s.deals.ListDeals(ctx, model.DealFilter{PipelineID: &pipelineID})
}

// ListByStage returns the active deals currently sitting in the stage.
func (s *Service) ListByStage(ctx context.Context, stageID uuid.UUID) ([]model.Deal, error) {
	return s.deals.ListDeals(ctx, model.DealFilter{StageID: &stageID, ActiveOnly: true})
}

// ListOverdue returns active deals whose stage deadline has passed.
func (s *Service) ListOverdue(ctx context.Context) ([]model.Deal, error) {
	now := s.now()
	return s.deals.ListDeals(ctx, model.DealFilter{ActiveOnly: true, OverdueBefore: &now})
}
