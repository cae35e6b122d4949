package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"estatecrm/internal/model"
	"estatecrm/internal/store"
	"estatecrm/pkg/lock"
	"estatecrm/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Service owns pipelines and their ordered stages.
type Service struct {
	pipelines store.PipelineStore
	stages    store.StageStore
	locker    lock.Locker
	now       func() time.Time
	logger    *zap.Logger
}

func NewService(
	pipelines store.PipelineStore,
	stages store.StageStore,
	locker lock.Locker,
	now func() time.Time,
	logger *zap.Logger,
) *Service {
	return &Service{
		pipelines: pipelines,
		stages:    stages,
		locker:    locker,
		now:       now,
		logger:    logger,
	}
}

func (s *Service) Create(ctx context.Context, name, description string) (*model.Pipeline, error) {
	p, err := model.NewPipeline(name, description, s.now())
	if err != nil {
		return nil, err
	}
	if err := s.ensureNameFree(ctx, p.Name, uuid.Nil); err != nil {
		return nil, err
	}
	if err := s.pipelines.CreatePipeline(ctx, p); err != nil {
		return nil, fmt.Errorf("create pipeline %q: %w", p.Name, err)
	}

	logger.WithTrace(ctx, s.logger).Info("Pipeline created",
		zap.String("pipeline_id", p.ID.String()),
		zap.String("name", p.Name),
	)
	return p, nil
}

// Update replaces name, description and the active flag of an existing pipeline.
func (s *Service) Update(ctx context.Context, p *model.Pipeline) (*model.Pipeline, error) {
	current, err := s.pipelines.GetPipeline(ctx, p.ID)
	if err != nil {
		return nil, err
	}

	updated := *current
	updated.Name = p.Name
	updated.Description = p.Description
	updated.IsActive = p.IsActive
	if err := updated.Normalize(); err != nil {
		return nil, err
	}
	if err := s.ensureNameFree(ctx, updated.Name, updated.ID); err != nil {
		return nil, err
	}
	now := s.now()
	updated.UpdatedAt = &now

	if err := s.pipelines.UpdatePipeline(ctx, &updated); err != nil {
		return nil, fmt.Errorf("update pipeline %s: %w", updated.ID, err)
	}
	logger.WithTrace(ctx, s.logger).Info("Pipeline updated",
		zap.String("pipeline_id", updated.ID.String()),
		zap.String("name", updated.Name),
		zap.Bool("is_active", updated.IsActive),
	)
	return &updated, nil
}

// ensureNameFree fails with ErrDuplicateName when a pipeline other than self
// already uses name. Inactive pipelines count.
func (s *Service) ensureNameFree(ctx context.Context, name string, self uuid.UUID) error {
	existing, err := s.pipelines.GetPipelineByName(ctx, name)
	switch {
	case errors.Is(err, model.ErrNotFound):
		return nil
	case err != nil:
		return fmt.Errorf("lookup pipeline by name: %w", err)
	case existing.ID != self:
		return fmt.Errorf("%w: %q", model.ErrDuplicateName, name)
	}
	return nil
}

func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.pipelines.DeletePipeline(ctx, id); err != nil {
		return err
	}
	logger.WithTrace(ctx, s.logger).Info("Pipeline deleted", zap.String("pipeline_id", id.String()))
	return nil
}

func (s *Service) List(ctx context.Context) ([]model.Pipeline, error) {
	return s.pipelines.ListPipelines(ctx, false)
}

func (s *Service) ListActive(ctx context.Context) ([]model.Pipeline, error) {
	return s.pipelines.ListPipelines(ctx, true)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*model.Pipeline, error) {
	return s.pipelines.GetPipeline(ctx, id)
}

func (s *Service) GetByName(ctx context.Context, name string) (*model.Pipeline, error) {
	return s.pipelines.GetPipelineByName(ctx, name)
}

// GetWithStages loads the pipeline and attaches its stages in order.
func (s *Service) GetWithStages(ctx context.Context, id uuid.UUID) (*model.Pipeline, error) {
	p, err := s.pipelines.GetPipeline(ctx, id)
	if err != nil {
		return nil, err
	}
	stages, err := s.stages.ListStagesByPipeline(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list stages of %s: %w", id, err)
	}
	p.Stages = stages
	return p, nil
}

func pipelineLockKey(id uuid.UUID) string {
	return "pipeline:" + id.String() + ":stages"
}

func (s *Service) CreateStage(
	ctx context.Context,
	pipelineID uuid.UUID,
	name, description string,
	order int,
	expected time.Duration,
) (*model.Stage, error) {
	if _, err := s.pipelines.GetPipeline(ctx, pipelineID); err != nil {
		return nil, err
	}
	st, err := model.NewStage(pipelineID, name, description, order, expected, s.now())
	if err != nil {
		return nil, err
	}

	unlock, err := s.locker.Lock(ctx, pipelineLockKey(pipelineID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	if err := s.ensureOrderFree(ctx, pipelineID, order, uuid.Nil); err != nil {
		return nil, err
	}
	if err := s.stages.CreateStage(ctx, st); err != nil {
		return nil, fmt.Errorf("create stage %q: %w", st.Name, err)
	}

	logger.WithTrace(ctx, s.logger).Info("Stage created",
		zap.String("stage_id", st.ID.String()),
		zap.String("pipeline_id", pipelineID.String()),
		zap.Int("order", st.Order),
	)
	return st, nil
}

// UpdateStage edits name, description, order and expected duration. A stage
// never moves to another pipeline.
func (s *Service) UpdateStage(ctx context.Context, st *model.Stage) (*model.Stage, error) {
	current, err := s.stages.GetStage(ctx, st.ID)
	if err != nil {
		return nil, err
	}

	updated := *current
	updated.Name = st.Name
	updated.Description = st.Description
	updated.Order = st.Order
	updated.ExpectedDuration = st.ExpectedDuration
	if err := updated.Normalize(); err != nil {
		return nil, err
	}

	unlock, err := s.locker.Lock(ctx, pipelineLockKey(updated.PipelineID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	if err := s.ensureOrderFree(ctx, updated.PipelineID, updated.Order, updated.ID); err != nil {
		return nil, err
	}
	if err := s.stages.UpdateStage(ctx, &updated); err != nil {
		return nil, fmt.Errorf("update stage %s: %w", updated.ID, err)
	}
	logger.WithTrace(ctx, s.logger).Info("Stage updated",
		zap.String("stage_id", updated.ID.String()),
		zap.Int("order", updated.Order),
	)
	return &updated, nil
}

func (s *Service) ensureOrderFree(ctx context.Context, pipelineID uuid.UUID, order int, self uuid.UUID) error {
	stages, err := s.stages.ListStagesByPipeline(ctx, pipelineID)
	if err != nil {
		return fmt.Errorf("list stages of %s: %w", pipelineID, err)
	}
	for _, other := range stages {
		if other.ID != self && other.Order == order {
			return fmt.Errorf("%w: order %d", model.ErrDuplicateStageOrder, order)
		}
	}
	return nil
}

func (s *Service) DeleteStage(ctx context.Context, id uuid.UUID) error {
	if err := s.stages.DeleteStage(ctx, id); err != nil {
		return err
	}
	logger.WithTrace(ctx, s.logger).Info("Stage deleted", zap.String("stage_id", id.String()))
	return nil
}

func (s *Service) GetStage(ctx context.Context, id uuid.UUID) (*model.Stage, error) {
	return s.stages.GetStage(ctx, id)
}

func (s *Service) ListStages(ctx context.Context) ([]model.Stage, error) {
	return s.stages.ListStages(ctx)
}

func (s *Service) ListStagesByPipeline(ctx context.Context, pipelineID uuid.UUID) ([]model.Stage, error) {
	return s.stages.ListStagesByPipeline(ctx, pipelineID)
}

// ReorderStages gives each listed stage of the pipeline its index as order.
// Ids that are not stages of the pipeline are skipped.
func (s *Service) ReorderStages(ctx context.Context, pipelineID uuid.UUID, stageIDs []uuid.UUID) ([]model.Stage, error) {
	if _, err := s.pipelines.GetPipeline(ctx, pipelineID); err != nil {
		return nil, err
	}

	unlock, err := s.locker.Lock(ctx, pipelineLockKey(pipelineID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	stages, err := s.stages.ListStagesByPipeline(ctx, pipelineID)
	if err != nil {
		return nil, fmt.Errorf("list stages of %s: %w", pipelineID, err)
	}
	owned := make(map[uuid.UUID]bool, len(stages))
	for _, st := range stages {
		owned[st.ID] = true
	}

	orders := make(map[uuid.UUID]int, len(stageIDs))
	for i, id := range stageIDs {
		if !owned[id] {
			s.logger.Debug("Skipping foreign stage in reorder",
				zap.String("pipeline_id", pipelineID.String()),
				zap.String("stage_id", id.String()),
			)
			continue
		}
		orders[id] = i
	}
	if err := s.stages.ReorderStages(ctx, pipelineID, orders); err != nil {
		return nil, fmt.Errorf("reorder stages of %s: %w", pipelineID, err)
	}

	logger.WithTrace(ctx, s.logger).Info("Stages reordered",
		zap.String("pipeline_id", pipelineID.String()),
		zap.Int("count", len(orders)),
	)
	return s.stages.ListStagesByPipeline(ctx, pipelineID)
}
