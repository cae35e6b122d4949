package deal

import (
	"context"
	"errors"
	"fmt"

	"estatecrm/internal/model"
	"estatecrm/pkg/logger"
	"estatecrm/pkg/metrics"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// transition is a move that passed validation.
type transition struct {
	deal     *model.Deal
	from     *model.Stage
	to       *model.Stage
	backward bool
}

// ValidateTransition reports whether the deal may move to stageID without
// changing anything.
func (s *Service) ValidateTransition(ctx context.Context, dealID, stageID uuid.UUID) error {
	deal, err := s.deals.GetDeal(ctx, dealID)
	if err != nil {
		return s.reject(ctx, err, dealID, stageID)
	}
	_, err = s.checkTransition(ctx, deal, stageID)
	return err
}

// checkTransition applies the move rules in order: target exists, same
// pipeline, not the current stage, both stage records present, and at most
// one step in either direction. Rejections are logged and counted.
func (s *Service) checkTransition(ctx context.Context, deal *model.Deal, stageID uuid.UUID) (*transition, error) {
	target, err := s.stages.GetStage(ctx, stageID)
	if err != nil {
		return nil, s.reject(ctx, err, deal.ID, stageID)
	}
	if target.PipelineID != deal.PipelineID {
		return nil, s.reject(ctx, model.ErrCrossPipelineTransition, deal.ID, stageID)
	}
	if target.ID == deal.CurrentStageID {
		return nil, s.reject(ctx, model.ErrNoOpTransition, deal.ID, stageID)
	}

	from, err := s.stages.GetStage(ctx, deal.CurrentStageID)
	if errors.Is(err, model.ErrNotFound) {
		return nil, s.reject(ctx, model.ErrStageNotFound, deal.ID, stageID)
	}
	if err != nil {
		return nil, fmt.Errorf("load current stage: %w", err)
	}

	step := target.Order - from.Order
	if step > 1 || step < -1 {
		return nil, s.reject(ctx, fmt.Errorf("%w: order %d to %d", model.ErrSkippedStage, from.Order, target.Order), deal.ID, stageID)
	}

	t := &transition{deal: deal, from: from, to: target, backward: step < 0}
	if t.backward {
		logger.WithTrace(ctx, s.logger).Warn("Backward stage transition",
			zap.String("deal_id", deal.ID.String()),
			zap.String("from_stage", from.Name),
			zap.String("to_stage", target.Name),
		)
	}
	return t, nil
}

func (s *Service) reject(ctx context.Context, err error, dealID, stageID uuid.UUID) error {
	reason := rejectionReason(err)
	if reason == "" {
		return err
	}
	metrics.RecordRejection(reason)
	logger.WithTrace(ctx, s.logger).Info("Stage transition rejected",
		zap.String("deal_id", dealID.String()),
		zap.String("stage_id", stageID.String()),
		zap.String("reason", reason),
		zap.Error(err),
	)
	return err
}

// rejectionReason maps domain errors to metric labels; infrastructure
// errors yield "".
func rejectionReason(err error) string {
	switch {
	case errors.Is(err, model.ErrNotFound):
		return "not_found"
	case errors.Is(err, model.ErrCrossPipelineTransition):
		return "cross_pipeline"
	case errors.Is(err, model.ErrNoOpTransition):
		return "no_op"
	case errors.Is(err, model.ErrStageNotFound):
		return "stage_not_found"
	case errors.Is(err, model.ErrSkippedStage):
		return "skipped_stage"
	case errors.Is(err, model.ErrConcurrentModification):
		return "concurrent_modification"
	}
	return ""
}
