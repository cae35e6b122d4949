package pipeline

import (
	"context"
	"errors"

	"estatecrm/internal/model"

	"github.com/google/uuid"
)

// NextStage returns the stage with the smallest order above the given one in
// the same pipeline, or nil when it is the last stage or unknown.
func (s *Service) NextStage(ctx context.Context, stageID uuid.UUID) (*model.Stage, error) {
	return s.neighbour(ctx, stageID, func(candidate, current, best int, found bool) bool {
		return candidate > current && (!found || candidate < best)
	})
}

// PreviousStage is the mirror of NextStage.
func (s *Service) PreviousStage(ctx context.Context, stageID uuid.UUID) (*model.Stage, error) {
	return s.neighbour(ctx, stageID, func(candidate, current, best int, found bool) bool {
		return candidate < current && (!found || candidate > best)
	})
}

func (s *Service) neighbour(ctx context.Context, stageID uuid.UUID, better func(candidate, current, best int, found bool) bool) (*model.Stage, error) {
	current, err := s.stages.GetStage(ctx, stageID)
	if errors.Is(err, model.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	siblings, err := s.stages.ListStagesByPipeline(ctx, current.PipelineID)
	if err != nil {
		return nil, err
	}

	var pick *model.Stage
	for i := range siblings {
		st := &siblings[i]
		if st.ID == current.ID {
			continue
		}
		best := 0
		if pick != nil {
			best = pick.Order
		}
		if better(st.Order, current.Order, best, pick != nil) {
			pick = st
		}
	}
	return pick, nil
}
