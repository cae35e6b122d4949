package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"estatecrm/internal/model"

	"go.uber.org/zap"
)

const day = 24 * time.Hour

// DefaultPipelineNames are the pipelines every installation starts with.
var DefaultPipelineNames = []string{"Purchase", "Sale", "Rental"}

type stageTemplate struct {
	Name     string
	Expected time.Duration
}

// defaultStages are seeded in this order; the index is the stage order.
var defaultStages = []stageTemplate{
	{"Initial contact", 2 * day},
	{"Needs assessment", 3 * day},
	{"Property selection", 5 * day},
	{"Property viewing", 7 * day},
	{"Negotiation", 5 * day},
	{"Prepayment", 2 * day},
	{"Paperwork", 7 * day},
	{"Deal completed", 0},
}

// Seed outcomes.
const (
	SeedCreated      = "created"
	SeedExisting     = "existing"
	SeedStagesSeeded = "stages_seeded"
	SeedFailed       = "failed"
)

type SeedResult struct {
	Pipeline string `json:"pipeline"`
	Status   string `json:"status"`
	Err      error  `json:"-"`
}

// SeedResults is the outcome of one InitializeDefaults run.
type SeedResults []SeedResult

func (r SeedResults) AllSucceeded() bool {
	for _, res := range r {
		if res.Status == SeedFailed {
			return false
		}
	}
	return true
}

// InitializeDefaults makes sure the default pipelines exist with their stages.
// It is idempotent and keeps going after a failed pipeline.
func (s *Service) InitializeDefaults(ctx context.Context) SeedResults {
	results := make(SeedResults, 0, len(DefaultPipelineNames))
	for _, name := range DefaultPipelineNames {
		status, err := s.seedPipeline(ctx, name)
		if err != nil {
			s.logger.Warn("Default pipeline seeding failed",
				zap.String("pipeline", name),
				zap.Error(err),
			)
			status = SeedFailed
		} else {
			s.logger.Info("Default pipeline checked",
				zap.String("pipeline", name),
				zap.String("status", status),
			)
		}
		results = append(results, SeedResult{Pipeline: name, Status: status, Err: err})
	}
	return results
}

func (s *Service) seedPipeline(ctx context.Context, name string) (string, error) {
	p, err := s.pipelines.GetPipelineByName(ctx, name)
	switch {
	case errors.Is(err, model.ErrNotFound):
		p, err = s.Create(ctx, name, "")
		if err != nil {
			return "", err
		}
		if err := s.seedStages(ctx, p); err != nil {
			return "", err
		}
		return SeedCreated, nil
	case err != nil:
		return "", fmt.Errorf("lookup pipeline %q: %w", name, err)
	}

	stages, err := s.stages.ListStagesByPipeline(ctx, p.ID)
	if err != nil {
		return "", fmt.Errorf("list stages of %q: %w", name, err)
	}
	if len(stages) > 0 {
		return SeedExisting, nil
	}
	if err := s.seedStages(ctx, p); err != nil {
		return "", err
	}
	return SeedStagesSeeded, nil
}

func (s *Service) seedStages(ctx context.Context, p *model.Pipeline) error {
	for i, tpl := range defaultStages {
		if _, err := s.CreateStage(ctx, p.ID, tpl.Name, "", i, tpl.Expected); err != nil {
			return fmt.Errorf("seed stage %q of %q: %w", tpl.Name, p.Name, err)
		}
	}
	return nil
}
