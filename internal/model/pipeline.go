package model

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

const (
	MaxPipelineNameLength        = 100
	MaxPipelineDescriptionLength = 500
	MaxStageNameLength           = 100
	MaxStageDescriptionLength    = 500
)

type Pipeline struct {
	ID          uuid.UUID  `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	IsActive    bool       `json:"is_active"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   *time.Time `json:"updated_at,omitempty"`
	Stages      []Stage    `json:"stages,omitempty"`
}

// NewPipeline validates name and description and returns an active pipeline.
func NewPipeline(name, description string, now time.Time) (*Pipeline, error) {
	name = strings.TrimSpace(name)
	description = strings.TrimSpace(description)
	if err := validatePipelineFields(name, description); err != nil {
		return nil, err
	}
	return &Pipeline{
		ID:          uuid.New(),
		Name:        name,
		Description: description,
		IsActive:    true,
		CreatedAt:   now,
	}, nil
}

// Normalize trims the editable fields and re-checks their limits.
func (p *Pipeline) Normalize() error {
	p.Name = strings.TrimSpace(p.Name)
	p.Description = strings.TrimSpace(p.Description)
	return validatePipelineFields(p.Name, p.Description)
}

func validatePipelineFields(name, description string) error {
	if name == "" {
		return invalid("name", "pipeline name must not be empty")
	}
	if utf8.RuneCountInString(name) > MaxPipelineNameLength {
		return invalid("name", "pipeline name must not exceed %d characters", MaxPipelineNameLength)
	}
	if utf8.RuneCountInString(description) > MaxPipelineDescriptionLength {
		return invalid("description", "description must not exceed %d characters", MaxPipelineDescriptionLength)
	}
	return nil
}

type Stage struct {
	ID               uuid.UUID     `json:"id"`
	PipelineID       uuid.UUID     `json:"pipeline_id"`
	Name             string        `json:"name"`
	Description      string        `json:"description,omitempty"`
	Order            int           `json:"order"`
	ExpectedDuration time.Duration `json:"expected_duration"`
	CreatedAt        time.Time     `json:"created_at"`
}

// NewStage validates the stage fields. Order uniqueness inside the pipeline is
// the catalog's job.
func NewStage(pipelineID uuid.UUID, name, description string, order int, expected time.Duration, now time.Time) (*Stage, error) {
	s := &Stage{
		ID:               uuid.New(),
		PipelineID:       pipelineID,
		Name:             name,
		Description:      description,
		Order:            order,
		ExpectedDuration: expected,
		CreatedAt:        now,
	}
	if err := s.Normalize(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Stage) Normalize() error {
	s.Name = strings.TrimSpace(s.Name)
	s.Description = strings.TrimSpace(s.Description)

	switch {
	case s.Name == "":
		return invalid("name", "stage name must not be empty")
	case utf8.RuneCountInString(s.Name) > MaxStageNameLength:
		return invalid("name", "stage name must not exceed %d characters", MaxStageNameLength)
	case utf8.RuneCountInString(s.Description) > MaxStageDescriptionLength:
		return invalid("description", "description must not exceed %d characters", MaxStageDescriptionLength)
	case s.Order < 0:
		return invalid("order", "stage order must not be negative")
	case s.ExpectedDuration < 0:
		return invalid("expected_duration", "expected duration must not be negative")
	}
	return nil
}

// HasDeadline reports whether deals entering this stage get a deadline.
func (s *Stage) HasDeadline() bool {
	return s.ExpectedDuration > 0
}
