package model

import (
	"errors"
	"fmt"
)

var (
	ErrValidation              = errors.New("validation failed")
	ErrNotFound                = errors.New("not found")
	ErrDuplicateName           = errors.New("pipeline name already exists")
	ErrDuplicateStageOrder     = errors.New("stage order already used in pipeline")
	ErrInvalidArgument         = errors.New("invalid argument")
	ErrCrossPipelineTransition = errors.New("stage does not belong to the deal's pipeline")
	ErrNoOpTransition          = errors.New("deal is already on this stage")
	ErrSkippedStage            = errors.New("cannot skip stages; only adjacent transitions allowed")
	ErrStageNotFound           = errors.New("transition stages not found")
	ErrConcurrentModification  = errors.New("deal was modified concurrently")
	ErrStageInUse              = errors.New("stage is referenced by deals")
)

// ValidationError describes a single field constraint violation.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// NotFoundError names the kind of record that is missing.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

func NotFound(kind string, id fmt.Stringer) error {
	return &NotFoundError{Kind: kind, ID: id.String()}
}
