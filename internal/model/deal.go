package model

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	MaxDealTitleLength = 200
	MaxDealNotesLength = 2000
)

type Deal struct {
	ID                uuid.UUID        `json:"id"`
	Title             string           `json:"title"`
	Notes             string           `json:"notes,omitempty"`
	Amount            *decimal.Decimal `json:"amount,omitempty"`
	ExpectedCloseDate *time.Time       `json:"expected_close_date,omitempty"`
	CurrentStageID    uuid.UUID        `json:"current_stage_id"`
	PipelineID        uuid.UUID        `json:"pipeline_id"`
	ClientID          uuid.UUID        `json:"client_id"`
	PropertyID        *uuid.UUID       `json:"property_id,omitempty"`
	RequestID         *uuid.UUID       `json:"request_id,omitempty"`
	StageStartedAt    time.Time        `json:"stage_started_at"`
	StageDeadline     *time.Time       `json:"stage_deadline,omitempty"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         *time.Time       `json:"updated_at,omitempty"`
	ClosedAt          *time.Time       `json:"closed_at,omitempty"`
	IsActive          bool             `json:"is_active"`
	Revision          int64            `json:"revision"`
	History           []HistoryEntry   `json:"history,omitempty"`
}

// DealParams carries the caller-supplied fields of a new deal.
type DealParams struct {
	Title             string
	ClientID          uuid.UUID
	PipelineID        uuid.UUID
	StageID           uuid.UUID
	PropertyID        *uuid.UUID
	RequestID         *uuid.UUID
	Notes             string
	Amount            *decimal.Decimal
	ExpectedCloseDate *time.Time
}

// NewDeal builds an open deal entering params.StageID at now. Client and stage
// existence, and the stage deadline, are the caller's responsibility.
func NewDeal(params DealParams, now time.Time) (*Deal, error) {
	title := strings.TrimSpace(params.Title)
	notes := strings.TrimSpace(params.Notes)
	if err := validateDealFields(title, notes); err != nil {
		return nil, err
	}
	return &Deal{
		ID:                uuid.New(),
		Title:             title,
		Notes:             notes,
		Amount:            params.Amount,
		ExpectedCloseDate: params.ExpectedCloseDate,
		CurrentStageID:    params.StageID,
		PipelineID:        params.PipelineID,
		ClientID:          params.ClientID,
		PropertyID:        params.PropertyID,
		RequestID:         params.RequestID,
		StageStartedAt:    now,
		CreatedAt:         now,
		IsActive:          true,
		Revision:          1,
	}, nil
}

func validateDealFields(title, notes string) error {
	if title == "" {
		return invalid("title", "deal title must not be empty")
	}
	if utf8.RuneCountInString(title) > MaxDealTitleLength {
		return invalid("title", "deal title must not exceed %d characters", MaxDealTitleLength)
	}
	if utf8.RuneCountInString(notes) > MaxDealNotesLength {
		return invalid("notes", "notes must not exceed %d characters", MaxDealNotesLength)
	}
	return nil
}

// DealChanges lists the editable descriptive fields. Nil means unchanged.
type DealChanges struct {
	Title             *string
	Notes             *string
	Amount            *decimal.Decimal
	ClearAmount       bool
	ExpectedCloseDate *time.Time
	PropertyID        *uuid.UUID
	RequestID         *uuid.UUID
}

// Apply edits the descriptive fields. The stage is only changed through MoveToStage.
func (d *Deal) Apply(c DealChanges, now time.Time) error {
	title, notes := d.Title, d.Notes
	if c.Title != nil {
		title = strings.TrimSpace(*c.Title)
	}
	if c.Notes != nil {
		notes = strings.TrimSpace(*c.Notes)
	}
	if err := validateDealFields(title, notes); err != nil {
		return err
	}

	d.Title, d.Notes = title, notes
	if c.ClearAmount {
		d.Amount = nil
	} else if c.Amount != nil {
		d.Amount = c.Amount
	}
	if c.ExpectedCloseDate != nil {
		d.ExpectedCloseDate = c.ExpectedCloseDate
	}
	if c.PropertyID != nil {
		d.PropertyID = c.PropertyID
	}
	if c.RequestID != nil {
		d.RequestID = c.RequestID
	}
	d.touch(now)
	return nil
}

// CalculateStageDeadline sets the deadline only for a positive duration; a
// zero-duration stage never becomes overdue.
func (d *Deal) CalculateStageDeadline(expected time.Duration) {
	if expected <= 0 {
		d.StageDeadline = nil
		return
	}
	deadline := d.StageStartedAt.Add(expected)
	d.StageDeadline = &deadline
}

// SetStageDeadline derives the deadline from stage; stages without an
// expected duration clear it.
func (d *Deal) SetStageDeadline(stage *Stage) {
	if !stage.HasDeadline() {
		d.StageDeadline = nil
		return
	}
	d.CalculateStageDeadline(stage.ExpectedDuration)
}

// MoveToStage records the transition in History and enters stage at now.
// Adjacency is not checked here; any stage of the same pipeline is accepted.
func (d *Deal) MoveToStage(stage *Stage, notes string, now time.Time) (HistoryEntry, error) {
	if stage == nil {
		return HistoryEntry{}, ErrInvalidArgument
	}
	if stage.PipelineID != d.PipelineID {
		return HistoryEntry{}, ErrCrossPipelineTransition
	}

	entry := newHistoryEntry(d.ID, d.CurrentStageID, stage.ID, d.TimeInCurrentStage(now), notes, now)
	d.History = append(d.History, entry)

	d.CurrentStageID = stage.ID
	d.StageStartedAt = now
	d.SetStageDeadline(stage)
	d.touch(now)
	return entry, nil
}

func (d *Deal) IsOverdue(now time.Time) bool {
	return d.StageDeadline != nil && now.After(*d.StageDeadline)
}

func (d *Deal) TimeInCurrentStage(now time.Time) time.Duration {
	elapsed := now.Sub(d.StageStartedAt)
	if elapsed < 0 {
		return 0
	}
	return elapsed
}

// Close marks the deal completed. Calling it again refreshes ClosedAt.
func (d *Deal) Close(now time.Time) {
	d.IsActive = false
	closed := now
	d.ClosedAt = &closed
	d.touch(now)
}

// Reopen returns the deal to its current stage as an open deal.
func (d *Deal) Reopen(now time.Time) {
	d.IsActive = true
	d.ClosedAt = nil
	d.touch(now)
}

func (d *Deal) touch(now time.Time) {
	t := now
	d.UpdatedAt = &t
}

// DealFilter selects deals for list queries. Zero fields match everything.
type DealFilter struct {
	ClientID      *uuid.UUID
	PipelineID    *uuid.UUID
	StageID       *uuid.UUID
	ActiveOnly    bool
	OverdueBefore *time.Time
}

// DealDetails attaches separately loaded read-only projections to a deal.
type DealDetails struct {
	Deal     *Deal          `json:"deal"`
	Pipeline *Pipeline      `json:"pipeline,omitempty"`
	Stage    *Stage         `json:"stage,omitempty"`
	History  []HistoryEntry `json:"history"`
}
