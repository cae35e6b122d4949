package mq

import "time"

const (
	RoutingDealCreated      = "deal.created"
	RoutingDealStageChanged = "deal.stage_changed"
	RoutingDealClosed       = "deal.closed"
	RoutingDealReopened     = "deal.reopened"
	RoutingDealOverdue      = "deal.overdue"
)

type DealCreatedPayload struct {
	DealID     string    `json:"deal_id"`
	ClientID   string    `json:"client_id"`
	PipelineID string    `json:"pipeline_id"`
	StageID    string    `json:"stage_id"`
	Title      string    `json:"title"`
	CreatedAt  time.Time `json:"created_at"`
	TraceID    string    `json:"trace_id,omitempty"`
}

type DealStageChangedPayload struct {
	DealID             string    `json:"deal_id"`
	PipelineID         string    `json:"pipeline_id"`
	FromStageID        string    `json:"from_stage_id"`
	ToStageID          string    `json:"to_stage_id"`
	Backward           bool      `json:"backward"`
	TimeInStageSeconds int64     `json:"time_in_stage_seconds"`
	Notes              string    `json:"notes,omitempty"`
	ChangedAt          time.Time `json:"changed_at"`
	TraceID            string    `json:"trace_id,omitempty"`
}

// DealStatusPayload is shared by deal.closed and deal.reopened.
type DealStatusPayload struct {
	DealID     string    `json:"deal_id"`
	PipelineID string    `json:"pipeline_id"`
	StageID    string    `json:"stage_id"`
	IsActive   bool      `json:"is_active"`
	At         time.Time `json:"at"`
	TraceID    string    `json:"trace_id,omitempty"`
}

type DealOverduePayload struct {
	DealID     string    `json:"deal_id"`
	PipelineID string    `json:"pipeline_id"`
	StageID    string    `json:"stage_id"`
	ClientID   string    `json:"client_id"`
	Title      string    `json:"title"`
	Deadline   time.Time `json:"deadline"`
}
