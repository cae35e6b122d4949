package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type DealAnalytics struct {
	PipelineID          uuid.UUID       `json:"pipeline_id"`
	TotalDeals          int             `json:"total_deals"`
	ActiveDeals         int             `json:"active_deals"`
	CompletedDeals      int             `json:"completed_deals"`
	TotalDealAmount     decimal.Decimal `json:"total_deal_amount"`
	AverageDealAmount   decimal.Decimal `json:"average_deal_amount"`
	AverageDealDuration time.Duration   `json:"average_deal_duration"`
	// DurationSource names how AverageDealDuration was derived.
	DurationSource string `json:"duration_source"`
}

const DurationFromClosedDeals = "closed_deals"

type StageAnalytics struct {
	StageID            uuid.UUID     `json:"stage_id"`
	StageName          string        `json:"stage_name"`
	Order              int           `json:"order"`
	DealCount          int           `json:"deal_count"`
	OverdueDeals       int           `json:"overdue_deals"`
	AverageTimeInStage time.Duration `json:"average_time_in_stage"`
}

// Property type classification sources.
const (
	SourceProperty       = "property"
	SourceTitleHeuristic = "title_heuristic"
)

type PropertyTypeAnalytics struct {
	PropertyType string  `json:"property_type"`
	DisplayName  string  `json:"display_name"`
	DealCount    int     `json:"deal_count"`
	Percentage   float64 `json:"percentage"`
	Source       string  `json:"source"`
}
