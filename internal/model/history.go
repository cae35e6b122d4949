package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// HistoryEntry is an immutable snapshot of one stage transition.
type HistoryEntry struct {
	ID          uuid.UUID     `json:"id"`
	DealID      uuid.UUID     `json:"deal_id"`
	FromStageID uuid.UUID     `json:"from_stage_id"`
	ToStageID   uuid.UUID     `json:"to_stage_id"`
	Notes       string        `json:"notes,omitempty"`
	ChangedAt   time.Time     `json:"changed_at"`
	TimeInStage time.Duration `json:"time_in_stage"`
}

func newHistoryEntry(dealID, from, to uuid.UUID, timeInStage time.Duration, notes string, now time.Time) HistoryEntry {
	return HistoryEntry{
		ID:          uuid.New(),
		DealID:      dealID,
		FromStageID: from,
		ToStageID:   to,
		Notes:       strings.TrimSpace(notes),
		ChangedAt:   now,
		TimeInStage: timeInStage,
	}
}

