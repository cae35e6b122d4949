package history

import (
	"context"
	"fmt"
	"time"

	"estatecrm/internal/model"
	"estatecrm/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	DefaultRecentLimit = 10
	MaxRecentLimit     = 1000
)

// Service answers queries over the append-only transition ledger.
type Service struct {
	history store.HistoryStore
	logger  *zap.Logger
}

func NewService(history store.HistoryStore, logger *zap.Logger) *Service {
	return &Service{history: history, logger: logger}
}

// Append records an entry produced outside a deal transition, e.g. an import.
func (s *Service) Append(ctx context.Context, e model.HistoryEntry) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if err := s.history.AppendHistory(ctx, e); err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	s.logger.Debug("History entry appended",
		zap.String("deal_id", e.DealID.String()),
		zap.String("to_stage_id", e.ToStageID.String()),
	)
	return nil
}

// ByDeal returns the transitions of one deal, newest first.
func (s *Service) ByDeal(ctx context.Context, dealID uuid.UUID) ([]model.HistoryEntry, error) {
	return s.history.HistoryByDeal(ctx, dealID)
}

// ByStage returns transitions into or out of the stage, newest first.
func (s *Service) ByStage(ctx context.Context, stageID uuid.UUID) ([]model.HistoryEntry, error) {
	return s.history.HistoryByStage(ctx, stageID)
}

// Recent returns the latest n transitions. n <= 0 means the default and
// anything above MaxRecentLimit is capped.
func (s *Service) Recent(ctx context.Context, n int) ([]model.HistoryEntry, error) {
	return s.history.RecentHistory(ctx, clampLimit(n))
}

// ByDateRange returns transitions with from <= changed_at <= to, newest first,
// limited to the most recent MaxRecentLimit.
func (s *Service) ByDateRange(ctx context.Context, from, to time.Time) ([]model.HistoryEntry, error) {
	if to.Before(from) {
		return nil, &model.ValidationError{Field: "to", Message: "range end precedes range start"}
	}
	return s.history.HistoryBetween(ctx, from, to, MaxRecentLimit)
}

// AverageTimeInStage is the mean time deals spent in the stage before leaving
// it. Entries with zero duration are ignored and no data yields zero.
func (s *Service) AverageTimeInStage(ctx context.Context, stageID uuid.UUID) (time.Duration, error) {
	return s.history.AverageTimeInStage(ctx, stageID)
}

func clampLimit(n int) int {
	switch {
	case n <= 0:
		return DefaultRecentLimit
	case n > MaxRecentLimit:
		return MaxRecentLimit
	}
	return n
}
