package outbox

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// ReplayService 把重试耗尽的事件重新放回待发送队列，由 Dispatcher 再次投递
type ReplayService struct {
	repo   *Repository
	logger *zap.Logger
}

func NewReplayService(repo *Repository, logger *zap.Logger) *ReplayService {
	return &ReplayService{repo: repo, logger: logger}
}

// ReplayEvent 重置单个事件
func (s *ReplayService) ReplayEvent(ctx context.Context, eventID int64) error {
	event, err := s.repo.GetEventByID(ctx, eventID)
	if err != nil {
		return err
	}
	if event.Status == StatusSent {
		return fmt.Errorf("event %d was already sent", eventID)
	}
	if err := s.repo.ResetEvent(ctx, eventID); err != nil {
		return err
	}
	s.logger.Info("Outbox event queued for replay",
		zap.Int64("event_id", eventID),
		zap.String("routing_key", event.RoutingKey),
	)
	return nil
}

// ReplayFailedEvents 重置最多 limit 个失败事件，返回成功重置的数量
func (s *ReplayService) ReplayFailedEvents(ctx context.Context, limit int) (int, error) {
	events, err := s.repo.GetFailedEvents(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to get failed events: %w", err)
	}

	replayed := 0
	for _, event := range events {
		if err := s.repo.ResetEvent(ctx, event.ID); err != nil {
			s.logger.Warn("Failed to reset outbox event",
				zap.Int64("event_id", event.ID),
				zap.Error(err),
			)
			continue
		}
		replayed++
	}

	s.logger.Info("Failed outbox events queued for replay",
		zap.Int("found", len(events)),
		zap.Int("replayed", replayed),
	)
	return replayed, nil
}
