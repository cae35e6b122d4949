package overdue

import (
	"context"
	"time"

	mqcontracts "estatecrm/contracts/mq"
	"estatecrm/internal/model"
	"estatecrm/internal/store"
	"estatecrm/pkg/metrics"
	"estatecrm/pkg/util"

	"go.uber.org/zap"
)

const dedupHandler = "deal.overdue"

// Scanner finds active deals past their stage deadline and announces each one
// once per deadline.
type Scanner struct {
	deals     store.DealStore
	publisher store.EventPublisher
	dedup     util.OnceGuard
	interval  time.Duration
	now       func() time.Time
	logger    *zap.Logger
}

func NewScanner(
	deals store.DealStore,
	publisher store.EventPublisher,
	dedup util.OnceGuard,
	interval time.Duration,
	now func() time.Time,
	logger *zap.Logger,
) *Scanner {
	return &Scanner{
		deals:     deals,
		publisher: publisher,
		dedup:     dedup,
		interval:  interval,
		now:       now,
		logger:    logger,
	}
}

// Start runs ScanOnce on every tick until ctx is done.
func (s *Scanner) Start(ctx context.Context) {
	s.logger.Info("Starting overdue scanner", zap.Duration("interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Overdue scanner stopped")
			return
		case <-ticker.C:
			if _, err := s.ScanOnce(ctx); err != nil {
				s.logger.Error("Overdue scan failed", zap.Error(err))
			}
		}
	}
}

// ScanOnce publishes deal.overdue for newly overdue deals and returns how
// many deals are overdue in total.
func (s *Scanner) ScanOnce(ctx context.Context) (int, error) {
	now := s.now()
	deals, err := s.deals.ListDeals(ctx, model.DealFilter{ActiveOnly: true, OverdueBefore: &now})
	if err != nil {
		return 0, err
	}
	metrics.SetOverdueDeals(len(deals))

	if len(deals) == 0 {
		s.logger.Debug("No overdue deals found")
		return 0, nil
	}

	published := 0
	for _, d := range deals {
		key := d.ID.String() + ":" + d.StageDeadline.UTC().Format(time.RFC3339)
		if !s.dedup.AcquireOnce(ctx, dedupHandler, key) {
			continue
		}

		payload := mqcontracts.DealOverduePayload{
			DealID:     d.ID.String(),
			PipelineID: d.PipelineID.String(),
			StageID:    d.CurrentStageID.String(),
			ClientID:   d.ClientID.String(),
			Title:      d.Title,
			Deadline:   *d.StageDeadline,
		}
		if err := s.publisher.PublishWithContext(ctx, mqcontracts.RoutingDealOverdue, payload); err != nil {
			s.logger.Error("Failed to publish deal.overdue event",
				zap.String("deal_id", d.ID.String()),
				zap.Error(err),
			)
			s.dedup.Release(ctx, dedupHandler, key)
			continue
		}
		published++
		s.logger.Info("Published deal.overdue event",
			zap.String("deal_id", d.ID.String()),
			zap.Time("deadline", *d.StageDeadline),
		)
	}

	s.logger.Info("Overdue check completed",
		zap.Int("overdue_count", len(deals)),
		zap.Int("published", published),
	)
	return len(deals), nil
}
