package mqhandler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	mqcontracts "estatecrm/contracts/mq"
	"estatecrm/internal/model"
	"estatecrm/internal/store"
	"estatecrm/pkg/logger"
	"estatecrm/pkg/metrics"
	"estatecrm/pkg/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const notifyHandler = "deal.overdue.notify"

// Notifier receives the deal events that need a human's attention.
type Notifier interface {
	NotifyOverdue(ctx context.Context, d *model.Deal, deadline time.Time) error
}

// DealEventHandler consumes the deal.* events published through the outbox.
// Every handler is idempotent: replays are dropped by the dedup guard.
type DealEventHandler struct {
	deals    store.DealStore
	dedup    util.OnceGuard
	notifier Notifier
	logger   *zap.Logger
}

func NewDealEventHandler(deals store.DealStore, dedup util.OnceGuard, notifier Notifier, logger *zap.Logger) *DealEventHandler {
	return &DealEventHandler{
		deals:    deals,
		dedup:    dedup,
		notifier: notifier,
		logger:   logger,
	}
}

// Routes maps each routing key to its handler.
func (h *DealEventHandler) Routes() map[string]func(context.Context, json.RawMessage) error {
	return map[string]func(context.Context, json.RawMessage) error{
		mqcontracts.RoutingDealCreated:      h.HandleCreated,
		mqcontracts.RoutingDealStageChanged: h.HandleStageChanged,
		mqcontracts.RoutingDealClosed:       h.HandleStatus,
		mqcontracts.RoutingDealReopened:     h.HandleStatus,
		mqcontracts.RoutingDealOverdue:      h.HandleOverdue,
	}
}

func decode(raw json.RawMessage, v any) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return util.Permanent(fmt.Errorf("failed to unmarshal payload: %w", err))
	}
	return nil
}

func parseDealID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, util.Permanent(fmt.Errorf("invalid deal_id %q: %w", s, err))
	}
	return id, nil
}

func (h *DealEventHandler) HandleCreated(ctx context.Context, raw json.RawMessage) error {
	var p mqcontracts.DealCreatedPayload
	if err := decode(raw, &p); err != nil {
		return err
	}
	if _, err := parseDealID(p.DealID); err != nil {
		return err
	}
	if !h.dedup.AcquireOnce(ctx, mqcontracts.RoutingDealCreated, p.DealID) {
		return nil
	}

	metrics.RecordLifecycle("consumed_created")
	logger.WithTrace(ctx, h.logger).Info("Handling deal.created event",
		zap.String("deal_id", p.DealID),
		zap.String("pipeline_id", p.PipelineID),
		zap.String("stage_id", p.StageID),
		zap.String("title", p.Title),
	)
	return nil
}

func (h *DealEventHandler) HandleStageChanged(ctx context.Context, raw json.RawMessage) error {
	var p mqcontracts.DealStageChangedPayload
	if err := decode(raw, &p); err != nil {
		return err
	}
	if _, err := parseDealID(p.DealID); err != nil {
		return err
	}
	key := p.DealID + ":" + p.ToStageID + ":" + p.ChangedAt.UTC().Format(time.RFC3339Nano)
	if !h.dedup.AcquireOnce(ctx, mqcontracts.RoutingDealStageChanged, key) {
		return nil
	}

	log := logger.WithTrace(ctx, h.logger).With(
		zap.String("deal_id", p.DealID),
		zap.String("from_stage_id", p.FromStageID),
		zap.String("to_stage_id", p.ToStageID),
		zap.Int64("time_in_stage_seconds", p.TimeInStageSeconds),
	)
	if p.Backward {
		log.Warn("Handling backward deal.stage_changed event")
		return nil
	}
	log.Info("Handling deal.stage_changed event")
	return nil
}

// HandleStatus serves both deal.closed and deal.reopened.
func (h *DealEventHandler) HandleStatus(ctx context.Context, raw json.RawMessage) error {
	var p mqcontracts.DealStatusPayload
	if err := decode(raw, &p); err != nil {
		return err
	}
	if _, err := parseDealID(p.DealID); err != nil {
		return err
	}
	key := fmt.Sprintf("%s:%t:%s", p.DealID, p.IsActive, p.At.UTC().Format(time.RFC3339Nano))
	if !h.dedup.AcquireOnce(ctx, "deal.status", key) {
		return nil
	}

	event := "consumed_closed"
	if p.IsActive {
		event = "consumed_reopened"
	}
	metrics.RecordLifecycle(event)
	logger.WithTrace(ctx, h.logger).Info("Handling deal status event",
		zap.String("deal_id", p.DealID),
		zap.Bool("is_active", p.IsActive),
		zap.Time("at", p.At),
	)
	return nil
}

// HandleOverdue re-reads the deal and notifies only while it is still sitting
// on the stage whose deadline passed.
func (h *DealEventHandler) HandleOverdue(ctx context.Context, raw json.RawMessage) error {
	var p mqcontracts.DealOverduePayload
	if err := decode(raw, &p); err != nil {
		return err
	}
	dealID, err := parseDealID(p.DealID)
	if err != nil {
		return err
	}
	log := logger.WithTrace(ctx, h.logger).With(zap.String("deal_id", p.DealID))

	d, err := h.deals.GetDeal(ctx, dealID)
	if errors.Is(err, model.ErrNotFound) {
		log.Info("Overdue deal no longer exists, skipping")
		return nil
	}
	if err != nil {
		return err
	}

	if !d.IsActive || d.CurrentStageID.String() != p.StageID || d.StageDeadline == nil || !d.StageDeadline.Equal(p.Deadline) {
		log.Info("Overdue event is stale, skipping",
			zap.Bool("is_active", d.IsActive),
			zap.String("current_stage_id", d.CurrentStageID.String()),
		)
		return nil
	}

	key := p.DealID + ":" + p.Deadline.UTC().Format(time.RFC3339)
	if !h.dedup.AcquireOnce(ctx, notifyHandler, key) {
		return nil
	}
	if err := h.notifier.NotifyOverdue(ctx, d, p.Deadline); err != nil {
		log.Error("Failed to notify about overdue deal", zap.Error(err))
		h.dedup.Release(ctx, notifyHandler, key)
		return err
	}
	metrics.RecordLifecycle("overdue_notified")
	return nil
}

// LogNotifier writes overdue notices to the log.
type LogNotifier struct {
	logger *zap.Logger
	now    func() time.Time
}

func NewLogNotifier(logger *zap.Logger, now func() time.Time) *LogNotifier {
	return &LogNotifier{logger: logger, now: now}
}

func (n *LogNotifier) NotifyOverdue(ctx context.Context, d *model.Deal, deadline time.Time) error {
	logger.WithTrace(ctx, n.logger).Warn("Deal is overdue",
		zap.String("deal_id", d.ID.String()),
		zap.String("title", d.Title),
		zap.String("client_id", d.ClientID.String()),
		zap.String("stage_id", d.CurrentStageID.String()),
		zap.Time("deadline", deadline),
		zap.Duration("overdue_by", n.now().Sub(deadline)),
	)
	return nil
}
