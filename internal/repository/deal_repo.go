package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"estatecrm/internal/model"
	"estatecrm/pkg/outbox"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const dealAggregate = "deal"

type DealRepository struct {
	db     *pgxpool.Pool
	outbox *outbox.Repository
	logger *zap.Logger
}

func NewDealRepository(db *pgxpool.Pool, outboxRepo *outbox.Repository, logger *zap.Logger) *DealRepository {
	return &DealRepository{db: db, outbox: outboxRepo, logger: logger}
}

const selectDealSQL = `
	SELECT id, title, notes, amount, expected_close_date, current_stage_id, pipeline_id,
	       client_id, property_id, request_id, stage_started_at, stage_deadline,
	       created_at, updated_at, closed_at, is_active, revision
	FROM deals
`

func scanDeal(row pgx.Row) (model.Deal, error) {
	var (
		d      model.Deal
		amount decimal.NullDecimal
	)
	err := row.Scan(
		&d.ID,
		&d.Title,
		&d.Notes,
		&amount,
		&d.ExpectedCloseDate,
		&d.CurrentStageID,
		&d.PipelineID,
		&d.ClientID,
		&d.PropertyID,
		&d.RequestID,
		&d.StageStartedAt,
		&d.StageDeadline,
		&d.CreatedAt,
		&d.UpdatedAt,
		&d.ClosedAt,
		&d.IsActive,
		&d.Revision,
	)
	if amount.Valid {
		d.Amount = &amount.Decimal
	}
	return d, err
}

func nullAmount(a *decimal.Decimal) decimal.NullDecimal {
	if a == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *a, Valid: true}
}

func (r *DealRepository) CreateDeal(ctx context.Context, d *model.Deal, events ...model.Event) error {
	r.logger.Debug("Inserting deal",
		zap.String("deal_id", d.ID.String()),
		zap.String("stage_id", d.CurrentStageID.String()),
	)
	query := `
		INSERT INTO deals (id, title, notes, amount, expected_close_date, current_stage_id, pipeline_id,
		                   client_id, property_id, request_id, stage_started_at, stage_deadline,
		                   created_at, updated_at, closed_at, is_active, revision)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`
	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, query,
			d.ID,
			d.Title,
			d.Notes,
			nullAmount(d.Amount),
			d.ExpectedCloseDate,
			d.CurrentStageID,
			d.PipelineID,
			d.ClientID,
			d.PropertyID,
			d.RequestID,
			d.StageStartedAt,
			d.StageDeadline,
			d.CreatedAt,
			d.UpdatedAt,
			d.ClosedAt,
			d.IsActive,
			d.Revision,
		)
		if err != nil {
			return err
		}
		return r.insertEvents(ctx, tx, d.ID, events)
	})
	if err != nil {
		r.logger.Error("Failed to insert deal", zap.String("deal_id", d.ID.String()), zap.Error(err))
		return translate(err, "stage", d.CurrentStageID.String())
	}
	r.logger.Info("Deal inserted",
		zap.String("deal_id", d.ID.String()),
		zap.Int("events", len(events)),
	)
	return nil
}

func (r *DealRepository) UpdateDeal(ctx context.Context, d *model.Deal, expectedRevision int64, events ...model.Event) error {
	return r.save(ctx, d, expectedRevision, nil, events)
}

func (r *DealRepository) SaveTransition(ctx context.Context, d *model.Deal, expectedRevision int64, entry model.HistoryEntry, events ...model.Event) error {
	return r.save(ctx, d, expectedRevision, &entry, events)
}

// save writes the deal row guarded by its revision, then the optional history
// entry and the events, all in one transaction.
func (r *DealRepository) save(ctx context.Context, d *model.Deal, expectedRevision int64, entry *model.HistoryEntry, events []model.Event) error {
	r.logger.Debug("Updating deal",
		zap.String("deal_id", d.ID.String()),
		zap.Int64("expected_revision", expectedRevision),
	)
	query := `
		UPDATE deals
		SET title = $3, notes = $4, amount = $5, expected_close_date = $6, current_stage_id = $7,
		    property_id = $8, request_id = $9, stage_started_at = $10, stage_deadline = $11,
		    updated_at = $12, closed_at = $13, is_active = $14, revision = revision + 1
		WHERE id = $1 AND revision = $2
	`
	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, query,
			d.ID,
			expectedRevision,
			d.Title,
			d.Notes,
			nullAmount(d.Amount),
			d.ExpectedCloseDate,
			d.CurrentStageID,
			d.PropertyID,
			d.RequestID,
			d.StageStartedAt,
			d.StageDeadline,
			d.UpdatedAt,
			d.ClosedAt,
			d.IsActive,
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return r.missingOrStale(ctx, tx, d.ID)
		}
		if entry != nil {
			if err := insertHistory(ctx, tx, *entry); err != nil {
				return err
			}
		}
		return r.insertEvents(ctx, tx, d.ID, events)
	})
	if err != nil {
		if errors.Is(err, model.ErrConcurrentModification) {
			r.logger.Info("Deal revision conflict",
				zap.String("deal_id", d.ID.String()),
				zap.Int64("expected_revision", expectedRevision),
			)
			return err
		}
		r.logger.Error("Failed to update deal", zap.String("deal_id", d.ID.String()), zap.Error(err))
		return translate(err, "deal", d.ID.String())
	}

	d.Revision = expectedRevision + 1
	r.logger.Info("Deal updated",
		zap.String("deal_id", d.ID.String()),
		zap.Int64("revision", d.Revision),
		zap.Bool("transition", entry != nil),
	)
	return nil
}

// missingOrStale tells a deleted deal apart from a revision mismatch.
func (r *DealRepository) missingOrStale(ctx context.Context, tx pgx.Tx, id uuid.UUID) error {
	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM deals WHERE id = $1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return model.NotFound("deal", id)
	}
	return model.ErrConcurrentModification
}

func (r *DealRepository) insertEvents(ctx context.Context, tx pgx.Tx, dealID uuid.UUID, events []model.Event) error {
	for _, ev := range events {
		e, err := outbox.NewEvent(dealAggregate, dealID.String(), ev.RoutingKey, ev.Payload)
		if err != nil {
			return err
		}
		if err := r.outbox.InsertEvent(ctx, tx, e); err != nil {
			return err
		}
		r.logger.Debug("Inserted event to outbox",
			zap.Int64("event_id", e.ID),
			zap.String("routing_key", e.RoutingKey),
		)
	}
	return nil
}

func (r *DealRepository) DeleteDeal(ctx context.Context, id uuid.UUID) error {
	r.logger.Debug("Deleting deal", zap.String("deal_id", id.String()))
	tag, err := r.db.Exec(ctx, `DELETE FROM deals WHERE id = $1`, id)
	if err != nil {
		r.logger.Error("Failed to delete deal", zap.String("deal_id", id.String()), zap.Error(err))
		return err
	}
	if tag.RowsAffected() == 0 {
		return model.NotFound("deal", id)
	}
	r.logger.Info("Deal deleted", zap.String("deal_id", id.String()))
	return nil
}

func (r *DealRepository) GetDeal(ctx context.Context, id uuid.UUID) (*model.Deal, error) {
	d, err := scanDeal(r.db.QueryRow(ctx, selectDealSQL+` WHERE id = $1`, id))
	if err != nil {
		return nil, translate(err, "deal", id.String())
	}
	return &d, nil
}

func (r *DealRepository) ListDeals(ctx context.Context, f model.DealFilter) ([]model.Deal, error) {
	query, args := dealFilterSQL(f)
	r.logger.Debug("Listing deals", zap.String("where", query))

	rows, err := r.db.Query(ctx, selectDealSQL+query+` ORDER BY created_at DESC`, args...)
	if err != nil {
		r.logger.Error("Failed to query deals", zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	deals := []model.Deal{}
	for rows.Next() {
		d, err := scanDeal(rows)
		if err != nil {
			r.logger.Error("Failed to scan deal row", zap.Error(err))
			return nil, err
		}
		deals = append(deals, d)
	}
	return deals, rows.Err()
}

// dealFilterSQL builds the WHERE clause for f.
func dealFilterSQL(f model.DealFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if f.ClientID != nil {
		add("client_id = $%d", *f.ClientID)
	}
	if f.PipelineID != nil {
		add("pipeline_id = $%d", *f.PipelineID)
	}
	if f.StageID != nil {
		add("current_stage_id = $%d", *f.StageID)
	}
	if f.ActiveOnly {
		conds = append(conds, "is_active")
	}
	if f.OverdueBefore != nil {
		add("stage_deadline < $%d", f.OverdueBefore.UTC().Truncate(time.Microsecond))
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}
