package repository

import (
	"context"
	"time"

	"estatecrm/internal/model"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

type HistoryRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewHistoryRepository(db *pgxpool.Pool, logger *zap.Logger) *HistoryRepository {
	return &HistoryRepository{db: db, logger: logger}
}

const insertHistorySQL = `
	INSERT INTO deal_stage_history (id, deal_id, from_stage_id, to_stage_id, notes, changed_at, time_in_stage_ms)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
`

const selectHistorySQL = `
	SELECT id, deal_id, from_stage_id, to_stage_id, notes, changed_at, time_in_stage_ms
	FROM deal_stage_history
`

// execer is satisfied by both the pool and a transaction.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func insertHistory(ctx context.Context, db execer, e model.HistoryEntry) error {
	_, err := db.Exec(ctx, insertHistorySQL,
		e.ID,
		e.DealID,
		e.FromStageID,
		e.ToStageID,
		e.Notes,
		e.ChangedAt,
		e.TimeInStage.Milliseconds(),
	)
	return err
}

func scanHistory(row pgx.Row) (model.HistoryEntry, error) {
	var (
		e  model.HistoryEntry
		ms int64
	)
	err := row.Scan(
		&e.ID,
		&e.DealID,
		&e.FromStageID,
		&e.ToStageID,
		&e.Notes,
		&e.ChangedAt,
		&ms,
	)
	e.TimeInStage = time.Duration(ms) * time.Millisecond
	return e, err
}

func (r *HistoryRepository) AppendHistory(ctx context.Context, e model.HistoryEntry) error {
	r.logger.Debug("Inserting history entry",
		zap.String("deal_id", e.DealID.String()),
		zap.String("to_stage_id", e.ToStageID.String()),
	)
	if err := insertHistory(ctx, r.db, e); err != nil {
		r.logger.Error("Failed to insert history entry", zap.String("deal_id", e.DealID.String()), zap.Error(err))
		if isForeignKeyViolation(err) {
			return model.NotFound("deal", e.DealID)
		}
		return err
	}
	return nil
}

func (r *HistoryRepository) HistoryByDeal(ctx context.Context, dealID uuid.UUID) ([]model.HistoryEntry, error) {
	return r.queryHistory(ctx, selectHistorySQL+` WHERE deal_id = $1 ORDER BY changed_at DESC`, dealID)
}

func (r *HistoryRepository) HistoryByStage(ctx context.Context, stageID uuid.UUID) ([]model.HistoryEntry, error) {
	return r.queryHistory(ctx,
		selectHistorySQL+` WHERE from_stage_id = $1 OR to_stage_id = $1 ORDER BY changed_at DESC`,
		stageID,
	)
}

func (r *HistoryRepository) RecentHistory(ctx context.Context, limit int) ([]model.HistoryEntry, error) {
	if limit <= 0 {
		return r.queryHistory(ctx, selectHistorySQL+` ORDER BY changed_at DESC`)
	}
	return r.queryHistory(ctx, selectHistorySQL+` ORDER BY changed_at DESC LIMIT $1`, limit)
}

func (r *HistoryRepository) HistoryBetween(ctx context.Context, from, to time.Time, limit int) ([]model.HistoryEntry, error) {
	query := selectHistorySQL + ` WHERE changed_at >= $1 AND changed_at <= $2 ORDER BY changed_at DESC`
	if limit <= 0 {
		return r.queryHistory(ctx, query, from, to)
	}
	return r.queryHistory(ctx, query+` LIMIT $3`, from, to, limit)
}

func (r *HistoryRepository) AverageTimeInStage(ctx context.Context, stageID uuid.UUID) (time.Duration, error) {
	var avgMs *float64
	err := r.db.QueryRow(ctx, `
		SELECT AVG(time_in_stage_ms)::float8
		FROM deal_stage_history
		WHERE from_stage_id = $1 AND time_in_stage_ms > 0
	`, stageID).Scan(&avgMs)
	if err != nil {
		r.logger.Error("Failed to average time in stage", zap.String("stage_id", stageID.String()), zap.Error(err))
		return 0, err
	}
	if avgMs == nil {
		return 0, nil
	}
	return time.Duration(*avgMs * float64(time.Millisecond)), nil
}

func (r *HistoryRepository) queryHistory(ctx context.Context, query string, args ...any) ([]model.HistoryEntry, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to query history", zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	entries := []model.HistoryEntry{}
	for rows.Next() {
		e, err := scanHistory(rows)
		if err != nil {
			r.logger.Error("Failed to scan history row", zap.Error(err))
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
