package repository

import (
	"context"
	"time"

	"estatecrm/internal/model"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

type StageRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewStageRepository(db *pgxpool.Pool, logger *zap.Logger) *StageRepository {
	return &StageRepository{db: db, logger: logger}
}

const selectStageSQL = `
	SELECT id, pipeline_id, name, description, "order", expected_duration_ms, created_at
	FROM stages
`

func scanStage(row pgx.Row) (model.Stage, error) {
	var (
		s          model.Stage
		durationMs int64
	)
	err := row.Scan(
		&s.ID,
		&s.PipelineID,
		&s.Name,
		&s.Description,
		&s.Order,
		&durationMs,
		&s.CreatedAt,
	)
	s.ExpectedDuration = time.Duration(durationMs) * time.Millisecond
	return s, err
}

func (r *StageRepository) CreateStage(ctx context.Context, s *model.Stage) error {
	r.logger.Debug("Inserting stage",
		zap.String("pipeline_id", s.PipelineID.String()),
		zap.String("name", s.Name),
		zap.Int("order", s.Order),
	)
	query := `
		INSERT INTO stages (id, pipeline_id, name, description, "order", expected_duration_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.db.Exec(ctx, query,
		s.ID,
		s.PipelineID,
		s.Name,
		s.Description,
		s.Order,
		s.ExpectedDuration.Milliseconds(),
		s.CreatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to insert stage", zap.String("stage_id", s.ID.String()), zap.Error(err))
		return translate(err, "stage", s.PipelineID.String())
	}
	r.logger.Info("Stage inserted", zap.String("stage_id", s.ID.String()))
	return nil
}

func (r *StageRepository) UpdateStage(ctx context.Context, s *model.Stage) error {
	r.logger.Debug("Updating stage", zap.String("stage_id", s.ID.String()))
	query := `
		UPDATE stages
		SET name = $2, description = $3, "order" = $4, expected_duration_ms = $5
		WHERE id = $1
	`
	tag, err := r.db.Exec(ctx, query, s.ID, s.Name, s.Description, s.Order, s.ExpectedDuration.Milliseconds())
	if err != nil {
		r.logger.Error("Failed to update stage", zap.String("stage_id", s.ID.String()), zap.Error(err))
		return translate(err, "stage", s.ID.String())
	}
	if tag.RowsAffected() == 0 {
		return model.NotFound("stage", s.ID)
	}
	return nil
}

func (r *StageRepository) DeleteStage(ctx context.Context, id uuid.UUID) error {
	r.logger.Debug("Deleting stage", zap.String("stage_id", id.String()))
	tag, err := r.db.Exec(ctx, `DELETE FROM stages WHERE id = $1`, id)
	if err != nil {
		r.logger.Warn("Failed to delete stage", zap.String("stage_id", id.String()), zap.Error(err))
		return translate(err, "stage", id.String())
	}
	if tag.RowsAffected() == 0 {
		return model.NotFound("stage", id)
	}
	r.logger.Info("Stage deleted", zap.String("stage_id", id.String()))
	return nil
}

func (r *StageRepository) GetStage(ctx context.Context, id uuid.UUID) (*model.Stage, error) {
	s, err := scanStage(r.db.QueryRow(ctx, selectStageSQL+` WHERE id = $1`, id))
	if err != nil {
		return nil, translate(err, "stage", id.String())
	}
	return &s, nil
}

func (r *StageRepository) ListStages(ctx context.Context) ([]model.Stage, error) {
	return r.queryStages(ctx, selectStageSQL+` ORDER BY pipeline_id, "order"`)
}

func (r *StageRepository) ListStagesByPipeline(ctx context.Context, pipelineID uuid.UUID) ([]model.Stage, error) {
	return r.queryStages(ctx, selectStageSQL+` WHERE pipeline_id = $1 ORDER BY "order"`, pipelineID)
}

func (r *StageRepository) queryStages(ctx context.Context, query string, args ...any) ([]model.Stage, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to query stages", zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	stages := []model.Stage{}
	for rows.Next() {
		s, err := scanStage(rows)
		if err != nil {
			r.logger.Error("Failed to scan stage row", zap.Error(err))
			return nil, err
		}
		stages = append(stages, s)
	}
	return stages, rows.Err()
}

// ReorderStages defers the (pipeline_id, order) constraint so orders can be
// swapped inside one transaction; a remaining collision fails the commit.
func (r *StageRepository) ReorderStages(ctx context.Context, pipelineID uuid.UUID, orders map[uuid.UUID]int) error {
	r.logger.Debug("Reordering stages",
		zap.String("pipeline_id", pipelineID.String()),
		zap.Int("count", len(orders)),
	)
	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SET CONSTRAINTS stages_pipeline_order_key DEFERRED`); err != nil {
			return err
		}
		for id, order := range orders {
			_, err := tx.Exec(ctx,
				`UPDATE stages SET "order" = $3 WHERE id = $1 AND pipeline_id = $2`,
				id, pipelineID, order,
			)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		r.logger.Error("Failed to reorder stages", zap.String("pipeline_id", pipelineID.String()), zap.Error(err))
		return translate(err, "pipeline", pipelineID.String())
	}
	r.logger.Info("Stages reordered", zap.String("pipeline_id", pipelineID.String()))
	return nil
}
