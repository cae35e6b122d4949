package repository

import (
	"context"

	"estatecrm/internal/model"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

type PipelineRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewPipelineRepository(db *pgxpool.Pool, logger *zap.Logger) *PipelineRepository {
	return &PipelineRepository{db: db, logger: logger}
}

const selectPipelineSQL = `
	SELECT id, name, description, is_active, created_at, updated_at
	FROM pipelines
`

func scanPipeline(row pgx.Row) (model.Pipeline, error) {
	var p model.Pipeline
	err := row.Scan(
		&p.ID,
		&p.Name,
		&p.Description,
		&p.IsActive,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	return p, err
}

func (r *PipelineRepository) CreatePipeline(ctx context.Context, p *model.Pipeline) error {
	r.logger.Debug("Inserting pipeline", zap.String("pipeline_id", p.ID.String()), zap.String("name", p.Name))
	query := `
		INSERT INTO pipelines (id, name, description, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.db.Exec(ctx, query, p.ID, p.Name, p.Description, p.IsActive, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		r.logger.Error("Failed to insert pipeline", zap.String("name", p.Name), zap.Error(err))
		return translate(err, "pipeline", p.ID.String())
	}
	r.logger.Info("Pipeline inserted", zap.String("pipeline_id", p.ID.String()))
	return nil
}

func (r *PipelineRepository) UpdatePipeline(ctx context.Context, p *model.Pipeline) error {
	r.logger.Debug("Updating pipeline", zap.String("pipeline_id", p.ID.String()))
	query := `
		UPDATE pipelines
		SET name = $2, description = $3, is_active = $4, updated_at = $5
		WHERE id = $1
	`
	tag, err := r.db.Exec(ctx, query, p.ID, p.Name, p.Description, p.IsActive, p.UpdatedAt)
	if err != nil {
		r.logger.Error("Failed to update pipeline", zap.String("pipeline_id", p.ID.String()), zap.Error(err))
		return translate(err, "pipeline", p.ID.String())
	}
	if tag.RowsAffected() == 0 {
		return model.NotFound("pipeline", p.ID)
	}
	return nil
}

func (r *PipelineRepository) DeletePipeline(ctx context.Context, id uuid.UUID) error {
	r.logger.Debug("Deleting pipeline", zap.String("pipeline_id", id.String()))
	tag, err := r.db.Exec(ctx, `DELETE FROM pipelines WHERE id = $1`, id)
	if err != nil {
		r.logger.Error("Failed to delete pipeline", zap.String("pipeline_id", id.String()), zap.Error(err))
		return translate(err, "pipeline", id.String())
	}
	if tag.RowsAffected() == 0 {
		return model.NotFound("pipeline", id)
	}
	r.logger.Info("Pipeline deleted", zap.String("pipeline_id", id.String()))
	return nil
}

func (r *PipelineRepository) GetPipeline(ctx context.Context, id uuid.UUID) (*model.Pipeline, error) {
	p, err := scanPipeline(r.db.QueryRow(ctx, selectPipelineSQL+` WHERE id = $1`, id))
	if err != nil {
		return nil, translate(err, "pipeline", id.String())
	}
	return &p, nil
}

func (r *PipelineRepository) GetPipelineByName(ctx context.Context, name string) (*model.Pipeline, error) {
	p, err := scanPipeline(r.db.QueryRow(ctx, selectPipelineSQL+` WHERE name = $1`, name))
	if err != nil {
		return nil, translate(err, "pipeline", name)
	}
	return &p, nil
}

func (r *PipelineRepository) ListPipelines(ctx context.Context, activeOnly bool) ([]model.Pipeline, error) {
	query := selectPipelineSQL + ` WHERE ($1 = FALSE OR is_active) ORDER BY name`
	rows, err := r.db.Query(ctx, query, activeOnly)
	if err != nil {
		r.logger.Error("Failed to query pipelines", zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	pipelines := []model.Pipeline{}
	for rows.Next() {
		p, err := scanPipeline(rows)
		if err != nil {
			r.logger.Error("Failed to scan pipeline row", zap.Error(err))
			return nil, err
		}
		pipelines = append(pipelines, p)
	}
	return pipelines, rows.Err()
}
