package repository

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// DirectoryRepository reads the client and property catalogs owned by other
// parts of the CRM.
type DirectoryRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewDirectoryRepository(db *pgxpool.Pool, logger *zap.Logger) *DirectoryRepository {
	return &DirectoryRepository{db: db, logger: logger}
}

func (r *DirectoryRepository) ClientExists(ctx context.Context, id uuid.UUID) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM clients WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		r.logger.Error("Failed to check client", zap.String("client_id", id.String()), zap.Error(err))
		return false, err
	}
	return exists, nil
}

func (r *DirectoryRepository) PropertyTypes(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]string, error) {
	out := make(map[uuid.UUID]string, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	rows, err := r.db.Query(ctx, `SELECT id, type FROM properties WHERE id = ANY($1)`, ids)
	if err != nil {
		r.logger.Error("Failed to query property types", zap.Int("ids", len(ids)), zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id  uuid.UUID
			typ string
		)
		if err := rows.Scan(&id, &typ); err != nil {
			return nil, err
		}
		out[id] = strings.TrimSpace(typ)
	}
	return out, rows.Err()
}

// UpsertClient registers a client id or renames it.
func (r *DirectoryRepository) UpsertClient(ctx context.Context, id uuid.UUID, fullName string) error {
	r.logger.Debug("Upserting client", zap.String("client_id", id.String()))
	_, err := r.db.Exec(ctx, `
		INSERT INTO clients (id, full_name) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET full_name = EXCLUDED.full_name
	`, id, fullName)
	if err != nil {
		r.logger.Error("Failed to upsert client", zap.String("client_id", id.String()), zap.Error(err))
	}
	return err
}

// UpsertProperty registers a property and its type.
func (r *DirectoryRepository) UpsertProperty(ctx context.Context, id uuid.UUID, propertyType, title string) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO properties (id, type, title) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET type = EXCLUDED.type, title = EXCLUDED.title
	`, id, propertyType, title)
	if err != nil {
		r.logger.Error("Failed to upsert property", zap.String("property_id", id.String()), zap.Error(err))
	}
	return err
}
