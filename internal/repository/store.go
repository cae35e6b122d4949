package repository

import (
	"estatecrm/internal/store"
	"estatecrm/pkg/outbox"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

var _ store.Store = (*Store)(nil)

// Store is the PostgreSQL backend: one repository per table group.
type Store struct {
	*PipelineRepository
	*StageRepository
	*DealRepository
	*HistoryRepository
	*DirectoryRepository
}

func NewStore(db *pgxpool.Pool, outboxRepo *outbox.Repository, logger *zap.Logger) *Store {
	return &Store{
		PipelineRepository:  NewPipelineRepository(db, logger),
		StageRepository:     NewStageRepository(db, logger),
		DealRepository:      NewDealRepository(db, outboxRepo, logger),
		HistoryRepository:   NewHistoryRepository(db, logger),
		DirectoryRepository: NewDirectoryRepository(db, logger),
	}
}
