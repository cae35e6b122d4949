// Package store declares the persistence contracts the services depend on.
// internal/repository implements them on PostgreSQL and internal/store/memstore
// keeps everything in process memory.
package store

import (
	"context"
	"time"

	"estatecrm/internal/model"

	"github.com/google/uuid"
)

type PipelineStore interface {
	CreatePipeline(ctx context.Context, p *model.Pipeline) error
	UpdatePipeline(ctx context.Context, p *model.Pipeline) error
	// DeletePipeline removes the pipeline together with its stages.
	DeletePipeline(ctx context.Context, id uuid.UUID) error
	GetPipeline(ctx context.Context, id uuid.UUID) (*model.Pipeline, error)
	GetPipelineByName(ctx context.Context, name string) (*model.Pipeline, error)
	ListPipelines(ctx context.Context, activeOnly bool) ([]model.Pipeline, error)
}

type StageStore interface {
	CreateStage(ctx context.Context, s *model.Stage) error
	UpdateStage(ctx context.Context, s *model.Stage) error
	DeleteStage(ctx context.Context, id uuid.UUID) error
	GetStage(ctx context.Context, id uuid.UUID) (*model.Stage, error)
	ListStages(ctx context.Context) ([]model.Stage, error)
	// ListStagesByPipeline returns stages ordered by Order ascending.
	ListStagesByPipeline(ctx context.Context, pipelineID uuid.UUID) ([]model.Stage, error)
	// ReorderStages assigns the given orders atomically.
	ReorderStages(ctx context.Context, pipelineID uuid.UUID, orders map[uuid.UUID]int) error
}

// DealStore persists deals. Every write carries the events it produced so
// they are stored in the same transaction as the deal row.
type DealStore interface {
	CreateDeal(ctx context.Context, d *model.Deal, events ...model.Event) error
	// UpdateDeal writes d if the stored revision still equals expectedRevision
	// and returns model.ErrConcurrentModification otherwise. On success
	// d.Revision is advanced.
	UpdateDeal(ctx context.Context, d *model.Deal, expectedRevision int64, events ...model.Event) error
	// SaveTransition is UpdateDeal plus the history entry of the move.
	SaveTransition(ctx context.Context, d *model.Deal, expectedRevision int64, entry model.HistoryEntry, events ...model.Event) error
	DeleteDeal(ctx context.Context, id uuid.UUID) error
	GetDeal(ctx context.Context, id uuid.UUID) (*model.Deal, error)
	ListDeals(ctx context.Context, f model.DealFilter) ([]model.Deal, error)
}

type HistoryStore interface {
	AppendHistory(ctx context.Context, e model.HistoryEntry) error
	HistoryByDeal(ctx context.Context, dealID uuid.UUID) ([]model.HistoryEntry, error)
	// HistoryByStage matches entries where the stage is either side of the move.
	HistoryByStage(ctx context.Context, stageID uuid.UUID) ([]model.HistoryEntry, error)
	RecentHistory(ctx context.Context, limit int) ([]model.HistoryEntry, error)
	HistoryBetween(ctx context.Context, from, to time.Time, limit int) ([]model.HistoryEntry, error)
	// AverageTimeInStage averages positive time_in_stage over entries leaving stageID.
	AverageTimeInStage(ctx context.Context, stageID uuid.UUID) (time.Duration, error)
}

// ClientDirectory answers whether a client record exists.
type ClientDirectory interface {
	ClientExists(ctx context.Context, id uuid.UUID) (bool, error)
}

// PropertyDirectory resolves property types. Unknown ids are absent from the result.
type PropertyDirectory interface {
	PropertyTypes(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]string, error)
}

// DirectoryWriter registers the external client and property records deals
// point at.
type DirectoryWriter interface {
	UpsertClient(ctx context.Context, id uuid.UUID, fullName string) error
	UpsertProperty(ctx context.Context, id uuid.UUID, propertyType, title string) error
}

// EventPublisher delivers an event outside the deal write path.
type EventPublisher interface {
	PublishWithContext(ctx context.Context, routingKey string, payload any) error
}

// Store bundles every contract one backend provides.
type Store interface {
	PipelineStore
	StageStore
	DealStore
	HistoryStore
	ClientDirectory
	PropertyDirectory
	DirectoryWriter
}
