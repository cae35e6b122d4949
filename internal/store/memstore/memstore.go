// Package memstore is the in-memory backend used by the local storage mode and
// by service tests. It enforces the same uniqueness and revision rules as the
// PostgreSQL schema.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"estatecrm/internal/model"
	"estatecrm/internal/store"

	"github.com/google/uuid"
)

var (
	_ store.Store          = (*Store)(nil)
	_ store.EventPublisher = (*Store)(nil)
)

type Store struct {
	mu         sync.RWMutex
	pipelines  map[uuid.UUID]model.Pipeline
	stages     map[uuid.UUID]model.Stage
	deals      map[uuid.UUID]model.Deal
	history    []model.HistoryEntry
	clients    map[uuid.UUID]struct{}
	properties map[uuid.UUID]string
	events     []model.Event
}

func New() *Store {
	return &Store{
		pipelines:  make(map[uuid.UUID]model.Pipeline),
		stages:     make(map[uuid.UUID]model.Stage),
		deals:      make(map[uuid.UUID]model.Deal),
		clients:    make(map[uuid.UUID]struct{}),
		properties: make(map[uuid.UUID]string),
	}
}

func (s *Store) UpsertClient(_ context.Context, id uuid.UUID, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[id] = struct{}{}
	return nil
}

func (s *Store) UpsertProperty(_ context.Context, id uuid.UUID, propertyType, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.properties[id] = propertyType
	return nil
}

func (s *Store) RemoveProperty(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.properties, id)
}

// Events returns every event written with a deal or published directly.
func (s *Store) Events() []model.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Event, len(s.events))
	copy(out, s.events)
	return out
}

func (s *Store) PublishWithContext(_ context.Context, routingKey string, payload any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, model.Event{RoutingKey: routingKey, Payload: payload})
	return nil
}

// pipelines

func (s *Store) CreatePipeline(_ context.Context, p *model.Pipeline) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.nameTaken(p.Name, uuid.Nil) {
		return model.ErrDuplicateName
	}
	cp := *p
	cp.Stages = nil
	s.pipelines[p.ID] = cp
	return nil
}

func (s *Store) UpdatePipeline(_ context.Context, p *model.Pipeline) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pipelines[p.ID]; !ok {
		return model.NotFound("pipeline", p.ID)
	}
	if s.nameTaken(p.Name, p.ID) {
		return model.ErrDuplicateName
	}
	cp := *p
	cp.Stages = nil
	s.pipelines[p.ID] = cp
	return nil
}

func (s *Store) nameTaken(name string, except uuid.UUID) bool {
	for id, p := range s.pipelines {
		if id != except && p.Name == name {
			return true
		}
	}
	return false
}

func (s *Store) DeletePipeline(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pipelines[id]; !ok {
		return model.NotFound("pipeline", id)
	}
	delete(s.pipelines, id)
	for sid, st := range s.stages {
		if st.PipelineID == id {
			delete(s.stages, sid)
		}
	}
	for did, d := range s.deals {
		if d.PipelineID == id {
			s.deleteDealLocked(did)
		}
	}
	return nil
}

func (s *Store) GetPipeline(_ context.Context, id uuid.UUID) (*model.Pipeline, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.pipelines[id]
	if !ok {
		return nil, model.NotFound("pipeline", id)
	}
	return &p, nil
}

func (s *Store) GetPipelineByName(_ context.Context, name string) (*model.Pipeline, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.pipelines {
		if p.Name == name {
			cp := p
			return &cp, nil
		}
	}
	return nil, &model.NotFoundError{Kind: "pipeline", ID: name}
}

func (s *Store) ListPipelines(_ context.Context, activeOnly bool) ([]model.Pipeline, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Pipeline, 0, len(s.pipelines))
	for _, p := range s.pipelines {
		if activeOnly && !p.IsActive {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// stages

func (s *Store) CreateStage(_ context.Context, st *model.Stage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pipelines[st.PipelineID]; !ok {
		return model.NotFound("pipeline", st.PipelineID)
	}
	if s.orderTaken(st.PipelineID, st.Order, uuid.Nil) {
		return model.ErrDuplicateStageOrder
	}
	s.stages[st.ID] = *st
	return nil
}

func (s *Store) UpdateStage(_ context.Context, st *model.Stage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.stages[st.ID]; !ok {
		return model.NotFound("stage", st.ID)
	}
	if s.orderTaken(st.PipelineID, st.Order, st.ID) {
		return model.ErrDuplicateStageOrder
	}
	s.stages[st.ID] = *st
	return nil
}

func (s *Store) orderTaken(pipelineID uuid.UUID, order int, except uuid.UUID) bool {
	for id, st := range s.stages {
		if id != except && st.PipelineID == pipelineID && st.Order == order {
			return true
		}
	}
	return false
}

func (s *Store) DeleteStage(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.stages[id]; !ok {
		return model.NotFound("stage", id)
	}
	for _, d := range s.deals {
		if d.CurrentStageID == id {
			return model.ErrStageInUse
		}
	}
	delete(s.stages, id)
	return nil
}

func (s *Store) GetStage(_ context.Context, id uuid.UUID) (*model.Stage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.stages[id]
	if !ok {
		return nil, model.NotFound("stage", id)
	}
	return &st, nil
}

func (s *Store) ListStages(_ context.Context) ([]model.Stage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Stage, 0, len(s.stages))
	for _, st := range s.stages {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PipelineID != out[j].PipelineID {
			return out[i].PipelineID.String() < out[j].PipelineID.String()
		}
		return out[i].Order < out[j].Order
	})
	return out, nil
}

func (s *Store) ListStagesByPipeline(_ context.Context, pipelineID uuid.UUID) ([]model.Stage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stagesOf(pipelineID), nil
}

func (s *Store) stagesOf(pipelineID uuid.UUID) []model.Stage {
	out := []model.Stage{}
	for _, st := range s.stages {
		if st.PipelineID == pipelineID {
			out = append(out, st)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}

func (s *Store) ReorderStages(_ context.Context, pipelineID uuid.UUID, orders map[uuid.UUID]int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make(map[uuid.UUID]int)
	for _, st := range s.stagesOf(pipelineID) {
		next[st.ID] = st.Order
	}
	for id, order := range orders {
		if _, ok := next[id]; ok {
			next[id] = order
		}
	}
	seen := make(map[int]bool, len(next))
	for _, order := range next {
		if seen[order] {
			return model.ErrDuplicateStageOrder
		}
		seen[order] = true
	}
	for id, order := range next {
		st := s.stages[id]
		st.Order = order
		s.stages[id] = st
	}
	return nil
}

// deals

func (s *Store) CreateDeal(_ context.Context, d *model.Deal, events ...model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.stages[d.CurrentStageID]; !ok {
		return model.NotFound("stage", d.CurrentStageID)
	}
	s.deals[d.ID] = stripHistory(*d)
	s.events = append(s.events, events...)
	return nil
}

func (s *Store) UpdateDeal(_ context.Context, d *model.Deal, expectedRevision int64, events ...model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.casLocked(d, expectedRevision); err != nil {
		return err
	}
	s.events = append(s.events, events...)
	return nil
}

func (s *Store) SaveTransition(_ context.Context, d *model.Deal, expectedRevision int64, entry model.HistoryEntry, events ...model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.casLocked(d, expectedRevision); err != nil {
		return err
	}
	s.history = append(s.history, entry)
	s.events = append(s.events, events...)
	return nil
}

func (s *Store) casLocked(d *model.Deal, expectedRevision int64) error {
	cur, ok := s.deals[d.ID]
	if !ok {
		return model.NotFound("deal", d.ID)
	}
	if cur.Revision != expectedRevision {
		return model.ErrConcurrentModification
	}
	d.Revision = expectedRevision + 1
	s.deals[d.ID] = stripHistory(*d)
	return nil
}

func (s *Store) DeleteDeal(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.deals[id]; !ok {
		return model.NotFound("deal", id)
	}
	s.deleteDealLocked(id)
	return nil
}

func (s *Store) deleteDealLocked(id uuid.UUID) {
	delete(s.deals, id)
	kept := s.history[:0]
	for _, e := range s.history {
		if e.DealID != id {
			kept = append(kept, e)
		}
	}
	s.history = kept
}

func (s *Store) GetDeal(_ context.Context, id uuid.UUID) (*model.Deal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.deals[id]
	if !ok {
		return nil, model.NotFound("deal", id)
	}
	return &d, nil
}

func (s *Store) ListDeals(_ context.Context, f model.DealFilter) ([]model.Deal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []model.Deal{}
	for _, d := range s.deals {
		if matches(d, f) {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func matches(d model.Deal, f model.DealFilter) bool {
	switch {
	case f.ClientID != nil && d.ClientID != *f.ClientID:
		return false
	case f.PipelineID != nil && d.PipelineID != *f.PipelineID:
		return false
	case f.StageID != nil && d.CurrentStageID != *f.StageID:
		return false
	case f.ActiveOnly && !d.IsActive:
		return false
	case f.OverdueBefore != nil && (d.StageDeadline == nil || !d.StageDeadline.Before(*f.OverdueBefore)):
		return false
	}
	return true
}

func stripHistory(d model.Deal) model.Deal {
	d.History = nil
	return d
}

// history

func (s *Store) AppendHistory(_ context.Context, e model.HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.deals[e.DealID]; !ok {
		return model.NotFound("deal", e.DealID)
	}
	s.history = append(s.history, e)
	return nil
}

func (s *Store) HistoryByDeal(_ context.Context, dealID uuid.UUID) ([]model.HistoryEntry, error) {
	return s.selectHistory(func(e model.HistoryEntry) bool { return e.DealID == dealID }, 0), nil
}

func (s *Store) HistoryByStage(_ context.Context, stageID uuid.UUID) ([]model.HistoryEntry, error) {
	return s.selectHistory(func(e model.HistoryEntry) bool {
		return e.FromStageID == stageID || e.ToStageID == stageID
	}, 0), nil
}

func (s *Store) RecentHistory(_ context.Context, limit int) ([]model.HistoryEntry, error) {
	return s.selectHistory(func(model.HistoryEntry) bool { return true }, limit), nil
}

func (s *Store) HistoryBetween(_ context.Context, from, to time.Time, limit int) ([]model.HistoryEntry, error) {
	return s.selectHistory(func(e model.HistoryEntry) bool {
		return !e.ChangedAt.Before(from) && !e.ChangedAt.After(to)
	}, limit), nil
}

// selectHistory returns matching entries newest first. limit <= 0 means all.
func (s *Store) selectHistory(keep func(model.HistoryEntry) bool, limit int) []model.HistoryEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []model.HistoryEntry{}
	for _, e := range s.history {
		if keep(e) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ChangedAt.After(out[j].ChangedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (s *Store) AverageTimeInStage(_ context.Context, stageID uuid.UUID) (time.Duration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var total time.Duration
	n := 0
	for _, e := range s.history {
		if e.FromStageID == stageID && e.TimeInStage > 0 {
			total += e.TimeInStage
			n++
		}
	}
	if n == 0 {
		return 0, nil
	}
	return total / time.Duration(n), nil
}

// directories

func (s *Store) ClientExists(_ context.Context, id uuid.UUID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.clients[id]
	return ok, nil
}

func (s *Store) PropertyTypes(_ context.Context, ids []uuid.UUID) (map[uuid.UUID]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[uuid.UUID]string, len(ids))
	for _, id := range ids {
		if t, ok := s.properties[id]; ok {
			out[id] = strings.TrimSpace(t)
		}
	}
	return out, nil
}
