package deal

import (
	"context"
	"testing"
	"time"

	mqcontracts "estatecrm/contracts/mq"
	"estatecrm/internal/model"
	"estatecrm/internal/store/memstore"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func (c *clock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type fixture struct {
	ctx      context.Context
	st       *memstore.Store
	svc      *Service
	clock    *clock
	pipeline *model.Pipeline
	stages   []*model.Stage
	clientID uuid.UUID
}

// newFixture builds a pipeline with three stages (orders 0, 1, 2) where the
// first two carry a one day deadline.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	st := memstore.New()
	clk := &clock{now: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}

	p, err := model.NewPipeline("Purchase", "", clk.now)
	require.NoError(t, err)
	require.NoError(t, st.CreatePipeline(ctx, p))

	var stages []*model.Stage
	for i, name := range []string{"Contact", "Viewing", "Done"} {
		expected := 24 * time.Hour
		if i == 2 {
			expected = 0
		}
		s, err := model.NewStage(p.ID, name, "", i, expected, clk.now)
		require.NoError(t, err)
		require.NoError(t, st.CreateStage(ctx, s))
		stages = append(stages, s)
	}

	clientID := uuid.New()
	require.NoError(t, st.UpsertClient(ctx, clientID, "Ivan Petrov"))

	return &fixture{
		ctx:      ctx,
		st:       st,
		svc:      NewService(st, clk.Now, zap.NewNop()),
		clock:    clk,
		pipeline: p,
		stages:   stages,
		clientID: clientID,
	}
}

func (f *fixture) create(t *testing.T, stage int) *model.Deal {
	t.Helper()
	d, err := f.svc.Create(f.ctx, model.DealParams{
		Title:      "Flat on Tverskaya",
		ClientID:   f.clientID,
		PipelineID: f.pipeline.ID,
		StageID:    f.stages[stage].ID,
	})
	require.NoError(t, err)
	return d
}

func TestCreate(t *testing.T) {
	f := newFixture(t)
	amount := decimal.NewFromInt(9_500_000)

	d, err := f.svc.Create(f.ctx, model.DealParams{
		Title:      "Flat on Tverskaya",
		ClientID:   f.clientID,
		PipelineID: f.pipeline.ID,
		StageID:    f.stages[0].ID,
		Amount:     &amount,
	})
	require.NoError(t, err)

	require.NotNil(t, d.StageDeadline)
	assert.Equal(t, f.clock.now.Add(24*time.Hour), *d.StageDeadline)

	stored, err := f.svc.Get(f.ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, d.Title, stored.Title)
	assert.True(t, amount.Equal(*stored.Amount))

	events := f.st.Events()
	require.Len(t, events, 1)
	assert.Equal(t, mqcontracts.RoutingDealCreated, events[0].RoutingKey)
}

func TestCreateRejects(t *testing.T) {
	f := newFixture(t)
	other, err := model.NewPipeline("Rental", "", f.clock.now)
	require.NoError(t, err)
	require.NoError(t, f.st.CreatePipeline(f.ctx, other))

	tests := []struct {
		name   string
		params model.DealParams
		target error
	}{
		{
			name:   "unknown client",
			params: model.DealParams{Title: "x", ClientID: uuid.New(), PipelineID: f.pipeline.ID, StageID: f.stages[0].ID},
			target: model.ErrNotFound,
		},
		{
			name:   "unknown stage",
			params: model.DealParams{Title: "x", ClientID: f.clientID, PipelineID: f.pipeline.ID, StageID: uuid.New()},
			target: model.ErrNotFound,
		},
		{
			name:   "stage of another pipeline",
			params: model.DealParams{Title: "x", ClientID: f.clientID, PipelineID: other.ID, StageID: f.stages[0].ID},
			target: model.ErrValidation,
		},
		{
			name:   "empty title",
			params: model.DealParams{Title: "", ClientID: f.clientID, PipelineID: f.pipeline.ID, StageID: f.stages[0].ID},
			target: model.ErrValidation,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Create(f.ctx, tt.params)
			assert.ErrorIs(t, err, tt.target)
		})
	}
	assert.Empty(t, f.st.Events())
}

func TestMoveToStageForward(t *testing.T) {
	f := newFixture(t)
	d := f.create(t, 0)
	f.clock.Advance(3 * time.Hour)

	moved, err := f.svc.MoveToStage(f.ctx, d.ID, f.stages[1].ID, "viewing booked", nil)
	require.NoError(t, err)
	assert.Equal(t, f.stages[1].ID, moved.CurrentStageID)
	assert.Equal(t, int64(2), moved.Revision)
	assert.Equal(t, f.clock.now.Add(24*time.Hour), *moved.StageDeadline)

	hist, err := f.svc.GetWithHistory(f.ctx, d.ID)
	require.NoError(t, err)
	require.Len(t, hist.History, 1)
	assert.Equal(t, 3*time.Hour, hist.History[0].TimeInStage)
	assert.Equal(t, "viewing booked", hist.History[0].Notes)

	events := f.st.Events()
	require.Len(t, events, 2)
	assert.Equal(t, mqcontracts.RoutingDealStageChanged, events[1].RoutingKey)
	payload, ok := events[1].Payload.(mqcontracts.DealStageChangedPayload)
	require.True(t, ok)
	assert.False(t, payload.Backward)
	assert.Equal(t, int64(3*3600), payload.TimeInStageSeconds)
}

func TestMoveToStageIntoStageWithoutDeadline(t *testing.T) {
	f := newFixture(t)
	d := f.create(t, 1)

	moved, err := f.svc.MoveToStage(f.ctx, d.ID, f.stages[2].ID, "", nil)
	require.NoError(t, err)
	assert.Nil(t, moved.StageDeadline)
}

func TestMoveToStageBackward(t *testing.T) {
	f := newFixture(t)
	d := f.create(t, 1)

	moved, err := f.svc.MoveToStage(f.ctx, d.ID, f.stages[0].ID, "client hesitates", nil)
	require.NoError(t, err)
	assert.Equal(t, f.stages[0].ID, moved.CurrentStageID)

	payload := f.st.Events()[1].Payload.(mqcontracts.DealStageChangedPayload)
	assert.True(t, payload.Backward)
}

func TestMoveToStageRules(t *testing.T) {
	f := newFixture(t)
	d := f.create(t, 0)

	other, err := model.NewPipeline("Sale", "", f.clock.now)
	require.NoError(t, err)
	require.NoError(t, f.st.CreatePipeline(f.ctx, other))
	foreign, err := model.NewStage(other.ID, "Elsewhere", "", 1, 0, f.clock.now)
	require.NoError(t, err)
	require.NoError(t, f.st.CreateStage(f.ctx, foreign))

	tests := []struct {
		name    string
		stageID uuid.UUID
		target  error
	}{
		{"skip a stage", f.stages[2].ID, model.ErrSkippedStage},
		{"same stage", f.stages[0].ID, model.ErrNoOpTransition},
		{"other pipeline", foreign.ID, model.ErrCrossPipelineTransition},
		{"unknown stage", uuid.New(), model.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.MoveToStage(f.ctx, d.ID, tt.stageID, "", nil)
			assert.ErrorIs(t, err, tt.target)
			assert.ErrorIs(t, f.svc.ValidateTransition(f.ctx, d.ID, tt.stageID), tt.target)
		})
	}

	unchanged, err := f.svc.Get(f.ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, f.stages[0].ID, unchanged.CurrentStageID)
	assert.Equal(t, int64(1), unchanged.Revision)
}

func TestMoveToStageSkipBackward(t *testing.T) {
	f := newFixture(t)
	d := f.create(t, 0)

	_, err := f.svc.MoveToStage(f.ctx, d.ID, f.stages[1].ID, "", nil)
	require.NoError(t, err)
	_, err = f.svc.MoveToStage(f.ctx, d.ID, f.stages[2].ID, "", nil)
	require.NoError(t, err)

	_, err = f.svc.MoveToStage(f.ctx, d.ID, f.stages[0].ID, "", nil)
	assert.ErrorIs(t, err, model.ErrSkippedStage)

	current, err := f.svc.Get(f.ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, f.stages[2].ID, current.CurrentStageID)

	history, err := f.st.HistoryByDeal(f.ctx, d.ID)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestMoveToStageRepeatedIsNoOp(t *testing.T) {
	f := newFixture(t)
	d := f.create(t, 0)

	moved, err := f.svc.MoveToStage(f.ctx, d.ID, f.stages[1].ID, "", nil)
	require.NoError(t, err)

	_, err = f.svc.MoveToStage(f.ctx, d.ID, f.stages[1].ID, "", nil)
	assert.ErrorIs(t, err, model.ErrNoOpTransition)

	current, err := f.svc.Get(f.ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, moved.Revision, current.Revision)
}

func TestStaleWriteIsRejected(t *testing.T) {
	f := newFixture(t)
	d := f.create(t, 0)

	first, err := f.st.GetDeal(f.ctx, d.ID)
	require.NoError(t, err)
	second, err := f.st.GetDeal(f.ctx, d.ID)
	require.NoError(t, err)

	first.Title = "First writer"
	require.NoError(t, f.st.UpdateDeal(f.ctx, first, first.Revision))

	second.Title = "Second writer"
	err = f.st.UpdateDeal(f.ctx, second, second.Revision)
	assert.ErrorIs(t, err, model.ErrConcurrentModification)

	stored, err := f.svc.Get(f.ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, "First writer", stored.Title)
	assert.Equal(t, d.Revision+1, stored.Revision)
}

func TestMoveToStageUnknownDeal(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.MoveToStage(f.ctx, uuid.New(), f.stages[1].ID, "", nil)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestMoveToStageCurrentStageDeleted(t *testing.T) {
	f := newFixture(t)
	d := f.create(t, 0)

	// Simulate a dangling current stage reference.
	stored, err := f.st.GetDeal(f.ctx, d.ID)
	require.NoError(t, err)
	stored.CurrentStageID = uuid.New()
	require.NoError(t, f.st.UpdateDeal(f.ctx, stored, stored.Revision))

	_, err = f.svc.MoveToStage(f.ctx, d.ID, f.stages[1].ID, "", nil)
	assert.ErrorIs(t, err, model.ErrStageNotFound)
}

func TestExpectedRevision(t *testing.T) {
	f := newFixture(t)
	d := f.create(t, 0)

	stale := int64(7)
	_, err := f.svc.MoveToStage(f.ctx, d.ID, f.stages[1].ID, "", &stale)
	assert.ErrorIs(t, err, model.ErrConcurrentModification)

	current := d.Revision
	moved, err := f.svc.MoveToStage(f.ctx, d.ID, f.stages[1].ID, "", &current)
	require.NoError(t, err)

	_, err = f.svc.Close(f.ctx, d.ID, &current)
	assert.ErrorIs(t, err, model.ErrConcurrentModification, "revision moved on")

	_, err = f.svc.Close(f.ctx, d.ID, &moved.Revision)
	assert.NoError(t, err)
}

func TestCloseAndReopen(t *testing.T) {
	f := newFixture(t)
	d := f.create(t, 0)

	closed, err := f.svc.Close(f.ctx, d.ID, nil)
	require.NoError(t, err)
	assert.False(t, closed.IsActive)
	assert.NotNil(t, closed.ClosedAt)

	active, err := f.svc.ListActive(f.ctx)
	require.NoError(t, err)
	assert.Empty(t, active)

	reopened, err := f.svc.Reopen(f.ctx, d.ID, nil)
	require.NoError(t, err)
	assert.True(t, reopened.IsActive)
	assert.Nil(t, reopened.ClosedAt)

	var keys []string
	for _, e := range f.st.Events() {
		keys = append(keys, e.RoutingKey)
	}
	assert.Equal(t, []string{
		mqcontracts.RoutingDealCreated,
		mqcontracts.RoutingDealClosed,
		mqcontracts.RoutingDealReopened,
	}, keys)
}

func TestListQueries(t *testing.T) {
	f := newFixture(t)
	first := f.create(t, 0)
	f.clock.Advance(time.Minute)
	second := f.create(t, 1)
	f.clock.Advance(time.Minute)
	third := f.create(t, 1)
	_, err := f.svc.Close(f.ctx, third.ID, nil)
	require.NoError(t, err)

	byStage, err := f.svc.ListByStage(f.ctx, f.stages[1].ID)
	require.NoError(t, err)
	require.Len(t, byStage, 1, "closed deals are not listed by stage")
	assert.Equal(t, second.ID, byStage[0].ID)

	byPipeline, err := f.svc.ListByPipeline(f.ctx, f.pipeline.ID)
	require.NoError(t, err)
	require.Len(t, byPipeline, 3)
	assert.Equal(t, third.ID, byPipeline[0].ID, "newest first")

	byClient, err := f.svc.ListByClient(f.ctx, f.clientID)
	require.NoError(t, err)
	assert.Len(t, byClient, 3)

	f.clock.Advance(24*time.Hour + time.Minute)
	overdue, err := f.svc.ListOverdue(f.ctx)
	require.NoError(t, err)
	ids := []uuid.UUID{}
	for _, d := range overdue {
		ids = append(ids, d.ID)
	}
	assert.ElementsMatch(t, []uuid.UUID{first.ID, second.ID}, ids)
}

func TestUpdate(t *testing.T) {
	f := newFixture(t)
	d := f.create(t, 0)
	title := "Flat on Arbat"

	updated, err := f.svc.Update(f.ctx, d.ID, model.DealChanges{Title: &title}, nil)
	require.NoError(t, err)
	assert.Equal(t, title, updated.Title)
	assert.Equal(t, int64(2), updated.Revision)
	assert.Equal(t, f.stages[0].ID, updated.CurrentStageID)
}

func TestDetails(t *testing.T) {
	f := newFixture(t)
	d := f.create(t, 0)
	_, err := f.svc.MoveToStage(f.ctx, d.ID, f.stages[1].ID, "", nil)
	require.NoError(t, err)

	details, err := f.svc.Details(f.ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, f.pipeline.ID, details.Pipeline.ID)
	assert.Equal(t, f.stages[1].ID, details.Stage.ID)
	assert.Len(t, details.History, 1)
}

func TestDelete(t *testing.T) {
	f := newFixture(t)
	d := f.create(t, 0)
	_, err := f.svc.MoveToStage(f.ctx, d.ID, f.stages[1].ID, "", nil)
	require.NoError(t, err)

	require.NoError(t, f.svc.Delete(f.ctx, d.ID))
	_, err = f.svc.Get(f.ctx, d.ID)
	assert.ErrorIs(t, err, model.ErrNotFound)

	hist, err := f.st.HistoryByDeal(f.ctx, d.ID)
	require.NoError(t, err)
	assert.Empty(t, hist)

	assert.ErrorIs(t, f.svc.Delete(f.ctx, d.ID), model.ErrNotFound)
}
