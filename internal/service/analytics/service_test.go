package analytics

import (
	"context"
	"testing"
	"time"

	"estatecrm/internal/model"
	"estatecrm/internal/store/memstore"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var t0 = time.Date(2024, 6, 3, 8, 0, 0, 0, time.UTC)

type env struct {
	ctx      context.Context
	st       *memstore.Store
	svc      *Service
	pipeline *model.Pipeline
	stages   []*model.Stage
	client   uuid.UUID
}

func newEnv(t *testing.T, now time.Time) *env {
	t.Helper()
	ctx := context.Background()
	st := memstore.New()
	p, err := model.NewPipeline("Purchase", "", t0)
	require.NoError(t, err)
	require.NoError(t, st.CreatePipeline(ctx, p))

	var stages []*model.Stage
	for i, name := range []string{"Contact", "Viewing"} {
		s, err := model.NewStage(p.ID, name, "", i, 24*time.Hour, t0)
		require.NoError(t, err)
		require.NoError(t, st.CreateStage(ctx, s))
		stages = append(stages, s)
	}
	client := uuid.New()
	require.NoError(t, st.UpsertClient(ctx, client, "Oleg"))

	return &env{
		ctx:      ctx,
		st:       st,
		svc:      NewService(st, func() time.Time { return now }, zap.NewNop()),
		pipeline: p,
		stages:   stages,
		client:   client,
	}
}

func (e *env) deal(t *testing.T, title string, stage int, amount int64, created time.Time) *model.Deal {
	t.Helper()
	params := model.DealParams{Title: title, ClientID: e.client, PipelineID: e.pipeline.ID, StageID: e.stages[stage].ID}
	if amount > 0 {
		a := decimal.NewFromInt(amount)
		params.Amount = &a
	}
	d, err := model.NewDeal(params, created)
	require.NoError(t, err)
	d.CalculateStageDeadline(e.stages[stage].ExpectedDuration)
	require.NoError(t, e.st.CreateDeal(e.ctx, d))
	return d
}

func TestDealAnalyticsEmptyPipeline(t *testing.T) {
	e := newEnv(t, t0)
	res, err := e.svc.DealAnalytics(e.ctx, e.pipeline.ID)
	require.NoError(t, err)
	assert.Zero(t, res.TotalDeals)
	assert.True(t, res.AverageDealAmount.IsZero())
	assert.Zero(t, res.AverageDealDuration)

	_, err = e.svc.DealAnalytics(e.ctx, uuid.New())
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestDealAnalytics(t *testing.T) {
	e := newEnv(t, t0.Add(72*time.Hour))
	e.deal(t, "Flat A", 0, 100, t0)
	e.deal(t, "Flat B", 1, 0, t0)
	closed := e.deal(t, "Flat C", 1, 200, t0)
	closed.Close(t0.Add(48 * time.Hour))
	require.NoError(t, e.st.UpdateDeal(e.ctx, closed, closed.Revision))

	res, err := e.svc.DealAnalytics(e.ctx, e.pipeline.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, res.TotalDeals)
	assert.Equal(t, 2, res.ActiveDeals)
	assert.Equal(t, 1, res.CompletedDeals)
	assert.True(t, decimal.NewFromInt(300).Equal(res.TotalDealAmount))
	// 300 over two active deals
	assert.Equal(t, "150", res.AverageDealAmount.String())
	assert.Equal(t, 48*time.Hour, res.AverageDealDuration)
	assert.Equal(t, model.DurationFromClosedDeals, res.DurationSource)
}

func TestStageAnalytics(t *testing.T) {
	now := t0.Add(30 * time.Hour)
	e := newEnv(t, now)
	e.deal(t, "Late", 0, 0, t0)
	e.deal(t, "Fresh", 0, 0, t0.Add(20*time.Hour))
	gone := e.deal(t, "Closed", 1, 0, t0)
	gone.Close(t0)
	require.NoError(t, e.st.UpdateDeal(e.ctx, gone, gone.Revision))

	require.NoError(t, e.st.AppendHistory(e.ctx, model.HistoryEntry{
		ID:          uuid.New(),
		DealID:      gone.ID,
		FromStageID: e.stages[0].ID,
		ToStageID:   e.stages[1].ID,
		ChangedAt:   t0,
		TimeInStage: 6 * time.Hour,
	}))

	rows, err := e.svc.StageAnalytics(e.ctx, e.pipeline.ID)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, "Contact", rows[0].StageName)
	assert.Equal(t, 2, rows[0].DealCount)
	assert.Equal(t, 1, rows[0].OverdueDeals)
	assert.Equal(t, 6*time.Hour, rows[0].AverageTimeInStage)

	assert.Equal(t, "Viewing", rows[1].StageName)
	assert.Zero(t, rows[1].DealCount, "closed deals are not counted")
}

func TestPropertyTypeAnalyticsByTitle(t *testing.T) {
	e := newEnv(t, t0)
	e.deal(t, "Квартира в новостройке", 0, 0, t0)
	e.deal(t, "Новостройка у метро", 0, 0, t0)
	e.deal(t, "Аренда студии", 0, 0, t0)
	e.deal(t, "Something else", 0, 0, t0)

	rows, err := e.svc.PropertyTypeAnalytics(e.ctx, e.pipeline.ID)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, TypeNewBuild, rows[0].PropertyType)
	assert.Equal(t, 2, rows[0].DealCount)
	assert.Equal(t, 50.0, rows[0].Percentage)
	assert.Equal(t, model.SourceTitleHeuristic, rows[0].Source)
	assert.Equal(t, TypeRent, rows[1].PropertyType)
	assert.Equal(t, TypeOther, rows[2].PropertyType)
	assert.Equal(t, 25.0, rows[2].Percentage)
}

func TestPropertyTypeAnalyticsByProperty(t *testing.T) {
	e := newEnv(t, t0)
	flat, house := uuid.New(), uuid.New()
	require.NoError(t, e.st.UpsertProperty(e.ctx, flat, TypeSecondary, "Flat"))
	require.NoError(t, e.st.UpsertProperty(e.ctx, house, TypeCountryside, "House"))

	link := func(d *model.Deal, id uuid.UUID) {
		d.PropertyID = &id
		require.NoError(t, e.st.UpdateDeal(e.ctx, d, d.Revision))
	}
	link(e.deal(t, "a", 0, 0, t0), flat)
	link(e.deal(t, "b", 0, 0, t0), flat)
	link(e.deal(t, "c", 0, 0, t0), house)
	e.deal(t, "аренда", 0, 0, t0)
	link(e.deal(t, "e", 0, 0, t0), uuid.New())
	e.deal(t, "f", 0, 0, t0)

	rows, err := e.svc.PropertyTypeAnalytics(e.ctx, e.pipeline.ID)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, TypeSecondary, rows[0].PropertyType)
	assert.Equal(t, 2, rows[0].DealCount)
	assert.Equal(t, 33.3, rows[0].Percentage)
	assert.Equal(t, model.SourceProperty, rows[0].Source)
	assert.Equal(t, TypeCountryside, rows[1].PropertyType)
	assert.Equal(t, TypeNone, rows[2].PropertyType)
	assert.Equal(t, 3, rows[2].DealCount)
	assert.Equal(t, "Без привязки к объекту", rows[2].DisplayName)
}

func TestPropertyTypeAnalyticsDanglingLinksFallBack(t *testing.T) {
	e := newEnv(t, t0)
	id := uuid.New()
	require.NoError(t, e.st.UpsertProperty(e.ctx, id, TypeInvest, "Office"))
	d := e.deal(t, "Коттедж у озера", 0, 0, t0)
	d.PropertyID = &id
	require.NoError(t, e.st.UpdateDeal(e.ctx, d, d.Revision))
	e.st.RemoveProperty(id)

	rows, err := e.svc.PropertyTypeAnalytics(e.ctx, e.pipeline.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, TypeCountryside, rows[0].PropertyType)
	assert.Equal(t, model.SourceTitleHeuristic, rows[0].Source)
}

func TestPropertyTypeAnalyticsEmpty(t *testing.T) {
	e := newEnv(t, t0)
	rows, err := e.svc.PropertyTypeAnalytics(e.ctx, e.pipeline.ID)
	require.NoError(t, err)
	assert.Empty(t, rows)
}
