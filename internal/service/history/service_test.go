package history

import (
	"context"
	"testing"
	"time"

	"estatecrm/internal/model"
	"estatecrm/internal/store/memstore"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var t0 = time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)

// seedDeal stores a deal so history entries pass the deal existence check.
func seedDeal(t *testing.T, st *memstore.Store) (*model.Deal, uuid.UUID, uuid.UUID) {
	t.Helper()
	ctx := context.Background()
	p, err := model.NewPipeline("Rental", "", t0)
	require.NoError(t, err)
	require.NoError(t, st.CreatePipeline(ctx, p))
	a, err := model.NewStage(p.ID, "A", "", 0, 0, t0)
	require.NoError(t, err)
	require.NoError(t, st.CreateStage(ctx, a))
	b, err := model.NewStage(p.ID, "B", "", 1, 0, t0)
	require.NoError(t, err)
	require.NoError(t, st.CreateStage(ctx, b))

	d, err := model.NewDeal(model.DealParams{Title: "Studio", ClientID: uuid.New(), PipelineID: p.ID, StageID: a.ID}, t0)
	require.NoError(t, err)
	require.NoError(t, st.CreateDeal(ctx, d))
	return d, a.ID, b.ID
}

func TestAverageTimeInStage(t *testing.T) {
	st := memstore.New()
	svc := NewService(st, zap.NewNop())
	ctx := context.Background()
	d, a, b := seedDeal(t, st)

	for i, spent := range []time.Duration{0, 10 * time.Second, 20 * time.Second} {
		require.NoError(t, svc.Append(ctx, model.HistoryEntry{
			DealID:      d.ID,
			FromStageID: a,
			ToStageID:   b,
			ChangedAt:   t0.Add(time.Duration(i) * time.Minute),
			TimeInStage: spent,
		}))
	}

	avg, err := svc.AverageTimeInStage(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, 15*time.Second, avg, "zero durations are ignored")

	none, err := svc.AverageTimeInStage(ctx, b)
	require.NoError(t, err)
	assert.Zero(t, none)
}

func TestQueries(t *testing.T) {
	st := memstore.New()
	svc := NewService(st, zap.NewNop())
	ctx := context.Background()
	d, a, b := seedDeal(t, st)

	for i := 0; i < 15; i++ {
		from, to := a, b
		if i%2 == 1 {
			from, to = b, a
		}
		require.NoError(t, svc.Append(ctx, model.HistoryEntry{
			DealID:      d.ID,
			FromStageID: from,
			ToStageID:   to,
			ChangedAt:   t0.Add(time.Duration(i) * time.Hour),
		}))
	}

	recent, err := svc.Recent(ctx, 0)
	require.NoError(t, err)
	require.Len(t, recent, DefaultRecentLimit)
	assert.Equal(t, t0.Add(14*time.Hour), recent[0].ChangedAt, "newest first")

	three, err := svc.Recent(ctx, 3)
	require.NoError(t, err)
	assert.Len(t, three, 3)

	byDeal, err := svc.ByDeal(ctx, d.ID)
	require.NoError(t, err)
	assert.Len(t, byDeal, 15)

	byStage, err := svc.ByStage(ctx, a)
	require.NoError(t, err)
	assert.Len(t, byStage, 15)

	ranged, err := svc.ByDateRange(ctx, t0.Add(2*time.Hour), t0.Add(4*time.Hour))
	require.NoError(t, err)
	require.Len(t, ranged, 3, "bounds are inclusive")
	assert.Equal(t, t0.Add(4*time.Hour), ranged[0].ChangedAt)

	_, err = svc.ByDateRange(ctx, t0.Add(time.Hour), t0)
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestAppendUnknownDeal(t *testing.T) {
	svc := NewService(memstore.New(), zap.NewNop())
	err := svc.Append(context.Background(), model.HistoryEntry{DealID: uuid.New(), ChangedAt: t0})
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, DefaultRecentLimit, clampLimit(-5))
	assert.Equal(t, DefaultRecentLimit, clampLimit(0))
	assert.Equal(t, 25, clampLimit(25))
	assert.Equal(t, MaxRecentLimit, clampLimit(MaxRecentLimit+1))
}
