package model

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func newTestDeal(t *testing.T) *Deal {
	t.Helper()
	d, err := NewDeal(DealParams{
		Title:      "  2-room flat on Lenina  ",
		ClientID:   uuid.New(),
		PipelineID: uuid.New(),
		StageID:    uuid.New(),
	}, t0)
	require.NoError(t, err)
	return d
}

func TestNewDeal(t *testing.T) {
	d := newTestDeal(t)

	assert.Equal(t, "2-room flat on Lenina", d.Title)
	assert.True(t, d.IsActive)
	assert.Equal(t, int64(1), d.Revision)
	assert.Equal(t, t0, d.StageStartedAt)
	assert.Equal(t, t0, d.CreatedAt)
	assert.Nil(t, d.StageDeadline)
	assert.Nil(t, d.ClosedAt)
}

func TestNewDealValidation(t *testing.T) {
	tests := []struct {
		name  string
		title string
		notes string
		field string
	}{
		{"empty title", "   ", "", "title"},
		{"long title", strings.Repeat("я", MaxDealTitleLength+1), "", "title"},
		{"long notes", "ok", strings.Repeat("n", MaxDealNotesLength+1), "notes"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewDeal(DealParams{Title: tt.title, Notes: tt.notes}, t0)
			require.ErrorIs(t, err, ErrValidation)

			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
		})
	}

	_, err := NewDeal(DealParams{Title: strings.Repeat("я", MaxDealTitleLength)}, t0)
	assert.NoError(t, err, "title length is counted in characters")
}

func TestCalculateStageDeadline(t *testing.T) {
	d := newTestDeal(t)

	d.CalculateStageDeadline(48 * time.Hour)
	require.NotNil(t, d.StageDeadline)
	assert.Equal(t, t0.Add(48*time.Hour), *d.StageDeadline)

	d.CalculateStageDeadline(0)
	assert.Nil(t, d.StageDeadline)
}

func TestSetStageDeadline(t *testing.T) {
	d := newTestDeal(t)

	d.SetStageDeadline(&Stage{ExpectedDuration: 6 * time.Hour})
	require.NotNil(t, d.StageDeadline)
	assert.Equal(t, t0.Add(6*time.Hour), *d.StageDeadline)

	final := &Stage{}
	assert.False(t, final.HasDeadline())
	d.SetStageDeadline(final)
	assert.Nil(t, d.StageDeadline)
}

func TestMoveToStage(t *testing.T) {
	d := newTestDeal(t)
	from := d.CurrentStageID
	next := &Stage{ID: uuid.New(), PipelineID: d.PipelineID, Order: 1, ExpectedDuration: 24 * time.Hour}
	now := t0.Add(90 * time.Minute)

	entry, err := d.MoveToStage(next, " called back ", now)
	require.NoError(t, err)

	assert.Equal(t, from, entry.FromStageID)
	assert.Equal(t, next.ID, entry.ToStageID)
	assert.Equal(t, 90*time.Minute, entry.TimeInStage)
	assert.Equal(t, "called back", entry.Notes)
	assert.Equal(t, now, entry.ChangedAt)

	assert.Equal(t, next.ID, d.CurrentStageID)
	assert.Equal(t, now, d.StageStartedAt)
	require.NotNil(t, d.StageDeadline)
	assert.Equal(t, now.Add(24*time.Hour), *d.StageDeadline)
	require.NotNil(t, d.UpdatedAt)
	assert.Len(t, d.History, 1)
}

func TestMoveToStageRejects(t *testing.T) {
	d := newTestDeal(t)

	_, err := d.MoveToStage(nil, "", t0)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = d.MoveToStage(&Stage{ID: uuid.New(), PipelineID: uuid.New()}, "", t0)
	assert.ErrorIs(t, err, ErrCrossPipelineTransition)
	assert.Empty(t, d.History)
}

func TestTimeInCurrentStageClockSkew(t *testing.T) {
	d := newTestDeal(t)
	assert.Equal(t, time.Duration(0), d.TimeInCurrentStage(t0.Add(-time.Minute)))
}

func TestIsOverdue(t *testing.T) {
	d := newTestDeal(t)
	assert.False(t, d.IsOverdue(t0.Add(1000*time.Hour)), "no deadline never overdue")

	d.CalculateStageDeadline(time.Hour)
	assert.False(t, d.IsOverdue(t0.Add(time.Hour)))
	assert.True(t, d.IsOverdue(t0.Add(time.Hour+time.Second)))
}

func TestCloseReopen(t *testing.T) {
	d := newTestDeal(t)

	d.Close(t0.Add(time.Hour))
	assert.False(t, d.IsActive)
	require.NotNil(t, d.ClosedAt)
	assert.Equal(t, t0.Add(time.Hour), *d.ClosedAt)

	d.Close(t0.Add(2 * time.Hour))
	assert.Equal(t, t0.Add(2*time.Hour), *d.ClosedAt)

	d.Reopen(t0.Add(3 * time.Hour))
	assert.True(t, d.IsActive)
	assert.Nil(t, d.ClosedAt)
}

func TestApply(t *testing.T) {
	d := newTestDeal(t)
	amount := decimal.RequireFromString("125000.50")
	title := " Renamed "

	require.NoError(t, d.Apply(DealChanges{Title: &title, Amount: &amount}, t0))
	assert.Equal(t, "Renamed", d.Title)
	require.NotNil(t, d.Amount)
	assert.True(t, amount.Equal(*d.Amount))

	require.NoError(t, d.Apply(DealChanges{ClearAmount: true}, t0))
	assert.Nil(t, d.Amount)

	empty := ""
	err := d.Apply(DealChanges{Title: &empty}, t0)
	assert.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, "Renamed", d.Title, "failed apply leaves the deal untouched")
}
