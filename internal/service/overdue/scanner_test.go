package overdue

import (
	"context"
	"errors"
	"testing"
	"time"

	mqcontracts "estatecrm/contracts/mq"
	"estatecrm/internal/model"
	"estatecrm/internal/store/memstore"
	"estatecrm/pkg/util"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var t0 = time.Date(2024, 8, 5, 9, 0, 0, 0, time.UTC)

type failingPublisher struct{ calls int }

func (p *failingPublisher) PublishWithContext(context.Context, string, any) error {
	p.calls++
	return errors.New("broker down")
}

// flakyPublisher fails until down is cleared, then records into the store.
type flakyPublisher struct {
	st    *memstore.Store
	down  bool
	calls int
}

func (p *flakyPublisher) PublishWithContext(ctx context.Context, key string, payload any) error {
	p.calls++
	if p.down {
		return errors.New("broker down")
	}
	return p.st.PublishWithContext(ctx, key, payload)
}

func seed(t *testing.T, st *memstore.Store, expected time.Duration) *model.Deal {
	t.Helper()
	ctx := context.Background()
	p, err := model.NewPipeline("Sale-"+uuid.NewString(), "", t0)
	require.NoError(t, err)
	require.NoError(t, st.CreatePipeline(ctx, p))
	s, err := model.NewStage(p.ID, "Negotiation", "", 0, expected, t0)
	require.NoError(t, err)
	require.NoError(t, st.CreateStage(ctx, s))

	d, err := model.NewDeal(model.DealParams{Title: "House", ClientID: uuid.New(), PipelineID: p.ID, StageID: s.ID}, t0)
	require.NoError(t, err)
	d.CalculateStageDeadline(s.ExpectedDuration)
	require.NoError(t, st.CreateDeal(ctx, d))
	return d
}

func overdueEvents(st *memstore.Store) []model.Event {
	var out []model.Event
	for _, e := range st.Events() {
		if e.RoutingKey == mqcontracts.RoutingDealOverdue {
			out = append(out, e)
		}
	}
	return out
}

func TestScanOncePublishesOncePerDeadline(t *testing.T) {
	st := memstore.New()
	now := t0.Add(2 * time.Hour)
	clock := func() time.Time { return now }
	scanner := NewScanner(st, st, util.NewMemoryDeduper(24*time.Hour, clock), time.Minute, clock, zap.NewNop())
	ctx := context.Background()

	late := seed(t, st, time.Hour)
	seed(t, st, 0)
	seed(t, st, 5*time.Hour)

	n, err := scanner.ScanOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	events := overdueEvents(st)
	require.Len(t, events, 1)
	payload := events[0].Payload.(mqcontracts.DealOverduePayload)
	assert.Equal(t, late.ID.String(), payload.DealID)
	assert.Equal(t, t0.Add(time.Hour), payload.Deadline)

	n, err = scanner.ScanOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "still overdue")
	assert.Len(t, overdueEvents(st), 1, "same deadline is announced once")

	// a new deadline is a new announcement
	moved := t0.Add(90 * time.Minute)
	late.StageDeadline = &moved
	require.NoError(t, st.UpdateDeal(ctx, late, late.Revision))
	_, err = scanner.ScanOnce(ctx)
	require.NoError(t, err)
	assert.Len(t, overdueEvents(st), 2)
}

func TestScanOnceSkipsClosedDeals(t *testing.T) {
	st := memstore.New()
	now := t0.Add(2 * time.Hour)
	clock := func() time.Time { return now }
	scanner := NewScanner(st, st, util.NewMemoryDeduper(time.Hour, clock), time.Minute, clock, zap.NewNop())

	d := seed(t, st, time.Hour)
	d.Close(t0)
	require.NoError(t, st.UpdateDeal(context.Background(), d, d.Revision))

	n, err := scanner.ScanOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, overdueEvents(st))
}

func TestScanOncePublishFailureIsNotFatal(t *testing.T) {
	st := memstore.New()
	now := t0.Add(2 * time.Hour)
	clock := func() time.Time { return now }
	pub := &failingPublisher{}
	scanner := NewScanner(st, pub, util.NewMemoryDeduper(time.Hour, clock), time.Minute, clock, zap.NewNop())

	seed(t, st, time.Hour)
	seed(t, st, time.Hour)

	n, err := scanner.ScanOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, pub.calls)
}

func TestScanOnceRetriesAfterPublishFailure(t *testing.T) {
	st := memstore.New()
	now := t0.Add(2 * time.Hour)
	clock := func() time.Time { return now }
	pub := &flakyPublisher{st: st, down: true}
	scanner := NewScanner(st, pub, util.NewMemoryDeduper(24*time.Hour, clock), time.Minute, clock, zap.NewNop())
	ctx := context.Background()

	d := seed(t, st, time.Hour)

	_, err := scanner.ScanOnce(ctx)
	require.NoError(t, err)
	assert.Empty(t, overdueEvents(st))

	pub.down = false
	_, err = scanner.ScanOnce(ctx)
	require.NoError(t, err)
	events := overdueEvents(st)
	require.Len(t, events, 1)
	assert.Equal(t, d.ID.String(), events[0].Payload.(mqcontracts.DealOverduePayload).DealID)

	_, err = scanner.ScanOnce(ctx)
	require.NoError(t, err)
	assert.Len(t, overdueEvents(st), 1)
	assert.Equal(t, 3, pub.calls)
}

func TestStartStopsWithContext(t *testing.T) {
	st := memstore.New()
	scanner := NewScanner(st, st, util.NewMemoryDeduper(time.Hour, nil), 5*time.Millisecond, time.Now, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		scanner.Start(ctx)
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scanner did not stop")
	}
}
