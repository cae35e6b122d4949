package outbox

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"estatecrm/pkg/circuitbreaker"
	"estatecrm/pkg/trace"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeStore struct {
	mu      sync.Mutex
	pending []*Event
	sent    []int64
	failed  []int64
}

func (s *fakeStore) GetPendingEvents(_ context.Context, limit int) ([]*Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) > limit {
		return s.pending[:limit], nil
	}
	return s.pending, nil
}

func (s *fakeStore) MarkAsSent(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, id)
	return nil
}

func (s *fakeStore) MarkAsFailed(_ context.Context, id int64, _ int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed = append(s.failed, id)
	return nil
}

type fakePublisher struct {
	fail   map[string]bool
	keys   []string
	traces []string
}

func (p *fakePublisher) PublishWithContext(ctx context.Context, routingKey string, _ any) error {
	p.keys = append(p.keys, routingKey)
	p.traces = append(p.traces, trace.FromContext(ctx))
	if p.fail[routingKey] {
		return errors.New("publish failed")
	}
	return nil
}

func event(t *testing.T, id int64, key string, payload any) *Event {
	t.Helper()
	e, err := NewEvent("deal", "d-1", key, payload)
	require.NoError(t, err)
	e.ID = id
	return e
}

func TestProcessPending(t *testing.T) {
	store := &fakeStore{}
	store.pending = []*Event{
		event(t, 1, "deal.created", map[string]string{"trace_id": "abc"}),
		event(t, 2, "deal.closed", map[string]string{}),
		event(t, 3, "deal.reopened", map[string]string{}),
	}
	pub := &fakePublisher{fail: map[string]bool{"deal.closed": true}}

	d := NewDispatcher(store, pub, zap.NewNop())
	sent := d.ProcessPending(context.Background())

	assert.Equal(t, 2, sent)
	assert.Equal(t, []int64{1, 3}, store.sent)
	assert.Equal(t, []int64{2}, store.failed)
	assert.Equal(t, "abc", pub.traces[0], "trace id restored from payload")
}

func TestProcessPendingStopsWhenBreakerOpen(t *testing.T) {
	store := &fakeStore{}
	for i := int64(1); i <= 4; i++ {
		store.pending = append(store.pending, event(t, i, "deal.created", struct{}{}))
	}
	pub := &fakePublisher{fail: map[string]bool{"deal.created": true}}

	cfg := circuitbreaker.DefaultConfig()
	cfg.FailureThreshold = 2
	d := NewDispatcher(store, pub, zap.NewNop()).WithBreaker(circuitbreaker.NewCircuitBreaker(cfg))

	sent := d.ProcessPending(context.Background())
	assert.Zero(t, sent)
	assert.Len(t, pub.keys, 2, "publishing stops once the breaker opens")
	assert.Equal(t, []int64{1, 2}, store.failed, "postponed events keep their retry budget")
}

func TestProcessPendingBatchSize(t *testing.T) {
	store := &fakeStore{}
	for i := int64(1); i <= 5; i++ {
		store.pending = append(store.pending, event(t, i, "deal.created", struct{}{}))
	}
	d := NewDispatcher(store, &fakePublisher{}, zap.NewNop()).WithBatchSize(2)
	assert.Equal(t, 2, d.ProcessPending(context.Background()))
}

func TestStartStops(t *testing.T) {
	d := NewDispatcher(&fakeStore{}, &fakePublisher{}, zap.NewNop()).WithInterval(5 * time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Start(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop")
	}
}
