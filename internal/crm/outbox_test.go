package crm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/outletmedia/sales-ai-platform/internal/observability/metrics"
)

func TestMemoryQueuePushPop(t *testing.T) {
	q := NewMemoryQueue(4)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, q.Push(ctx, QueueItem{Operation: OpSendMessage, ContactID: "c1", Message: "hola"}))
	}
	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, depth)

	batch, err := q.Pop(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, batch, 2)
	assert.NotEmpty(t, batch[0].ID)
	assert.False(t, batch[0].EnqueuedAt.IsZero())

	depth, _ = q.Depth(ctx)
	assert.Equal(t, 1, depth)
}

func TestMemoryQueueDropsOldestWhenFull(t *testing.T) {
	q := NewMemoryQueue(2)
	ctx := context.Background()

	require.NoError(t, q.Push(ctx, QueueItem{ID: "a", Operation: OpAddNote}))
	require.NoError(t, q.Push(ctx, QueueItem{ID: "b", Operation: OpAddNote}))
	require.NoError(t, q.Push(ctx, QueueItem{ID: "c", Operation: OpAddNote}))

	batch, err := q.Pop(ctx, 10)
	require.NoError(t, err)
	require.Len(t, batch, 2)
	assert.Equal(t, "b", batch[0].ID)
	assert.Equal(t, "c", batch[1].ID)
}

func TestOutboxQueuesFailedSend(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}), WithRetryPolicy(0, time.Millisecond))

	queue := NewMemoryQueue(8)
	outbox := NewOutbox(client, queue, nil)

	outbox.SendMessage(context.Background(), "c1", "hola")

	depth, _ := queue.Depth(context.Background())
	assert.Equal(t, 1, depth)
}

func TestOutboxSweepRetriesAndSucceeds(t *testing.T) {
	var healthy atomic.Bool
	var sends int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !healthy.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		atomic.AddInt32(&sends, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "k", "loc", "v", nil, WithRetryPolicy(0, time.Millisecond))
	client.sleep = func(context.Context, time.Duration) error { return nil }

	queue := NewMemoryQueue(8)
	outbox := NewOutbox(client, queue, nil, WithMaxAttempts(3))

	outbox.SendMessage(context.Background(), "c1", "hola")
	outbox.AddTags(context.Background(), "c1", []string{"nurture-lead"})
	depth, _ := queue.Depth(context.Background())
	require.Equal(t, 2, depth)

	healthy.Store(true)
	outbox.Sweep(context.Background())

	depth, _ = queue.Depth(context.Background())
	assert.Equal(t, 0, depth)
	assert.Equal(t, int32(2), atomic.LoadInt32(&sends))
}

func TestOutboxDropsAfterMaxAttempts(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}), WithRetryPolicy(0, time.Millisecond), WithBreaker(NewBreaker(100, time.Minute, 1)))

	queue := NewMemoryQueue(8)
	outbox := NewOutbox(client, queue, nil, WithMaxAttempts(2))

	require.NoError(t, queue.Push(context.Background(), QueueItem{Operation: OpAddNote, ContactID: "c1", Note: "n"}))

	outbox.Sweep(context.Background()) // attempt 1, requeued
	depth, _ := queue.Depth(context.Background())
	require.Equal(t, 1, depth)

	outbox.Sweep(context.Background()) // attempt 2, dropped
	depth, _ = queue.Depth(context.Background())
	assert.Equal(t, 0, depth)
}

func TestOutboxSweepSkipsWhileCircuitOpen(t *testing.T) {
	var calls int32
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}), WithRetryPolicy(0, time.Millisecond), WithBreaker(NewBreaker(1, time.Minute, 1)))

	// Trip the breaker.
	require.Error(t, client.SendMessage(context.Background(), "c1", "x"))
	require.Equal(t, BreakerOpen, client.BreakerStatus().State)

	queue := NewMemoryQueue(8)
	outbox := NewOutbox(client, queue, nil)
	require.NoError(t, queue.Push(context.Background(), QueueItem{Operation: OpSendMessage, ContactID: "c1", Message: "hola"}))

	before := atomic.LoadInt32(&calls)
	outbox.Sweep(context.Background())

	assert.Equal(t, before, atomic.LoadInt32(&calls), "sweep must not call through an open circuit")
	depth, _ := queue.Depth(context.Background())
	assert.Equal(t, 1, depth)
}

func TestOutboxShutdown(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	outbox := NewOutbox(client, NewMemoryQueue(8), nil, WithSweepInterval(10*time.Millisecond))
	outbox.Start()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, outbox.Shutdown(ctx))
}

func TestOutboxRecordsQueueMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	gm := metrics.NewGatewayMetrics(reg)

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}), WithRetryPolicy(0, time.Millisecond))

	queue := NewMemoryQueue(8)
	outbox := NewOutbox(client, queue, nil, WithMaxAttempts(1), WithQueueMetrics(gm))
	ctx := context.Background()

	outbox.SendMessage(ctx, "c1", "hola")
	assert.Equal(t, 1.0, metricValue(t, reg, "salesai_crm_retry_queue_depth", nil))

	// One sweep exhausts the single attempt and drops the item.
	outbox.Sweep(ctx)
	assert.Equal(t, 0.0, metricValue(t, reg, "salesai_crm_retry_queue_depth", nil))
	assert.Equal(t, 1.0, metricValue(t, reg, "salesai_crm_retry_queue_dropped_total", nil))
}
