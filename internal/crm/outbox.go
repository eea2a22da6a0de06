package crm

import (
	"context"
	"sync"
	"time"

	"github.com/outletmedia/sales-ai-platform/internal/observability/metrics"
	"github.com/outletmedia/sales-ai-platform/pkg/logging"
)

// Outbox is the fire-and-forget side of the gateway. Sends, tags and notes
// are attempted immediately; failures are parked in the retry queue and
// retried by a background sweep. Failures here never block or fail the
// request path.
type Outbox struct {
	client  *Client
	queue   RetryQueue
	logger  *logging.Logger
	metrics *metrics.GatewayMetrics

	sweepInterval time.Duration
	maxAttempts   int
	batchSize     int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// OutboxOption configures the outbox.
type OutboxOption func(*Outbox)

// WithSweepInterval overrides the background sweep cadence.
func WithSweepInterval(d time.Duration) OutboxOption {
	return func(o *Outbox) {
		if d > 0 {
			o.sweepInterval = d
		}
	}
}

// WithMaxAttempts overrides how many sweep retries an item gets before it is
// dropped with a logged failure.
func WithMaxAttempts(n int) OutboxOption {
	return func(o *Outbox) {
		if n > 0 {
			o.maxAttempts = n
		}
	}
}

// WithSweepBatchSize bounds how many items one sweep pops.
func WithSweepBatchSize(n int) OutboxOption {
	return func(o *Outbox) {
		if n > 0 {
			o.batchSize = n
		}
	}
}

// WithQueueMetrics installs the retry-queue depth gauge and drop counter.
func WithQueueMetrics(m *metrics.GatewayMetrics) OutboxOption {
	return func(o *Outbox) { o.metrics = m }
}

// NewOutbox wires the fire-and-forget dispatcher around a client and queue.
func NewOutbox(client *Client, queue RetryQueue, logger *logging.Logger, opts ...OutboxOption) *Outbox {
	if client == nil {
		panic("crm: outbox client cannot be nil")
	}
	if queue == nil {
		queue = NewMemoryQueue(0)
	}
	if logger == nil {
		logger = logging.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	o := &Outbox{
		client:        client,
		queue:         queue,
		logger:        logger,
		sweepInterval: 30 * time.Second,
		maxAttempts:   3,
		batchSize:     10,
		ctx:           ctx,
		cancel:        cancel,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Start launches the background sweep goroutine.
func (o *Outbox) Start() {
	o.wg.Add(1)
	go o.run()
}

// Shutdown stops the sweeper and waits for the in-flight sweep to finish.
func (o *Outbox) Shutdown(ctx context.Context) error {
	o.cancel()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// SendMessage attempts an outbound message, queueing it on failure.
func (o *Outbox) SendMessage(ctx context.Context, contactID, text string) {
	err := o.client.SendMessage(ctx, contactID, text)
	if err == nil {
		return
	}
	o.park(ctx, QueueItem{Operation: OpSendMessage, ContactID: contactID, Message: text}, err)
}

// AddTags attempts a tag update, queueing it on failure.
func (o *Outbox) AddTags(ctx context.Context, contactID string, tags []string) {
	err := o.client.AddTags(ctx, contactID, tags)
	if err == nil {
		return
	}
	o.park(ctx, QueueItem{Operation: OpAddTags, ContactID: contactID, Tags: tags}, err)
}

// AddNote attempts a note append, queueing it on failure.
func (o *Outbox) AddNote(ctx context.Context, contactID, note string) {
	err := o.client.AddNote(ctx, contactID, note)
	if err == nil {
		return
	}
	o.park(ctx, QueueItem{Operation: OpAddNote, ContactID: contactID, Note: note}, err)
}

// QueueDepth reports how many operations are awaiting retry.
func (o *Outbox) QueueDepth(ctx context.Context) int {
	depth, err := o.queue.Depth(ctx)
	if err != nil {
		return 0
	}
	return depth
}

func (o *Outbox) park(ctx context.Context, item QueueItem, cause error) {
	o.logger.Warn("fire-and-forget operation failed, queueing for retry",
		"operation", item.Operation,
		"contact_id", item.ContactID,
		"error", cause,
	)
	if err := o.queue.Push(ctx, item); err != nil {
		o.logger.Error("failed to queue operation, dropping",
			"operation", item.Operation,
			"contact_id", item.ContactID,
			"error", err,
		)
		o.metrics.ObserveQueueDrop()
	}
	o.syncDepth(ctx)
}

func (o *Outbox) run() {
	defer o.wg.Done()

	ticker := time.NewTicker(o.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-o.ctx.Done():
			return
		case <-ticker.C:
			o.Sweep(o.ctx)
		}
	}
}

// Sweep retries a bounded batch of queued operations. Items exceeding the
// attempt budget are dropped with a logged, non-fatal failure. The sweep
// skips entirely while the circuit is open.
func (o *Outbox) Sweep(ctx context.Context) {
	if o.client.BreakerStatus().State == BreakerOpen {
		return
	}

	batch, err := o.queue.Pop(ctx, o.batchSize)
	if err != nil {
		o.logger.Error("retry queue pop failed", "error", err)
		return
	}

	for _, item := range batch {
		if o.client.BreakerStatus().State == BreakerOpen {
			// Host went unhealthy mid-sweep; park the rest.
			o.requeue(ctx, item)
			continue
		}

		if err := o.execute(ctx, item); err == nil {
			continue
		}

		item.AttemptCount++
		if item.AttemptCount >= o.maxAttempts {
			o.logger.Error("dropping operation after max retry attempts",
				"operation", item.Operation,
				"contact_id", item.ContactID,
				"attempts", item.AttemptCount,
			)
			o.metrics.ObserveQueueDrop()
			continue
		}
		o.requeue(ctx, item)
	}
	o.syncDepth(ctx)
}

func (o *Outbox) syncDepth(ctx context.Context) {
	if o.metrics == nil {
		return
	}
	o.metrics.SetQueueDepth(o.QueueDepth(ctx))
}

func (o *Outbox) execute(ctx context.Context, item QueueItem) error {
	switch item.Operation {
	case OpSendMessage:
		return o.client.SendMessage(ctx, item.ContactID, item.Message)
	case OpAddTags:
		return o.client.AddTags(ctx, item.ContactID, item.Tags)
	case OpAddNote:
		return o.client.AddNote(ctx, item.ContactID, item.Note)
	default:
		o.logger.Error("unknown queued operation, dropping", "operation", item.Operation)
		return nil
	}
}

func (o *Outbox) requeue(ctx context.Context, item QueueItem) {
	if err := o.queue.Push(ctx, item); err != nil {
		o.logger.Error("failed to requeue operation, dropping",
			"operation", item.Operation,
			"contact_id", item.ContactID,
			"error", err,
		)
	}
}
