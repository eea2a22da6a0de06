package crm

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// OperationType identifies a fire-and-forget operation.
type OperationType string

const (
	OpSendMessage OperationType = "sms"
	OpAddTags     OperationType = "tag"
	OpAddNote     OperationType = "note"
)

// QueueItem is one deferred fire-and-forget operation.
type QueueItem struct {
	ID           string        `json:"id"`
	Operation    OperationType `json:"operation"`
	ContactID    string        `json:"contact_id"`
	Message      string        `json:"message,omitempty"`
	Tags         []string      `json:"tags,omitempty"`
	Note         string        `json:"note,omitempty"`
	EnqueuedAt   time.Time     `json:"enqueued_at"`
	AttemptCount int           `json:"attempt_count"`
}

// RetryQueue stores deferred operations between sweeps. The in-memory
// implementation is best-effort and not durable; PostgresQueue provides a
// durable alternative with the same contract.
type RetryQueue interface {
	Push(ctx context.Context, item QueueItem) error
	Pop(ctx context.Context, max int) ([]QueueItem, error)
	Depth(ctx context.Context) (int, error)
}

// MemoryQueue is a bounded in-process RetryQueue.
type MemoryQueue struct {
	mu       sync.Mutex
	items    []QueueItem
	capacity int
}

// NewMemoryQueue creates a MemoryQueue holding at most capacity items.
func NewMemoryQueue(capacity int) *MemoryQueue {
	if capacity <= 0 {
		capacity = 256
	}
	return &MemoryQueue{capacity: capacity}
}

// Push appends an item, dropping the oldest entry when full so recent sends
// win over stale ones.
func (q *MemoryQueue) Push(_ context.Context, item QueueItem) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.EnqueuedAt.IsZero() {
		item.EnqueuedAt = time.Now()
	}
	if len(q.items) >= q.capacity {
		q.items = q.items[1:]
	}
	q.items = append(q.items, item)
	return nil
}

// Pop removes and returns up to max items, oldest first.
func (q *MemoryQueue) Pop(_ context.Context, max int) ([]QueueItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if max <= 0 || len(q.items) == 0 {
		return nil, nil
	}
	if max > len(q.items) {
		max = len(q.items)
	}
	batch := make([]QueueItem, max)
	copy(batch, q.items[:max])
	q.items = q.items[max:]
	return batch, nil
}

// Depth reports the queued item count.
func (q *MemoryQueue) Depth(_ context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items), nil
}
