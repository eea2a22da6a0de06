package crm

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// PgxPool is the subset of pgxpool.Pool the queue needs, kept narrow so
// tests can substitute pgxmock.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresQueue is a durable RetryQueue backed by the crm_outbox table. Use
// it when queued sends must survive a process restart; the contract matches
// MemoryQueue otherwise.
type PostgresQueue struct {
	pool PgxPool
}

// NewPostgresQueue creates a queue over an existing pool.
func NewPostgresQueue(pool PgxPool) *PostgresQueue {
	if pool == nil {
		return nil
	}
	return &PostgresQueue{pool: pool}
}

var _ RetryQueue = (*PostgresQueue)(nil)

type outboxPayload struct {
	Message string   `json:"message,omitempty"`
	Tags    []string `json:"tags,omitempty"`
	Note    string   `json:"note,omitempty"`
}

// Push appends an operation to the outbox.
func (q *PostgresQueue) Push(ctx context.Context, item QueueItem) error {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.EnqueuedAt.IsZero() {
		item.EnqueuedAt = time.Now()
	}
	payload, err := json.Marshal(outboxPayload{Message: item.Message, Tags: item.Tags, Note: item.Note})
	if err != nil {
		return fmt.Errorf("crm: marshal outbox payload: %w", err)
	}

	query := `
		INSERT INTO crm_outbox (id, operation, contact_id, payload, enqueued_at, attempt_count)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	if _, err := q.pool.Exec(ctx, query, item.ID, string(item.Operation), item.ContactID, payload, item.EnqueuedAt, item.AttemptCount); err != nil {
		return fmt.Errorf("crm: push outbox item: %w", err)
	}
	return nil
}

// Pop removes and returns up to max items, oldest first. SKIP LOCKED keeps
// concurrent sweepers from double-sending.
func (q *PostgresQueue) Pop(ctx context.Context, max int) ([]QueueItem, error) {
	if max <= 0 {
		return nil, nil
	}
	query := `
		DELETE FROM crm_outbox
		WHERE id IN (
			SELECT id FROM crm_outbox
			ORDER BY enqueued_at
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, operation, contact_id, payload, enqueued_at, attempt_count
	`
	rows, err := q.pool.Query(ctx, query, max)
	if err != nil {
		return nil, fmt.Errorf("crm: pop outbox items: %w", err)
	}
	defer rows.Close()

	var items []QueueItem
	for rows.Next() {
		var (
			item    QueueItem
			op      string
			payload []byte
		)
		if err := rows.Scan(&item.ID, &op, &item.ContactID, &payload, &item.EnqueuedAt, &item.AttemptCount); err != nil {
			return nil, fmt.Errorf("crm: scan outbox item: %w", err)
		}
		item.Operation = OperationType(op)

		var body outboxPayload
		if err := json.Unmarshal(payload, &body); err != nil {
			return nil, fmt.Errorf("crm: decode outbox payload: %w", err)
		}
		item.Message = body.Message
		item.Tags = body.Tags
		item.Note = body.Note
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("crm: iterate outbox items: %w", err)
	}
	return items, nil
}

// Depth reports the outbox row count.
func (q *PostgresQueue) Depth(ctx context.Context) (int, error) {
	var count int
	if err := q.pool.QueryRow(ctx, `SELECT count(*) FROM crm_outbox`).Scan(&count); err != nil {
		return 0, fmt.Errorf("crm: count outbox items: %w", err)
	}
	return count, nil
}
