package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"stockledger/internal/core/id"
	"stockledger/internal/domain/ledger"
	"stockledger/pkg/logger"
)

// OutboxStatus represents the state of an outbox event.
type OutboxStatus string

const (
	OutboxStatusPending   OutboxStatus = "pending"
	OutboxStatusPublished OutboxStatus = "published"
	OutboxStatusFailed    OutboxStatus = "failed"
)

// maxOutboxRetries before an event is parked in the DLQ.
const maxOutboxRetries = 5

// OutboxEvent is a durable event row written in the same transaction as the
// ledger change. Delivery downstream is at-least-once; consumers dedupe by
// event_id.
type OutboxEvent struct {
	EventID       id.ID        `db:"event_id"`
	TenantID      id.ID        `db:"tenant_id"`
	AggregateType string       `db:"aggregate_type"`
	AggregateID   id.ID        `db:"aggregate_id"`
	EventType     string       `db:"event_type"`
	Payload       []byte       `db:"payload"`
	Status        OutboxStatus `db:"status"`
	RetryCount    int          `db:"retry_count"`
	LastError     *string      `db:"last_error"`
	NextRetryAt   *time.Time   `db:"next_retry_at"`
	CreatedAt     time.Time    `db:"created_at"`
	PublishedAt   *time.Time   `db:"published_at"`
}

// OutboxStore writes events to the outbox table.
type OutboxStore struct {
	txManager *TxManager
}

// NewOutboxStore creates a new outbox store.
func NewOutboxStore(txManager *TxManager) *OutboxStore {
	return &OutboxStore{txManager: txManager}
}

// Record writes an event to the outbox within the current transaction.
// MUST be called inside a transaction context.
func (s *OutboxStore) Record(ctx context.Context, event ledger.DomainEvent) error {
	tx := s.txManager.GetTx(ctx)
	if tx == nil {
		return fmt.Errorf("outbox record requires transaction context")
	}

	payloadBytes, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO outbox_events (event_id, tenant_id, aggregate_type, aggregate_id, event_type, payload, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, id.New(), event.TenantID, event.AggregateType, event.AggregateID, event.EventType, payloadBytes, OutboxStatusPending, time.Now().UTC())

	if err != nil {
		return fmt.Errorf("insert outbox event: %w", err)
	}

	return nil
}

// OutboxHandler publishes outbox events to the message bus.
type OutboxHandler interface {
	// Handle publishes one event and returns error if delivery failed
	Handle(ctx context.Context, event *OutboxEvent) error
}

// OutboxRelay reads and publishes pending events from the outbox.
// Run by the relay worker; delivery is at-least-once.
type OutboxRelay struct {
	pool      *pgxpool.Pool
	batchSize int
	handler   OutboxHandler
}

// NewOutboxRelay creates a new outbox relay.
func NewOutboxRelay(pool *pgxpool.Pool, batchSize int, handler OutboxHandler) *OutboxRelay {
	return &OutboxRelay{
		pool:      pool,
		batchSize: batchSize,
		handler:   handler,
	}
}

// ProcessBatch fetches and publishes pending events in creation order.
// Returns number of published events.
func (r *OutboxRelay) ProcessBatch(ctx context.Context) (int, error) {
	// Fetch pending events with lock to prevent concurrent processing
	rows, err := r.pool.Query(ctx, `
		SELECT event_id, tenant_id, aggregate_type, aggregate_id, event_type, payload, status,
		       retry_count, last_error, next_retry_at, created_at, published_at
		FROM outbox_events
		WHERE status = $1
		  AND (next_retry_at IS NULL OR next_retry_at <= NOW())
		ORDER BY created_at
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	`, OutboxStatusPending, r.batchSize)
	if err != nil {
		return 0, fmt.Errorf("fetch outbox events: %w", err)
	}
	defer rows.Close()

	var events []*OutboxEvent
	for rows.Next() {
		var ev OutboxEvent
		err := rows.Scan(
			&ev.EventID, &ev.TenantID, &ev.AggregateType, &ev.AggregateID, &ev.EventType,
			&ev.Payload, &ev.Status, &ev.RetryCount, &ev.LastError,
			&ev.NextRetryAt, &ev.CreatedAt, &ev.PublishedAt,
		)
		if err != nil {
			return 0, fmt.Errorf("scan outbox event: %w", err)
		}
		events = append(events, &ev)
	}

	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("iterate outbox events: %w", err)
	}

	published := 0
	for _, ev := range events {
		if err := r.processEvent(ctx, ev); err != nil {
			logger.Warn(ctx, "outbox event delivery failed",
				"event_id", ev.EventID,
				"event_type", ev.EventType,
				"retry_count", ev.RetryCount,
				"error", err,
			)
			continue
		}
		published++
	}

	return published, nil
}

// processEvent handles a single outbox event.
func (r *OutboxRelay) processEvent(ctx context.Context, ev *OutboxEvent) error {
	err := r.handler.Handle(ctx, ev)

	if err != nil {
		// Increment retry count and set next retry time (exponential backoff)
		nextRetry := time.Now().Add(time.Duration(ev.RetryCount+1) * time.Minute)
		errStr := err.Error()

		_, updateErr := r.pool.Exec(ctx, `
			UPDATE outbox_events
			SET retry_count = retry_count + 1,
			    last_error = $1,
			    next_retry_at = $2,
			    status = CASE WHEN retry_count >= $3 THEN $4 ELSE status END
			WHERE event_id = $5
		`, errStr, nextRetry, maxOutboxRetries, OutboxStatusFailed, ev.EventID)

		if updateErr != nil {
			return fmt.Errorf("update failed event: %w", updateErr)
		}
		return err
	}

	now := time.Now().UTC()
	_, err = r.pool.Exec(ctx, `
		UPDATE outbox_events
		SET status = $1, published_at = $2
		WHERE event_id = $3
	`, OutboxStatusPublished, now, ev.EventID)

	return err
}

// MoveToDLQ moves exhausted events to the dead letter queue.
func (r *OutboxRelay) MoveToDLQ(ctx context.Context) (int64, error) {
	result, err := r.pool.Exec(ctx, `
		WITH moved AS (
			DELETE FROM outbox_events
			WHERE status = $1 AND retry_count >= $2
			RETURNING *
		)
		INSERT INTO outbox_events_dlq
		SELECT *, NOW() as failed_at FROM moved
	`, OutboxStatusFailed, maxOutboxRetries)

	if err != nil {
		return 0, fmt.Errorf("move to DLQ: %w", err)
	}

	return result.RowsAffected(), nil
}

// PendingCount returns the number of unpublished events, for metrics.
func (r *OutboxRelay) PendingCount(ctx context.Context) (int64, error) {
	var count int64
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM outbox_events WHERE status = $1
	`, OutboxStatusPending).Scan(&count)
	if err != nil && err != pgx.ErrNoRows {
		return 0, fmt.Errorf("count pending events: %w", err)
	}
	return count, nil
}
