package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/klauspost/compress/zstd"

	"stockledger/internal/core/id"
	"stockledger/pkg/logger"
)

// CompressionAlgo specifies the compression algorithm used for archive blobs.
type CompressionAlgo string

const (
	CompressionNone CompressionAlgo = "none"
	CompressionZstd CompressionAlgo = "zstd"
)

// ArchiveBatch is one cold-storage row holding a compressed run of delivered
// outbox events. The hot outbox table stays small; the delivered history
// remains queryable for audits.
type ArchiveBatch struct {
	ArchiveID       id.ID           `db:"archive_id"`
	EventCount      int             `db:"event_count"`
	FromCreatedAt   time.Time       `db:"from_created_at"`
	ToCreatedAt     time.Time       `db:"to_created_at"`
	Events          []byte          `db:"events"`
	CompressionAlgo CompressionAlgo `db:"compression_algo"`
	CreatedAt       time.Time       `db:"created_at"`
}

// ArchiveStore moves delivered outbox events into compressed archive rows.
type ArchiveStore struct {
	pool              *pgxpool.Pool
	encoder           *zstd.Encoder
	decoder           *zstd.Decoder
	compressThreshold int // bytes
}

// NewArchiveStore creates an archive store.
func NewArchiveStore(pool *pgxpool.Pool) (*ArchiveStore, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}

	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}

	return &ArchiveStore{
		pool:              pool,
		encoder:           encoder,
		decoder:           decoder,
		compressThreshold: 4 * 1024,
	}, nil
}

// ArchivePublished packs published events older than retention into one
// archive row and deletes them from the outbox, all in one transaction.
// Returns the number of events archived.
func (s *ArchiveStore) ArchivePublished(ctx context.Context, retention time.Duration, batchSize int) (int, error) {
	cutoff := time.Now().UTC().Add(-retention)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin archive tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
		SELECT event_id, tenant_id, aggregate_type, aggregate_id, event_type, payload, status,
		       retry_count, last_error, next_retry_at, created_at, published_at
		FROM outbox_events
		WHERE status = $1 AND published_at < $2
		ORDER BY created_at
		LIMIT $3
		FOR UPDATE SKIP LOCKED
	`, OutboxStatusPublished, cutoff, batchSize)
	if err != nil {
		return 0, fmt.Errorf("fetch published events: %w", err)
	}

	var events []OutboxEvent
	for rows.Next() {
		var ev OutboxEvent
		err := rows.Scan(
			&ev.EventID, &ev.TenantID, &ev.AggregateType, &ev.AggregateID, &ev.EventType,
			&ev.Payload, &ev.Status, &ev.RetryCount, &ev.LastError,
			&ev.NextRetryAt, &ev.CreatedAt, &ev.PublishedAt,
		)
		if err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan published event: %w", err)
		}
		events = append(events, ev)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("iterate published events: %w", err)
	}

	if len(events) == 0 {
		return 0, nil
	}

	blob, err := json.Marshal(events)
	if err != nil {
		return 0, fmt.Errorf("marshal archive events: %w", err)
	}

	algo := CompressionNone
	if len(blob) > s.compressThreshold {
		blob = s.encoder.EncodeAll(blob, nil)
		algo = CompressionZstd
	}

	batch := ArchiveBatch{
		ArchiveID:       id.New(),
		EventCount:      len(events),
		FromCreatedAt:   events[0].CreatedAt,
		ToCreatedAt:     events[len(events)-1].CreatedAt,
		Events:          blob,
		CompressionAlgo: algo,
		CreatedAt:       time.Now().UTC(),
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO outbox_archives (archive_id, event_count, from_created_at, to_created_at, events, compression_algo, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, batch.ArchiveID, batch.EventCount, batch.FromCreatedAt, batch.ToCreatedAt,
		batch.Events, batch.CompressionAlgo, batch.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("insert archive batch: %w", err)
	}

	ids := make([]id.ID, len(events))
	for i, ev := range events {
		ids[i] = ev.EventID
	}
	_, err = tx.Exec(ctx, `DELETE FROM outbox_events WHERE event_id = ANY($1)`, ids)
	if err != nil {
		return 0, fmt.Errorf("delete archived events: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit archive tx: %w", err)
	}

	logger.Info(ctx, "outbox events archived",
		"archive_id", batch.ArchiveID.String(),
		"event_count", batch.EventCount,
		"compression", string(algo),
	)

	return len(events), nil
}

// ReadArchive returns the events of one archive row, decompressed.
func (s *ArchiveStore) ReadArchive(ctx context.Context, archiveID id.ID) ([]OutboxEvent, error) {
	var batch ArchiveBatch
	err := s.pool.QueryRow(ctx, `
		SELECT archive_id, event_count, from_created_at, to_created_at, events, compression_algo, created_at
		FROM outbox_archives
		WHERE archive_id = $1
	`, archiveID).Scan(
		&batch.ArchiveID, &batch.EventCount, &batch.FromCreatedAt, &batch.ToCreatedAt,
		&batch.Events, &batch.CompressionAlgo, &batch.CreatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("read archive: %w", err)
	}

	blob := batch.Events
	if batch.CompressionAlgo == CompressionZstd {
		blob, err = s.decoder.DecodeAll(blob, nil)
		if err != nil {
			return nil, fmt.Errorf("decompress archive: %w", err)
		}
	}

	var events []OutboxEvent
	if err := json.Unmarshal(blob, &events); err != nil {
		return nil, fmt.Errorf("unmarshal archive events: %w", err)
	}

	return events, nil
}
