package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"stockledger/internal/core/apperror"
	"stockledger/internal/core/id"
)

// IdempotencyRecord ties a caller-supplied key to the move it produced.
// A key resolves to at most one move per tenant; replays return the original
// result and never reapply.
type IdempotencyRecord struct {
	TenantID    id.ID     `db:"tenant_id"`
	Key         string    `db:"idempotency_key"`
	MoveID      id.ID     `db:"move_id"`
	RequestHash string    `db:"request_hash"` // SHA256 of the request body
	CreatedAt   time.Time `db:"created_at"`
	ExpiresAt   time.Time `db:"expires_at"`
}

// IdempotencyStore manages idempotency keys.
//
// Reservation happens inside the pipeline transaction, so a crash between
// reservation and ledger append rolls both back and cannot leave an orphaned
// "processed" record.
type IdempotencyStore struct {
	txManager *TxManager
	ttl       time.Duration
}

// NewIdempotencyStore creates a new idempotency store.
func NewIdempotencyStore(txManager *TxManager, ttl time.Duration) *IdempotencyStore {
	return &IdempotencyStore{
		txManager: txManager,
		ttl:       ttl,
	}
}

// Reserve attempts to claim the key for moveID. The move identifier is
// pre-generated by the caller and supplied upfront, so no second write is
// needed once the move is appended.
//
// Returns:
//   - (uuid.Nil, nil) if the key was claimed by this request
//   - (existingMoveID, nil) if the key already resolved to a move
//   - an IdempotencyMismatch error if the key is reused with a different body
func (s *IdempotencyStore) Reserve(ctx context.Context, tenantID id.ID, key, requestHash string, moveID id.ID) (id.ID, error) {
	if s.txManager.GetTx(ctx) == nil {
		return id.Nil(), fmt.Errorf("idempotency reserve requires transaction context")
	}

	now := time.Now().UTC()
	querier := s.txManager.GetQuerier(ctx)

	var claimed id.ID
	err := querier.QueryRow(ctx, `
		INSERT INTO idempotency_keys (tenant_id, idempotency_key, move_id, request_hash, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (tenant_id, idempotency_key) DO NOTHING
		RETURNING move_id
	`, tenantID, key, moveID, requestHash, now, now.Add(s.ttl)).Scan(&claimed)

	if err == nil {
		// Fresh claim
		return id.Nil(), nil
	}
	if err != pgx.ErrNoRows {
		return id.Nil(), fmt.Errorf("reserve idempotency key: %w", err)
	}

	// Key exists: load the original record.
	var record IdempotencyRecord
	err = querier.QueryRow(ctx, `
		SELECT tenant_id, idempotency_key, move_id, request_hash, created_at, expires_at
		FROM idempotency_keys
		WHERE tenant_id = $1 AND idempotency_key = $2
	`, tenantID, key).Scan(
		&record.TenantID, &record.Key, &record.MoveID,
		&record.RequestHash, &record.CreatedAt, &record.ExpiresAt,
	)
	if err != nil {
		return id.Nil(), fmt.Errorf("load idempotency record: %w", err)
	}

	// Protect against reuse of the same key for a different request.
	if requestHash != "" && record.RequestHash != requestHash {
		return id.Nil(), apperror.NewIdempotencyMismatch(key).
			WithDetail("stored_request_hash", record.RequestHash).
			WithDetail("request_request_hash", requestHash)
	}

	return record.MoveID, nil
}

// CleanupExpired removes expired idempotency records.
func (s *IdempotencyStore) CleanupExpired(ctx context.Context) (int64, error) {
	result, err := s.txManager.GetQuerier(ctx).Exec(ctx, `
		DELETE FROM idempotency_keys WHERE expires_at < $1
	`, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}
