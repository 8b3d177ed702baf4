package postgres

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"stockledger/internal/core/apperror"
	"stockledger/internal/core/entity"
)

// pgLockNotAvailable is raised when lock_timeout expires while waiting.
const pgLockNotAvailable = "55P03"

// AggregateLocks serializes writers on aggregate keys using transaction-scoped
// advisory locks. Locks are released automatically at commit/rollback.
type AggregateLocks struct {
	txManager *TxManager
}

// NewAggregateLocks creates the lock controller.
func NewAggregateLocks(txManager *TxManager) *AggregateLocks {
	return &AggregateLocks{txManager: txManager}
}

// Acquire takes exclusive locks for all given keys inside the current
// transaction. Keys are locked in a fixed total order so that concurrent
// operations touching overlapping key sets (e.g. opposite transfers between
// the same two locations) cannot deadlock.
//
// A lock-timeout expiry is returned as a retryable Contention error; the
// caller must retry the whole operation, not just the lock step.
func (l *AggregateLocks) Acquire(ctx context.Context, keys ...entity.AggregateKey) error {
	if l.txManager.GetTx(ctx) == nil {
		return fmt.Errorf("aggregate lock requires transaction context")
	}
	if len(keys) == 0 {
		return nil
	}

	ordered := make([]entity.AggregateKey, len(keys))
	copy(ordered, keys)
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].Less(ordered[j])
	})

	querier := l.txManager.GetQuerier(ctx)
	var prev *entity.AggregateKey
	for i := range ordered {
		key := ordered[i]
		if prev != nil && key.Equal(*prev) {
			continue
		}
		prev = &ordered[i]

		if _, err := querier.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", key.LockToken()); err != nil {
			if isLockTimeout(err) {
				return apperror.NewContention(retryAfterHint).WithCause(err)
			}
			return fmt.Errorf("acquire aggregate lock: %w", err)
		}
	}

	return nil
}

// AcquireScopes takes exclusive locks for the given cost scopes inside the
// current transaction. Scope locks guard cost layers and running averages,
// which are shared by every location of a warehouse. Callers acquire
// aggregate-key locks first and scope locks second, so the combined order
// stays deadlock-free.
func (l *AggregateLocks) AcquireScopes(ctx context.Context, scopes ...entity.CostScope) error {
	if l.txManager.GetTx(ctx) == nil {
		return fmt.Errorf("cost scope lock requires transaction context")
	}
	if len(scopes) == 0 {
		return nil
	}

	ordered := make([]entity.CostScope, len(scopes))
	copy(ordered, scopes)
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].Less(ordered[j])
	})

	querier := l.txManager.GetQuerier(ctx)
	var prev *entity.CostScope
	for i := range ordered {
		scope := ordered[i]
		if prev != nil && scope.Equal(*prev) {
			continue
		}
		prev = &ordered[i]

		if _, err := querier.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", scope.LockToken()); err != nil {
			if isLockTimeout(err) {
				return apperror.NewContention(retryAfterHint).WithCause(err)
			}
			return fmt.Errorf("acquire cost scope lock: %w", err)
		}
	}

	return nil
}

// retryAfterHint is the suggested wait before retrying a contended operation.
const retryAfterHint = 100 * time.Millisecond

// isLockTimeout reports whether err is a lock_timeout expiry.
func isLockTimeout(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgLockNotAvailable
	}
	return false
}
