package postgres

import (
	"context"
	"fmt"

	"github.com/georgysavva/scany/v2/pgxscan"

	"stockledger/internal/core/entity"
	"stockledger/internal/core/id"
)

// PolicyRepo stores per-tenant ledger policies.
type PolicyRepo struct {
	txManager *TxManager
}

// NewPolicyRepo creates a new policy repository.
func NewPolicyRepo(txManager *TxManager) *PolicyRepo {
	return &PolicyRepo{txManager: txManager}
}

// Get returns the tenant policy. Tenants without a row get the default
// policy, which forbids negative stock.
func (r *PolicyRepo) Get(ctx context.Context, tenantID id.ID) (entity.TenantPolicy, error) {
	sql := `
		SELECT tenant_id, allow_negative_stock, updated_at
		FROM tenant_policies
		WHERE tenant_id = $1
	`

	var policy entity.TenantPolicy
	querier := r.txManager.GetQuerier(ctx)
	if err := pgxscan.Get(ctx, querier, &policy, sql, tenantID); err != nil {
		if pgxscan.NotFound(err) {
			return entity.TenantPolicy{TenantID: tenantID}, nil
		}
		return policy, fmt.Errorf("get tenant policy: %w", err)
	}

	return policy, nil
}

// Upsert writes the tenant policy.
func (r *PolicyRepo) Upsert(ctx context.Context, policy *entity.TenantPolicy) error {
	sql := `
		INSERT INTO tenant_policies (tenant_id, allow_negative_stock, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (tenant_id) DO UPDATE SET
			allow_negative_stock = EXCLUDED.allow_negative_stock,
			updated_at = EXCLUDED.updated_at
	`

	querier := r.txManager.GetQuerier(ctx)
	_, err := querier.Exec(ctx, sql, policy.TenantID, policy.AllowNegativeStock, policy.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert tenant policy: %w", err)
	}

	return nil
}
