package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"

	"stockledger/internal/core/entity"
	"stockledger/internal/core/id"
	"stockledger/internal/domain/ledger"
)

const inventoryLevelsTable = "inventory_levels"

// LevelRepo implements ledger.LevelRepository over the inventory_levels
// materialized balance table.
type LevelRepo struct {
	txManager *TxManager
	builder   squirrel.StatementBuilderType
}

// NewLevelRepo creates a new inventory level repository.
func NewLevelRepo(txManager *TxManager) *LevelRepo {
	return &LevelRepo{
		txManager: txManager,
		builder:   squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

var levelColumns = []string{
	"tenant_id", "product_id", "warehouse_id", "location_id", "lot_id",
	"on_hand_quantity", "reserved_quantity", "updated_at",
}

// GetForUpdate reads the balance row for an aggregate key with a row lock,
// returning a zero-valued level when the row does not exist yet. The row is
// created lazily by the first Upsert.
func (r *LevelRepo) GetForUpdate(ctx context.Context, key entity.AggregateKey) (entity.InventoryLevel, error) {
	if r.txManager.GetTx(ctx) == nil {
		return entity.InventoryLevel{}, fmt.Errorf("balance read for update requires transaction context")
	}

	sql := `
		SELECT tenant_id, product_id, warehouse_id, location_id, lot_id,
		       on_hand_quantity, reserved_quantity, updated_at
		FROM inventory_levels
		WHERE tenant_id = $1 AND product_id = $2 AND warehouse_id = $3 AND location_id = $4
		  AND lot_id IS NOT DISTINCT FROM $5
		FOR UPDATE
	`

	var level entity.InventoryLevel
	querier := r.txManager.GetQuerier(ctx)
	err := pgxscan.Get(ctx, querier, &level, sql,
		key.TenantID, key.ProductID, key.WarehouseID, key.LocationID, key.LotID)
	if err != nil {
		if pgxscan.NotFound(err) {
			return emptyLevel(key), nil
		}
		return level, fmt.Errorf("get balance for update: %w", err)
	}

	return level, nil
}

// Get reads the balance row without locking.
func (r *LevelRepo) Get(ctx context.Context, key entity.AggregateKey) (entity.InventoryLevel, error) {
	sql := `
		SELECT tenant_id, product_id, warehouse_id, location_id, lot_id,
		       on_hand_quantity, reserved_quantity, updated_at
		FROM inventory_levels
		WHERE tenant_id = $1 AND product_id = $2 AND warehouse_id = $3 AND location_id = $4
		  AND lot_id IS NOT DISTINCT FROM $5
	`

	var level entity.InventoryLevel
	querier := r.txManager.GetQuerier(ctx)
	err := pgxscan.Get(ctx, querier, &level, sql,
		key.TenantID, key.ProductID, key.WarehouseID, key.LocationID, key.LotID)
	if err != nil {
		if pgxscan.NotFound(err) {
			return emptyLevel(key), nil
		}
		return level, fmt.Errorf("get balance: %w", err)
	}

	return level, nil
}

// Upsert writes the projected balance back, creating the row on first use.
func (r *LevelRepo) Upsert(ctx context.Context, level *entity.InventoryLevel) error {
	if r.txManager.GetTx(ctx) == nil {
		return fmt.Errorf("balance upsert requires transaction context")
	}

	sql := `
		INSERT INTO inventory_levels (
			tenant_id, product_id, warehouse_id, location_id, lot_id,
			on_hand_quantity, reserved_quantity, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (tenant_id, product_id, warehouse_id, location_id, lot_key) DO UPDATE SET
			on_hand_quantity = EXCLUDED.on_hand_quantity,
			reserved_quantity = EXCLUDED.reserved_quantity,
			updated_at = EXCLUDED.updated_at
	`

	querier := r.txManager.GetQuerier(ctx)
	_, err := querier.Exec(ctx, sql,
		level.TenantID, level.ProductID, level.WarehouseID, level.LocationID, level.LotID,
		level.OnHand, level.Reserved, level.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert balance: %w", err)
	}

	return nil
}

// SumOnHandByScope aggregates on-hand quantity over all locations of a cost
// scope. Used for the FIFO layer invariant check.
func (r *LevelRepo) SumOnHandByScope(ctx context.Context, scope entity.CostScope) (int64, error) {
	sql := `
		SELECT COALESCE(SUM(on_hand_quantity), 0)
		FROM inventory_levels
		WHERE tenant_id = $1 AND product_id = $2 AND warehouse_id = $3
		  AND lot_id IS NOT DISTINCT FROM $4
	`

	var total int64
	querier := r.txManager.GetQuerier(ctx)
	err := querier.QueryRow(ctx, sql, scope.TenantID, scope.ProductID, scope.WarehouseID, scope.LotID).Scan(&total)
	if err != nil && err != pgx.ErrNoRows {
		return 0, fmt.Errorf("sum on-hand by scope: %w", err)
	}
	return total, nil
}

// Query returns balances for a product in a warehouse, optionally narrowed to
// one location. Aggregated across lots.
func (r *LevelRepo) Query(ctx context.Context, tenantID, productID, warehouseID id.ID, locationID *id.ID) (ledger.BalanceSummary, error) {
	q := r.builder.Select(
		"COALESCE(SUM(on_hand_quantity), 0) AS on_hand",
		"COALESCE(SUM(reserved_quantity), 0) AS reserved",
	).From(inventoryLevelsTable).
		Where(squirrel.Eq{
			"tenant_id":    tenantID,
			"product_id":   productID,
			"warehouse_id": warehouseID,
		})

	if locationID != nil {
		q = q.Where(squirrel.Eq{"location_id": *locationID})
	}

	sql, args, err := q.ToSql()
	if err != nil {
		return ledger.BalanceSummary{}, fmt.Errorf("build query: %w", err)
	}

	var summary ledger.BalanceSummary
	querier := r.txManager.GetQuerier(ctx)
	if err := querier.QueryRow(ctx, sql, args...).Scan(&summary.OnHand, &summary.Reserved); err != nil && err != pgx.ErrNoRows {
		return summary, fmt.Errorf("query balance: %w", err)
	}
	summary.Available = summary.OnHand - summary.Reserved

	return summary, nil
}

// ListByWarehouse returns all non-zero balances for a warehouse.
func (r *LevelRepo) ListByWarehouse(ctx context.Context, tenantID, warehouseID id.ID) ([]entity.InventoryLevel, error) {
	q := r.builder.Select(levelColumns...).
		From(inventoryLevelsTable).
		Where(squirrel.Eq{"tenant_id": tenantID, "warehouse_id": warehouseID}).
		Where("(on_hand_quantity <> 0 OR reserved_quantity <> 0)").
		OrderBy("product_id", "location_id")

	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var levels []entity.InventoryLevel
	querier := r.txManager.GetQuerier(ctx)
	if err := pgxscan.Select(ctx, querier, &levels, sql, args...); err != nil {
		return nil, fmt.Errorf("select balances: %w", err)
	}

	return levels, nil
}

func emptyLevel(key entity.AggregateKey) entity.InventoryLevel {
	return entity.InventoryLevel{
		TenantID:    key.TenantID,
		ProductID:   key.ProductID,
		WarehouseID: key.WarehouseID,
		LocationID:  key.LocationID,
		LotID:       key.LotID,
		UpdatedAt:   time.Now().UTC(),
	}
}
