package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"stockledger/internal/core/entity"
	"stockledger/internal/core/id"
	"stockledger/internal/core/money"
)

const (
	valuationSettingsTable = "valuation_settings"
	costLayersTable        = "cost_layers"
	costConsumptionsTable  = "cost_consumptions"
	runningAveragesTable   = "running_averages"
	costVariancesTable     = "cost_variances"
)

// CostRepo implements valuation.Repository: FIFO cost layers, AVCO running
// averages, consumption audit rows and standard-cost variances.
//
// All mutations happen under the aggregate advisory lock held by the pipeline
// transaction, so no additional row locking is needed here.
type CostRepo struct {
	txManager *TxManager
	builder   squirrel.StatementBuilderType
}

// NewCostRepo creates a new cost repository.
func NewCostRepo(txManager *TxManager) *CostRepo {
	return &CostRepo{
		txManager: txManager,
		builder:   squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// --- Valuation settings ---

// GetSetting returns the costing configuration for a product, or ok=false
// when none is configured.
func (r *CostRepo) GetSetting(ctx context.Context, tenantID, productID id.ID) (entity.ValuationSetting, bool, error) {
	var row settingRow

	sql := `
		SELECT tenant_id, product_id, method, standard_cost, updated_at, updated_by
		FROM valuation_settings
		WHERE tenant_id = $1 AND product_id = $2
	`

	querier := r.txManager.GetQuerier(ctx)
	if err := pgxscan.Get(ctx, querier, &row, sql, tenantID, productID); err != nil {
		if pgxscan.NotFound(err) {
			return entity.ValuationSetting{}, false, nil
		}
		return entity.ValuationSetting{}, false, fmt.Errorf("get valuation setting: %w", err)
	}

	return row.toEntity(), true, nil
}

// UpsertSetting writes the costing configuration for a product.
func (r *CostRepo) UpsertSetting(ctx context.Context, setting *entity.ValuationSetting) error {
	sql := `
		INSERT INTO valuation_settings (tenant_id, product_id, method, standard_cost, updated_at, updated_by)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (tenant_id, product_id) DO UPDATE SET
			method = EXCLUDED.method,
			standard_cost = EXCLUDED.standard_cost,
			updated_at = EXCLUDED.updated_at,
			updated_by = EXCLUDED.updated_by
	`

	querier := r.txManager.GetQuerier(ctx)
	_, err := querier.Exec(ctx, sql,
		setting.TenantID, setting.ProductID, setting.Method,
		costArg(setting.StandardCost), setting.UpdatedAt, setting.UpdatedBy)
	if err != nil {
		return fmt.Errorf("upsert valuation setting: %w", err)
	}

	return nil
}

// --- FIFO layers ---

var layerColumns = []string{
	"layer_id", "tenant_id", "product_id", "warehouse_id", "lot_id",
	"received_quantity", "remaining_quantity", "unit_cost", "source_move_id", "received_at",
}

// ListOpenLayers returns layers with remaining stock, oldest first.
// Consumption always removes from the oldest open layer first.
func (r *CostRepo) ListOpenLayers(ctx context.Context, scope entity.CostScope) ([]entity.CostLayer, error) {
	sql := `
		SELECT layer_id, tenant_id, product_id, warehouse_id, lot_id,
		       received_quantity, remaining_quantity, unit_cost, source_move_id, received_at
		FROM cost_layers
		WHERE tenant_id = $1 AND product_id = $2 AND warehouse_id = $3
		  AND lot_id IS NOT DISTINCT FROM $4
		  AND remaining_quantity > 0
		ORDER BY received_at, layer_id
	`

	var layers []entity.CostLayer
	querier := r.txManager.GetQuerier(ctx)
	if err := pgxscan.Select(ctx, querier, &layers, sql,
		scope.TenantID, scope.ProductID, scope.WarehouseID, scope.LotID); err != nil {
		return nil, fmt.Errorf("select open layers: %w", err)
	}

	return layers, nil
}

// InsertLayer appends a new cost layer for a receipt.
func (r *CostRepo) InsertLayer(ctx context.Context, layer *entity.CostLayer) error {
	q := r.builder.Insert(costLayersTable).
		Columns(layerColumns...).
		Values(
			layer.LayerID, layer.TenantID, layer.ProductID, layer.WarehouseID, layer.LotID,
			layer.ReceivedQuantity, layer.RemainingQuantity, layer.UnitCost.MinorUnits(),
			layer.SourceMoveID, layer.ReceivedAt,
		)

	sql, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	querier := r.txManager.GetQuerier(ctx)
	if _, err := querier.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("insert cost layer: %w", err)
	}

	return nil
}

// AddToLayerRemaining adjusts remaining_quantity by delta (negative when
// consuming, positive when restoring). The guard keeps remaining within
// [0, received]; a zero row count signals the engine got out of sync with the
// stored layers.
func (r *CostRepo) AddToLayerRemaining(ctx context.Context, tenantID, layerID id.ID, delta int64) error {
	sql := `
		UPDATE cost_layers
		SET remaining_quantity = remaining_quantity + $3
		WHERE tenant_id = $1 AND layer_id = $2
		  AND remaining_quantity + $3 >= 0
		  AND remaining_quantity + $3 <= received_quantity
	`

	querier := r.txManager.GetQuerier(ctx)
	result, err := querier.Exec(ctx, sql, tenantID, layerID, delta)
	if err != nil {
		return fmt.Errorf("adjust layer remaining: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("layer %s: remaining adjustment by %d out of bounds", layerID, delta)
	}

	return nil
}

// SetLayerUnitCost rewrites a layer's unit cost (landed cost reallocation).
func (r *CostRepo) SetLayerUnitCost(ctx context.Context, tenantID, layerID id.ID, unitCost int64) error {
	sql := `
		UPDATE cost_layers
		SET unit_cost = $3
		WHERE tenant_id = $1 AND layer_id = $2
	`

	querier := r.txManager.GetQuerier(ctx)
	result, err := querier.Exec(ctx, sql, tenantID, layerID, unitCost)
	if err != nil {
		return fmt.Errorf("set layer unit cost: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("layer %s not found", layerID)
	}

	return nil
}

// GetLayerBySourceMove finds the layer created by a given receipt move.
func (r *CostRepo) GetLayerBySourceMove(ctx context.Context, tenantID, moveID id.ID) (*entity.CostLayer, error) {
	q := r.builder.Select(layerColumns...).
		From(costLayersTable).
		Where(squirrel.Eq{"tenant_id": tenantID, "source_move_id": moveID})

	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var layer entity.CostLayer
	querier := r.txManager.GetQuerier(ctx)
	if err := pgxscan.Get(ctx, querier, &layer, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get layer by source move: %w", err)
	}

	return &layer, nil
}

// SumRemaining totals remaining quantity over all layers of a scope.
// Compared against the on-hand balance when checking the FIFO invariant.
func (r *CostRepo) SumRemaining(ctx context.Context, scope entity.CostScope) (int64, error) {
	sql := `
		SELECT COALESCE(SUM(remaining_quantity), 0)
		FROM cost_layers
		WHERE tenant_id = $1 AND product_id = $2 AND warehouse_id = $3
		  AND lot_id IS NOT DISTINCT FROM $4
	`

	var total int64
	querier := r.txManager.GetQuerier(ctx)
	if err := querier.QueryRow(ctx, sql,
		scope.TenantID, scope.ProductID, scope.WarehouseID, scope.LotID).Scan(&total); err != nil {
		return 0, fmt.Errorf("sum remaining layers: %w", err)
	}

	return total, nil
}

// --- Consumption audit rows ---

// InsertConsumptions records which layers a consuming move drew from.
func (r *CostRepo) InsertConsumptions(ctx context.Context, consumptions []entity.CostConsumption) error {
	if len(consumptions) == 0 {
		return nil
	}

	q := r.builder.Insert(costConsumptionsTable).Columns(
		"consumption_id", "tenant_id", "move_id", "layer_id", "quantity", "unit_cost", "created_at",
	)

	for _, c := range consumptions {
		q = q.Values(c.ConsumptionID, c.TenantID, c.MoveID, c.LayerID, c.Quantity, c.UnitCost.MinorUnits(), c.CreatedAt)
	}

	sql, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	querier := r.txManager.GetQuerier(ctx)
	if _, err := querier.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("insert consumptions: %w", err)
	}

	return nil
}

// ListConsumptionsByMove returns the layers a move consumed, for reversal.
func (r *CostRepo) ListConsumptionsByMove(ctx context.Context, tenantID, moveID id.ID) ([]entity.CostConsumption, error) {
	q := r.builder.Select(
		"consumption_id", "tenant_id", "move_id", "layer_id", "quantity", "unit_cost", "created_at",
	).From(costConsumptionsTable).
		Where(squirrel.Eq{"tenant_id": tenantID, "move_id": moveID}).
		OrderBy("created_at")

	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var consumptions []entity.CostConsumption
	querier := r.txManager.GetQuerier(ctx)
	if err := pgxscan.Select(ctx, querier, &consumptions, sql, args...); err != nil {
		return nil, fmt.Errorf("select consumptions: %w", err)
	}

	return consumptions, nil
}

// --- AVCO running averages ---

// GetAverage returns the running average for a scope, zero-valued when the
// scope has no row yet.
func (r *CostRepo) GetAverage(ctx context.Context, scope entity.CostScope) (entity.RunningAverage, error) {
	sql := `
		SELECT tenant_id, product_id, warehouse_id, lot_id,
		       total_quantity, total_value, average_unit_cost, updated_at
		FROM running_averages
		WHERE tenant_id = $1 AND product_id = $2 AND warehouse_id = $3
		  AND lot_id IS NOT DISTINCT FROM $4
	`

	var avg entity.RunningAverage
	querier := r.txManager.GetQuerier(ctx)
	err := pgxscan.Get(ctx, querier, &avg, sql,
		scope.TenantID, scope.ProductID, scope.WarehouseID, scope.LotID)
	if err != nil {
		if pgxscan.NotFound(err) {
			return entity.RunningAverage{
				TenantID:    scope.TenantID,
				ProductID:   scope.ProductID,
				WarehouseID: scope.WarehouseID,
				LotID:       scope.LotID,
			}, nil
		}
		return avg, fmt.Errorf("get running average: %w", err)
	}

	return avg, nil
}

// UpsertAverage writes the running average back.
func (r *CostRepo) UpsertAverage(ctx context.Context, avg *entity.RunningAverage) error {
	sql := `
		INSERT INTO running_averages (
			tenant_id, product_id, warehouse_id, lot_id,
			total_quantity, total_value, average_unit_cost, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (tenant_id, product_id, warehouse_id, lot_key) DO UPDATE SET
			total_quantity = EXCLUDED.total_quantity,
			total_value = EXCLUDED.total_value,
			average_unit_cost = EXCLUDED.average_unit_cost,
			updated_at = EXCLUDED.updated_at
	`

	querier := r.txManager.GetQuerier(ctx)
	_, err := querier.Exec(ctx, sql,
		avg.TenantID, avg.ProductID, avg.WarehouseID, avg.LotID,
		avg.TotalQuantity, avg.TotalValue.MinorUnits(), avg.AverageUnitCost.MinorUnits(), avg.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert running average: %w", err)
	}

	return nil
}

// --- Standard-cost variances ---

// InsertVariance records an actual-versus-standard cost variance entry.
func (r *CostRepo) InsertVariance(ctx context.Context, v *entity.CostVariance) error {
	q := r.builder.Insert(costVariancesTable).
		Columns("variance_id", "tenant_id", "product_id", "move_id", "quantity", "amount", "created_at").
		Values(v.VarianceID, v.TenantID, v.ProductID, v.MoveID, v.Quantity, v.Amount.MinorUnits(), v.CreatedAt)

	sql, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	querier := r.txManager.GetQuerier(ctx)
	if _, err := querier.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("insert cost variance: %w", err)
	}

	return nil
}

// ListVariancesByMove returns the variances a move posted, oldest first.
func (r *CostRepo) ListVariancesByMove(ctx context.Context, tenantID, moveID id.ID) ([]entity.CostVariance, error) {
	q := r.builder.Select(
		"variance_id", "tenant_id", "product_id", "move_id", "quantity", "amount", "created_at",
	).From(costVariancesTable).
		Where(squirrel.Eq{"tenant_id": tenantID, "move_id": moveID}).
		OrderBy("created_at")

	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var variances []entity.CostVariance
	querier := r.txManager.GetQuerier(ctx)
	if err := pgxscan.Select(ctx, querier, &variances, sql, args...); err != nil {
		return nil, fmt.Errorf("select variances by move: %w", err)
	}

	return variances, nil
}

// settingRow scans valuation_settings with nullable standard cost.
type settingRow struct {
	TenantID     id.ID                `db:"tenant_id"`
	ProductID    id.ID                `db:"product_id"`
	Method       entity.CostingMethod `db:"method"`
	StandardCost *int64               `db:"standard_cost"`
	UpdatedAt    time.Time            `db:"updated_at"`
	UpdatedBy    id.ID                `db:"updated_by"`
}

func (r *settingRow) toEntity() entity.ValuationSetting {
	s := entity.ValuationSetting{
		TenantID:  r.TenantID,
		ProductID: r.ProductID,
		Method:    r.Method,
		UpdatedAt: r.UpdatedAt,
		UpdatedBy: r.UpdatedBy,
	}
	if r.StandardCost != nil {
		v := money.FromMinorUnits(*r.StandardCost)
		s.StandardCost = &v
	}
	return s
}
