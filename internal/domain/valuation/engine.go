// Package valuation assigns costs to stock moves using the costing method
// configured per product: FIFO layers, running average (AVCO) or standard
// cost with variance tracking.
//
// The engine always runs inside the same transaction that appended the move,
// after the balance projection succeeded, so cost state and balances commit
// or roll back together.
package valuation

import (
	"context"

	"stockledger/internal/core/apperror"
	"stockledger/internal/core/entity"
	"stockledger/internal/core/id"
	"stockledger/internal/core/money"
	"stockledger/pkg/logger"
)

// Repository persists cost layers, running averages, consumption audit rows,
// variances and per-product settings.
type Repository interface {
	GetSetting(ctx context.Context, tenantID, productID id.ID) (entity.ValuationSetting, bool, error)
	UpsertSetting(ctx context.Context, setting *entity.ValuationSetting) error

	ListOpenLayers(ctx context.Context, scope entity.CostScope) ([]entity.CostLayer, error)
	InsertLayer(ctx context.Context, layer *entity.CostLayer) error
	AddToLayerRemaining(ctx context.Context, tenantID, layerID id.ID, delta int64) error
	SetLayerUnitCost(ctx context.Context, tenantID, layerID id.ID, unitCost int64) error
	GetLayerBySourceMove(ctx context.Context, tenantID, moveID id.ID) (*entity.CostLayer, error)
	SumRemaining(ctx context.Context, scope entity.CostScope) (int64, error)

	InsertConsumptions(ctx context.Context, consumptions []entity.CostConsumption) error
	ListConsumptionsByMove(ctx context.Context, tenantID, moveID id.ID) ([]entity.CostConsumption, error)

	GetAverage(ctx context.Context, scope entity.CostScope) (entity.RunningAverage, error)
	UpsertAverage(ctx context.Context, avg *entity.RunningAverage) error

	InsertVariance(ctx context.Context, v *entity.CostVariance) error
	ListVariancesByMove(ctx context.Context, tenantID, moveID id.ID) ([]entity.CostVariance, error)
}

// OnHandSource reports the projected on-hand quantity of a cost scope.
// Used to tell a genuine shortage apart from layers drifting out of sync
// with the balance.
type OnHandSource interface {
	SumOnHandByScope(ctx context.Context, scope entity.CostScope) (int64, error)
}

// Result is the cost assigned to one move.
type Result struct {
	UnitCost  money.Money
	TotalCost money.Money
}

// Engine values stock moves.
type Engine struct {
	repo   Repository
	onHand OnHandSource
}

// NewEngine creates a valuation engine.
func NewEngine(repo Repository, onHand OnHandSource) *Engine {
	return &Engine{repo: repo, onHand: onHand}
}

// Method returns the configured costing setting for a product.
// Products without explicit configuration default to FIFO.
func (e *Engine) Method(ctx context.Context, tenantID, productID id.ID) (entity.ValuationSetting, error) {
	setting, ok, err := e.repo.GetSetting(ctx, tenantID, productID)
	if err != nil {
		return setting, err
	}
	if !ok {
		return entity.ValuationSetting{
			TenantID:  tenantID,
			ProductID: productID,
			Method:    entity.CostingFIFO,
		}, nil
	}
	if !setting.Method.Valid() {
		return setting, apperror.NewInvalidCostingMethod(string(setting.Method))
	}
	return setting, nil
}

// Configure validates and stores the costing setting for a product.
// Switching methods affects future moves only; existing cost state stays.
func (e *Engine) Configure(ctx context.Context, setting *entity.ValuationSetting) error {
	if !setting.Method.Valid() {
		return apperror.NewInvalidCostingMethod(string(setting.Method))
	}
	if setting.Method == entity.CostingStandard {
		if setting.StandardCost == nil {
			return apperror.NewValidation("standard costing requires a standard cost")
		}
		if setting.StandardCost.IsNegative() {
			return apperror.NewValidation("standard cost must not be negative")
		}
	}
	return e.repo.UpsertSetting(ctx, setting)
}

// ValueMove assigns a cost to a move that changes on-hand stock.
// declaredUnitCost is the caller-supplied acquisition cost; required for
// inbound moves under FIFO and AVCO, informational under standard costing.
//
// Dispatch is an exhaustive switch over the closed method set. An unknown
// method stored in settings fails the whole transaction.
func (e *Engine) ValueMove(ctx context.Context, move *entity.StockMove, declaredUnitCost *money.Money) (Result, error) {
	delta := move.OnHandDelta()
	if delta == 0 {
		// Reservations and releases carry no cost.
		return Result{}, nil
	}

	setting, err := e.Method(ctx, move.TenantID, move.ProductID)
	if err != nil {
		return Result{}, err
	}

	scope := move.Key().CostScope()

	var result Result
	switch setting.Method {
	case entity.CostingFIFO:
		if delta > 0 {
			result, err = e.fifoReceive(ctx, move, scope, delta, declaredUnitCost)
		} else {
			result, err = e.fifoConsume(ctx, move, scope, -delta)
		}
	case entity.CostingAVCO:
		if delta > 0 {
			result, err = e.avcoReceive(ctx, move, scope, delta, declaredUnitCost)
		} else {
			result, err = e.avcoConsume(ctx, move, scope, -delta)
		}
	case entity.CostingStandard:
		result, err = e.standardValue(ctx, move, setting, delta, declaredUnitCost)
	default:
		return Result{}, apperror.NewInvalidCostingMethod(string(setting.Method))
	}
	if err != nil {
		return Result{}, err
	}

	logger.Debug(ctx, "move valued",
		"move_id", move.MoveID.String(),
		"method", string(setting.Method),
		"unit_cost", result.UnitCost.MinorUnits(),
		"total_cost", result.TotalCost.MinorUnits(),
	)

	return result, nil
}

// Reverse undoes the cost effects of an already valued move and returns the
// cost to stamp on the reversal entry.
//
// A consuming move is reversed by restoring exactly the layers it drew from.
// A receipt is reversible only while its layer is untouched; once any of the
// layer has been consumed the receipt can no longer be unwound exactly.
func (e *Engine) Reverse(ctx context.Context, original, reversal *entity.StockMove) (Result, error) {
	setting, err := e.Method(ctx, original.TenantID, original.ProductID)
	if err != nil {
		return Result{}, err
	}

	scope := original.Key().CostScope()
	delta := original.OnHandDelta()

	var unitCost, totalCost money.Money
	if original.UnitCost != nil {
		unitCost = *original.UnitCost
	}
	if original.TotalCost != nil {
		totalCost = original.TotalCost.Neg()
	}

	switch setting.Method {
	case entity.CostingFIFO:
		if delta > 0 {
			if err := e.fifoUnwindReceipt(ctx, original); err != nil {
				return Result{}, err
			}
		} else if delta < 0 {
			if err := e.fifoRestoreConsumption(ctx, original, reversal); err != nil {
				return Result{}, err
			}
		}
	case entity.CostingAVCO:
		if err := e.avcoUnwind(ctx, scope, original); err != nil {
			return Result{}, err
		}
	case entity.CostingStandard:
		if err := e.standardUnwind(ctx, original, reversal); err != nil {
			return Result{}, err
		}
	default:
		return Result{}, apperror.NewInvalidCostingMethod(string(setting.Method))
	}

	return Result{UnitCost: unitCost, TotalCost: totalCost}, nil
}

// OpenLayers returns the remaining cost layers of a scope, oldest first.
func (e *Engine) OpenLayers(ctx context.Context, scope entity.CostScope) ([]entity.CostLayer, error) {
	return e.repo.ListOpenLayers(ctx, scope)
}

// Consumptions returns the layer drawdowns recorded for a move.
func (e *Engine) Consumptions(ctx context.Context, tenantID, moveID id.ID) ([]entity.CostConsumption, error) {
	return e.repo.ListConsumptionsByMove(ctx, tenantID, moveID)
}

// InventoryValue returns the current book value of a cost scope under the
// product's costing method.
func (e *Engine) InventoryValue(ctx context.Context, scope entity.CostScope) (money.Money, error) {
	setting, err := e.Method(ctx, scope.TenantID, scope.ProductID)
	if err != nil {
		return 0, err
	}

	switch setting.Method {
	case entity.CostingFIFO:
		layers, err := e.repo.ListOpenLayers(ctx, scope)
		if err != nil {
			return 0, err
		}
		var total money.Money
		for _, l := range layers {
			total = total.Add(money.Mul(l.RemainingQuantity, l.UnitCost))
		}
		return total, nil

	case entity.CostingAVCO:
		avg, err := e.repo.GetAverage(ctx, scope)
		if err != nil {
			return 0, err
		}
		return avg.TotalValue, nil

	case entity.CostingStandard:
		onHand, err := e.onHand.SumOnHandByScope(ctx, scope)
		if err != nil {
			return 0, err
		}
		var std money.Money
		if setting.StandardCost != nil {
			std = *setting.StandardCost
		}
		return money.Mul(onHand, std), nil
	}

	return 0, apperror.NewInvalidCostingMethod(string(setting.Method))
}

// CheckLayerInvariant verifies that open layers sum to the on-hand balance of
// the scope. Called after each valued move; a mismatch aborts the
// transaction. No-op for products not on FIFO: only FIFO keeps layers.
func (e *Engine) CheckLayerInvariant(ctx context.Context, scope entity.CostScope) error {
	setting, err := e.Method(ctx, scope.TenantID, scope.ProductID)
	if err != nil {
		return err
	}
	if setting.Method != entity.CostingFIFO {
		return nil
	}

	remaining, err := e.repo.SumRemaining(ctx, scope)
	if err != nil {
		return err
	}
	onHand, err := e.onHand.SumOnHandByScope(ctx, scope)
	if err != nil {
		return err
	}
	if onHand < 0 {
		// Negative stock permitted by tenant policy; layers bottom out at zero.
		return nil
	}
	if remaining != onHand {
		return apperror.NewConsistencyViolation("cost layers do not sum to on-hand balance").
			WithDetail("layers_remaining", remaining).
			WithDetail("on_hand", onHand)
	}
	return nil
}
