package valuation

import (
	"context"
	"time"

	"stockledger/internal/core/apperror"
	"stockledger/internal/core/entity"
	"stockledger/internal/core/id"
	"stockledger/internal/core/money"
)

// ApplyLandedCost spreads an additional acquisition cost (freight, duty,
// insurance) over a receipt after the fact.
//
// FIFO: the receipt's layer absorbs the amount into its unit cost; only
// possible while the layer is untouched, otherwise already-issued stock
// would have left at the wrong cost. AVCO: the amount is folded into the
// scope's total value. Standard: the amount is posted as a variance, the
// standard cost never moves.
func (e *Engine) ApplyLandedCost(ctx context.Context, tenantID, receiptMoveID id.ID, move *entity.StockMove, amount money.Money) error {
	if amount.IsNegative() || amount.IsZero() {
		return apperror.NewValidation("landed cost amount must be positive")
	}

	setting, err := e.Method(ctx, tenantID, move.ProductID)
	if err != nil {
		return err
	}

	switch setting.Method {
	case entity.CostingFIFO:
		layer, err := e.repo.GetLayerBySourceMove(ctx, tenantID, receiptMoveID)
		if err != nil {
			return err
		}
		if layer == nil {
			return apperror.NewNotFound("cost layer", receiptMoveID.String())
		}
		if layer.RemainingQuantity != layer.ReceivedQuantity {
			return apperror.NewBusinessRule(apperror.CodeLayerConsumed,
				"Receipt layer already partially consumed, cannot absorb landed cost").
				WithDetail("layer_id", layer.LayerID.String())
		}

		perUnit := money.Ratio(amount, layer.ReceivedQuantity)
		newCost := money.FromDecimal(layer.UnitCost.Decimal().Add(perUnit))
		return e.repo.SetLayerUnitCost(ctx, tenantID, layer.LayerID, newCost.MinorUnits())

	case entity.CostingAVCO:
		scope := move.Key().CostScope()
		avg, err := e.repo.GetAverage(ctx, scope)
		if err != nil {
			return err
		}
		if avg.TotalQuantity == 0 {
			return apperror.NewBusinessRule(apperror.CodeBusinessRule,
				"Cannot apply landed cost to an empty scope")
		}
		avg.TotalValue = avg.TotalValue.Add(amount)
		avg.AverageUnitCost = money.FromDecimal(money.Ratio(avg.TotalValue, avg.TotalQuantity))
		avg.UpdatedAt = time.Now().UTC()
		return e.repo.UpsertAverage(ctx, &avg)

	case entity.CostingStandard:
		variance := entity.CostVariance{
			VarianceID: id.New(),
			TenantID:   tenantID,
			ProductID:  move.ProductID,
			MoveID:     receiptMoveID,
			Quantity:   0,
			Amount:     amount,
			CreatedAt:  time.Now().UTC(),
		}
		return e.repo.InsertVariance(ctx, &variance)
	}

	return apperror.NewInvalidCostingMethod(string(setting.Method))
}
