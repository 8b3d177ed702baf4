package valuation

import (
	"context"
	"time"

	"stockledger/internal/core/apperror"
	"stockledger/internal/core/entity"
	"stockledger/internal/core/id"
	"stockledger/internal/core/money"
)

// standardValue prices the move at the configured standard cost.
//
// When a receipt declares an acquisition cost different from the standard,
// the difference is posted as a purchase price variance entry. The variance
// never changes the unit cost the ledger carries.
func (e *Engine) standardValue(ctx context.Context, move *entity.StockMove, setting entity.ValuationSetting, delta int64, declaredUnitCost *money.Money) (Result, error) {
	if setting.StandardCost == nil {
		return Result{}, apperror.NewConsistencyViolation("standard costing configured without a standard cost").
			WithDetail("product_id", move.ProductID.String())
	}
	std := *setting.StandardCost

	quantity := delta
	if quantity < 0 {
		quantity = -quantity
	}

	if delta > 0 && declaredUnitCost != nil && *declaredUnitCost != std {
		variance := entity.CostVariance{
			VarianceID: id.New(),
			TenantID:   move.TenantID,
			ProductID:  move.ProductID,
			MoveID:     move.MoveID,
			Quantity:   quantity,
			Amount:     money.Mul(quantity, declaredUnitCost.Sub(std)),
			CreatedAt:  time.Now().UTC(),
		}
		if err := e.repo.InsertVariance(ctx, &variance); err != nil {
			return Result{}, err
		}
	}

	return Result{UnitCost: std, TotalCost: money.Mul(quantity, std)}, nil
}

// standardUnwind posts offsetting entries for every variance the original
// move carried. Standard costing keeps no layer or average state, so that is
// the only cost state to undo.
func (e *Engine) standardUnwind(ctx context.Context, original, reversal *entity.StockMove) error {
	variances, err := e.repo.ListVariancesByMove(ctx, original.TenantID, original.MoveID)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	for _, v := range variances {
		offset := entity.CostVariance{
			VarianceID: id.New(),
			TenantID:   original.TenantID,
			ProductID:  original.ProductID,
			MoveID:     reversal.MoveID,
			Quantity:   -v.Quantity,
			Amount:     v.Amount.Neg(),
			CreatedAt:  now,
		}
		if err := e.repo.InsertVariance(ctx, &offset); err != nil {
			return err
		}
	}
	return nil
}
