package valuation

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"stockledger/internal/core/apperror"
	"stockledger/internal/core/entity"
	"stockledger/internal/core/money"
)

// avcoReceive folds inbound stock into the running average.
//
// Totals are kept exact in minor units; only the derived average unit cost
// is rounded, with banker's rounding, when persisted. A receipt without a
// declared cost enters at the current average and leaves it unchanged.
func (e *Engine) avcoReceive(ctx context.Context, move *entity.StockMove, scope entity.CostScope, quantity int64, declaredUnitCost *money.Money) (Result, error) {
	avg, err := e.repo.GetAverage(ctx, scope)
	if err != nil {
		return Result{}, err
	}

	var unitCost money.Money
	switch {
	case declaredUnitCost != nil:
		if declaredUnitCost.IsNegative() {
			return Result{}, apperror.NewValidation("unit cost must not be negative")
		}
		unitCost = *declaredUnitCost
	default:
		unitCost = avg.AverageUnitCost
	}

	addedValue := money.Mul(quantity, unitCost)

	avg.TotalQuantity += quantity
	avg.TotalValue = avg.TotalValue.Add(addedValue)
	avg.AverageUnitCost = money.FromDecimal(money.Ratio(avg.TotalValue, avg.TotalQuantity))
	avg.UpdatedAt = time.Now().UTC()

	if err := e.repo.UpsertAverage(ctx, &avg); err != nil {
		return Result{}, err
	}

	return Result{UnitCost: unitCost, TotalCost: addedValue}, nil
}

// avcoConsume removes stock at the current average cost.
//
// Draining the scope to zero removes the exact remaining value, so rounding
// residue from earlier issues never survives an empty scope. At zero
// quantity the average resets to zero.
func (e *Engine) avcoConsume(ctx context.Context, move *entity.StockMove, scope entity.CostScope, quantity int64) (Result, error) {
	avg, err := e.repo.GetAverage(ctx, scope)
	if err != nil {
		return Result{}, err
	}

	var totalCost money.Money
	if quantity >= avg.TotalQuantity {
		totalCost = avg.TotalValue
	} else {
		exact := money.Ratio(avg.TotalValue, avg.TotalQuantity).Mul(quantityDecimal(quantity))
		totalCost = money.FromDecimal(exact)
	}

	avg.TotalQuantity -= quantity
	avg.TotalValue = avg.TotalValue.Sub(totalCost)
	if avg.TotalQuantity <= 0 {
		avg.TotalQuantity = 0
		avg.TotalValue = 0
		avg.AverageUnitCost = 0
	} else {
		avg.AverageUnitCost = money.FromDecimal(money.Ratio(avg.TotalValue, avg.TotalQuantity))
	}
	avg.UpdatedAt = time.Now().UTC()

	if err := e.repo.UpsertAverage(ctx, &avg); err != nil {
		return Result{}, err
	}

	unitCost := money.FromDecimal(money.Ratio(totalCost, quantity))
	return Result{UnitCost: unitCost, TotalCost: totalCost}, nil
}

// avcoUnwind reverses a valued move's effect on the running average using the
// exact value it was stamped with.
func (e *Engine) avcoUnwind(ctx context.Context, scope entity.CostScope, original *entity.StockMove) error {
	if original.TotalCost == nil {
		return apperror.NewConsistencyViolation("original move has no recorded cost").
			WithDetail("move_id", original.MoveID.String())
	}

	avg, err := e.repo.GetAverage(ctx, scope)
	if err != nil {
		return err
	}

	delta := original.OnHandDelta()
	value := *original.TotalCost
	if delta < 0 {
		value = value.Neg()
	}

	avg.TotalQuantity -= delta
	avg.TotalValue = avg.TotalValue.Sub(value)
	if avg.TotalQuantity <= 0 {
		avg.TotalQuantity = 0
		avg.TotalValue = 0
		avg.AverageUnitCost = 0
	} else {
		avg.AverageUnitCost = money.FromDecimal(money.Ratio(avg.TotalValue, avg.TotalQuantity))
	}
	avg.UpdatedAt = time.Now().UTC()

	return e.repo.UpsertAverage(ctx, &avg)
}

func quantityDecimal(q int64) decimal.Decimal {
	return decimal.NewFromInt(q)
}
