package valuation

import (
	"context"
	"time"

	"stockledger/internal/core/apperror"
	"stockledger/internal/core/entity"
	"stockledger/internal/core/id"
	"stockledger/internal/core/money"
)

// fifoReceive opens a new cost layer for inbound stock.
//
// Inbound adjustments without a declared cost reuse the newest layer's unit
// cost, so found stock does not dilute the book value to zero.
func (e *Engine) fifoReceive(ctx context.Context, move *entity.StockMove, scope entity.CostScope, quantity int64, declaredUnitCost *money.Money) (Result, error) {
	var unitCost money.Money
	switch {
	case declaredUnitCost != nil:
		if declaredUnitCost.IsNegative() {
			return Result{}, apperror.NewValidation("unit cost must not be negative")
		}
		unitCost = *declaredUnitCost
	default:
		last, err := e.newestLayerCost(ctx, scope)
		if err != nil {
			return Result{}, err
		}
		unitCost = last
	}

	layer := entity.CostLayer{
		LayerID:           id.New(),
		TenantID:          move.TenantID,
		ProductID:         move.ProductID,
		WarehouseID:       move.WarehouseID,
		LotID:             move.LotID,
		ReceivedQuantity:  quantity,
		RemainingQuantity: quantity,
		UnitCost:          unitCost,
		SourceMoveID:      move.MoveID,
		ReceivedAt:        move.CreatedAt,
	}
	if err := e.repo.InsertLayer(ctx, &layer); err != nil {
		return Result{}, err
	}

	return Result{UnitCost: unitCost, TotalCost: money.Mul(quantity, unitCost)}, nil
}

// fifoConsume draws the requested quantity from open layers, oldest first,
// and returns the blended cost of what was taken.
//
// Open layers should always cover the projected balance. When they fall
// short the engine checks the balance: if stock exists on paper the layers
// are out of sync and the transaction fails hard; if the tenant runs with
// negative stock allowed, the uncovered remainder is valued at the newest
// known layer cost.
func (e *Engine) fifoConsume(ctx context.Context, move *entity.StockMove, scope entity.CostScope, quantity int64) (Result, error) {
	layers, err := e.repo.ListOpenLayers(ctx, scope)
	if err != nil {
		return Result{}, err
	}

	now := time.Now().UTC()
	remaining := quantity
	var totalCost money.Money
	var consumptions []entity.CostConsumption

	for i := range layers {
		if remaining == 0 {
			break
		}
		layer := &layers[i]

		take := layer.RemainingQuantity
		if take > remaining {
			take = remaining
		}

		if err := e.repo.AddToLayerRemaining(ctx, move.TenantID, layer.LayerID, -take); err != nil {
			return Result{}, err
		}

		consumptions = append(consumptions, entity.CostConsumption{
			ConsumptionID: id.New(),
			TenantID:      move.TenantID,
			MoveID:        move.MoveID,
			LayerID:       layer.LayerID,
			Quantity:      take,
			UnitCost:      layer.UnitCost,
			CreatedAt:     now,
		})
		totalCost = totalCost.Add(money.Mul(take, layer.UnitCost))
		remaining -= take
	}

	if remaining > 0 {
		onHand, err := e.onHand.SumOnHandByScope(ctx, scope)
		if err != nil {
			return Result{}, err
		}
		if onHand >= 0 {
			return Result{}, apperror.NewConsistencyViolation("cost layers do not cover projected stock").
				WithDetail("uncovered", remaining).
				WithDetail("on_hand", onHand)
		}

		// All open layers are drained by now; price the remainder at the
		// newest cost seen before draining, zero when the scope had none.
		var last money.Money
		if len(layers) > 0 {
			last = layers[len(layers)-1].UnitCost
		}
		totalCost = totalCost.Add(money.Mul(remaining, last))
	}

	if err := e.repo.InsertConsumptions(ctx, consumptions); err != nil {
		return Result{}, err
	}

	unitCost := money.FromDecimal(money.Ratio(totalCost, quantity))
	return Result{UnitCost: unitCost, TotalCost: totalCost}, nil
}

// fifoUnwindReceipt closes the layer a receipt opened. Fails when any part of
// the layer has been consumed: the receipt can no longer be unwound exactly.
func (e *Engine) fifoUnwindReceipt(ctx context.Context, original *entity.StockMove) error {
	layer, err := e.repo.GetLayerBySourceMove(ctx, original.TenantID, original.MoveID)
	if err != nil {
		return err
	}
	if layer == nil {
		return apperror.NewConsistencyViolation("no cost layer for valued receipt").
			WithDetail("move_id", original.MoveID.String())
	}
	if layer.RemainingQuantity != layer.ReceivedQuantity {
		return apperror.NewBusinessRule(apperror.CodeLayerConsumed,
			"Receipt layer already partially consumed, cannot reverse").
			WithDetail("layer_id", layer.LayerID.String()).
			WithDetail("remaining", layer.RemainingQuantity).
			WithDetail("received", layer.ReceivedQuantity)
	}

	return e.repo.AddToLayerRemaining(ctx, original.TenantID, layer.LayerID, -layer.RemainingQuantity)
}

// fifoRestoreConsumption puts consumed quantities back on exactly the layers
// the original move drew from, and records the restoration for audit.
func (e *Engine) fifoRestoreConsumption(ctx context.Context, original, reversal *entity.StockMove) error {
	consumptions, err := e.repo.ListConsumptionsByMove(ctx, original.TenantID, original.MoveID)
	if err != nil {
		return err
	}
	if len(consumptions) == 0 {
		return apperror.NewConsistencyViolation("no consumption records for valued issue").
			WithDetail("move_id", original.MoveID.String())
	}

	now := time.Now().UTC()
	restored := make([]entity.CostConsumption, 0, len(consumptions))
	for _, c := range consumptions {
		if err := e.repo.AddToLayerRemaining(ctx, original.TenantID, c.LayerID, c.Quantity); err != nil {
			return err
		}
		restored = append(restored, entity.CostConsumption{
			ConsumptionID: id.New(),
			TenantID:      original.TenantID,
			MoveID:        reversal.MoveID,
			LayerID:       c.LayerID,
			Quantity:      -c.Quantity,
			UnitCost:      c.UnitCost,
			CreatedAt:     now,
		})
	}

	return e.repo.InsertConsumptions(ctx, restored)
}

// newestLayerCost returns the unit cost of the most recently received layer
// of the scope, zero when the scope has no layers at all.
func (e *Engine) newestLayerCost(ctx context.Context, scope entity.CostScope) (money.Money, error) {
	layers, err := e.repo.ListOpenLayers(ctx, scope)
	if err != nil {
		return 0, err
	}
	if len(layers) == 0 {
		return 0, nil
	}
	return layers[len(layers)-1].UnitCost, nil
}
