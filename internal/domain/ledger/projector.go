package ledger

import (
	"time"

	"stockledger/internal/core/apperror"
	"stockledger/internal/core/entity"
)

// Projector folds movements into inventory balances. Pure except for the
// clock; the service persists the result under the aggregate lock.
type Projector struct{}

// NewProjector creates a balance projector.
func NewProjector() *Projector {
	return &Projector{}
}

// Apply folds one move into a balance and enforces stock sufficiency.
//
// On-hand may go negative only when the tenant policy allows it. Reserved
// stock can never exceed on-hand and can never go negative, regardless of
// policy: a release without a matching reservation is a caller bug, not a
// stock shortage.
func (p *Projector) Apply(level entity.InventoryLevel, move *entity.StockMove, allowNegative bool) (entity.InventoryLevel, error) {
	if !level.Key().Equal(move.Key()) {
		return level, apperror.NewConsistencyViolation("move applied to wrong balance aggregate")
	}

	onHand := level.OnHand + move.OnHandDelta()
	reserved := level.Reserved + move.ReservedDelta()

	if reserved < 0 {
		return level, apperror.NewConsistencyViolation("release exceeds reserved quantity")
	}

	if !allowNegative {
		if onHand < 0 {
			requested := -move.OnHandDelta()
			return level, apperror.NewInsufficientStock(move.ProductID.String(), requested, level.OnHand, -onHand)
		}
		if reserved > onHand {
			requested := move.ReservedDelta()
			available := level.Available()
			return level, apperror.NewInsufficientStock(move.ProductID.String(), requested, available, reserved-onHand)
		}
	}

	level.OnHand = onHand
	level.Reserved = reserved
	level.UpdatedAt = time.Now().UTC()

	return level, nil
}
