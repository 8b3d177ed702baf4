package entity

import (
	"time"

	"stockledger/internal/core/id"
	"stockledger/internal/core/money"
)

// CostingMethod is a closed set fixed by accounting policy. Dispatch is an
// exhaustive switch, not open-ended polymorphism.
type CostingMethod string

const (
	CostingFIFO     CostingMethod = "fifo"
	CostingAVCO     CostingMethod = "avco"
	CostingStandard CostingMethod = "standard"
)

// Valid reports whether m is a known costing method.
func (m CostingMethod) Valid() bool {
	switch m {
	case CostingFIFO, CostingAVCO, CostingStandard:
		return true
	}
	return false
}

// ValuationSetting is the per-(tenant, product) costing configuration.
type ValuationSetting struct {
	TenantID  id.ID         `db:"tenant_id" json:"tenantId"`
	ProductID id.ID         `db:"product_id" json:"productId"`
	Method    CostingMethod `db:"method" json:"method"`

	// StandardCost is set only for the standard method.
	StandardCost *money.Money `db:"standard_cost" json:"standardCost,omitempty"`

	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
	UpdatedBy id.ID     `db:"updated_by" json:"updatedBy"`
}

// CostLayer is a FIFO-tracked batch of received stock with its own unit cost,
// consumed oldest-first. Invariant: sum(remaining) over open layers of a cost
// scope equals the on-hand quantity of that scope.
type CostLayer struct {
	LayerID     id.ID  `db:"layer_id" json:"layerId"`
	TenantID    id.ID  `db:"tenant_id" json:"tenantId"`
	ProductID   id.ID  `db:"product_id" json:"productId"`
	WarehouseID id.ID  `db:"warehouse_id" json:"warehouseId"`
	LotID       *id.ID `db:"lot_id" json:"lotId,omitempty"`

	ReceivedQuantity  int64       `db:"received_quantity" json:"receivedQuantity"`
	RemainingQuantity int64       `db:"remaining_quantity" json:"remainingQuantity"`
	UnitCost          money.Money `db:"unit_cost" json:"unitCost"`

	// SourceMoveID links the layer to the receipt that created it,
	// enabling exact reversal.
	SourceMoveID id.ID     `db:"source_move_id" json:"sourceMoveId"`
	ReceivedAt   time.Time `db:"received_at" json:"receivedAt"`
}

// CostConsumption records how much a consuming move took from one layer.
// Kept so reversals can restore exactly the layers they consumed.
type CostConsumption struct {
	ConsumptionID id.ID       `db:"consumption_id" json:"consumptionId"`
	TenantID      id.ID       `db:"tenant_id" json:"tenantId"`
	MoveID        id.ID       `db:"move_id" json:"moveId"`
	LayerID       id.ID       `db:"layer_id" json:"layerId"`
	Quantity      int64       `db:"quantity" json:"quantity"`
	UnitCost      money.Money `db:"unit_cost" json:"unitCost"`
	CreatedAt     time.Time   `db:"created_at" json:"createdAt"`
}

// RunningAverage is the AVCO state for one cost scope. The average is
// undefined at zero quantity and treated as "no change" on the next receipt.
type RunningAverage struct {
	TenantID    id.ID  `db:"tenant_id" json:"tenantId"`
	ProductID   id.ID  `db:"product_id" json:"productId"`
	WarehouseID id.ID  `db:"warehouse_id" json:"warehouseId"`
	LotID       *id.ID `db:"lot_id" json:"lotId,omitempty"`

	TotalQuantity int64       `db:"total_quantity" json:"totalQuantity"`
	TotalValue    money.Money `db:"total_value" json:"totalValue"`

	// AverageUnitCost is total_value/total_quantity rounded with banker's
	// rounding at persistence time only.
	AverageUnitCost money.Money `db:"average_unit_cost" json:"averageUnitCost"`

	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}

// CostVariance records the difference between actual and standard cost on a
// receipt under standard costing. Variances are separate entries, never
// absorbed into the unit cost.
type CostVariance struct {
	VarianceID id.ID       `db:"variance_id" json:"varianceId"`
	TenantID   id.ID       `db:"tenant_id" json:"tenantId"`
	ProductID  id.ID       `db:"product_id" json:"productId"`
	MoveID     id.ID       `db:"move_id" json:"moveId"`
	Quantity   int64       `db:"quantity" json:"quantity"`
	Amount     money.Money `db:"amount" json:"amount"` // actual - standard, signed
	CreatedAt  time.Time   `db:"created_at" json:"createdAt"`
}

// TenantPolicy carries per-tenant ledger policy flags.
type TenantPolicy struct {
	TenantID id.ID `db:"tenant_id" json:"tenantId"`

	// AllowNegativeStock permits issue-type moves to drive available
	// quantity below zero.
	AllowNegativeStock bool `db:"allow_negative_stock" json:"allowNegativeStock"`

	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}
