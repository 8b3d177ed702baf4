// Package entity provides core domain entities for the stock ledger.
package entity

import (
	"time"

	"stockledger/internal/core/id"
	"stockledger/internal/core/money"
)

// MoveType classifies a stock move and determines how it projects onto the
// inventory level.
type MoveType string

const (
	MoveTypeReceipt     MoveType = "receipt"
	MoveTypeIssue       MoveType = "issue"
	MoveTypeTransferOut MoveType = "transfer_out"
	MoveTypeTransferIn  MoveType = "transfer_in"
	MoveTypeAdjustment  MoveType = "adjustment"
	MoveTypeScrap       MoveType = "scrap"
	MoveTypeReservation MoveType = "reservation"
	MoveTypeRelease     MoveType = "release"
)

// Valid reports whether t is a known move type.
func (t MoveType) Valid() bool {
	switch t {
	case MoveTypeReceipt, MoveTypeIssue, MoveTypeTransferOut, MoveTypeTransferIn,
		MoveTypeAdjustment, MoveTypeScrap, MoveTypeReservation, MoveTypeRelease:
		return true
	}
	return false
}

// AffectsOnHand reports whether the move type changes on-hand quantity.
// Reservation and release only change the reserved quantity.
func (t MoveType) AffectsOnHand() bool {
	return t != MoveTypeReservation && t != MoveTypeRelease
}

// ConsumesStock reports whether the move type removes on-hand stock and is
// therefore subject to the negative-stock check.
func (t MoveType) ConsumesStock() bool {
	switch t {
	case MoveTypeIssue, MoveTypeTransferOut, MoveTypeScrap:
		return true
	}
	return false
}

// StockMove is an immutable ledger fact. Once written it is never mutated or
// deleted; corrections are new offsetting moves.
type StockMove struct {
	MoveID id.ID `db:"move_id" json:"moveId"`

	// Seq is a monotonically increasing sequence assigned by the store,
	// used for audit ordering within a tenant.
	Seq int64 `db:"seq" json:"seq"`

	TenantID    id.ID  `db:"tenant_id" json:"tenantId"`
	ProductID   id.ID  `db:"product_id" json:"productId"`
	WarehouseID id.ID  `db:"warehouse_id" json:"warehouseId"`
	LocationID  id.ID  `db:"location_id" json:"locationId"`
	LotID       *id.ID `db:"lot_id" json:"lotId,omitempty"`

	MoveType MoveType `db:"move_type" json:"moveType"`

	// Quantity is the signed delta in smallest units. Receipts and transfer-in
	// are positive; issue, transfer-out and scrap negative; adjustments carry
	// the caller's sign. Reservation/release store a positive magnitude that
	// applies to the reserved quantity only.
	Quantity int64 `db:"quantity" json:"quantity"`

	ReferenceType string `db:"reference_type" json:"referenceType"`
	ReferenceID   id.ID  `db:"reference_id" json:"referenceId"`

	// UnitCost/TotalCost are nil until the valuation engine runs, and stay nil
	// for reservation/release moves which carry no cost.
	UnitCost  *money.Money `db:"unit_cost" json:"unitCost,omitempty"`
	TotalCost *money.Money `db:"total_cost" json:"totalCost,omitempty"`

	IdempotencyKey string    `db:"idempotency_key" json:"idempotencyKey"`
	Reason         string    `db:"reason" json:"reason,omitempty"`
	CreatedAt      time.Time `db:"created_at" json:"createdAt"`
	CreatedBy      id.ID     `db:"created_by" json:"createdBy"`
}

// Key returns the aggregate key this move belongs to.
func (m *StockMove) Key() AggregateKey {
	return AggregateKey{
		TenantID:    m.TenantID,
		ProductID:   m.ProductID,
		WarehouseID: m.WarehouseID,
		LocationID:  m.LocationID,
		LotID:       m.LotID,
	}
}

// OnHandDelta returns the signed effect of the move on on-hand quantity.
func (m *StockMove) OnHandDelta() int64 {
	if !m.MoveType.AffectsOnHand() {
		return 0
	}
	return m.Quantity
}

// ReservedDelta returns the signed effect of the move on reserved quantity.
func (m *StockMove) ReservedDelta() int64 {
	switch m.MoveType {
	case MoveTypeReservation:
		return m.Quantity
	case MoveTypeRelease:
		return -m.Quantity
	}
	return 0
}
