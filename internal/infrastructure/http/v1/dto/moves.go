package dto

import (
	"time"

	"stockledger/internal/core/entity"
	"stockledger/internal/core/id"
	"stockledger/internal/core/money"
)

// SubmitMoveRequest records one stock move.
type SubmitMoveRequest struct {
	ProductID      string  `json:"productId" binding:"required,uuid"`
	WarehouseID    string  `json:"warehouseId" binding:"required,uuid"`
	LocationID     string  `json:"locationId" binding:"required,uuid"`
	LotID          *string `json:"lotId,omitempty" binding:"omitempty,uuid"`
	MoveType       string  `json:"moveType" binding:"required"`
	Quantity       int64   `json:"quantity" binding:"required"`
	UnitCost       *int64  `json:"unitCost,omitempty"`
	ReferenceType  string  `json:"referenceType,omitempty"`
	ReferenceID    *string `json:"referenceId,omitempty" binding:"omitempty,uuid"`
	IdempotencyKey string  `json:"idempotencyKey" binding:"required,max=128"`
	Reason         string  `json:"reason,omitempty" binding:"max=512"`
}

// TransferRequest moves stock between two locations atomically.
type TransferRequest struct {
	ProductID       string  `json:"productId" binding:"required,uuid"`
	LotID           *string `json:"lotId,omitempty" binding:"omitempty,uuid"`
	FromWarehouseID string  `json:"fromWarehouseId" binding:"required,uuid"`
	FromLocationID  string  `json:"fromLocationId" binding:"required,uuid"`
	ToWarehouseID   string  `json:"toWarehouseId" binding:"required,uuid"`
	ToLocationID    string  `json:"toLocationId" binding:"required,uuid"`
	Quantity        int64   `json:"quantity" binding:"required,min=1"`
	ReferenceType   string  `json:"referenceType,omitempty"`
	ReferenceID     *string `json:"referenceId,omitempty" binding:"omitempty,uuid"`
	IdempotencyKey  string  `json:"idempotencyKey" binding:"required,max=128"`
	Reason          string  `json:"reason,omitempty" binding:"max=512"`
}

// ReverseMoveRequest undoes a recorded move.
type ReverseMoveRequest struct {
	IdempotencyKey string `json:"idempotencyKey" binding:"required,max=128"`
	Reason         string `json:"reason,omitempty" binding:"max=512"`
}

// LandedCostRequest spreads an extra acquisition cost over a receipt.
type LandedCostRequest struct {
	ReceiptMoveID  string `json:"receiptMoveId" binding:"required,uuid"`
	Amount         int64  `json:"amount" binding:"required,min=1"`
	IdempotencyKey string `json:"idempotencyKey" binding:"required,max=128"`
}

// MoveResponse is one journal entry.
type MoveResponse struct {
	MoveID         string    `json:"moveId"`
	Seq            int64     `json:"seq"`
	ProductID      string    `json:"productId"`
	WarehouseID    string    `json:"warehouseId"`
	LocationID     string    `json:"locationId"`
	LotID          *string   `json:"lotId,omitempty"`
	MoveType       string    `json:"moveType"`
	Quantity       int64     `json:"quantity"`
	ReferenceType  string    `json:"referenceType,omitempty"`
	ReferenceID    string    `json:"referenceId,omitempty"`
	UnitCost       *int64    `json:"unitCost,omitempty"`
	TotalCost      *int64    `json:"totalCost,omitempty"`
	IdempotencyKey string    `json:"idempotencyKey"`
	Reason         string    `json:"reason,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	CreatedBy      string    `json:"createdBy"`
}

// FromMove converts a journal entry to its API shape.
func FromMove(m *entity.StockMove) MoveResponse {
	resp := MoveResponse{
		MoveID:         m.MoveID.String(),
		Seq:            m.Seq,
		ProductID:      m.ProductID.String(),
		WarehouseID:    m.WarehouseID.String(),
		LocationID:     m.LocationID.String(),
		MoveType:       string(m.MoveType),
		Quantity:       m.Quantity,
		ReferenceType:  m.ReferenceType,
		IdempotencyKey: m.IdempotencyKey,
		Reason:         m.Reason,
		CreatedAt:      m.CreatedAt,
		CreatedBy:      m.CreatedBy.String(),
	}
	if m.LotID != nil {
		s := m.LotID.String()
		resp.LotID = &s
	}
	if !id.IsNil(m.ReferenceID) {
		resp.ReferenceID = m.ReferenceID.String()
	}
	if m.UnitCost != nil {
		v := m.UnitCost.MinorUnits()
		resp.UnitCost = &v
	}
	if m.TotalCost != nil {
		v := m.TotalCost.MinorUnits()
		resp.TotalCost = &v
	}
	return resp
}

// FromMoves converts a slice of journal entries.
func FromMoves(moves []entity.StockMove) []MoveResponse {
	out := make([]MoveResponse, len(moves))
	for i := range moves {
		out[i] = FromMove(&moves[i])
	}
	return out
}

// TransferResponse carries both halves of a transfer.
type TransferResponse struct {
	Out MoveResponse `json:"out"`
	In  MoveResponse `json:"in"`
}

// UnitCostMoney converts the optional request unit cost.
func (r *SubmitMoveRequest) UnitCostMoney() *money.Money {
	if r.UnitCost == nil {
		return nil
	}
	m := money.FromMinorUnits(*r.UnitCost)
	return &m
}
