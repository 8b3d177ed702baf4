package dto

import (
	"time"

	"stockledger/internal/core/entity"
	"stockledger/internal/domain/ledger"
)

// BalanceQuery narrows a balance lookup.
type BalanceQuery struct {
	ProductID   string  `form:"productId" binding:"required,uuid"`
	WarehouseID string  `form:"warehouseId" binding:"required,uuid"`
	LocationID  *string `form:"locationId" binding:"omitempty,uuid"`
}

// BalanceResponse is the projected balance for the queried slice.
type BalanceResponse struct {
	OnHand    int64 `json:"onHand"`
	Reserved  int64 `json:"reserved"`
	Available int64 `json:"available"`
}

// FromBalance converts a balance summary.
func FromBalance(b ledger.BalanceSummary) BalanceResponse {
	return BalanceResponse{OnHand: b.OnHand, Reserved: b.Reserved, Available: b.Available}
}

// LevelResponse is one materialized balance row.
type LevelResponse struct {
	ProductID   string    `json:"productId"`
	WarehouseID string    `json:"warehouseId"`
	LocationID  string    `json:"locationId"`
	LotID       *string   `json:"lotId,omitempty"`
	OnHand      int64     `json:"onHand"`
	Reserved    int64     `json:"reserved"`
	Available   int64     `json:"available"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// FromLevels converts balance rows.
func FromLevels(levels []entity.InventoryLevel) []LevelResponse {
	out := make([]LevelResponse, len(levels))
	for i := range levels {
		l := &levels[i]
		out[i] = LevelResponse{
			ProductID:   l.ProductID.String(),
			WarehouseID: l.WarehouseID.String(),
			LocationID:  l.LocationID.String(),
			OnHand:      l.OnHand,
			Reserved:    l.Reserved,
			Available:   l.Available(),
			UpdatedAt:   l.UpdatedAt,
		}
		if l.LotID != nil {
			s := l.LotID.String()
			out[i].LotID = &s
		}
	}
	return out
}

// MoveHistoryQuery filters movement history.
type MoveHistoryQuery struct {
	ProductID   *string    `form:"productId" binding:"omitempty,uuid"`
	WarehouseID *string    `form:"warehouseId" binding:"omitempty,uuid"`
	LocationID  *string    `form:"locationId" binding:"omitempty,uuid"`
	MoveType    *string    `form:"moveType"`
	From        *time.Time `form:"from" time_format:"2006-01-02T15:04:05Z07:00"`
	To          *time.Time `form:"to" time_format:"2006-01-02T15:04:05Z07:00"`
	Limit       int        `form:"limit" binding:"omitempty,min=1,max=500"`
	Offset      int        `form:"offset" binding:"omitempty,min=0"`
}

// TurnoverQuery selects the scope and period of a turnover report.
type TurnoverQuery struct {
	WarehouseID *string   `form:"warehouseId" binding:"omitempty,uuid"`
	ProductID   *string   `form:"productId" binding:"omitempty,uuid"`
	From        time.Time `form:"from" binding:"required" time_format:"2006-01-02T15:04:05Z07:00"`
	To          time.Time `form:"to" binding:"required" time_format:"2006-01-02T15:04:05Z07:00"`
}
