package dto

import (
	"time"

	"stockledger/internal/core/entity"
)

// ConfigureValuationRequest sets the costing method for a product.
type ConfigureValuationRequest struct {
	Method       string `json:"method" binding:"required,oneof=fifo avco standard"`
	StandardCost *int64 `json:"standardCost,omitempty" binding:"omitempty,min=0"`
}

// ValuationSettingResponse is the effective costing configuration.
type ValuationSettingResponse struct {
	ProductID    string    `json:"productId"`
	Method       string    `json:"method"`
	StandardCost *int64    `json:"standardCost,omitempty"`
	UpdatedAt    time.Time `json:"updatedAt,omitempty"`
}

// FromSetting converts a valuation setting.
func FromSetting(s entity.ValuationSetting) ValuationSettingResponse {
	resp := ValuationSettingResponse{
		ProductID: s.ProductID.String(),
		Method:    string(s.Method),
		UpdatedAt: s.UpdatedAt,
	}
	if s.StandardCost != nil {
		v := s.StandardCost.MinorUnits()
		resp.StandardCost = &v
	}
	return resp
}

// CostLayerQuery narrows a layer lookup.
type CostLayerQuery struct {
	ProductID   string  `form:"productId" binding:"required,uuid"`
	WarehouseID string  `form:"warehouseId" binding:"required,uuid"`
	LotID       *string `form:"lotId" binding:"omitempty,uuid"`
}

// CostLayerResponse is one open FIFO layer.
type CostLayerResponse struct {
	LayerID           string    `json:"layerId"`
	ProductID         string    `json:"productId"`
	WarehouseID       string    `json:"warehouseId"`
	LotID             *string   `json:"lotId,omitempty"`
	ReceivedQuantity  int64     `json:"receivedQuantity"`
	RemainingQuantity int64     `json:"remainingQuantity"`
	UnitCost          int64     `json:"unitCost"`
	SourceMoveID      string    `json:"sourceMoveId"`
	ReceivedAt        time.Time `json:"receivedAt"`
}

// FromLayers converts cost layers.
func FromLayers(layers []entity.CostLayer) []CostLayerResponse {
	out := make([]CostLayerResponse, len(layers))
	for i := range layers {
		l := &layers[i]
		out[i] = CostLayerResponse{
			LayerID:           l.LayerID.String(),
			ProductID:         l.ProductID.String(),
			WarehouseID:       l.WarehouseID.String(),
			ReceivedQuantity:  l.ReceivedQuantity,
			RemainingQuantity: l.RemainingQuantity,
			UnitCost:          l.UnitCost.MinorUnits(),
			SourceMoveID:      l.SourceMoveID.String(),
			ReceivedAt:        l.ReceivedAt,
		}
		if l.LotID != nil {
			s := l.LotID.String()
			out[i].LotID = &s
		}
	}
	return out
}

// InventoryValueResponse is the book value of a cost scope.
type InventoryValueResponse struct {
	ProductID   string `json:"productId"`
	WarehouseID string `json:"warehouseId"`
	Value       int64  `json:"value"`
}

// ConsumptionResponse is one layer drawdown of a move.
type ConsumptionResponse struct {
	LayerID  string `json:"layerId"`
	Quantity int64  `json:"quantity"`
	UnitCost int64  `json:"unitCost"`
}

// FromConsumptions converts layer drawdowns.
func FromConsumptions(cs []entity.CostConsumption) []ConsumptionResponse {
	out := make([]ConsumptionResponse, len(cs))
	for i, c := range cs {
		out[i] = ConsumptionResponse{
			LayerID:  c.LayerID.String(),
			Quantity: c.Quantity,
			UnitCost: c.UnitCost.MinorUnits(),
		}
	}
	return out
}

// PolicyRequest updates the tenant ledger policy.
type PolicyRequest struct {
	AllowNegativeStock bool `json:"allowNegativeStock"`
}

// PolicyResponse is the tenant ledger policy.
type PolicyResponse struct {
	AllowNegativeStock bool      `json:"allowNegativeStock"`
	UpdatedAt          time.Time `json:"updatedAt,omitempty"`
}
