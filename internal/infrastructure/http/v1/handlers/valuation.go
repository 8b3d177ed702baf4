package handlers

import (
	"github.com/gin-gonic/gin"

	"stockledger/internal/core/entity"
	"stockledger/internal/core/id"
	"stockledger/internal/core/money"
	"stockledger/internal/domain/ledger"
	"stockledger/internal/infrastructure/http/v1/dto"
)

// ValuationHandler exposes costing configuration, cost layers and book value.
type ValuationHandler struct {
	*BaseHandler
	service *ledger.Service
}

// NewValuationHandler creates a new valuation handler.
func NewValuationHandler(service *ledger.Service) *ValuationHandler {
	return &ValuationHandler{BaseHandler: NewBaseHandler(), service: service}
}

// Configure sets the costing method for a product.
// PUT /api/v1/valuation/products/:id
func (h *ValuationHandler) Configure(c *gin.Context) {
	productID, ok := h.ParseID(c, "id")
	if !ok {
		return
	}

	var req dto.ConfigureValuationRequest
	if !h.BindJSON(c, &req) {
		return
	}

	var standardCost *money.Money
	if req.StandardCost != nil {
		m := money.FromMinorUnits(*req.StandardCost)
		standardCost = &m
	}

	setting, err := h.service.ConfigureValuation(c.Request.Context(),
		entity.CostingMethod(req.Method), productID, standardCost)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, dto.FromSetting(*setting))
}

// GetSetting returns the effective costing configuration of a product.
// GET /api/v1/valuation/products/:id
func (h *ValuationHandler) GetSetting(c *gin.Context) {
	productID, ok := h.ParseID(c, "id")
	if !ok {
		return
	}

	setting, err := h.service.GetValuationSetting(c.Request.Context(), productID)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, dto.FromSetting(setting))
}

// Layers returns the open FIFO layers of a cost scope, oldest first.
// GET /api/v1/valuation/layers
func (h *ValuationHandler) Layers(c *gin.Context) {
	var q dto.CostLayerQuery
	if !h.BindQuery(c, &q) {
		return
	}

	productID, _ := id.Parse(q.ProductID)
	warehouseID, _ := id.Parse(q.WarehouseID)
	lotID, ok := h.ParseOptionalID(c, q.LotID)
	if !ok {
		return
	}

	layers, err := h.service.GetCostLayers(c.Request.Context(), productID, warehouseID, lotID)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, dto.ListResponse{Items: dto.FromLayers(layers), Count: len(layers)})
}

// Value returns the book value of a cost scope.
// GET /api/v1/valuation/value
func (h *ValuationHandler) Value(c *gin.Context) {
	var q dto.CostLayerQuery
	if !h.BindQuery(c, &q) {
		return
	}

	productID, _ := id.Parse(q.ProductID)
	warehouseID, _ := id.Parse(q.WarehouseID)
	lotID, ok := h.ParseOptionalID(c, q.LotID)
	if !ok {
		return
	}

	value, err := h.service.GetInventoryValue(c.Request.Context(), productID, warehouseID, lotID)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, dto.InventoryValueResponse{
		ProductID:   q.ProductID,
		WarehouseID: q.WarehouseID,
		Value:       value.MinorUnits(),
	})
}

// GetPolicy returns the tenant ledger policy.
// GET /api/v1/policy
func (h *ValuationHandler) GetPolicy(c *gin.Context) {
	policy, err := h.service.GetPolicy(c.Request.Context())
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, dto.PolicyResponse{
		AllowNegativeStock: policy.AllowNegativeStock,
		UpdatedAt:          policy.UpdatedAt,
	})
}

// SetPolicy updates the tenant ledger policy.
// PUT /api/v1/policy
func (h *ValuationHandler) SetPolicy(c *gin.Context) {
	var req dto.PolicyRequest
	if !h.BindJSON(c, &req) {
		return
	}

	policy, err := h.service.SetPolicy(c.Request.Context(), req.AllowNegativeStock)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, dto.PolicyResponse{
		AllowNegativeStock: policy.AllowNegativeStock,
		UpdatedAt:          policy.UpdatedAt,
	})
}
