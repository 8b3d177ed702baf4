package handlers

import (
	"github.com/gin-gonic/gin"

	"stockledger/internal/core/id"
	"stockledger/internal/domain/ledger"
	"stockledger/internal/infrastructure/http/v1/dto"
)

// BalanceHandler exposes projected balances and turnover reports.
type BalanceHandler struct {
	*BaseHandler
	service *ledger.Service
}

// NewBalanceHandler creates a new balance handler.
func NewBalanceHandler(service *ledger.Service) *BalanceHandler {
	return &BalanceHandler{BaseHandler: NewBaseHandler(), service: service}
}

// Get returns the balance for a product in a warehouse, optionally narrowed
// to one location.
// GET /api/v1/balances
func (h *BalanceHandler) Get(c *gin.Context) {
	var q dto.BalanceQuery
	if !h.BindQuery(c, &q) {
		return
	}

	productID, _ := id.Parse(q.ProductID)
	warehouseID, _ := id.Parse(q.WarehouseID)
	locationID, ok := h.ParseOptionalID(c, q.LocationID)
	if !ok {
		return
	}

	balance, err := h.service.GetBalance(c.Request.Context(), productID, warehouseID, locationID)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, dto.FromBalance(balance))
}

// ListByWarehouse returns all non-zero balances of a warehouse.
// GET /api/v1/balances/warehouse/:id
func (h *BalanceHandler) ListByWarehouse(c *gin.Context) {
	warehouseID, ok := h.ParseID(c, "id")
	if !ok {
		return
	}

	levels, err := h.service.ListWarehouseBalances(c.Request.Context(), warehouseID)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, dto.ListResponse{Items: dto.FromLevels(levels), Count: len(levels)})
}

// Turnover returns opening, receipts, issues and closing for a period.
// GET /api/v1/reports/turnover
func (h *BalanceHandler) Turnover(c *gin.Context) {
	var q dto.TurnoverQuery
	if !h.BindQuery(c, &q) {
		return
	}

	filter := ledger.TurnoverFilter{From: q.From, To: q.To}
	var ok bool
	if filter.WarehouseID, ok = h.ParseOptionalID(c, q.WarehouseID); !ok {
		return
	}
	if filter.ProductID, ok = h.ParseOptionalID(c, q.ProductID); !ok {
		return
	}

	turnover, err := h.service.GetTurnover(c.Request.Context(), filter)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, turnover)
}
