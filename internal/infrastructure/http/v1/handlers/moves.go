package handlers

import (
	"github.com/gin-gonic/gin"

	"stockledger/internal/core/entity"
	"stockledger/internal/core/id"
	"stockledger/internal/core/money"
	"stockledger/internal/domain/ledger"
	"stockledger/internal/infrastructure/http/v1/dto"
)

// MoveHandler exposes the ledger write path and movement history.
type MoveHandler struct {
	*BaseHandler
	service *ledger.Service
}

// NewMoveHandler creates a new move handler.
func NewMoveHandler(service *ledger.Service) *MoveHandler {
	return &MoveHandler{BaseHandler: NewBaseHandler(), service: service}
}

// Submit records one stock move.
// POST /api/v1/moves
func (h *MoveHandler) Submit(c *gin.Context) {
	var req dto.SubmitMoveRequest
	if !h.BindJSON(c, &req) {
		return
	}

	cmd, ok := h.toCommand(c, &req)
	if !ok {
		return
	}

	move, err := h.service.SubmitMove(c.Request.Context(), cmd)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.Created(c, dto.FromMove(move))
}

// Transfer moves stock between two locations atomically.
// POST /api/v1/moves/transfer
func (h *MoveHandler) Transfer(c *gin.Context) {
	var req dto.TransferRequest
	if !h.BindJSON(c, &req) {
		return
	}

	productID, _ := id.Parse(req.ProductID)
	fromWarehouseID, _ := id.Parse(req.FromWarehouseID)
	fromLocationID, _ := id.Parse(req.FromLocationID)
	toWarehouseID, _ := id.Parse(req.ToWarehouseID)
	toLocationID, _ := id.Parse(req.ToLocationID)
	lotID, ok := h.ParseOptionalID(c, req.LotID)
	if !ok {
		return
	}
	refID, ok := h.ParseOptionalID(c, req.ReferenceID)
	if !ok {
		return
	}

	cmd := &ledger.TransferCommand{
		ProductID:       productID,
		LotID:           lotID,
		FromWarehouseID: fromWarehouseID,
		FromLocationID:  fromLocationID,
		ToWarehouseID:   toWarehouseID,
		ToLocationID:    toLocationID,
		Quantity:        req.Quantity,
		Reference:       req.ReferenceType,
		Key:             req.IdempotencyKey,
		Reason:          req.Reason,
	}
	if refID != nil {
		cmd.ReferenceID = *refID
	}

	out, in, err := h.service.Transfer(c.Request.Context(), cmd)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.Created(c, dto.TransferResponse{Out: dto.FromMove(out), In: dto.FromMove(in)})
}

// Reverse records an offsetting move against an existing one.
// POST /api/v1/moves/:id/reverse
func (h *MoveHandler) Reverse(c *gin.Context) {
	moveID, ok := h.ParseID(c, "id")
	if !ok {
		return
	}

	var req dto.ReverseMoveRequest
	if !h.BindJSON(c, &req) {
		return
	}

	reversal, err := h.service.ReverseMove(c.Request.Context(), &ledger.ReverseCommand{
		MoveID: moveID,
		Key:    req.IdempotencyKey,
		Reason: req.Reason,
	})
	if err != nil {
		h.Error(c, err)
		return
	}

	h.Created(c, dto.FromMove(reversal))
}

// LandedCost spreads an extra acquisition cost over a recorded receipt.
// POST /api/v1/moves/landed-cost
func (h *MoveHandler) LandedCost(c *gin.Context) {
	var req dto.LandedCostRequest
	if !h.BindJSON(c, &req) {
		return
	}

	receiptID, _ := id.Parse(req.ReceiptMoveID)
	err := h.service.ApplyLandedCost(c.Request.Context(), &ledger.LandedCostCommand{
		ReceiptMoveID: receiptID,
		Amount:        money.FromMinorUnits(req.Amount),
		Key:           req.IdempotencyKey,
	})
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, dto.SuccessResponse{Success: true})
}

// Get returns one journal entry.
// GET /api/v1/moves/:id
func (h *MoveHandler) Get(c *gin.Context) {
	moveID, ok := h.ParseID(c, "id")
	if !ok {
		return
	}

	move, err := h.service.GetMove(c.Request.Context(), moveID)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, dto.FromMove(move))
}

// List returns movement history, newest first.
// GET /api/v1/moves
func (h *MoveHandler) List(c *gin.Context) {
	var q dto.MoveHistoryQuery
	if !h.BindQuery(c, &q) {
		return
	}

	filter := ledger.MoveFilter{
		From:   q.From,
		To:     q.To,
		Limit:  q.Limit,
		Offset: q.Offset,
	}
	var ok bool
	if filter.ProductID, ok = h.ParseOptionalID(c, q.ProductID); !ok {
		return
	}
	if filter.WarehouseID, ok = h.ParseOptionalID(c, q.WarehouseID); !ok {
		return
	}
	if filter.LocationID, ok = h.ParseOptionalID(c, q.LocationID); !ok {
		return
	}
	if q.MoveType != nil {
		mt := entity.MoveType(*q.MoveType)
		filter.MoveType = &mt
	}
	if filter.Limit == 0 {
		filter.Limit = 100
	}

	moves, err := h.service.ListMoves(c.Request.Context(), filter)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, dto.ListResponse{Items: dto.FromMoves(moves), Count: len(moves)})
}

// Consumptions returns the cost layers a move drew from.
// GET /api/v1/moves/:id/consumptions
func (h *MoveHandler) Consumptions(c *gin.Context) {
	moveID, ok := h.ParseID(c, "id")
	if !ok {
		return
	}

	move, err := h.service.GetMove(c.Request.Context(), moveID)
	if err != nil {
		h.Error(c, err)
		return
	}

	consumptions, err := h.service.GetConsumptions(c.Request.Context(), move.MoveID)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, dto.ListResponse{Items: dto.FromConsumptions(consumptions), Count: len(consumptions)})
}

func (h *MoveHandler) toCommand(c *gin.Context, req *dto.SubmitMoveRequest) (*ledger.SubmitMoveCommand, bool) {
	productID, _ := id.Parse(req.ProductID)
	warehouseID, _ := id.Parse(req.WarehouseID)
	locationID, _ := id.Parse(req.LocationID)

	lotID, ok := h.ParseOptionalID(c, req.LotID)
	if !ok {
		return nil, false
	}
	refID, ok := h.ParseOptionalID(c, req.ReferenceID)
	if !ok {
		return nil, false
	}

	cmd := &ledger.SubmitMoveCommand{
		ProductID:   productID,
		WarehouseID: warehouseID,
		LocationID:  locationID,
		LotID:       lotID,
		MoveType:    entity.MoveType(req.MoveType),
		Quantity:    req.Quantity,
		UnitCost:    req.UnitCostMoney(),
		Reference:   req.ReferenceType,
		Key:         req.IdempotencyKey,
		Reason:      req.Reason,
	}
	if refID != nil {
		cmd.ReferenceID = *refID
	}
	return cmd, true
}
