package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"stockledger/internal/core/apperror"
	appctx "stockledger/internal/core/context"
	"stockledger/internal/core/entity"
	"stockledger/internal/core/id"
	"stockledger/internal/core/money"
	"stockledger/internal/core/tx"
	"stockledger/internal/domain/valuation"
	"stockledger/internal/infrastructure/metrics"
	"stockledger/pkg/logger"
)

const (
	// Lock contention retries the whole operation, never a single step.
	maxSubmitAttempts = 3
	retryBaseDelay    = 50 * time.Millisecond
)

// Valuer assigns and unwinds move costs. Implemented by valuation.Engine.
type Valuer interface {
	ValueMove(ctx context.Context, move *entity.StockMove, declaredUnitCost *money.Money) (valuation.Result, error)
	Reverse(ctx context.Context, original, reversal *entity.StockMove) (valuation.Result, error)
	ApplyLandedCost(ctx context.Context, tenantID, receiptMoveID id.ID, move *entity.StockMove, amount money.Money) error
	CheckLayerInvariant(ctx context.Context, scope entity.CostScope) error
	OpenLayers(ctx context.Context, scope entity.CostScope) ([]entity.CostLayer, error)
	Consumptions(ctx context.Context, tenantID, moveID id.ID) ([]entity.CostConsumption, error)
	InventoryValue(ctx context.Context, scope entity.CostScope) (money.Money, error)
	Method(ctx context.Context, tenantID, productID id.ID) (entity.ValuationSetting, error)
	Configure(ctx context.Context, setting *entity.ValuationSetting) error
}

// Service is the write path of the stock ledger. Every mutation runs the same
// pipeline inside one transaction: idempotency reservation, aggregate locks,
// journal append, balance projection, valuation, outbox event.
type Service struct {
	txManager   tx.Manager
	moves       MoveRepository
	levels      LevelRepository
	idempotency IdempotencyRepository
	outbox      OutboxRepository
	policies    PolicyRepository
	locks       AggregateLocker
	projector   *Projector
	valuer      Valuer
}

// NewService creates the ledger service.
func NewService(
	txManager tx.Manager,
	moves MoveRepository,
	levels LevelRepository,
	idempotency IdempotencyRepository,
	outbox OutboxRepository,
	policies PolicyRepository,
	locks AggregateLocker,
	valuer Valuer,
) *Service {
	return &Service{
		txManager:   txManager,
		moves:       moves,
		levels:      levels,
		idempotency: idempotency,
		outbox:      outbox,
		policies:    policies,
		locks:       locks,
		projector:   NewProjector(),
		valuer:      valuer,
	}
}

// SubmitMoveCommand describes one stock move to record.
// Quantity is a positive magnitude for every type except adjustment, which
// carries the caller's sign.
type SubmitMoveCommand struct {
	ProductID   id.ID            `json:"product_id"`
	WarehouseID id.ID            `json:"warehouse_id"`
	LocationID  id.ID            `json:"location_id"`
	LotID       *id.ID           `json:"lot_id,omitempty"`
	MoveType    entity.MoveType  `json:"move_type"`
	Quantity    int64            `json:"quantity"`
	UnitCost    *money.Money     `json:"unit_cost,omitempty"`
	Reference   string           `json:"reference_type"`
	ReferenceID id.ID            `json:"reference_id"`
	Key         string           `json:"idempotency_key"`
	Reason      string           `json:"reason,omitempty"`
}

func (c *SubmitMoveCommand) validate() error {
	if !c.MoveType.Valid() {
		return apperror.NewValidation(fmt.Sprintf("unknown move type %q", c.MoveType))
	}
	if c.Key == "" {
		return apperror.NewValidation("idempotency key is required")
	}
	if c.Quantity == 0 {
		return apperror.NewValidation("quantity must not be zero")
	}
	if c.MoveType != entity.MoveTypeAdjustment && c.Quantity < 0 {
		return apperror.NewValidation("quantity must be positive, direction comes from the move type")
	}
	if id.IsNil(c.ProductID) || id.IsNil(c.WarehouseID) || id.IsNil(c.LocationID) {
		return apperror.NewValidation("product, warehouse and location are required")
	}
	if c.UnitCost != nil && c.UnitCost.IsNegative() {
		return apperror.NewValidation("unit cost must not be negative")
	}
	return nil
}

// signedQuantity maps the command quantity onto the ledger sign convention.
func (c *SubmitMoveCommand) signedQuantity() int64 {
	switch c.MoveType {
	case entity.MoveTypeIssue, entity.MoveTypeTransferOut, entity.MoveTypeScrap:
		return -c.Quantity
	}
	return c.Quantity
}

// SubmitMove records one stock move. Resubmitting the same idempotency key
// with the same command returns the previously recorded move; the same key
// with a different command is rejected.
func (s *Service) SubmitMove(ctx context.Context, cmd *SubmitMoveCommand) (*entity.StockMove, error) {
	if err := cmd.validate(); err != nil {
		return nil, err
	}

	user := appctx.GetUser(ctx)
	if user == nil {
		return nil, apperror.NewUnauthorized("no authenticated caller")
	}

	requestHash := hashCommand("submit_move", cmd)

	start := time.Now()
	var result *entity.StockMove
	err := s.withContentionRetry(ctx, func(txCtx context.Context) error {
		move, err := s.submitInTx(txCtx, user, cmd, requestHash)
		if err != nil {
			return err
		}
		result = move
		return nil
	})
	metrics.SubmitLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		if appErr, ok := apperror.AsAppError(err); ok {
			metrics.MovesRejectedTotal.WithLabelValues(appErr.Code).Inc()
		}
		return nil, err
	}
	metrics.MovesRecordedTotal.WithLabelValues(string(result.MoveType)).Inc()

	return result, nil
}

func (s *Service) submitInTx(ctx context.Context, user *appctx.UserContext, cmd *SubmitMoveCommand, requestHash string) (*entity.StockMove, error) {
	moveID := id.New()

	existingID, err := s.idempotency.Reserve(ctx, user.TenantID, cmd.Key, requestHash, moveID)
	if err != nil {
		return nil, err
	}
	if !id.IsNil(existingID) {
		move, err := s.moves.GetByID(ctx, user.TenantID, existingID)
		if err != nil {
			return nil, err
		}
		if move == nil {
			return nil, apperror.NewConsistencyViolation("idempotency record points to missing move").
				WithDetail("move_id", existingID.String())
		}
		metrics.IdempotencyReplaysTotal.Inc()
		logger.Info(ctx, "idempotent replay", "move_id", existingID.String(), "key", cmd.Key)
		return move, nil
	}

	move := &entity.StockMove{
		MoveID:         moveID,
		TenantID:       user.TenantID,
		ProductID:      cmd.ProductID,
		WarehouseID:    cmd.WarehouseID,
		LocationID:     cmd.LocationID,
		LotID:          cmd.LotID,
		MoveType:       cmd.MoveType,
		Quantity:       cmd.signedQuantity(),
		ReferenceType:  cmd.Reference,
		ReferenceID:    cmd.ReferenceID,
		IdempotencyKey: cmd.Key,
		Reason:         cmd.Reason,
		CreatedAt:      time.Now().UTC(),
		CreatedBy:      user.UserID,
	}

	if err := s.applyAndValue(ctx, move, cmd.UnitCost); err != nil {
		return nil, err
	}

	eventType := EventStockMoved
	if move.MoveType == entity.MoveTypeAdjustment {
		eventType = EventStockAdjusted
	}
	if err := s.outbox.Record(ctx, moveEvent(eventType, move)); err != nil {
		return nil, err
	}

	logger.Info(ctx, "stock move recorded",
		"move_id", move.MoveID.String(),
		"move_type", string(move.MoveType),
		"product_id", move.ProductID.String(),
		"quantity", move.Quantity,
	)

	return move, nil
}

// applyAndValue runs lock, projection, append and valuation for one move.
// Must be called inside a transaction.
func (s *Service) applyAndValue(ctx context.Context, move *entity.StockMove, declaredUnitCost *money.Money) error {
	key := move.Key()
	if err := s.locks.Acquire(ctx, key); err != nil {
		return err
	}
	if move.OnHandDelta() != 0 {
		// Layers and the running average are shared by every location of
		// the warehouse, so the per-location key lock is not enough.
		if err := s.locks.AcquireScopes(ctx, key.CostScope()); err != nil {
			return err
		}
	}

	policy, err := s.policies.Get(ctx, move.TenantID)
	if err != nil {
		return err
	}

	level, err := s.levels.GetForUpdate(ctx, key)
	if err != nil {
		return err
	}

	projected, err := s.projector.Apply(level, move, policy.AllowNegativeStock)
	if err != nil {
		return err
	}

	if err := s.moves.Append(ctx, move); err != nil {
		return err
	}
	if err := s.levels.Upsert(ctx, &projected); err != nil {
		return err
	}

	if move.OnHandDelta() != 0 {
		valued, err := s.valuer.ValueMove(ctx, move, declaredUnitCost)
		if err != nil {
			return err
		}
		if err := s.moves.SetCost(ctx, move.TenantID, move.MoveID, valued.UnitCost, valued.TotalCost); err != nil {
			return err
		}
		move.UnitCost = &valued.UnitCost
		move.TotalCost = &valued.TotalCost

		if err := s.valuer.CheckLayerInvariant(ctx, key.CostScope()); err != nil {
			return err
		}
	}

	return nil
}

// TransferCommand moves stock between two locations, possibly across
// warehouses, as one atomic pair of moves.
type TransferCommand struct {
	ProductID       id.ID  `json:"product_id"`
	LotID           *id.ID `json:"lot_id,omitempty"`
	FromWarehouseID id.ID  `json:"from_warehouse_id"`
	FromLocationID  id.ID  `json:"from_location_id"`
	ToWarehouseID   id.ID  `json:"to_warehouse_id"`
	ToLocationID    id.ID  `json:"to_location_id"`
	Quantity        int64  `json:"quantity"`
	Reference       string `json:"reference_type"`
	ReferenceID     id.ID  `json:"reference_id"`
	Key             string `json:"idempotency_key"`
	Reason          string `json:"reason,omitempty"`
}

func (c *TransferCommand) validate() error {
	if c.Quantity <= 0 {
		return apperror.NewValidation("quantity must be positive")
	}
	if c.Key == "" {
		return apperror.NewValidation("idempotency key is required")
	}
	if id.IsNil(c.ProductID) {
		return apperror.NewValidation("product is required")
	}
	if id.IsNil(c.FromWarehouseID) || id.IsNil(c.FromLocationID) ||
		id.IsNil(c.ToWarehouseID) || id.IsNil(c.ToLocationID) {
		return apperror.NewValidation("source and destination warehouse and location are required")
	}
	if c.FromWarehouseID == c.ToWarehouseID && c.FromLocationID == c.ToLocationID {
		return apperror.NewValidation("transfer source and destination are identical")
	}
	return nil
}

// Transfer records the outbound and inbound halves of a stock transfer in one
// transaction. Both aggregate locks are taken in canonical order before
// either half is applied.
//
// Across warehouses the outbound half is costed by the source scope's method
// and the inbound half enters the destination scope at that blended cost.
// Within one warehouse the cost scope does not change, so the pair carries no
// cost and the cost state is untouched.
func (s *Service) Transfer(ctx context.Context, cmd *TransferCommand) (*entity.StockMove, *entity.StockMove, error) {
	if err := cmd.validate(); err != nil {
		return nil, nil, err
	}

	user := appctx.GetUser(ctx)
	if user == nil {
		return nil, nil, apperror.NewUnauthorized("no authenticated caller")
	}

	requestHash := hashCommand("transfer", cmd)

	var out, in *entity.StockMove
	err := s.withContentionRetry(ctx, func(txCtx context.Context) error {
		var err error
		out, in, err = s.transferInTx(txCtx, user, cmd, requestHash)
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	return out, in, nil
}

func (s *Service) transferInTx(ctx context.Context, user *appctx.UserContext, cmd *TransferCommand, requestHash string) (*entity.StockMove, *entity.StockMove, error) {
	outID := id.New()

	existingID, err := s.idempotency.Reserve(ctx, user.TenantID, cmd.Key, requestHash, outID)
	if err != nil {
		return nil, nil, err
	}
	if !id.IsNil(existingID) {
		out, err := s.moves.GetByID(ctx, user.TenantID, existingID)
		if err != nil {
			return nil, nil, err
		}
		if out == nil {
			return nil, nil, apperror.NewConsistencyViolation("idempotency record points to missing move").
				WithDetail("move_id", existingID.String())
		}
		in, err := s.moves.GetByIdempotencyKey(ctx, user.TenantID, inboundTransferKey(existingID))
		if err != nil {
			return nil, nil, err
		}
		return out, in, nil
	}

	now := time.Now().UTC()
	transferRef := cmd.ReferenceID
	if id.IsNil(transferRef) {
		transferRef = outID
	}

	out := &entity.StockMove{
		MoveID:         outID,
		TenantID:       user.TenantID,
		ProductID:      cmd.ProductID,
		WarehouseID:    cmd.FromWarehouseID,
		LocationID:     cmd.FromLocationID,
		LotID:          cmd.LotID,
		MoveType:       entity.MoveTypeTransferOut,
		Quantity:       -cmd.Quantity,
		ReferenceType:  ReferenceTypeTransfer,
		ReferenceID:    transferRef,
		IdempotencyKey: cmd.Key,
		Reason:         cmd.Reason,
		CreatedAt:      now,
		CreatedBy:      user.UserID,
	}
	in := &entity.StockMove{
		MoveID:         id.New(),
		TenantID:       user.TenantID,
		ProductID:      cmd.ProductID,
		WarehouseID:    cmd.ToWarehouseID,
		LocationID:     cmd.ToLocationID,
		LotID:          cmd.LotID,
		MoveType:       entity.MoveTypeTransferIn,
		Quantity:       cmd.Quantity,
		ReferenceType:  ReferenceTypeTransfer,
		ReferenceID:    transferRef,
		IdempotencyKey: inboundTransferKey(outID),
		Reason:         cmd.Reason,
		CreatedAt:      now,
		CreatedBy:      user.UserID,
	}

	outKey, inKey := out.Key(), in.Key()
	if err := s.locks.Acquire(ctx, outKey, inKey); err != nil {
		return nil, nil, err
	}

	sameScope := outKey.CostScope().Equal(inKey.CostScope())
	if !sameScope {
		if err := s.locks.AcquireScopes(ctx, outKey.CostScope(), inKey.CostScope()); err != nil {
			return nil, nil, err
		}
	}

	policy, err := s.policies.Get(ctx, user.TenantID)
	if err != nil {
		return nil, nil, err
	}

	if err := s.applyHalf(ctx, out, policy.AllowNegativeStock, !sameScope, nil); err != nil {
		return nil, nil, err
	}

	var inCost *money.Money
	if !sameScope && out.UnitCost != nil {
		inCost = out.UnitCost
	}
	if err := s.applyHalf(ctx, in, policy.AllowNegativeStock, !sameScope, inCost); err != nil {
		return nil, nil, err
	}

	if err := s.outbox.Record(ctx, moveEvent(EventStockMoved, out)); err != nil {
		return nil, nil, err
	}
	if err := s.outbox.Record(ctx, moveEvent(EventStockMoved, in)); err != nil {
		return nil, nil, err
	}

	logger.Info(ctx, "transfer recorded",
		"out_move_id", out.MoveID.String(),
		"in_move_id", in.MoveID.String(),
		"quantity", cmd.Quantity,
	)

	return out, in, nil
}

// inboundTransferKey derives the journal key of the inbound half from the
// outbound move ID. The outbound ID is server-generated, so the derived key
// cannot collide with any caller-chosen idempotency key.
func inboundTransferKey(outID id.ID) string {
	return "transfer-in:" + outID.String()
}

// applyHalf projects and appends one half of a transfer. Locks are already
// held by the caller.
func (s *Service) applyHalf(ctx context.Context, move *entity.StockMove, allowNegative, valued bool, declaredUnitCost *money.Money) error {
	level, err := s.levels.GetForUpdate(ctx, move.Key())
	if err != nil {
		return err
	}
	projected, err := s.projector.Apply(level, move, allowNegative)
	if err != nil {
		return err
	}
	if err := s.moves.Append(ctx, move); err != nil {
		return err
	}
	if err := s.levels.Upsert(ctx, &projected); err != nil {
		return err
	}

	if !valued {
		return nil
	}

	res, err := s.valuer.ValueMove(ctx, move, declaredUnitCost)
	if err != nil {
		return err
	}
	if err := s.moves.SetCost(ctx, move.TenantID, move.MoveID, res.UnitCost, res.TotalCost); err != nil {
		return err
	}
	move.UnitCost = &res.UnitCost
	move.TotalCost = &res.TotalCost

	return s.valuer.CheckLayerInvariant(ctx, move.Key().CostScope())
}

// ReverseCommand undoes a previously recorded move.
type ReverseCommand struct {
	MoveID id.ID  `json:"move_id"`
	Key    string `json:"idempotency_key"`
	Reason string `json:"reason,omitempty"`
}

// ReverseMove records an offsetting move against the original. The original
// entry stays in the journal untouched. A move can be reversed at most once;
// reservations are undone with a release, not a reversal.
func (s *Service) ReverseMove(ctx context.Context, cmd *ReverseCommand) (*entity.StockMove, error) {
	if cmd.Key == "" {
		return nil, apperror.NewValidation("idempotency key is required")
	}

	user := appctx.GetUser(ctx)
	if user == nil {
		return nil, apperror.NewUnauthorized("no authenticated caller")
	}

	requestHash := hashCommand("reverse_move", cmd)

	var result *entity.StockMove
	err := s.withContentionRetry(ctx, func(txCtx context.Context) error {
		move, err := s.reverseInTx(txCtx, user, cmd, requestHash)
		if err != nil {
			return err
		}
		result = move
		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

func (s *Service) reverseInTx(ctx context.Context, user *appctx.UserContext, cmd *ReverseCommand, requestHash string) (*entity.StockMove, error) {
	reversalID := id.New()

	existingID, err := s.idempotency.Reserve(ctx, user.TenantID, cmd.Key, requestHash, reversalID)
	if err != nil {
		return nil, err
	}
	if !id.IsNil(existingID) {
		return s.moves.GetByID(ctx, user.TenantID, existingID)
	}

	original, err := s.moves.GetByID(ctx, user.TenantID, cmd.MoveID)
	if err != nil {
		return nil, err
	}
	if original == nil {
		return nil, apperror.NewNotFound("stock move", cmd.MoveID.String())
	}
	if !original.MoveType.AffectsOnHand() {
		return nil, apperror.NewBusinessRule(apperror.CodeBusinessRule,
			"Reservations are undone with a release, not a reversal")
	}
	if original.ReferenceType == ReferenceTypeReversal {
		return nil, apperror.NewBusinessRule(apperror.CodeBusinessRule,
			"A reversal cannot itself be reversed")
	}

	if existing, err := s.moves.FindReversal(ctx, user.TenantID, original.MoveID); err != nil {
		return nil, err
	} else if existing != nil {
		return nil, apperror.NewBusinessRule(apperror.CodeMoveReversed, "Move is already reversed").
			WithDetail("reversal_move_id", existing.MoveID.String())
	}

	reversal := &entity.StockMove{
		MoveID:         reversalID,
		TenantID:       user.TenantID,
		ProductID:      original.ProductID,
		WarehouseID:    original.WarehouseID,
		LocationID:     original.LocationID,
		LotID:          original.LotID,
		MoveType:       original.MoveType,
		Quantity:       -original.Quantity,
		ReferenceType:  ReferenceTypeReversal,
		ReferenceID:    original.MoveID,
		IdempotencyKey: cmd.Key,
		Reason:         cmd.Reason,
		CreatedAt:      time.Now().UTC(),
		CreatedBy:      user.UserID,
	}

	key := reversal.Key()
	if err := s.locks.Acquire(ctx, key); err != nil {
		return nil, err
	}
	if reversal.OnHandDelta() != 0 {
		if err := s.locks.AcquireScopes(ctx, key.CostScope()); err != nil {
			return nil, err
		}
	}

	policy, err := s.policies.Get(ctx, user.TenantID)
	if err != nil {
		return nil, err
	}

	level, err := s.levels.GetForUpdate(ctx, key)
	if err != nil {
		return nil, err
	}
	projected, err := s.projector.Apply(level, reversal, policy.AllowNegativeStock)
	if err != nil {
		return nil, err
	}

	if err := s.moves.Append(ctx, reversal); err != nil {
		return nil, err
	}
	if err := s.levels.Upsert(ctx, &projected); err != nil {
		return nil, err
	}

	if reversal.OnHandDelta() != 0 && original.UnitCost != nil {
		valued, err := s.valuer.Reverse(ctx, original, reversal)
		if err != nil {
			return nil, err
		}
		if err := s.moves.SetCost(ctx, user.TenantID, reversal.MoveID, valued.UnitCost, valued.TotalCost); err != nil {
			return nil, err
		}
		reversal.UnitCost = &valued.UnitCost
		reversal.TotalCost = &valued.TotalCost

		if err := s.valuer.CheckLayerInvariant(ctx, key.CostScope()); err != nil {
			return nil, err
		}
	}

	if err := s.outbox.Record(ctx, moveEvent(EventStockReversed, reversal)); err != nil {
		return nil, err
	}

	logger.Info(ctx, "move reversed",
		"original_move_id", original.MoveID.String(),
		"reversal_move_id", reversal.MoveID.String(),
	)

	return reversal, nil
}

// LandedCostCommand spreads an extra acquisition cost over a recorded receipt.
type LandedCostCommand struct {
	ReceiptMoveID id.ID       `json:"receipt_move_id"`
	Amount        money.Money `json:"amount"`
	Key           string      `json:"idempotency_key"`
}

func (c *LandedCostCommand) validate() error {
	if c.Key == "" {
		return apperror.NewValidation("idempotency key is required")
	}
	if id.IsNil(c.ReceiptMoveID) {
		return apperror.NewValidation("receipt move is required")
	}
	return nil
}

// ApplyLandedCost absorbs freight, duty or similar into the cost of an
// already recorded receipt. A retry with the same idempotency key is a
// no-op; the amount is never absorbed twice.
func (s *Service) ApplyLandedCost(ctx context.Context, cmd *LandedCostCommand) error {
	if err := cmd.validate(); err != nil {
		return err
	}

	user := appctx.GetUser(ctx)
	if user == nil {
		return apperror.NewUnauthorized("no authenticated caller")
	}

	requestHash := hashCommand("landed_cost", cmd)

	return s.withContentionRetry(ctx, func(txCtx context.Context) error {
		existingID, err := s.idempotency.Reserve(txCtx, user.TenantID, cmd.Key, requestHash, cmd.ReceiptMoveID)
		if err != nil {
			return err
		}
		if !id.IsNil(existingID) {
			metrics.IdempotencyReplaysTotal.Inc()
			logger.Info(txCtx, "idempotent replay", "move_id", existingID.String(), "key", cmd.Key)
			return nil
		}

		receipt, err := s.moves.GetByID(txCtx, user.TenantID, cmd.ReceiptMoveID)
		if err != nil {
			return err
		}
		if receipt == nil {
			return apperror.NewNotFound("stock move", cmd.ReceiptMoveID.String())
		}
		if receipt.OnHandDelta() <= 0 {
			return apperror.NewBusinessRule(apperror.CodeBusinessRule,
				"Landed cost applies to inbound moves only")
		}

		key := receipt.Key()
		if err := s.locks.Acquire(txCtx, key); err != nil {
			return err
		}
		if err := s.locks.AcquireScopes(txCtx, key.CostScope()); err != nil {
			return err
		}
		if err := s.valuer.ApplyLandedCost(txCtx, user.TenantID, receipt.MoveID, receipt, cmd.Amount); err != nil {
			return err
		}

		return s.outbox.Record(txCtx, moveEvent(EventStockAdjusted, receipt))
	})
}

// GetBalance returns the projected balance for a product in a warehouse,
// optionally narrowed to one location.
func (s *Service) GetBalance(ctx context.Context, productID, warehouseID id.ID, locationID *id.ID) (BalanceSummary, error) {
	tenantID := appctx.GetTenantID(ctx)
	return s.levels.Query(ctx, tenantID, productID, warehouseID, locationID)
}

// ListWarehouseBalances returns all non-zero balances of a warehouse.
func (s *Service) ListWarehouseBalances(ctx context.Context, warehouseID id.ID) ([]entity.InventoryLevel, error) {
	return s.levels.ListByWarehouse(ctx, appctx.GetTenantID(ctx), warehouseID)
}

// GetCostLayers returns the open FIFO layers of a cost scope, oldest first.
func (s *Service) GetCostLayers(ctx context.Context, productID, warehouseID id.ID, lotID *id.ID) ([]entity.CostLayer, error) {
	scope := entity.CostScope{
		TenantID:    appctx.GetTenantID(ctx),
		ProductID:   productID,
		WarehouseID: warehouseID,
		LotID:       lotID,
	}
	return s.valuer.OpenLayers(ctx, scope)
}

// GetInventoryValue returns the book value of a cost scope.
func (s *Service) GetInventoryValue(ctx context.Context, productID, warehouseID id.ID, lotID *id.ID) (money.Money, error) {
	scope := entity.CostScope{
		TenantID:    appctx.GetTenantID(ctx),
		ProductID:   productID,
		WarehouseID: warehouseID,
		LotID:       lotID,
	}
	return s.valuer.InventoryValue(ctx, scope)
}

// GetConsumptions returns the layer drawdowns recorded for a move.
func (s *Service) GetConsumptions(ctx context.Context, moveID id.ID) ([]entity.CostConsumption, error) {
	return s.valuer.Consumptions(ctx, appctx.GetTenantID(ctx), moveID)
}

// GetMove returns one journal entry.
func (s *Service) GetMove(ctx context.Context, moveID id.ID) (*entity.StockMove, error) {
	move, err := s.moves.GetByID(ctx, appctx.GetTenantID(ctx), moveID)
	if err != nil {
		return nil, err
	}
	if move == nil {
		return nil, apperror.NewNotFound("stock move", moveID.String())
	}
	return move, nil
}

// ListMoves returns movement history, newest first.
func (s *Service) ListMoves(ctx context.Context, filter MoveFilter) ([]entity.StockMove, error) {
	return s.moves.List(ctx, appctx.GetTenantID(ctx), filter)
}

// GetTurnover returns opening, receipts, issues and closing for a period.
func (s *Service) GetTurnover(ctx context.Context, filter TurnoverFilter) (Turnover, error) {
	return s.moves.Turnover(ctx, appctx.GetTenantID(ctx), filter)
}

// ConfigureValuation sets the costing method for a product.
func (s *Service) ConfigureValuation(ctx context.Context, method entity.CostingMethod, productID id.ID, standardCost *money.Money) (*entity.ValuationSetting, error) {
	user := appctx.GetUser(ctx)
	if user == nil {
		return nil, apperror.NewUnauthorized("no authenticated caller")
	}

	setting := &entity.ValuationSetting{
		TenantID:     user.TenantID,
		ProductID:    productID,
		Method:       method,
		StandardCost: standardCost,
		UpdatedAt:    time.Now().UTC(),
		UpdatedBy:    user.UserID,
	}

	err := s.txManager.RunInTransaction(ctx, func(txCtx context.Context) error {
		return s.valuer.Configure(txCtx, setting)
	})
	if err != nil {
		return nil, err
	}

	return setting, nil
}

// GetValuationSetting returns the effective costing configuration of a product.
func (s *Service) GetValuationSetting(ctx context.Context, productID id.ID) (entity.ValuationSetting, error) {
	return s.valuer.Method(ctx, appctx.GetTenantID(ctx), productID)
}

// GetPolicy returns the tenant ledger policy.
func (s *Service) GetPolicy(ctx context.Context) (entity.TenantPolicy, error) {
	return s.policies.Get(ctx, appctx.GetTenantID(ctx))
}

// SetPolicy updates the tenant ledger policy.
func (s *Service) SetPolicy(ctx context.Context, allowNegativeStock bool) (entity.TenantPolicy, error) {
	policy := entity.TenantPolicy{
		TenantID:           appctx.GetTenantID(ctx),
		AllowNegativeStock: allowNegativeStock,
		UpdatedAt:          time.Now().UTC(),
	}
	err := s.txManager.RunInTransaction(ctx, func(txCtx context.Context) error {
		return s.policies.Upsert(txCtx, &policy)
	})
	return policy, err
}

// withContentionRetry runs fn in a transaction, retrying the whole operation
// on lock contention with exponential backoff and jitter. Everything else
// fails on the first attempt.
func (s *Service) withContentionRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt < maxSubmitAttempts; attempt++ {
		if attempt > 0 {
			metrics.ContentionRetriesTotal.Inc()
			delay := retryBaseDelay<<(attempt-1) + time.Duration(rand.Int63n(int64(retryBaseDelay)))
			logger.Warn(ctx, "retrying after contention", "attempt", attempt+1, "delay", delay.String())
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		lastErr = s.txManager.RunInTransaction(ctx, fn)
		if !apperror.IsContention(lastErr) {
			return lastErr
		}
	}
	return lastErr
}

// hashCommand produces the request fingerprint stored with the idempotency
// key, so a reused key with a different body is detected.
func hashCommand(op string, cmd any) string {
	payload, _ := json.Marshal(cmd)
	sum := sha256.Sum256(append([]byte(op+"\n"), payload...))
	return hex.EncodeToString(sum[:])
}

func moveEvent(eventType string, move *entity.StockMove) DomainEvent {
	return DomainEvent{
		TenantID:      move.TenantID,
		AggregateType: "stock_move",
		AggregateID:   move.MoveID,
		EventType:     eventType,
		Payload:       move,
	}
}
