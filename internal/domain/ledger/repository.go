// Package ledger holds the stock ledger domain: the append-only movement
// journal, projected balances and the submission pipeline that ties
// idempotency, locking, projection and valuation into one transaction.
package ledger

import (
	"context"
	"time"

	"stockledger/internal/core/entity"
	"stockledger/internal/core/id"
	"stockledger/internal/core/money"
)

// Reference types linking moves to the documents that caused them.
const (
	ReferenceTypeOrder       = "order"
	ReferenceTypePurchase    = "purchase"
	ReferenceTypeTransfer    = "transfer"
	ReferenceTypeAdjustment  = "adjustment"
	ReferenceTypeReversal    = "reversal"
	ReferenceTypeReservation = "reservation"
)

// MoveFilter narrows movement history queries.
type MoveFilter struct {
	ProductID   *id.ID
	WarehouseID *id.ID
	LocationID  *id.ID
	MoveType    *entity.MoveType
	From        *time.Time
	To          *time.Time
	Limit       int
	Offset      int
}

// TurnoverFilter selects the scope and period of a turnover report.
type TurnoverFilter struct {
	WarehouseID *id.ID
	ProductID   *id.ID
	From        time.Time
	To          time.Time
}

// Turnover is opening balance, period receipts and issues, closing balance.
// Reservations do not count: they never change on-hand stock.
type Turnover struct {
	WarehouseID *id.ID `json:"warehouse_id,omitempty"`
	ProductID   *id.ID `json:"product_id,omitempty"`
	Opening     int64  `json:"opening"`
	Receipt     int64  `json:"receipt"`
	Issue       int64  `json:"issue"`
	Closing     int64  `json:"closing"`
}

// BalanceSummary is the projected balance for a product slice.
type BalanceSummary struct {
	OnHand    int64 `json:"on_hand"`
	Reserved  int64 `json:"reserved"`
	Available int64 `json:"available"`
}

// DomainEvent is a ledger fact destined for the outbox.
type DomainEvent struct {
	TenantID      id.ID
	AggregateType string
	AggregateID   id.ID
	EventType     string
	Payload       any
}

// Event types emitted by the ledger.
const (
	EventStockMoved    = "stock.moved"
	EventStockAdjusted = "stock.adjusted"
	EventStockReversed = "stock.reversed"
)

// MoveRepository persists the append-only movement journal.
type MoveRepository interface {
	Append(ctx context.Context, m *entity.StockMove) error
	SetCost(ctx context.Context, tenantID, moveID id.ID, unitCost, totalCost money.Money) error
	GetByID(ctx context.Context, tenantID, moveID id.ID) (*entity.StockMove, error)
	GetByIdempotencyKey(ctx context.Context, tenantID id.ID, key string) (*entity.StockMove, error)
	FindReversal(ctx context.Context, tenantID, originalMoveID id.ID) (*entity.StockMove, error)
	List(ctx context.Context, tenantID id.ID, filter MoveFilter) ([]entity.StockMove, error)
	Turnover(ctx context.Context, tenantID id.ID, filter TurnoverFilter) (Turnover, error)
}

// LevelRepository persists projected inventory balances.
type LevelRepository interface {
	GetForUpdate(ctx context.Context, key entity.AggregateKey) (entity.InventoryLevel, error)
	Get(ctx context.Context, key entity.AggregateKey) (entity.InventoryLevel, error)
	Upsert(ctx context.Context, level *entity.InventoryLevel) error
	SumOnHandByScope(ctx context.Context, scope entity.CostScope) (int64, error)
	Query(ctx context.Context, tenantID, productID, warehouseID id.ID, locationID *id.ID) (BalanceSummary, error)
	ListByWarehouse(ctx context.Context, tenantID, warehouseID id.ID) ([]entity.InventoryLevel, error)
}

// IdempotencyRepository reserves submission keys.
type IdempotencyRepository interface {
	// Reserve claims the key for moveID. Returns id.Nil() when the key is
	// fresh, or the move the key already maps to on a replay.
	Reserve(ctx context.Context, tenantID id.ID, key, requestHash string, moveID id.ID) (id.ID, error)
}

// OutboxRepository records domain events transactionally with the ledger.
type OutboxRepository interface {
	Record(ctx context.Context, event DomainEvent) error
}

// PolicyRepository stores per-tenant ledger policies.
type PolicyRepository interface {
	Get(ctx context.Context, tenantID id.ID) (entity.TenantPolicy, error)
	Upsert(ctx context.Context, policy *entity.TenantPolicy) error
}

// AggregateLocker serializes writers per aggregate within a transaction.
// Balance writers lock aggregate keys; writers that touch cost state
// additionally lock the cost scope, which spans every location of a
// warehouse. Keys are always acquired before scopes so the combined order
// stays total across concurrent operations.
type AggregateLocker interface {
	Acquire(ctx context.Context, keys ...entity.AggregateKey) error
	AcquireScopes(ctx context.Context, scopes ...entity.CostScope) error
}
