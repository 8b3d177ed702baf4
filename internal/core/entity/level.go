package entity

import (
	"bytes"
	"hash/fnv"
	"time"

	"stockledger/internal/core/id"
)

// AggregateKey identifies one independently lockable balance:
// (tenant, product, warehouse, location[, lot]).
type AggregateKey struct {
	TenantID    id.ID
	ProductID   id.ID
	WarehouseID id.ID
	LocationID  id.ID
	LotID       *id.ID
}

// CostScope drops the location dimension: cost layers and running averages are
// tracked per (tenant, product, warehouse[, lot]), while balances are
// per-location.
type CostScope struct {
	TenantID    id.ID
	ProductID   id.ID
	WarehouseID id.ID
	LotID       *id.ID
}

// CostScope projects the key onto its costing dimensions.
func (k AggregateKey) CostScope() CostScope {
	return CostScope{
		TenantID:    k.TenantID,
		ProductID:   k.ProductID,
		WarehouseID: k.WarehouseID,
		LotID:       k.LotID,
	}
}

// bytes returns the canonical byte representation of the scope, used for
// hashing and ordering. Lot absence is encoded distinctly from the nil UUID.
func (s CostScope) bytes() []byte {
	buf := make([]byte, 0, 49)
	buf = append(buf, s.TenantID[:]...)
	buf = append(buf, s.ProductID[:]...)
	buf = append(buf, s.WarehouseID[:]...)
	if s.LotID != nil {
		buf = append(buf, 1)
		buf = append(buf, s.LotID[:]...)
	} else {
		buf = append(buf, 0)
	}
	return buf
}

// LockToken returns a 64-bit advisory-lock token for the cost scope. Layers
// and running averages span every location of a warehouse, so writers that
// touch cost state must hold this token in addition to their per-location
// key tokens.
func (s CostScope) LockToken() int64 {
	h := fnv.New64a()
	_, _ = h.Write(s.bytes())
	return int64(h.Sum64())
}

// Less imposes a fixed total order over scopes, mirroring AggregateKey.Less.
func (s CostScope) Less(other CostScope) bool {
	return bytes.Compare(s.bytes(), other.bytes()) < 0
}

// Equal reports whether two scopes identify the same cost pool.
func (s CostScope) Equal(other CostScope) bool {
	if s.TenantID != other.TenantID || s.ProductID != other.ProductID || s.WarehouseID != other.WarehouseID {
		return false
	}
	if (s.LotID == nil) != (other.LotID == nil) {
		return false
	}
	return s.LotID == nil || *s.LotID == *other.LotID
}

// bytes returns the canonical byte representation used for hashing and
// ordering. Lot absence is encoded distinctly from the nil UUID.
func (k AggregateKey) bytes() []byte {
	buf := make([]byte, 0, 65)
	buf = append(buf, k.TenantID[:]...)
	buf = append(buf, k.ProductID[:]...)
	buf = append(buf, k.WarehouseID[:]...)
	buf = append(buf, k.LocationID[:]...)
	if k.LotID != nil {
		buf = append(buf, 1)
		buf = append(buf, k.LotID[:]...)
	} else {
		buf = append(buf, 0)
	}
	return buf
}

// LockToken returns a 64-bit advisory-lock token for the key.
func (k AggregateKey) LockToken() int64 {
	h := fnv.New64a()
	_, _ = h.Write(k.bytes())
	return int64(h.Sum64())
}

// Less imposes a fixed total order over keys. Multi-key operations acquire
// locks in this order to prevent deadlock between concurrent transfers moving
// stock in opposite directions.
func (k AggregateKey) Less(other AggregateKey) bool {
	return bytes.Compare(k.bytes(), other.bytes()) < 0
}

// Equal reports whether two keys identify the same aggregate.
func (k AggregateKey) Equal(other AggregateKey) bool {
	return bytes.Equal(k.bytes(), other.bytes())
}

// InventoryLevel is the mutable materialized balance for one aggregate key.
// Created lazily on first move, updated by every subsequent move, never
// hard-deleted while non-zero.
type InventoryLevel struct {
	TenantID    id.ID  `db:"tenant_id" json:"tenantId"`
	ProductID   id.ID  `db:"product_id" json:"productId"`
	WarehouseID id.ID  `db:"warehouse_id" json:"warehouseId"`
	LocationID  id.ID  `db:"location_id" json:"locationId"`
	LotID       *id.ID `db:"lot_id" json:"lotId,omitempty"`

	OnHand   int64 `db:"on_hand_quantity" json:"onHand"`
	Reserved int64 `db:"reserved_quantity" json:"reserved"`

	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}

// Available is the derived quantity usable for new issues.
func (l *InventoryLevel) Available() int64 {
	return l.OnHand - l.Reserved
}

// Key returns the aggregate key of the level row.
func (l *InventoryLevel) Key() AggregateKey {
	return AggregateKey{
		TenantID:    l.TenantID,
		ProductID:   l.ProductID,
		WarehouseID: l.WarehouseID,
		LocationID:  l.LocationID,
		LotID:       l.LotID,
	}
}
