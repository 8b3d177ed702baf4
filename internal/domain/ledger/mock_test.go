package ledger

import (
	"context"
	"sync"
	"time"

	"stockledger/internal/core/apperror"
	"stockledger/internal/core/entity"
	"stockledger/internal/core/id"
	"stockledger/internal/core/money"
	"stockledger/internal/domain/valuation"
)

// fakeTxManager runs the function inline, one transaction at a time. The
// mutex plays the role of the database's serialization, so concurrent
// submissions exercise the pipeline without data races on the fakes. The
// snapshot hook captures the mutable fake state before fn runs and restores
// it when fn fails, so the fakes honor the all-or-nothing semantics the
// service is written against.
type fakeTxManager struct {
	mu       sync.Mutex
	calls    int
	snapshot func() (restore func())
}

func (m *fakeTxManager) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	var restore func()
	if m.snapshot != nil {
		restore = m.snapshot()
	}
	err := fn(ctx)
	if err != nil && restore != nil {
		restore()
	}
	return err
}

type memMoves struct {
	seq   int64
	moves []*entity.StockMove
}

func (r *memMoves) Append(_ context.Context, m *entity.StockMove) error {
	r.seq++
	m.Seq = r.seq
	copied := *m
	r.moves = append(r.moves, &copied)
	return nil
}

func (r *memMoves) SetCost(_ context.Context, tenantID, moveID id.ID, unitCost, totalCost money.Money) error {
	for _, m := range r.moves {
		if m.TenantID == tenantID && m.MoveID == moveID {
			u, t := unitCost, totalCost
			m.UnitCost = &u
			m.TotalCost = &t
			return nil
		}
	}
	return apperror.NewNotFound("stock move", moveID.String())
}

func (r *memMoves) GetByID(_ context.Context, tenantID, moveID id.ID) (*entity.StockMove, error) {
	for _, m := range r.moves {
		if m.TenantID == tenantID && m.MoveID == moveID {
			copied := *m
			return &copied, nil
		}
	}
	return nil, nil
}

func (r *memMoves) GetByIdempotencyKey(_ context.Context, tenantID id.ID, key string) (*entity.StockMove, error) {
	for _, m := range r.moves {
		if m.TenantID == tenantID && m.IdempotencyKey == key {
			copied := *m
			return &copied, nil
		}
	}
	return nil, nil
}

func (r *memMoves) FindReversal(_ context.Context, tenantID, originalMoveID id.ID) (*entity.StockMove, error) {
	for _, m := range r.moves {
		if m.TenantID == tenantID && m.ReferenceType == ReferenceTypeReversal && m.ReferenceID == originalMoveID {
			copied := *m
			return &copied, nil
		}
	}
	return nil, nil
}

func (r *memMoves) List(_ context.Context, tenantID id.ID, _ MoveFilter) ([]entity.StockMove, error) {
	var out []entity.StockMove
	for _, m := range r.moves {
		if m.TenantID == tenantID {
			out = append(out, *m)
		}
	}
	return out, nil
}

func (r *memMoves) Turnover(_ context.Context, _ id.ID, _ TurnoverFilter) (Turnover, error) {
	return Turnover{}, nil
}

type memLevels struct {
	levels map[int64]entity.InventoryLevel
}

func newMemLevels() *memLevels {
	return &memLevels{levels: make(map[int64]entity.InventoryLevel)}
}

func (r *memLevels) GetForUpdate(_ context.Context, key entity.AggregateKey) (entity.InventoryLevel, error) {
	if l, ok := r.levels[key.LockToken()]; ok {
		return l, nil
	}
	return entity.InventoryLevel{
		TenantID:    key.TenantID,
		ProductID:   key.ProductID,
		WarehouseID: key.WarehouseID,
		LocationID:  key.LocationID,
		LotID:       key.LotID,
	}, nil
}

func (r *memLevels) Get(ctx context.Context, key entity.AggregateKey) (entity.InventoryLevel, error) {
	return r.GetForUpdate(ctx, key)
}

func (r *memLevels) Upsert(_ context.Context, level *entity.InventoryLevel) error {
	r.levels[level.Key().LockToken()] = *level
	return nil
}

func (r *memLevels) SumOnHandByScope(_ context.Context, scope entity.CostScope) (int64, error) {
	var sum int64
	for _, l := range r.levels {
		if l.Key().CostScope().Equal(scope) {
			sum += l.OnHand
		}
	}
	return sum, nil
}

func (r *memLevels) Query(_ context.Context, tenantID, productID, warehouseID id.ID, locationID *id.ID) (BalanceSummary, error) {
	var s BalanceSummary
	for _, l := range r.levels {
		if l.TenantID != tenantID || l.ProductID != productID || l.WarehouseID != warehouseID {
			continue
		}
		if locationID != nil && l.LocationID != *locationID {
			continue
		}
		s.OnHand += l.OnHand
		s.Reserved += l.Reserved
	}
	s.Available = s.OnHand - s.Reserved
	return s, nil
}

func (r *memLevels) ListByWarehouse(_ context.Context, tenantID, warehouseID id.ID) ([]entity.InventoryLevel, error) {
	var out []entity.InventoryLevel
	for _, l := range r.levels {
		if l.TenantID == tenantID && l.WarehouseID == warehouseID {
			out = append(out, l)
		}
	}
	return out, nil
}

type idemRecord struct {
	requestHash string
	moveID      id.ID
}

type memIdempotency struct {
	records map[string]idemRecord
}

func newMemIdempotency() *memIdempotency {
	return &memIdempotency{records: make(map[string]idemRecord)}
}

func (r *memIdempotency) Reserve(_ context.Context, tenantID id.ID, key, requestHash string, moveID id.ID) (id.ID, error) {
	mapKey := tenantID.String() + "/" + key
	if rec, ok := r.records[mapKey]; ok {
		if rec.requestHash != requestHash {
			return id.Nil(), apperror.NewIdempotencyMismatch(key)
		}
		return rec.moveID, nil
	}
	r.records[mapKey] = idemRecord{requestHash: requestHash, moveID: moveID}
	return id.Nil(), nil
}

type memOutbox struct {
	events []DomainEvent
}

func (r *memOutbox) Record(_ context.Context, event DomainEvent) error {
	r.events = append(r.events, event)
	return nil
}

type memPolicies struct {
	policies map[id.ID]entity.TenantPolicy
}

func newMemPolicies() *memPolicies {
	return &memPolicies{policies: make(map[id.ID]entity.TenantPolicy)}
}

func (r *memPolicies) Get(_ context.Context, tenantID id.ID) (entity.TenantPolicy, error) {
	if p, ok := r.policies[tenantID]; ok {
		return p, nil
	}
	return entity.TenantPolicy{TenantID: tenantID}, nil
}

func (r *memPolicies) Upsert(_ context.Context, policy *entity.TenantPolicy) error {
	r.policies[policy.TenantID] = *policy
	return nil
}

// flakyLocker fails the first failures acquisitions with a contention error,
// then grants everything, recording what was locked.
type flakyLocker struct {
	failures int
	acquired [][]entity.AggregateKey
	scopes   [][]entity.CostScope
}

func (l *flakyLocker) Acquire(_ context.Context, keys ...entity.AggregateKey) error {
	if l.failures > 0 {
		l.failures--
		return apperror.NewContention(time.Millisecond)
	}
	l.acquired = append(l.acquired, keys)
	return nil
}

func (l *flakyLocker) AcquireScopes(_ context.Context, scopes ...entity.CostScope) error {
	if l.failures > 0 {
		l.failures--
		return apperror.NewContention(time.Millisecond)
	}
	l.scopes = append(l.scopes, scopes)
	return nil
}

// fakeValuer stamps every valued move with a fixed or declared unit cost and
// records what it was asked to do.
type fakeValuer struct {
	defaultUnit  money.Money
	valueCalls   int
	reverseCalls int
	landedCalls  int
	valueErr     error
	invariantErr error
}

func (v *fakeValuer) ValueMove(_ context.Context, move *entity.StockMove, declaredUnitCost *money.Money) (valuation.Result, error) {
	v.valueCalls++
	if v.valueErr != nil {
		return valuation.Result{}, v.valueErr
	}
	unit := v.defaultUnit
	if declaredUnitCost != nil {
		unit = *declaredUnitCost
	}
	qty := move.OnHandDelta()
	if qty < 0 {
		qty = -qty
	}
	return valuation.Result{UnitCost: unit, TotalCost: money.Mul(qty, unit)}, nil
}

func (v *fakeValuer) Reverse(_ context.Context, original, _ *entity.StockMove) (valuation.Result, error) {
	v.reverseCalls++
	var unit, total money.Money
	if original.UnitCost != nil {
		unit = *original.UnitCost
	}
	if original.TotalCost != nil {
		total = original.TotalCost.Neg()
	}
	return valuation.Result{UnitCost: unit, TotalCost: total}, nil
}

func (v *fakeValuer) ApplyLandedCost(_ context.Context, _, _ id.ID, _ *entity.StockMove, _ money.Money) error {
	v.landedCalls++
	return nil
}

func (v *fakeValuer) CheckLayerInvariant(_ context.Context, _ entity.CostScope) error {
	return v.invariantErr
}

func (v *fakeValuer) OpenLayers(_ context.Context, _ entity.CostScope) ([]entity.CostLayer, error) {
	return nil, nil
}

func (v *fakeValuer) Consumptions(_ context.Context, _, _ id.ID) ([]entity.CostConsumption, error) {
	return nil, nil
}

func (v *fakeValuer) InventoryValue(_ context.Context, _ entity.CostScope) (money.Money, error) {
	return 0, nil
}

func (v *fakeValuer) Method(_ context.Context, tenantID, productID id.ID) (entity.ValuationSetting, error) {
	return entity.ValuationSetting{TenantID: tenantID, ProductID: productID, Method: entity.CostingFIFO}, nil
}

func (v *fakeValuer) Configure(_ context.Context, _ *entity.ValuationSetting) error {
	return nil
}
