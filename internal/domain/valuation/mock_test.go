package valuation

import (
	"context"
	"fmt"
	"sort"

	"stockledger/internal/core/entity"
	"stockledger/internal/core/id"
	"stockledger/internal/core/money"
)

// memRepo is an in-memory Repository and OnHandSource for engine tests.
type memRepo struct {
	settings     map[string]entity.ValuationSetting
	layers       []*entity.CostLayer
	consumptions []entity.CostConsumption
	averages     map[string]entity.RunningAverage
	variances    []entity.CostVariance
	onHand       map[string]int64
}

func newMemRepo() *memRepo {
	return &memRepo{
		settings: make(map[string]entity.ValuationSetting),
		averages: make(map[string]entity.RunningAverage),
		onHand:   make(map[string]int64),
	}
}

func settingKey(tenantID, productID id.ID) string {
	return tenantID.String() + "/" + productID.String()
}

func scopeKey(scope entity.CostScope) string {
	lot := "-"
	if scope.LotID != nil {
		lot = scope.LotID.String()
	}
	return fmt.Sprintf("%s/%s/%s/%s", scope.TenantID, scope.ProductID, scope.WarehouseID, lot)
}

func layerScope(l *entity.CostLayer) entity.CostScope {
	return entity.CostScope{
		TenantID:    l.TenantID,
		ProductID:   l.ProductID,
		WarehouseID: l.WarehouseID,
		LotID:       l.LotID,
	}
}

func (r *memRepo) GetSetting(_ context.Context, tenantID, productID id.ID) (entity.ValuationSetting, bool, error) {
	s, ok := r.settings[settingKey(tenantID, productID)]
	return s, ok, nil
}

func (r *memRepo) UpsertSetting(_ context.Context, setting *entity.ValuationSetting) error {
	r.settings[settingKey(setting.TenantID, setting.ProductID)] = *setting
	return nil
}

func (r *memRepo) ListOpenLayers(_ context.Context, scope entity.CostScope) ([]entity.CostLayer, error) {
	var out []entity.CostLayer
	for _, l := range r.layers {
		if l.RemainingQuantity > 0 && layerScope(l).Equal(scope) {
			out = append(out, *l)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ReceivedAt.Before(out[j].ReceivedAt)
	})
	return out, nil
}

func (r *memRepo) InsertLayer(_ context.Context, layer *entity.CostLayer) error {
	copied := *layer
	r.layers = append(r.layers, &copied)
	return nil
}

func (r *memRepo) AddToLayerRemaining(_ context.Context, tenantID, layerID id.ID, delta int64) error {
	for _, l := range r.layers {
		if l.TenantID == tenantID && l.LayerID == layerID {
			next := l.RemainingQuantity + delta
			if next < 0 || next > l.ReceivedQuantity {
				return fmt.Errorf("layer %s remaining out of bounds: %d", layerID, next)
			}
			l.RemainingQuantity = next
			return nil
		}
	}
	return fmt.Errorf("layer %s not found", layerID)
}

func (r *memRepo) SetLayerUnitCost(_ context.Context, tenantID, layerID id.ID, unitCost int64) error {
	for _, l := range r.layers {
		if l.TenantID == tenantID && l.LayerID == layerID {
			l.UnitCost = money.FromMinorUnits(unitCost)
			return nil
		}
	}
	return fmt.Errorf("layer %s not found", layerID)
}

func (r *memRepo) GetLayerBySourceMove(_ context.Context, tenantID, moveID id.ID) (*entity.CostLayer, error) {
	for _, l := range r.layers {
		if l.TenantID == tenantID && l.SourceMoveID == moveID {
			copied := *l
			return &copied, nil
		}
	}
	return nil, nil
}

func (r *memRepo) SumRemaining(_ context.Context, scope entity.CostScope) (int64, error) {
	var sum int64
	for _, l := range r.layers {
		if layerScope(l).Equal(scope) {
			sum += l.RemainingQuantity
		}
	}
	return sum, nil
}

func (r *memRepo) InsertConsumptions(_ context.Context, consumptions []entity.CostConsumption) error {
	r.consumptions = append(r.consumptions, consumptions...)
	return nil
}

func (r *memRepo) ListConsumptionsByMove(_ context.Context, tenantID, moveID id.ID) ([]entity.CostConsumption, error) {
	var out []entity.CostConsumption
	for _, c := range r.consumptions {
		if c.TenantID == tenantID && c.MoveID == moveID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *memRepo) GetAverage(_ context.Context, scope entity.CostScope) (entity.RunningAverage, error) {
	if avg, ok := r.averages[scopeKey(scope)]; ok {
		return avg, nil
	}
	return entity.RunningAverage{
		TenantID:    scope.TenantID,
		ProductID:   scope.ProductID,
		WarehouseID: scope.WarehouseID,
		LotID:       scope.LotID,
	}, nil
}

func (r *memRepo) UpsertAverage(_ context.Context, avg *entity.RunningAverage) error {
	scope := entity.CostScope{
		TenantID:    avg.TenantID,
		ProductID:   avg.ProductID,
		WarehouseID: avg.WarehouseID,
		LotID:       avg.LotID,
	}
	r.averages[scopeKey(scope)] = *avg
	return nil
}

func (r *memRepo) InsertVariance(_ context.Context, v *entity.CostVariance) error {
	r.variances = append(r.variances, *v)
	return nil
}

func (r *memRepo) ListVariancesByMove(_ context.Context, tenantID, moveID id.ID) ([]entity.CostVariance, error) {
	var out []entity.CostVariance
	for _, v := range r.variances {
		if v.TenantID == tenantID && v.MoveID == moveID {
			out = append(out, v)
		}
	}
	return out, nil
}

func (r *memRepo) SumOnHandByScope(_ context.Context, scope entity.CostScope) (int64, error) {
	return r.onHand[scopeKey(scope)], nil
}
