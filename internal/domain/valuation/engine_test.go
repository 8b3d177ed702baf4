package valuation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockledger/internal/core/apperror"
	"stockledger/internal/core/entity"
	"stockledger/internal/core/id"
	"stockledger/internal/core/money"
)

var (
	tenantID    = id.MustParse("018f0000-0000-7000-8000-000000000001")
	productID   = id.MustParse("018f0000-0000-7000-8000-000000000002")
	warehouseID = id.MustParse("018f0000-0000-7000-8000-000000000003")
	locationID  = id.MustParse("018f0000-0000-7000-8000-000000000004")
)

func testScope() entity.CostScope {
	return entity.CostScope{
		TenantID:    tenantID,
		ProductID:   productID,
		WarehouseID: warehouseID,
	}
}

func newMove(moveType entity.MoveType, quantity int64) *entity.StockMove {
	return &entity.StockMove{
		MoveID:      id.New(),
		TenantID:    tenantID,
		ProductID:   productID,
		WarehouseID: warehouseID,
		LocationID:  locationID,
		MoveType:    moveType,
		Quantity:    quantity,
		CreatedAt:   time.Now().UTC(),
	}
}

func costPtr(v int64) *money.Money {
	m := money.FromMinorUnits(v)
	return &m
}

// receive runs a receipt through the engine and keeps the scope's on-hand
// tally in sync the way the projector would.
func receive(t *testing.T, e *Engine, repo *memRepo, quantity int64, unitCost *money.Money) *entity.StockMove {
	t.Helper()
	move := newMove(entity.MoveTypeReceipt, quantity)
	res, err := e.ValueMove(context.Background(), move, unitCost)
	require.NoError(t, err)
	move.UnitCost = &res.UnitCost
	move.TotalCost = &res.TotalCost
	repo.onHand[scopeKey(testScope())] += quantity
	return move
}

func issue(t *testing.T, e *Engine, repo *memRepo, quantity int64) (*entity.StockMove, Result) {
	t.Helper()
	move := newMove(entity.MoveTypeIssue, -quantity)
	repo.onHand[scopeKey(testScope())] -= quantity
	res, err := e.ValueMove(context.Background(), move, nil)
	require.NoError(t, err)
	move.UnitCost = &res.UnitCost
	move.TotalCost = &res.TotalCost
	return move, res
}

func TestFIFO_OldestLayersConsumedFirst(t *testing.T) {
	repo := newMemRepo()
	e := NewEngine(repo, repo)

	receive(t, e, repo, 100, costPtr(1000))
	receive(t, e, repo, 50, costPtr(1200))

	issueMove, res := issue(t, e, repo, 120)

	// 100 units at 10.00 plus 20 units at 12.00.
	assert.Equal(t, money.Money(124000), res.TotalCost)
	assert.Equal(t, money.Money(1033), res.UnitCost)

	layers, err := e.OpenLayers(context.Background(), testScope())
	require.NoError(t, err)
	require.Len(t, layers, 1)
	assert.Equal(t, int64(30), layers[0].RemainingQuantity)
	assert.Equal(t, money.Money(1200), layers[0].UnitCost)

	consumptions, err := e.Consumptions(context.Background(), tenantID, issueMove.MoveID)
	require.NoError(t, err)
	require.Len(t, consumptions, 2)
	assert.Equal(t, int64(100), consumptions[0].Quantity)
	assert.Equal(t, money.Money(1000), consumptions[0].UnitCost)
	assert.Equal(t, int64(20), consumptions[1].Quantity)
	assert.Equal(t, money.Money(1200), consumptions[1].UnitCost)

	require.NoError(t, e.CheckLayerInvariant(context.Background(), testScope()))
}

func TestFIFO_ReceiptWithoutDeclaredCost(t *testing.T) {
	repo := newMemRepo()
	e := NewEngine(repo, repo)

	receive(t, e, repo, 10, costPtr(1000))
	found := receive(t, e, repo, 5, nil)

	// Found stock enters at the newest known layer cost.
	assert.Equal(t, money.Money(1000), *found.UnitCost)
	assert.Equal(t, money.Money(5000), *found.TotalCost)
}

func TestFIFO_NegativeDeclaredCostRejected(t *testing.T) {
	repo := newMemRepo()
	e := NewEngine(repo, repo)

	move := newMove(entity.MoveTypeReceipt, 10)
	_, err := e.ValueMove(context.Background(), move, costPtr(-100))
	require.Error(t, err)
	appErr, ok := apperror.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperror.CodeValidation, appErr.Code)
}

func TestFIFO_UncoveredConsumption(t *testing.T) {
	repo := newMemRepo()
	e := NewEngine(repo, repo)

	receive(t, e, repo, 10, costPtr(1000))

	// Issue more than layers cover with the balance already negative: the
	// uncovered remainder is priced at the latest known cost.
	_, res := issue(t, e, repo, 15)
	assert.Equal(t, money.Money(15000), res.TotalCost)
	assert.Equal(t, money.Money(1000), res.UnitCost)
}

func TestFIFO_UncoveredConsumptionWithPositiveStock(t *testing.T) {
	repo := newMemRepo()
	e := NewEngine(repo, repo)

	receive(t, e, repo, 10, costPtr(1000))

	// On-hand says 20 but layers only cover 10: layers are out of sync
	// and the move must fail, not be silently valued.
	repo.onHand[scopeKey(testScope())] = 20

	move := newMove(entity.MoveTypeIssue, -15)
	_, err := e.ValueMove(context.Background(), move, nil)
	require.Error(t, err)
	assert.True(t, apperror.IsConsistencyViolation(err))
}

func TestFIFO_ReverseIssueRestoresLayers(t *testing.T) {
	repo := newMemRepo()
	e := NewEngine(repo, repo)

	receive(t, e, repo, 100, costPtr(1000))
	receive(t, e, repo, 50, costPtr(1200))
	issueMove, issueRes := issue(t, e, repo, 120)

	reversal := newMove(entity.MoveTypeIssue, 120)
	res, err := e.Reverse(context.Background(), issueMove, reversal)
	require.NoError(t, err)
	repo.onHand[scopeKey(testScope())] += 120

	assert.Equal(t, issueRes.UnitCost, res.UnitCost)
	assert.Equal(t, issueRes.TotalCost.Neg(), res.TotalCost)

	layers, err := e.OpenLayers(context.Background(), testScope())
	require.NoError(t, err)
	require.Len(t, layers, 2)
	assert.Equal(t, int64(100), layers[0].RemainingQuantity)
	assert.Equal(t, int64(50), layers[1].RemainingQuantity)

	// Restoration leaves negative audit rows against the reversal.
	restored, err := e.Consumptions(context.Background(), tenantID, reversal.MoveID)
	require.NoError(t, err)
	require.Len(t, restored, 2)
	assert.Equal(t, int64(-100), restored[0].Quantity)
	assert.Equal(t, int64(-20), restored[1].Quantity)

	require.NoError(t, e.CheckLayerInvariant(context.Background(), testScope()))
}

func TestFIFO_ReverseUntouchedReceipt(t *testing.T) {
	repo := newMemRepo()
	e := NewEngine(repo, repo)

	receipt := receive(t, e, repo, 40, costPtr(1000))

	reversal := newMove(entity.MoveTypeReceipt, -40)
	res, err := e.Reverse(context.Background(), receipt, reversal)
	require.NoError(t, err)
	repo.onHand[scopeKey(testScope())] -= 40

	assert.Equal(t, money.Money(1000), res.UnitCost)
	assert.Equal(t, money.Money(-40000), res.TotalCost)

	layers, err := e.OpenLayers(context.Background(), testScope())
	require.NoError(t, err)
	assert.Empty(t, layers)
}

func TestFIFO_ReversePartiallyConsumedReceiptRejected(t *testing.T) {
	repo := newMemRepo()
	e := NewEngine(repo, repo)

	receipt := receive(t, e, repo, 40, costPtr(1000))
	issue(t, e, repo, 10)

	reversal := newMove(entity.MoveTypeReceipt, -40)
	_, err := e.Reverse(context.Background(), receipt, reversal)
	require.Error(t, err)
	appErr, ok := apperror.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperror.CodeLayerConsumed, appErr.Code)
}

func configureMethod(t *testing.T, e *Engine, method entity.CostingMethod, std *money.Money) {
	t.Helper()
	require.NoError(t, e.Configure(context.Background(), &entity.ValuationSetting{
		TenantID:     tenantID,
		ProductID:    productID,
		Method:       method,
		StandardCost: std,
	}))
}

func TestAVCO_RunningAverage(t *testing.T) {
	repo := newMemRepo()
	e := NewEngine(repo, repo)
	configureMethod(t, e, entity.CostingAVCO, nil)

	receive(t, e, repo, 100, costPtr(1000))
	receive(t, e, repo, 100, costPtr(2000))

	avg, err := repo.GetAverage(context.Background(), testScope())
	require.NoError(t, err)
	assert.Equal(t, int64(200), avg.TotalQuantity)
	assert.Equal(t, money.Money(300000), avg.TotalValue)
	assert.Equal(t, money.Money(1500), avg.AverageUnitCost)

	_, res := issue(t, e, repo, 50)
	assert.Equal(t, money.Money(75000), res.TotalCost)
	assert.Equal(t, money.Money(1500), res.UnitCost)

	avg, err = repo.GetAverage(context.Background(), testScope())
	require.NoError(t, err)
	assert.Equal(t, int64(150), avg.TotalQuantity)
	assert.Equal(t, money.Money(225000), avg.TotalValue)
}

func TestAVCO_DrainResetsState(t *testing.T) {
	repo := newMemRepo()
	e := NewEngine(repo, repo)
	configureMethod(t, e, entity.CostingAVCO, nil)

	// Totals that do not divide evenly leave rounding residue on partial
	// issues; draining to zero must remove the exact remaining value.
	receive(t, e, repo, 1, costPtr(100))
	receive(t, e, repo, 1, costPtr(101))

	_, res := issue(t, e, repo, 1)
	// 201/2 = 100.5, banker's rounding to 100.
	assert.Equal(t, money.Money(100), res.TotalCost)

	_, res = issue(t, e, repo, 1)
	assert.Equal(t, money.Money(101), res.TotalCost)

	avg, err := repo.GetAverage(context.Background(), testScope())
	require.NoError(t, err)
	assert.Equal(t, int64(0), avg.TotalQuantity)
	assert.Equal(t, money.Zero, avg.TotalValue)
	assert.Equal(t, money.Zero, avg.AverageUnitCost)
}

func TestAVCO_ReceiptWithoutDeclaredCost(t *testing.T) {
	repo := newMemRepo()
	e := NewEngine(repo, repo)
	configureMethod(t, e, entity.CostingAVCO, nil)

	receive(t, e, repo, 10, costPtr(1000))
	found := receive(t, e, repo, 5, nil)

	// Enters at the current average without moving it.
	assert.Equal(t, money.Money(1000), *found.UnitCost)

	avg, err := repo.GetAverage(context.Background(), testScope())
	require.NoError(t, err)
	assert.Equal(t, money.Money(1000), avg.AverageUnitCost)
}

func TestAVCO_ReverseRoundTrip(t *testing.T) {
	repo := newMemRepo()
	e := NewEngine(repo, repo)
	configureMethod(t, e, entity.CostingAVCO, nil)

	receive(t, e, repo, 100, costPtr(1000))
	issueMove, _ := issue(t, e, repo, 40)

	reversal := newMove(entity.MoveTypeIssue, 40)
	res, err := e.Reverse(context.Background(), issueMove, reversal)
	require.NoError(t, err)
	repo.onHand[scopeKey(testScope())] += 40

	assert.Equal(t, money.Money(-40000), res.TotalCost)

	avg, err := repo.GetAverage(context.Background(), testScope())
	require.NoError(t, err)
	assert.Equal(t, int64(100), avg.TotalQuantity)
	assert.Equal(t, money.Money(100000), avg.TotalValue)
	assert.Equal(t, money.Money(1000), avg.AverageUnitCost)
}

func TestStandard_VarianceOnReceipt(t *testing.T) {
	repo := newMemRepo()
	e := NewEngine(repo, repo)
	configureMethod(t, e, entity.CostingStandard, costPtr(500))

	receipt := receive(t, e, repo, 10, costPtr(600))

	// Ledger carries the standard cost, the difference lands in a variance.
	assert.Equal(t, money.Money(500), *receipt.UnitCost)
	assert.Equal(t, money.Money(5000), *receipt.TotalCost)

	variances, err := repo.ListVariancesByMove(context.Background(), tenantID, receipt.MoveID)
	require.NoError(t, err)
	require.Len(t, variances, 1)
	assert.Equal(t, int64(10), variances[0].Quantity)
	assert.Equal(t, money.Money(1000), variances[0].Amount)

	// Issues are priced at standard and never post variances.
	issueMove, res := issue(t, e, repo, 4)
	assert.Equal(t, money.Money(500), res.UnitCost)
	assert.Equal(t, money.Money(2000), res.TotalCost)

	variances, err = repo.ListVariancesByMove(context.Background(), tenantID, issueMove.MoveID)
	require.NoError(t, err)
	assert.Empty(t, variances)
}

func TestStandard_ReverseOffsetsVariances(t *testing.T) {
	repo := newMemRepo()
	e := NewEngine(repo, repo)
	configureMethod(t, e, entity.CostingStandard, costPtr(500))

	receipt := receive(t, e, repo, 10, costPtr(600))

	reversal := newMove(entity.MoveTypeReceipt, -10)
	res, err := e.Reverse(context.Background(), receipt, reversal)
	require.NoError(t, err)
	assert.Equal(t, money.Money(-5000), res.TotalCost)

	offsets, err := repo.ListVariancesByMove(context.Background(), tenantID, reversal.MoveID)
	require.NoError(t, err)
	require.Len(t, offsets, 1)
	assert.Equal(t, int64(-10), offsets[0].Quantity)
	assert.Equal(t, money.Money(-1000), offsets[0].Amount)
}

func TestValueMove_ReservationCarriesNoCost(t *testing.T) {
	repo := newMemRepo()
	e := NewEngine(repo, repo)

	move := newMove(entity.MoveTypeReservation, 10)
	res, err := e.ValueMove(context.Background(), move, nil)
	require.NoError(t, err)
	assert.Equal(t, money.Zero, res.UnitCost)
	assert.Equal(t, money.Zero, res.TotalCost)
	assert.Empty(t, repo.layers)
}

func TestMethod_DefaultsToFIFO(t *testing.T) {
	repo := newMemRepo()
	e := NewEngine(repo, repo)

	setting, err := e.Method(context.Background(), tenantID, productID)
	require.NoError(t, err)
	assert.Equal(t, entity.CostingFIFO, setting.Method)
}

func TestConfigure_Validation(t *testing.T) {
	repo := newMemRepo()
	e := NewEngine(repo, repo)

	err := e.Configure(context.Background(), &entity.ValuationSetting{
		TenantID: tenantID, ProductID: productID, Method: "lifo",
	})
	require.Error(t, err)
	appErr, ok := apperror.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperror.CodeInvalidCostingMethod, appErr.Code)

	err = e.Configure(context.Background(), &entity.ValuationSetting{
		TenantID: tenantID, ProductID: productID, Method: entity.CostingStandard,
	})
	require.Error(t, err)

	err = e.Configure(context.Background(), &entity.ValuationSetting{
		TenantID: tenantID, ProductID: productID,
		Method: entity.CostingStandard, StandardCost: costPtr(-1),
	})
	require.Error(t, err)

	err = e.Configure(context.Background(), &entity.ValuationSetting{
		TenantID: tenantID, ProductID: productID,
		Method: entity.CostingStandard, StandardCost: costPtr(500),
	})
	require.NoError(t, err)
}

func TestCheckLayerInvariant(t *testing.T) {
	repo := newMemRepo()
	e := NewEngine(repo, repo)

	receive(t, e, repo, 10, costPtr(1000))
	require.NoError(t, e.CheckLayerInvariant(context.Background(), testScope()))

	// Balance drifts away from the layers.
	repo.onHand[scopeKey(testScope())] = 7
	err := e.CheckLayerInvariant(context.Background(), testScope())
	require.Error(t, err)
	assert.True(t, apperror.IsConsistencyViolation(err))

	// Negative balances are policy-permitted and exempt.
	repo.onHand[scopeKey(testScope())] = -3
	require.NoError(t, e.CheckLayerInvariant(context.Background(), testScope()))
}

func TestCheckLayerInvariant_NonFIFONoOp(t *testing.T) {
	repo := newMemRepo()
	e := NewEngine(repo, repo)
	configureMethod(t, e, entity.CostingAVCO, nil)

	repo.onHand[scopeKey(testScope())] = 999
	require.NoError(t, e.CheckLayerInvariant(context.Background(), testScope()))
}

func TestInventoryValue(t *testing.T) {
	t.Run("fifo sums open layers", func(t *testing.T) {
		repo := newMemRepo()
		e := NewEngine(repo, repo)

		receive(t, e, repo, 100, costPtr(1000))
		receive(t, e, repo, 50, costPtr(1200))
		issue(t, e, repo, 120)

		value, err := e.InventoryValue(context.Background(), testScope())
		require.NoError(t, err)
		assert.Equal(t, money.Money(36000), value)
	})

	t.Run("avco uses total value", func(t *testing.T) {
		repo := newMemRepo()
		e := NewEngine(repo, repo)
		configureMethod(t, e, entity.CostingAVCO, nil)

		receive(t, e, repo, 100, costPtr(1500))

		value, err := e.InventoryValue(context.Background(), testScope())
		require.NoError(t, err)
		assert.Equal(t, money.Money(150000), value)
	})

	t.Run("standard multiplies on hand", func(t *testing.T) {
		repo := newMemRepo()
		e := NewEngine(repo, repo)
		configureMethod(t, e, entity.CostingStandard, costPtr(500))

		receive(t, e, repo, 30, costPtr(500))

		value, err := e.InventoryValue(context.Background(), testScope())
		require.NoError(t, err)
		assert.Equal(t, money.Money(15000), value)
	})
}

func TestApplyLandedCost(t *testing.T) {
	t.Run("fifo bumps untouched layer", func(t *testing.T) {
		repo := newMemRepo()
		e := NewEngine(repo, repo)

		receipt := receive(t, e, repo, 10, costPtr(1000))

		err := e.ApplyLandedCost(context.Background(), tenantID, receipt.MoveID, receipt, money.FromMinorUnits(250))
		require.NoError(t, err)

		layers, err := e.OpenLayers(context.Background(), testScope())
		require.NoError(t, err)
		require.Len(t, layers, 1)
		assert.Equal(t, money.Money(1025), layers[0].UnitCost)
	})

	t.Run("fifo rejects consumed layer", func(t *testing.T) {
		repo := newMemRepo()
		e := NewEngine(repo, repo)

		receipt := receive(t, e, repo, 10, costPtr(1000))
		issue(t, e, repo, 3)

		err := e.ApplyLandedCost(context.Background(), tenantID, receipt.MoveID, receipt, money.FromMinorUnits(250))
		require.Error(t, err)
		appErr, ok := apperror.AsAppError(err)
		require.True(t, ok)
		assert.Equal(t, apperror.CodeLayerConsumed, appErr.Code)
	})

	t.Run("avco folds into total value", func(t *testing.T) {
		repo := newMemRepo()
		e := NewEngine(repo, repo)
		configureMethod(t, e, entity.CostingAVCO, nil)

		receipt := receive(t, e, repo, 100, costPtr(1000))

		err := e.ApplyLandedCost(context.Background(), tenantID, receipt.MoveID, receipt, money.FromMinorUnits(5000))
		require.NoError(t, err)

		avg, err := repo.GetAverage(context.Background(), testScope())
		require.NoError(t, err)
		assert.Equal(t, money.Money(105000), avg.TotalValue)
		assert.Equal(t, money.Money(1050), avg.AverageUnitCost)
	})

	t.Run("avco rejects empty scope", func(t *testing.T) {
		repo := newMemRepo()
		e := NewEngine(repo, repo)
		configureMethod(t, e, entity.CostingAVCO, nil)

		receipt := newMove(entity.MoveTypeReceipt, 10)
		err := e.ApplyLandedCost(context.Background(), tenantID, receipt.MoveID, receipt, money.FromMinorUnits(5000))
		require.Error(t, err)
	})

	t.Run("standard posts a variance", func(t *testing.T) {
		repo := newMemRepo()
		e := NewEngine(repo, repo)
		configureMethod(t, e, entity.CostingStandard, costPtr(500))

		receipt := receive(t, e, repo, 10, costPtr(500))

		err := e.ApplyLandedCost(context.Background(), tenantID, receipt.MoveID, receipt, money.FromMinorUnits(300))
		require.NoError(t, err)

		variances, err := repo.ListVariancesByMove(context.Background(), tenantID, receipt.MoveID)
		require.NoError(t, err)
		require.Len(t, variances, 1)
		assert.Equal(t, money.Money(300), variances[0].Amount)
		assert.Equal(t, int64(0), variances[0].Quantity)
	})

	t.Run("non positive amount rejected", func(t *testing.T) {
		repo := newMemRepo()
		e := NewEngine(repo, repo)

		receipt := receive(t, e, repo, 10, costPtr(1000))
		err := e.ApplyLandedCost(context.Background(), tenantID, receipt.MoveID, receipt, money.Zero)
		require.Error(t, err)
	})
}
