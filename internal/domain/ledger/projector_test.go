package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockledger/internal/core/apperror"
	"stockledger/internal/core/entity"
	"stockledger/internal/core/id"
)

var (
	testTenantID    = id.MustParse("018f0000-0000-7000-8000-000000000001")
	testProductID   = id.MustParse("018f0000-0000-7000-8000-000000000002")
	testWarehouseID = id.MustParse("018f0000-0000-7000-8000-000000000003")
	testLocationID  = id.MustParse("018f0000-0000-7000-8000-000000000004")
)

func testLevel(onHand, reserved int64) entity.InventoryLevel {
	return entity.InventoryLevel{
		TenantID:    testTenantID,
		ProductID:   testProductID,
		WarehouseID: testWarehouseID,
		LocationID:  testLocationID,
		OnHand:      onHand,
		Reserved:    reserved,
	}
}

func testMove(moveType entity.MoveType, quantity int64) *entity.StockMove {
	return &entity.StockMove{
		MoveID:      id.New(),
		TenantID:    testTenantID,
		ProductID:   testProductID,
		WarehouseID: testWarehouseID,
		LocationID:  testLocationID,
		MoveType:    moveType,
		Quantity:    quantity,
	}
}

func TestProjector_Apply(t *testing.T) {
	p := NewProjector()

	tests := []struct {
		name          string
		level         entity.InventoryLevel
		move          *entity.StockMove
		allowNegative bool
		wantOnHand    int64
		wantReserved  int64
		wantCode      string
	}{
		{
			name:       "receipt adds on hand",
			level:      testLevel(0, 0),
			move:       testMove(entity.MoveTypeReceipt, 100),
			wantOnHand: 100,
		},
		{
			name:       "issue within stock",
			level:      testLevel(100, 0),
			move:       testMove(entity.MoveTypeIssue, -40),
			wantOnHand: 60,
		},
		{
			name:     "issue beyond stock rejected",
			level:    testLevel(30, 0),
			move:     testMove(entity.MoveTypeIssue, -50),
			wantCode: apperror.CodeInsufficientStock,
		},
		{
			name:          "issue beyond stock allowed by policy",
			level:         testLevel(30, 0),
			move:          testMove(entity.MoveTypeIssue, -50),
			allowNegative: true,
			wantOnHand:    -20,
		},
		{
			name:         "reservation within available",
			level:        testLevel(100, 20),
			move:         testMove(entity.MoveTypeReservation, 50),
			wantOnHand:   100,
			wantReserved: 70,
		},
		{
			name:     "reservation beyond on hand rejected",
			level:    testLevel(100, 80),
			move:     testMove(entity.MoveTypeReservation, 30),
			wantCode: apperror.CodeInsufficientStock,
		},
		{
			name:         "release frees reservation",
			level:        testLevel(100, 50),
			move:         testMove(entity.MoveTypeRelease, 30),
			wantOnHand:   100,
			wantReserved: 20,
		},
		{
			name:     "release beyond reserved is a consistency violation",
			level:    testLevel(100, 10),
			move:     testMove(entity.MoveTypeRelease, 30),
			wantCode: apperror.CodeConsistencyViolation,
		},
		{
			name:          "release beyond reserved rejected even with negative stock policy",
			level:         testLevel(100, 10),
			move:          testMove(entity.MoveTypeRelease, 30),
			allowNegative: true,
			wantCode:      apperror.CodeConsistencyViolation,
		},
		{
			name:       "negative adjustment",
			level:      testLevel(10, 0),
			move:       testMove(entity.MoveTypeAdjustment, -10),
			wantOnHand: 0,
		},
		{
			name:     "adjustment below zero rejected",
			level:    testLevel(5, 0),
			move:     testMove(entity.MoveTypeAdjustment, -10),
			wantCode: apperror.CodeInsufficientStock,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := p.Apply(tt.level, tt.move, tt.allowNegative)
			if tt.wantCode != "" {
				require.Error(t, err)
				appErr, ok := apperror.AsAppError(err)
				require.True(t, ok)
				assert.Equal(t, tt.wantCode, appErr.Code)
				// Level is returned unchanged on rejection.
				assert.Equal(t, tt.level.OnHand, got.OnHand)
				assert.Equal(t, tt.level.Reserved, got.Reserved)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantOnHand, got.OnHand)
			assert.Equal(t, tt.wantReserved, got.Reserved)
			assert.False(t, got.UpdatedAt.IsZero())
		})
	}
}

func TestProjector_Apply_ShortfallDetails(t *testing.T) {
	p := NewProjector()

	_, err := p.Apply(testLevel(30, 0), testMove(entity.MoveTypeIssue, -50), false)
	require.Error(t, err)

	appErr, ok := apperror.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, int64(50), appErr.Details["requested"])
	assert.Equal(t, int64(30), appErr.Details["available"])
	assert.Equal(t, int64(20), appErr.Details["shortfall"])
}

func TestProjector_Apply_WrongAggregate(t *testing.T) {
	p := NewProjector()

	move := testMove(entity.MoveTypeReceipt, 10)
	move.LocationID = id.MustParse("018f0000-0000-7000-8000-0000000000ff")

	_, err := p.Apply(testLevel(0, 0), move, false)
	require.Error(t, err)
	assert.True(t, apperror.IsConsistencyViolation(err))
}
