package entity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMoveType_Valid(t *testing.T) {
	for _, mt := range []MoveType{
		MoveTypeReceipt, MoveTypeIssue, MoveTypeTransferOut, MoveTypeTransferIn,
		MoveTypeAdjustment, MoveTypeScrap, MoveTypeReservation, MoveTypeRelease,
	} {
		assert.True(t, mt.Valid(), string(mt))
	}
	assert.False(t, MoveType("writeoff").Valid())
	assert.False(t, MoveType("").Valid())
}

func TestDeltas(t *testing.T) {
	tests := []struct {
		moveType     MoveType
		quantity     int64
		wantOnHand   int64
		wantReserved int64
	}{
		{MoveTypeReceipt, 10, 10, 0},
		{MoveTypeIssue, -10, -10, 0},
		{MoveTypeScrap, -3, -3, 0},
		{MoveTypeAdjustment, -5, -5, 0},
		{MoveTypeReservation, 4, 0, 4},
		{MoveTypeRelease, 4, 0, -4},
	}

	for _, tt := range tests {
		t.Run(string(tt.moveType), func(t *testing.T) {
			m := StockMove{MoveType: tt.moveType, Quantity: tt.quantity}
			assert.Equal(t, tt.wantOnHand, m.OnHandDelta())
			assert.Equal(t, tt.wantReserved, m.ReservedDelta())
		})
	}
}

func TestConsumesStock(t *testing.T) {
	assert.True(t, MoveTypeIssue.ConsumesStock())
	assert.True(t, MoveTypeTransferOut.ConsumesStock())
	assert.True(t, MoveTypeScrap.ConsumesStock())
	assert.False(t, MoveTypeReceipt.ConsumesStock())
	assert.False(t, MoveTypeAdjustment.ConsumesStock())
	assert.False(t, MoveTypeReservation.ConsumesStock())
}
