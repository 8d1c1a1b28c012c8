package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func ptr[T any](v T) *T { return &v }

func TestEvent_Remaining(t *testing.T) {
	tests := []struct {
		name      string
		capacity  int
		booked    int
		remaining int
		full      bool
	}{
		{"empty", 10, 0, 10, false},
		{"partial", 10, 7, 3, false},
		{"full", 10, 10, 0, true},
		{"zero capacity", 0, 0, 0, true},
		{"over after capacity cut", 5, 6, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := &Event{Capacity: tt.capacity, BookedQuantity: tt.booked}
			assert.Equal(t, tt.remaining, e.Remaining())
			assert.Equal(t, tt.full, e.IsFull())
		})
	}
}

func TestEvent_PriceAndClosing(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	free := &Event{}
	assert.True(t, free.IsFree())
	assert.Equal(t, int64(0), free.Price())
	assert.False(t, free.IsClosed(now))

	paid := &Event{UnitPriceMinor: ptr(int64(1500)), ClosesAt: ptr(now)}
	assert.False(t, paid.IsFree())
	assert.Equal(t, int64(1500), paid.Price())
	assert.True(t, paid.IsClosed(now), "closes_at is exclusive")
	assert.False(t, paid.IsClosed(now.Add(-time.Second)))

	assert.True(t, (&Event{UnitPriceMinor: ptr(int64(0))}).IsFree())
}

func TestPaymentItem_Total(t *testing.T) {
	assert.Equal(t, int64(3000), PaymentItem{Quantity: 3, UnitPriceMinor: 1000}.Total())
}

func TestFormatMinor(t *testing.T) {
	assert.Equal(t, "10.00", FormatMinor(1000))
	assert.Equal(t, "0.05", FormatMinor(5))
	assert.Equal(t, "1234.50", FormatMinor(123450))
	assert.Equal(t, "15.00 GBP", FormatPrice(1500, "GBP"))
}
