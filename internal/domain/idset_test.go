package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClientOrderIDLedger_AtMostOnce(t *testing.T) {
	l := NewClientOrderIDLedger()
	now := time.Now()

	assert.True(t, l.MarkPlaced("a", now))
	assert.False(t, l.MarkPlaced("a", now), "second submission of the same id must be refused")
	assert.True(t, l.WasPlaced("a"))
	assert.False(t, l.WasPlaced("b"))
}

func TestClientOrderIDLedger_CleanupKeepsUnconfirmed(t *testing.T) {
	l := NewClientOrderIDLedger()
	start := time.Now()

	l.MarkPlaced("confirmed", start)
	l.MarkLive("confirmed", start)
	l.MarkPlaced("limbo", start)

	later := start.Add(2 * time.Hour)
	evicted := l.Cleanup(later, time.Hour)

	assert.Equal(t, 1, evicted)
	assert.False(t, l.WasPlaced("confirmed"))
	// An id the exchange never acknowledged keeps blocking resubmission.
	assert.True(t, l.WasPlaced("limbo"))
}

func TestClientOrderIDLedger_ClearLive(t *testing.T) {
	l := NewClientOrderIDLedger()
	now := time.Now()

	l.MarkPlaced("x", now)
	l.MarkLive("x", now)
	assert.True(t, l.IsLive("x"))

	l.ClearLive([]string{"x"})
	assert.False(t, l.IsLive("x"))
	assert.True(t, l.WasPlaced("x"), "dedup guard survives a doubt window")
}

func TestCanBuySell_LongOnly(t *testing.T) {
	// Within cap.
	assert.True(t, CanBuy(10, 5, 100))
	// Breaches cap.
	assert.False(t, CanBuy(98, 5, 100))
	// Recovering from an out-of-band short is always allowed.
	assert.True(t, CanBuy(-3, 5, 1))
	// Zero/negative sizes never pass.
	assert.False(t, CanBuy(0, 0, 100))

	assert.True(t, CanSell(10, 10))
	assert.True(t, CanSell(10, 5))
	assert.False(t, CanSell(4.99, 5))
	assert.False(t, CanSell(-1, 5))
}

func TestApplyFill_Conservation(t *testing.T) {
	fills := []Fill{
		{Side: Buy, Size: 10},
		{Side: Buy, Size: 2.5},
		{Side: Sell, Size: 7},
		{Side: Buy, Size: 1},
		{Side: Sell, Size: 3.5},
	}
	pos := 0.0
	signed := 0.0
	for _, f := range fills {
		pos = ApplyFill(pos, f)
		signed += f.SignedSize()
	}
	assert.InDelta(t, signed, pos, 1e-12, "sum of signed fill sizes equals final inventory")
	assert.InDelta(t, 3.0, pos, 1e-12)
}

func TestActiveOrderSet_OnePerSide(t *testing.T) {
	s := NewActiveOrderSet()
	now := time.Now()

	s.Set(ActiveOrder{TokenID: "tok", Side: Buy, ExchangeOrderID: "o1", Price: 0.40, Size: 10, PlacedAt: now})
	s.Set(ActiveOrder{TokenID: "tok", Side: Buy, ExchangeOrderID: "o2", Price: 0.41, Size: 10, PlacedAt: now})
	s.Set(ActiveOrder{TokenID: "tok", Side: Sell, ExchangeOrderID: "o3", Price: 0.45, Size: 10, PlacedAt: now})

	assert.Equal(t, 2, s.Len(), "a second bid replaces the first")
	assert.Equal(t, "o2", s.Get("tok", Buy).ExchangeOrderID)
	assert.Equal(t, "o3", s.Get("tok", Sell).ExchangeOrderID)

	assert.InDelta(t, 0.41*10+0.45*10, s.NotionalAtRisk(), 1e-9)

	s.Clear("tok", Buy)
	assert.Nil(t, s.Get("tok", Buy))
	assert.NotNil(t, s.ByExchangeID("o3"))
	assert.Nil(t, s.ByExchangeID("o1"))
}
