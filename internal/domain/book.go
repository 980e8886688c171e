package domain

import (
	"strconv"
	"time"
)

// OrderBook representa el libro de órdenes de un token (snapshot REST).
type OrderBook struct {
	TokenID string
	Bids    []BookEntry // ordenados mayor a menor precio
	Asks    []BookEntry // ordenados menor a mayor precio
}

// BookEntry es un nivel de precio en el orderbook.
type BookEntry struct {
	Price float64
	Size  float64
}

// BestBid devuelve el mejor precio de compra (mayor bid).
// Devuelve 0 si el book está vacío.
func (ob OrderBook) BestBid() float64 {
	if len(ob.Bids) == 0 {
		return 0
	}
	return ob.Bids[0].Price
}

// BestAsk devuelve el mejor precio de venta (menor ask).
// Devuelve 0 si el book está vacío.
func (ob OrderBook) BestAsk() float64 {
	if len(ob.Asks) == 0 {
		return 0
	}
	return ob.Asks[0].Price
}

// Midpoint devuelve el punto medio entre best bid y best ask.
func (ob OrderBook) Midpoint() float64 {
	bid := ob.BestBid()
	ask := ob.BestAsk()
	if bid == 0 || ask == 0 {
		return 0
	}
	return (bid + ask) / 2
}

// Spread devuelve el spread del book (ask - bid).
func (ob OrderBook) Spread() float64 {
	bid := ob.BestBid()
	ask := ob.BestAsk()
	if bid == 0 || ask == 0 {
		return 0
	}
	return ask - bid
}

// Snapshot reduce el book a un QuoteSnapshot top-of-book.
func (ob OrderBook) Snapshot(tick float64, now time.Time) QuoteSnapshot {
	return QuoteSnapshot{
		TokenID:   ob.TokenID,
		BestBid:   ob.BestBid(),
		BestAsk:   ob.BestAsk(),
		TickSize:  tick,
		UpdatedAt: now,
	}
}

// QuoteSnapshot is the top-of-book view the pricing layer works with.
// It is read-only input: feeds produce a fresh value on every update and
// the maker never mutates one in place.
type QuoteSnapshot struct {
	TokenID   string
	BestBid   float64
	BestAsk   float64
	TickSize  float64
	UpdatedAt time.Time
}

// Mid returns the midpoint, or 0 when either side is missing.
func (q QuoteSnapshot) Mid() float64 {
	if q.BestBid <= 0 || q.BestAsk <= 0 {
		return 0
	}
	return (q.BestBid + q.BestAsk) / 2
}

// Spread returns ask - bid, or 0 when either side is missing.
func (q QuoteSnapshot) Spread() float64 {
	if q.BestBid <= 0 || q.BestAsk <= 0 {
		return 0
	}
	return q.BestAsk - q.BestBid
}

// Usable reports whether the snapshot carries a real two-sided quote.
func (q QuoteSnapshot) Usable() bool {
	return q.BestBid > 0 && q.BestAsk > 0 && q.BestBid < q.BestAsk && q.TickSize > 0
}

// Corrupt detects the placeholder snapshots the CLOB feed is known to emit:
// an empty 0/0 pair or the full-range 0.001/0.999 default book. These must be
// discarded at the feed boundary and never reach pricing.
func (q QuoteSnapshot) Corrupt() bool {
	if q.BestBid == 0 && q.BestAsk == 0 {
		return true
	}
	if q.BestBid <= 0.001 && q.BestAsk >= 0.999 {
		return true
	}
	return false
}

// Age returns how stale the snapshot is relative to now.
func (q QuoteSnapshot) Age(now time.Time) time.Duration {
	if q.UpdatedAt.IsZero() {
		return time.Duration(1<<62 - 1)
	}
	return now.Sub(q.UpdatedAt)
}

// ParsePrice convierte un string de precio a float64.
// Usado en el mapping de la API.
func ParsePrice(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}
