package domain

import "time"

// Side represents the direction of an order.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// OrderType enumerates the supported order lifecycles. The maker only ever
// submits GTC maker orders; the closed set exists so requests are validated
// at construction instead of carrying free-form strings through the system.
type OrderType string

const OrderTypeGTC OrderType = "GTC"

// ActiveOrder is one live resting order the maker believes it owns.
type ActiveOrder struct {
	ExchangeOrderID string
	ClientOrderID   string
	TokenID         string
	Side            Side
	Price           float64
	Size            float64
	FilledSize      float64
	PlacedAt        time.Time
	PlacedMid       float64 // midpoint at placement, for replace-threshold checks
	Hedge           bool    // true when this order hedges a fill
}

// Notional returns price × size in collateral units.
func (o ActiveOrder) Notional() float64 {
	return o.Price * o.Size
}

// Remaining returns the unfilled size.
func (o ActiveOrder) Remaining() float64 {
	r := o.Size - o.FilledSize
	if r < 0 {
		return 0
	}
	return r
}

// Age returns how long the order has been resting.
func (o ActiveOrder) Age(now time.Time) time.Duration {
	return now.Sub(o.PlacedAt)
}

// SideOrders holds the at-most-one-per-side pair of live orders for a token.
type SideOrders struct {
	Bid *ActiveOrder
	Ask *ActiveOrder
}

// ActiveOrderSet tracks live orders keyed by token id.
// Invariant: at most one bid and one ask per token. The set is owned by the
// maker goroutine for its market; nothing else mutates it.
type ActiveOrderSet struct {
	byToken map[string]*SideOrders
}

// NewActiveOrderSet creates an empty set.
func NewActiveOrderSet() *ActiveOrderSet {
	return &ActiveOrderSet{byToken: make(map[string]*SideOrders)}
}

// Get returns the order on the given side, or nil.
func (s *ActiveOrderSet) Get(tokenID string, side Side) *ActiveOrder {
	so, ok := s.byToken[tokenID]
	if !ok {
		return nil
	}
	if side == Buy {
		return so.Bid
	}
	return so.Ask
}

// Set records an order, replacing whatever was tracked on that side.
func (s *ActiveOrderSet) Set(o ActiveOrder) {
	so, ok := s.byToken[o.TokenID]
	if !ok {
		so = &SideOrders{}
		s.byToken[o.TokenID] = so
	}
	cp := o
	if o.Side == Buy {
		so.Bid = &cp
	} else {
		so.Ask = &cp
	}
}

// Clear removes the order on the given side.
func (s *ActiveOrderSet) Clear(tokenID string, side Side) {
	so, ok := s.byToken[tokenID]
	if !ok {
		return
	}
	if side == Buy {
		so.Bid = nil
	} else {
		so.Ask = nil
	}
	if so.Bid == nil && so.Ask == nil {
		delete(s.byToken, tokenID)
	}
}

// ClearToken removes both sides for a token.
func (s *ActiveOrderSet) ClearToken(tokenID string) {
	delete(s.byToken, tokenID)
}

// Token returns the pair tracked for a token (nil pointers when absent).
func (s *ActiveOrderSet) Token(tokenID string) SideOrders {
	if so, ok := s.byToken[tokenID]; ok {
		return *so
	}
	return SideOrders{}
}

// Orders returns a copy of every tracked order.
func (s *ActiveOrderSet) Orders() []ActiveOrder {
	var out []ActiveOrder
	for _, so := range s.byToken {
		if so.Bid != nil {
			out = append(out, *so.Bid)
		}
		if so.Ask != nil {
			out = append(out, *so.Ask)
		}
	}
	return out
}

// ByExchangeID finds an order by its exchange-assigned id.
func (s *ActiveOrderSet) ByExchangeID(exchangeOrderID string) *ActiveOrder {
	for _, so := range s.byToken {
		if so.Bid != nil && so.Bid.ExchangeOrderID == exchangeOrderID {
			return so.Bid
		}
		if so.Ask != nil && so.Ask.ExchangeOrderID == exchangeOrderID {
			return so.Ask
		}
	}
	return nil
}

// NotionalAtRisk sums price × remaining size over all tracked orders.
func (s *ActiveOrderSet) NotionalAtRisk() float64 {
	var total float64
	for _, o := range s.Orders() {
		total += o.Price * o.Remaining()
	}
	return total
}

// Len returns the number of tracked orders.
func (s *ActiveOrderSet) Len() int {
	n := 0
	for _, so := range s.byToken {
		if so.Bid != nil {
			n++
		}
		if so.Ask != nil {
			n++
		}
	}
	return n
}

// OrderInDoubt records a token whose remote listing momentarily disagreed
// with local state (exchange reported fewer orders than tracked). The token
// must leave this state within a bounded window: either the re-query restores
// the orders, or an explicit cancel plus forced requote resolves it.
type OrderInDoubt struct {
	TokenID        string
	OriginalOrders []ActiveOrder
	StartedAt      time.Time
	RequeryDone    bool
}

// Expired reports whether the doubt has outlived the hard threshold.
func (d OrderInDoubt) Expired(now time.Time, threshold time.Duration) bool {
	return now.Sub(d.StartedAt) >= threshold
}

// Fill is an immutable fill event, the sole authoritative trigger for
// inventory and PnL mutation. The user feed may redeliver; dedup is the
// ledger's job, keyed by TradeID (or order id + cumulative size).
type Fill struct {
	TradeID    string
	OrderID    string
	TokenID    string
	Side       Side
	Price      float64
	Size       float64
	FeeRateBps float64
	Timestamp  time.Time
}

// SignedSize returns +Size for BUY fills and −Size for SELL fills.
func (f Fill) SignedSize() float64 {
	if f.Side == Sell {
		return -f.Size
	}
	return f.Size
}

// OrderStatusEvent is an order lifecycle notification from the user feed.
type OrderStatusEvent struct {
	OrderID   string
	TokenID   string
	Side      Side
	Status    string // PLACEMENT | UPDATE | CANCELLATION
	Price     float64
	Size      float64
	Timestamp time.Time
}
