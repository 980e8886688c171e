package maker

// lifecycle.go — order state machine per (token, side).
//
//	EMPTY → PLACING → LIVE → {FILLED | CANCELLED | IN_DOUBT}
//
// Placement is single-flight per slot, rate-bounded by cooldowns, gated by
// the parity bias, the notional ceiling and the solvency ledger, and always
// re-checked against the latest snapshot right before transmission.

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/alejandrodnm/polymaker/internal/domain"
	"github.com/alejandrodnm/polymaker/internal/ports"
)

// quoteCycle recomputes and refreshes quotes for every token of the market.
func (m *Maker) quoteCycle(ctx context.Context) error {
	for _, tok := range m.market.TokenIDs() {
		if err := m.quoteToken(ctx, tok); err != nil {
			if isFatal(err) {
				return err
			}
			slog.Warn("maker: quote token", "token", shortToken(tok), "err", err)
		}
	}
	return nil
}

// quoteToken refreshes both sides of one token: replace what went stale,
// then fill the empty slots.
func (m *Maker) quoteToken(ctx context.Context, tokenID string) error {
	if _, inDoubt := m.doubts[tokenID]; inDoubt {
		return nil
	}
	snap, ok := m.quotes[tokenID]
	if !ok || !snap.Usable() {
		return nil
	}

	parity := m.parity()

	for _, side := range []domain.Side{domain.Buy, domain.Sell} {
		if err := m.maybeReplace(ctx, tokenID, side, snap); err != nil {
			return err
		}
		if err := m.maybePlace(ctx, tokenID, side, snap, parity); err != nil {
			return err
		}
	}
	return nil
}

// parity evaluates the YES/NO mid-sum invariant from the latest snapshots.
// Without both quotes the check passes (no bias).
func (m *Maker) parity() domain.ParityCheck {
	yes, okY := m.quotes[m.market.YesToken().TokenID]
	no, okN := m.quotes[m.market.NoToken().TokenID]
	if !okY || !okN || !yes.Usable() || !no.Usable() {
		return domain.ParityCheck{Valid: true}
	}
	return domain.CheckParity(yes.Mid(), no.Mid(), m.cfg.Guard.ParityTolerance)
}

// maybeReplace cancels the standing order on one side when it went stale:
// TTL exceeded, no longer inside the current best, or the mid drifted beyond
// the threshold — and the replace cooldown elapsed. Only the stale side is
// cancelled, never the whole pair.
func (m *Maker) maybeReplace(ctx context.Context, tokenID string, side domain.Side, snap domain.QuoteSnapshot) error {
	order := m.orders.Get(tokenID, side)
	if order == nil {
		return nil
	}

	now := m.clock()
	key := flightKey{tokenID: tokenID, side: side}

	var reason string
	switch {
	case order.Age(now) >= m.cfg.OrderTTL:
		reason = "ttl"
	case side == domain.Buy && order.Price < snap.BestBid-1e-12:
		reason = "outside best bid"
	case side == domain.Sell && order.Price > snap.BestAsk+1e-12:
		reason = "outside best ask"
	case order.PlacedMid > 0 && math.Abs(snap.Mid()-order.PlacedMid) > m.cfg.MidMoveThreshold:
		reason = "mid moved"
	default:
		return nil
	}

	// TTL expiry is mandatory; price staleness respects the churn cooldown.
	if reason != "ttl" && now.Sub(m.lastReplace[key]) < m.cfg.ReplaceCooldown {
		return nil
	}

	if err := m.executor.CancelOrders(ctx, []string{order.ExchangeOrderID}); err != nil {
		return fmt.Errorf("replace cancel %s %s: %w", shortToken(tokenID), side, err)
	}

	slog.Info("maker: order replaced",
		"token", shortToken(tokenID), "side", side,
		"price", order.Price, "reason", reason)

	m.ids.ClearLive([]string{order.ClientOrderID})
	m.orders.Clear(tokenID, side)
	m.lastReplace[key] = now
	return nil
}

// maybePlace fills an empty slot with a fresh guarded quote.
func (m *Maker) maybePlace(ctx context.Context, tokenID string, side domain.Side, snap domain.QuoteSnapshot, parity domain.ParityCheck) error {
	if m.orders.Get(tokenID, side) != nil {
		return nil
	}

	key := flightKey{tokenID: tokenID, side: side}
	now := m.clock()

	if m.inFlight[key] {
		return nil
	}
	if now.Sub(m.lastPlace[key]) < m.cfg.PlaceCooldown {
		return nil
	}
	if parity.Suppressed(side) {
		slog.Debug("maker: side suppressed by parity bias",
			"token", shortToken(tokenID), "side", side, "parity", parity.Parity)
		return nil
	}

	desiredBid, desiredAsk := domain.DesiredPrices(snap, m.cfg.Guard)
	desired := desiredBid
	if side == domain.Sell {
		desired = desiredAsk
	}

	price, ok := domain.SafePrice(side, desired, snap, m.cfg.Guard)
	if !ok {
		return nil
	}

	return m.place(ctx, placement{
		tokenID: tokenID,
		side:    side,
		price:   price,
		size:    m.cfg.OrderSize,
	})
}

// placement is one concrete order attempt going through the state machine.
type placement struct {
	tokenID  string
	side     domain.Side
	price    float64
	size     float64
	clientID string
	hedge    bool
}

// place runs the PLACING leg: ceilings, solvency, anti-crossing re-check,
// idempotency mark, transmission, LIVE recording. The in-flight flag keeps
// the slot single-flight across the suspension points.
func (m *Maker) place(ctx context.Context, p placement) error {
	now := m.clock()
	key := flightKey{tokenID: p.tokenID, side: p.side}

	// Notional ceiling gates new placements but never cancels standing ones.
	// Re-evaluated per attempt, not reserved ahead of time.
	if m.orders.NotionalAtRisk()+p.price*p.size > m.cfg.MaxNotionalAtRisk {
		slog.Debug("maker: notional ceiling reached",
			"token", shortToken(p.tokenID), "side", p.side,
			"at_risk", m.orders.NotionalAtRisk())
		return nil
	}

	var allowed bool
	var reason string
	if p.side == domain.Buy {
		allowed, reason = m.ledger.CanPlaceBuy(ctx, p.tokenID, p.price, p.size, now)
	} else {
		allowed, reason = m.ledger.CanPlaceSell(ctx, p.tokenID, p.size, now)
	}
	if !allowed {
		slog.Info("maker: placement skipped",
			"token", shortToken(p.tokenID), "side", p.side,
			"price", p.price, "size", p.size, "reason", reason)
		return nil
	}

	// The book may have moved while we were checking solvency.
	snap := m.quotes[p.tokenID]
	price, ok := domain.Recheck(p.side, p.price, snap)
	if !ok {
		slog.Debug("maker: dropped on anti-crossing recheck",
			"token", shortToken(p.tokenID), "side", p.side, "price", p.price)
		return nil
	}
	p.price = price

	// Hedges arrive with a content-addressed id; free-standing quotes mint
	// theirs here, once the final price is known.
	if p.clientID == "" {
		p.clientID = domain.NewClientOrderID(p.side, p.tokenID, p.price, now)
	}

	amounts, err := domain.BuildAmounts(p.side, p.price, p.size)
	if err != nil {
		return fmt.Errorf("build amounts: %w", err)
	}

	// At-most-once: an id ever marked placed is never submitted again.
	if !m.ids.MarkPlaced(p.clientID, now) {
		slog.Debug("maker: duplicate client order id, skipping", "client_id", p.clientID)
		return nil
	}

	m.inFlight[key] = true
	defer delete(m.inFlight, key)

	placed, err := m.executor.PlaceOrder(ctx, ports.PlaceOrderRequest{
		TokenID:       p.tokenID,
		ConditionID:   m.market.ConditionID,
		Side:          p.side,
		Type:          domain.OrderTypeGTC,
		Amounts:       amounts,
		ClientOrderID: p.clientID,
		NegRisk:       m.market.NegRisk,
	})
	if err != nil {
		// The id stays in the placed set: the exchange may have accepted
		// the order even though the response was lost. Reconciliation
		// adopts it if so.
		return fmt.Errorf("place %s %s @%.3f: %w", shortToken(p.tokenID), p.side, p.price, err)
	}

	if placed.TakenAmount > 0 {
		slog.Warn("maker: order crossed on placement",
			"token", shortToken(p.tokenID), "side", p.side,
			"taken", placed.TakenAmount, "resting", placed.MadeAmount)
	}

	m.ids.MarkLive(p.clientID, now)
	m.orders.Set(domain.ActiveOrder{
		ExchangeOrderID: placed.ExchangeOrderID,
		ClientOrderID:   p.clientID,
		TokenID:         p.tokenID,
		Side:            p.side,
		Price:           p.price,
		Size:            p.size,
		PlacedAt:        now,
		PlacedMid:       snap.Mid(),
		Hedge:           p.hedge,
	})
	m.lastPlace[key] = now
	m.ordersPlaced++

	slog.Info("maker: order placed",
		"token", shortToken(p.tokenID), "side", p.side,
		"price", p.price, "size", p.size,
		"hedge", p.hedge, "order", placed.ExchangeOrderID)
	return nil
}

// handleFill applies a fill to the ledger, retires the filled order and
// places the spread-capturing hedge on the opposite side.
func (m *Maker) handleFill(ctx context.Context, f domain.Fill) error {
	if !m.ledger.ApplyFill(ctx, f, m.clock()) {
		return nil // redelivered trade
	}

	slog.Info("maker: fill",
		"token", shortToken(f.TokenID), "side", f.Side,
		"price", f.Price, "size", f.Size, "trade", f.TradeID)

	if order := m.orders.ByExchangeID(f.OrderID); order != nil {
		order.FilledSize += f.Size
		if order.Remaining() <= 1e-9 {
			m.ids.ClearLive([]string{order.ClientOrderID})
			m.orders.Clear(order.TokenID, order.Side)
		} else {
			m.orders.Set(*order)
		}
	}

	return m.placeHedge(ctx, f)
}

// placeHedge submits the same-size opposite-side order one tick past the
// fill price. Its client id is content-addressed on the fill, so a
// redelivered fill can never double-hedge.
func (m *Maker) placeHedge(ctx context.Context, f domain.Fill) error {
	side := f.Side.Opposite()
	tick := m.tick()

	price := f.Price + tick
	if side == domain.Buy {
		price = f.Price - tick
	}
	price = domain.RoundToTick(price, tick)
	if price <= 0 || price >= 1 {
		slog.Warn("maker: hedge price out of range, skipping",
			"token", shortToken(f.TokenID), "price", price)
		return nil
	}

	if m.orders.Get(f.TokenID, side) != nil {
		slog.Debug("maker: hedge side already quoted, skipping",
			"token", shortToken(f.TokenID), "side", side)
		return nil
	}

	return m.place(ctx, placement{
		tokenID:  f.TokenID,
		side:     side,
		price:    price,
		size:     f.Size,
		clientID: domain.HedgeClientOrderID(f, side, f.Size),
		hedge:    true,
	})
}
