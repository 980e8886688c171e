package maker

// reconcile.go — periodic diff of local belief against the exchange's
// authoritative order listing.
//
// The listing wins, with one exception: when it reports zero orders for a
// token we believe is quoted, the absence is not trusted immediately. The
// token enters doubt, a single short-delay re-query decides, and a hard
// duration threshold guarantees the doubt never lingers.

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alejandrodnm/polymaker/internal/domain"
	"github.com/alejandrodnm/polymaker/internal/ports"
)

// reconcile runs one reconciliation pass.
func (m *Maker) reconcile(ctx context.Context) error {
	// TTL first: never defend stale state against the listing.
	if err := m.expireTTL(ctx); err != nil {
		return err
	}

	remote, err := m.executor.OpenOrders(ctx, m.market.ConditionID)
	if err != nil {
		return fmt.Errorf("reconcile: listing: %w", err)
	}

	byToken := groupByToken(remote, m.market.TokenIDs())

	for _, tok := range m.market.TokenIDs() {
		if _, inDoubt := m.doubts[tok]; inDoubt {
			continue // the doubt protocol owns this token
		}
		m.reconcileToken(tok, byToken[tok])
	}
	return nil
}

// expireTTL cancels orders past their max age before the listing is fetched.
func (m *Maker) expireTTL(ctx context.Context) error {
	now := m.clock()
	for _, o := range m.orders.Orders() {
		if o.Age(now) < m.cfg.OrderTTL {
			continue
		}
		if err := m.executor.CancelOrders(ctx, []string{o.ExchangeOrderID}); err != nil {
			return fmt.Errorf("reconcile: ttl cancel %s: %w", o.ExchangeOrderID, err)
		}
		slog.Info("maker: order expired",
			"token", shortToken(o.TokenID), "side", o.Side, "age", o.Age(now))
		m.ids.ClearLive([]string{o.ClientOrderID})
		m.orders.Clear(o.TokenID, o.Side)
	}
	return nil
}

// reconcileToken converges one token's local cache onto the remote listing.
func (m *Maker) reconcileToken(tokenID string, remote []ports.OpenOrder) {
	local := m.orders.Token(tokenID)
	localCount := 0
	if local.Bid != nil {
		localCount++
	}
	if local.Ask != nil {
		localCount++
	}

	// Empty-listing anomaly: the exchange claims nothing while we track
	// orders. Do not trust the absence yet.
	if len(remote) == 0 && localCount > 0 {
		m.enterDoubt(tokenID, local)
		return
	}

	remoteByID := make(map[string]ports.OpenOrder, len(remote))
	for _, ro := range remote {
		remoteByID[ro.ExchangeOrderID] = ro
	}

	// Locally tracked but gone remotely: filled or cancelled exchange-side.
	for _, o := range []*domain.ActiveOrder{local.Bid, local.Ask} {
		if o == nil {
			continue
		}
		if _, ok := remoteByID[o.ExchangeOrderID]; !ok {
			slog.Info("maker: order gone remotely, dropping",
				"token", shortToken(tokenID), "side", o.Side, "order", o.ExchangeOrderID)
			m.ids.ClearLive([]string{o.ClientOrderID})
			m.orders.Clear(tokenID, o.Side)
		}
	}

	// Remote orders we do not track: adopt them (manual placement, or an
	// ack we never received).
	for _, ro := range remote {
		if m.orders.ByExchangeID(ro.ExchangeOrderID) != nil {
			m.refreshFromRemote(ro)
			continue
		}
		m.adopt(ro)
	}
}

// refreshFromRemote updates fill progress from the authoritative listing.
func (m *Maker) refreshFromRemote(ro ports.OpenOrder) {
	o := m.orders.ByExchangeID(ro.ExchangeOrderID)
	if o == nil || o.FilledSize == ro.FilledSize {
		return
	}
	o.FilledSize = ro.FilledSize
	m.orders.Set(*o)
}

// adopt brings an untracked remote order into the local cache.
func (m *Maker) adopt(ro ports.OpenOrder) {
	// A second remote order on an occupied side would break the
	// one-per-side invariant; keep ours and leave the extra alone until
	// the next pass drops or fills it.
	if m.orders.Get(ro.TokenID, ro.Side) != nil {
		slog.Warn("maker: remote order on occupied side, not adopting",
			"token", shortToken(ro.TokenID), "side", ro.Side, "order", ro.ExchangeOrderID)
		return
	}

	slog.Info("maker: adopting remote order",
		"token", shortToken(ro.TokenID), "side", ro.Side,
		"price", ro.Price, "size", ro.Size, "order", ro.ExchangeOrderID)

	m.orders.Set(domain.ActiveOrder{
		ExchangeOrderID: ro.ExchangeOrderID,
		TokenID:         ro.TokenID,
		Side:            ro.Side,
		Price:           ro.Price,
		Size:            ro.Size,
		FilledSize:      ro.FilledSize,
		PlacedAt:        m.clock(),
	})
}

// enterDoubt moves a token into the orders-in-doubt state: the believed-live
// ids are cleared (so dedup cannot block a later requote) but the orders are
// retained as candidates for the re-query.
func (m *Maker) enterDoubt(tokenID string, local domain.SideOrders) {
	var originals []domain.ActiveOrder
	var clientIDs []string
	for _, o := range []*domain.ActiveOrder{local.Bid, local.Ask} {
		if o != nil {
			originals = append(originals, *o)
			clientIDs = append(clientIDs, o.ClientOrderID)
		}
	}

	slog.Warn("maker: empty listing for quoted token, entering doubt",
		"token", shortToken(tokenID), "tracked", len(originals))

	m.ids.ClearLive(clientIDs)
	m.orders.ClearToken(tokenID)
	m.doubts[tokenID] = &domain.OrderInDoubt{
		TokenID:        tokenID,
		OriginalOrders: originals,
		StartedAt:      m.clock(),
	}
}

// checkDoubts advances every doubt record: re-query after the short delay,
// and unconditionally force a requote past the hard threshold.
func (m *Maker) checkDoubts(ctx context.Context) {
	now := m.clock()
	for tok, doubt := range m.doubts {
		if doubt.Expired(now, m.cfg.DoubtHardThreshold) {
			// Circuit breaker: whatever the re-query said, the token
			// must not stay in limbo.
			slog.Warn("maker: doubt exceeded hard threshold, forcing requote",
				"token", shortToken(tok))
			m.forceRequote(ctx, tok, doubt)
			continue
		}
		if doubt.RequeryDone || now.Sub(doubt.StartedAt) < m.cfg.DoubtRequeryDelay {
			continue
		}
		m.requeryDoubt(ctx, tok, doubt)
	}
}

// requeryDoubt performs the single short-delay re-query for a doubted token.
func (m *Maker) requeryDoubt(ctx context.Context, tokenID string, doubt *domain.OrderInDoubt) {
	doubt.RequeryDone = true

	remote, err := m.executor.OpenOrders(ctx, m.market.ConditionID)
	if err != nil {
		slog.Warn("maker: doubt re-query failed, waiting for hard threshold",
			"token", shortToken(tokenID), "err", err)
		return
	}

	var found []ports.OpenOrder
	for _, ro := range remote {
		if ro.TokenID == tokenID {
			found = append(found, ro)
		}
	}

	if len(found) > 0 {
		// The exchange re-reported the orders: restore from the source of
		// truth and resolve.
		slog.Info("maker: doubt resolved, orders found",
			"token", shortToken(tokenID), "found", len(found))
		for _, ro := range found {
			m.adopt(ro)
		}
		delete(m.doubts, tokenID)
		return
	}

	// Confirmed absent: explicit cancel for the suspected ids (idempotent
	// no-op if they are truly gone) and an immediate forced requote.
	slog.Info("maker: doubt confirmed absent, cancel and requote",
		"token", shortToken(tokenID))
	m.forceRequote(ctx, tokenID, doubt)
}

// forceRequote resolves a doubt by cancelling the suspected ids and quoting
// the token fresh.
func (m *Maker) forceRequote(ctx context.Context, tokenID string, doubt *domain.OrderInDoubt) {
	var ids []string
	for _, o := range doubt.OriginalOrders {
		ids = append(ids, o.ExchangeOrderID)
	}
	if len(ids) > 0 {
		if err := m.executor.CancelOrders(ctx, ids); err != nil {
			slog.Warn("maker: doubt cancel failed", "token", shortToken(tokenID), "err", err)
		}
	}

	delete(m.doubts, tokenID)

	if err := m.quoteToken(ctx, tokenID); err != nil {
		slog.Warn("maker: forced requote failed", "token", shortToken(tokenID), "err", err)
	}
}

// groupByToken indexes the remote listing by token, restricted to tracked
// tokens.
func groupByToken(remote []ports.OpenOrder, tracked []string) map[string][]ports.OpenOrder {
	want := make(map[string]struct{}, len(tracked))
	for _, t := range tracked {
		want[t] = struct{}{}
	}

	out := make(map[string][]ports.OpenOrder)
	for _, ro := range remote {
		if _, ok := want[ro.TokenID]; ok {
			out[ro.TokenID] = append(out[ro.TokenID], ro)
		}
	}
	return out
}
