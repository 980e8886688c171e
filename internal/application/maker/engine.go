// Package maker contains the market-making engine: one Maker instance per
// market, a single goroutine that consumes feed events and timer ticks and
// owns every piece of mutable state for that market (active orders, client
// id sets, inventory ledger, doubt records). Feeds and the reconciler only
// report facts; this goroutine decides every state transition.
package maker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alejandrodnm/polymaker/internal/domain"
	"github.com/alejandrodnm/polymaker/internal/ports"
)

// Config holds every tunable of one maker instance.
type Config struct {
	Guard domain.GuardConfig

	// OrderSize is the share size of every quote, per side.
	OrderSize float64
	// OrderTTL expires resting orders regardless of price movement.
	OrderTTL time.Duration
	// PlaceCooldown bounds the placement rate per (token, side).
	PlaceCooldown time.Duration
	// ReplaceCooldown bounds cancel+replace churn per (token, side).
	ReplaceCooldown time.Duration
	// MidMoveThreshold triggers a replace when the mid drifted this far
	// from the mid at placement time.
	MidMoveThreshold float64
	// MaxNotionalAtRisk caps Σ price×size over all open orders.
	MaxNotionalAtRisk float64
	// MaxPosition caps the per-token inventory, in shares.
	MaxPosition float64

	QuoteInterval     time.Duration
	ReconcileInterval time.Duration
	ResyncInterval    time.Duration
	HealthInterval    time.Duration
	IDCleanupInterval time.Duration
	IDMaxAge          time.Duration

	// DoubtRequeryDelay is the wait before the single doubt re-query.
	DoubtRequeryDelay time.Duration
	// DoubtHardThreshold forces a requote if doubt persists this long.
	DoubtHardThreshold time.Duration

	// FeedStaleAfter marks a feed down when silent this long.
	FeedStaleAfter time.Duration

	ChainCacheTTL      time.Duration
	ChainStaleCeiling  time.Duration
	AllowanceThreshold float64

	// FirstQuoteTimeout bounds the wait for the first usable feed price
	// before falling back to a REST book snapshot.
	FirstQuoteTimeout time.Duration
}

// SetDefaults fills every zero field with a production-safe value.
func (c *Config) SetDefaults() {
	if c.Guard.ImprovementTicks == 0 {
		c.Guard.ImprovementTicks = 1
	}
	if c.Guard.MaxDistanceFromMid == 0 {
		c.Guard.MaxDistanceFromMid = 0.05
	}
	if c.Guard.MinSpreadMult == 0 {
		c.Guard.MinSpreadMult = 0.5
	}
	if c.Guard.MaxSpreadMult == 0 {
		c.Guard.MaxSpreadMult = 3.0
	}
	if c.Guard.BaseSpread == 0 {
		c.Guard.BaseSpread = 0.02
	}
	if c.Guard.ParityTolerance == 0 {
		c.Guard.ParityTolerance = 0.06
	}
	if c.OrderSize == 0 {
		c.OrderSize = 25
	}
	if c.OrderTTL == 0 {
		c.OrderTTL = 10 * time.Minute
	}
	if c.PlaceCooldown == 0 {
		c.PlaceCooldown = 5 * time.Second
	}
	if c.ReplaceCooldown == 0 {
		c.ReplaceCooldown = 15 * time.Second
	}
	if c.MidMoveThreshold == 0 {
		c.MidMoveThreshold = 0.01
	}
	if c.MaxNotionalAtRisk == 0 {
		c.MaxNotionalAtRisk = 200
	}
	if c.MaxPosition == 0 {
		c.MaxPosition = 200
	}
	if c.QuoteInterval == 0 {
		c.QuoteInterval = 5 * time.Second
	}
	if c.ReconcileInterval == 0 {
		c.ReconcileInterval = 30 * time.Second
	}
	if c.ResyncInterval == 0 {
		c.ResyncInterval = 2 * time.Minute
	}
	if c.HealthInterval == 0 {
		c.HealthInterval = 15 * time.Second
	}
	if c.IDCleanupInterval == 0 {
		c.IDCleanupInterval = 10 * time.Minute
	}
	if c.IDMaxAge == 0 {
		c.IDMaxAge = time.Hour
	}
	if c.DoubtRequeryDelay == 0 {
		c.DoubtRequeryDelay = 3 * time.Second
	}
	if c.DoubtHardThreshold == 0 {
		c.DoubtHardThreshold = 30 * time.Second
	}
	if c.FeedStaleAfter == 0 {
		c.FeedStaleAfter = 2 * time.Minute
	}
	if c.ChainCacheTTL == 0 {
		c.ChainCacheTTL = 30 * time.Second
	}
	if c.ChainStaleCeiling == 0 {
		c.ChainStaleCeiling = 5 * time.Minute
	}
	if c.AllowanceThreshold == 0 {
		c.AllowanceThreshold = 50
	}
	if c.FirstQuoteTimeout == 0 {
		c.FirstQuoteTimeout = 15 * time.Second
	}
}

// flightKey identifies one (token, side) slot.
type flightKey struct {
	tokenID string
	side    domain.Side
}

// Maker quotes one binary market. All fields are owned by the Run goroutine.
type Maker struct {
	market     domain.Market
	cfg        Config
	executor   ports.OrderExecutor
	marketFeed ports.MarketFeed
	userFeed   ports.UserFeed
	ledger     *Ledger
	clock      func() time.Time

	quotes      map[string]domain.QuoteSnapshot // last usable snapshot per token
	orders      *domain.ActiveOrderSet
	ids         *domain.ClientOrderIDLedger
	doubts      map[string]*domain.OrderInDoubt
	inFlight    map[flightKey]bool
	lastPlace   map[flightKey]time.Time
	lastReplace map[flightKey]time.Time

	ordersPlaced int
	startedAt    time.Time
	stopReason   string
}

// NewMaker wires a maker for one market. The config must have defaults set.
func NewMaker(market domain.Market, cfg Config, executor ports.OrderExecutor,
	marketFeed ports.MarketFeed, userFeed ports.UserFeed, ledger *Ledger) *Maker {
	return &Maker{
		market:      market,
		cfg:         cfg,
		executor:    executor,
		marketFeed:  marketFeed,
		userFeed:    userFeed,
		ledger:      ledger,
		clock:       time.Now,
		quotes:      make(map[string]domain.QuoteSnapshot),
		orders:      domain.NewActiveOrderSet(),
		ids:         domain.NewClientOrderIDLedger(),
		doubts:      make(map[string]*domain.OrderInDoubt),
		inFlight:    make(map[flightKey]bool),
		lastPlace:   make(map[flightKey]time.Time),
		lastReplace: make(map[flightKey]time.Time),
	}
}

// Run drives the maker until the context is cancelled, the feeds die, or a
// fatal error stops the market. It always shuts down gracefully: cancels
// open orders, persists state and closes the feeds.
func (m *Maker) Run(ctx context.Context) error {
	m.startedAt = m.clock()

	if err := m.ledger.Restore(ctx); err != nil {
		slog.Warn("maker: restore positions failed, starting empty", "err", err)
	}

	m.resolveTick(ctx)

	quoteEvents, err := m.marketFeed.Start(ctx)
	if err != nil {
		return fmt.Errorf("maker: market feed: %w", err)
	}
	userEvents, err := m.userFeed.Start(ctx)
	if err != nil {
		m.marketFeed.Close()
		return fmt.Errorf("maker: user feed: %w", err)
	}

	m.bootstrap(ctx)

	quoteTick := time.NewTicker(m.cfg.QuoteInterval)
	reconcileTick := time.NewTicker(m.cfg.ReconcileInterval)
	resyncTick := time.NewTicker(m.cfg.ResyncInterval)
	healthTick := time.NewTicker(m.cfg.HealthInterval)
	cleanupTick := time.NewTicker(m.cfg.IDCleanupInterval)
	doubtTick := time.NewTicker(m.cfg.DoubtRequeryDelay)
	defer func() {
		quoteTick.Stop()
		reconcileTick.Stop()
		resyncTick.Stop()
		healthTick.Stop()
		cleanupTick.Stop()
		doubtTick.Stop()
	}()

	slog.Info("maker: started",
		"market", m.market.Slug,
		"size", m.cfg.OrderSize,
		"notional_cap", m.cfg.MaxNotionalAtRisk,
		"hours_to_resolution", m.market.HoursToResolution())

	defer m.shutdown()

	for {
		select {
		case <-ctx.Done():
			m.stopReason = "context cancelled"
			return nil

		case ev, open := <-quoteEvents:
			if !open {
				m.stopReason = "market feed unrecoverable"
				return fmt.Errorf("maker %s: market feed gave up", m.market.Slug)
			}
			m.handleQuote(ctx, ev.Snapshot)

		case ev, open := <-userEvents:
			if !open {
				m.stopReason = "user feed unrecoverable"
				return fmt.Errorf("maker %s: user feed gave up", m.market.Slug)
			}
			if err := m.handleUserEvent(ctx, ev); err != nil {
				if isFatal(err) {
					m.stopReason = "auth error"
					return fmt.Errorf("maker %s: %w", m.market.Slug, err)
				}
				slog.Warn("maker: user event", "err", err)
			}

		case <-quoteTick.C:
			if err := m.quoteCycle(ctx); err != nil && isFatal(err) {
				m.stopReason = "auth error"
				return fmt.Errorf("maker %s: %w", m.market.Slug, err)
			}

		case <-reconcileTick.C:
			if err := m.reconcile(ctx); err != nil {
				if isFatal(err) {
					m.stopReason = "auth error"
					return fmt.Errorf("maker %s: %w", m.market.Slug, err)
				}
				slog.Warn("maker: reconcile", "err", err)
			}

		case <-doubtTick.C:
			m.checkDoubts(ctx)

		case <-resyncTick.C:
			m.ledger.ResyncAll(ctx, m.market.TokenIDs(), m.clock())
			m.ledger.MaybeTopUpAllowance(ctx, m.clock())

		case <-healthTick.C:
			if reason, stop := m.checkHealth(); stop {
				m.stopReason = reason
				return fmt.Errorf("maker %s: %s", m.market.Slug, reason)
			}

		case <-cleanupTick.C:
			evicted := m.ids.Cleanup(m.clock(), m.cfg.IDMaxAge)
			if evicted > 0 {
				slog.Debug("maker: id ledger cleanup", "evicted", evicted)
			}
		}
	}
}

// bootstrap waits briefly for first feed prices and falls back to REST book
// snapshots for any token still without a quote.
func (m *Maker) bootstrap(ctx context.Context) {
	deadline := m.clock().Add(m.cfg.FirstQuoteTimeout)
	for m.clock().Before(deadline) {
		all := true
		for _, tok := range m.market.TokenIDs() {
			if _, ok := m.quotes[tok]; !ok {
				if snap, ok := m.marketFeed.(interface {
					LastGood(string) (domain.QuoteSnapshot, bool)
				}); ok {
					if q, found := snap.LastGood(tok); found {
						m.storeQuote(q)
						continue
					}
				}
				all = false
			}
		}
		if all {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(500 * time.Millisecond):
		}
	}

	for _, tok := range m.market.TokenIDs() {
		if _, ok := m.quotes[tok]; ok {
			continue
		}
		book, err := m.executor.OrderBook(ctx, tok)
		if err != nil {
			slog.Warn("maker: REST book fallback failed", "token", shortToken(tok), "err", err)
			continue
		}
		snap := book.Snapshot(m.tick(), m.clock())
		if snap.Usable() && !snap.Corrupt() {
			m.storeQuote(snap)
			slog.Info("maker: seeded quote from REST book", "token", shortToken(tok))
		}
	}
}

// handleQuote stores a fresh snapshot and runs a quote cycle for its token.
func (m *Maker) handleQuote(ctx context.Context, snap domain.QuoteSnapshot) {
	m.storeQuote(snap)
	if err := m.quoteToken(ctx, snap.TokenID); err != nil {
		slog.Warn("maker: quote on update", "token", shortToken(snap.TokenID), "err", err)
	}
}

// storeQuote stamps the market tick size onto the snapshot and caches it.
func (m *Maker) storeQuote(snap domain.QuoteSnapshot) {
	if snap.TickSize == 0 {
		snap.TickSize = m.tick()
	}
	m.quotes[snap.TokenID] = snap
}

func (m *Maker) tick() float64 {
	if m.market.TickSize > 0 {
		return m.market.TickSize
	}
	return 0.01
}

// resolveTick fills the market tick size from the REST tick-size endpoint
// when Gamma omitted it. An 0.001-tick market quoted on a 0.01 grid prices
// every order a full tick off, so this runs before the first quote.
func (m *Maker) resolveTick(ctx context.Context) {
	if m.market.TickSize > 0 {
		return
	}
	tick, err := m.executor.TickSize(ctx, m.market.YesToken().TokenID)
	if err != nil {
		slog.Warn("maker: tick size lookup failed, assuming 0.01",
			"market", m.market.Slug, "err", err)
		m.market.TickSize = 0.01
		return
	}
	m.market.TickSize = tick
	slog.Info("maker: tick size resolved", "market", m.market.Slug, "tick", tick)
}

// handleUserEvent routes fills and order-status notifications.
func (m *Maker) handleUserEvent(ctx context.Context, ev ports.UserEvent) error {
	switch {
	case ev.Fill != nil:
		return m.handleFill(ctx, *ev.Fill)
	case ev.Status != nil:
		m.handleStatus(*ev.Status)
	}
	return nil
}

// handleStatus reacts to exchange-side order transitions. Only cancellations
// matter here; placements are recorded from the REST ack.
func (m *Maker) handleStatus(ev domain.OrderStatusEvent) {
	if ev.Status != "CANCELLATION" {
		return
	}
	if o := m.orders.ByExchangeID(ev.OrderID); o != nil {
		slog.Info("maker: order cancelled by exchange",
			"token", shortToken(o.TokenID), "side", o.Side, "price", o.Price)
		m.ids.ClearLive([]string{o.ClientOrderID})
		m.orders.Clear(o.TokenID, o.Side)
	}
}

// shutdown cancels open orders, persists state and closes the feeds.
// Runs on a fresh context: the run context is usually already cancelled.
func (m *Maker) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var ids []string
	for _, o := range m.orders.Orders() {
		ids = append(ids, o.ExchangeOrderID)
	}
	if len(ids) > 0 {
		if err := m.executor.CancelOrders(ctx, ids); err != nil {
			slog.Error("maker: shutdown cancel failed", "orders", len(ids), "err", err)
		} else {
			slog.Info("maker: open orders cancelled", "count", len(ids))
		}
	}

	if err := m.ledger.PersistSummary(ctx, m.market.Slug, m.startedAt, m.clock(), m.ordersPlaced); err != nil {
		slog.Error("maker: persist summary", "err", err)
	}

	m.marketFeed.Close()
	m.userFeed.Close()

	slog.Info("maker: stopped",
		"market", m.market.Slug,
		"reason", m.stopReason,
		"orders_placed", m.ordersPlaced,
		"fills", m.ledger.FillCount(),
		"realized_pnl", m.ledger.RealizedPnL())
}

// Report returns the data for the shutdown console summary.
func (m *Maker) Report() SessionReport {
	return SessionReport{
		Market:       m.market,
		StartedAt:    m.startedAt,
		EndedAt:      m.clock(),
		OrdersPlaced: m.ordersPlaced,
		Fills:        m.ledger.FillCount(),
		RealizedPnL:  m.ledger.RealizedPnL(),
		Flows:        m.ledger.TokenFlows(),
	}
}

// SessionReport is the end-of-session snapshot handed to the console.
type SessionReport struct {
	Market       domain.Market
	StartedAt    time.Time
	EndedAt      time.Time
	OrdersPlaced int
	Fills        int
	RealizedPnL  float64
	Flows        map[string]TokenFlowReport
}

// isFatal reports whether an error must stop the market (401/403 auth
// failures). Adapters attach the classification to the error chain.
func isFatal(err error) bool {
	var fatal interface{ Fatal() bool }
	return errors.As(err, &fatal) && fatal.Fatal()
}
