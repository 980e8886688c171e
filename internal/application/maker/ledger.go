package maker

// ledger.go — inventory and solvency accounting for one market.
//
// Fills are the fast path: they mutate the local position immediately and are
// persisted write-through. The chain is the slow path and the source of
// truth: a periodic resync overwrites (never merges) the local count. Cached
// chain reads carry their age; past the hard staleness ceiling they are
// refused instead of silently treated as fresh.

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/alejandrodnm/polymaker/internal/domain"
	"github.com/alejandrodnm/polymaker/internal/ports"
)

// cachedFloat is an age-tagged cached read.
type cachedFloat struct {
	value float64
	at    time.Time
}

func (c cachedFloat) fresh(now time.Time, ttl time.Duration) bool {
	return !c.at.IsZero() && now.Sub(c.at) < ttl
}

func (c cachedFloat) usable(now time.Time, ceiling time.Duration) bool {
	return !c.at.IsZero() && now.Sub(c.at) < ceiling
}

// tokenFlow accumulates per-token traded volume for PnL reporting.
type tokenFlow struct {
	buySize      float64
	buyNotional  float64
	sellSize     float64
	sellNotional float64
	buyFills     int
	sellFills    int
}

// Ledger owns positions, solvency caches and the fill log for one market.
// It is only ever called from the maker goroutine; no locking.
type Ledger struct {
	chain    ports.ChainReader
	executor ports.OrderExecutor
	store    ports.MakerStorage

	cacheTTL           time.Duration
	staleCeiling       time.Duration
	allowanceThreshold float64
	maxPosition        float64

	positions map[string]float64
	applied   map[string]struct{} // trade ids already applied (feed redelivers)
	flows     map[string]*tokenFlow
	fillCount int

	balance       cachedFloat
	allowance     cachedFloat
	approved      bool
	approvedAt    time.Time
	topUpInFlight bool
}

// NewLedger wires the ledger over its slow-path sources.
func NewLedger(chain ports.ChainReader, executor ports.OrderExecutor, store ports.MakerStorage, cfg Config) *Ledger {
	return &Ledger{
		chain:              chain,
		executor:           executor,
		store:              store,
		cacheTTL:           cfg.ChainCacheTTL,
		staleCeiling:       cfg.ChainStaleCeiling,
		allowanceThreshold: cfg.AllowanceThreshold,
		maxPosition:        cfg.MaxPosition,
		positions:          make(map[string]float64),
		applied:            make(map[string]struct{}),
		flows:              make(map[string]*tokenFlow),
	}
}

// Restore loads the last persisted positions. The on-chain resync overwrites
// them shortly after startup; this only covers the boot window.
func (l *Ledger) Restore(ctx context.Context) error {
	positions, err := l.store.LoadPositions(ctx)
	if err != nil {
		return fmt.Errorf("ledger.Restore: %w", err)
	}
	for tok, shares := range positions {
		l.positions[tok] = shares
	}
	return nil
}

// Position returns the tracked share count for a token.
func (l *Ledger) Position(tokenID string) float64 {
	return l.positions[tokenID]
}

// FillCount returns how many distinct fills were applied this session.
func (l *Ledger) FillCount() int {
	return l.fillCount
}

// ApplyFill mutates the position for a fill and persists write-through.
// Returns false when the trade id was already applied (redelivery).
func (l *Ledger) ApplyFill(ctx context.Context, f domain.Fill, now time.Time) bool {
	if _, dup := l.applied[f.TradeID]; dup {
		return false
	}
	l.applied[f.TradeID] = struct{}{}
	l.fillCount++

	l.positions[f.TokenID] = domain.ApplyFill(l.positions[f.TokenID], f)

	flow, ok := l.flows[f.TokenID]
	if !ok {
		flow = &tokenFlow{}
		l.flows[f.TokenID] = flow
	}
	if f.Side == domain.Buy {
		flow.buySize += f.Size
		flow.buyNotional += f.Price * f.Size
		flow.buyFills++
	} else {
		flow.sellSize += f.Size
		flow.sellNotional += f.Price * f.Size
		flow.sellFills++
	}

	// A fill moved collateral; the cached balance is no longer trustworthy.
	l.balance.at = time.Time{}
	l.allowance.at = time.Time{}

	if err := l.store.SaveFill(ctx, f); err != nil {
		slog.Error("ledger: persist fill", "trade", f.TradeID, "err", err)
	}
	if err := l.store.SavePosition(ctx, f.TokenID, l.positions[f.TokenID], now); err != nil {
		slog.Error("ledger: persist position", "token", f.TokenID, "err", err)
	}
	return true
}

// ResyncToken overwrites the local position with the on-chain balance.
func (l *Ledger) ResyncToken(ctx context.Context, tokenID string, now time.Time) error {
	shares, err := l.chain.OutcomeBalance(ctx, tokenID)
	if err != nil {
		return fmt.Errorf("ledger.ResyncToken: %w", err)
	}

	prev := l.positions[tokenID]
	l.positions[tokenID] = shares
	if math.Abs(prev-shares) > 1e-6 {
		slog.Info("ledger: on-chain overwrite", "token", shortToken(tokenID),
			"local", prev, "chain", shares)
	}

	if err := l.store.SavePosition(ctx, tokenID, shares, now); err != nil {
		slog.Error("ledger: persist position", "token", tokenID, "err", err)
	}
	return nil
}

// ResyncAll refreshes every token plus the collateral caches. Failures are
// logged per token; the last good cache keeps serving until the ceiling.
func (l *Ledger) ResyncAll(ctx context.Context, tokenIDs []string, now time.Time) {
	for _, tok := range tokenIDs {
		if err := l.ResyncToken(ctx, tok, now); err != nil {
			slog.Warn("ledger: token resync failed", "token", shortToken(tok), "err", err)
		}
	}
	l.refreshCollateral(ctx, now)
	l.refreshApproval(ctx, now)
}

// refreshCollateral reads balance and allowance from chain into the cache.
func (l *Ledger) refreshCollateral(ctx context.Context, now time.Time) {
	if bal, err := l.chain.CollateralBalance(ctx); err == nil {
		l.balance = cachedFloat{value: bal, at: now}
	} else {
		slog.Warn("ledger: balance read failed, serving cache", "age", l.balance.age(now), "err", err)
	}
	if allow, err := l.chain.CollateralAllowance(ctx); err == nil {
		l.allowance = cachedFloat{value: allow, at: now}
	} else {
		slog.Warn("ledger: allowance read failed, serving cache", "age", l.allowance.age(now), "err", err)
	}
}

func (l *Ledger) refreshApproval(ctx context.Context, now time.Time) {
	approved, err := l.chain.IsApprovedForAll(ctx)
	if err != nil {
		slog.Warn("ledger: approval read failed, serving cache", "err", err)
		return
	}
	l.approved = approved
	l.approvedAt = now
}

func (c cachedFloat) age(now time.Time) time.Duration {
	if c.at.IsZero() {
		return 0
	}
	return now.Sub(c.at)
}

// collateral returns usable balance and allowance values, refreshing when the
// TTL lapsed. ok=false means even the stale fallback exceeded the ceiling —
// a distinct stale-data condition, not a zero balance.
func (l *Ledger) collateral(ctx context.Context, now time.Time) (balance, allowance float64, ok bool) {
	if !l.balance.fresh(now, l.cacheTTL) || !l.allowance.fresh(now, l.cacheTTL) {
		l.refreshCollateral(ctx, now)
	}
	if !l.balance.usable(now, l.staleCeiling) || !l.allowance.usable(now, l.staleCeiling) {
		return 0, 0, false
	}
	return l.balance.value, l.allowance.value, true
}

// CanPlaceBuy gates a BUY: inventory cap plus collateral solvency.
// The returned reason is for logging only.
func (l *Ledger) CanPlaceBuy(ctx context.Context, tokenID string, price, size float64, now time.Time) (bool, string) {
	if !domain.CanBuy(l.Position(tokenID), size, l.maxPosition) {
		return false, "position cap"
	}

	balance, allowance, ok := l.collateral(ctx, now)
	if !ok {
		return false, "collateral data stale"
	}

	notional := price * size
	if balance < notional {
		return false, fmt.Sprintf("balance %.2f < notional %.2f", balance, notional)
	}
	if allowance < notional {
		return false, fmt.Sprintf("allowance %.2f < notional %.2f", allowance, notional)
	}
	return true, ""
}

// CanPlaceSell gates a SELL: held shares must cover it and the exchange
// operator must be approved to move them.
func (l *Ledger) CanPlaceSell(ctx context.Context, tokenID string, size float64, now time.Time) (bool, string) {
	if !domain.CanSell(l.Position(tokenID), size) {
		return false, fmt.Sprintf("held %.2f < size %.2f", l.Position(tokenID), size)
	}
	if l.approvedAt.IsZero() {
		l.refreshApproval(ctx, now)
	}
	if !l.approved {
		return false, "exchange not approved for conditional tokens"
	}
	return true, ""
}

// MaybeTopUpAllowance asks the exchange to refresh its allowance snapshot
// when the cached allowance dips under the threshold. Concurrent requests are
// suppressed by the in-flight flag; balance must support the top-up.
func (l *Ledger) MaybeTopUpAllowance(ctx context.Context, now time.Time) {
	if l.topUpInFlight || l.allowanceThreshold <= 0 {
		return
	}

	balance, allowance, ok := l.collateral(ctx, now)
	if !ok || allowance >= l.allowanceThreshold || balance < l.allowanceThreshold {
		return
	}

	l.topUpInFlight = true
	defer func() { l.topUpInFlight = false }()

	slog.Info("ledger: allowance under threshold, requesting update",
		"allowance", allowance, "threshold", l.allowanceThreshold)
	if err := l.executor.UpdateBalanceAllowance(ctx); err != nil {
		slog.Warn("ledger: allowance update failed", "err", err)
		return
	}
	// Force the next read to hit the chain.
	l.allowance.at = time.Time{}
}

// RealizedPnL returns the matched-volume spread PnL of the session: for each
// token, min(bought, sold) shares valued at avgSell − avgBuy. Open inventory
// is not marked.
func (l *Ledger) RealizedPnL() float64 {
	var total float64
	for _, flow := range l.flows {
		matched := math.Min(flow.buySize, flow.sellSize)
		if matched <= 0 {
			continue
		}
		avgBuy := flow.buyNotional / flow.buySize
		avgSell := flow.sellNotional / flow.sellSize
		total += matched * (avgSell - avgBuy)
	}
	return total
}

// TokenFlows returns the per-token traded volume for the session report.
func (l *Ledger) TokenFlows() map[string]TokenFlowReport {
	out := make(map[string]TokenFlowReport, len(l.flows))
	for tok, flow := range l.flows {
		r := TokenFlowReport{
			Shares:    l.positions[tok],
			BuyFills:  flow.buyFills,
			SellFills: flow.sellFills,
		}
		if flow.buySize > 0 {
			r.AvgBuy = flow.buyNotional / flow.buySize
		}
		if flow.sellSize > 0 {
			r.AvgSell = flow.sellNotional / flow.sellSize
		}
		out[tok] = r
	}
	return out
}

// TokenFlowReport is the per-token slice of the session summary.
type TokenFlowReport struct {
	Shares    float64
	BuyFills  int
	SellFills int
	AvgBuy    float64
	AvgSell   float64
}

// PersistSummary writes the end-of-session row.
func (l *Ledger) PersistSummary(ctx context.Context, slug string, startedAt, endedAt time.Time, ordersPlaced int) error {
	return l.store.SaveSummary(ctx, ports.SessionSummary{
		Slug:         slug,
		StartedAt:    startedAt,
		EndedAt:      endedAt,
		Fills:        l.fillCount,
		OrdersPlaced: ordersPlaced,
		RealizedPnL:  l.RealizedPnL(),
	})
}

func shortToken(tokenID string) string {
	if len(tokenID) > 10 {
		return tokenID[:10]
	}
	return tokenID
}
