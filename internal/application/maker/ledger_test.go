package maker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/polymaker/internal/domain"
)

func newTestLedger(chain *fakeChain, executor *fakeExecutor, store *fakeStore) *Ledger {
	cfg := Config{}
	cfg.SetDefaults()
	return NewLedger(chain, executor, store, cfg)
}

func buyFill(tradeID string, price, size float64) domain.Fill {
	return domain.Fill{
		TradeID: tradeID, OrderID: "0xorder", TokenID: yesToken,
		Side: domain.Buy, Price: price, Size: size,
	}
}

func sellFill(tradeID string, price, size float64) domain.Fill {
	f := buyFill(tradeID, price, size)
	f.Side = domain.Sell
	return f
}

func TestLedger_ApplyFillDedupsByTradeID(t *testing.T) {
	store := newFakeStore()
	l := newTestLedger(&fakeChain{}, &fakeExecutor{}, store)
	clock := newTestClock()

	f := buyFill("trade-1", 0.41, 25)
	assert.True(t, l.ApplyFill(context.Background(), f, clock.Now()))
	assert.False(t, l.ApplyFill(context.Background(), f, clock.Now()))

	assert.InDelta(t, 25.0, l.Position(yesToken), 1e-9)
	assert.Equal(t, 1, l.FillCount())
	assert.Len(t, store.fills, 1)
}

func TestLedger_FillsConservePosition(t *testing.T) {
	l := newTestLedger(&fakeChain{}, &fakeExecutor{}, newFakeStore())
	clock := newTestClock()

	l.ApplyFill(context.Background(), buyFill("t1", 0.40, 30), clock.Now())
	l.ApplyFill(context.Background(), sellFill("t2", 0.45, 10), clock.Now())
	l.ApplyFill(context.Background(), buyFill("t3", 0.42, 5), clock.Now())

	assert.InDelta(t, 25.0, l.Position(yesToken), 1e-9)
}

func TestLedger_ResyncOverwritesLocalCount(t *testing.T) {
	chain := &fakeChain{shares: map[string]float64{yesToken: 40}}
	store := newFakeStore()
	l := newTestLedger(chain, &fakeExecutor{}, store)
	clock := newTestClock()

	// Fast path says 25; the chain says 40. The chain wins, no merging.
	l.ApplyFill(context.Background(), buyFill("t1", 0.41, 25), clock.Now())
	require.NoError(t, l.ResyncToken(context.Background(), yesToken, clock.Now()))

	assert.InDelta(t, 40.0, l.Position(yesToken), 1e-9)
	assert.InDelta(t, 40.0, store.positions[yesToken], 1e-9)
}

func TestLedger_RestoreLoadsPersistedPositions(t *testing.T) {
	store := newFakeStore()
	store.positions[yesToken] = 12.5

	l := newTestLedger(&fakeChain{}, &fakeExecutor{}, store)
	require.NoError(t, l.Restore(context.Background()))
	assert.InDelta(t, 12.5, l.Position(yesToken), 1e-9)
}

func TestLedger_CanPlaceBuyChecksCollateral(t *testing.T) {
	chain := &fakeChain{balance: 8, allowance: 1000, approved: true}
	l := newTestLedger(chain, &fakeExecutor{}, newFakeStore())
	clock := newTestClock()

	// 0.41 × 25 = 10.25 notional against a balance of 8.
	ok, reason := l.CanPlaceBuy(context.Background(), yesToken, 0.41, 25, clock.Now())
	assert.False(t, ok)
	assert.Contains(t, reason, "balance")

	chain.balance = 1000
	l.balance = cachedFloat{} // drop the cache so the new balance is read
	ok, _ = l.CanPlaceBuy(context.Background(), yesToken, 0.41, 25, clock.Now())
	assert.True(t, ok)
}

func TestLedger_CanPlaceBuyRefusesStaleCollateral(t *testing.T) {
	chain := &fakeChain{balance: 1000, allowance: 1000}
	l := newTestLedger(chain, &fakeExecutor{}, newFakeStore())
	clock := newTestClock()

	ok, _ := l.CanPlaceBuy(context.Background(), yesToken, 0.41, 25, clock.Now())
	require.True(t, ok)

	// The chain goes dark. Within the ceiling the cache still serves…
	chain.balanceErr = errNetwork
	clock.Advance(l.cacheTTL + time.Second)
	ok, _ = l.CanPlaceBuy(context.Background(), yesToken, 0.41, 25, clock.Now())
	assert.True(t, ok)

	// …past the ceiling the data is refused as stale, which is not the same
	// as reporting an empty balance.
	clock.Advance(l.staleCeiling)
	ok, reason := l.CanPlaceBuy(context.Background(), yesToken, 0.41, 25, clock.Now())
	assert.False(t, ok)
	assert.Equal(t, "collateral data stale", reason)
}

func TestLedger_CanPlaceSellRequiresCoverageAndApproval(t *testing.T) {
	chain := &fakeChain{approved: false}
	l := newTestLedger(chain, &fakeExecutor{}, newFakeStore())
	clock := newTestClock()

	ok, reason := l.CanPlaceSell(context.Background(), yesToken, 25, clock.Now())
	assert.False(t, ok)
	assert.Contains(t, reason, "held")

	l.positions[yesToken] = 100
	ok, reason = l.CanPlaceSell(context.Background(), yesToken, 25, clock.Now())
	assert.False(t, ok)
	assert.Contains(t, reason, "not approved")

	chain.approved = true
	l.approvedAt = time.Time{} // force a re-read
	ok, _ = l.CanPlaceSell(context.Background(), yesToken, 25, clock.Now())
	assert.True(t, ok)
}

func TestLedger_MaybeTopUpAllowance(t *testing.T) {
	chain := &fakeChain{balance: 500, allowance: 10}
	executor := &fakeExecutor{}
	l := newTestLedger(chain, executor, newFakeStore())
	clock := newTestClock()

	// Allowance 10 < threshold 50, balance supports it: one update request.
	l.MaybeTopUpAllowance(context.Background(), clock.Now())
	assert.Equal(t, 1, executor.topUps)

	// Healthy allowance: nothing to do.
	chain.allowance = 200
	l.allowance = cachedFloat{}
	l.MaybeTopUpAllowance(context.Background(), clock.Now())
	assert.Equal(t, 1, executor.topUps)
}

func TestLedger_RealizedPnLMatchesVolume(t *testing.T) {
	l := newTestLedger(&fakeChain{}, &fakeExecutor{}, newFakeStore())
	clock := newTestClock()

	// Buy 30 @ avg 0.40, sell 10 @ 0.45: matched 10 × (0.45 − 0.40) = 0.50.
	l.ApplyFill(context.Background(), buyFill("t1", 0.40, 30), clock.Now())
	l.ApplyFill(context.Background(), sellFill("t2", 0.45, 10), clock.Now())

	assert.InDelta(t, 0.50, l.RealizedPnL(), 1e-9)

	// Open inventory is never marked: more buys alone change nothing.
	l.ApplyFill(context.Background(), buyFill("t3", 0.30, 20), clock.Now())
	avgBuy := (0.40*30 + 0.30*20) / 50
	assert.InDelta(t, 10*(0.45-avgBuy), l.RealizedPnL(), 1e-9)
}

func TestLedger_TokenFlowsReport(t *testing.T) {
	l := newTestLedger(&fakeChain{}, &fakeExecutor{}, newFakeStore())
	clock := newTestClock()

	l.ApplyFill(context.Background(), buyFill("t1", 0.40, 20), clock.Now())
	l.ApplyFill(context.Background(), buyFill("t2", 0.44, 20), clock.Now())
	l.ApplyFill(context.Background(), sellFill("t3", 0.50, 10), clock.Now())

	flows := l.TokenFlows()
	require.Contains(t, flows, yesToken)
	r := flows[yesToken]
	assert.Equal(t, 2, r.BuyFills)
	assert.Equal(t, 1, r.SellFills)
	assert.InDelta(t, 0.42, r.AvgBuy, 1e-9)
	assert.InDelta(t, 0.50, r.AvgSell, 1e-9)
	assert.InDelta(t, 30.0, r.Shares, 1e-9)
}
