package maker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/alejandrodnm/polymaker/internal/domain"
	"github.com/alejandrodnm/polymaker/internal/ports"
)

// fakeExecutor records every call and serves scripted responses.
type fakeExecutor struct {
	mu sync.Mutex

	placed    []ports.PlaceOrderRequest
	cancelled [][]string
	topUps    int

	placeErr   error
	openOrders []ports.OpenOrder
	openErr    error
	book       domain.OrderBook
	tickSize   float64
	tickErr    error

	takenOnPlace float64
	madeOnPlace  float64

	nextOrderID int
}

func (f *fakeExecutor) PlaceOrder(_ context.Context, req ports.PlaceOrderRequest) (ports.PlacedOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.placeErr != nil {
		return ports.PlacedOrder{}, f.placeErr
	}
	f.placed = append(f.placed, req)
	f.nextOrderID++
	return ports.PlacedOrder{
		ExchangeOrderID: fmt.Sprintf("0xorder%d", f.nextOrderID),
		Status:          "live",
		TakenAmount:     f.takenOnPlace,
		MadeAmount:      f.madeOnPlace,
	}, nil
}

func (f *fakeExecutor) CancelOrders(_ context.Context, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, ids)
	return nil
}

func (f *fakeExecutor) CancelAll(context.Context) error { return nil }

func (f *fakeExecutor) OpenOrders(context.Context, string) ([]ports.OpenOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.openErr != nil {
		return nil, f.openErr
	}
	return append([]ports.OpenOrder(nil), f.openOrders...), nil
}

func (f *fakeExecutor) OrderBook(context.Context, string) (domain.OrderBook, error) {
	return f.book, nil
}

func (f *fakeExecutor) TickSize(context.Context, string) (float64, error) {
	if f.tickErr != nil {
		return 0, f.tickErr
	}
	if f.tickSize == 0 {
		return 0.01, nil
	}
	return f.tickSize, nil
}

func (f *fakeExecutor) BalanceAllowance(context.Context) (ports.BalanceAllowance, error) {
	return ports.BalanceAllowance{}, nil
}

func (f *fakeExecutor) UpdateBalanceAllowance(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.topUps++
	return nil
}

func (f *fakeExecutor) placeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.placed)
}

func (f *fakeExecutor) cancelledIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, batch := range f.cancelled {
		out = append(out, batch...)
	}
	return out
}

// fakeChain serves fixed balances; errors can be injected per call site.
type fakeChain struct {
	balance   float64
	allowance float64
	shares    map[string]float64
	approved  bool

	balanceErr error
	sharesErr  error
}

func (f *fakeChain) CollateralBalance(context.Context) (float64, error) {
	if f.balanceErr != nil {
		return 0, f.balanceErr
	}
	return f.balance, nil
}

func (f *fakeChain) CollateralAllowance(context.Context) (float64, error) {
	if f.balanceErr != nil {
		return 0, f.balanceErr
	}
	return f.allowance, nil
}

func (f *fakeChain) OutcomeBalance(_ context.Context, tokenID string) (float64, error) {
	if f.sharesErr != nil {
		return 0, f.sharesErr
	}
	return f.shares[tokenID], nil
}

func (f *fakeChain) IsApprovedForAll(context.Context) (bool, error) { return f.approved, nil }

// fakeStore is an in-memory MakerStorage.
type fakeStore struct {
	positions map[string]float64
	fills     []domain.Fill
	summaries []ports.SessionSummary
}

func newFakeStore() *fakeStore {
	return &fakeStore{positions: make(map[string]float64)}
}

func (f *fakeStore) ApplySchema(context.Context) error { return nil }

func (f *fakeStore) SavePosition(_ context.Context, tokenID string, shares float64, _ time.Time) error {
	f.positions[tokenID] = shares
	return nil
}

func (f *fakeStore) LoadPositions(context.Context) (map[string]float64, error) {
	out := make(map[string]float64, len(f.positions))
	for k, v := range f.positions {
		out[k] = v
	}
	return out, nil
}

func (f *fakeStore) SaveFill(_ context.Context, fill domain.Fill) error {
	f.fills = append(f.fills, fill)
	return nil
}

func (f *fakeStore) SaveSummary(_ context.Context, s ports.SessionSummary) error {
	f.summaries = append(f.summaries, s)
	return nil
}

func (f *fakeStore) Close() error { return nil }

// fakeMarketFeed hands the maker a channel the test writes to directly.
type fakeMarketFeed struct {
	events chan ports.QuoteEvent
	last   map[string]time.Time
}

func newFakeMarketFeed() *fakeMarketFeed {
	return &fakeMarketFeed{
		events: make(chan ports.QuoteEvent, 16),
		last:   make(map[string]time.Time),
	}
}

func (f *fakeMarketFeed) Start(context.Context) (<-chan ports.QuoteEvent, error) {
	return f.events, nil
}

func (f *fakeMarketFeed) LastUpdate(tokenID string) time.Time { return f.last[tokenID] }
func (f *fakeMarketFeed) Close() error                        { return nil }

type fakeUserFeed struct {
	events chan ports.UserEvent
	last   time.Time
}

func newFakeUserFeed() *fakeUserFeed {
	return &fakeUserFeed{events: make(chan ports.UserEvent, 16)}
}

func (f *fakeUserFeed) Start(context.Context) (<-chan ports.UserEvent, error) {
	return f.events, nil
}

func (f *fakeUserFeed) LastUpdate() time.Time { return f.last }
func (f *fakeUserFeed) Close() error          { return nil }

// fatalErr mimics an adapter error classified as market-stopping.
type fatalErr struct{ msg string }

func (e *fatalErr) Error() string { return e.msg }
func (e *fatalErr) Fatal() bool   { return true }

var errUnauthorized = &fatalErr{msg: "client error 401: unauthorized"}

var errNetwork = errors.New("connection reset")

const (
	yesToken = "71321045679252212594626385532706912750332728571942532289631379312455583992563"
	noToken  = "52114319501245915516055106046884209969926127482827954674443846427813813222426"
)

func testMarket() domain.Market {
	return domain.Market{
		ConditionID: "0xcondition",
		Slug:        "will-it-rain-tomorrow",
		TickSize:    0.01,
		Tokens: [2]domain.Token{
			{TokenID: yesToken, Outcome: "Yes"},
			{TokenID: noToken, Outcome: "No"},
		},
		Active: true,
	}
}

// testClock is a manually advanced clock shared by the maker and the test.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// testHarness bundles a maker with all its fakes.
type testHarness struct {
	maker    *Maker
	executor *fakeExecutor
	chain    *fakeChain
	store    *fakeStore
	market   *fakeMarketFeed
	user     *fakeUserFeed
	clock    *testClock
}

func newHarness(mutate ...func(*Config)) *testHarness {
	cfg := Config{}
	cfg.SetDefaults()
	for _, fn := range mutate {
		fn(&cfg)
	}

	executor := &fakeExecutor{}
	chain := &fakeChain{
		balance:   1000,
		allowance: 1000,
		approved:  true,
		shares:    map[string]float64{},
	}
	store := newFakeStore()
	marketFeed := newFakeMarketFeed()
	userFeed := newFakeUserFeed()
	clock := newTestClock()

	ledger := NewLedger(chain, executor, store, cfg)
	m := NewMaker(testMarket(), cfg, executor, marketFeed, userFeed, ledger)
	m.clock = clock.Now

	return &testHarness{
		maker:    m,
		executor: executor,
		chain:    chain,
		store:    store,
		market:   marketFeed,
		user:     userFeed,
		clock:    clock,
	}
}

// seedQuote installs a usable snapshot for a token.
func (h *testHarness) seedQuote(tokenID string, bid, ask float64) {
	h.maker.storeQuote(domain.QuoteSnapshot{
		TokenID:   tokenID,
		BestBid:   bid,
		BestAsk:   ask,
		TickSize:  0.01,
		UpdatedAt: h.clock.Now(),
	})
}

// seedBothQuotes installs parity-consistent snapshots for YES and NO.
func (h *testHarness) seedBothQuotes() {
	h.seedQuote(yesToken, 0.40, 0.44)
	h.seedQuote(noToken, 0.56, 0.60)
}
