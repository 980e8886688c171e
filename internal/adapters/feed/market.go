package feed

// market.go — supervisor of the Polymarket market channel.
//
// Owns the socket: dials, subscribes, parses, reconnects with backoff and
// keeps a last-known-good snapshot per token. Corrupt sentinel quotes (the
// 0/0 or 0.001/0.999 frames the exchange emits while a book resets) are
// dropped here so the maker never quotes against them.

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alejandrodnm/polymaker/internal/domain"
	"github.com/alejandrodnm/polymaker/internal/ports"
)

const (
	// DefaultMarketURL is the public CLOB market channel.
	DefaultMarketURL = "wss://ws-subscriptions-clob.polymarket.com/ws/market"
	// DefaultUserURL is the authenticated CLOB user channel.
	DefaultUserURL = "wss://ws-subscriptions-clob.polymarket.com/ws/user"

	pingInterval = 10 * time.Second
	readTimeout  = 30 * time.Second
	writeTimeout = 5 * time.Second
	eventBuffer  = 256
)

// ReconnectConfig configures the reconnect backoff of both supervisors.
type ReconnectConfig struct {
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	BackoffFactor  float64
	MaxAttempts    int // per disconnection; 0 = infinite
}

// DefaultReconnectConfig returns the backoff used in production.
func DefaultReconnectConfig() ReconnectConfig {
	return ReconnectConfig{
		InitialBackoff: 1 * time.Second,
		MaxBackoff:     30 * time.Second,
		BackoffFactor:  2.0,
		MaxAttempts:    10,
	}
}

// MarketSupervisor implements ports.MarketFeed for a fixed token set.
type MarketSupervisor struct {
	url       string
	tokenIDs  []string
	reconnect ReconnectConfig
	now       func() time.Time

	out chan ports.QuoteEvent

	mu         sync.Mutex
	conn       *websocket.Conn
	lastUpdate map[string]time.Time
	lastGood   map[string]domain.QuoteSnapshot
	closed     bool
}

// NewMarketSupervisor creates a supervisor for the given tokens. url empty
// means DefaultMarketURL.
func NewMarketSupervisor(url string, tokenIDs []string) *MarketSupervisor {
	if url == "" {
		url = DefaultMarketURL
	}
	return &MarketSupervisor{
		url:        url,
		tokenIDs:   tokenIDs,
		reconnect:  DefaultReconnectConfig(),
		now:        time.Now,
		out:        make(chan ports.QuoteEvent, eventBuffer),
		lastUpdate: make(map[string]time.Time),
		lastGood:   make(map[string]domain.QuoteSnapshot),
	}
}

// WithReconnectConfig overrides the backoff configuration.
func (s *MarketSupervisor) WithReconnectConfig(cfg ReconnectConfig) *MarketSupervisor {
	s.reconnect = cfg
	return s
}

// Start dials, subscribes and launches the supervisor goroutine. The
// returned channel closes when the supervisor gives up for good.
func (s *MarketSupervisor) Start(ctx context.Context) (<-chan ports.QuoteEvent, error) {
	conn, err := s.dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("market feed: connect: %w", err)
	}
	s.setConn(conn)

	go s.run(ctx)
	return s.out, nil
}

// LastUpdate returns when the token last received a usable quote.
func (s *MarketSupervisor) LastUpdate(tokenID string) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUpdate[tokenID]
}

// LastGood returns the last non-corrupt snapshot seen for a token.
func (s *MarketSupervisor) LastGood(tokenID string) (domain.QuoteSnapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.lastGood[tokenID]
	return snap, ok
}

// Close tears the connection down and stops the supervisor.
func (s *MarketSupervisor) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.conn != nil {
		err := s.conn.Close()
		s.conn = nil
		return err
	}
	return nil
}

func (s *MarketSupervisor) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return nil, err
	}

	sub := subscribeMessage{AssetsIDs: s.tokenIDs, Type: "market"}
	conn.SetWriteDeadline(s.now().Add(writeTimeout))
	if err := conn.WriteJSON(sub); err != nil {
		conn.Close()
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	return conn, nil
}

func (s *MarketSupervisor) setConn(conn *websocket.Conn) {
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
}

func (s *MarketSupervisor) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// run drives the read loop across reconnections. It only returns when the
// context is cancelled, Close was called, or the backoff budget is spent.
func (s *MarketSupervisor) run(ctx context.Context) {
	defer close(s.out)

	for {
		err := s.readLoop(ctx)
		if ctx.Err() != nil || s.isClosed() {
			return
		}

		slog.Warn("market feed: connection lost", "err", err)
		conn, rerr := s.redial(ctx)
		if rerr != nil {
			slog.Error("market feed: giving up", "err", rerr)
			return
		}
		s.setConn(conn)
	}
}

func (s *MarketSupervisor) redial(ctx context.Context) (*websocket.Conn, error) {
	backoff := s.reconnect.InitialBackoff

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		conn, err := s.dial(ctx)
		if err == nil {
			slog.Info("market feed: reconnected", "attempt", attempt)
			return conn, nil
		}

		if s.reconnect.MaxAttempts > 0 && attempt >= s.reconnect.MaxAttempts {
			return nil, fmt.Errorf("market feed: %d reconnect attempts exhausted: %w", attempt, err)
		}
		slog.Warn("market feed: reconnect failed", "attempt", attempt, "backoff", backoff, "err", err)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}

		backoff = time.Duration(float64(backoff) * s.reconnect.BackoffFactor)
		if backoff > s.reconnect.MaxBackoff {
			backoff = s.reconnect.MaxBackoff
		}
	}
}

// readLoop reads until the connection dies. A ping goroutine keeps the
// socket alive; the read deadline catches silent half-open connections.
func (s *MarketSupervisor) readLoop(ctx context.Context) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("market feed: no connection")
	}

	stopPing := make(chan struct{})
	defer close(stopPing)
	go s.pingLoop(conn, stopPing)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		conn.SetReadDeadline(s.now().Add(readTimeout))
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		msgs, err := parseMarketMessages(data)
		if err != nil {
			slog.Warn("market feed: unparseable frame", "err", err)
			continue
		}

		now := s.now()
		for _, m := range msgs {
			for _, snap := range snapshotsFrom(m, now) {
				s.handleSnapshot(ctx, snap)
			}
		}
	}
}

func (s *MarketSupervisor) pingLoop(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			conn.SetWriteDeadline(s.now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, []byte("PING")); err != nil {
				return
			}
		}
	}
}

// handleSnapshot filters corrupt quotes and emits the rest. The send never
// blocks: a full buffer means the consumer is behind, and a dropped quote
// is superseded by the next update anyway.
func (s *MarketSupervisor) handleSnapshot(ctx context.Context, snap domain.QuoteSnapshot) {
	if snap.Corrupt() {
		slog.Debug("market feed: corrupt quote dropped",
			"token", shortID(snap.TokenID), "bid", snap.BestBid, "ask", snap.BestAsk)
		return
	}

	s.mu.Lock()
	s.lastGood[snap.TokenID] = snap
	s.lastUpdate[snap.TokenID] = snap.UpdatedAt
	s.mu.Unlock()

	select {
	case s.out <- ports.QuoteEvent{Snapshot: snap}:
	case <-ctx.Done():
	default:
		slog.Debug("market feed: buffer full, quote dropped", "token", shortID(snap.TokenID))
	}
}

func shortID(tokenID string) string {
	if len(tokenID) > 10 {
		return tokenID[:10]
	}
	return tokenID
}
