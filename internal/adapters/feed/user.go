package feed

// user.go — supervisor of the authenticated user channel.
//
// Delivers fills (trade events) and order lifecycle notifications for the
// wallet's orders. The exchange does not replay history on reconnect, so a
// reconnection gap means missed events; the reconciliation loop is the
// mechanism that catches those up, never this supervisor.

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alejandrodnm/polymaker/internal/ports"
)

// CredentialSource entrega las credenciales L2 para el payload de auth.
// *polymarket.AuthClient lo implementa.
type CredentialSource interface {
	WSAuth() (apiKey, secret, passphrase string, err error)
}

// UserSupervisor implements ports.UserFeed for a set of markets.
type UserSupervisor struct {
	url       string
	markets   []string // condition IDs
	creds     CredentialSource
	reconnect ReconnectConfig
	now       func() time.Time

	out chan ports.UserEvent

	mu         sync.Mutex
	conn       *websocket.Conn
	lastUpdate time.Time
	closed     bool
}

// NewUserSupervisor creates a supervisor for the authenticated channel.
func NewUserSupervisor(url string, markets []string, creds CredentialSource) *UserSupervisor {
	if url == "" {
		url = DefaultUserURL
	}
	return &UserSupervisor{
		url:       url,
		markets:   markets,
		creds:     creds,
		reconnect: DefaultReconnectConfig(),
		now:       time.Now,
		out:       make(chan ports.UserEvent, eventBuffer),
	}
}

// WithReconnectConfig overrides the backoff configuration.
func (s *UserSupervisor) WithReconnectConfig(cfg ReconnectConfig) *UserSupervisor {
	s.reconnect = cfg
	return s
}

// Start dials, authenticates and launches the supervisor goroutine.
func (s *UserSupervisor) Start(ctx context.Context) (<-chan ports.UserEvent, error) {
	conn, err := s.dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("user feed: connect: %w", err)
	}
	s.setConn(conn)

	go s.run(ctx)
	return s.out, nil
}

// LastUpdate returns when the feed last delivered any event.
func (s *UserSupervisor) LastUpdate() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUpdate
}

// Close tears the connection down and stops the supervisor.
func (s *UserSupervisor) Close() error {
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

func (s *UserSupervisor) dial(ctx context.Context) (*websocket.Conn, error) {
	apiKey, secret, passphrase, err := s.creds.WSAuth()
	if err != nil {
		return nil, fmt.Errorf("credentials: %w", err)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return nil, err
	}

	sub := subscribeMessage{
		Markets: s.markets,
		Type:    "user",
		Auth:    &wsAuth{APIKey: apiKey, Secret: secret, Passphrase: passphrase},
	}
	conn.SetWriteDeadline(s.now().Add(writeTimeout))
	if err := conn.WriteJSON(sub); err != nil {
		conn.Close()
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	return conn, nil
}

func (s *UserSupervisor) setConn(conn *websocket.Conn) {
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
}

func (s *UserSupervisor) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *UserSupervisor) run(ctx context.Context) {
	defer close(s.out)

	for {
		err := s.readLoop(ctx)
		if ctx.Err() != nil || s.isClosed() {
			return
		}

		slog.Warn("user feed: connection lost", "err", err)
		conn, rerr := s.redial(ctx)
		if rerr != nil {
			slog.Error("user feed: giving up", "err", rerr)
			return
		}
		s.setConn(conn)
	}
}

func (s *UserSupervisor) redial(ctx context.Context) (*websocket.Conn, error) {
	backoff := s.reconnect.InitialBackoff

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		conn, err := s.dial(ctx)
		if err == nil {
			slog.Info("user feed: reconnected", "attempt", attempt)
			return conn, nil
		}

		if s.reconnect.MaxAttempts > 0 && attempt >= s.reconnect.MaxAttempts {
			return nil, fmt.Errorf("user feed: %d reconnect attempts exhausted: %w", attempt, err)
		}
		slog.Warn("user feed: reconnect failed", "attempt", attempt, "backoff", backoff, "err", err)

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

func (s *UserSupervisor) readLoop(ctx context.Context) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("user feed: no connection")
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

		msgs, err := parseUserMessages(data)
		if err != nil {
			slog.Warn("user feed: unparseable frame", "err", err)
			continue
		}

		now := s.now()
		for _, m := range msgs {
			var ev ports.UserEvent
			switch m.EventType {
			case eventTypeTrade:
				ev.Fill = fillFrom(m, now)
			case eventTypeOrder:
				ev.Status = statusFrom(m, now)
			default:
				continue
			}

			s.mu.Lock()
			s.lastUpdate = now
			s.mu.Unlock()

			// Fills move money; unlike quotes they must never be dropped.
			select {
			case s.out <- ev:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

func (s *UserSupervisor) pingLoop(conn *websocket.Conn, stop <-chan struct{}) {
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
