package ports

import (
	"context"
	"time"

	"github.com/alejandrodnm/polymaker/internal/domain"
)

// Feed supervisors own their socket and push typed events onto channels; the
// maker consumes the channels on its own scheduling turn. Events only report
// facts — the maker decides every state transition.

// QuoteEvent is a top-of-book update from the market feed.
type QuoteEvent struct {
	Snapshot domain.QuoteSnapshot
}

// UserEvent is a fill or order-status notification from the user feed.
// Exactly one of Fill / Status is set.
type UserEvent struct {
	Fill   *domain.Fill
	Status *domain.OrderStatusEvent
}

// MarketFeed delivers best bid/ask updates for a set of tokens.
type MarketFeed interface {
	// Start connects, subscribes and launches the supervisor. The returned
	// channel is closed when the feed gives up (max reconnect attempts).
	Start(ctx context.Context) (<-chan QuoteEvent, error)

	// LastUpdate returns when the given token last received a valid quote.
	// Zero time means never.
	LastUpdate(tokenID string) time.Time

	// Close tears the connection down.
	Close() error
}

// UserFeed delivers authenticated fill and order-status events. History is
// never replayed on reconnect; reconciliation catches up missed events.
type UserFeed interface {
	Start(ctx context.Context) (<-chan UserEvent, error)
	LastUpdate() time.Time
	Close() error
}
