package ports

import (
	"context"
	"time"

	"github.com/alejandrodnm/polymaker/internal/domain"
)

// SessionSummary is the end-of-session snapshot persisted at shutdown.
type SessionSummary struct {
	Slug         string
	StartedAt    time.Time
	EndedAt      time.Time
	Fills        int
	OrdersPlaced int
	RealizedPnL  float64
}

// MakerStorage persists maker state so a restart resumes from the last known
// position before the fresh on-chain resync overwrites it.
type MakerStorage interface {
	ApplySchema(ctx context.Context) error

	// SavePosition writes the current share count for a token. Called after
	// every mutation (fill or on-chain overwrite).
	SavePosition(ctx context.Context, tokenID string, shares float64, updatedAt time.Time) error

	// LoadPositions returns the last persisted share count per token.
	LoadPositions(ctx context.Context) (map[string]float64, error)

	// SaveFill appends an applied fill to the durable log.
	SaveFill(ctx context.Context, f domain.Fill) error

	// SaveSummary records the final session summary.
	SaveSummary(ctx context.Context, s SessionSummary) error

	Close() error
}

// MarketProvider discovers tradable binary markets. Thin boundary over the
// Gamma metadata API; consumed as a black box.
type MarketProvider interface {
	ActiveMarkets(ctx context.Context, slugs []string) ([]domain.Market, error)
}
