package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/polymaker/internal/domain"
	"github.com/alejandrodnm/polymaker/internal/ports"
)

func newTestStorage(t *testing.T) *SQLiteStorage {
	t.Helper()
	s, err := NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	require.NoError(t, s.ApplySchema(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSavePosition_Upsert(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.SavePosition(ctx, "tok-yes", 25, now))
	require.NoError(t, s.SavePosition(ctx, "tok-yes", 50, now.Add(time.Minute)))
	require.NoError(t, s.SavePosition(ctx, "tok-no", 10, now))

	positions, err := s.LoadPositions(ctx)
	require.NoError(t, err)
	require.Len(t, positions, 2)
	assert.InDelta(t, 50.0, positions["tok-yes"], 1e-9, "la segunda escritura pisa la primera")
	assert.InDelta(t, 10.0, positions["tok-no"], 1e-9)
}

func TestLoadPositions_Empty(t *testing.T) {
	s := newTestStorage(t)

	positions, err := s.LoadPositions(context.Background())
	require.NoError(t, err)
	assert.Empty(t, positions)
}

func TestSaveFill_DedupByTradeID(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	fill := domain.Fill{
		TradeID:   "trade-1",
		OrderID:   "0xorder",
		TokenID:   "tok-yes",
		Side:      domain.Buy,
		Price:     0.41,
		Size:      25,
		Timestamp: time.Now(),
	}

	require.NoError(t, s.SaveFill(ctx, fill))
	// El feed de usuario puede reentregar el mismo trade
	require.NoError(t, s.SaveFill(ctx, fill))

	var count int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM fills`).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestSaveSummary(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	sum := ports.SessionSummary{
		Slug:         "will-it-rain",
		StartedAt:    time.Now().Add(-time.Hour),
		EndedAt:      time.Now(),
		Fills:        7,
		OrdersPlaced: 20,
		RealizedPnL:  1.25,
	}
	require.NoError(t, s.SaveSummary(ctx, sum))

	var slug string
	var pnl float64
	require.NoError(t, s.db.QueryRow(
		`SELECT slug, realized_pnl FROM sessions ORDER BY id DESC LIMIT 1`,
	).Scan(&slug, &pnl))
	assert.Equal(t, "will-it-rain", slug)
	assert.InDelta(t, 1.25, pnl, 1e-9)
}
