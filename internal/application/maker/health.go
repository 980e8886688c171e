package maker

import (
	"fmt"
	"log/slog"
	"time"
)

// checkHealth decides whether the maker may keep quoting. Either feed going
// silent alone is tolerable — a quiet user feed just means no fills, and a
// briefly silent market feed still has reconciliation covering it — but both
// stale at once means the maker is trading blind and must stop.
func (m *Maker) checkHealth() (reason string, stop bool) {
	now := m.clock()

	marketAge := m.marketFeedAge(now)
	userAge := m.userFeedAge(now)

	if marketAge < m.cfg.FeedStaleAfter {
		return "", false
	}

	if userAge < m.cfg.FeedStaleAfter {
		slog.Warn("maker: market feed stale, user feed still alive",
			"market_age", marketAge.Round(time.Second))
		return "", false
	}

	slog.Error("maker: both feeds stale",
		"market_age", marketAge.Round(time.Second),
		"user_age", userAge.Round(time.Second))
	return fmt.Sprintf("both feeds silent (market %s, user %s)",
		marketAge.Round(time.Second), userAge.Round(time.Second)), true
}

// marketFeedAge returns the age of the freshest token update. A token that
// never received a quote counts from session start, so a feed that connects
// but never delivers still trips the threshold.
func (m *Maker) marketFeedAge(now time.Time) time.Duration {
	newest := m.startedAt
	for _, tok := range m.market.TokenIDs() {
		if at := m.marketFeed.LastUpdate(tok); at.After(newest) {
			newest = at
		}
	}
	return now.Sub(newest)
}

func (m *Maker) userFeedAge(now time.Time) time.Duration {
	last := m.userFeed.LastUpdate()
	if last.Before(m.startedAt) {
		last = m.startedAt
	}
	return now.Sub(last)
}
