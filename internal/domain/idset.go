package domain

import "time"

// ClientOrderIDLedger enforces the at-most-once submission invariant.
//
// Two sets: "placed" holds every id ever handed to the exchange; "live" holds
// ids the exchange has authoritatively acknowledged (active or terminal). An
// id leaves "placed" only after it is known to the exchange — never on a
// local guess — so a lost acknowledgment can never unblock a resubmission.
type ClientOrderIDLedger struct {
	placed map[string]time.Time
	live   map[string]time.Time
}

// NewClientOrderIDLedger creates an empty ledger.
func NewClientOrderIDLedger() *ClientOrderIDLedger {
	return &ClientOrderIDLedger{
		placed: make(map[string]time.Time),
		live:   make(map[string]time.Time),
	}
}

// WasPlaced reports whether the id was ever submitted.
func (l *ClientOrderIDLedger) WasPlaced(id string) bool {
	_, ok := l.placed[id]
	return ok
}

// MarkPlaced records a submission. Returns false if the id was already
// placed, in which case the caller must not submit.
func (l *ClientOrderIDLedger) MarkPlaced(id string, now time.Time) bool {
	if _, ok := l.placed[id]; ok {
		return false
	}
	l.placed[id] = now
	return true
}

// MarkLive records an authoritative signal (ack, listing, fill, cancel
// confirmation) that the exchange knows this id.
func (l *ClientOrderIDLedger) MarkLive(id string, now time.Time) {
	if _, ok := l.placed[id]; !ok {
		l.placed[id] = now
	}
	l.live[id] = now
}

// IsLive reports whether the id has been authoritatively confirmed.
func (l *ClientOrderIDLedger) IsLive(id string) bool {
	_, ok := l.live[id]
	return ok
}

// ClearLive drops ids from the live set without touching placed. Used by
// reconciliation when remote state is in doubt: the dedup guard stays intact
// while "confirmed" status is withdrawn.
func (l *ClientOrderIDLedger) ClearLive(ids []string) {
	for _, id := range ids {
		delete(l.live, id)
	}
}

// Cleanup evicts ids older than maxAge, but only those confirmed live:
// an unconfirmed placed id is a submission in limbo and must keep blocking.
func (l *ClientOrderIDLedger) Cleanup(now time.Time, maxAge time.Duration) int {
	evicted := 0
	for id, placedAt := range l.placed {
		if now.Sub(placedAt) < maxAge {
			continue
		}
		if _, confirmed := l.live[id]; !confirmed {
			continue
		}
		delete(l.placed, id)
		delete(l.live, id)
		evicted++
	}
	return evicted
}

// Len returns the size of the placed set.
func (l *ClientOrderIDLedger) Len() int {
	return len(l.placed)
}
