package domain

// guard.go — post-only price guard, dynamic spread and YES/NO parity.
//
// Everything in this file is pure: it takes snapshots and desired prices and
// returns safe prices or "do not place". The maker re-runs Recheck against
// the latest snapshot right before transmission because the book may move
// between computation and send.

import "math"

// GuardConfig holds the tunables of the price guard.
type GuardConfig struct {
	// ImprovementTicks is how many ticks inside the current best our quote
	// must improve. 1 means join one tick better than the standing best.
	ImprovementTicks int
	// MaxDistanceFromMid rejects quotes further than this from the midpoint.
	MaxDistanceFromMid float64
	// MinSpreadMult / MaxSpreadMult bound the dynamic target spread as
	// multiples of the configured base spread.
	MinSpreadMult float64
	MaxSpreadMult float64
	// BaseSpread is the reference spread the multipliers scale.
	BaseSpread float64
	// ParityTolerance is the allowed deviation of mid(YES)+mid(NO) from 1.0.
	ParityTolerance float64
}

// SafePrice clamps a desired price into the post-only, priority-improved band
// for the given side and rounds it to the tick grid.
//
//	BUY:  [bestBid + improvementTicks·tick, bestAsk − tick]
//	SELL: [bestBid + tick, bestAsk − improvementTicks·tick]
//
// Returns ok=false when no safe price exists (band inverted, would cross, or
// the result drifts further from mid than MaxDistanceFromMid allows).
func SafePrice(side Side, desired float64, snap QuoteSnapshot, cfg GuardConfig) (float64, bool) {
	if !snap.Usable() {
		return 0, false
	}
	tick := snap.TickSize
	improve := float64(cfg.ImprovementTicks) * tick

	var lo, hi float64
	switch side {
	case Buy:
		lo = snap.BestBid + improve
		hi = snap.BestAsk - tick
	case Sell:
		lo = snap.BestBid + tick
		hi = snap.BestAsk - improve
	default:
		return 0, false
	}

	// Band inverted: the book is too tight to improve without crossing.
	if hi < lo-1e-12 {
		return 0, false
	}

	price := math.Min(math.Max(desired, lo), hi)
	price = RoundToTick(price, tick)

	// Rounding can push the price back out of the band by one tick.
	if price < lo-1e-12 {
		price = RoundToTick(price+tick, tick)
	}
	if price > hi+1e-12 {
		price = RoundToTick(price-tick, tick)
	}

	if !withinBand(price, lo, hi) {
		return 0, false
	}
	if price <= 0 || price >= 1 {
		return 0, false
	}
	if cfg.MaxDistanceFromMid > 0 && math.Abs(price-snap.Mid()) > cfg.MaxDistanceFromMid+1e-12 {
		return 0, false
	}
	// Post-only invariant, restated as a hard check.
	if side == Buy && price >= snap.BestAsk-1e-12 {
		return 0, false
	}
	if side == Sell && price <= snap.BestBid+1e-12 {
		return 0, false
	}
	return price, true
}

// Recheck re-validates a previously computed price against the latest
// snapshot immediately before transmission. If the book moved and the price
// would now cross, it is nudged one tick inward; if even that crosses, the
// order is dropped.
func Recheck(side Side, price float64, snap QuoteSnapshot) (float64, bool) {
	if !snap.Usable() {
		return 0, false
	}
	tick := snap.TickSize
	switch side {
	case Buy:
		if price < snap.BestAsk-1e-12 {
			return price, true
		}
		adjusted := RoundToTick(snap.BestAsk-tick, tick)
		if adjusted > snap.BestBid+1e-12 && adjusted > 0 {
			return adjusted, true
		}
	case Sell:
		if price > snap.BestBid+1e-12 {
			return price, true
		}
		adjusted := RoundToTick(snap.BestBid+tick, tick)
		if adjusted < snap.BestAsk-1e-12 && adjusted < 1 {
			return adjusted, true
		}
	}
	return 0, false
}

// TargetSpread scales the quoted spread with the observed raw market spread,
// bounded by the configured multipliers: tight markets get tight quotes, wide
// markets never get quoted tighter than reality supports.
func TargetSpread(rawSpread float64, cfg GuardConfig) float64 {
	lo := cfg.BaseSpread * cfg.MinSpreadMult
	hi := cfg.BaseSpread * cfg.MaxSpreadMult
	if hi < lo {
		hi = lo
	}
	return math.Min(math.Max(rawSpread, lo), hi)
}

// DesiredPrices derives the raw (pre-guard) bid and ask from the midpoint
// and the dynamic target spread.
func DesiredPrices(snap QuoteSnapshot, cfg GuardConfig) (bid, ask float64) {
	mid := snap.Mid()
	half := TargetSpread(snap.Spread(), cfg) / 2
	return mid - half, mid + half
}

// RoundToTick rounds a price to the nearest multiple of tick.
func RoundToTick(price, tick float64) float64 {
	if tick <= 0 {
		return price
	}
	return math.Round(price/tick) * tick
}

func withinBand(p, lo, hi float64) bool {
	return p >= lo-1e-12 && p <= hi+1e-12
}

// ParityCheck is the result of comparing mid(YES)+mid(NO) against 1.0.
type ParityCheck struct {
	Parity    float64 // mid(YES) + mid(NO)
	Deviation float64 // |Parity - 1.0|
	Valid     bool    // deviation within tolerance
	Prefer    Side    // side that corrects the imbalance when invalid
}

// CheckParity evaluates the YES/NO parity invariant. When the combined mid
// deviates beyond tolerance the check reports which side to favor: SELL when
// the pair is overpriced (> 1), BUY when underpriced (< 1). The bias is soft:
// the caller suppresses the disfavored side rather than forcing a trade.
func CheckParity(midYes, midNo, tolerance float64) ParityCheck {
	sum := midYes + midNo
	dev := math.Abs(sum - 1.0)
	pc := ParityCheck{Parity: sum, Deviation: dev, Valid: dev <= tolerance}
	if !pc.Valid {
		if sum > 1 {
			pc.Prefer = Sell
		} else {
			pc.Prefer = Buy
		}
	}
	return pc
}

// Suppressed reports whether placing on the given side goes against the
// parity bias and should be skipped this cycle.
func (pc ParityCheck) Suppressed(side Side) bool {
	return !pc.Valid && pc.Prefer != "" && side != pc.Prefer
}
