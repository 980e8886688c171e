package domain

// amounts.go — deterministic order quantization and client-order-id scheme.
//
// The CLOB verifies maker/taker amounts exactly, so all rounding happens here
// once, on decimals, before anything touches the wire: sizes to 2 decimal
// places, notional to 5, then both to integer micro-units (1e6).

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	sizeDecimals     = 2
	notionalDecimals = 5
	microFactor      = 1_000_000
)

var microDec = decimal.NewFromInt(microFactor)

// OrderAmounts is the quantized, wire-ready encoding of an order.
// BUY pays notional (maker) to receive size shares (taker); SELL mirrors.
type OrderAmounts struct {
	Side        Side
	Price       float64 // quantized price actually encoded
	Size        float64 // quantized share count
	MakerAmount int64   // micro-units the maker gives
	TakerAmount int64   // micro-units the maker receives
}

// BuildAmounts quantizes price × size into exchange integer amounts.
func BuildAmounts(side Side, price, size float64) (OrderAmounts, error) {
	if price <= 0 || price >= 1 {
		return OrderAmounts{}, fmt.Errorf("domain.BuildAmounts: price %v outside (0,1)", price)
	}
	if size <= 0 {
		return OrderAmounts{}, fmt.Errorf("domain.BuildAmounts: size %v must be positive", size)
	}

	qSize := decimal.NewFromFloat(size).RoundDown(sizeDecimals)
	if qSize.IsZero() {
		return OrderAmounts{}, fmt.Errorf("domain.BuildAmounts: size %v quantizes to zero", size)
	}
	qNotional := qSize.Mul(decimal.NewFromFloat(price)).RoundDown(notionalDecimals)
	if qNotional.IsZero() {
		return OrderAmounts{}, fmt.Errorf("domain.BuildAmounts: notional for price=%v size=%v quantizes to zero", price, size)
	}

	sizeMicro := qSize.Mul(microDec).IntPart()
	notionalMicro := qNotional.Mul(microDec).IntPart()

	oa := OrderAmounts{Side: side, Size: qSize.InexactFloat64()}
	oa.Price, _ = qNotional.Div(qSize).Round(notionalDecimals).Float64()

	switch side {
	case Buy:
		oa.MakerAmount = notionalMicro
		oa.TakerAmount = sizeMicro
	case Sell:
		oa.MakerAmount = sizeMicro
		oa.TakerAmount = notionalMicro
	default:
		return OrderAmounts{}, fmt.Errorf("domain.BuildAmounts: unknown side %q", side)
	}
	return oa, nil
}

// RecoverPriceSize inverts BuildAmounts from the integer amounts. Used to
// verify the quantization round-trip and to decode orders adopted from the
// exchange listing.
func RecoverPriceSize(side Side, makerAmount, takerAmount int64) (price, size float64) {
	if makerAmount <= 0 || takerAmount <= 0 {
		return 0, 0
	}
	maker := decimal.NewFromInt(makerAmount)
	taker := decimal.NewFromInt(takerAmount)
	switch side {
	case Buy:
		price, _ = maker.Div(taker).Round(notionalDecimals).Float64()
		size, _ = taker.Div(microDec).Float64()
	case Sell:
		price, _ = taker.Div(maker).Round(notionalDecimals).Float64()
		size, _ = maker.Div(microDec).Float64()
	}
	return price, size
}

// NewSalt produces a submission salt unique across restarts: millisecond
// timestamp shifted left with a random low component. Passed to the order
// builder so two orders signed in the same instant never collide on-chain.
func NewSalt() int64 {
	return time.Now().UnixMilli()<<20 | rand.Int63n(1<<20)
}

// NewClientOrderID builds the id used for idempotent submission of a
// free-standing quote. The uuid suffix keeps repeated quotes at the same
// price distinguishable; dedup against double submission is the ledger's job.
func NewClientOrderID(side Side, tokenID string, price float64, now time.Time) string {
	prefix := tokenID
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}
	return fmt.Sprintf("%s-%s-%04.0f-%d-%s",
		sideTag(side), prefix, price*10_000, now.UnixMilli(), uuid.NewString()[:8])
}

// HedgeClientOrderID is content-addressed: the same fill always maps to the
// same id, so replaying a fill event can never double-submit its hedge.
func HedgeClientOrderID(parentFill Fill, side Side, size float64) string {
	qSize := decimal.NewFromFloat(size).RoundDown(sizeDecimals)
	return fmt.Sprintf("h-%s-%s-%s", parentFill.TradeID, sideTag(side), qSize.String())
}

func sideTag(side Side) string {
	if side == Buy {
		return "b"
	}
	return "s"
}
