package ports

import (
	"context"

	"github.com/alejandrodnm/polymaker/internal/domain"
)

// PlaceOrderRequest is a validated order handed to the exchange adapter.
// Amounts are pre-quantized by domain.BuildAmounts; the adapter only signs
// and transmits.
type PlaceOrderRequest struct {
	TokenID       string
	ConditionID   string
	Side          domain.Side
	Type          domain.OrderType
	Amounts       domain.OrderAmounts
	ClientOrderID string
	NegRisk       bool
}

// PlacedOrder is the exchange acknowledgment of a placement.
type PlacedOrder struct {
	ExchangeOrderID string
	Status          string
	TakenAmount     float64 // immediately matched (taker portion)
	MadeAmount      float64 // resting in the book
}

// OpenOrder is one row of the exchange's authoritative open-order listing.
type OpenOrder struct {
	ExchangeOrderID string
	TokenID         string
	ConditionID     string
	Side            domain.Side
	Price           float64
	Size            float64
	FilledSize      float64
	CreatedAt       int64 // unix seconds
}

// BalanceAllowance is the exchange's view of collateral funds and approval.
type BalanceAllowance struct {
	Balance   float64
	Allowance float64
}

// OrderExecutor places, cancels, and lists real orders on the CLOB.
type OrderExecutor interface {
	// PlaceOrder signs and submits a GTC maker order.
	PlaceOrder(ctx context.Context, req PlaceOrderRequest) (PlacedOrder, error)

	// CancelOrders cancels the given exchange order ids. Cancelling an
	// already-gone order is a no-op, not an error.
	CancelOrders(ctx context.Context, exchangeOrderIDs []string) error

	// CancelAll cancels every open order for this account.
	CancelAll(ctx context.Context) error

	// OpenOrders returns the authoritative open-order listing filtered to
	// one market (condition id).
	OpenOrders(ctx context.Context, conditionID string) ([]OpenOrder, error)

	// OrderBook fetches a REST book snapshot, the fallback price source
	// when the market feed has not delivered a first quote yet.
	OrderBook(ctx context.Context, tokenID string) (domain.OrderBook, error)

	// TickSize returns the market's minimum price increment for a token.
	TickSize(ctx context.Context, tokenID string) (float64, error)

	// BalanceAllowance reads the collateral balance and exchange allowance.
	BalanceAllowance(ctx context.Context) (BalanceAllowance, error)

	// UpdateBalanceAllowance asks the exchange to refresh its cached
	// allowance for the collateral asset.
	UpdateBalanceAllowance(ctx context.Context) error
}
