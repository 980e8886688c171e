package polymarket

// trading.go — order execution via Polymarket CLOB API.
//
// Implements ports.OrderExecutor using AuthClient for L1/L2 auth. All maker
// orders are GTC limit orders; amounts arrive pre-quantized from domain.

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/alejandrodnm/polymaker/internal/domain"
	"github.com/alejandrodnm/polymaker/internal/ports"
)

// clobOrderRequest is the JSON body sent to POST /order.
type clobOrderRequest struct {
	Order     clobOrderBody `json:"order"`
	Owner     string        `json:"owner"`
	OrderType string        `json:"orderType"`
}

type clobOrderBody struct {
	Salt          json.Number `json:"salt"`
	Maker         string      `json:"maker"`
	Signer        string      `json:"signer"`
	Taker         string      `json:"taker"`
	TokenID       string      `json:"tokenId"`
	MakerAmount   string      `json:"makerAmount"`
	TakerAmount   string      `json:"takerAmount"`
	Expiration    string      `json:"expiration"`
	Nonce         string      `json:"nonce"`
	FeeRateBps    string      `json:"feeRateBps"`
	Side          string      `json:"side"`
	SignatureType int         `json:"signatureType"`
	Signature     string      `json:"signature"`
}

type clobOrderResponse struct {
	ErrorMsg     string `json:"errorMsg"`
	OrderID      string `json:"orderID"`
	TakingAmount string `json:"takingAmount"`
	MakingAmount string `json:"makingAmount"`
	Status       string `json:"status"`
	Success      bool   `json:"success"`
}

type clobCancelRequest []string

type clobOpenOrder struct {
	ID           string      `json:"id"`
	AssetID      string      `json:"asset_id"`
	Market       string      `json:"market"`
	Side         string      `json:"side"`
	OriginalSize string      `json:"original_size"`
	SizeMatched  string      `json:"size_matched"`
	Price        string      `json:"price"`
	Status       string      `json:"status"`
	CreatedAt    json.Number `json:"created_at"`
}

type clobBalanceAllowance struct {
	Balance   string `json:"balance"`
	Allowance string `json:"allowance"`
}

type clobTickSize struct {
	MinimumTickSize json.Number `json:"minimum_tick_size"`
}

type clobBook struct {
	AssetID string         `json:"asset_id"`
	Bids    []bookEntryRaw `json:"bids"`
	Asks    []bookEntryRaw `json:"asks"`
}

// TradingClient implements ports.OrderExecutor.
type TradingClient struct {
	auth *AuthClient
}

// NewTradingClient creates a TradingClient over an authenticated client.
func NewTradingClient(auth *AuthClient) *TradingClient {
	return &TradingClient{auth: auth}
}

// PlaceOrder signs and submits a GTC maker limit order to the CLOB.
func (tc *TradingClient) PlaceOrder(ctx context.Context, req ports.PlaceOrderRequest) (ports.PlacedOrder, error) {
	if err := tc.auth.EnsureCreds(ctx); err != nil {
		return ports.PlacedOrder{}, fmt.Errorf("place order: creds: %w", err)
	}
	if req.Type != domain.OrderTypeGTC {
		return ports.PlacedOrder{}, fmt.Errorf("place order: unsupported order type %q", req.Type)
	}

	signed, err := tc.auth.buildSignedOrder(req)
	if err != nil {
		return ports.PlacedOrder{}, fmt.Errorf("place order: sign: %w", err)
	}

	body := clobOrderRequest{
		Order: clobOrderBody{
			Salt:          json.Number(signed.Order.Salt.String()),
			Maker:         signed.Order.Maker.Hex(),
			Signer:        signed.Order.Signer.Hex(),
			Taker:         signed.Order.Taker.Hex(),
			TokenID:       req.TokenID,
			MakerAmount:   signed.Order.MakerAmount.String(),
			TakerAmount:   signed.Order.TakerAmount.String(),
			Expiration:    signed.Order.Expiration.String(),
			Nonce:         signed.Order.Nonce.String(),
			FeeRateBps:    signed.Order.FeeRateBps.String(),
			Side:          string(req.Side),
			SignatureType: int(signed.Order.SignatureType.Int64()),
			Signature:     "0x" + hex.EncodeToString(signed.Signature),
		},
		Owner:     tc.auth.creds.APIKey,
		OrderType: string(req.Type),
	}

	var resp clobOrderResponse
	if err := tc.auth.doL2(ctx, http.MethodPost, "/order", body, &resp); err != nil {
		return ports.PlacedOrder{}, fmt.Errorf("place order: post: %w", err)
	}

	if !resp.Success || resp.ErrorMsg != "" {
		return ports.PlacedOrder{}, fmt.Errorf("place order: clob error: %s", resp.ErrorMsg)
	}

	return ports.PlacedOrder{
		ExchangeOrderID: resp.OrderID,
		Status:          resp.Status,
		TakenAmount:     parseMicro(resp.TakingAmount),
		MadeAmount:      parseMicro(resp.MakingAmount),
	}, nil
}

// CancelOrders cancels the given order ids in one call. The CLOB treats
// unknown ids as already cancelled, which keeps this idempotent.
func (tc *TradingClient) CancelOrders(ctx context.Context, exchangeOrderIDs []string) error {
	if len(exchangeOrderIDs) == 0 {
		return nil
	}
	if err := tc.auth.EnsureCreds(ctx); err != nil {
		return fmt.Errorf("cancel orders: creds: %w", err)
	}

	body := clobCancelRequest(exchangeOrderIDs)
	if err := tc.auth.doL2(ctx, http.MethodDelete, "/orders", body, nil); err != nil {
		return fmt.Errorf("cancel orders: %w", err)
	}
	return nil
}

// CancelAll cancels all open orders for this wallet.
func (tc *TradingClient) CancelAll(ctx context.Context) error {
	if err := tc.auth.EnsureCreds(ctx); err != nil {
		return fmt.Errorf("cancel all: creds: %w", err)
	}

	if err := tc.auth.doL2(ctx, http.MethodDelete, "/cancel-all", nil, nil); err != nil {
		return fmt.Errorf("cancel all: %w", err)
	}
	return nil
}

// OpenOrders returns the authoritative open-order listing for one market.
func (tc *TradingClient) OpenOrders(ctx context.Context, conditionID string) ([]ports.OpenOrder, error) {
	if err := tc.auth.EnsureCreds(ctx); err != nil {
		return nil, fmt.Errorf("open orders: creds: %w", err)
	}

	path := "/data/orders?market=" + url.QueryEscape(conditionID)
	var resp []clobOpenOrder
	if err := tc.auth.doL2(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, fmt.Errorf("open orders: %w", err)
	}

	orders := make([]ports.OpenOrder, 0, len(resp))
	for _, o := range resp {
		orders = append(orders, ports.OpenOrder{
			ExchangeOrderID: o.ID,
			TokenID:         o.AssetID,
			ConditionID:     o.Market,
			Side:            domain.Side(o.Side),
			Price:           domain.ParsePrice(o.Price),
			Size:            parseShares(o.OriginalSize),
			FilledSize:      parseShares(o.SizeMatched),
			CreatedAt:       parseUnix(o.CreatedAt),
		})
	}
	return orders, nil
}

// OrderBook fetches a REST book snapshot for a token.
func (tc *TradingClient) OrderBook(ctx context.Context, tokenID string) (domain.OrderBook, error) {
	u := fmt.Sprintf("%s/book?token_id=%s", tc.auth.clobBase, url.QueryEscape(tokenID))
	var resp clobBook
	if err := tc.auth.get(ctx, tc.auth.booksLimiter, u, &resp); err != nil {
		return domain.OrderBook{}, fmt.Errorf("order book %s: %w", shortToken(tokenID), err)
	}
	return mapOrderBook(resp), nil
}

// TickSize returns the market's minimum price increment for a token.
func (tc *TradingClient) TickSize(ctx context.Context, tokenID string) (float64, error) {
	u := fmt.Sprintf("%s/tick-size?token_id=%s", tc.auth.clobBase, url.QueryEscape(tokenID))
	var resp clobTickSize
	if err := tc.auth.get(ctx, tc.auth.clobLimiter, u, &resp); err != nil {
		return 0, fmt.Errorf("tick size %s: %w", shortToken(tokenID), err)
	}
	tick, err := resp.MinimumTickSize.Float64()
	if err != nil || tick <= 0 {
		return 0, fmt.Errorf("tick size %s: invalid value %q", shortToken(tokenID), resp.MinimumTickSize)
	}
	return tick, nil
}

// BalanceAllowance reads the exchange's view of collateral funds.
func (tc *TradingClient) BalanceAllowance(ctx context.Context) (ports.BalanceAllowance, error) {
	if err := tc.auth.EnsureCreds(ctx); err != nil {
		return ports.BalanceAllowance{}, fmt.Errorf("balance allowance: creds: %w", err)
	}

	path := "/balance-allowance?asset_type=COLLATERAL&signature_type=" + strconv.Itoa(int(tc.auth.sigType))
	var resp clobBalanceAllowance
	if err := tc.auth.doL2(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return ports.BalanceAllowance{}, fmt.Errorf("balance allowance: %w", err)
	}

	return ports.BalanceAllowance{
		Balance:   parseMicro(resp.Balance),
		Allowance: parseMicro(resp.Allowance),
	}, nil
}

// UpdateBalanceAllowance asks the CLOB to refresh its cached collateral
// allowance, used after an on-chain approval changed.
func (tc *TradingClient) UpdateBalanceAllowance(ctx context.Context) error {
	if err := tc.auth.EnsureCreds(ctx); err != nil {
		return fmt.Errorf("update allowance: creds: %w", err)
	}

	path := "/balance-allowance/update?asset_type=COLLATERAL&signature_type=" + strconv.Itoa(int(tc.auth.sigType))
	if err := tc.auth.doL2(ctx, http.MethodGet, path, nil, nil); err != nil {
		return fmt.Errorf("update allowance: %w", err)
	}
	return nil
}

// parseMicro converts a micro-USDC string (e.g., "1000000") to USDC float.
func parseMicro(s string) float64 {
	if s == "" {
		return 0
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return float64(n) / 1_000_000
}

// parseShares parses a decimal share count string (e.g. "25.5").
func parseShares(s string) float64 {
	if s == "" {
		return 0
	}
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

// parseUnix tolerates both numeric and string unix-second timestamps.
func parseUnix(n json.Number) int64 {
	v, err := n.Int64()
	if err != nil {
		return 0
	}
	return v
}

func shortToken(tokenID string) string {
	if len(tokenID) > 10 {
		return tokenID[:10]
	}
	return tokenID
}
