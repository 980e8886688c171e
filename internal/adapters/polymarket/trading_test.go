package polymarket

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/polymaker/internal/domain"
	"github.com/alejandrodnm/polymaker/internal/ports"
)

const testPrivateKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

func newTestTradingClient(t *testing.T, handler http.HandlerFunc) (*TradingClient, *httptest.Server) {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/auth/derive-api-key", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(apiCredentials{
			APIKey:     "key-123",
			Secret:     base64.URLEncoding.EncodeToString([]byte("test-secret")),
			Passphrase: "pass",
		})
	})
	mux.HandleFunc("/", handler)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	auth, err := NewAuthClient(srv.URL, srv.URL, testPrivateKey, "")
	require.NoError(t, err)
	require.NoError(t, auth.EnsureCreds(context.Background()))

	return NewTradingClient(auth), srv
}

func TestOpenOrders_FiltersByMarket(t *testing.T) {
	tc, _ := newTestTradingClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/data/orders", r.URL.Path)
		assert.Equal(t, "0xcond", r.URL.Query().Get("market"))
		assert.NotEmpty(t, r.Header.Get("POLY_SIGNATURE"))
		assert.Equal(t, "key-123", r.Header.Get("POLY_API_KEY"))

		json.NewEncoder(w).Encode([]clobOpenOrder{
			{
				ID:           "0xorder1",
				AssetID:      "tok-yes",
				Market:       "0xcond",
				Side:         "BUY",
				Price:        "0.41",
				OriginalSize: "25",
				SizeMatched:  "5",
				Status:       "LIVE",
				CreatedAt:    json.Number("1700000000"),
			},
		})
	})

	orders, err := tc.OpenOrders(context.Background(), "0xcond")
	require.NoError(t, err)
	require.Len(t, orders, 1)

	o := orders[0]
	assert.Equal(t, "0xorder1", o.ExchangeOrderID)
	assert.Equal(t, domain.Buy, o.Side)
	assert.InDelta(t, 0.41, o.Price, 1e-9)
	assert.InDelta(t, 25.0, o.Size, 1e-9)
	assert.InDelta(t, 5.0, o.FilledSize, 1e-9)
	assert.Equal(t, int64(1700000000), o.CreatedAt)
}

func TestOrderBook_Snapshot(t *testing.T) {
	tc, _ := newTestTradingClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/book", r.URL.Path)
		json.NewEncoder(w).Encode(clobBook{
			AssetID: "tok-yes",
			Bids:    []bookEntryRaw{{Price: "0.39", Size: "100"}, {Price: "0.40", Size: "50"}},
			Asks:    []bookEntryRaw{{Price: "0.43", Size: "80"}, {Price: "0.42", Size: "60"}},
		})
	})

	book, err := tc.OrderBook(context.Background(), "tok-yes")
	require.NoError(t, err)
	assert.InDelta(t, 0.40, book.BestBid(), 1e-9)
	assert.InDelta(t, 0.42, book.BestAsk(), 1e-9)
}

func TestTickSize(t *testing.T) {
	tc, _ := newTestTradingClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/tick-size", r.URL.Path)
		json.NewEncoder(w).Encode(clobTickSize{MinimumTickSize: json.Number("0.001")})
	})

	tick, err := tc.TickSize(context.Background(), "tok-yes")
	require.NoError(t, err)
	assert.InDelta(t, 0.001, tick, 1e-9)
}

func TestBalanceAllowance(t *testing.T) {
	tc, _ := newTestTradingClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/balance-allowance", r.URL.Path)
		assert.Equal(t, "COLLATERAL", r.URL.Query().Get("asset_type"))
		json.NewEncoder(w).Encode(clobBalanceAllowance{Balance: "250000000", Allowance: "100000000"})
	})

	ba, err := tc.BalanceAllowance(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 250.0, ba.Balance, 1e-9)
	assert.InDelta(t, 100.0, ba.Allowance, 1e-9)
}

func TestCancelOrders_EmptyListIsNoop(t *testing.T) {
	called := false
	tc, _ := newTestTradingClient(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
	})

	require.NoError(t, tc.CancelOrders(context.Background(), nil))
	assert.False(t, called, "no ids, no request")
}

func TestPlaceOrder_SubmitsSignedGTC(t *testing.T) {
	var got clobOrderRequest
	tc, _ := newTestTradingClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/order", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(clobOrderResponse{
			Success: true,
			OrderID: "0xabc",
			Status:  "live",
		})
	})

	amounts, err := domain.BuildAmounts(domain.Buy, 0.41, 25)
	require.NoError(t, err)

	placed, err := tc.PlaceOrder(context.Background(), ports.PlaceOrderRequest{
		TokenID:       "123456",
		ConditionID:   "0xcond",
		Side:          domain.Buy,
		Type:          domain.OrderTypeGTC,
		Amounts:       amounts,
		ClientOrderID: "b-123456-4100",
	})
	require.NoError(t, err)

	assert.Equal(t, "0xabc", placed.ExchangeOrderID)
	assert.Equal(t, "GTC", got.OrderType)
	assert.Equal(t, "BUY", got.Order.Side)
	assert.Equal(t, "10250000", got.Order.MakerAmount)
	assert.Equal(t, "25000000", got.Order.TakerAmount)
	assert.NotEmpty(t, got.Order.Signature)
	assert.Equal(t, "key-123", got.Owner)
}

func TestPlaceOrder_RejectsNonGTC(t *testing.T) {
	tc, _ := newTestTradingClient(t, func(w http.ResponseWriter, r *http.Request) {})

	_, err := tc.PlaceOrder(context.Background(), ports.PlaceOrderRequest{
		TokenID: "1",
		Side:    domain.Buy,
		Type:    domain.OrderType("FOK"),
	})
	assert.Error(t, err)
}

func TestIsAuthError(t *testing.T) {
	assert.True(t, IsAuthError(&StatusError{Code: 401}))
	assert.True(t, IsAuthError(&StatusError{Code: 403}))
	assert.False(t, IsAuthError(&StatusError{Code: 400}))
	assert.False(t, IsAuthError(nil))
}
