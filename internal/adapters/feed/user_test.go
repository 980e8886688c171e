package feed

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/polymaker/internal/domain"
)

type staticCreds struct{}

func (staticCreds) WSAuth() (string, string, string, error) {
	return "key-123", "secret", "pass", nil
}

func TestUserSupervisor_AuthAndFill(t *testing.T) {
	gotSub := make(chan subscribeMessage, 1)
	srv := wsTestServer(t, []string{
		`{"event_type":"trade","id":"trade-1","asset_id":"tok-yes",
		  "side":"BUY","price":"0.41","size":"25",
		  "maker_orders":[{"order_id":"0xmine"}]}`,
		`{"event_type":"order","id":"0xorder1","asset_id":"tok-yes",
		  "side":"BUY","price":"0.41","original_size":"25","type":"PLACEMENT"}`,
	}, gotSub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sup := NewUserSupervisor(wsURL(srv), []string{"0xcond"}, staticCreds{})
	events, err := sup.Start(ctx)
	require.NoError(t, err)
	defer sup.Close()

	sub := <-gotSub
	assert.Equal(t, []string{"0xcond"}, sub.Markets)
	assert.Equal(t, "user", sub.Type)
	require.NotNil(t, sub.Auth)
	assert.Equal(t, "key-123", sub.Auth.APIKey)

	select {
	case ev := <-events:
		require.NotNil(t, ev.Fill)
		assert.Equal(t, "trade-1", ev.Fill.TradeID)
		assert.Equal(t, "0xmine", ev.Fill.OrderID)
		assert.Equal(t, domain.Buy, ev.Fill.Side)
	case <-time.After(2 * time.Second):
		t.Fatal("no fill event received")
	}

	select {
	case ev := <-events:
		require.NotNil(t, ev.Status)
		assert.Equal(t, "PLACEMENT", ev.Status.Status)
	case <-time.After(2 * time.Second):
		t.Fatal("no status event received")
	}

	assert.False(t, sup.LastUpdate().IsZero())
}
