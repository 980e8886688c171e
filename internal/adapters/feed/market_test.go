package feed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var upgrader = websocket.Upgrader{}

// wsTestServer corre un servidor WebSocket que manda los frames dados tras
// recibir la suscripción, y captura el mensaje de suscripción.
func wsTestServer(t *testing.T, frames []string, gotSub chan<- subscribeMessage) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var sub subscribeMessage
		if json.Unmarshal(data, &sub) == nil && gotSub != nil {
			gotSub <- sub
		}

		for _, f := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
				return
			}
		}
		// Mantener la conexión abierta hasta que el cliente corte.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestMarketSupervisor_EmitsQuotes(t *testing.T) {
	gotSub := make(chan subscribeMessage, 1)
	srv := wsTestServer(t, []string{
		`{"event_type":"book","asset_id":"tok-yes",
		  "bids":[{"price":"0.40","size":"50"}],
		  "asks":[{"price":"0.42","size":"60"}]}`,
	}, gotSub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sup := NewMarketSupervisor(wsURL(srv), []string{"tok-yes", "tok-no"})
	events, err := sup.Start(ctx)
	require.NoError(t, err)
	defer sup.Close()

	sub := <-gotSub
	assert.Equal(t, []string{"tok-yes", "tok-no"}, sub.AssetsIDs)
	assert.Equal(t, "market", sub.Type)

	select {
	case ev := <-events:
		assert.Equal(t, "tok-yes", ev.Snapshot.TokenID)
		assert.InDelta(t, 0.40, ev.Snapshot.BestBid, 1e-9)
		assert.InDelta(t, 0.42, ev.Snapshot.BestAsk, 1e-9)
	case <-time.After(2 * time.Second):
		t.Fatal("no quote event received")
	}

	assert.False(t, sup.LastUpdate("tok-yes").IsZero())
	assert.True(t, sup.LastUpdate("tok-no").IsZero())

	snap, ok := sup.LastGood("tok-yes")
	require.True(t, ok)
	assert.InDelta(t, 0.40, snap.BestBid, 1e-9)
}

func TestMarketSupervisor_DropsCorruptQuotes(t *testing.T) {
	srv := wsTestServer(t, []string{
		// Sentinel de libro en reseteo: no debe emitirse.
		`{"event_type":"book","asset_id":"tok-yes",
		  "bids":[{"price":"0.001","size":"1"}],
		  "asks":[{"price":"0.999","size":"1"}]}`,
		`{"event_type":"book","asset_id":"tok-yes",
		  "bids":[{"price":"0.40","size":"50"}],
		  "asks":[{"price":"0.42","size":"60"}]}`,
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sup := NewMarketSupervisor(wsURL(srv), []string{"tok-yes"})
	events, err := sup.Start(ctx)
	require.NoError(t, err)
	defer sup.Close()

	select {
	case ev := <-events:
		// El primer evento entregado ya es el bueno.
		assert.InDelta(t, 0.40, ev.Snapshot.BestBid, 1e-9)
	case <-time.After(2 * time.Second):
		t.Fatal("no quote event received")
	}
}

func TestMarketSupervisor_GivesUpAfterMaxAttempts(t *testing.T) {
	srv := wsTestServer(t, []string{
		`{"event_type":"book","asset_id":"tok-yes",
		  "bids":[{"price":"0.40","size":"50"}],
		  "asks":[{"price":"0.42","size":"60"}]}`,
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sup := NewMarketSupervisor(wsURL(srv), []string{"tok-yes"}).
		WithReconnectConfig(ReconnectConfig{
			InitialBackoff: time.Millisecond,
			MaxBackoff:     time.Millisecond,
			BackoffFactor:  1,
			MaxAttempts:    2,
		})

	events, err := sup.Start(ctx)
	require.NoError(t, err)

	<-events    // primer quote
	srv.Close() // el servidor muere y no vuelve

	select {
	case _, open := <-events:
		for open {
			_, open = <-events
		}
		// canal cerrado: el supervisor agotó los reintentos
	case <-time.After(5 * time.Second):
		t.Fatal("supervisor did not give up")
	}
}
