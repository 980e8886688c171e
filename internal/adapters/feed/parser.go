// Package feed contiene los supervisores de los canales WebSocket de
// Polymarket: el canal de mercado (best bid/ask) y el canal de usuario
// (fills y estados de orden). Cada supervisor es dueño de su socket y
// publica eventos tipados en un canal; el maker nunca toca el socket.
package feed

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/alejandrodnm/polymaker/internal/domain"
)

// subscribeMessage es el mensaje de suscripción para ambos canales.
// El canal de mercado usa AssetsIDs; el de usuario usa Markets + Auth.
type subscribeMessage struct {
	AssetsIDs []string `json:"assets_ids,omitempty"`
	Markets   []string `json:"markets,omitempty"`
	Type      string   `json:"type,omitempty"`
	Auth      *wsAuth  `json:"auth,omitempty"`
}

type wsAuth struct {
	APIKey     string `json:"apiKey"`
	Secret     string `json:"secret"`
	Passphrase string `json:"passphrase"`
}

// wsLevel es un nivel de precio raw (strings, igual que la REST API).
type wsLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// marketMessage es un evento del canal de mercado.
type marketMessage struct {
	EventType    string        `json:"event_type"`
	AssetID      string        `json:"asset_id,omitempty"`
	Market       string        `json:"market,omitempty"`
	Timestamp    string        `json:"timestamp,omitempty"`
	Bids         []wsLevel     `json:"bids,omitempty"`
	Asks         []wsLevel     `json:"asks,omitempty"`
	PriceChanges []priceChange `json:"price_changes,omitempty"`
}

// priceChange trae el nuevo top-of-book ya calculado por el exchange.
type priceChange struct {
	AssetID string `json:"asset_id"`
	BestBid string `json:"best_bid"`
	BestAsk string `json:"best_ask"`
}

// userMessage es un evento del canal de usuario: trade o cambio de estado.
type userMessage struct {
	EventType  string `json:"event_type"`
	ID         string `json:"id"`
	AssetID    string `json:"asset_id"`
	Market     string `json:"market"`
	Side       string `json:"side"`
	Price      string `json:"price"`
	Size       string `json:"size"`
	FeeRateBps string `json:"fee_rate_bps"`
	MatchTime  string `json:"match_time"`

	// Solo en eventos "order"
	Type         string `json:"type"` // PLACEMENT | UPDATE | CANCELLATION
	OriginalSize string `json:"original_size"`
	TakerOrderID string `json:"taker_order_id"`
	MakerOrders  []struct {
		OrderID string `json:"order_id"`
	} `json:"maker_orders"`
}

const (
	eventTypeBook        = "book"
	eventTypePriceChange = "price_change"
	eventTypeTrade       = "trade"
	eventTypeOrder       = "order"
)

// splitFrames separa un payload WebSocket en mensajes individuales.
// Polymarket manda tanto arrays JSON como objetos sueltos; los keepalive
// ("PONG") se descartan en silencio.
func splitFrames(data []byte) ([]json.RawMessage, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("PONG")) {
		return nil, nil
	}

	if data[0] == '[' {
		var frames []json.RawMessage
		if err := json.Unmarshal(data, &frames); err != nil {
			return nil, fmt.Errorf("feed: parse frame array: %w (data: %s)", err, truncate(data, 100))
		}
		return frames, nil
	}

	return []json.RawMessage{json.RawMessage(data)}, nil
}

// parseMarketMessages decodifica un payload del canal de mercado.
func parseMarketMessages(data []byte) ([]marketMessage, error) {
	frames, err := splitFrames(data)
	if err != nil {
		return nil, err
	}

	msgs := make([]marketMessage, 0, len(frames))
	for _, f := range frames {
		var m marketMessage
		if err := json.Unmarshal(f, &m); err != nil {
			return nil, fmt.Errorf("feed: parse market message: %w (data: %s)", err, truncate(f, 100))
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

// parseUserMessages decodifica un payload del canal de usuario.
func parseUserMessages(data []byte) ([]userMessage, error) {
	frames, err := splitFrames(data)
	if err != nil {
		return nil, err
	}

	msgs := make([]userMessage, 0, len(frames))
	for _, f := range frames {
		var m userMessage
		if err := json.Unmarshal(f, &m); err != nil {
			return nil, fmt.Errorf("feed: parse user message: %w (data: %s)", err, truncate(f, 100))
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

// snapshotsFrom convierte un evento de mercado en snapshots top-of-book.
// Un "book" produce un snapshot del asset; un "price_change" puede traer
// varios assets en un solo frame.
func snapshotsFrom(m marketMessage, now time.Time) []domain.QuoteSnapshot {
	switch m.EventType {
	case eventTypeBook:
		bid := topPrice(m.Bids, true)
		ask := topPrice(m.Asks, false)
		return []domain.QuoteSnapshot{{
			TokenID:   m.AssetID,
			BestBid:   bid,
			BestAsk:   ask,
			UpdatedAt: now,
		}}

	case eventTypePriceChange:
		snaps := make([]domain.QuoteSnapshot, 0, len(m.PriceChanges))
		for _, pc := range m.PriceChanges {
			snaps = append(snaps, domain.QuoteSnapshot{
				TokenID:   pc.AssetID,
				BestBid:   domain.ParsePrice(pc.BestBid),
				BestAsk:   domain.ParsePrice(pc.BestAsk),
				UpdatedAt: now,
			})
		}
		return snaps
	}
	return nil
}

// topPrice devuelve el mejor precio de un lado del libro. Los niveles con
// size cero son borrados lógicos y no cuentan.
func topPrice(levels []wsLevel, highest bool) float64 {
	best := 0.0
	for _, l := range levels {
		size, _ := strconv.ParseFloat(l.Size, 64)
		if size <= 0 {
			continue
		}
		p := domain.ParsePrice(l.Price)
		if p <= 0 {
			continue
		}
		if best == 0 || (highest && p > best) || (!highest && p < best) {
			best = p
		}
	}
	return best
}

// fillFrom convierte un evento "trade" en domain.Fill.
func fillFrom(m userMessage, now time.Time) *domain.Fill {
	ts := now
	if ms, err := strconv.ParseInt(m.MatchTime, 10, 64); err == nil && ms > 0 {
		ts = time.Unix(ms, 0).UTC()
	}

	orderID := m.TakerOrderID
	if len(m.MakerOrders) > 0 {
		// Para un maker el fill llega referenciando nuestra orden maker.
		orderID = m.MakerOrders[0].OrderID
	}

	fee, _ := strconv.ParseFloat(m.FeeRateBps, 64)

	return &domain.Fill{
		TradeID:    m.ID,
		OrderID:    orderID,
		TokenID:    m.AssetID,
		Side:       domain.Side(m.Side),
		Price:      domain.ParsePrice(m.Price),
		Size:       parseSize(m.Size),
		FeeRateBps: fee,
		Timestamp:  ts,
	}
}

// statusFrom convierte un evento "order" en domain.OrderStatusEvent.
func statusFrom(m userMessage, now time.Time) *domain.OrderStatusEvent {
	size := parseSize(m.OriginalSize)
	if size == 0 {
		size = parseSize(m.Size)
	}
	return &domain.OrderStatusEvent{
		OrderID:   m.ID,
		TokenID:   m.AssetID,
		Side:      domain.Side(m.Side),
		Status:    m.Type,
		Price:     domain.ParsePrice(m.Price),
		Size:      size,
		Timestamp: now,
	}
}

func parseSize(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

func truncate(data []byte, maxLen int) string {
	if len(data) <= maxLen {
		return string(data)
	}
	return string(data[:maxLen]) + "..."
}
