package polymarket

import (
	"encoding/json"
	"sort"
	"strconv"
	"time"

	"github.com/alejandrodnm/polymaker/internal/domain"
)

// mapGammaMarket convierte un gammaMarket DTO a domain.Market.
// Gamma codifica los token IDs y outcomes como arrays JSON dentro de strings.
func mapGammaMarket(gm gammaMarket) (domain.Market, bool) {
	var tokenIDs, outcomes []string
	if err := json.Unmarshal([]byte(gm.ClobTokenIDs), &tokenIDs); err != nil || len(tokenIDs) < 2 {
		return domain.Market{}, false
	}
	if err := json.Unmarshal([]byte(gm.Outcomes), &outcomes); err != nil || len(outcomes) < 2 {
		outcomes = []string{"Yes", "No"}
	}

	m := domain.Market{
		ConditionID: gm.ConditionID,
		QuestionID:  gm.QuestionID,
		Question:    gm.Question,
		Slug:        gm.Slug,
		NegRisk:     gm.NegRisk,
		Active:      gm.Active,
		Closed:      gm.Closed,
	}

	for i := 0; i < 2; i++ {
		m.Tokens[i] = domain.Token{TokenID: tokenIDs[i], Outcome: outcomes[i]}
	}

	if tick, err := gm.OrderMinTick.Float64(); err == nil && tick > 0 {
		m.TickSize = tick
	}

	if gm.EndDateISO != "" {
		// Polymarket usa varios formatos; intentamos los más comunes
		for _, layout := range []string{
			time.RFC3339,
			"2006-01-02T15:04:05.000Z",
			"2006-01-02T15:04:05Z",
			"2006-01-02",
		} {
			if t, err := time.Parse(layout, gm.EndDateISO); err == nil {
				m.EndDate = t.UTC()
				break
			}
		}
	}

	return m, true
}

// mapOrderBook convierte la respuesta de GET /book a domain.OrderBook.
func mapOrderBook(raw clobBook) domain.OrderBook {
	return domain.OrderBook{
		TokenID: raw.AssetID,
		Bids:    mapBookEntries(raw.Bids, false),
		Asks:    mapBookEntries(raw.Asks, true),
	}
}

// mapBookEntries convierte entries raw a domain.BookEntry y los ordena.
// ascending=true → menor a mayor (asks), ascending=false → mayor a menor (bids).
func mapBookEntries(raw []bookEntryRaw, ascending bool) []domain.BookEntry {
	entries := make([]domain.BookEntry, 0, len(raw))
	for _, r := range raw {
		price, _ := strconv.ParseFloat(r.Price, 64)
		size, _ := strconv.ParseFloat(r.Size, 64)
		if price <= 0 || size <= 0 {
			continue
		}
		entries = append(entries, domain.BookEntry{Price: price, Size: size})
	}

	sort.Slice(entries, func(i, j int) bool {
		if ascending {
			return entries[i].Price < entries[j].Price
		}
		return entries[i].Price > entries[j].Price
	})

	return entries
}
