package polymarket

// gamma.go — descubrimiento de mercados sobre la Gamma API.
//
// Frontera fina: el maker recibe domain.Market ya validados y nunca vuelve
// a tocar Gamma durante la sesión.

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/alejandrodnm/polymaker/internal/domain"
)

const gammaMarketsPath = "/markets"

// ActiveMarkets devuelve los mercados tradables para los slugs dados.
// Implementa ports.MarketProvider. Los mercados cerrados o sin token IDs
// se descartan con un log, no con un error.
func (c *Client) ActiveMarkets(ctx context.Context, slugs []string) ([]domain.Market, error) {
	markets := make([]domain.Market, 0, len(slugs))

	for _, slug := range slugs {
		u := fmt.Sprintf("%s%s?slug=%s", c.gammaBase, gammaMarketsPath, url.QueryEscape(slug))

		var resp gammaMarketsResponse
		if err := c.get(ctx, c.gammaLimiter, u, &resp); err != nil {
			return nil, fmt.Errorf("gamma.ActiveMarkets: slug %q: %w", slug, err)
		}
		if len(resp) == 0 {
			slog.Warn("gamma: slug not found", "slug", slug)
			continue
		}

		m, ok := mapGammaMarket(resp[0])
		if !ok {
			slog.Warn("gamma: market without token ids, skipping", "slug", slug)
			continue
		}
		if m.Closed || !m.Active {
			slog.Warn("gamma: market not tradable, skipping", "slug", slug, "closed", m.Closed)
			continue
		}

		markets = append(markets, m)
	}

	slog.Info("gamma: markets discovered", "requested", len(slugs), "tradable", len(markets))
	return markets, nil
}
