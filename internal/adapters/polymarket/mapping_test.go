package polymarket

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapGammaMarket(t *testing.T) {
	gm := gammaMarket{
		ConditionID:  "0xcond",
		QuestionID:   "0xq",
		Question:     "Will it rain tomorrow?",
		Slug:         "will-it-rain",
		EndDateISO:   "2026-11-05T12:00:00Z",
		NegRisk:      true,
		OrderMinTick: json.Number("0.001"),
		ClobTokenIDs: `["111","222"]`,
		Outcomes:     `["Yes","No"]`,
		Active:       true,
	}

	m, ok := mapGammaMarket(gm)
	require.True(t, ok)
	assert.Equal(t, "0xcond", m.ConditionID)
	assert.Equal(t, "111", m.Tokens[0].TokenID)
	assert.Equal(t, "Yes", m.Tokens[0].Outcome)
	assert.Equal(t, "222", m.Tokens[1].TokenID)
	assert.True(t, m.NegRisk)
	assert.InDelta(t, 0.001, m.TickSize, 1e-9)
	assert.Equal(t, 2026, m.EndDate.Year())
}

func TestMapGammaMarket_MissingTokenIDs(t *testing.T) {
	_, ok := mapGammaMarket(gammaMarket{ClobTokenIDs: `[]`})
	assert.False(t, ok)

	_, ok = mapGammaMarket(gammaMarket{ClobTokenIDs: "not-json"})
	assert.False(t, ok)
}

func TestMapGammaMarket_DefaultOutcomes(t *testing.T) {
	m, ok := mapGammaMarket(gammaMarket{
		ClobTokenIDs: `["111","222"]`,
		Outcomes:     "",
	})
	require.True(t, ok)
	assert.Equal(t, "Yes", m.Tokens[0].Outcome)
	assert.Equal(t, "No", m.Tokens[1].Outcome)
}

func TestMapBookEntries_SortsAndFilters(t *testing.T) {
	raw := []bookEntryRaw{
		{Price: "0.39", Size: "100"},
		{Price: "0.41", Size: "0"}, // size cero se descarta
		{Price: "0.40", Size: "50"},
	}

	bids := mapBookEntries(raw, false)
	require.Len(t, bids, 2)
	assert.InDelta(t, 0.40, bids[0].Price, 1e-9)

	asks := mapBookEntries(raw, true)
	assert.InDelta(t, 0.39, asks[0].Price, 1e-9)
}
