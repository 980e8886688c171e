package polymarket

import "encoding/json"

// DTOs raw de la API de Polymarket. Solo se usan dentro de este paquete.
// La conversión a domain entities se hace en mapping.go.

// bookEntryRaw es un nivel de precio raw de la API (strings para mayor precisión).
type bookEntryRaw struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// --- Gamma API ---

// gammaMarketsResponse es la respuesta de GET /markets de Gamma.
type gammaMarketsResponse []gammaMarket

// gammaMarket contiene la metadata de un mercado.
// Gamma devuelve algunos campos numéricos como strings JSON, usamos json.Number.
type gammaMarket struct {
	ConditionID   string      `json:"conditionId"`
	QuestionID    string      `json:"questionID"`
	Question      string      `json:"question"`
	Slug          string      `json:"slug"`
	EndDateISO    string      `json:"endDateIso"`
	NegRisk       bool        `json:"negRisk"`
	OrderMinTick  json.Number `json:"orderPriceMinTickSize"`
	ClobTokenIDs  string      `json:"clobTokenIds"` // JSON array codificado como string
	Outcomes      string      `json:"outcomes"`     // ídem
	Active        bool        `json:"active"`
	Closed        bool        `json:"closed"`
	AcceptingOrds bool        `json:"acceptingOrders"`
}
