package domain

import "time"

// Market representa un mercado de predicción binario en Polymarket.
// Inmutable una vez cargado para la sesión: el maker nunca lo modifica.
type Market struct {
	ConditionID string
	QuestionID  string
	Question    string    // enriquecido desde Gamma
	Slug        string    // enriquecido desde Gamma
	EndDate     time.Time // fecha de resolución
	NegRisk     bool      // mercado bajo el adapter NegRisk
	TickSize    float64   // incremento mínimo de precio del CLOB
	Tokens      [2]Token
	Active      bool
	Closed      bool
}

// Token es uno de los dos lados del mercado (YES/NO).
type Token struct {
	TokenID string
	Outcome string // "Yes" | "No"
}

// YesToken devuelve el token YES del mercado.
func (m Market) YesToken() Token {
	for _, t := range m.Tokens {
		if t.Outcome == "Yes" {
			return t
		}
	}
	return m.Tokens[0]
}

// NoToken devuelve el token NO del mercado.
func (m Market) NoToken() Token {
	for _, t := range m.Tokens {
		if t.Outcome == "No" {
			return t
		}
	}
	return m.Tokens[1]
}

// TokenIDs devuelve los dos token IDs en orden YES, NO.
func (m Market) TokenIDs() []string {
	return []string{m.YesToken().TokenID, m.NoToken().TokenID}
}

// HoursToResolution devuelve las horas hasta que el mercado se resuelve.
// Devuelve 0 si EndDate no está definido.
func (m Market) HoursToResolution() float64 {
	if m.EndDate.IsZero() {
		return 0
	}
	h := time.Until(m.EndDate).Hours()
	if h < 0 {
		return 0
	}
	return h
}

// TruncateQuestion devuelve la pregunta del mercado truncada a maxLen caracteres.
// Si la pregunta está vacía usa los primeros caracteres del conditionID como fallback.
func TruncateQuestion(question, conditionID string, maxLen int) string {
	q := question
	if q == "" {
		if len(conditionID) > 20 {
			q = conditionID[:20] + "..."
		} else {
			q = conditionID
		}
	}
	if len(q) > maxLen {
		q = q[:maxLen-3] + "..."
	}
	return q
}
