package events

import "time"

// Evento publicado no tópico "match_created" a cada casamento de ordens.
// Consumido por liquidação e análise; stake e odds viajam como string
// decimal para não perder precisão.
type MatchCreated struct {
	MatchID      string    `json:"matchId"`
	OutcomeID    string    `json:"outcomeId"`
	BackOrderID  string    `json:"backOrderId"`
	LayOrderID   string    `json:"layOrderId"`
	BackUserID   string    `json:"backUserId"`
	LayUserID    string    `json:"layUserId"`
	MakerOrderID string    `json:"makerOrderId"`
	Stake        string    `json:"stake"`
	Odds         string    `json:"odds"`
	Currency     string    `json:"currency"`
	MatchedAt    time.Time `json:"matchedAt"`
}
