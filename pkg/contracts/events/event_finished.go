package events

import "time"

// Evento emitido quando um evento esportivo encerra com placar final.
// Dispara a liquidação no settlement-worker.
type EventFinished struct {
	EventID   string    `json:"eventId"`
	HomeScore int       `json:"homeScore"`
	AwayScore int       `json:"awayScore"`
	Voided    bool      `json:"voided"` // evento anulado: tudo vira push
	Ts        time.Time `json:"ts"`
}

// Evento emitido pelo settlement-worker após liquidar um evento
type EventSettled struct {
	EventID        string    `json:"eventId"`
	MatchesSettled int       `json:"matchesSettled"`
	Pushes         int       `json:"pushes"`
	BetsSettled    int       `json:"betsSettled"`
	Ts             time.Time `json:"ts"`
}
