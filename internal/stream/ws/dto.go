package ws

import "encoding/json"

// ClientMsg representa uma mensagem recebida do cliente WebSocket
// Type: subscribe | unsubscribe | ping
// Group: obrigatório para subscribe/unsubscribe
type ClientMsg struct {
	Type  string `json:"type"`
	Group string `json:"group"` // ex: "book:<outcomeId>", "user:<userId>"
}

// Update é o envelope repassado aos clientes, como recebido do canal de
// broadcast. O payload não é interpretado aqui.
type Update struct {
	Group   string          `json:"group"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}
