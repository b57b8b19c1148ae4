package ws

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// Hub gerencia conexões WebSocket e assinaturas por grupo.
// Grupos seguem o endereçamento do canal de broadcast: "book:<outcomeId>"
// para o book de um outcome, "user:<userId>" para notificações privadas.
type Hub struct {
	upgrader websocket.Upgrader
	mu       sync.RWMutex
	// group -> set of connections
	subs map[string]map[*websocket.Conn]struct{}
}

// NewHub cria uma instância de Hub com política customizada de origem (CORS)
func NewHub(allowOrigin func(r *http.Request) bool) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{CheckOrigin: allowOrigin},
		subs:     make(map[string]map[*websocket.Conn]struct{}),
	}
}

// HandleWS gerencia o ciclo de vida de uma conexão WebSocket.
// Cada cliente pode assinar múltiplos grupos.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	for {
		var msg ClientMsg
		if err := conn.ReadJSON(&msg); err != nil {
			break
		}
		switch msg.Type {
		case "subscribe":
			if msg.Group == "" {
				continue
			}
			h.mu.Lock()
			if _, ok := h.subs[msg.Group]; !ok {
				h.subs[msg.Group] = make(map[*websocket.Conn]struct{})
			}
			h.subs[msg.Group][conn] = struct{}{}
			h.mu.Unlock()
		case "unsubscribe":
			h.mu.Lock()
			if m, ok := h.subs[msg.Group]; ok {
				delete(m, conn)
				if len(m) == 0 {
					delete(h.subs, msg.Group)
				}
			}
			h.mu.Unlock()
		case "ping":
			_ = conn.WriteJSON(map[string]string{"type": "pong"})
		}
	}
	// Remove a conexão de todas as assinaturas ao desconectar
	h.mu.Lock()
	for _, set := range h.subs {
		delete(set, conn)
	}
	h.mu.Unlock()
}

// Broadcast envia uma atualização para todos os clientes do grupo
func (h *Hub) Broadcast(u Update) {
	h.mu.RLock()
	conns := h.subs[u.Group]
	h.mu.RUnlock()
	if len(conns) == 0 {
		return
	}

	b, _ := json.Marshal(u)
	for c := range conns {
		_ = c.WriteMessage(websocket.TextMessage, b)
	}
}
