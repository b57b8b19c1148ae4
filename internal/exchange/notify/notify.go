package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// Canal Redis Pub/Sub por onde o exchange-service publica atualizações que
// o stream-service repassa aos clientes WebSocket
const ChannelExchangeBroadcast = "exchange_updates_broadcast"

// Update é o envelope publicado no canal. Group endereça o conjunto de
// assinantes no hub: "book:<outcomeId>" para o book, "user:<userId>" para
// notificações privadas.
type Update struct {
	Group   string      `json:"group"`
	Type    string      `json:"type"` // book_update | order_matched | order_cancelled
	Payload interface{} `json:"payload"`
}

// BookLevel é uma linha agregada do book por preço. OldestCreatedAt é a
// colocação da ordem mais antiga do nível (cabeça da fila de prioridade).
type BookLevel struct {
	Odds            string    `json:"odds"`
	UnmatchedStake  string    `json:"unmatchedStake"`
	OldestCreatedAt time.Time `json:"oldestCreatedAt"`
}

// BookSnapshot é o estado público do book de um outcome após uma mutação
type BookSnapshot struct {
	OutcomeID    string      `json:"outcomeId"`
	BackOrders   []BookLevel `json:"backOrders"`
	LayOrders    []BookLevel `json:"layOrders"`
	BestBackOdds *string     `json:"bestBackOdds,omitempty"`
	BestLayOdds  *string     `json:"bestLayOdds,omitempty"`
}

// MatchNotice avisa o dono de uma ordem que ela casou (total ou parcialmente)
type MatchNotice struct {
	OrderID         string `json:"orderId"`
	MatchID         string `json:"matchId"`
	MatchedAmount   string `json:"matchedAmount"`
	RemainingAmount string `json:"remainingAmount"`
	MatchedOdds     string `json:"matchedOdds"`
	FullyMatched    bool   `json:"fullyMatched"`
}

// CancelNotice avisa os assinantes do book que uma ordem saiu
type CancelNotice struct {
	OutcomeID      string `json:"outcomeId"`
	OrderID        string `json:"orderId"`
	Side           string `json:"side"`
	CancelledStake string `json:"cancelledStake"`
}

type RedisBroadcaster struct {
	r *redis.Client
}

func NewRedisBroadcaster(r *redis.Client) *RedisBroadcaster {
	return &RedisBroadcaster{r: r}
}

func (b *RedisBroadcaster) publish(ctx context.Context, u Update) error {
	payload, err := json.Marshal(u)
	if err != nil {
		return err
	}
	return b.r.Publish(ctx, ChannelExchangeBroadcast, payload).Err()
}

// PublishBook envia o snapshot do book aos assinantes do outcome
func (b *RedisBroadcaster) PublishBook(ctx context.Context, s BookSnapshot) error {
	return b.publish(ctx, Update{Group: "book:" + s.OutcomeID, Type: "book_update", Payload: s})
}

// PublishMatched envia a notificação de casamento ao dono da ordem
func (b *RedisBroadcaster) PublishMatched(ctx context.Context, userID string, n MatchNotice) error {
	return b.publish(ctx, Update{Group: "user:" + userID, Type: "order_matched", Payload: n})
}

// PublishCancelled avisa os assinantes do book sobre o cancelamento
func (b *RedisBroadcaster) PublishCancelled(ctx context.Context, n CancelNotice) error {
	return b.publish(ctx, Update{Group: "book:" + n.OutcomeID, Type: "order_cancelled", Payload: n})
}
