package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/radieske/exchange-bet-platform/internal/exchange/notify"
)

// RedisCache guarda o último snapshot do book por outcome. Leituras de book
// via API consultam aqui primeiro; toda mutação do book regrava a chave.
type RedisCache struct {
	Client *redis.Client
	TTL    time.Duration
}

func NewRedisCache(c *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{Client: c, TTL: ttl}
}

func key(outcomeID string) string { return "book:current:" + outcomeID }

// SetBook armazena o snapshot corrente do book com TTL definido
func (r *RedisCache) SetBook(ctx context.Context, s notify.BookSnapshot) error {
	b, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return r.Client.Set(ctx, key(s.OutcomeID), b, r.TTL).Err()
}

// GetBook retorna o snapshot cacheado; (nil, nil) em cache miss
func (r *RedisCache) GetBook(ctx context.Context, outcomeID string) (*notify.BookSnapshot, error) {
	b, err := r.Client.Get(ctx, key(outcomeID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var s notify.BookSnapshot
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Invalidate remove o snapshot cacheado de um outcome
func (r *RedisCache) Invalidate(ctx context.Context, outcomeID string) error {
	return r.Client.Del(ctx, key(outcomeID)).Err()
}
