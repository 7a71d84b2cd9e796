package repository

import (
	"context"
	"time"

	"KlineHub/internal/domain/models"
	domrepo "KlineHub/internal/domain/repository"
	"KlineHub/pkg/cache"
)

// RedisBarMirror keeps the last closed bar of every series in Redis under
// kline:last:<symbol>:<interval>.
type RedisBarMirror struct {
	cache cache.Service
	ttl   time.Duration
}

var _ domrepo.BarMirror = (*RedisBarMirror)(nil)

func NewRedisBarMirror(c cache.Service, ttl time.Duration) *RedisBarMirror {
	return &RedisBarMirror{cache: c, ttl: ttl}
}

func lastBarKey(symbol, interval string) string {
	return cache.GenerateKeyWithParams("kline", "last", symbol, interval)
}

// SaveLast writes one key per series; later bars in the slice win.
func (m *RedisBarMirror) SaveLast(ctx context.Context, bars []models.Bar) error {
	if len(bars) == 0 {
		return nil
	}
	values := make(map[string]interface{}, len(bars))
	for _, b := range bars {
		values[lastBarKey(b.Symbol, b.Interval)] = b
	}
	return m.cache.MSet(ctx, values, m.ttl)
}

func (m *RedisBarMirror) LoadLast(ctx context.Context, symbol string, intervals []string) (map[string]models.Bar, error) {
	keys := make([]string, len(intervals))
	byKey := make(map[string]string, len(intervals))
	for i, iv := range intervals {
		keys[i] = lastBarKey(symbol, iv)
		byKey[keys[i]] = iv
	}

	cached, err := cache.MGetTyped[models.Bar](ctx, m.cache, keys...)
	if err != nil {
		return nil, err
	}
	out := make(map[string]models.Bar, len(cached))
	for k, b := range cached {
		out[byKey[k]] = b
	}
	return out, nil
}
