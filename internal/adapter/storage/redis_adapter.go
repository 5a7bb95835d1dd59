package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/helioworks/stockcore/internal/port"
)

const (
	availableKeyPrefix = "stock:available:"
	idempotencyKeyTTL  = 24 * time.Hour
	availableKeyTTL    = 7 * 24 * time.Hour
)

// RedisAdapter mirrors available quantities for read traffic and holds
// idempotency keys for lifecycle requests. The MySQL ledger stays
// authoritative; everything here may expire and be rebuilt.
type RedisAdapter struct {
	client *redis.Client
}

var _ port.StockCache = (*RedisAdapter)(nil)

func NewRedisAdapter(client *redis.Client) *RedisAdapter {
	return &RedisAdapter{client: client}
}

func (r *RedisAdapter) SetAvailable(ctx context.Context, itemID string, available decimal.Decimal) error {
	key := availableKeyPrefix + itemID
	return r.client.Set(ctx, key, available.String(), availableKeyTTL).Err()
}

func (r *RedisAdapter) Available(ctx context.Context, itemID string) (decimal.Decimal, bool, error) {
	key := availableKeyPrefix + itemID

	raw, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, err
	}

	avail, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("parse mirrored quantity %q: %w", raw, err)
	}
	return avail, true, nil
}

func (r *RedisAdapter) SetIdempotency(ctx context.Context, key string) (bool, error) {
	ok, err := r.client.SetNX(ctx, key, 1, idempotencyKeyTTL).Result()
	if err != nil {
		return false, err
	}

	return ok, nil
}
