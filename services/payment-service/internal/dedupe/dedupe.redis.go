// services/payment-service/internal/dedupe/dedupe.redis.go
package dedupe

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Kushmakov/rental-marketplace-iubv3k-sub004/services/payment-service/internal/payment"
)

// DefaultTTL covers the processor's webhook retry horizon.
const DefaultTTL = 72 * time.Hour

const keyPrefix = "payments:webhook:"

// kv is the subset of redis.Cmdable the deduper needs.
type kv interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisDeduper remembers processed webhook event ids. It is a fast path only:
// the transaction state machine still rejects duplicates it lets through.
type RedisDeduper struct {
	rdb kv
	ttl time.Duration
}

var _ payment.EventDeduper = (*RedisDeduper)(nil)

func NewRedisDeduper(rdb redis.Cmdable, ttl time.Duration) *RedisDeduper {
	return newDeduper(rdb, ttl)
}

func newDeduper(rdb kv, ttl time.Duration) *RedisDeduper {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisDeduper{rdb: rdb, ttl: ttl}
}

// MarkSeen returns true the first time an id is offered within the TTL.
func (d *RedisDeduper) MarkSeen(ctx context.Context, eventID string) (bool, error) {
	if eventID == "" {
		return false, errors.New("dedupe: empty event id")
	}
	fresh, err := d.rdb.SetNX(ctx, keyPrefix+eventID, 1, d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedupe: setnx: %w", err)
	}
	return fresh, nil
}

// Forget drops an id so a failed event can be redelivered and processed again.
func (d *RedisDeduper) Forget(ctx context.Context, eventID string) error {
	if err := d.rdb.Del(ctx, keyPrefix+eventID).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("dedupe: del: %w", err)
	}
	return nil
}

// NewClient builds the go-redis client from the shared infrastructure settings.
func NewClient(addr, password string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       0,
	})
}
