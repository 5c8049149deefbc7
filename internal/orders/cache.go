package orders

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ariefcatur/pcbuild-orders/internal/redisx"
	"github.com/redis/go-redis/v9"
)

// Cache is a best-effort fast path in front of Postgres. Postgres stays the source of truth.
type Cache interface {
	IdempotentOrderID(ctx context.Context, key string) (string, bool)
	RememberIdempotent(ctx context.Context, key, orderID string)
	Order(ctx context.Context, orderID string) (Order, bool)
	Put(ctx context.Context, o Order)
	Invalidate(ctx context.Context, orderID string)
}

type RedisCache struct {
	RDB redis.Cmdable
}

func (c *RedisCache) IdempotentOrderID(ctx context.Context, key string) (string, bool) {
	id, err := c.RDB.Get(ctx, fmt.Sprintf(redisx.KeyIdemOrderCreate, key)).Result()
	if err != nil || id == "" {
		return "", false
	}
	return id, true
}

func (c *RedisCache) RememberIdempotent(ctx context.Context, key, orderID string) {
	_ = c.RDB.Set(ctx, fmt.Sprintf(redisx.KeyIdemOrderCreate, key), orderID, redisx.TTLIdempotency).Err()
}

func (c *RedisCache) Order(ctx context.Context, orderID string) (Order, bool) {
	b, err := c.RDB.Get(ctx, fmt.Sprintf(redisx.KeyOrder, orderID)).Bytes()
	if err != nil {
		return Order{}, false
	}
	var o Order
	if err := json.Unmarshal(b, &o); err != nil {
		return Order{}, false
	}
	return o, true
}

func (c *RedisCache) Put(ctx context.Context, o Order) {
	b, err := json.Marshal(o)
	if err != nil {
		return
	}
	_ = c.RDB.Set(ctx, fmt.Sprintf(redisx.KeyOrder, o.OrderID), b, redisx.TTLOrderCache).Err()
}

func (c *RedisCache) Invalidate(ctx context.Context, orderID string) {
	_ = c.RDB.Del(ctx, fmt.Sprintf(redisx.KeyOrder, orderID)).Err()
}

type noCache struct{}

func (noCache) IdempotentOrderID(context.Context, string) (string, bool) { return "", false }
func (noCache) RememberIdempotent(context.Context, string, string)       {}
func (noCache) Order(context.Context, string) (Order, bool)              { return Order{}, false }
func (noCache) Put(context.Context, Order)                               {}
func (noCache) Invalidate(context.Context, string)                       {}
