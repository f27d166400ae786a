package services

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// NotificationDeduper remembers webhook deliveries that were already handled.
type NotificationDeduper interface {
	// FirstSeen claims key and reports whether this caller is the first.
	FirstSeen(ctx context.Context, key string) (bool, error)
	// Release forgets key so a failed delivery can be processed on retry.
	Release(ctx context.Context, key string) error
}

// RedisDeduper claims keys with SET NX and a TTL.
type RedisDeduper struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
}

func NewRedisDeduper(client redis.Cmdable, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{client: client, prefix: "fotofacil:webhook:", ttl: ttl}
}

func (d *RedisDeduper) FirstSeen(ctx context.Context, key string) (bool, error) {
	return d.client.SetNX(ctx, d.prefix+key, time.Now().Unix(), d.ttl).Result()
}

func (d *RedisDeduper) Release(ctx context.Context, key string) error {
	return d.client.Del(ctx, d.prefix+key).Err()
}

// NopDeduper treats every delivery as new.
type NopDeduper struct{}

func (NopDeduper) FirstSeen(context.Context, string) (bool, error) { return true, nil }
func (NopDeduper) Release(context.Context, string) error           { return nil }
