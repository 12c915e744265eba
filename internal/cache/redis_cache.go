package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func NewClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	if addr == "" {
		return nil, fmt.Errorf("invalid REDIS_ADDR: %q", addr)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	slog.Info("redis connection established", "addr", addr, "db", db)
	return rdb, nil
}

type RedisCache struct {
	rdb *redis.Client
	ttl time.Duration
}

var _ DeliveryCache = (*RedisCache)(nil)

func NewRedisCache(rdb *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{rdb: rdb, ttl: ttl}
}

type sentValue struct {
	RemoteMessageID string    `json:"remoteMessageId"`
	SentAt          time.Time `json:"sentAt"`
}

func sentKey(id uuid.UUID) string {
	return "aasha:sent:" + id.String()
}

func (c *RedisCache) StoreSent(ctx context.Context, messageID uuid.UUID, remoteMessageID string, sentAt time.Time) error {
	val := sentValue{
		RemoteMessageID: remoteMessageID,
		SentAt:          sentAt.UTC(),
	}

	b, err := json.Marshal(val)
	if err != nil {
		return err
	}

	return c.rdb.Set(ctx, sentKey(messageID), b, c.ttl).Err()
}

func (c *RedisCache) LookupSent(ctx context.Context, messageID uuid.UUID) (string, time.Time, bool, error) {
	raw, err := c.rdb.Get(ctx, sentKey(messageID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return "", time.Time{}, false, nil
	}
	if err != nil {
		return "", time.Time{}, false, err
	}

	var v sentValue
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", time.Time{}, false, fmt.Errorf("decode cached delivery: %w", err)
	}
	return v.RemoteMessageID, v.SentAt, true, nil
}
