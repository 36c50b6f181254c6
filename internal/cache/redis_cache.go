package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "gradebook:session:"

// RedisSessionCache はRedisに保持するSessionCache。
// 複数インスタンスでキャッシュの無効化を共有できる。
type RedisSessionCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisClient はREDIS_URL形式のURLからクライアントを生成し、疎通を確認する。
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("redis url parse failed: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

// NewRedisSessionCache はRedisSessionCacheを生成する。
func NewRedisSessionCache(client *redis.Client, ttl time.Duration) *RedisSessionCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisSessionCache{client: client, ttl: ttl}
}

func (c *RedisSessionCache) Get(ctx context.Context, token string) (bool, error) {
	err := c.client.Get(ctx, keyPrefix+token).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("session cache get failed: %w", err)
	}
	return true, nil
}

func (c *RedisSessionCache) Set(ctx context.Context, token string) error {
	if err := c.client.Set(ctx, keyPrefix+token, "1", c.ttl).Err(); err != nil {
		return fmt.Errorf("session cache set failed: %w", err)
	}
	return nil
}

func (c *RedisSessionCache) Delete(ctx context.Context, token string) error {
	if err := c.client.Del(ctx, keyPrefix+token).Err(); err != nil {
		return fmt.Errorf("session cache del failed: %w", err)
	}
	return nil
}

var _ SessionCache = (*RedisSessionCache)(nil)
