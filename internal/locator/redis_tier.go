package locator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "locator:"

// RedisTier Redis 共享缓存层，供同一部署内的多个会话共享映射
type RedisTier struct {
	client redis.Cmdable
	ttl    time.Duration
}

// NewRedisTier 基于已有客户端创建缓存层，ttl 为 0 表示不过期
func NewRedisTier(client redis.Cmdable, ttl time.Duration) *RedisTier {
	return &RedisTier{client: client, ttl: ttl}
}

// DialRedisTier 连接 Redis 并创建缓存层
func DialRedisTier(ctx context.Context, addr, password string, db int, ttl time.Duration) (*RedisTier, *redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
		PoolSize: 10,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewRedisTier(client, ttl), client, nil
}

// Name 返回存储层名称
func (t *RedisTier) Name() string { return "redis" }

// Lookup 查询缓存
func (t *RedisTier) Lookup(ctx context.Context, digest [32]byte) (string, error) {
	address, err := t.client.Get(ctx, redisKeyPrefix+Hex(digest)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("redis get: %w", err)
	}
	return address, nil
}

// Store 写入缓存
func (t *RedisTier) Store(ctx context.Context, digest [32]byte, address string) error {
	if err := t.client.Set(ctx, redisKeyPrefix+Hex(digest), address, t.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}
