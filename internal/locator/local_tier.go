package locator

import (
	"context"
	"time"

	"ledgermail/backend/internal/cache"
)

// LocalTier 进程内缓存层
type LocalTier struct {
	cache *cache.LocalCache[string]
}

// NewLocalTier 创建进程内缓存层
func NewLocalTier(maxSize int, ttl time.Duration) *LocalTier {
	return &LocalTier{cache: cache.NewLocalCache[string](maxSize, ttl)}
}

// Name 返回存储层名称
func (t *LocalTier) Name() string { return "local" }

// Lookup 查询缓存
func (t *LocalTier) Lookup(_ context.Context, digest [32]byte) (string, error) {
	address, ok := t.cache.Get(Hex(digest))
	if !ok {
		return "", ErrNotFound
	}
	return address, nil
}

// Store 写入缓存
func (t *LocalTier) Store(_ context.Context, digest [32]byte, address string) error {
	t.cache.Set(Hex(digest), address)
	return nil
}

// Close 停止后台清理
func (t *LocalTier) Close() {
	t.cache.Close()
}
