package cache

import (
	"sync"
	"time"
)

// LocalCache 本地内存缓存
//
// 特点：
// - 支持 TTL 过期（ttl 为 0 表示永不过期）
// - 容量限制，超出时淘汰最早写入的条目
// - 后台定期清理过期条目，Close 后停止
type LocalCache[V any] struct {
	mu      sync.RWMutex
	data    map[string]cacheEntry[V]
	order   []string // 写入顺序，用于容量淘汰
	maxSize int
	ttl     time.Duration
	now     func() time.Time

	stopOnce sync.Once
	stop     chan struct{}
}

type cacheEntry[V any] struct {
	value     V
	expiresAt time.Time // 零值表示不过期
}

// NewLocalCache 创建本地缓存
//
// 参数:
//   - maxSize: 最大缓存条目数，<= 0 表示不限制
//   - ttl: 默认过期时间，0 表示不过期
func NewLocalCache[V any](maxSize int, ttl time.Duration) *LocalCache[V] {
	c := &LocalCache[V]{
		data:    make(map[string]cacheEntry[V]),
		maxSize: maxSize,
		ttl:     ttl,
		now:     time.Now,
		stop:    make(chan struct{}),
	}

	if ttl > 0 {
		go c.cleanupLoop(cleanupInterval(ttl))
	}

	return c
}

// Get 获取缓存值
func (c *LocalCache[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	entry, ok := c.data[key]
	c.mu.RUnlock()

	var zero V
	if !ok {
		return zero, false
	}
	if c.expired(entry) {
		c.Delete(key)
		return zero, false
	}
	return entry.value, true
}

// Set 使用默认 TTL 设置缓存值
func (c *LocalCache[V]) Set(key string, value V) {
	c.SetWithTTL(key, value, c.ttl)
}

// SetWithTTL 设置缓存值并指定过期时间
func (c *LocalCache[V]) SetWithTTL(key string, value V, ttl time.Duration) {
	entry := cacheEntry[V]{value: value}
	if ttl > 0 {
		entry.expiresAt = c.now().Add(ttl)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.data[key]; !exists {
		c.order = append(c.order, key)
	}
	c.data[key] = entry
	c.evictLocked()
}

// Delete 删除缓存值
func (c *LocalCache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deleteLocked(key)
}

// Len 当前条目数（包含尚未清理的过期条目）
func (c *LocalCache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}

// Keys 返回未过期条目的键
func (c *LocalCache[V]) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	keys := make([]string, 0, len(c.data))
	for _, key := range c.order {
		if entry, ok := c.data[key]; ok && !c.expired(entry) {
			keys = append(keys, key)
		}
	}
	return keys
}

// Clear 清空所有缓存
func (c *LocalCache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = make(map[string]cacheEntry[V])
	c.order = nil
}

// Close 停止后台清理
func (c *LocalCache[V]) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *LocalCache[V]) expired(entry cacheEntry[V]) bool {
	return !entry.expiresAt.IsZero() && c.now().After(entry.expiresAt)
}

func (c *LocalCache[V]) deleteLocked(key string) {
	if _, ok := c.data[key]; !ok {
		return
	}
	delete(c.data, key)
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

// evictLocked 超出容量时淘汰最早写入的条目
func (c *LocalCache[V]) evictLocked() {
	if c.maxSize <= 0 {
		return
	}
	for len(c.data) > c.maxSize && len(c.order) > 0 {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.data, oldest)
	}
}

// cleanupLoop 定期清理过期条目
func (c *LocalCache[V]) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.mu.Lock()
			for key, entry := range c.data {
				if c.expired(entry) {
					c.deleteLocked(key)
				}
			}
			c.mu.Unlock()
		}
	}
}

func cleanupInterval(ttl time.Duration) time.Duration {
	if ttl < time.Minute {
		return ttl
	}
	return time.Minute
}
