package locator

import (
	"context"
	"errors"
)

var (
	// ErrNotFound 该存储层没有此摘要的映射
	ErrNotFound = errors.New("locator mapping not found")
	// ErrNotRecorded 所有存储层都写入失败
	ErrNotRecorded = errors.New("locator mapping not recorded in any tier")
)

// Tier 定位映射的一个存储层
type Tier interface {
	// Name 返回存储层名称，用于日志与解析来源
	Name() string
	// Lookup 查询摘要对应的完整内容地址，未命中返回 ErrNotFound
	Lookup(ctx context.Context, digest [32]byte) (string, error)
	// Store 写入映射
	Store(ctx context.Context, digest [32]byte, address string) error
}
