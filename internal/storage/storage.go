package storage

import (
	"context"
	"errors"

	"ledgermail/backend/internal/domain"
)

var (
	// ErrNotFound 记录不存在
	ErrNotFound = errors.New("record not found")
	// ErrInvalidArgument 参数缺失或格式错误
	ErrInvalidArgument = errors.New("invalid argument")
)

// LocatorRepository 定义内容定位映射的持久化操作。
//
// 定位是内容地址的摘要，同一定位永远对应同一地址，重复写入是幂等的。
type LocatorRepository interface {
	SaveLocator(ctx context.Context, locator, fullAddress string) error
	GetLocator(ctx context.Context, locator string) (string, error)
}

// StatusRepository 定义邮件状态的持久化操作。
type StatusRepository interface {
	SaveStatus(ctx context.Context, owner, messageID string, status domain.Status) error
	ListStatuses(ctx context.Context, owner string) (map[string]domain.Status, error)
}

// Store 定义持久化存储服务使用的完整存储接口。
type Store interface {
	LocatorRepository
	StatusRepository

	Close() error
	Health() error
}
