package claim

import (
	"context"
	"errors"
	"time"

	"ledgermail/backend/internal/domain"
)

var (
	// ErrNotFound 领取记录不存在
	ErrNotFound = errors.New("claim record not found")
	// ErrDuplicateCode 领取码已被另一条有效记录占用
	ErrDuplicateCode = errors.New("claim code already in use")
)

// Consumption 已兑换领取码的记录
type Consumption struct {
	Code       string
	Recipient  string
	ConsumedBy string
	ConsumedAt time.Time
}

// Repository 领取记录存储，负责领取码在有效记录中的唯一性
type Repository interface {
	// Insert 写入记录，领取码已存在时返回 ErrDuplicateCode
	Insert(ctx context.Context, record domain.ClaimRecord) error
	// Get 读取有效记录，不存在返回 ErrNotFound
	Get(ctx context.Context, code string) (*domain.ClaimRecord, error)
	// Exists 领取码是否被有效记录占用
	Exists(ctx context.Context, code string) (bool, error)
	// Consume 原子地删除记录并写入兑换日志，记录已不存在时返回 ErrNotFound
	Consume(ctx context.Context, code, consumedBy string, at time.Time) (*domain.ClaimRecord, error)
	// LookupConsumption 查询兑换日志，不存在返回 ErrNotFound
	LookupConsumption(ctx context.Context, code string) (*Consumption, error)
}
