package claim

import (
	"context"
	"sync"
	"time"

	"ledgermail/backend/internal/domain"
)

// MemoryRepository 内存领取记录存储
type MemoryRepository struct {
	mu       sync.RWMutex
	records  map[string]domain.ClaimRecord
	consumed map[string]Consumption
}

// NewMemoryRepository 创建内存存储
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		records:  make(map[string]domain.ClaimRecord),
		consumed: make(map[string]Consumption),
	}
}

// Insert 写入记录
func (r *MemoryRepository) Insert(_ context.Context, record domain.ClaimRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[record.Code]; ok {
		return ErrDuplicateCode
	}
	record.Assets = append([]domain.Asset(nil), record.Assets...)
	r.records[record.Code] = record
	// 同一领取码重新发放后，旧的兑换日志不再适用
	delete(r.consumed, record.Code)
	return nil
}

// Get 读取有效记录
func (r *MemoryRepository) Get(_ context.Context, code string) (*domain.ClaimRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	record, ok := r.records[code]
	if !ok {
		return nil, ErrNotFound
	}
	return &record, nil
}

// Exists 领取码是否被占用
func (r *MemoryRepository) Exists(_ context.Context, code string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.records[code]
	return ok, nil
}

// Consume 删除记录并写入兑换日志
func (r *MemoryRepository) Consume(_ context.Context, code, consumedBy string, at time.Time) (*domain.ClaimRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.records[code]
	if !ok {
		return nil, ErrNotFound
	}
	delete(r.records, code)
	r.consumed[code] = Consumption{
		Code:       code,
		Recipient:  record.Recipient,
		ConsumedBy: consumedBy,
		ConsumedAt: at,
	}
	return &record, nil
}

// LookupConsumption 查询兑换日志
func (r *MemoryRepository) LookupConsumption(_ context.Context, code string) (*Consumption, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.consumed[code]
	if !ok {
		return nil, ErrNotFound
	}
	return &c, nil
}

// Len 有效记录数量
func (r *MemoryRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}
