package memory

import (
	"context"
	"strings"
	"sync"

	"ledgermail/backend/internal/domain"
	"ledgermail/backend/internal/storage"
)

// Store 内存存储实现，用于开发环境和测试
type Store struct {
	mu       sync.RWMutex
	locators map[string]string
	statuses map[string]map[string]domain.Status
}

// NewStore 创建内存存储
func NewStore() *Store {
	return &Store{
		locators: make(map[string]string),
		statuses: make(map[string]map[string]domain.Status),
	}
}

// SaveLocator 保存定位映射
func (s *Store) SaveLocator(_ context.Context, locator, fullAddress string) error {
	if locator == "" || fullAddress == "" {
		return storage.ErrInvalidArgument
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.locators[strings.ToLower(locator)] = fullAddress
	return nil
}

// GetLocator 查询定位映射
func (s *Store) GetLocator(_ context.Context, locator string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	addr, ok := s.locators[strings.ToLower(locator)]
	if !ok {
		return "", storage.ErrNotFound
	}
	return addr, nil
}

// SaveStatus 保存单封邮件状态，后写入者覆盖
func (s *Store) SaveStatus(_ context.Context, owner, messageID string, status domain.Status) error {
	if owner == "" || messageID == "" {
		return storage.ErrInvalidArgument
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	byID, ok := s.statuses[owner]
	if !ok {
		byID = make(map[string]domain.Status)
		s.statuses[owner] = byID
	}
	byID[messageID] = status.Clone()
	return nil
}

// ListStatuses 返回 owner 的全部状态，没有记录时返回空 map
func (s *Store) ListStatuses(_ context.Context, owner string) (map[string]domain.Status, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]domain.Status, len(s.statuses[owner]))
	for id, st := range s.statuses[owner] {
		out[id] = st.Clone()
	}
	return out, nil
}

// Close 关闭存储
func (s *Store) Close() error {
	return nil
}

// Health 健康检查
func (s *Store) Health() error {
	return nil
}
