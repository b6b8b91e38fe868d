package status

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"ledgermail/backend/internal/domain"
	"ledgermail/backend/internal/monitoring"
	"ledgermail/backend/internal/pool"
)

// DefaultRetention 已删除邮件的默认保留期
const DefaultRetention = 30 * 24 * time.Hour

// ErrOwnerRequired 缺少邮箱所有者
var ErrOwnerRequired = errors.New("status owner is required")

// Remote 远程状态存储
type Remote interface {
	// Fetch 读取某个所有者的全部状态，键为邮件 ID
	Fetch(ctx context.Context, owner string) (map[string]domain.Status, error)
	// Push 写入单封邮件的状态
	Push(ctx context.Context, owner, id string, status domain.Status) error
}

// Options 状态存储配置
type Options struct {
	SyncWorkers int           // 同步协程数，默认 2
	SyncQueue   int           // 同步队列长度，默认 256
	SyncRetries int           // 单条同步最大重试次数，默认 3
	RetryDelay  time.Duration // 重试基础间隔，默认 500ms
	Retention   time.Duration // 保留期，默认 30 天
}

// Store 状态存储
//
// 本地缓存是会话内的权威数据：写入立即生效，随后生成同步意图交给后台协程池推送到远程。
// 同步失败只记录日志；关闭时队列中未执行的意图直接丢弃。
type Store struct {
	mu          sync.RWMutex
	data        map[string]map[string]domain.Status // owner -> id -> status
	pending     map[string]map[string]string        // owner -> id -> 最近一次未确认的同步意图 ID
	initialized map[string]bool

	keyMu    sync.Mutex
	keyLocks map[string]*sync.Mutex // owner/id -> 推送锁，同一键的推送串行执行

	remote  Remote
	syncer  *pool.WorkerPool
	opts    Options
	now     func() time.Time
	logger  *zap.Logger
	metrics *monitoring.Metrics
}

// NewStore 创建状态存储，remote 为 nil 时只使用本地缓存
func NewStore(remote Remote, opts Options, logger *zap.Logger) *Store {
	if opts.SyncWorkers <= 0 {
		opts.SyncWorkers = 2
	}
	if opts.SyncQueue <= 0 {
		opts.SyncQueue = 256
	}
	if opts.SyncRetries <= 0 {
		opts.SyncRetries = 3
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 500 * time.Millisecond
	}
	if opts.Retention <= 0 {
		opts.Retention = DefaultRetention
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Store{
		data:        make(map[string]map[string]domain.Status),
		pending:     make(map[string]map[string]string),
		initialized: make(map[string]bool),
		keyLocks:    make(map[string]*sync.Mutex),
		remote:      remote,
		opts:        opts,
		now:         time.Now,
		logger:      logger,
	}
	if remote != nil {
		s.syncer = pool.NewWorkerPool(opts.SyncWorkers, opts.SyncQueue, logger)
	}
	return s
}

// SetMetrics 设置监控指标
func (s *Store) SetMetrics(metrics *monitoring.Metrics) {
	s.metrics = metrics
}

// Start 启动后台同步
func (s *Store) Start(ctx context.Context) {
	if s.syncer != nil {
		s.syncer.Start(ctx)
	}
}

// Close 停止后台同步，未执行的同步意图被丢弃
func (s *Store) Close() {
	if s.syncer != nil {
		s.syncer.Stop()
	}
}

// Get 返回邮件状态，不存在时返回全 false 的默认值
func (s *Store) Get(owner, id string) domain.Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data[owner][id].Clone()
}

// Snapshot 返回某个所有者全部状态的拷贝
func (s *Store) Snapshot(owner string) map[string]domain.Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]domain.Status, len(s.data[owner]))
	for id, st := range s.data[owner] {
		out[id] = st.Clone()
	}
	return out
}

// Update 应用状态补丁并返回新状态。
//
// 本地立即生效，远程同步在后台进行。同一键上的并发更新以最后一次为准。
func (s *Store) Update(owner, id string, patch domain.StatusPatch) domain.Status {
	s.mu.Lock()
	current := s.data[owner][id]
	if current.Purged {
		s.mu.Unlock()
		return current.Clone()
	}
	next := current.Apply(patch, s.now())
	s.put(owner, id, next)
	intentID := s.markPending(owner, id)
	s.mu.Unlock()

	s.enqueue(owner, id, intentID)
	return next.Clone()
}

// Initialize 从远程加载某个所有者的状态。
//
// 每个会话只加载一次，force 为 true 时强制重新加载。尚未同步成功的本地修改优先于远程数据。
func (s *Store) Initialize(ctx context.Context, owner string, force bool) error {
	if owner == "" {
		return ErrOwnerRequired
	}

	s.mu.RLock()
	done := s.initialized[owner]
	s.mu.RUnlock()
	if done && !force {
		return nil
	}

	if s.remote == nil {
		s.mu.Lock()
		s.initialized[owner] = true
		s.mu.Unlock()
		return nil
	}

	remote, err := s.remote.Fetch(ctx, owner)
	if err != nil {
		return fmt.Errorf("failed to load statuses: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, st := range remote {
		if _, dirty := s.pending[owner][id]; dirty {
			continue
		}
		s.put(owner, id, st.Clone())
	}
	s.initialized[owner] = true

	s.logger.Debug("Statuses loaded",
		zap.String("owner", owner),
		zap.Int("count", len(remote)))
	return nil
}

// Cleanup 清理超过保留期的已删除邮件，标记为 purged，返回清理数量
//
// purged 只影响展示，不会删除链上记录。
func (s *Store) Cleanup(owner string) int {
	now := s.now()

	type purge struct {
		id       string
		intentID string
	}
	var purged []purge

	s.mu.Lock()
	for id, st := range s.data[owner] {
		if !st.ShouldPurge(now, s.opts.Retention) {
			continue
		}
		st = st.Clone()
		st.Purged = true
		s.put(owner, id, st)
		purged = append(purged, purge{id: id, intentID: s.markPending(owner, id)})
	}
	s.mu.Unlock()

	for _, p := range purged {
		s.enqueue(owner, p.id, p.intentID)
	}

	if len(purged) > 0 {
		s.logger.Info("Purged expired deleted messages",
			zap.String("owner", owner),
			zap.Int("count", len(purged)))
	}
	return len(purged)
}

// put 写入缓存，调用方持有写锁
func (s *Store) put(owner, id string, st domain.Status) {
	byID, ok := s.data[owner]
	if !ok {
		byID = make(map[string]domain.Status)
		s.data[owner] = byID
	}
	byID[id] = st
}

// markPending 记录未确认的同步意图，调用方持有写锁
func (s *Store) markPending(owner, id string) string {
	if s.remote == nil {
		return ""
	}
	intentID := uuid.New().String()
	byID, ok := s.pending[owner]
	if !ok {
		byID = make(map[string]string)
		s.pending[owner] = byID
	}
	byID[id] = intentID
	return intentID
}

// clearPending 同步成功后清除标记，仅当标记仍是该意图时清除
func (s *Store) clearPending(owner, id, intentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending[owner][id] == intentID {
		delete(s.pending[owner], id)
	}
}

// WaitSynced 等待 owner 的同步意图全部确认，ctx 结束时返回 false
func (s *Store) WaitSynced(ctx context.Context, owner string) bool {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for {
		s.mu.RLock()
		n := len(s.pending[owner])
		s.mu.RUnlock()
		if n == 0 {
			return true
		}

		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}
