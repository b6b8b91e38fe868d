package status

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"ledgermail/backend/internal/domain"
)

// enqueue 把同步意图交给后台协程池，队列已满或已关闭时丢弃
func (s *Store) enqueue(owner, id, intentID string) {
	if s.syncer == nil {
		return
	}

	ok, err := s.syncer.TrySubmit(func(ctx context.Context) {
		s.push(ctx, owner, id, intentID)
	})
	if err != nil || !ok {
		s.metrics.RecordStatusSyncDropped()
		s.logger.Warn("Status sync intent dropped",
			zap.String("owner", owner),
			zap.String("id", id),
			zap.String("intent", intentID),
			zap.Error(err))
	}
}

// push 推送到远程，失败时指数退避重试。
//
// 每次尝试都推送缓存中的当前状态；意图已被更新的意图取代时直接退出，由新意图负责推送。
func (s *Store) push(ctx context.Context, owner, id, intentID string) {
	var err error
	for attempt := 0; attempt < s.opts.SyncRetries; attempt++ {
		if attempt > 0 {
			delay := s.opts.RetryDelay * time.Duration(1<<(attempt-1))
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
		}

		var done bool
		done, err = s.pushOnce(ctx, owner, id, intentID)
		if done {
			return
		}
	}

	s.metrics.RecordStatusSyncFailure()
	s.logger.Warn("Status sync failed",
		zap.String("owner", owner),
		zap.String("id", id),
		zap.String("intent", intentID),
		zap.Int("attempts", s.opts.SyncRetries),
		zap.Error(err))
}

// pushOnce 在键锁内推送一次，返回是否无需再重试
func (s *Store) pushOnce(ctx context.Context, owner, id, intentID string) (bool, error) {
	lock := s.keyLock(owner, id)
	lock.Lock()
	defer lock.Unlock()

	st, latest := s.latest(owner, id, intentID)
	if !latest {
		return true, nil
	}
	if err := s.remote.Push(ctx, owner, id, st); err != nil {
		return false, err
	}
	s.clearPending(owner, id, intentID)
	return true, nil
}

// latest 返回当前缓存状态，以及 intentID 是否仍是该键最近的同步意图
func (s *Store) latest(owner, id, intentID string) (domain.Status, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.pending[owner][id] != intentID {
		return domain.Status{}, false
	}
	return s.data[owner][id].Clone(), true
}

func (s *Store) keyLock(owner, id string) *sync.Mutex {
	key := owner + "/" + id
	s.keyMu.Lock()
	defer s.keyMu.Unlock()
	lock, ok := s.keyLocks[key]
	if !ok {
		lock = &sync.Mutex{}
		s.keyLocks[key] = lock
	}
	return lock
}
