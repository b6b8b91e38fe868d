package pool

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

// ErrPoolClosed 协程池已关闭
var ErrPoolClosed = errors.New("worker pool closed")

// Task 池中执行的任务，ctx 在协程池停止时取消
type Task func(ctx context.Context)

// WorkerPool 协程池
//
// 用于限制后台任务的并发数量。Stop 之后队列中尚未执行的任务会被丢弃。
type WorkerPool struct {
	maxWorkers int
	taskQueue  chan Task
	wg         sync.WaitGroup
	log        *zap.Logger

	mu      sync.RWMutex
	closed  bool
	cancel  context.CancelFunc
	started bool
}

// NewWorkerPool 创建协程池
//
// 参数:
//   - maxWorkers: 最大协程数
//   - queueSize: 任务队列大小
func NewWorkerPool(maxWorkers, queueSize int, log *zap.Logger) *WorkerPool {
	if maxWorkers <= 0 {
		maxWorkers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &WorkerPool{
		maxWorkers: maxWorkers,
		taskQueue:  make(chan Task, queueSize),
		log:        log,
	}
}

// Start 启动协程池，重复调用无效
func (p *WorkerPool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.closed {
		return
	}
	p.started = true

	ctx, p.cancel = context.WithCancel(ctx)
	for i := 0; i < p.maxWorkers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
}

// TrySubmit 尝试提交任务
//
// 队列已满时立即返回 false，协程池关闭后返回 ErrPoolClosed
func (p *WorkerPool) TrySubmit(task Task) (bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return false, ErrPoolClosed
	}

	select {
	case p.taskQueue <- task:
		return true, nil
	default:
		return false, nil
	}
}

// Stop 停止协程池并等待正在执行的任务返回
func (p *WorkerPool) Stop() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	if p.cancel != nil {
		p.cancel()
	}
	p.mu.Unlock()

	p.wg.Wait()
}

// worker 工作协程
func (p *WorkerPool) worker(ctx context.Context) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case task := <-p.taskQueue:
			p.run(ctx, task)
		}
	}
}

// run 执行任务（捕获 panic）
func (p *WorkerPool) run(ctx context.Context, task Task) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("worker task panicked", zap.Any("panic", r))
		}
	}()
	task(ctx)
}
