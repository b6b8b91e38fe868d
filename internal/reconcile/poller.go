package reconcile

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// DefaultPollInterval 默认静默刷新间隔
const DefaultPollInterval = 10 * time.Second

// Poller 定期刷新邮箱
//
// 首次刷新使用 ModeLoud，之后按间隔以 ModeSilent 刷新；Refresh 触发一次立即的 ModeLoud 刷新。
type Poller struct {
	reconciler   *Reconciler
	owner        string
	ownerAddress string
	interval     time.Duration

	onSnapshot func(*Mailbox)
	onError    func(Mode, error)

	refresh chan struct{}
	logger  *zap.Logger
}

// NewPoller 创建轮询器，onSnapshot 接收每次成功刷新的结果
func NewPoller(reconciler *Reconciler, owner, ownerAddress string, interval time.Duration, onSnapshot func(*Mailbox), logger *zap.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poller{
		reconciler:   reconciler,
		owner:        owner,
		ownerAddress: ownerAddress,
		interval:     interval,
		onSnapshot:   onSnapshot,
		refresh:      make(chan struct{}, 1),
		logger:       logger,
	}
}

// OnError 设置刷新失败回调，默认只记录日志
func (p *Poller) OnError(fn func(Mode, error)) {
	p.onError = fn
}

// Refresh 请求一次用户触发的刷新，已有待处理请求时合并
func (p *Poller) Refresh() {
	select {
	case p.refresh <- struct{}{}:
	default:
	}
}

// Run 运行直到 ctx 取消
func (p *Poller) Run(ctx context.Context) error {
	p.poll(ctx, ModeLoud)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.refresh:
			p.poll(ctx, ModeLoud)
		case <-ticker.C:
			p.poll(ctx, ModeSilent)
		}
	}
}

func (p *Poller) poll(ctx context.Context, mode Mode) {
	mailbox, err := p.reconciler.GetMailbox(ctx, p.owner, p.ownerAddress, mode)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		p.logger.Warn("Mailbox refresh failed",
			zap.String("owner", p.owner),
			zap.String("mode", string(mode)),
			zap.Error(err))
		if p.onError != nil {
			p.onError(mode, err)
		}
		return
	}
	if p.onSnapshot != nil {
		p.onSnapshot(mailbox)
	}
}
