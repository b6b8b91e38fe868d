package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Endpoint 一个命名的后端节点
type Endpoint struct {
	Name    string
	Backend Backend
}

// PoolOptions 节点池配置
type PoolOptions struct {
	ReadRetries int           // 每个节点上的读重试次数，默认 1（不重试）
	RetryDelay  time.Duration // 重试基础间隔（指数退避），默认 250ms
	RateLimit   float64       // 每秒读调用上限，<= 0 表示不限速
}

// EndpointPool 一组等价 RPC 节点
//
// 读调用按顺序在节点之间回退，每次尝试前经过限速器；"没有数据"类错误是确定性的，
// 直接返回不再换节点。写调用只发往第一个节点，且只发一次。
type EndpointPool struct {
	endpoints []Endpoint
	opts      PoolOptions
	limiter   *rate.Limiter
	logger    *zap.Logger
}

// NewEndpointPool 创建节点池
func NewEndpointPool(endpoints []Endpoint, opts PoolOptions, logger *zap.Logger) (*EndpointPool, error) {
	if len(endpoints) == 0 {
		return nil, ErrNoEndpoints
	}
	if opts.ReadRetries <= 0 {
		opts.ReadRetries = 1
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 250 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	p := &EndpointPool{
		endpoints: endpoints,
		opts:      opts,
		logger:    logger,
	}
	if opts.RateLimit > 0 {
		burst := int(opts.RateLimit)
		if burst < 1 {
			burst = 1
		}
		p.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}
	return p, nil
}

// read 在节点之间回退执行读操作
func (p *EndpointPool) read(ctx context.Context, op string, fn func(Backend) error) error {
	var lastErr error
	attempt := 0

	for _, ep := range p.endpoints {
		for try := 0; try < p.opts.ReadRetries; try++ {
			if attempt > 0 {
				delay := p.opts.RetryDelay * time.Duration(1<<min(attempt-1, 6))
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(delay):
				}
			}
			attempt++

			if p.limiter != nil {
				if err := p.limiter.Wait(ctx); err != nil {
					return err
				}
			}

			err := fn(ep.Backend)
			if err == nil || IsNoData(err) || errors.Is(err, ErrReadOnly) {
				return err
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}

			lastErr = err
			p.logger.Debug("Ledger read failed",
				zap.String("op", op),
				zap.String("endpoint", ep.Name),
				zap.Int("attempt", attempt),
				zap.Error(err))
		}
	}

	return fmt.Errorf("ledger %s failed on all endpoints: %w", op, lastErr)
}

// primary 写调用使用的节点
func (p *EndpointPool) primary() Endpoint {
	return p.endpoints[0]
}

// Call 调用只读方法
func (p *EndpointPool) Call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	var out []interface{}
	err := p.read(ctx, method, func(b Backend) error {
		var err error
		out, err = b.Call(ctx, method, args...)
		return err
	})
	return out, err
}

// Transact 发起写交易，不重试
func (p *EndpointPool) Transact(ctx context.Context, value *big.Int, method string, args ...interface{}) (WriteRef, error) {
	ep := p.primary()
	ref, err := ep.Backend.Transact(ctx, value, method, args...)
	if err != nil {
		return WriteRef{}, err
	}
	if ref.Endpoint == "" {
		ref.Endpoint = ep.Name
	}
	return ref, nil
}

// Allowance 查询代币授权额度
func (p *EndpointPool) Allowance(ctx context.Context, token common.Address) (*big.Int, error) {
	var out *big.Int
	err := p.read(ctx, "allowance", func(b Backend) error {
		var err error
		out, err = b.Allowance(ctx, token)
		return err
	})
	return out, err
}

// Approve 授权代币，不重试
func (p *EndpointPool) Approve(ctx context.Context, token common.Address, amount *big.Int) (WriteRef, error) {
	ep := p.primary()
	ref, err := ep.Backend.Approve(ctx, token, amount)
	if err != nil {
		return WriteRef{}, err
	}
	if ref.Endpoint == "" {
		ref.Endpoint = ep.Name
	}
	return ref, nil
}

// SentEvents 扫描发件事件
func (p *EndpointPool) SentEvents(ctx context.Context, sender common.Address, fromBlock, toBlock uint64) ([]*big.Int, error) {
	var out []*big.Int
	err := p.read(ctx, "sentEvents", func(b Backend) error {
		var err error
		out, err = b.SentEvents(ctx, sender, fromBlock, toBlock)
		return err
	})
	return out, err
}

// BlockNumber 返回最新区块高度
func (p *EndpointPool) BlockNumber(ctx context.Context) (uint64, error) {
	var out uint64
	err := p.read(ctx, "blockNumber", func(b Backend) error {
		var err error
		out, err = b.BlockNumber(ctx)
		return err
	})
	return out, err
}
