package ledger

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEndpointPool_NoEndpoints(t *testing.T) {
	_, err := NewEndpointPool(nil, PoolOptions{}, nil)
	assert.ErrorIs(t, err, ErrNoEndpoints)
}

func TestEndpointPool_ReadFallback(t *testing.T) {
	ctx := context.Background()

	t.Run("首个节点失败时回退", func(t *testing.T) {
		primary, secondary := newFakeBackend(), newFakeBackend()
		primary.fail(methodGetInbox, errors.New("502 bad gateway"))
		secondary.respond(methodGetInbox, bigs(1))

		p, err := NewEndpointPool([]Endpoint{
			{Name: "a", Backend: primary},
			{Name: "b", Backend: secondary},
		}, PoolOptions{ReadRetries: 2, RetryDelay: time.Millisecond}, nil)
		require.NoError(t, err)

		out, err := p.Call(ctx, methodGetInbox, "alice")
		require.NoError(t, err)
		assert.Equal(t, bigs(1), out[0])
		assert.Equal(t, 2, primary.callCount(methodGetInbox))
		assert.Equal(t, 1, secondary.callCount(methodGetInbox))
	})

	t.Run("没有数据不换节点", func(t *testing.T) {
		primary, secondary := newFakeBackend(), newFakeBackend()

		p, err := NewEndpointPool([]Endpoint{
			{Name: "a", Backend: primary},
			{Name: "b", Backend: secondary},
		}, PoolOptions{ReadRetries: 3, RetryDelay: time.Millisecond}, nil)
		require.NoError(t, err)

		_, err = p.Call(ctx, methodGetInbox, "nobody")
		assert.True(t, IsNoData(err))
		assert.Equal(t, 1, primary.callCount(methodGetInbox))
		assert.Equal(t, 0, secondary.callCount(methodGetInbox))
	})

	t.Run("所有节点失败", func(t *testing.T) {
		primary, secondary := newFakeBackend(), newFakeBackend()
		primary.fail("blockNumber", errors.New("timeout"))
		secondary.fail("blockNumber", errors.New("timeout"))

		p, err := NewEndpointPool([]Endpoint{
			{Name: "a", Backend: primary},
			{Name: "b", Backend: secondary},
		}, PoolOptions{RetryDelay: time.Millisecond}, nil)
		require.NoError(t, err)

		_, err = p.BlockNumber(ctx)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "all endpoints")
	})

	t.Run("上下文取消时停止重试", func(t *testing.T) {
		primary := newFakeBackend()
		primary.fail(methodGetInbox, errors.New("timeout"))

		p, err := NewEndpointPool([]Endpoint{{Name: "a", Backend: primary}},
			PoolOptions{ReadRetries: 5, RetryDelay: time.Hour}, nil)
		require.NoError(t, err)

		cctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
		defer cancel()
		_, err = p.Call(cctx, methodGetInbox, "alice")
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Equal(t, 1, primary.callCount(methodGetInbox))
	})
}

func TestEndpointPool_WritesUsePrimaryOnce(t *testing.T) {
	primary, secondary := newFakeBackend(), newFakeBackend()
	primary.txErr = errors.New("connection reset")

	p, err := NewEndpointPool([]Endpoint{
		{Name: "a", Backend: primary},
		{Name: "b", Backend: secondary},
	}, PoolOptions{ReadRetries: 3}, nil)
	require.NoError(t, err)

	_, err = p.Transact(context.Background(), big.NewInt(1), methodIndexMessage)
	assert.Error(t, err)
	assert.Equal(t, 1, primary.callCount(methodIndexMessage))
	assert.Equal(t, 0, secondary.callCount(methodIndexMessage))

	primary.txErr = nil
	ref, err := p.Transact(context.Background(), nil, methodDeployWallet, "bob")
	require.NoError(t, err)
	assert.Equal(t, "a", ref.Endpoint)
}

func TestEndpointPool_RateLimit(t *testing.T) {
	b := newFakeBackend()
	b.respond(methodGetContactFee, big.NewInt(1))

	p, err := NewEndpointPool([]Endpoint{{Name: "a", Backend: b}}, PoolOptions{RateLimit: 20}, nil)
	require.NoError(t, err)

	start := time.Now()
	for i := 0; i < 25; i++ {
		_, err := p.Call(context.Background(), methodGetContactFee, "bob")
		require.NoError(t, err)
	}
	// 突发 20 次后，剩余 5 次按每秒 20 次放行
	assert.GreaterOrEqual(t, time.Since(start), 200*time.Millisecond)
}
