package ledger

import (
	"context"
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// transaction 记录一次写调用
type transaction struct {
	method string
	value  *big.Int
	args   []interface{}
}

// fakeBackend 可编程的内存后端
type fakeBackend struct {
	mu sync.Mutex

	responses map[string][]interface{}
	errors    map[string]error
	calls     map[string]int

	txs    []transaction
	txErr  error
	events map[uint64][]*big.Int // 区块 -> 事件中的邮件 ID
	head   uint64
	ranges [][2]uint64

	allowance *big.Int
	approvals []*big.Int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		responses: make(map[string][]interface{}),
		errors:    make(map[string]error),
		calls:     make(map[string]int),
		events:    make(map[uint64][]*big.Int),
	}
}

func (f *fakeBackend) respond(method string, out ...interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[method] = out
	delete(f.errors, method)
}

func (f *fakeBackend) fail(method string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors[method] = err
}

func (f *fakeBackend) callCount(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

func (f *fakeBackend) Call(_ context.Context, method string, _ ...interface{}) ([]interface{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[method]++
	if err, ok := f.errors[method]; ok {
		return nil, err
	}
	out, ok := f.responses[method]
	if !ok {
		return nil, errors.New("execution reverted")
	}
	return out, nil
}

func (f *fakeBackend) Transact(_ context.Context, value *big.Int, method string, args ...interface{}) (WriteRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[method]++
	if f.txErr != nil {
		return WriteRef{}, f.txErr
	}
	f.txs = append(f.txs, transaction{method: method, value: value, args: args})
	return WriteRef{TxHash: "0xtx"}, nil
}

func (f *fakeBackend) Allowance(context.Context, common.Address) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["allowance"]++
	if f.allowance == nil {
		return new(big.Int), nil
	}
	return f.allowance, nil
}

func (f *fakeBackend) Approve(_ context.Context, _ common.Address, amount *big.Int) (WriteRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.approvals = append(f.approvals, amount)
	return WriteRef{TxHash: "0xapprove"}, nil
}

func (f *fakeBackend) SentEvents(_ context.Context, _ common.Address, fromBlock, toBlock uint64) ([]*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["sentEvents"]++
	if err, ok := f.errors["sentEvents"]; ok {
		return nil, err
	}
	f.ranges = append(f.ranges, [2]uint64{fromBlock, toBlock})
	var out []*big.Int
	for b := fromBlock; b <= toBlock; b++ {
		out = append(out, f.events[b]...)
	}
	return out, nil
}

func (f *fakeBackend) BlockNumber(context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["blockNumber"]++
	if err, ok := f.errors["blockNumber"]; ok {
		return 0, err
	}
	return f.head, nil
}

func bigs(values ...int64) []*big.Int {
	out := make([]*big.Int, len(values))
	for i, v := range values {
		out[i] = big.NewInt(v)
	}
	return out
}
