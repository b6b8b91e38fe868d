package ledger

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// EthConfig 以太坊兼容链后端配置
type EthConfig struct {
	ContractAddress string
	ChainID         int64
	PrivateKey      string        // 十六进制私钥，留空则只读
	CallTimeout     time.Duration // 单次 RPC 超时
}

// EthBackend 基于 go-ethereum ethclient 的单节点后端
type EthBackend struct {
	endpoint    string
	client      *ethclient.Client
	contract    common.Address
	mailABI     abi.ABI
	tokenABI    abi.ABI
	bound       *bind.BoundContract
	auth        *bind.TransactOpts
	callTimeout time.Duration
}

// DialEthBackend 连接单个 JSON-RPC 节点
func DialEthBackend(ctx context.Context, endpoint string, cfg EthConfig) (*EthBackend, error) {
	if !common.IsHexAddress(cfg.ContractAddress) {
		return nil, fmt.Errorf("invalid contract address %q", cfg.ContractAddress)
	}

	mailABI, err := abi.JSON(strings.NewReader(mailContractABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse mail contract abi: %w", err)
	}
	tokenABI, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse erc20 abi: %w", err)
	}

	client, err := ethclient.DialContext(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", endpoint, err)
	}

	b := &EthBackend{
		endpoint:    endpoint,
		client:      client,
		contract:    common.HexToAddress(cfg.ContractAddress),
		mailABI:     mailABI,
		tokenABI:    tokenABI,
		callTimeout: cfg.CallTimeout,
	}
	b.bound = bind.NewBoundContract(b.contract, mailABI, client, client, client)

	if cfg.PrivateKey != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("invalid ledger private key: %w", err)
		}
		auth, err := bind.NewKeyedTransactorWithChainID(key, big.NewInt(cfg.ChainID))
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to create transactor: %w", err)
		}
		b.auth = auth
	}

	return b, nil
}

// Endpoint 返回节点地址
func (b *EthBackend) Endpoint() string {
	return b.endpoint
}

// Close 关闭连接
func (b *EthBackend) Close() {
	b.client.Close()
}

func (b *EthBackend) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if b.callTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, b.callTimeout)
}

// Call 调用合约只读方法
func (b *EthBackend) Call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	ctx, cancel := b.withTimeout(ctx)
	defer cancel()

	var out []interface{}
	opts := &bind.CallOpts{Context: ctx}
	if b.auth != nil {
		opts.From = b.auth.From
	}
	if err := b.bound.Call(opts, &out, method, args...); err != nil {
		return nil, err
	}
	return out, nil
}

// Transact 发起合约写交易
func (b *EthBackend) Transact(ctx context.Context, value *big.Int, method string, args ...interface{}) (WriteRef, error) {
	if b.auth == nil {
		return WriteRef{}, ErrReadOnly
	}
	ctx, cancel := b.withTimeout(ctx)
	defer cancel()

	opts := *b.auth
	opts.Context = ctx
	opts.Value = value

	tx, err := b.bound.Transact(&opts, method, args...)
	if err != nil {
		return WriteRef{}, err
	}
	return WriteRef{TxHash: tx.Hash().Hex(), Endpoint: b.endpoint}, nil
}

// Allowance 查询代币授权额度
func (b *EthBackend) Allowance(ctx context.Context, token common.Address) (*big.Int, error) {
	if b.auth == nil {
		return nil, ErrReadOnly
	}
	ctx, cancel := b.withTimeout(ctx)
	defer cancel()

	var out []interface{}
	erc20 := bind.NewBoundContract(token, b.tokenABI, b.client, b.client, b.client)
	if err := erc20.Call(&bind.CallOpts{Context: ctx}, &out, "allowance", b.auth.From, b.contract); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return new(big.Int), nil
	}
	amount, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected allowance output %T", out[0])
	}
	return amount, nil
}

// Approve 授权邮件合约使用代币
func (b *EthBackend) Approve(ctx context.Context, token common.Address, amount *big.Int) (WriteRef, error) {
	if b.auth == nil {
		return WriteRef{}, ErrReadOnly
	}
	ctx, cancel := b.withTimeout(ctx)
	defer cancel()

	opts := *b.auth
	opts.Context = ctx

	erc20 := bind.NewBoundContract(token, b.tokenABI, b.client, b.client, b.client)
	tx, err := erc20.Transact(&opts, "approve", b.contract, amount)
	if err != nil {
		return WriteRef{}, err
	}
	return WriteRef{TxHash: tx.Hash().Hex(), Endpoint: b.endpoint}, nil
}

// SentEvents 扫描 MailSent 事件
func (b *EthBackend) SentEvents(ctx context.Context, sender common.Address, fromBlock, toBlock uint64) ([]*big.Int, error) {
	ctx, cancel := b.withTimeout(ctx)
	defer cancel()

	event, ok := b.mailABI.Events[eventMailSent]
	if !ok {
		return nil, fmt.Errorf("event %s missing from abi", eventMailSent)
	}

	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: []common.Address{b.contract},
		Topics: [][]common.Hash{
			{event.ID},
			nil,
			{common.BytesToHash(sender.Bytes())},
		},
	}

	logs, err := b.client.FilterLogs(ctx, query)
	if err != nil {
		return nil, err
	}

	ids := make([]*big.Int, 0, len(logs))
	for _, l := range logs {
		if l.Removed || len(l.Topics) < 2 {
			continue
		}
		ids = append(ids, l.Topics[1].Big())
	}
	return ids, nil
}

// BlockNumber 返回最新区块高度
func (b *EthBackend) BlockNumber(ctx context.Context) (uint64, error) {
	ctx, cancel := b.withTimeout(ctx)
	defer cancel()
	return b.client.BlockNumber(ctx)
}
