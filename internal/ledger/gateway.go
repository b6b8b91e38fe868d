package ledger

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"ledgermail/backend/internal/domain"
	"ledgermail/backend/internal/monitoring"
)

// 事件扫描默认参数
const (
	DefaultScanWindow uint64 = 50_000
	DefaultScanChunk  uint64 = 5_000
)

// IndexRequest 索引一封邮件
type IndexRequest struct {
	Locator        [32]byte
	Recipient      string
	OriginalSender string
	IsExternal     bool
	HasTransfer    bool
	Payment        *big.Int // 附带的联系费用，可为 nil
}

// TransferRequest 附加一笔转账（首个资产时同时完成索引）
type TransferRequest struct {
	Locator      [32]byte
	Recipient    string
	IsExternal   bool
	TokenAddress string   // 为空表示原生币
	Amount       *big.Int // 金额或 NFT 的 tokenId
	IsNFT        bool
}

// GatewayOptions 网关配置
type GatewayOptions struct {
	ScanWindow uint64 // 事件扫描回退时向前扫描的区块数
	ScanChunk  uint64 // 单次日志查询的区块跨度
}

// Gateway 链上网关
//
// 读调用返回"没有数据"时视为空结果；写调用直接返回底层错误，由调用方决定是否重试。
// 列表顺序与链上顺序一致，不在网关内反转。
type Gateway struct {
	backend Backend
	indexed *indexedSentLister
	scanner *eventScanSentLister

	mu         sync.Mutex
	sentLister SentLister // 探测后确定的已发送列表策略

	logger  *zap.Logger
	metrics *monitoring.Metrics
}

// NewGateway 创建链上网关
func NewGateway(backend Backend, opts GatewayOptions, logger *zap.Logger) *Gateway {
	if opts.ScanWindow == 0 {
		opts.ScanWindow = DefaultScanWindow
	}
	if opts.ScanChunk == 0 {
		opts.ScanChunk = DefaultScanChunk
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Gateway{
		backend: backend,
		indexed: &indexedSentLister{backend: backend},
		scanner: &eventScanSentLister{backend: backend, window: opts.ScanWindow, chunk: opts.ScanChunk},
		logger:  logger,
	}
}

// SetMetrics 设置监控指标
func (g *Gateway) SetMetrics(metrics *monitoring.Metrics) {
	g.metrics = metrics
}

func (g *Gateway) call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	out, err := g.backend.Call(ctx, method, args...)
	g.metrics.RecordLedgerCall(method, err)
	return out, err
}

func (g *Gateway) transact(ctx context.Context, value *big.Int, method string, args ...interface{}) (WriteRef, error) {
	ref, err := g.backend.Transact(ctx, value, method, args...)
	g.metrics.RecordLedgerCall(method, err)
	if err != nil {
		g.logger.Warn("Ledger write failed",
			zap.String("method", method),
			zap.Error(err))
		return WriteRef{}, fmt.Errorf("ledger %s: %w", method, err)
	}
	return ref, nil
}

// IndexMessage 把内容定位写入链上，payment 为联系费用
func (g *Gateway) IndexMessage(ctx context.Context, req IndexRequest) (WriteRef, error) {
	return g.transact(ctx, req.Payment, methodIndexMessage,
		req.Locator, req.Recipient, req.OriginalSender, req.IsExternal, req.HasTransfer)
}

// AttachTransfer 附加一笔资产转账；原生币以交易 value 附带
func (g *Gateway) AttachTransfer(ctx context.Context, req TransferRequest) (WriteRef, error) {
	if req.Amount == nil || req.Amount.Sign() < 0 {
		return WriteRef{}, ErrInvalidAmount
	}

	token := common.Address{}
	var value *big.Int
	if req.TokenAddress == "" {
		value = req.Amount
	} else {
		if !common.IsHexAddress(req.TokenAddress) {
			return WriteRef{}, fmt.Errorf("invalid token address %q", req.TokenAddress)
		}
		token = common.HexToAddress(req.TokenAddress)
	}

	return g.transact(ctx, value, methodAttachTransfer,
		req.Locator, req.Recipient, req.IsExternal, token, req.Amount, req.IsNFT)
}

// ListInbox 返回收件箱邮件 ID，保持链上顺序
func (g *Gateway) ListInbox(ctx context.Context, identity string) ([]string, error) {
	out, err := g.call(ctx, methodGetInbox, identity)
	if err != nil {
		if IsNoData(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("list inbox: %w", err)
	}
	return idsFromOutput(out)
}

// ListSent 返回已发送邮件 ID。
//
// 首次调用时探测合约是否支持索引查询并缓存结论，不支持则改用事件扫描。
// 探测遇到暂时性错误时不缓存结论，本次使用事件扫描。
func (g *Gateway) ListSent(ctx context.Context, identity, senderAddress string) ([]string, error) {
	g.mu.Lock()
	lister := g.sentLister
	g.mu.Unlock()

	if lister != nil {
		ids, err := lister.ListSent(ctx, identity, senderAddress)
		g.metrics.RecordLedgerCall("listSent:"+lister.Name(), err)
		return ids, err
	}

	ids, err := g.indexed.detect(ctx, identity)
	g.metrics.RecordLedgerCall(methodGetSent, err)
	switch {
	case err == nil:
		g.decideSentLister(g.indexed)
		return ids, nil
	case isUnsupported(err):
		g.decideSentLister(g.scanner)
	default:
		g.logger.Warn("Indexed sent listing detection failed, scanning events for this call",
			zap.Error(err))
	}

	ids, err = g.scanner.ListSent(ctx, identity, senderAddress)
	g.metrics.RecordLedgerCall("listSent:"+g.scanner.Name(), err)
	return ids, err
}

func (g *Gateway) decideSentLister(l SentLister) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.sentLister == nil {
		g.sentLister = l
		g.logger.Info("Sent listing strategy selected", zap.String("strategy", l.Name()))
	}
}

// SentStrategy 返回已确定的已发送列表策略名称，尚未探测时为空
func (g *Gateway) SentStrategy() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.sentLister == nil {
		return ""
	}
	return g.sentLister.Name()
}

// ScanSentEvents 扫描区块区间内某发件地址的发件事件
func (g *Gateway) ScanSentEvents(ctx context.Context, senderAddress string, fromBlock, toBlock uint64) ([]string, error) {
	ids, err := g.scanner.scan(ctx, senderAddress, fromBlock, toBlock)
	g.metrics.RecordLedgerCall("scanSentEvents", err)
	return ids, err
}

// GetMessage 读取链上邮件记录
func (g *Gateway) GetMessage(ctx context.Context, id string) (*domain.Message, error) {
	n, ok := new(big.Int).SetString(id, 10)
	if !ok || n.Sign() < 0 {
		return nil, ErrInvalidMessageID
	}

	out, err := g.call(ctx, methodGetMessage, n)
	if err != nil {
		if IsNoData(err) {
			return nil, ErrMessageNotFound
		}
		return nil, fmt.Errorf("get message %s: %w", id, err)
	}
	if len(out) < 7 {
		return nil, fmt.Errorf("get message %s: unexpected output length %d", id, len(out))
	}

	msg := &domain.Message{ID: id}
	var ts *big.Int
	var okLocator, okSender, okRecipient, okExternal, okTransfer, okSpam, okTS bool
	msg.Locator, okLocator = out[0].([32]byte)
	msg.Sender, okSender = out[1].(string)
	msg.Recipient, okRecipient = out[2].(string)
	msg.IsExternal, okExternal = out[3].(bool)
	msg.HasValueTransfer, okTransfer = out[4].(bool)
	msg.IsSpam, okSpam = out[5].(bool)
	ts, okTS = out[6].(*big.Int)
	if !(okLocator && okSender && okRecipient && okExternal && okTransfer && okSpam && okTS) {
		return nil, fmt.Errorf("get message %s: unexpected output types", id)
	}
	if msg.Locator == ([32]byte{}) && msg.Sender == "" {
		return nil, ErrMessageNotFound
	}
	msg.Timestamp = time.Unix(ts.Int64(), 0).UTC()
	return msg, nil
}

// IsRecipientProvisioned 查询收件人是否已注册、钱包是否已部署
func (g *Gateway) IsRecipientProvisioned(ctx context.Context, identity string) (registered, deployed bool, err error) {
	out, err := g.call(ctx, methodIsRecipientProvisioned, identity)
	if err != nil {
		if IsNoData(err) {
			return false, false, nil
		}
		return false, false, fmt.Errorf("check provisioning: %w", err)
	}
	if len(out) < 2 {
		return false, false, fmt.Errorf("check provisioning: unexpected output length %d", len(out))
	}
	registered, _ = out[0].(bool)
	deployed, _ = out[1].(bool)
	return registered, deployed, nil
}

// GetContactFee 查询联系收件人需要支付的费用
func (g *Gateway) GetContactFee(ctx context.Context, identity string) (*big.Int, error) {
	out, err := g.call(ctx, methodGetContactFee, identity)
	if err != nil {
		if IsNoData(err) {
			return new(big.Int), nil
		}
		return nil, fmt.Errorf("get contact fee: %w", err)
	}
	return bigFromOutput(out)
}

// IsWhitelisted 查询 counterparty 是否在 identity 的白名单中
func (g *Gateway) IsWhitelisted(ctx context.Context, identity, counterparty string) (bool, error) {
	out, err := g.call(ctx, methodIsWhitelisted, identity, counterparty)
	if err != nil {
		if IsNoData(err) {
			return false, nil
		}
		return false, fmt.Errorf("check whitelist: %w", err)
	}
	if len(out) == 0 {
		return false, nil
	}
	ok, _ := out[0].(bool)
	return ok, nil
}

// DeployWallet 部署收件人钱包
func (g *Gateway) DeployWallet(ctx context.Context, identity string) (WriteRef, error) {
	return g.transact(ctx, nil, methodDeployWallet, identity)
}

// ComputeWalletAddress 计算收件人钱包地址（未部署时也可计算）
func (g *Gateway) ComputeWalletAddress(ctx context.Context, identity string) (string, error) {
	out, err := g.call(ctx, methodComputeWalletAddress, identity)
	if err != nil {
		return "", fmt.Errorf("compute wallet address: %w", err)
	}
	if len(out) == 0 {
		return "", fmt.Errorf("compute wallet address: empty output")
	}
	addr, ok := out[0].(common.Address)
	if !ok {
		return "", fmt.Errorf("compute wallet address: unexpected output %T", out[0])
	}
	return addr.Hex(), nil
}

// ResolveIdentity 反查地址对应的身份，尽力而为，查不到时返回空字符串
func (g *Gateway) ResolveIdentity(ctx context.Context, address string) (string, error) {
	if !common.IsHexAddress(address) {
		return "", nil
	}
	out, err := g.call(ctx, methodResolveIdentity, common.HexToAddress(address))
	if err != nil {
		if IsNoData(err) {
			return "", nil
		}
		return "", fmt.Errorf("resolve identity: %w", err)
	}
	if len(out) == 0 {
		return "", nil
	}
	identity, _ := out[0].(string)
	return identity, nil
}

// EnsureAllowance 确保邮件合约有足够的代币授权额度，不足时发起授权
func (g *Gateway) EnsureAllowance(ctx context.Context, token string, amount *big.Int) error {
	if !common.IsHexAddress(token) {
		return fmt.Errorf("invalid token address %q", token)
	}
	addr := common.HexToAddress(token)

	current, err := g.backend.Allowance(ctx, addr)
	g.metrics.RecordLedgerCall("allowance", err)
	if err != nil && !IsNoData(err) {
		return fmt.Errorf("check allowance: %w", err)
	}
	if current != nil && current.Cmp(amount) >= 0 {
		return nil
	}

	ref, err := g.backend.Approve(ctx, addr, amount)
	g.metrics.RecordLedgerCall("approve", err)
	if err != nil {
		return fmt.Errorf("approve allowance: %w", err)
	}
	g.logger.Info("Token allowance approved",
		zap.String("token", addr.Hex()),
		zap.String("amount", amount.String()),
		zap.String("tx", ref.TxHash))
	return nil
}

func idsFromOutput(out []interface{}) ([]string, error) {
	if len(out) == 0 {
		return []string{}, nil
	}
	raw, ok := out[0].([]*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected id list output %T", out[0])
	}
	return bigsToStrings(raw), nil
}

func bigFromOutput(out []interface{}) (*big.Int, error) {
	if len(out) == 0 {
		return new(big.Int), nil
	}
	v, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected numeric output %T", out[0])
	}
	return v, nil
}

func bigsToStrings(raw []*big.Int) []string {
	ids := make([]string, 0, len(raw))
	for _, n := range raw {
		if n != nil {
			ids = append(ids, n.String())
		}
	}
	return ids
}
