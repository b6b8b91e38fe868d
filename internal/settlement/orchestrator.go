package settlement

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"go.uber.org/zap"

	"ledgermail/backend/internal/bridge"
	"ledgermail/backend/internal/domain"
	"ledgermail/backend/internal/ledger"
	"ledgermail/backend/internal/locator"
	"ledgermail/backend/internal/monitoring"
)

// Ledger 发送所需的链上操作
type Ledger interface {
	IsRecipientProvisioned(ctx context.Context, identity string) (registered, deployed bool, err error)
	IsWhitelisted(ctx context.Context, identity, counterparty string) (bool, error)
	GetContactFee(ctx context.Context, identity string) (*big.Int, error)
	EnsureAllowance(ctx context.Context, token string, amount *big.Int) error
	IndexMessage(ctx context.Context, req ledger.IndexRequest) (ledger.WriteRef, error)
	AttachTransfer(ctx context.Context, req ledger.TransferRequest) (ledger.WriteRef, error)
}

// ContentStore 内容存储
type ContentStore interface {
	PutRecord(ctx context.Context, record *domain.ContentRecord) (string, error)
}

// LocatorRecorder 记录内容定位映射
type LocatorRecorder interface {
	Record(ctx context.Context, digest [32]byte, address string) error
}

// ClaimCodes 领取码注册表
type ClaimCodes interface {
	Generate(ctx context.Context) (string, error)
	Release(code string)
	Store(ctx context.Context, record domain.ClaimRecord) bool
}

// Options 发送配置
type Options struct {
	NativeDomain string // 原生命名空间域名，其他域名的地址走传统邮件桥接
	ClaimBaseURL string // 领取页面地址
}

// Orchestrator 发送与结算编排
type Orchestrator struct {
	ledger   Ledger
	content  ContentStore
	locators LocatorRecorder
	claims   ClaimCodes
	bridge   bridge.Sink
	opts     Options

	now     func() time.Time
	logger  *zap.Logger
	metrics *monitoring.Metrics
}

// NewOrchestrator 创建发送编排器，sink 为 nil 时不做桥接
func NewOrchestrator(
	ledger Ledger,
	content ContentStore,
	locators LocatorRecorder,
	claims ClaimCodes,
	sink bridge.Sink,
	opts Options,
	logger *zap.Logger,
) *Orchestrator {
	if sink == nil {
		sink = bridge.NoopSink{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		ledger:   ledger,
		content:  content,
		locators: locators,
		claims:   claims,
		bridge:   sink,
		opts:     opts,
		now:      time.Now,
		logger:   logger,
	}
}

// SetMetrics 设置监控指标
func (o *Orchestrator) SetMetrics(metrics *monitoring.Metrics) {
	o.metrics = metrics
}

// plannedTransfer 预先解析好的转账参数
type plannedTransfer struct {
	asset  domain.Asset
	token  string
	amount *big.Int
	isNFT  bool
}

// Send 发送一封邮件
//
// 前置条件失败时不产生任何副作用。内容写入之后的失败体现在返回的 SendResult 中；
// 单收件人发送失败时同时返回错误，群发只统计不返回错误。
func (o *Orchestrator) Send(ctx context.Context, req SendRequest) (*SendResult, error) {
	req.Recipients = normalizeRecipients(req.Recipients)

	transfers, err := o.precheck(req)
	if err != nil {
		o.metrics.RecordSend("rejected")
		return nil, err
	}

	var result *SendResult
	if len(transfers) > 0 {
		result, err = o.sendWithTransfer(ctx, req, transfers)
	} else {
		result, err = o.sendPlain(ctx, req)
	}

	if result != nil {
		o.metrics.RecordSend(result.Outcome())
	} else {
		o.metrics.RecordSend("failed")
	}
	return result, err
}

// precheck 校验前置条件并解析资产
func (o *Orchestrator) precheck(req SendRequest) ([]plannedTransfer, error) {
	if len(req.Recipients) == 0 {
		return nil, ErrNoRecipients
	}
	if len(req.Assets) > 0 && len(req.Recipients) > 1 {
		return nil, ErrMultiRecipientTransfer
	}
	if strings.TrimSpace(req.Body) == "" && strings.TrimSpace(req.HTMLBody) == "" {
		return nil, ErrEmptyBody
	}

	transfers := make([]plannedTransfer, 0, len(req.Assets))
	for i, asset := range req.Assets {
		token, amount, isNFT, err := ledger.TransferFromAsset(asset)
		if err != nil {
			return nil, fmt.Errorf("%w at position %d: %v", ErrInvalidAsset, i, err)
		}
		transfers = append(transfers, plannedTransfer{asset: asset, token: token, amount: amount, isNFT: isNFT})
	}
	return transfers, nil
}

// sendWithTransfer 附带资产的单收件人发送
func (o *Orchestrator) sendWithTransfer(ctx context.Context, req SendRequest, transfers []plannedTransfer) (*SendResult, error) {
	recipient := req.Recipients[0]
	external := o.isExternal(recipient)

	registered, deployed, err := o.ledger.IsRecipientProvisioned(ctx, recipient)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrRecipientValidation, recipient, err)
	}
	isDirect := registered && deployed

	var code string
	if !isDirect {
		code, err = o.claims.Generate(ctx)
		if err != nil {
			return nil, fmt.Errorf("generate claim code: %w", err)
		}
	}

	release := func() {
		if code != "" {
			o.claims.Release(code)
		}
	}

	record := o.compose(req, isDirect, code)
	address, digest, err := o.persist(ctx, record)
	if err != nil {
		release()
		return nil, err
	}

	result := &SendResult{
		IsDirect:       isDirect,
		ClaimCode:      code,
		ContentAddress: address,
		Locator:        digest,
	}

	primary := transfers[0]
	ref, err := o.transfer(ctx, digest, recipient, external, primary)
	if err != nil {
		release()
		result.ClaimCode = ""
		o.metrics.RecordRecipient(false)
		result.record(RecipientResult{Recipient: recipient, IsExternal: external, Err: err})
		return result, fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	o.metrics.RecordRecipient(true)
	rr := RecipientResult{Recipient: recipient, IsExternal: external, Write: &ref}

	delivered := []domain.Asset{primary.asset}
	for _, extra := range transfers[1:] {
		if _, err := o.transfer(ctx, digest, recipient, external, extra); err != nil {
			o.metrics.RecordAssetFailure()
			o.logger.Warn("Additional asset transfer failed",
				zap.String("recipient", recipient),
				zap.String("asset", extra.asset.Label()),
				zap.Error(err))
			result.AssetFailures = append(result.AssetFailures, AssetFailure{Asset: extra.asset, Err: err})
			continue
		}
		delivered = append(delivered, extra.asset)
	}

	if code != "" {
		result.ClaimStored = o.claims.Store(ctx, domain.ClaimRecord{
			Code:                   code,
			TxRef:                  ref.TxHash,
			Recipient:              recipient,
			Sender:                 req.Sender,
			Assets:                 delivered,
			CreatedAt:              o.now().UTC(),
			IsRegisteredAtSendTime: registered,
			IsDirectTransfer:       false,
		})
	}

	// 外部收件人只能通过传统邮件拿到领取码
	if external {
		rr.Bridged, rr.BridgeErr = o.handoff(ctx, req.Sender, record, recipient, ref.TxHash)
	}
	result.record(rr)

	o.logger.Info("Value transfer sent",
		zap.String("recipient", recipient),
		zap.Bool("direct", isDirect),
		zap.Int("assets", len(delivered)),
		zap.Int("assetFailures", len(result.AssetFailures)),
		zap.String("tx", ref.TxHash))

	return result, nil
}

// transfer 发起一笔资产转账，同质化代币先确保授权额度
func (o *Orchestrator) transfer(ctx context.Context, digest [32]byte, recipient string, external bool, t plannedTransfer) (ledger.WriteRef, error) {
	if t.token != "" && !t.isNFT {
		if err := o.ledger.EnsureAllowance(ctx, t.token, t.amount); err != nil {
			return ledger.WriteRef{}, err
		}
	}
	return o.ledger.AttachTransfer(ctx, ledger.TransferRequest{
		Locator:      digest,
		Recipient:    recipient,
		IsExternal:   external,
		TokenAddress: t.token,
		Amount:       t.amount,
		IsNFT:        t.isNFT,
	})
}

// sendPlain 不带资产的发送，每个收件人独立处理
func (o *Orchestrator) sendPlain(ctx context.Context, req SendRequest) (*SendResult, error) {
	record := o.compose(req, false, "")
	address, digest, err := o.persist(ctx, record)
	if err != nil {
		return nil, err
	}

	result := &SendResult{
		ContentAddress: address,
		Locator:        digest,
	}

	for _, recipient := range req.Recipients {
		rr := o.sendOne(ctx, req, record, digest, recipient)
		o.metrics.RecordRecipient(rr.OK())
		result.record(rr)
	}

	if len(req.Recipients) == 1 && !result.Recipients[0].OK() {
		return result, result.Recipients[0].Err
	}
	return result, nil
}

// sendOne 向单个收件人索引邮件，外部收件人再交给桥接
func (o *Orchestrator) sendOne(ctx context.Context, req SendRequest, record *domain.ContentRecord, digest [32]byte, recipient string) RecipientResult {
	rr := RecipientResult{Recipient: recipient, IsExternal: o.isExternal(recipient)}

	payment := new(big.Int)
	if !rr.IsExternal {
		var err error
		payment, err = o.requiredPayment(ctx, recipient, req.Sender)
		if err != nil {
			rr.Err = fmt.Errorf("%w: %s: %v", ErrRecipientValidation, recipient, err)
			o.logger.Warn("Recipient validation failed",
				zap.String("recipient", recipient),
				zap.Error(err))
			return rr
		}
	}
	rr.Payment = payment

	ref, err := o.ledger.IndexMessage(ctx, ledger.IndexRequest{
		Locator:        digest,
		Recipient:      recipient,
		OriginalSender: req.Sender,
		IsExternal:     rr.IsExternal,
		HasTransfer:    false,
		Payment:        payment,
	})
	if err != nil {
		rr.Err = fmt.Errorf("%w: %s: %v", ErrIndexFailed, recipient, err)
		return rr
	}
	rr.Write = &ref

	if rr.IsExternal {
		rr.Bridged, rr.BridgeErr = o.handoff(ctx, req.Sender, record, recipient, ref.TxHash)
	}
	return rr
}

// handoff 把已写入链上的邮件交给传统邮件桥接，失败只记录日志
func (o *Orchestrator) handoff(ctx context.Context, sender string, record *domain.ContentRecord, recipient, txHash string) (bool, error) {
	err := o.bridge.Send(ctx, bridge.Envelope{
		To:      recipient,
		From:    o.bridgeFrom(sender),
		ReplyTo: o.bridgeFrom(sender),
		Subject: record.Subject,
		Text:    record.Body,
		HTML:    record.HTMLBody,
	})
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bridge.ErrBridgeDisabled):
		o.logger.Debug("Bridge disabled, external recipient not notified",
			zap.String("recipient", recipient),
			zap.String("tx", txHash))
	default:
		o.logger.Warn("Bridge handoff failed",
			zap.String("recipient", recipient),
			zap.String("tx", txHash),
			zap.Error(err))
	}
	return false, err
}

// requiredPayment 计算联系费用：白名单或费用为 0 时免费
func (o *Orchestrator) requiredPayment(ctx context.Context, recipient, sender string) (*big.Int, error) {
	whitelisted, err := o.ledger.IsWhitelisted(ctx, recipient, sender)
	if err != nil {
		return nil, err
	}
	if whitelisted {
		return new(big.Int), nil
	}
	fee, err := o.ledger.GetContactFee(ctx, recipient)
	if err != nil {
		return nil, err
	}
	if fee == nil || fee.Sign() <= 0 {
		return new(big.Int), nil
	}
	return fee, nil
}

// persist 写入内容并记录定位映射，映射写入失败不影响发送
func (o *Orchestrator) persist(ctx context.Context, record *domain.ContentRecord) (string, [32]byte, error) {
	address, err := o.content.PutRecord(ctx, record)
	if err != nil {
		return "", [32]byte{}, fmt.Errorf("%w: %v", ErrContentStoreUnavailable, err)
	}

	digest := locator.Digest(address)
	if err := o.locators.Record(ctx, digest, address); err != nil && !errors.Is(err, context.Canceled) {
		o.logger.Warn("Locator mapping not recorded in any tier",
			zap.String("locator", locator.Hex(digest)),
			zap.String("address", address),
			zap.Error(err))
	}
	return address, digest, nil
}

func (o *Orchestrator) isExternal(recipient string) bool {
	return bridge.IsExternal(recipient, o.opts.NativeDomain)
}

// bridgeFrom 传统邮件一侧看到的发件地址
func (o *Orchestrator) bridgeFrom(sender string) string {
	if strings.Contains(sender, "@") || o.opts.NativeDomain == "" {
		return sender
	}
	return sender + "@" + o.opts.NativeDomain
}

func normalizeRecipients(recipients []string) []string {
	out := make([]string, 0, len(recipients))
	for _, r := range recipients {
		if r = strings.TrimSpace(r); r != "" {
			out = append(out, r)
		}
	}
	return out
}
