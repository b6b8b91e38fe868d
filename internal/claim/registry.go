package claim

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"ledgermail/backend/internal/domain"
	"ledgermail/backend/internal/ledger"
	"ledgermail/backend/internal/monitoring"
)

// maxGenerateAttempts 生成领取码时的最大尝试次数
const maxGenerateAttempts = 16

var (
	// ErrCodeSpaceExhausted 多次尝试后仍未找到空闲的领取码
	ErrCodeSpaceExhausted = errors.New("no free claim code after repeated attempts")
	// ErrRedeemInProgress 同一领取码正在兑换
	ErrRedeemInProgress = errors.New("claim redemption already in progress")
	// ErrOwnerAddressRequired 缺少兑换人地址
	ErrOwnerAddressRequired = errors.New("owner address is required")
)

// Reason 领取码校验失败原因
type Reason string

const (
	ReasonNone           Reason = ""
	ReasonMalformed      Reason = "malformed"
	ReasonNotFound       Reason = "not_found"
	ReasonAlreadyClaimed Reason = "already_claimed"
)

// Validation 领取码校验结果
type Validation struct {
	Valid  bool
	Reason Reason
	Record *domain.ClaimRecord
}

// RedeemOutcome 兑换结果
type RedeemOutcome string

const (
	OutcomeRedeemed              RedeemOutcome = "redeemed"
	OutcomeSucceededConcurrently RedeemOutcome = "succeeded_concurrently"
	OutcomeMalformed             RedeemOutcome = "malformed"
	OutcomeNotFound              RedeemOutcome = "not_found"
	OutcomeAlreadyClaimed        RedeemOutcome = "already_claimed"
)

// RedeemResult 兑换结果
type RedeemResult struct {
	Outcome       RedeemOutcome
	Record        *domain.ClaimRecord
	WalletAddress string           // 收件人钱包地址（尽力计算）
	Deployment    *ledger.WriteRef // 本次兑换发起的钱包部署交易，已部署时为 nil
}

// Succeeded 资产是否已经到达收件人钱包
func (r RedeemResult) Succeeded() bool {
	return r.Outcome == OutcomeRedeemed || r.Outcome == OutcomeSucceededConcurrently
}

// Ledger 兑换所需的链上操作
type Ledger interface {
	IsRecipientProvisioned(ctx context.Context, identity string) (registered, deployed bool, err error)
	DeployWallet(ctx context.Context, identity string) (ledger.WriteRef, error)
	ComputeWalletAddress(ctx context.Context, identity string) (string, error)
}

// Registry 领取码注册表
type Registry struct {
	repo   Repository
	ledger Ledger

	mu       sync.Mutex
	reserved map[string]struct{} // 已生成但尚未写入存储的领取码
	redeem   map[string]struct{} // 正在兑换的领取码

	now     func() time.Time
	logger  *zap.Logger
	metrics *monitoring.Metrics
}

// NewRegistry 创建领取码注册表
func NewRegistry(repo Repository, ledger Ledger, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		repo:     repo,
		ledger:   ledger,
		reserved: make(map[string]struct{}),
		redeem:   make(map[string]struct{}),
		now:      time.Now,
		logger:   logger,
	}
}

// SetMetrics 设置监控指标
func (r *Registry) SetMetrics(metrics *monitoring.Metrics) {
	r.metrics = metrics
}

// Generate 生成一个当前未被占用的 6 位领取码，并在本进程内预留直到 Store 或 Release。
//
// 跨进程的并发生成由存储层的唯一约束兜底。
func (r *Registry) Generate(ctx context.Context) (string, error) {
	for attempt := 0; attempt < maxGenerateAttempts; attempt++ {
		code, err := randomCode()
		if err != nil {
			return "", err
		}

		if !r.reserve(code) {
			continue
		}

		exists, err := r.repo.Exists(ctx, code)
		if err != nil {
			r.logger.Warn("Claim code existence check failed, relying on storage uniqueness",
				zap.Error(err))
		}
		if exists {
			r.Release(code)
			continue
		}

		r.metrics.RecordClaimCodeGenerated()
		return code, nil
	}
	return "", ErrCodeSpaceExhausted
}

// Release 释放未使用的预留领取码（发送失败时调用）
func (r *Registry) Release(code string) {
	r.mu.Lock()
	delete(r.reserved, code)
	r.mu.Unlock()
}

func (r *Registry) reserve(code string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.reserved[code]; ok {
		return false
	}
	r.reserved[code] = struct{}{}
	return true
}

// Store 保存领取记录，返回是否写入成功。
//
// 尽力而为：链上转账已经完成，记录丢失只影响领取体验，因此失败只记录日志。
func (r *Registry) Store(ctx context.Context, record domain.ClaimRecord) bool {
	defer r.Release(record.Code)

	if record.CreatedAt.IsZero() {
		record.CreatedAt = r.now().UTC()
	}

	err := r.repo.Insert(ctx, record)
	switch {
	case err == nil:
		r.logger.Info("Claim record stored",
			zap.String("code", record.Code),
			zap.String("recipient", record.Recipient))
		return true
	case errors.Is(err, ErrDuplicateCode):
		r.logger.Error("Claim code collided with a live claim, record not stored",
			zap.String("code", record.Code),
			zap.String("recipient", record.Recipient),
			zap.String("txRef", record.TxRef))
	default:
		r.logger.Warn("Failed to store claim record",
			zap.String("code", record.Code),
			zap.String("txRef", record.TxRef),
			zap.Error(err))
	}
	return false
}

// Validate 校验领取码：先检查格式，再检查是否存在
func (r *Registry) Validate(ctx context.Context, code string) (Validation, error) {
	code = NormalizeCode(code)
	if !IsWellFormed(code) {
		return Validation{Reason: ReasonMalformed}, nil
	}

	record, err := r.repo.Get(ctx, code)
	if err == nil {
		return Validation{Valid: true, Record: record}, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Validation{}, fmt.Errorf("failed to look up claim: %w", err)
	}

	consumed, err := r.wasConsumed(ctx, code)
	if err != nil {
		return Validation{}, err
	}
	if consumed {
		return Validation{Reason: ReasonAlreadyClaimed}, nil
	}
	return Validation{Reason: ReasonNotFound}, nil
}

// Redeem 兑换领取码。
//
// 记录不存在且从未兑换时不会发起任何链上调用。记录存在时先确认收件人钱包是否已部署，
// 未部署才发起部署，成功后删除记录（即消费）。部署失败时会重新检查链上状态，
// 若钱包已被并发部署则按成功处理。
func (r *Registry) Redeem(ctx context.Context, code, ownerAddress string) (RedeemResult, error) {
	code = NormalizeCode(code)
	if !IsWellFormed(code) {
		r.metrics.RecordClaimRedemption(string(OutcomeMalformed))
		return RedeemResult{Outcome: OutcomeMalformed}, nil
	}
	if ownerAddress == "" {
		return RedeemResult{}, ErrOwnerAddressRequired
	}

	if !r.beginRedeem(code) {
		return RedeemResult{}, ErrRedeemInProgress
	}
	defer r.endRedeem(code)

	started := r.now().UTC()
	record, err := r.repo.Get(ctx, code)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			return RedeemResult{}, fmt.Errorf("failed to look up claim: %w", err)
		}
		outcome, err := r.missingOutcome(ctx, code, started)
		if err != nil {
			return RedeemResult{}, err
		}
		r.metrics.RecordClaimRedemption(string(outcome))
		return RedeemResult{Outcome: outcome}, nil
	}

	deployment, err := r.ensureDeployed(ctx, record.Recipient)
	if err != nil {
		r.metrics.RecordClaimRedemption("failed")
		return RedeemResult{Record: record}, err
	}

	result := RedeemResult{
		Outcome:    OutcomeRedeemed,
		Record:     record,
		Deployment: deployment,
	}

	if _, err := r.repo.Consume(ctx, code, ownerAddress, r.now().UTC()); err != nil {
		if !errors.Is(err, ErrNotFound) {
			// 钱包已部署，记录未删除；下次兑换会再次确认链上状态后消费
			r.logger.Warn("Failed to consume claim record after deployment",
				zap.String("code", code),
				zap.Error(err))
			return result, fmt.Errorf("failed to consume claim: %w", err)
		}
		result.Outcome = OutcomeSucceededConcurrently
	}

	if address, err := r.ledger.ComputeWalletAddress(ctx, record.Recipient); err == nil {
		result.WalletAddress = address
	} else {
		r.logger.Debug("Failed to compute wallet address", zap.Error(err))
	}

	r.metrics.RecordClaimRedemption(string(result.Outcome))
	r.logger.Info("Claim redeemed",
		zap.String("code", code),
		zap.String("recipient", record.Recipient),
		zap.String("outcome", string(result.Outcome)))
	return result, nil
}

// ensureDeployed 确保收件人钱包已部署，返回本次部署交易
func (r *Registry) ensureDeployed(ctx context.Context, recipient string) (*ledger.WriteRef, error) {
	_, deployed, err := r.ledger.IsRecipientProvisioned(ctx, recipient)
	if err != nil {
		return nil, fmt.Errorf("failed to check wallet deployment: %w", err)
	}
	if deployed {
		return nil, nil
	}

	ref, deployErr := r.ledger.DeployWallet(ctx, recipient)
	if deployErr == nil {
		return &ref, nil
	}

	// 部署失败可能是并发兑换已经完成部署
	if _, deployed, err := r.ledger.IsRecipientProvisioned(ctx, recipient); err == nil && deployed {
		r.logger.Info("Wallet deployed concurrently",
			zap.String("recipient", recipient),
			zap.NamedError("deployError", deployErr))
		return nil, nil
	}
	return nil, fmt.Errorf("failed to deploy wallet: %w", deployErr)
}

// missingOutcome 记录不存在时的兑换结果。
//
// 没有兑换日志时为 not_found，不发起链上调用。兑换发生在本次调用开始之后说明是并发兑换，
// 只读确认收件人钱包已部署后报告 succeeded_concurrently；其余情况为 already_claimed。
func (r *Registry) missingOutcome(ctx context.Context, code string, started time.Time) (RedeemOutcome, error) {
	consumption, err := r.lookupConsumption(ctx, code)
	if err != nil {
		return "", err
	}
	if consumption == nil {
		return OutcomeNotFound, nil
	}
	if !consumption.ConsumedAt.After(started) {
		return OutcomeAlreadyClaimed, nil
	}

	_, deployed, err := r.ledger.IsRecipientProvisioned(ctx, consumption.Recipient)
	if err != nil {
		r.logger.Debug("Failed to confirm concurrent redemption", zap.String("code", code), zap.Error(err))
		return OutcomeAlreadyClaimed, nil
	}
	if deployed {
		return OutcomeSucceededConcurrently, nil
	}
	return OutcomeAlreadyClaimed, nil
}

func (r *Registry) wasConsumed(ctx context.Context, code string) (bool, error) {
	consumption, err := r.lookupConsumption(ctx, code)
	return consumption != nil, err
}

// lookupConsumption 查询兑换日志，不存在时返回 nil
func (r *Registry) lookupConsumption(ctx context.Context, code string) (*Consumption, error) {
	consumption, err := r.repo.LookupConsumption(ctx, code)
	if err == nil {
		return consumption, nil
	}
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return nil, fmt.Errorf("failed to look up consumption: %w", err)
}

func (r *Registry) beginRedeem(code string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.redeem[code]; ok {
		return false
	}
	r.redeem[code] = struct{}{}
	return true
}

func (r *Registry) endRedeem(code string) {
	r.mu.Lock()
	delete(r.redeem, code)
	r.mu.Unlock()
}
