package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	jwtpkg "ledgermail/backend/internal/auth/jwt"
	"ledgermail/backend/internal/bridge"
	"ledgermail/backend/internal/claim"
	"ledgermail/backend/internal/config"
	"ledgermail/backend/internal/content"
	"ledgermail/backend/internal/domain"
	"ledgermail/backend/internal/ledger"
	"ledgermail/backend/internal/locator"
	"ledgermail/backend/internal/monitoring"
	"ledgermail/backend/internal/reconcile"
	"ledgermail/backend/internal/settlement"
	"ledgermail/backend/internal/status"
)

// storeTokenTTL 访问持久化存储服务的令牌有效期
const storeTokenTTL = 24 * time.Hour

// ErrIdentityRequired 缺少会话身份
var ErrIdentityRequired = errors.New("session identity is required")

// Identity 会话身份：原生命名空间中的名字与签名钱包地址
type Identity struct {
	Name    string
	Address string
}

// Session 一个已登录身份的全部组件
//
// 组件在 Open 时按配置创建，Close 时逆序释放。
type Session struct {
	Identity Identity

	Ledger    *ledger.Gateway
	Content   *content.Client
	Locators  *locator.Map
	Statuses  *status.Store
	Claims    *claim.Registry
	Bridge    bridge.Sink
	Sender    *settlement.Orchestrator
	Mailboxes *reconcile.Reconciler

	cfg     *config.Config
	logger  *zap.Logger
	metrics *monitoring.Metrics
	closers []func() error
}

// Open 连接配置中的全部 RPC 节点并创建会话
//
// 无法连接的节点被跳过；一个节点都连不上时返回错误。
func Open(ctx context.Context, cfg *config.Config, id Identity, logger *zap.Logger, metrics *monitoring.Metrics) (*Session, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var endpoints []ledger.Endpoint
	var closers []func() error
	for _, url := range cfg.Ledger.Endpoints {
		backend, err := ledger.DialEthBackend(ctx, url, ledger.EthConfig{
			ContractAddress: cfg.Ledger.ContractAddress,
			ChainID:         cfg.Ledger.ChainID,
			PrivateKey:      cfg.Ledger.PrivateKey,
			CallTimeout:     cfg.Ledger.CallTimeout,
		})
		if err != nil {
			logger.Warn("Skipping ledger endpoint", zap.String("endpoint", url), zap.Error(err))
			continue
		}
		endpoints = append(endpoints, ledger.Endpoint{Name: url, Backend: backend})
		closers = append(closers, func() error { backend.Close(); return nil })
	}

	pool, err := ledger.NewEndpointPool(endpoints, ledger.PoolOptions{
		ReadRetries: cfg.Ledger.ReadRetries,
		RetryDelay:  cfg.Ledger.RetryDelay,
		RateLimit:   cfg.Ledger.RateLimit,
	}, logger)
	if err != nil {
		runClosers(closers, logger)
		return nil, fmt.Errorf("failed to create ledger pool: %w", err)
	}

	s, err := Build(ctx, cfg, id, pool, logger, metrics)
	if err != nil {
		runClosers(closers, logger)
		return nil, err
	}
	s.closers = append(closers, s.closers...)
	return s, nil
}

// Build 基于给定的链上后端创建会话
func Build(ctx context.Context, cfg *config.Config, id Identity, backend ledger.Backend, logger *zap.Logger, metrics *monitoring.Metrics) (*Session, error) {
	id.Name = strings.TrimSpace(id.Name)
	if id.Name == "" {
		return nil, ErrIdentityRequired
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("identity", id.Name))

	s := &Session{
		Identity: id,
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics,
	}

	token, err := s.storeToken()
	if err != nil {
		return nil, err
	}

	s.Ledger = ledger.NewGateway(backend, ledger.GatewayOptions{
		ScanWindow: cfg.Ledger.ScanWindow,
		ScanChunk:  cfg.Ledger.ScanChunk,
	}, logger)
	s.Ledger.SetMetrics(metrics)

	s.Content = content.NewClient(cfg.Content.GatewayBase, cfg.Content.UploadURL, cfg.Content.Timeout, cfg.Content.MaxRetries, logger)
	s.Content.SetMetrics(metrics)

	s.Locators = s.buildLocators(ctx, token)

	var remote status.Remote
	if cfg.Status.RemoteURL != "" {
		httpRemote := status.NewHTTPRemote(cfg.Status.RemoteURL, cfg.Content.Timeout)
		httpRemote.SetToken(token)
		remote = httpRemote
	}
	s.Statuses = status.NewStore(remote, status.Options{
		SyncWorkers: cfg.Status.SyncWorkers,
		SyncQueue:   cfg.Status.SyncQueue,
		SyncRetries: cfg.Status.SyncRetries,
		Retention:   cfg.Status.Retention,
	}, logger)
	s.Statuses.SetMetrics(metrics)
	s.Statuses.Start(ctx)
	s.closers = append(s.closers, func() error { s.Statuses.Close(); return nil })

	repo, err := s.buildClaimRepository(ctx)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.Claims = claim.NewRegistry(repo, s.Ledger, logger)
	s.Claims.SetMetrics(metrics)

	s.Bridge, err = bridge.New(cfg.Bridge)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to configure bridge: %w", err)
	}

	s.Sender = settlement.NewOrchestrator(s.Ledger, s.Content, s.Locators, s.Claims, s.Bridge, settlement.Options{
		NativeDomain: cfg.Mail.NativeDomain,
		ClaimBaseURL: cfg.Claim.BaseURL,
	}, logger)
	s.Sender.SetMetrics(metrics)

	s.Mailboxes = reconcile.NewReconciler(s.Ledger, s.Locators, s.Content, s.Statuses, reconcile.Options{
		Concurrency: cfg.Mail.HydrateConcurrency,
		CacheSize:   cfg.Locator.CacheSize,
	}, logger)
	s.Mailboxes.SetMetrics(metrics)
	s.closers = append(s.closers, func() error { s.Mailboxes.Close(); return nil })

	if err := s.Statuses.Initialize(ctx, id.Name, false); err != nil {
		logger.Warn("Failed to load remote statuses, continuing with local state", zap.Error(err))
	}

	logger.Info("Session opened",
		zap.String("address", id.Address),
		zap.String("bridge", cfg.Bridge.Mode),
		zap.Bool("remoteStatus", remote != nil))
	return s, nil
}

// storeToken 配置了签名密钥时为身份签发持久化存储服务的访问令牌
func (s *Session) storeToken() (string, error) {
	if s.cfg.JWT.Secret == "" {
		return "", nil
	}
	token, err := jwtpkg.NewManager(s.cfg.JWT.Secret, s.cfg.JWT.Issuer).Issue(s.Identity.Name, storeTokenTTL)
	if err != nil {
		return "", fmt.Errorf("failed to issue store token: %w", err)
	}
	return token, nil
}

func (s *Session) buildLocators(ctx context.Context, token string) *locator.Map {
	var durable locator.Tier
	if s.cfg.Locator.DurableURL != "" {
		store := locator.NewHTTPStore(s.cfg.Locator.DurableURL, s.cfg.Content.Timeout)
		store.SetToken(token)
		durable = store
	}

	local := locator.NewLocalTier(s.cfg.Locator.CacheSize, s.cfg.Locator.CacheTTL)
	s.closers = append(s.closers, func() error { local.Close(); return nil })
	caches := []locator.Tier{local}

	if s.cfg.Locator.UseRedis {
		tier, client, err := locator.DialRedisTier(ctx, s.cfg.Redis.Address, s.cfg.Redis.Password, s.cfg.Redis.DB, s.cfg.Locator.CacheTTL)
		if err != nil {
			s.logger.Warn("Redis locator cache unavailable", zap.Error(err))
		} else {
			caches = append(caches, tier)
			s.closers = append(s.closers, client.Close)
		}
	}

	m := locator.NewMap(durable, caches, s.logger)
	m.SetMetrics(s.metrics)
	return m
}

func (s *Session) buildClaimRepository(ctx context.Context) (claim.Repository, error) {
	if strings.ToLower(s.cfg.Database.Type) != "postgres" {
		return claim.NewMemoryRepository(), nil
	}

	repo, err := claim.OpenPostgres(ctx, s.cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open claim repository: %w", err)
	}
	s.closers = append(s.closers, repo.Close)
	return repo, nil
}

// Send 以会话身份发送邮件
func (s *Session) Send(ctx context.Context, req settlement.SendRequest) (*settlement.SendResult, error) {
	req.Sender = s.Identity.Name
	req.SenderAddress = s.Identity.Address
	return s.Sender.Send(ctx, req)
}

// Mailbox 刷新会话身份的邮箱
func (s *Session) Mailbox(ctx context.Context, mode reconcile.Mode) (*reconcile.Mailbox, error) {
	if timeout := s.cfg.Mail.RefreshTimeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return s.Mailboxes.GetMailbox(ctx, s.Identity.Name, s.Identity.Address, mode)
}

// NewPoller 创建会话身份的邮箱轮询器
func (s *Session) NewPoller(onSnapshot func(*reconcile.Mailbox)) *reconcile.Poller {
	return reconcile.NewPoller(s.Mailboxes, s.Identity.Name, s.Identity.Address, s.cfg.Mail.PollInterval, onSnapshot, s.logger)
}

// UpdateStatus 修改会话身份下一封邮件的状态
func (s *Session) UpdateStatus(id string, patch domain.StatusPatch) domain.Status {
	return s.Statuses.Update(s.Identity.Name, id, patch)
}

// PurgeExpired 把超过保留期的已删除邮件标记为 purged
func (s *Session) PurgeExpired() int {
	return s.Statuses.Cleanup(s.Identity.Name)
}

// ValidateClaim 校验领取码
func (s *Session) ValidateClaim(ctx context.Context, code string) (claim.Validation, error) {
	return s.Claims.Validate(ctx, code)
}

// RedeemClaim 以会话地址兑换领取码
func (s *Session) RedeemClaim(ctx context.Context, code string) (claim.RedeemResult, error) {
	return s.Claims.Redeem(ctx, code, s.Identity.Address)
}

// Close 逆序释放会话资源
func (s *Session) Close() {
	runClosers(s.closers, s.logger)
	s.closers = nil
}

func runClosers(closers []func() error, logger *zap.Logger) {
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](); err != nil {
			logger.Warn("Failed to release session resource", zap.Error(err))
		}
	}
}
