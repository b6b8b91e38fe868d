package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"ledgermail/backend/internal/cache"
	"ledgermail/backend/internal/domain"
	"ledgermail/backend/internal/locator"
	"ledgermail/backend/internal/monitoring"
)

// Mode 刷新模式
type Mode string

const (
	// ModeLoud 首次加载或用户主动刷新
	ModeLoud Mode = "loud"
	// ModeSilent 后台轮询
	ModeSilent Mode = "silent"
)

// ErrOwnerRequired 缺少邮箱所有者
var ErrOwnerRequired = errors.New("mailbox owner is required")

// Ledger 读取邮箱所需的链上查询
type Ledger interface {
	ListInbox(ctx context.Context, identity string) ([]string, error)
	ListSent(ctx context.Context, identity, senderAddress string) ([]string, error)
	GetMessage(ctx context.Context, id string) (*domain.Message, error)
	ResolveIdentity(ctx context.Context, address string) (string, error)
}

// Locators 解析内容定位
type Locators interface {
	Resolve(ctx context.Context, digest [32]byte) locator.Resolution
}

// Contents 加载邮件内容，失败时返回占位内容
type Contents interface {
	FetchRecord(ctx context.Context, address string) *domain.ContentRecord
}

// Statuses 读取邮件状态
type Statuses interface {
	Get(owner, id string) domain.Status
}

// Options 对账配置
type Options struct {
	Concurrency int // 同时加载的邮件数
	CacheSize   int // 已加载邮件的缓存容量，<= 0 不限制
}

// hydrated 已加载的邮件
type hydrated struct {
	message       domain.Message
	senderDisplay string
	content       *domain.ContentRecord
}

func (h *hydrated) partial() bool {
	return h.content == nil || h.content.Partial
}

// Mailbox 一次对账得到的统一邮箱视图
type Mailbox struct {
	Owner        string
	Entries      []domain.MailboxEntry // 收件箱在前（链上顺序倒序），已发送在后（时间倒序）
	Placeholders int                   // 使用占位内容的条目数
	RefreshedAt  time.Time
}

// InBucket 返回某个分组下的条目，保持统一视图中的顺序
func (m *Mailbox) InBucket(bucket domain.Bucket) []domain.MailboxEntry {
	out := make([]domain.MailboxEntry, 0)
	for _, e := range m.Entries {
		if e.Bucket == bucket {
			out = append(out, e)
		}
	}
	return out
}

// Reconciler 邮箱对账器
//
// 每个会话持有自己的对账器；加载成功的邮件按 ID 缓存，占位内容不缓存，下次刷新会重试。
type Reconciler struct {
	ledger   Ledger
	locators Locators
	contents Contents
	statuses Statuses
	opts     Options

	messages   *cache.LocalCache[*hydrated]
	identities *cache.LocalCache[string]

	now     func() time.Time
	logger  *zap.Logger
	metrics *monitoring.Metrics
}

// NewReconciler 创建邮箱对账器
func NewReconciler(ledger Ledger, locators Locators, contents Contents, statuses Statuses, opts Options, logger *zap.Logger) *Reconciler {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 8
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		ledger:     ledger,
		locators:   locators,
		contents:   contents,
		statuses:   statuses,
		opts:       opts,
		messages:   cache.NewLocalCache[*hydrated](opts.CacheSize, 0),
		identities: cache.NewLocalCache[string](opts.CacheSize, 0),
		now:        time.Now,
		logger:     logger,
	}
}

// SetMetrics 设置监控指标
func (r *Reconciler) SetMetrics(metrics *monitoring.Metrics) {
	r.metrics = metrics
}

// Close 释放缓存
func (r *Reconciler) Close() {
	r.messages.Close()
	r.identities.Close()
}

// Cached 已缓存的邮件数
func (r *Reconciler) Cached() int {
	return r.messages.Len()
}

// GetMailbox 对账得到 owner 的统一邮箱视图
//
// 列表查询失败返回错误；单封邮件加载失败只会降级为占位内容。
func (r *Reconciler) GetMailbox(ctx context.Context, owner, ownerAddress string, mode Mode) (*Mailbox, error) {
	if owner == "" {
		return nil, ErrOwnerRequired
	}
	start := r.now()

	var inboxIDs, sentIDs []string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ids, err := r.ledger.ListInbox(gctx, owner)
		if err != nil {
			return fmt.Errorf("list inbox: %w", err)
		}
		inboxIDs = dedupIDs(ids)
		return nil
	})
	g.Go(func() error {
		ids, err := r.ledger.ListSent(gctx, owner, ownerAddress)
		if err != nil {
			return fmt.Errorf("list sent: %w", err)
		}
		sentIDs = dedupIDs(ids)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	loaded, err := r.hydrateAll(ctx, append(append([]string{}, inboxIDs...), sentIDs...))
	if err != nil {
		return nil, err
	}

	mailbox := r.assemble(owner, inboxIDs, sentIDs, loaded)
	mailbox.RefreshedAt = r.now()

	elapsed := mailbox.RefreshedAt.Sub(start)
	r.metrics.ObserveMailboxRefresh(string(mode), elapsed, mailbox.Placeholders)

	fields := []zap.Field{
		zap.String("owner", owner),
		zap.Int("inbox", len(inboxIDs)),
		zap.Int("sent", len(sentIDs)),
		zap.Int("entries", len(mailbox.Entries)),
		zap.Int("placeholders", mailbox.Placeholders),
		zap.Duration("elapsed", elapsed),
	}
	if mode == ModeLoud {
		r.logger.Info("Mailbox refreshed", fields...)
	} else {
		r.logger.Debug("Mailbox refreshed", fields...)
	}

	return mailbox, nil
}

// hydrateAll 并发加载未缓存的邮件
func (r *Reconciler) hydrateAll(ctx context.Context, ids []string) (map[string]*hydrated, error) {
	loaded := make(map[string]*hydrated, len(ids))

	var pending []string
	for _, id := range ids {
		if _, seen := loaded[id]; seen {
			continue
		}
		h, ok := r.messages.Get(id)
		loaded[id] = h
		if !ok {
			pending = append(pending, id)
		}
	}
	if len(pending) == 0 {
		return loaded, nil
	}

	out := make([]*hydrated, len(pending))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Concurrency)
	for i, id := range pending {
		g.Go(func() error {
			out[i] = r.hydrate(gctx, id)
			return nil
		})
	}
	_ = g.Wait()

	// 刷新被放弃时丢弃结果
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	for i, id := range pending {
		h := out[i]
		loaded[id] = h
		if !h.partial() {
			r.messages.Set(id, h)
		}
	}
	return loaded, nil
}

// hydrate 加载一封邮件：链上记录、发件人展示名、定位、内容
func (r *Reconciler) hydrate(ctx context.Context, id string) *hydrated {
	msg, err := r.ledger.GetMessage(ctx, id)
	if err != nil {
		r.logger.Warn("Failed to load ledger message",
			zap.String("id", id),
			zap.Error(err))
		return &hydrated{
			message: domain.Message{ID: id},
			content: domain.PlaceholderContent(),
		}
	}

	h := &hydrated{
		message:       *msg,
		senderDisplay: r.senderDisplay(ctx, msg.Sender),
	}

	resolution := r.locators.Resolve(ctx, msg.Locator)
	if !resolution.IsFound() {
		r.logger.Warn("Content locator unresolved",
			zap.String("id", id),
			zap.String("locator", locator.Hex(msg.Locator)),
			zap.NamedError("lastError", resolution.Err))
		h.content = domain.PlaceholderContent()
		return h
	}

	h.content = r.contents.FetchRecord(ctx, resolution.Address)
	return h
}

// senderDisplay 把发件地址反查为身份，失败时返回原地址
func (r *Reconciler) senderDisplay(ctx context.Context, sender string) string {
	if !common.IsHexAddress(sender) {
		return sender
	}
	if identity, ok := r.identities.Get(sender); ok {
		return identity
	}

	identity, err := r.ledger.ResolveIdentity(ctx, sender)
	if err != nil {
		r.logger.Debug("Reverse identity lookup failed",
			zap.String("address", sender),
			zap.Error(err))
		return sender
	}
	if identity == "" {
		identity = sender
	}
	r.identities.Set(sender, identity)
	return identity
}

// assemble 合并列表、内容与状态，得到有序视图
func (r *Reconciler) assemble(owner string, inboxIDs, sentIDs []string, loaded map[string]*hydrated) *Mailbox {
	mailbox := &Mailbox{Owner: owner}

	inboxSet := make(map[string]struct{}, len(inboxIDs))
	for _, id := range inboxIDs {
		inboxSet[id] = struct{}{}
	}

	add := func(entries []domain.MailboxEntry, displayID, id string, direction domain.Bucket) []domain.MailboxEntry {
		st := r.statuses.Get(owner, domain.BaseMessageID(displayID))
		if st.Purged {
			return entries
		}
		h := loaded[id]
		if h.partial() {
			mailbox.Placeholders++
		}
		return append(entries, domain.MailboxEntry{
			DisplayID:     displayID,
			MessageID:     id,
			Direction:     direction,
			Bucket:        domain.BucketFor(st, direction),
			Message:       h.message,
			SenderDisplay: h.senderDisplay,
			Content:       h.content,
			Status:        st,
		})
	}

	inbox := make([]domain.MailboxEntry, 0, len(inboxIDs))
	for i := len(inboxIDs) - 1; i >= 0; i-- {
		id := inboxIDs[i]
		inbox = add(inbox, id, id, domain.BucketInbox)
	}

	sent := make([]domain.MailboxEntry, 0, len(sentIDs))
	for i := len(sentIDs) - 1; i >= 0; i-- {
		id := sentIDs[i]
		displayID := id
		if _, self := inboxSet[id]; self {
			displayID = id + domain.SentCopySuffix
		}
		sent = add(sent, displayID, id, domain.BucketSent)
	}
	// 时间相同（或占位条目没有时间）时保持链上倒序
	sort.SliceStable(sent, func(i, j int) bool {
		return sent[i].Message.Timestamp.After(sent[j].Message.Timestamp)
	})

	mailbox.Entries = append(inbox, sent...)
	return mailbox
}

func dedupIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
