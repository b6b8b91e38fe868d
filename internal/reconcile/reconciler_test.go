package reconcile

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ledgermail/backend/internal/domain"
	"ledgermail/backend/internal/locator"
)

const carolAddress = "0x0000000000000000000000000000000000000c01"

type fakeLedger struct {
	mu         sync.Mutex
	inbox      []string
	sent       []string
	messages   map[string]*domain.Message
	identities map[string]string
	listErr    error
	gets       map[string]int
	resolves   int
}

func (f *fakeLedger) ListInbox(context.Context, string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]string(nil), f.inbox...), nil
}

func (f *fakeLedger) ListSent(context.Context, string, string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...), nil
}

func (f *fakeLedger) GetMessage(_ context.Context, id string) (*domain.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets[id]++
	msg, ok := f.messages[id]
	if !ok {
		return nil, errors.New("message not found")
	}
	out := *msg
	return &out, nil
}

func (f *fakeLedger) ResolveIdentity(_ context.Context, address string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resolves++
	return f.identities[address], nil
}

type fakeLocators struct {
	mu        sync.Mutex
	addresses map[[32]byte]string
}

func (f *fakeLocators) Resolve(_ context.Context, digest [32]byte) locator.Resolution {
	f.mu.Lock()
	defer f.mu.Unlock()
	if addr, ok := f.addresses[digest]; ok {
		return locator.Resolution{Outcome: locator.Found, Address: addr, Source: "fake"}
	}
	return locator.Resolution{Outcome: locator.Unresolved}
}

type fakeContents struct{}

func (fakeContents) FetchRecord(_ context.Context, address string) *domain.ContentRecord {
	return &domain.ContentRecord{Subject: "subject of " + address, Body: "body"}
}

type fakeStatuses map[string]domain.Status

func (f fakeStatuses) Get(_, id string) domain.Status {
	return f[id]
}

type fixture struct {
	ledger     *fakeLedger
	locators   *fakeLocators
	statuses   fakeStatuses
	reconciler *Reconciler
}

// newFixture 构造 alice 的邮箱：收件箱 1、2、3 与自发自收的 5，已发送 4 与 5
func newFixture(t *testing.T) *fixture {
	t.Helper()

	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	f := &fixture{
		ledger: &fakeLedger{
			inbox:      []string{"1", "2", "3", "5"},
			sent:       []string{"4", "5"},
			messages:   make(map[string]*domain.Message),
			identities: map[string]string{carolAddress: "carol"},
			gets:       make(map[string]int),
		},
		locators: &fakeLocators{addresses: make(map[[32]byte]string)},
		statuses: fakeStatuses{},
	}

	add := func(id, sender, recipient string, at time.Time) {
		address := "bafy" + id
		digest := locator.Digest(address)
		f.ledger.messages[id] = &domain.Message{
			ID:        id,
			Locator:   digest,
			Sender:    sender,
			Recipient: recipient,
			Timestamp: at,
		}
		f.locators.addresses[digest] = address
	}
	add("1", carolAddress, "alice", base.Add(1*time.Minute))
	add("2", "dave", "alice", base.Add(2*time.Minute))
	add("3", "erin", "alice", base.Add(3*time.Minute))
	add("4", "alice", "bob", base.Add(4*time.Minute))
	add("5", "alice", "alice", base.Add(5*time.Minute))

	f.reconciler = NewReconciler(f.ledger, f.locators, fakeContents{}, f.statuses, Options{Concurrency: 2}, nil)
	t.Cleanup(f.reconciler.Close)
	return f
}

func displayIDs(entries []domain.MailboxEntry) []string {
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.DisplayID
	}
	return ids
}

func TestGetMailbox(t *testing.T) {
	ctx := context.Background()

	t.Run("收件箱与已发送合并排序", func(t *testing.T) {
		f := newFixture(t)

		mailbox, err := f.reconciler.GetMailbox(ctx, "alice", "0xalice", ModeLoud)
		require.NoError(t, err)

		assert.Equal(t, []string{"5", "3", "2", "1", "5-sent", "4"}, displayIDs(mailbox.Entries))
		assert.Zero(t, mailbox.Placeholders)
		assert.Equal(t, "subject of bafy3", mailbox.Entries[1].Content.Subject)
	})

	t.Run("自发自收恰好出现两次", func(t *testing.T) {
		f := newFixture(t)

		mailbox, err := f.reconciler.GetMailbox(ctx, "alice", "0xalice", ModeLoud)
		require.NoError(t, err)

		var copies []domain.MailboxEntry
		for _, e := range mailbox.Entries {
			if e.MessageID == "5" {
				copies = append(copies, e)
			}
		}
		require.Len(t, copies, 2)
		assert.Equal(t, domain.BucketInbox, copies[0].Bucket)
		assert.Equal(t, "5", copies[0].DisplayID)
		assert.Equal(t, domain.BucketSent, copies[1].Bucket)
		assert.Equal(t, "5-sent", copies[1].DisplayID)
		assert.Equal(t, 1, f.ledger.gets["5"])
	})

	t.Run("发件人地址反查为身份", func(t *testing.T) {
		f := newFixture(t)

		mailbox, err := f.reconciler.GetMailbox(ctx, "alice", "0xalice", ModeLoud)
		require.NoError(t, err)

		assert.Equal(t, "carol", mailbox.Entries[3].SenderDisplay)
		assert.Equal(t, "dave", mailbox.Entries[2].SenderDisplay)
		assert.Equal(t, 1, f.ledger.resolves)
	})

	t.Run("状态决定分组并按基础ID合并", func(t *testing.T) {
		f := newFixture(t)
		f.statuses["2"] = domain.Status{Archived: true}
		f.statuses["3"] = domain.Status{Spam: true, Draft: true}
		f.statuses["5"] = domain.Status{Deleted: true}

		mailbox, err := f.reconciler.GetMailbox(ctx, "alice", "0xalice", ModeSilent)
		require.NoError(t, err)

		assert.Equal(t, []string{"2"}, displayIDs(mailbox.InBucket(domain.BucketArchive)))
		assert.Equal(t, []string{"3"}, displayIDs(mailbox.InBucket(domain.BucketSpam)))
		assert.Equal(t, []string{"5", "5-sent"}, displayIDs(mailbox.InBucket(domain.BucketTrash)))
		assert.Equal(t, []string{"1"}, displayIDs(mailbox.InBucket(domain.BucketInbox)))
		assert.Equal(t, []string{"4"}, displayIDs(mailbox.InBucket(domain.BucketSent)))
	})

	t.Run("已清除的邮件不显示", func(t *testing.T) {
		f := newFixture(t)
		f.statuses["1"] = domain.Status{Deleted: true, Purged: true}

		mailbox, err := f.reconciler.GetMailbox(ctx, "alice", "0xalice", ModeSilent)
		require.NoError(t, err)

		assert.NotContains(t, displayIDs(mailbox.Entries), "1")
		assert.Len(t, mailbox.Entries, 5)
	})

	t.Run("占位内容不缓存下次重试", func(t *testing.T) {
		f := newFixture(t)
		digest := f.ledger.messages["3"].Locator
		f.locators.mu.Lock()
		delete(f.locators.addresses, digest)
		f.locators.mu.Unlock()

		first, err := f.reconciler.GetMailbox(ctx, "alice", "0xalice", ModeLoud)
		require.NoError(t, err)
		assert.Equal(t, 1, first.Placeholders)
		assert.Equal(t, domain.PlaceholderSubject, first.Entries[1].Content.Subject)
		assert.Equal(t, 4, f.reconciler.Cached())

		f.locators.mu.Lock()
		f.locators.addresses[digest] = "bafy3"
		f.locators.mu.Unlock()

		second, err := f.reconciler.GetMailbox(ctx, "alice", "0xalice", ModeSilent)
		require.NoError(t, err)
		assert.Zero(t, second.Placeholders)
		assert.Equal(t, "subject of bafy3", second.Entries[1].Content.Subject)
		assert.Equal(t, 2, f.ledger.gets["3"])
		assert.Equal(t, 1, f.ledger.gets["1"])
	})

	t.Run("链上记录缺失降级为占位", func(t *testing.T) {
		f := newFixture(t)
		f.ledger.inbox = append(f.ledger.inbox, "9")

		mailbox, err := f.reconciler.GetMailbox(ctx, "alice", "0xalice", ModeLoud)
		require.NoError(t, err)

		assert.Equal(t, "9", mailbox.Entries[0].DisplayID)
		assert.True(t, mailbox.Entries[0].Content.Partial)
		assert.Equal(t, 1, mailbox.Placeholders)
	})

	t.Run("列表查询失败返回错误", func(t *testing.T) {
		f := newFixture(t)
		f.ledger.listErr = errors.New("rpc down")

		_, err := f.reconciler.GetMailbox(ctx, "alice", "0xalice", ModeLoud)
		assert.Error(t, err)
	})

	t.Run("缺少所有者", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.reconciler.GetMailbox(ctx, "", "", ModeLoud)
		assert.ErrorIs(t, err, ErrOwnerRequired)
	})

	t.Run("刷新被取消时丢弃结果", func(t *testing.T) {
		f := newFixture(t)
		cancelled, cancel := context.WithCancel(ctx)
		cancel()

		_, err := f.reconciler.GetMailbox(cancelled, "alice", "0xalice", ModeLoud)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Zero(t, f.reconciler.Cached())
	})
}

func TestPoller(t *testing.T) {
	t.Run("持续推送快照直到取消", func(t *testing.T) {
		f := newFixture(t)

		snapshots := make(chan *Mailbox, 16)
		poller := NewPoller(f.reconciler, "alice", "0xalice", 10*time.Millisecond, func(m *Mailbox) {
			select {
			case snapshots <- m:
			default:
			}
		}, nil)

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- poller.Run(ctx) }()

		for i := 0; i < 3; i++ {
			select {
			case m := <-snapshots:
				assert.Len(t, m.Entries, 6)
			case <-time.After(2 * time.Second):
				t.Fatal("timed out waiting for snapshot")
			}
		}

		cancel()
		assert.ErrorIs(t, <-done, context.Canceled)
	})

	t.Run("刷新失败回调", func(t *testing.T) {
		f := newFixture(t)
		f.ledger.listErr = errors.New("rpc down")

		errs := make(chan Mode, 4)
		poller := NewPoller(f.reconciler, "alice", "0xalice", time.Hour, nil, nil)
		poller.OnError(func(mode Mode, err error) {
			errs <- mode
		})

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go poller.Run(ctx)

		assert.Equal(t, ModeLoud, <-errs)
		poller.Refresh()
		assert.Equal(t, ModeLoud, <-errs)
	})
}
