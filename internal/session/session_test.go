package session

import (
	"context"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jwtpkg "ledgermail/backend/internal/auth/jwt"
	"ledgermail/backend/internal/bridge"
	"ledgermail/backend/internal/claim"
	"ledgermail/backend/internal/config"
	"ledgermail/backend/internal/domain"
	"ledgermail/backend/internal/ledger"
	"ledgermail/backend/internal/locator"
	"ledgermail/backend/internal/reconcile"
)

const (
	testSecret  = "0123456789abcdef0123456789abcdef"
	testAddress = "0x00000000000000000000000000000000000000a1"
)

// emptyLedger 任何读调用都表现为"没有数据"
type emptyLedger struct{}

func (emptyLedger) Call(context.Context, string, ...interface{}) ([]interface{}, error) {
	return nil, errors.New("execution reverted")
}

func (emptyLedger) Transact(context.Context, *big.Int, string, ...interface{}) (ledger.WriteRef, error) {
	return ledger.WriteRef{}, ledger.ErrReadOnly
}

func (emptyLedger) Allowance(context.Context, common.Address) (*big.Int, error) {
	return big.NewInt(0), nil
}

func (emptyLedger) Approve(context.Context, common.Address, *big.Int) (ledger.WriteRef, error) {
	return ledger.WriteRef{}, ledger.ErrReadOnly
}

func (emptyLedger) SentEvents(context.Context, common.Address, uint64, uint64) ([]*big.Int, error) {
	return nil, nil
}

func (emptyLedger) BlockNumber(context.Context) (uint64, error) { return 0, nil }

func testConfig() *config.Config {
	return &config.Config{
		Locator: config.LocatorConfig{CacheTTL: time.Hour, CacheSize: 100},
		Status:  config.StatusConfig{Retention: time.Hour},
		Claim:   config.ClaimConfig{BaseURL: "https://mail.example/claim"},
		Bridge:  config.BridgeConfig{Mode: "none"},
		Mail: config.MailConfig{
			NativeDomain:       "ledger.mail",
			PollInterval:       time.Second,
			HydrateConcurrency: 2,
			RefreshTimeout:     time.Second,
		},
		JWT: config.JWTConfig{Issuer: "ledgermail"},
	}
}

func TestBuild(t *testing.T) {
	ctx := context.Background()

	t.Run("缺少身份", func(t *testing.T) {
		_, err := Build(ctx, testConfig(), Identity{}, emptyLedger{}, nil, nil)
		assert.ErrorIs(t, err, ErrIdentityRequired)
	})

	t.Run("桥接配置错误", func(t *testing.T) {
		cfg := testConfig()
		cfg.Bridge.Mode = "pigeon"
		_, err := Build(ctx, cfg, Identity{Name: "alice", Address: testAddress}, emptyLedger{}, nil, nil)
		assert.Error(t, err)
	})

	t.Run("默认组件", func(t *testing.T) {
		s, err := Build(ctx, testConfig(), Identity{Name: "alice", Address: testAddress}, emptyLedger{}, nil, nil)
		require.NoError(t, err)
		defer s.Close()

		assert.IsType(t, bridge.NoopSink{}, s.Bridge)
		assert.NotNil(t, s.Sender)
		assert.NotNil(t, s.Mailboxes)
	})
}

func TestSessionOperations(t *testing.T) {
	ctx := context.Background()
	s, err := Build(ctx, testConfig(), Identity{Name: "alice", Address: testAddress}, emptyLedger{}, nil, nil)
	require.NoError(t, err)
	defer s.Close()

	t.Run("空邮箱", func(t *testing.T) {
		box, err := s.Mailbox(ctx, reconcile.ModeLoud)
		require.NoError(t, err)
		assert.Equal(t, "alice", box.Owner)
		assert.Empty(t, box.Entries)
	})

	t.Run("修改状态", func(t *testing.T) {
		st := s.UpdateStatus("9", domain.StatusPatch{Archived: domain.Bool(true)})
		assert.True(t, st.Archived)
		assert.True(t, s.Statuses.Get("alice", "9").Archived)
	})

	t.Run("领取码格式错误", func(t *testing.T) {
		v, err := s.ValidateClaim(ctx, "12ab")
		require.NoError(t, err)
		assert.Equal(t, claim.ReasonMalformed, v.Reason)
	})

	t.Run("领取码不存在", func(t *testing.T) {
		res, err := s.RedeemClaim(ctx, "000 001")
		require.NoError(t, err)
		assert.Equal(t, claim.OutcomeNotFound, res.Outcome)
	})

	t.Run("轮询器使用会话身份", func(t *testing.T) {
		pctx, cancel := context.WithCancel(ctx)
		got := make(chan *reconcile.Mailbox, 1)
		poller := s.NewPoller(func(box *reconcile.Mailbox) {
			select {
			case got <- box:
			default:
			}
		})
		go poller.Run(pctx)
		defer cancel()

		select {
		case box := <-got:
			assert.Equal(t, "alice", box.Owner)
		case <-time.After(2 * time.Second):
			t.Fatal("poller produced no snapshot")
		}
	})
}

func TestStoreToken(t *testing.T) {
	var mu sync.Mutex
	var authHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		authHeader = r.Header.Get("Authorization")
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.JWT.Secret = testSecret
	cfg.Locator.DurableURL = srv.URL

	s, err := Build(context.Background(), cfg, Identity{Name: "alice", Address: testAddress}, emptyLedger{}, nil, nil)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Locators.Record(context.Background(), locator.Digest("bafyx"), "bafyx"))

	mu.Lock()
	header := authHeader
	mu.Unlock()
	require.True(t, strings.HasPrefix(header, "Bearer "))

	claims, err := jwtpkg.NewManager(testSecret, "ledgermail").ValidateToken(strings.TrimPrefix(header, "Bearer "))
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Owner)
}
