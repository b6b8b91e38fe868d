package locator

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTier 可注入故障的内存存储层
type fakeTier struct {
	name string
	mu   sync.Mutex
	data map[[32]byte]string
	down bool

	stores int
}

func newFakeTier(name string) *fakeTier {
	return &fakeTier{name: name, data: make(map[[32]byte]string)}
}

func (f *fakeTier) Name() string { return f.name }

func (f *fakeTier) Lookup(_ context.Context, digest [32]byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return "", errors.New(f.name + " unavailable")
	}
	address, ok := f.data[digest]
	if !ok {
		return "", ErrNotFound
	}
	return address, nil
}

func (f *fakeTier) Store(_ context.Context, digest [32]byte, address string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stores++
	if f.down {
		return errors.New(f.name + " unavailable")
	}
	f.data[digest] = address
	return nil
}

func (f *fakeTier) setDown(down bool) {
	f.mu.Lock()
	f.down = down
	f.mu.Unlock()
}

func (f *fakeTier) has(digest [32]byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.data[digest]
	return ok
}

func TestDigest(t *testing.T) {
	assert.Equal(t,
		"0xc5d2460186f7233c927e7db2dcc703c0e500b653ca82273b7bfad8045d85a470",
		Hex(Digest("")))
	assert.Equal(t,
		"0x4e03657aea45a94fc7d47ba826c8d667c0d1e6e33a64a036ec44f58fa12d6c45",
		Hex(Digest("abc")))

	t.Run("十六进制往返", func(t *testing.T) {
		d := Digest("bafybeigdyrzt5sfp7udm7hu76uh7y26nf3efuylqabf3oclgtqy55fbzdi")
		parsed, err := ParseHex(Hex(d))
		require.NoError(t, err)
		assert.Equal(t, d, parsed)
	})

	t.Run("格式错误", func(t *testing.T) {
		_, err := ParseHex("0x1234")
		assert.ErrorIs(t, err, ErrInvalidDigest)
		_, err = ParseHex("0x" + string(make([]byte, 64)))
		assert.ErrorIs(t, err, ErrInvalidDigest)
	})
}

func TestMap_RecordResolve(t *testing.T) {
	ctx := context.Background()
	digest := Digest("cid-1")

	t.Run("持久化存储可用", func(t *testing.T) {
		durable, local := newFakeTier("durable"), newFakeTier("local")
		m := NewMap(durable, []Tier{local}, nil)

		require.NoError(t, m.Record(ctx, digest, "cid-1"))
		res := m.Resolve(ctx, digest)

		assert.True(t, res.IsFound())
		assert.Equal(t, "cid-1", res.Address)
		assert.Equal(t, "durable", res.Source)
		assert.True(t, local.has(digest))
	})

	t.Run("持久化存储不可用时缓存层应答", func(t *testing.T) {
		durable, local := newFakeTier("durable"), newFakeTier("local")
		durable.setDown(true)
		m := NewMap(durable, []Tier{local}, nil)

		require.NoError(t, m.Record(ctx, digest, "cid-1"))
		assert.Equal(t, 1, durable.stores)

		res := m.Resolve(ctx, digest)
		assert.Equal(t, Found, res.Outcome)
		assert.Equal(t, "cid-1", res.Address)
		assert.Equal(t, "local", res.Source)
	})

	t.Run("缓存命中回写持久化存储", func(t *testing.T) {
		durable, local := newFakeTier("durable"), newFakeTier("local")
		m := NewMap(durable, []Tier{local}, nil)
		require.NoError(t, local.Store(ctx, digest, "cid-1"))

		res := m.Resolve(ctx, digest)

		assert.Equal(t, "local", res.Source)
		assert.True(t, durable.has(digest))
	})

	t.Run("所有存储层都失败", func(t *testing.T) {
		durable, local := newFakeTier("durable"), newFakeTier("local")
		durable.setDown(true)
		local.setDown(true)
		m := NewMap(durable, []Tier{local}, nil)

		assert.ErrorIs(t, m.Record(ctx, digest, "cid-1"), ErrNotRecorded)

		res := m.Resolve(ctx, digest)
		assert.Equal(t, Unresolved, res.Outcome)
		assert.False(t, res.IsFound())
		assert.Error(t, res.Err)
	})

	t.Run("未命中返回 Unresolved", func(t *testing.T) {
		m := NewMap(newFakeTier("durable"), []Tier{newFakeTier("local")}, nil)

		res := m.Resolve(ctx, Digest("missing"))

		assert.Equal(t, Unresolved, res.Outcome)
		assert.NoError(t, res.Err)
		assert.Equal(t, "unresolved", res.Outcome.String())
	})
}

func TestLocalTier(t *testing.T) {
	ctx := context.Background()
	tier := NewLocalTier(10, time.Minute)
	defer tier.Close()

	_, err := tier.Lookup(ctx, Digest("a"))
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, tier.Store(ctx, Digest("a"), "a"))
	address, err := tier.Lookup(ctx, Digest("a"))
	require.NoError(t, err)
	assert.Equal(t, "a", address)
}

func TestHTTPStore(t *testing.T) {
	ctx := context.Background()
	var mu sync.Mutex
	stored := map[string]string{}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		mu.Lock()
		defer mu.Unlock()
		switch r.Method {
		case http.MethodPost:
			var payload MappingPayload
			require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
			stored[payload.Locator] = payload.FullAddress
			w.WriteHeader(http.StatusCreated)
		case http.MethodGet:
			address, ok := stored[r.URL.Query().Get("locator")]
			if !ok {
				http.NotFound(w, r)
				return
			}
			json.NewEncoder(w).Encode(MappingPayload{Locator: r.URL.Query().Get("locator"), FullAddress: address})
		}
	}))
	defer server.Close()

	store := NewHTTPStore(server.URL, time.Second)
	store.SetToken("secret")

	_, err := store.Lookup(ctx, Digest("cid-2"))
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Store(ctx, Digest("cid-2"), "cid-2"))
	address, err := store.Lookup(ctx, Digest("cid-2"))
	require.NoError(t, err)
	assert.Equal(t, "cid-2", address)
}

func TestHTTPStore_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	store := NewHTTPStore(server.URL, time.Second)

	_, err := store.Lookup(context.Background(), Digest("x"))
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.Error(t, store.Store(context.Background(), Digest("x"), "x"))
}

func TestRedisTier_Unavailable(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()
	tier := NewRedisTier(client, time.Minute)

	_, err := tier.Lookup(context.Background(), Digest("x"))
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.Equal(t, "redis", tier.Name())
}
