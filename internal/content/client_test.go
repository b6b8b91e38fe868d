package content

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ledgermail/backend/internal/domain"
)

func newTestClient(server *httptest.Server, retries int) *Client {
	c := NewClient(server.URL+"/ipfs", server.URL+"/api/v0/add", time.Second, retries, nil)
	c.SetRetryDelay(time.Millisecond)
	return c
}

func TestClient_PutGet(t *testing.T) {
	blobs := map[string][]byte{}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/api/v0/add":
			file, _, err := r.FormFile("file")
			require.NoError(t, err)
			data, _ := io.ReadAll(file)
			blobs["QmTest"] = data
			json.NewEncoder(w).Encode(map[string]string{"Hash": "QmTest"})
		case r.Method == http.MethodGet:
			data, ok := blobs[r.URL.Path[len("/ipfs/"):]]
			if !ok {
				http.NotFound(w, r)
				return
			}
			w.Write(data)
		}
	}))
	defer server.Close()

	c := newTestClient(server, 2)
	ctx := context.Background()

	record := &domain.ContentRecord{Subject: "hello", Body: "world", From: "alice"}
	address, err := c.PutRecord(ctx, record)
	require.NoError(t, err)
	assert.Equal(t, "QmTest", address)

	got := c.FetchRecord(ctx, address)
	assert.False(t, got.Partial)
	assert.Equal(t, "hello", got.Subject)
	assert.Equal(t, "world", got.Body)

	_, err = c.Get(ctx, "QmMissing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestClient_UploadResponseVariants(t *testing.T) {
	testCases := []struct {
		name     string
		response string
		expected string
	}{
		{name: "Hash 字段", response: `{"Hash":"a"}`, expected: "a"},
		{name: "cid 字段", response: `{"cid":"b"}`, expected: "b"},
		{name: "address 字段", response: `{"address":"c"}`, expected: "c"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tc.response))
			}))
			defer server.Close()

			address, err := newTestClient(server, 0).Put(context.Background(), []byte("x"))
			require.NoError(t, err)
			assert.Equal(t, tc.expected, address)
		})
	}

	t.Run("没有地址", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{}`))
		}))
		defer server.Close()

		_, err := newTestClient(server, 0).Put(context.Background(), []byte("x"))
		assert.ErrorIs(t, err, ErrEmptyAddress)
	})
}

func TestClient_GetRetries(t *testing.T) {
	t.Run("5xx 重试后成功", func(t *testing.T) {
		var calls int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if atomic.AddInt32(&calls, 1) < 3 {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			w.Write([]byte("ok"))
		}))
		defer server.Close()

		data, err := newTestClient(server, 3).Get(context.Background(), "Qm")
		require.NoError(t, err)
		assert.Equal(t, "ok", string(data))
		assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	})

	t.Run("404 不重试", func(t *testing.T) {
		var calls int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&calls, 1)
			http.NotFound(w, r)
		}))
		defer server.Close()

		_, err := newTestClient(server, 3).Get(context.Background(), "Qm")
		assert.ErrorIs(t, err, ErrNotFound)
		assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	})

	t.Run("重试次数用尽", func(t *testing.T) {
		var calls int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&calls, 1)
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer server.Close()

		_, err := newTestClient(server, 2).Get(context.Background(), "Qm")
		assert.Error(t, err)
		assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	})
}

func TestClient_FetchRecordPlaceholder(t *testing.T) {
	t.Run("网关不可用", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		got := newTestClient(server, 1).FetchRecord(context.Background(), "Qm")
		assert.True(t, got.Partial)
		assert.Equal(t, domain.PlaceholderSubject, got.Subject)
	})

	t.Run("内容不是 JSON", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("not json"))
		}))
		defer server.Close()

		got := newTestClient(server, 0).FetchRecord(context.Background(), "Qm")
		assert.True(t, got.Partial)
	})
}
