package locator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// HTTPStore 持久化存储层，通过 HTTP 访问定位映射服务
//
// 协议：
//   - POST {baseURL}           body {"locator": "0x..", "fullAddress": ".."}
//   - GET  {baseURL}?locator=  返回 {"fullAddress": ".."}，未命中返回 404
type HTTPStore struct {
	baseURL    string
	httpClient *http.Client
	token      string
}

// MappingPayload 定位映射的传输格式
type MappingPayload struct {
	Locator     string `json:"locator"`
	FullAddress string `json:"fullAddress"`
}

// NewHTTPStore 创建持久化存储层
func NewHTTPStore(baseURL string, timeout time.Duration) *HTTPStore {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPStore{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// SetToken 设置访问令牌，请求时以 Bearer 方式携带
func (s *HTTPStore) SetToken(token string) {
	s.token = token
}

// Name 返回存储层名称
func (s *HTTPStore) Name() string { return "durable" }

// Lookup 查询映射
func (s *HTTPStore) Lookup(ctx context.Context, digest [32]byte) (string, error) {
	endpoint := s.baseURL + "?locator=" + url.QueryEscape(Hex(digest))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	s.authorize(req)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to query locator store: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("locator store returned status %d", resp.StatusCode)
	}

	var payload MappingPayload
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&payload); err != nil {
		return "", fmt.Errorf("failed to decode locator response: %w", err)
	}
	if payload.FullAddress == "" {
		return "", ErrNotFound
	}
	return payload.FullAddress, nil
}

// Store 写入映射
func (s *HTTPStore) Store(ctx context.Context, digest [32]byte, address string) error {
	body, err := json.Marshal(MappingPayload{Locator: Hex(digest), FullAddress: address})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	s.authorize(req)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to write locator store: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("locator store returned status %d", resp.StatusCode)
	}
	return nil
}

func (s *HTTPStore) authorize(req *http.Request) {
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
}
