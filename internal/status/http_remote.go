package status

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"ledgermail/backend/internal/domain"
)

// HTTPRemote 通过 HTTP 访问的远程状态存储
//
// 协议：
//   - GET  {baseURL}?owner=  返回 {id: Status}
//   - POST {baseURL}         body {"id", "status", "owner"}
type HTTPRemote struct {
	baseURL    string
	httpClient *http.Client
	token      string
}

// SyncPayload 单条状态的传输格式
type SyncPayload struct {
	ID     string        `json:"id"`
	Status domain.Status `json:"status"`
	Owner  string        `json:"owner"`
}

// NewHTTPRemote 创建远程状态存储客户端
func NewHTTPRemote(baseURL string, timeout time.Duration) *HTTPRemote {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPRemote{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// SetToken 设置访问令牌
func (r *HTTPRemote) SetToken(token string) {
	r.token = token
}

// Fetch 读取某个所有者的全部状态
func (r *HTTPRemote) Fetch(ctx context.Context, owner string) (map[string]domain.Status, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"?owner="+url.QueryEscape(owner), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	r.authorize(req)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to query status store: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return map[string]domain.Status{}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status store returned status %d", resp.StatusCode)
	}

	out := make(map[string]domain.Status)
	if err := json.NewDecoder(io.LimitReader(resp.Body, 8<<20)).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode statuses: %w", err)
	}
	return out, nil
}

// Push 写入单封邮件的状态
func (r *HTTPRemote) Push(ctx context.Context, owner, id string, st domain.Status) error {
	body, err := json.Marshal(SyncPayload{ID: id, Status: st, Owner: owner})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	r.authorize(req)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to push status: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("status store returned status %d", resp.StatusCode)
	}
	return nil
}

func (r *HTTPRemote) authorize(req *http.Request) {
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}
}
