package bridge

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// WebhookSink 通过 HTTP webhook 投递
//
// 请求体为 Envelope 的 JSON，携带 HMAC-SHA256 签名；响应 {"success": true} 视为成功。
type WebhookSink struct {
	url        string
	secret     string
	httpClient *http.Client
}

type webhookResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// NewWebhookSink 创建 webhook 出口
func NewWebhookSink(url, secret string, timeout time.Duration) *WebhookSink {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookSink{
		url:    url,
		secret: secret,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Send 投递一封信
func (s *WebhookSink) Send(ctx context.Context, env Envelope) error {
	if env.To == "" {
		return ErrNoRecipient
	}

	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Bridge-Delivery", uuid.New().String())
	if s.secret != "" {
		req.Header.Set("X-Bridge-Signature", Sign(payload, s.secret))
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("bridge returned status %d", resp.StatusCode)
	}

	var out webhookResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return fmt.Errorf("failed to decode bridge response: %w", err)
	}
	if !out.Success {
		return fmt.Errorf("%w: %s", ErrRejected, out.Error)
	}
	return nil
}

// Sign 计算 payload 的 HMAC-SHA256 签名
func Sign(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return "sha256=" + hex.EncodeToString(h.Sum(nil))
}

// Verify 校验签名
func Verify(payload []byte, secret, signature string) bool {
	return hmac.Equal([]byte(Sign(payload, secret)), []byte(signature))
}
