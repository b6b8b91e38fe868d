package content

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"ledgermail/backend/internal/domain"
	"ledgermail/backend/internal/monitoring"
)

var (
	// ErrNotFound 内容存储中没有该地址
	ErrNotFound = errors.New("content not found")
	// ErrEmptyAddress 内容存储没有返回地址
	ErrEmptyAddress = errors.New("content store returned no address")
)

// maxBlobSize 单个内容的读取上限
const maxBlobSize = 32 << 20

// Client 内容存储客户端
//
// 读取地址按 {gatewayBase}/{address} 拼接，上传以 multipart 方式 POST 到 uploadURL。
// 读请求对网络错误和 5xx 做有限次数的指数退避重试，404 不重试。写请求不重试。
type Client struct {
	gatewayBase string
	uploadURL   string
	httpClient  *http.Client
	maxRetries  int
	retryDelay  time.Duration
	logger      *zap.Logger
	metrics     *monitoring.Metrics
}

// NewClient 创建内容存储客户端
func NewClient(gatewayBase, uploadURL string, timeout time.Duration, maxRetries int, logger *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		gatewayBase: strings.TrimRight(gatewayBase, "/"),
		uploadURL:   uploadURL,
		httpClient:  &http.Client{Timeout: timeout},
		maxRetries:  maxRetries,
		retryDelay:  200 * time.Millisecond,
		logger:      logger,
	}
}

// SetRetryDelay 设置重试基础间隔
func (c *Client) SetRetryDelay(d time.Duration) {
	c.retryDelay = d
}

// SetMetrics 设置监控指标
func (c *Client) SetMetrics(metrics *monitoring.Metrics) {
	c.metrics = metrics
}

// uploadResponse 兼容几种常见网关的上传响应
type uploadResponse struct {
	Hash    string `json:"Hash"`
	CID     string `json:"cid"`
	Address string `json:"address"`
}

func (r uploadResponse) address() string {
	switch {
	case r.Hash != "":
		return r.Hash
	case r.CID != "":
		return r.CID
	default:
		return r.Address
	}
}

// Put 上传内容，返回内容地址
func (c *Client) Put(ctx context.Context, data []byte) (string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", "content.json")
	if err != nil {
		return "", err
	}
	if _, err := part.Write(data); err != nil {
		return "", err
	}
	if err := writer.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.uploadURL, &buf)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to upload content: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, resp.Body)
		return "", fmt.Errorf("content store returned status %d", resp.StatusCode)
	}

	var out uploadResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode upload response: %w", err)
	}
	address := out.address()
	if address == "" {
		return "", ErrEmptyAddress
	}
	return address, nil
}

// Get 读取内容，未找到返回 ErrNotFound
func (c *Client) Get(ctx context.Context, address string) ([]byte, error) {
	if address == "" {
		return nil, ErrNotFound
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := c.retryDelay * time.Duration(1<<(attempt-1))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		data, retry, err := c.get(ctx, address)
		if err == nil {
			return data, nil
		}
		if !retry {
			return nil, err
		}
		lastErr = err
		c.logger.Debug("Content fetch failed, retrying",
			zap.String("address", address),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
	}

	return nil, fmt.Errorf("content fetch failed after %d attempts: %w", c.maxRetries+1, lastErr)
}

// get 单次读取，返回是否值得重试
func (c *Client) get(ctx context.Context, address string) ([]byte, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.gatewayBase+"/"+address, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		return nil, true, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, false, ErrNotFound
	case resp.StatusCode >= 500:
		io.Copy(io.Discard, resp.Body)
		return nil, true, fmt.Errorf("content gateway returned status %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, false, fmt.Errorf("content gateway returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBlobSize))
	if err != nil {
		return nil, true, err
	}
	return data, false, nil
}

// PutRecord 以 JSON 编码上传邮件内容
func (c *Client) PutRecord(ctx context.Context, record *domain.ContentRecord) (string, error) {
	data, err := json.Marshal(record)
	if err != nil {
		return "", fmt.Errorf("failed to encode content: %w", err)
	}
	return c.Put(ctx, data)
}

// FetchRecord 读取并解码邮件内容。
//
// 不会返回错误：任何失败都降级为占位内容（Partial 为 true），调用方在下次刷新时重试。
func (c *Client) FetchRecord(ctx context.Context, address string) *domain.ContentRecord {
	data, err := c.Get(ctx, address)
	if err != nil {
		c.logger.Warn("Failed to fetch content, using placeholder",
			zap.String("address", address),
			zap.Error(err))
		c.metrics.RecordContentFetchFailure()
		return domain.PlaceholderContent()
	}

	var record domain.ContentRecord
	if err := json.Unmarshal(data, &record); err != nil {
		c.logger.Warn("Failed to decode content, using placeholder",
			zap.String("address", address),
			zap.Error(err))
		c.metrics.RecordContentFetchFailure()
		return domain.PlaceholderContent()
	}
	return &record
}
