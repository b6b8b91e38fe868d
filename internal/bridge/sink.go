package bridge

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"ledgermail/backend/internal/config"
)

var (
	// ErrRejected 桥接服务明确拒绝投递
	ErrRejected = errors.New("bridge rejected delivery")
	// ErrNoRecipient 缺少收件地址
	ErrNoRecipient = errors.New("bridge envelope has no recipient")
	// ErrBridgeDisabled 未配置桥接，信件没有投递
	ErrBridgeDisabled = errors.New("email bridge is not configured")
)

// Envelope 投递到传统邮件的一封信
type Envelope struct {
	To      string `json:"to"`
	From    string `json:"from"`
	ReplyTo string `json:"replyTo,omitempty"`
	Subject string `json:"subject"`
	Text    string `json:"text"`
	HTML    string `json:"html,omitempty"`
}

// Sink 传统邮件桥接出口，尽力投递
type Sink interface {
	Send(ctx context.Context, env Envelope) error
}

// NoopSink 不做任何投递，用于未配置桥接的部署
type NoopSink struct{}

// Send 不投递，返回 ErrBridgeDisabled
func (NoopSink) Send(context.Context, Envelope) error { return ErrBridgeDisabled }

// IsExternal 判断地址是否在原生命名空间之外：包含 @ 且域名不是原生域名
func IsExternal(address, nativeDomain string) bool {
	at := strings.LastIndex(address, "@")
	if at < 0 || at == len(address)-1 {
		return false
	}
	domain := strings.ToLower(address[at+1:])
	return domain != strings.ToLower(nativeDomain)
}

// New 根据配置创建桥接出口
func New(cfg config.BridgeConfig) (Sink, error) {
	switch cfg.Mode {
	case "", "none":
		return NoopSink{}, nil
	case "webhook":
		return NewWebhookSink(cfg.WebhookURL, cfg.WebhookSecret, 0), nil
	case "smtp":
		return NewSMTPSink(cfg.SMTPAddr, cfg.SMTPFrom), nil
	default:
		return nil, fmt.Errorf("unsupported bridge mode: %s", cfg.Mode)
	}
}
