package cli

import (
	"context"
	"strings"

	"ledgermail/backend/internal/bridge"
	"ledgermail/backend/internal/settlement"
)

// Sender 发送邮件
type Sender interface {
	Send(ctx context.Context, req settlement.SendRequest) (*settlement.SendResult, error)
}

// InboundHandler 把中继收到的传统邮件以会话身份索引给原生收件人
func InboundHandler(sender Sender) bridge.Handler {
	return func(ctx context.Context, env bridge.Envelope) error {
		recipient, _, _ := strings.Cut(env.To, "@")

		body := env.Text
		if env.From != "" {
			body = "From: " + env.From + "\n\n" + body
		}
		if strings.TrimSpace(body) == "" {
			body = "(no content)"
		}

		_, err := sender.Send(ctx, settlement.SendRequest{
			Recipients: []string{recipient},
			Subject:    env.Subject,
			Body:       body,
			HTMLBody:   env.HTML,
		})
		return err
	}
}
