package bridge

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"mime/multipart"
	"net/textproto"
	"time"

	gosmtp "github.com/emersion/go-smtp"
	"github.com/google/uuid"
)

// SMTPSink 通过 SMTP 中继投递
type SMTPSink struct {
	addr string
	from string // 信封发件人
	now  func() time.Time
}

// NewSMTPSink 创建 SMTP 出口
func NewSMTPSink(addr, from string) *SMTPSink {
	return &SMTPSink{addr: addr, from: from, now: time.Now}
}

// Send 投递一封信
func (s *SMTPSink) Send(ctx context.Context, env Envelope) error {
	if env.To == "" {
		return ErrNoRecipient
	}

	msg, err := s.compose(env)
	if err != nil {
		return err
	}

	from := s.from
	if from == "" {
		from = env.From
	}

	done := make(chan error, 1)
	go func() {
		done <- gosmtp.SendMail(s.addr, nil, from, []string{env.To}, bytes.NewReader(msg))
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		if err != nil {
			return fmt.Errorf("smtp send: %w", err)
		}
		return nil
	}
}

// compose 构造 RFC 5322 邮件，有 HTML 时使用 multipart/alternative
func (s *SMTPSink) compose(env Envelope) ([]byte, error) {
	var buf bytes.Buffer

	header := func(key, value string) {
		if value != "" {
			fmt.Fprintf(&buf, "%s: %s\r\n", key, value)
		}
	}
	header("From", env.From)
	header("To", env.To)
	header("Reply-To", env.ReplyTo)
	header("Subject", mime.QEncoding.Encode("utf-8", env.Subject))
	header("Date", s.now().UTC().Format(time.RFC1123Z))
	header("Message-ID", "<"+uuid.New().String()+"@ledgermail>")
	header("MIME-Version", "1.0")

	if env.HTML == "" {
		header("Content-Type", "text/plain; charset=utf-8")
		buf.WriteString("\r\n")
		buf.WriteString(env.Text)
		return buf.Bytes(), nil
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	for _, part := range []struct {
		contentType string
		content     string
	}{
		{"text/plain; charset=utf-8", env.Text},
		{"text/html; charset=utf-8", env.HTML},
	} {
		w, err := writer.CreatePart(textproto.MIMEHeader{"Content-Type": {part.contentType}})
		if err != nil {
			return nil, err
		}
		if _, err := w.Write([]byte(part.content)); err != nil {
			return nil, err
		}
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	header("Content-Type", "multipart/alternative; boundary="+writer.Boundary())
	buf.WriteString("\r\n")
	buf.Write(body.Bytes())
	return buf.Bytes(), nil
}
