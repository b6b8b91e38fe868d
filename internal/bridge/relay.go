package bridge

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"time"

	gosmtp "github.com/emersion/go-smtp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Handler 处理 Relay 收到的每一封信，每个收件人调用一次
type Handler func(ctx context.Context, env Envelope) error

// RelayOptions Relay 配置
type RelayOptions struct {
	Domain   string   // 服务器 HELO 域名
	Accept   []string // 接收的收件域名，留空表示全部接收
	RatePerS float64  // 每秒允许新建的会话数，<=0 不限制
}

// Relay 只接收不转发的 SMTP 服务，作为传统邮件一侧的开发替身
//
// 它接收 SMTPSink 投递的邮件，解析成 Envelope 后交给 Handler。
type Relay struct {
	server  *gosmtp.Server
	handler Handler
	accept  map[string]struct{}
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewRelay 创建 Relay
func NewRelay(addr string, opts RelayOptions, handler Handler, logger *zap.Logger) *Relay {
	if logger == nil {
		logger = zap.NewNop()
	}

	r := &Relay{
		handler: handler,
		accept:  make(map[string]struct{}, len(opts.Accept)),
		logger:  logger,
	}
	for _, d := range opts.Accept {
		r.accept[strings.ToLower(d)] = struct{}{}
	}
	if opts.RatePerS > 0 {
		r.limiter = rate.NewLimiter(rate.Limit(opts.RatePerS), int(opts.RatePerS)+1)
	}

	server := gosmtp.NewServer(r)
	server.Addr = addr
	server.Domain = opts.Domain
	server.AllowInsecureAuth = true
	server.ReadTimeout = 10 * time.Second
	server.WriteTimeout = 10 * time.Second
	server.MaxMessageBytes = maxMessageBytes
	server.MaxRecipients = 50
	r.server = server

	return r
}

// Serve 在给定监听器上服务，直到 Close
func (r *Relay) Serve(l net.Listener) error {
	err := r.server.Serve(l)
	if errors.Is(err, gosmtp.ErrServerClosed) {
		return nil
	}
	return err
}

// ListenAndServe 监听配置地址并服务
func (r *Relay) ListenAndServe() error {
	err := r.server.ListenAndServe()
	if errors.Is(err, gosmtp.ErrServerClosed) {
		return nil
	}
	return err
}

// Close 关闭服务
func (r *Relay) Close() error {
	return r.server.Close()
}

// NewSession 实现 gosmtp.Backend
func (r *Relay) NewSession(c *gosmtp.Conn) (gosmtp.Session, error) {
	if r.limiter != nil && !r.limiter.Allow() {
		return nil, &gosmtp.SMTPError{
			Code:         421,
			EnhancedCode: gosmtp.EnhancedCode{4, 7, 0},
			Message:      "too many connections, try again later",
		}
	}
	return &relaySession{relay: r}, nil
}

type relaySession struct {
	relay      *Relay
	from       string
	recipients []string
}

func (s *relaySession) Mail(from string, _ *gosmtp.MailOptions) error {
	s.from = from
	return nil
}

func (s *relaySession) Rcpt(to string, _ *gosmtp.RcptOptions) error {
	addr := normalizeAddress(to)
	at := strings.LastIndex(addr, "@")
	if at <= 0 || at == len(addr)-1 {
		return &gosmtp.SMTPError{
			Code:         501,
			EnhancedCode: gosmtp.EnhancedCode{5, 1, 3},
			Message:      "invalid recipient address",
		}
	}

	if len(s.relay.accept) > 0 {
		if _, ok := s.relay.accept[addr[at+1:]]; !ok {
			return &gosmtp.SMTPError{
				Code:         550,
				EnhancedCode: gosmtp.EnhancedCode{5, 7, 1},
				Message:      "relay access denied",
			}
		}
	}

	s.recipients = append(s.recipients, addr)
	return nil
}

func (s *relaySession) Data(r io.Reader) error {
	raw, err := io.ReadAll(io.LimitReader(r, maxMessageBytes))
	if err != nil {
		return err
	}

	env, err := ParseMessage(raw)
	if err != nil {
		return &gosmtp.SMTPError{
			Code:         554,
			EnhancedCode: gosmtp.EnhancedCode{5, 6, 0},
			Message:      "malformed message",
		}
	}
	if env.From == "" {
		env.From = s.from
	}

	for _, rcpt := range s.recipients {
		delivered := env
		delivered.To = rcpt
		if err := s.relay.handler(context.Background(), delivered); err != nil {
			s.relay.logger.Warn("relay handler failed",
				zap.String("to", rcpt),
				zap.Error(err),
			)
			return &gosmtp.SMTPError{
				Code:         451,
				EnhancedCode: gosmtp.EnhancedCode{4, 3, 0},
				Message:      "temporary delivery failure",
			}
		}
		s.relay.logger.Info("relay received message",
			zap.String("from", env.From),
			zap.String("to", rcpt),
			zap.String("subject", env.Subject),
		)
	}
	return nil
}

func (s *relaySession) Reset() {
	s.from = ""
	s.recipients = nil
}

func (s *relaySession) Logout() error {
	return nil
}

func normalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	addr = strings.Trim(addr, "<>")
	return strings.ToLower(addr)
}
