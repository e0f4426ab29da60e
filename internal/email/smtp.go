package email

import (
	"context"
	"fmt"
	"net"
	"time"

	"leadflow_backend/platform/config"

	gomail "github.com/wneessen/go-mail"
)

const smtpTimeout = 15 * time.Second

// SMTPSender delivers through the shared sender mailbox, authenticating with
// its app password.
type SMTPSender struct {
	host     string
	port     int
	mailbox  string
	password string
	fromName string
}

// NewSMTPSenderFromConfig returns nil when the shared mailbox is not configured.
func NewSMTPSenderFromConfig(cfg config.EmailConfig) *SMTPSender {
	if cfg.GetSMTPHost() == "" || cfg.GetEmailFromAddress() == "" || cfg.GetEmailAppPassword() == "" {
		return nil
	}
	return &SMTPSender{
		host:     cfg.GetSMTPHost(),
		port:     cfg.GetSMTPPort(),
		mailbox:  cfg.GetEmailFromAddress(),
		password: cfg.GetEmailAppPassword(),
		fromName: cfg.GetEmailFromName(),
	}
}

func (s *SMTPSender) Send(ctx context.Context, m Message) (Receipt, error) {
	msg, err := buildMsg(s.fromName, s.mailbox, m)
	if err != nil {
		return Receipt{}, err
	}
	client, err := gomail.NewClient(s.host, s.clientOptions()...)
	if err != nil {
		return Receipt{}, fmt.Errorf("smtp client: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return Receipt{}, fmt.Errorf("smtp send to %s: %w", m.To, err)
	}
	return Receipt{Provider: ProviderSMTP, MessageID: messageID(msg)}, nil
}

// Some hosted relays publish AAAA records they do not serve on, so dial v4.
func (s *SMTPSender) clientOptions() []gomail.Option {
	return []gomail.Option{
		gomail.WithPort(s.port),
		gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
		gomail.WithUsername(s.mailbox),
		gomail.WithPassword(s.password),
		gomail.WithTLSPortPolicy(gomail.TLSOpportunistic),
		gomail.WithTimeout(smtpTimeout),
		gomail.WithDialContextFunc(func(ctx context.Context, _, addr string) (net.Conn, error) {
			return (&net.Dialer{}).DialContext(ctx, "tcp4", addr)
		}),
	}
}
