// Package mail delivers directory email: invitations synchronously and
// notifications through a background dispatcher.
package mail

import (
	"context"
	"errors"
	"fmt"
	"strings"

	gomail "gopkg.in/mail.v2"

	"collabdir/internal/core"
)

// Compile-time contract assertions.
var (
	_ core.Mailer = (*SMTPSender)(nil)
	_ core.Mailer = LogSender{}
)

// SMTPConfig configures an SMTP relay.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPSender sends plain-text messages through an SMTP relay, one
// connection per message.
type SMTPSender struct {
	from string
	send func(*gomail.Message) error
}

// NewSMTPSender validates cfg and returns a sender for it.
func NewSMTPSender(cfg SMTPConfig) (*SMTPSender, error) {
	if strings.TrimSpace(cfg.Host) == "" {
		return nil, errors.New("smtp host required")
	}
	if strings.TrimSpace(cfg.From) == "" {
		return nil, errors.New("smtp from address required")
	}
	port := cfg.Port
	if port == 0 {
		port = 587
	}
	dialer := gomail.NewDialer(cfg.Host, port, cfg.Username, cfg.Password)
	dialer.StartTLSPolicy = gomail.MandatoryStartTLS
	return &SMTPSender{
		from: cfg.From,
		send: func(m *gomail.Message) error { return dialer.DialAndSend(m) },
	}, nil
}

// Send delivers msg. It fails fast when ctx is already done.
func (s *SMTPSender) Send(ctx context.Context, msg core.Email) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m, err := buildMessage(s.from, msg)
	if err != nil {
		return err
	}
	if err := s.send(m); err != nil {
		return fmt.Errorf("smtp send to %s: %w", msg.To, err)
	}
	return nil
}

func buildMessage(from string, msg core.Email) (*gomail.Message, error) {
	to := strings.TrimSpace(msg.To)
	if to == "" {
		return nil, errors.New("recipient required")
	}
	m := gomail.NewMessage()
	m.SetHeader("From", from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", msg.Subject)
	m.SetBody("text/plain", msg.Body)
	return m, nil
}

// LogSender writes messages to a logger instead of sending them.
type LogSender struct {
	Logger core.Logger
}

// Send implements core.Mailer.
func (l LogSender) Send(_ context.Context, msg core.Email) error {
	if l.Logger != nil {
		l.Logger.Info("mail", "to", msg.To, "subject", msg.Subject, "bytes", len(msg.Body))
	}
	return nil
}
