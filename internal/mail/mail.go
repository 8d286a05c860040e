// Package mail delivers rendered reports as email attachments. One message
// per delivery; no bounce handling, no confirmation beyond the SMTP
// conversation succeeding.
package mail

import (
	"context"
	"fmt"

	gomail "github.com/wneessen/go-mail"

	"grantdesk/internal/config"
)

// Sender sends one message with a file attached. The engine depends on this
// interface so tests can substitute a recording fake.
type Sender interface {
	Send(ctx context.Context, to, subject, body, attachmentPath string) error
}

// SMTPSender sends through a configured SMTP relay.
type SMTPSender struct {
	cfg config.Mail
}

func NewSMTPSender(cfg config.Mail) *SMTPSender {
	return &SMTPSender{cfg: cfg}
}

func (s *SMTPSender) Send(ctx context.Context, to, subject, body, attachmentPath string) error {
	msg := gomail.NewMsg()
	if err := msg.From(s.cfg.From); err != nil {
		return fmt.Errorf("mail from %q: %w", s.cfg.From, err)
	}
	if err := msg.To(to); err != nil {
		return fmt.Errorf("mail to %q: %w", to, err)
	}
	msg.Subject(subject)
	msg.SetBodyString(gomail.TypeTextPlain, body)
	if attachmentPath != "" {
		msg.AttachFile(attachmentPath)
	}

	opts := []gomail.Option{
		gomail.WithPort(s.cfg.Port),
		gomail.WithTLSPolicy(gomail.TLSOpportunistic),
	}
	if s.cfg.Username != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(s.cfg.Username),
			gomail.WithPassword(s.cfg.Password),
		)
	}
	client, err := gomail.NewClient(s.cfg.Host, opts...)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("send to %s: %w", to, err)
	}
	return nil
}
