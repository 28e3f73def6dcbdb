package channels

import (
	"bytes"
	"context"
	"fmt"

	"github.com/wneessen/go-mail"

	"github.com/ignite/contact-orchestrator/internal/config"
)

// SMTPMailer sends through an authenticated SMTP relay (Gmail by default).
type SMTPMailer struct {
	host     string
	port     int
	username string
	password string
}

// NewSMTPMailer creates a mailer from notifier configuration.
func NewSMTPMailer(cfg config.NotifierConfig) *SMTPMailer {
	return &SMTPMailer{
		host:     cfg.SMTPHost,
		port:     cfg.SMTPPort,
		username: cfg.SMTPUsername,
		password: cfg.SMTPPassword,
	}
}

// buildMessage is split out so the MIME layout can be tested without a
// relay.
func buildMessage(msg EmailMessage) (*mail.Msg, error) {
	m := mail.NewMsg()
	if err := m.FromFormat(msg.FromName, msg.From); err != nil {
		return nil, fmt.Errorf("%w: from address: %v", ErrPermanent, err)
	}
	if err := m.To(msg.To); err != nil {
		return nil, fmt.Errorf("%w: to address: %v", ErrPermanent, err)
	}
	m.Subject(msg.Subject)
	m.SetBodyString(mail.TypeTextHTML, msg.HTML)
	for _, a := range msg.Attachments {
		if err := m.AttachReader(a.Name, bytes.NewReader(a.Data), mail.WithFileContentType(mail.ContentType(a.ContentType))); err != nil {
			return nil, fmt.Errorf("attach %s: %w", a.Name, err)
		}
	}
	return m, nil
}

func (s *SMTPMailer) Send(ctx context.Context, msg EmailMessage) error {
	m, err := buildMessage(msg)
	if err != nil {
		return err
	}

	opts := []mail.Option{
		mail.WithPort(s.port),
		mail.WithTLSPortPolicy(mail.TLSMandatory),
	}
	if s.username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(s.username),
			mail.WithPassword(s.password),
		)
	}
	client, err := mail.NewClient(s.host, opts...)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}
