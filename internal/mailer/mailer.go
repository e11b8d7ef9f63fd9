// Package mailer delivers result and failure notifications over SMTP.
package mailer

import (
	"context"
	"fmt"
	"log/slog"

	mail "github.com/wneessen/go-mail"

	"github.com/me/simq/internal/config"
)

// Attachment is a file to include with a message.
type Attachment struct {
	Name string
	Path string
}

// Message is one outbound email.
type Message struct {
	To          string
	Subject     string
	Body        string
	Attachments []Attachment
}

// Mailer sends messages. Implementations must be safe for concurrent
// use.
type Mailer interface {
	Send(ctx context.Context, m *Message) error
}

// New returns an SMTP mailer when a host is configured, otherwise a
// log-only mailer so the system stays usable in development.
func New(cfg config.MailConfig, logger *slog.Logger) (Mailer, error) {
	if cfg.Host == "" {
		logger.Warn("no SMTP host configured, emails will only be logged")
		return &LogMailer{logger: logger.With("component", "mailer")}, nil
	}
	return NewSMTP(cfg, logger)
}

// SMTPMailer sends through a real SMTP server.
type SMTPMailer struct {
	client *mail.Client
	from   string
	logger *slog.Logger
}

// NewSMTP creates an SMTP mailer from configuration.
func NewSMTP(cfg config.MailConfig, logger *slog.Logger) (*SMTPMailer, error) {
	opts := []mail.Option{}
	if cfg.Port != 0 {
		opts = append(opts, mail.WithPort(cfg.Port))
	}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}
	if cfg.StartTLS {
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
	} else {
		opts = append(opts, mail.WithTLSPolicy(mail.TLSOpportunistic))
	}

	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("smtp client: %w", err)
	}
	return &SMTPMailer{
		client: client,
		from:   cfg.From,
		logger: logger.With("component", "mailer"),
	}, nil
}

// Send delivers one message, attachments included.
func (s *SMTPMailer) Send(ctx context.Context, m *Message) error {
	msg := mail.NewMsg()
	if err := msg.From(s.from); err != nil {
		return fmt.Errorf("from address: %w", err)
	}
	if err := msg.To(m.To); err != nil {
		return fmt.Errorf("to address: %w", err)
	}
	msg.Subject(m.Subject)
	msg.SetBodyString(mail.TypeTextPlain, m.Body)
	for _, a := range m.Attachments {
		msg.AttachFile(a.Path, mail.WithFileName(a.Name))
	}

	if err := s.client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("send to %s: %w", m.To, err)
	}
	s.logger.Info("email sent", "to", m.To, "subject", m.Subject, "attachments", len(m.Attachments))
	return nil
}

// LogMailer records messages in the log instead of sending them.
type LogMailer struct {
	logger *slog.Logger
}

// Send logs the message and succeeds.
func (l *LogMailer) Send(ctx context.Context, m *Message) error {
	l.logger.Info("email suppressed (no SMTP host)",
		"to", m.To, "subject", m.Subject, "attachments", len(m.Attachments))
	return nil
}
