// Package mailer wraps the SMTP transport behind a small interface so
// the notifier and the queue consumer can be tested with a fake.  The
// transport reports acceptance synchronously; callers treat an error as
// "not sent" and leave their markers unset so the item is retried.
package mailer

import (
	"context"

	"github.com/wneessen/go-mail"

	"github.com/nkoval/studio-booking/internal/config"
)

// Mailer delivers a single transactional email and reports whether the
// transport accepted it.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// SMTPMailer is the production Mailer backed by go-mail.
type SMTPMailer struct {
	cfg config.MailConfig
}

// NewSMTP constructs an SMTPMailer from the mail configuration.
func NewSMTP(cfg config.MailConfig) *SMTPMailer {
	return &SMTPMailer{cfg: cfg}
}

// Send delivers one plain-text message.  A new client per send keeps the
// mailer stateless; batch pacing lives in the notifier, not here.
func (m *SMTPMailer) Send(ctx context.Context, to, subject, body string) error {
	msg := mail.NewMsg()
	if err := msg.From(m.cfg.From); err != nil {
		return err
	}
	if err := msg.To(to); err != nil {
		return err
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextPlain, body)

	opts := []mail.Option{mail.WithPort(m.cfg.Port)}
	if m.cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(m.cfg.Username),
			mail.WithPassword(m.cfg.Password),
		)
	}
	client, err := mail.NewClient(m.cfg.Host, opts...)
	if err != nil {
		return err
	}
	return client.DialAndSendWithContext(ctx, msg)
}
