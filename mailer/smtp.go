package mailer

import (
	"context"
	"fmt"

	"github.com/wneessen/go-mail"
)

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPMailer sends mail through an authenticated SMTP relay.
type SMTPMailer struct {
	config SMTPConfig
}

func NewSMTPMailer(config SMTPConfig) *SMTPMailer {
	return &SMTPMailer{config: config}
}

func (m *SMTPMailer) Send(ctx context.Context, msg Message) error {
	email, err := m.buildMsg(msg)
	if err != nil {
		return err
	}

	client, err := mail.NewClient(m.config.Host,
		mail.WithPort(m.config.Port),
		mail.WithSMTPAuth(mail.SMTPAuthLogin),
		mail.WithUsername(m.config.Username),
		mail.WithPassword(m.config.Password),
		mail.WithTLSPolicy(mail.TLSMandatory),
	)
	if err != nil {
		return fmt.Errorf("[SMTPMailer.Send] new client: %w", err)
	}

	if err := client.DialAndSendWithContext(ctx, email); err != nil {
		return fmt.Errorf("[SMTPMailer.Send] send to %s: %w", msg.To, err)
	}
	return nil
}

func (m *SMTPMailer) buildMsg(msg Message) (*mail.Msg, error) {
	email := mail.NewMsg()
	if err := email.From(m.config.From); err != nil {
		return nil, fmt.Errorf("[SMTPMailer.Send] from: %w", err)
	}
	if err := email.To(msg.To); err != nil {
		return nil, fmt.Errorf("[SMTPMailer.Send] to: %w", err)
	}
	email.Subject(msg.Subject)
	email.SetBodyString(mail.TypeTextHTML, msg.HTML)
	if msg.Text != "" {
		email.AddAlternativeString(mail.TypeTextPlain, msg.Text)
	}
	return email, nil
}
