package mailer

import (
	"crypto/tls"
	"fmt"

	mail "github.com/go-mail/mail/v2"

	"github.com/noah-isme/scholarship-api/pkg/config"
)

// Message is a plain-text notification.
type Message struct {
	To      []string
	Subject string
	Body    string
}

// Sender delivers messages.
type Sender interface {
	Send(msg Message) error
}

// SMTPMailer sends messages through an SMTP relay using STARTTLS.
type SMTPMailer struct {
	cfg config.MailConfig
}

// NewSMTPMailer constructs an SMTP mailer.
func NewSMTPMailer(cfg config.MailConfig) *SMTPMailer {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	return &SMTPMailer{cfg: cfg}
}

// Send delivers msg. An empty recipient list is a no-op.
func (m *SMTPMailer) Send(msg Message) error {
	if len(msg.To) == 0 {
		return nil
	}
	if m.cfg.Host == "" || m.cfg.From == "" {
		return fmt.Errorf("smtp not configured (SMTP_HOST/SMTP_FROM)")
	}

	message := mail.NewMessage()
	message.SetHeader("From", m.cfg.From)
	message.SetHeader("To", msg.To...)
	message.SetHeader("Subject", msg.Subject)
	message.SetBody("text/plain", msg.Body)

	dialer := mail.NewDialer(m.cfg.Host, m.cfg.Port, m.cfg.Username, m.cfg.Password)
	dialer.StartTLSPolicy = mail.MandatoryStartTLS
	dialer.TLSConfig = &tls.Config{
		ServerName:         m.cfg.Host,
		InsecureSkipVerify: m.cfg.SkipTLSVerify, //nolint:gosec
	}

	if err := dialer.DialAndSend(message); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	return nil
}

// NopSender discards messages.
type NopSender struct{}

// Send implements Sender.
func (NopSender) Send(Message) error { return nil }
