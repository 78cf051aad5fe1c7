package mailer

import (
	"bytes"
	"crypto/tls"
	"fmt"
	"net/smtp"

	"github.com/ternarybob/numerus/internal/common"
)

// Sender delivers a rendered email over SMTP. It abstracts the transport
// so the dispatcher and tests can substitute their own delivery.
type Sender interface {
	Send(email *Email) error
}

// SMTPSender sends through the configured SMTP relay, optionally with
// STARTTLS and authentication.
type SMTPSender struct {
	config common.EmailConfig
}

func NewSMTPSender(config common.EmailConfig) *SMTPSender {
	return &SMTPSender{config: config}
}

// Send connects, optionally upgrades to TLS, authenticates and delivers
// one message. Each send uses a fresh connection; result email volume is
// low enough that connection reuse buys nothing.
func (s *SMTPSender) Send(email *Email) error {
	var buf bytes.Buffer
	if err := email.WriteTo(&buf, s.config.FromAddress, s.config.CC); err != nil {
		return fmt.Errorf("failed to render email: %w", err)
	}

	client, err := smtp.Dial(s.config.Addr())
	if err != nil {
		return fmt.Errorf("failed to connect to smtp server %s: %w", s.config.Addr(), err)
	}
	defer client.Close()

	if s.config.UseTLS {
		if err := client.StartTLS(&tls.Config{ServerName: s.config.SMTPHost}); err != nil {
			return fmt.Errorf("starttls failed: %w", err)
		}
	}
	if s.config.UseAuth {
		auth := smtp.PlainAuth("", s.config.Username, s.config.Password, s.config.SMTPHost)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth failed: %w", err)
		}
	}

	if err := client.Mail(s.config.FromAddress); err != nil {
		return fmt.Errorf("mail from rejected: %w", err)
	}
	for _, rcpt := range email.Recipients(s.config.CC, s.config.BCC) {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("recipient %s rejected: %w", rcpt, err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("data command failed: %w", err)
	}
	if _, err := w.Write(buf.Bytes()); err != nil {
		w.Close()
		return fmt.Errorf("failed to write message data: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to finish message data: %w", err)
	}

	return client.Quit()
}
