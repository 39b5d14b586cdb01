package notification

import (
	"fmt"
	"net/smtp"
	"strings"

	"Go2NetSentinel/internal/config"
	"Go2NetSentinel/internal/model"
)

// EmailNotifier implements the Notifier interface for sending emails.
type EmailNotifier struct {
	cfg        config.SMTPConfig
	auth       smtp.Auth
	recipients []string
	send       func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewEmailNotifier creates a new EmailNotifier.
func NewEmailNotifier(cfg config.SMTPConfig) model.Notifier {
	var recipients []string
	for _, r := range strings.Split(cfg.To, ",") {
		if r = strings.TrimSpace(r); r != "" {
			recipients = append(recipients, r)
		}
	}

	// PlainAuth will not send credentials until the server identifies itself as a trusted one.
	var auth smtp.Auth
	if cfg.Username != "" {
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}
	return &EmailNotifier{cfg: cfg, auth: auth, recipients: recipients, send: smtp.SendMail}
}

// Send sends an HTML email to the configured recipients.
func (n *EmailNotifier) Send(subject, body string) error {
	if len(n.recipients) == 0 {
		return fmt.Errorf("no email recipients configured")
	}
	addr := fmt.Sprintf("%s:%d", n.cfg.Host, n.cfg.Port)
	if err := n.send(addr, n.auth, n.cfg.From, n.recipients, buildMessage(n.cfg.From, n.recipients, subject, body)); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}

func buildMessage(from string, to []string, subject, body string) []byte {
	// Header injection guard.
	subject = strings.NewReplacer("\r", " ", "\n", " ").Replace(subject)
	return []byte("To: " + strings.Join(to, ", ") + "\r\n" +
		"From: " + from + "\r\n" +
		"Subject: " + subject + "\r\n" +
		"MIME-Version: 1.0\r\n" +
		"Content-Type: text/html; charset=UTF-8\r\n" +
		"\r\n" +
		body)
}
