// Package notify delivers best-effort email. When SMTP is not configured
// the service degrades to a console mailer so the rest of the pipeline
// never has to care.
package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"tracktally/config"
	"tracktally/core/utils"
)

type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// NewMailer picks the SMTP mailer when configured, otherwise a console
// no-op that only logs.
func NewMailer(cfg config.SMTPConfig, logger *utils.Logger) Mailer {
	if cfg.Configured() {
		return &SMTPMailer{cfg: cfg}
	}
	if logger != nil {
		logger.Warnf("smtp not configured, email notifications disabled")
	}
	return &ConsoleMailer{logger: logger}
}

type SMTPMailer struct {
	cfg config.SMTPConfig
}

func (m *SMTPMailer) Send(_ context.Context, to, subject, body string) error {
	addr := fmt.Sprintf("%s:%d", m.cfg.Host, m.cfg.Port)
	var auth smtp.Auth
	if m.cfg.Username != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}
	msg := strings.Join([]string{
		"From: " + m.cfg.From,
		"To: " + to,
		"Subject: " + subject,
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=utf-8",
		"",
		body,
	}, "\r\n")
	return smtp.SendMail(addr, auth, m.cfg.From, []string{to}, []byte(msg))
}

type ConsoleMailer struct {
	logger *utils.Logger
}

func (m *ConsoleMailer) Send(_ context.Context, to, subject, _ string) error {
	if m.logger != nil {
		m.logger.Printf("mail (console) to=%s subject=%q", utils.RedactEmail(to), subject)
	}
	return nil
}
