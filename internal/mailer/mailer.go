// Package mailer sends the password-reset email.
//
// Two implementations exist:
//   - SMTPMailer talks to a real SMTP relay (used when SMTP_HOST is set)
//   - LogMailer writes the link to the log (local development and tests)
package mailer

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"
)

// Mailer is the only outbound side effect of the reset flow.
type Mailer interface {
	SendPasswordReset(ctx context.Context, to, link string) error
}

// SMTPConfig holds the relay settings.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPMailer delivers mail through an SMTP relay.
type SMTPMailer struct {
	cfg  SMTPConfig
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

var _ Mailer = (*SMTPMailer)(nil)

// NewSMTPMailer creates an SMTPMailer. PLAIN auth is used only when a
// username is configured; net/smtp refuses PLAIN over an unencrypted
// connection to anything but localhost.
func NewSMTPMailer(cfg SMTPConfig) *SMTPMailer {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	return &SMTPMailer{cfg: cfg, send: smtp.SendMail}
}

// SendPasswordReset emails link to the address to.
//
// smtp.SendMail has no context parameter, so ctx is only checked before
// dialling. A cancelled request does not send mail.
func (m *SMTPMailer) SendPasswordReset(ctx context.Context, to, link string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mailer: sending reset email: %w", err)
	}
	if strings.ContainsAny(to, "\r\n") {
		return fmt.Errorf("mailer: invalid recipient %q", to)
	}

	var auth smtp.Auth
	if m.cfg.Username != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}

	addr := net.JoinHostPort(m.cfg.Host, strconv.Itoa(m.cfg.Port))
	msg := resetMessage(m.cfg.From, to, link, time.Now())
	if err := m.send(addr, auth, m.cfg.From, []string{to}, msg); err != nil {
		return fmt.Errorf("mailer: sending reset email to %s: %w", to, err)
	}
	return nil
}

// resetMessage builds an RFC 5322 message with CRLF line endings.
func resetMessage(from, to, link string, now time.Time) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: Reset your password\r\n")
	fmt.Fprintf(&b, "Date: %s\r\n", now.Format(time.RFC1123Z))
	fmt.Fprintf(&b, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&b, "Content-Type: text/plain; charset=\"utf-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString("Someone asked to reset the password for this account.\r\n\r\n")
	b.WriteString("Open this link to choose a new one:\r\n")
	b.WriteString(link + "\r\n\r\n")
	b.WriteString("The link works once and expires soon. If you did not ask for it, ignore this email.\r\n")
	return b.Bytes()
}

// LogMailer logs the reset link instead of sending it.
type LogMailer struct {
	logger *slog.Logger
}

var _ Mailer = (*LogMailer)(nil)

// NewLogMailer creates a LogMailer.
func NewLogMailer(logger *slog.Logger) *LogMailer {
	return &LogMailer{logger: logger}
}

// SendPasswordReset logs the link at info level.
func (m *LogMailer) SendPasswordReset(ctx context.Context, to, link string) error {
	m.logger.InfoContext(ctx, "password reset email (not sent, SMTP not configured)",
		slog.String("to", to),
		slog.String("link", link),
	)
	return nil
}
