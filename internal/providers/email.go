package providers

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"mime"
	"net"
	"net/mail"
	"net/smtp"
	"strings"
	"time"

	"telemetry-service/internal/models"
)

// SMTP sends HTML mail through an authenticated relay.
type SMTP struct {
	Server   string
	Port     int
	Username string
	Password string
	FromName string
}

// SendEmail delivers one message to all recipients. The dial and the whole
// session are bounded by ctx.
func (s *SMTP) SendEmail(ctx context.Context, recipients []string, subject, htmlBody string, priority models.EmailPriority) error {
	if s.Server == "" || s.Port == 0 || s.Username == "" || s.Password == "" {
		return fmt.Errorf("missing Email configuration: SMTPServer, SMTPPort, Username, or Password is empty")
	}
	for _, to := range recipients {
		if _, err := mail.ParseAddress(to); err != nil {
			return fmt.Errorf("invalid email address %q: %w", to, err)
		}
	}

	addr := fmt.Sprintf("%s:%d", s.Server, s.Port)
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	c, err := smtp.NewClient(conn, s.Server)
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to start smtp session: %w", err)
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: s.Server}); err != nil {
			return fmt.Errorf("failed to start tls: %w", err)
		}
	}
	if err := c.Auth(smtp.PlainAuth("", s.Username, s.Password, s.Server)); err != nil {
		return fmt.Errorf("smtp auth failed: %w", err)
	}
	if err := c.Mail(s.Username); err != nil {
		return fmt.Errorf("smtp MAIL FROM failed: %w", err)
	}
	for _, to := range recipients {
		if err := c.Rcpt(to); err != nil {
			return fmt.Errorf("smtp RCPT TO %s failed: %w", to, err)
		}
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("smtp DATA failed: %w", err)
	}
	if _, err := w.Write(buildMessage(s.from(), recipients, subject, htmlBody, priority, time.Now())); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to send email to %s: %w", strings.Join(recipients, ", "), err)
	}
	return c.Quit()
}

func (s *SMTP) from() string {
	if s.FromName == "" {
		return s.Username
	}
	return (&mail.Address{Name: s.FromName, Address: s.Username}).String()
}

// buildMessage renders a MIME message with a base64 HTML body.
func buildMessage(from string, recipients []string, subject, htmlBody string, priority models.EmailPriority, at time.Time) []byte {
	var b bytes.Buffer
	header := func(k, v string) { fmt.Fprintf(&b, "%s: %s\r\n", k, v) }

	header("From", from)
	header("To", strings.Join(recipients, ", "))
	header("Subject", mime.QEncoding.Encode("utf-8", subject))
	header("Date", at.Format(time.RFC1123Z))
	header("MIME-Version", "1.0")
	header("Content-Type", `text/html; charset="utf-8"`)
	header("Content-Transfer-Encoding", "base64")
	if priority == models.PriorityCritical {
		header("X-Priority", "1")
		header("X-MSMail-Priority", "High")
		header("Importance", "High")
	}
	b.WriteString("\r\n")

	enc := base64.StdEncoding.EncodeToString([]byte(htmlBody))
	for len(enc) > 76 {
		b.WriteString(enc[:76] + "\r\n")
		enc = enc[76:]
	}
	b.WriteString(enc + "\r\n")
	return b.Bytes()
}
