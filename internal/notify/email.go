package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"ipwatch/internal/config"
	ntpl "ipwatch/internal/notify/template"
	"ipwatch/internal/types"
	"ipwatch/internal/version"

	"go.uber.org/zap"
)

// EmailNotifier represents email notifier
type EmailNotifier struct {
	config    *config.EmailConfig
	logger    *zap.Logger
	tplLoader *ntpl.Loader
}

// NewEmailNotifier creates new Email notifier
func NewEmailNotifier(cfg *config.EmailConfig, loader *ntpl.Loader, logger *zap.Logger) (*EmailNotifier, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("email notifier is disabled")
	}
	if len(cfg.To) == 0 {
		return nil, fmt.Errorf("at least one recipient is required")
	}
	if !strings.Contains(cfg.From, "@") {
		return nil, fmt.Errorf("invalid from address: %s", cfg.From)
	}

	return &EmailNotifier{
		config:    cfg,
		logger:    logger,
		tplLoader: loader,
	}, nil
}

// NotifyIPChange sends IP change notification
func (n *EmailNotifier) NotifyIPChange(ctx context.Context, change *types.IPChange) error {
	msg, err := RenderMail(n.tplLoader, change)
	if err != nil {
		return err
	}
	return n.sendEmail(ctx, msg.Subject, msg.Body)
}

// sendEmail sends an email
func (n *EmailNotifier) sendEmail(ctx context.Context, subject, content string) error {
	addr := net.JoinHostPort(n.config.SMTPServer, strconv.Itoa(n.config.SMTPPort))

	conn, err := n.dial(ctx, addr)
	if err != nil {
		return err
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, n.config.SMTPServer)
	if err != nil {
		return fmt.Errorf("failed to create SMTP client: %w", err)
	}
	defer client.Close()

	if !n.config.UseTLS {
		if ok, _ := client.Extension("STARTTLS"); ok {
			tlsConfig := &tls.Config{
				ServerName: n.config.SMTPServer,
				MinVersion: tls.VersionTLS12,
			}
			if err = client.StartTLS(tlsConfig); err != nil {
				return fmt.Errorf("STARTTLS failed: %w", err)
			}
		}
	}

	if n.config.Username != "" {
		auth := smtp.PlainAuth("", n.config.Username, n.config.Password, n.config.SMTPServer)
		if err = client.Auth(auth); err != nil {
			return fmt.Errorf("authentication failed: %w", err)
		}
	}

	from := cleanEmailAddress(n.config.From)
	if err = client.Mail(from); err != nil {
		return fmt.Errorf("MAIL FROM failed for %s: %w", from, err)
	}

	for _, rcpt := range cleanEmailAddresses(n.config.To) {
		if err = client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("RCPT TO failed for %s: %w", rcpt, err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("DATA command failed: %w", err)
	}

	msg := buildEmailMessage(n.config.From, n.config.To, subject, content)
	if _, err = w.Write(msg); err != nil {
		w.Close()
		return fmt.Errorf("failed to write message: %w", err)
	}

	if err = w.Close(); err != nil {
		return fmt.Errorf("failed to close message writer: %w", err)
	}

	n.logger.Debug("Email sent",
		zap.String("server", addr),
		zap.Strings("to", n.config.To))
	return client.Quit()
}

// dial opens the SMTP connection, with implicit TLS when configured
func (n *EmailNotifier) dial(ctx context.Context, addr string) (net.Conn, error) {
	if n.config.UseTLS {
		d := &tls.Dialer{Config: &tls.Config{
			ServerName: n.config.SMTPServer,
			MinVersion: tls.VersionTLS12,
		}}
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("failed to create TLS connection: %w", err)
		}
		return conn, nil
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	return conn, nil
}

// buildEmailMessage builds email message
func buildEmailMessage(from string, to []string, subject, body string) []byte {
	var msg bytes.Buffer

	headers := [][2]string{
		{"From", cleanEmailAddress(from)},
		{"To", strings.Join(cleanEmailAddresses(to), ", ")},
		{"Subject", subject},
		{"MIME-Version", "1.0"},
		{"Content-Type", "text/plain; charset=UTF-8"},
		{"X-Mailer", version.UserAgent("")},
		{"Date", time.Now().Format(time.RFC1123Z)},
	}

	for _, h := range headers {
		msg.WriteString(fmt.Sprintf("%s: %s\r\n", h[0], h[1]))
	}

	msg.WriteString("\r\n")
	msg.WriteString(strings.ReplaceAll(strings.TrimRight(body, "\n"), "\n", "\r\n"))
	msg.WriteString("\r\n")

	return msg.Bytes()
}

// cleanEmailAddress cleans email address by removing display name and angle brackets
func cleanEmailAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	if idx := strings.LastIndex(addr, "<"); idx >= 0 {
		return strings.Trim(addr[idx:], "<>")
	}
	return addr
}

// cleanEmailAddresses cleans a list of email addresses
func cleanEmailAddresses(addrs []string) []string {
	cleaned := make([]string, len(addrs))
	for i, addr := range addrs {
		cleaned[i] = cleanEmailAddress(addr)
	}
	return cleaned
}
