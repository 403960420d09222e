package config

import (
	"fmt"
	"strings"
	"time"

	"ipwatch/internal/retry"
)

// DefaultMailCommand is the mail program used by the command notifier
const DefaultMailCommand = "/usr/bin/mail"

// NotifyConfig represents notification configuration
type NotifyConfig struct {
	// Notification channels
	Email   EmailConfig   `mapstructure:"email"`
	Command CommandConfig `mapstructure:"command"`
	Webhook WebhookConfig `mapstructure:"webhook"`

	Timeout time.Duration `mapstructure:"timeout"`
	Retry   retry.Config  `mapstructure:"retry"`

	// Templates overrides the built-in message templates, keyed by
	// subject, body or summary
	Templates map[string]string `mapstructure:"templates"`
}

// EmailConfig represents the SMTP notification configuration. Recipients
// default to receiver_email.
type EmailConfig struct {
	Enabled    bool     `mapstructure:"enabled"`
	SMTPServer string   `mapstructure:"smtp_server"`
	SMTPPort   int      `mapstructure:"smtp_port"`
	Username   string   `mapstructure:"username"`
	Password   string   `mapstructure:"password"`
	From       string   `mapstructure:"from"`
	To         []string `mapstructure:"to"`
	UseTLS     bool     `mapstructure:"use_tls"`
}

// CommandConfig represents the mail program notification configuration
type CommandConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// WebhookConfig represents the webhook notification configuration
type WebhookConfig struct {
	Enabled bool              `mapstructure:"enabled"`
	URL     string            `mapstructure:"url"`
	Secret  string            `mapstructure:"secret"`
	Timeout time.Duration     `mapstructure:"timeout"`
	Headers map[string]string `mapstructure:"headers"`
}

// Enabled reports whether any channel is enabled
func (cfg *NotifyConfig) Enabled() bool {
	return cfg.Email.Enabled || cfg.Command.Enabled || cfg.Webhook.Enabled
}

// Validate notification configuration
func (cfg *NotifyConfig) Validate() error {
	if cfg.Timeout < 0 {
		return fmt.Errorf("timeout cannot be negative")
	}

	if cfg.Email.Enabled {
		if err := cfg.Email.Validate(); err != nil {
			return fmt.Errorf("invalid email config: %w", err)
		}
	}

	if cfg.Command.Enabled {
		if err := cfg.Command.Validate(); err != nil {
			return fmt.Errorf("invalid command config: %w", err)
		}
	}

	if cfg.Webhook.Enabled {
		if err := cfg.Webhook.Validate(); err != nil {
			return fmt.Errorf("invalid webhook config: %w", err)
		}
	}

	if err := cfg.Retry.Validate(); err != nil {
		return fmt.Errorf("invalid retry config: %w", err)
	}

	for name := range cfg.Templates {
		switch name {
		case "subject", "body", "summary":
		default:
			return fmt.Errorf("unknown template: %s", name)
		}
	}

	return nil
}

// Validate validates email configuration
func (cfg *EmailConfig) Validate() error {
	if cfg.SMTPServer == "" {
		return fmt.Errorf("SMTP server is required")
	}
	if cfg.SMTPPort <= 0 || cfg.SMTPPort > 65535 {
		return fmt.Errorf("invalid SMTP port: %d", cfg.SMTPPort)
	}
	if cfg.From == "" {
		return fmt.Errorf("sender email is required")
	}
	if len(cfg.To) == 0 {
		return fmt.Errorf("at least one recipient is required")
	}

	if !strings.Contains(cfg.From, "@") {
		return fmt.Errorf("invalid sender email address: %s", cfg.From)
	}
	for _, to := range cfg.To {
		if !strings.Contains(to, "@") {
			return fmt.Errorf("invalid recipient email address: %s", to)
		}
	}
	return nil
}

// Validate validates command configuration
func (cfg *CommandConfig) Validate() error {
	if cfg.Path == "" {
		cfg.Path = DefaultMailCommand
	}
	return nil
}

// Validate validates webhook configuration
func (cfg *WebhookConfig) Validate() error {
	if cfg.URL == "" {
		return fmt.Errorf("url is required")
	}
	if !strings.HasPrefix(cfg.URL, "http://") && !strings.HasPrefix(cfg.URL, "https://") {
		return fmt.Errorf("url must be http or https: %s", cfg.URL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return nil
}
