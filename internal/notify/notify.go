package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"ipwatch/internal/config"
	"ipwatch/internal/notify/template"
	"ipwatch/internal/retry"
	"ipwatch/internal/types"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// NotifierType represents the type of notifier
type NotifierType string

const (
	NotifierEmail   NotifierType = "email"
	NotifierCommand NotifierType = "command"
	NotifierWebhook NotifierType = "webhook"
)

// DryRunPrefix marks log lines for messages that were not delivered
const DryRunPrefix = "[DRYRUN] "

// ErrNoNotifier is returned when a change must be delivered but no channel
// is configured.
var ErrNoNotifier = errors.New("no notifier enabled")

// Notifier represents notifier interface
type Notifier interface {
	// NotifyIPChange delivers an IP change notification
	NotifyIPChange(ctx context.Context, change *types.IPChange) error
}

// Options holds runtime settings that do not come from the notify section
type Options struct {
	// Recipients receive the mail when a channel has none of its own
	Recipients []string
	// DryRun logs the rendered message instead of delivering it
	DryRun bool
}

// Manager represents notifier manager
type Manager struct {
	config     *config.NotifyConfig
	logger     *zap.Logger
	tplLoader  *template.Loader
	recipients []string
	dryRun     bool

	mu        sync.RWMutex
	notifiers map[NotifierType]Notifier
	order     []NotifierType
}

// NewManager creates new notifier manager
func NewManager(cfg *config.NotifyConfig, opts Options, logger *zap.Logger) (*Manager, error) {
	if cfg == nil {
		cfg = &config.NotifyConfig{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	tplLoader, err := template.NewLoader(logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize template loader: %w", err)
	}
	if err := applyCustomTemplates(tplLoader, cfg.Templates); err != nil {
		return nil, err
	}

	m := &Manager{
		config:     cfg,
		logger:     logger,
		tplLoader:  tplLoader,
		recipients: opts.Recipients,
		dryRun:     opts.DryRun,
		notifiers:  make(map[NotifierType]Notifier),
	}

	// Initialize enabled notifiers
	if cfg.Email.Enabled {
		emailCfg := cfg.Email
		if len(emailCfg.To) == 0 {
			emailCfg.To = opts.Recipients
		}
		n, err := NewEmailNotifier(&emailCfg, tplLoader, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize email notifier: %w", err)
		}
		m.Register(NotifierEmail, n)
	}

	if cfg.Command.Enabled {
		n, err := NewCommandNotifier(&cfg.Command, opts.Recipients, tplLoader, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize command notifier: %w", err)
		}
		m.Register(NotifierCommand, n)
	}

	if cfg.Webhook.Enabled {
		n, err := NewWebhookNotifier(&cfg.Webhook, tplLoader, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize webhook notifier: %w", err)
		}
		m.Register(NotifierWebhook, n)
	}

	return m, nil
}

// applyCustomTemplates installs user supplied templates over the defaults
func applyCustomTemplates(loader *template.Loader, tpls map[string]string) error {
	for name, content := range tpls {
		var err error
		switch name {
		case "subject":
			err = loader.SetCustomTemplate(template.Mail, subjectTemplate, content)
		case "body":
			err = loader.SetCustomTemplate(template.Mail, bodyTemplate, content)
		case "summary":
			err = loader.SetCustomTemplate(template.Webhook, summaryTemplate, content)
		default:
			err = fmt.Errorf("unknown template: %s", name)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// Register adds or replaces a notifier. Notifiers run in registration order.
func (m *Manager) Register(t NotifierType, n Notifier) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.notifiers[t]; !ok {
		m.order = append(m.order, t)
	}
	m.notifiers[t] = n
}

// NotifyIPChange delivers the change through every enabled notifier. A
// failed notifier does not stop the others; their errors are combined.
func (m *Manager) NotifyIPChange(ctx context.Context, change *types.IPChange) error {
	msg, err := RenderMail(m.tplLoader, change)
	if err != nil {
		return err
	}

	if m.dryRun {
		m.logger.Info(DryRunPrefix+"Sending mail",
			zap.Strings("to", m.recipients),
			zap.String("subject", msg.Subject),
			zap.String("body", msg.Body))
		return nil
	}

	m.mu.RLock()
	order := append([]NotifierType(nil), m.order...)
	notifiers := make(map[NotifierType]Notifier, len(m.notifiers))
	for t, n := range m.notifiers {
		notifiers[t] = n
	}
	m.mu.RUnlock()

	if len(order) == 0 {
		return ErrNoNotifier
	}

	m.logger.Info("Sending mail",
		zap.Strings("to", m.recipients),
		zap.String("subject", msg.Subject),
		zap.String("body", msg.Body))

	var errs error
	for _, t := range order {
		n := notifiers[t]
		logger := m.logger.With(zap.String("notifier", string(t)))

		err := retry.Execute(ctx, &m.config.Retry, logger, func(ctx context.Context) error {
			if m.config.Timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, m.config.Timeout)
				defer cancel()
			}
			return n.NotifyIPChange(ctx, change)
		})
		if err != nil {
			logger.Error("Failed to send notification", zap.Error(err))
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", t, err))
			continue
		}

		logger.Info("Notification sent",
			zap.String("new_external", change.NewExternal),
			zap.String("new_local", change.NewLocal))
	}

	return errs
}

// IsEnabled reports whether any notifier is registered
func (m *Manager) IsEnabled() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.notifiers) > 0
}

// IsNotifierEnabled checks if a notifier is enabled
func (m *Manager) IsNotifierEnabled(notifierType NotifierType) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.notifiers[notifierType]
	return ok
}

// DryRun reports whether messages are only logged
func (m *Manager) DryRun() bool {
	return m.dryRun
}
