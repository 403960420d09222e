package notify

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"ipwatch/internal/config"
	ntpl "ipwatch/internal/notify/template"
	"ipwatch/internal/types"

	"go.uber.org/zap"
)

// CommandNotifier pipes the message into a local mail program, invoked as
// `<path> -s <subject> <recipient>...` with the body on stdin.
type CommandNotifier struct {
	path       string
	recipients []string
	logger     *zap.Logger
	tplLoader  *ntpl.Loader
}

// NewCommandNotifier creates new command notifier
func NewCommandNotifier(cfg *config.CommandConfig, recipients []string, loader *ntpl.Loader, logger *zap.Logger) (*CommandNotifier, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("command notifier is disabled")
	}
	if len(recipients) == 0 {
		return nil, fmt.Errorf("at least one recipient is required")
	}

	path := cfg.Path
	if path == "" {
		path = config.DefaultMailCommand
	}

	return &CommandNotifier{
		path:       path,
		recipients: cleanEmailAddresses(recipients),
		logger:     logger,
		tplLoader:  loader,
	}, nil
}

// NotifyIPChange sends IP change notification
func (n *CommandNotifier) NotifyIPChange(ctx context.Context, change *types.IPChange) error {
	msg, err := RenderMail(n.tplLoader, change)
	if err != nil {
		return err
	}

	args := append([]string{"-s", msg.Subject}, n.recipients...)
	cmd := exec.CommandContext(ctx, n.path, args...)
	cmd.Stdin = strings.NewReader(msg.Body)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if out := strings.TrimSpace(stderr.String()); out != "" {
			return fmt.Errorf("%s failed: %w: %s", n.path, err, out)
		}
		return fmt.Errorf("%s failed: %w", n.path, err)
	}

	n.logger.Debug("Mail program finished",
		zap.String("path", n.path),
		zap.Strings("to", n.recipients))
	return nil
}
