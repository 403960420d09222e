package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"ipwatch/internal/config"
	ntpl "ipwatch/internal/notify/template"
	"ipwatch/internal/types"
	"ipwatch/internal/version"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// EventIPChange is the webhook event type for address changes
	EventIPChange = "ip.change"

	// SignatureHeader carries the hex HMAC-SHA256 of the body
	SignatureHeader = "X-Ipwatch-Signature"
	EventHeader     = "X-Ipwatch-Event"
	DeliveryHeader  = "X-Ipwatch-Delivery"
)

// WebhookNotifier represents webhook notifier
type WebhookNotifier struct {
	config    *config.WebhookConfig
	logger    *zap.Logger
	client    *http.Client
	tplLoader *ntpl.Loader
}

// WebhookPayload represents the standard webhook payload structure
type WebhookPayload struct {
	EventType string    `json:"event_type"`
	EventID   string    `json:"event_id"`
	Timestamp time.Time `json:"timestamp"`
	Machine   string    `json:"machine"`
	Hostname  string    `json:"hostname,omitempty"`
	Summary   string    `json:"summary"`
	Data      any       `json:"data"`
}

// NewWebhookNotifier creates new webhook notifier
func NewWebhookNotifier(cfg *config.WebhookConfig, loader *ntpl.Loader, logger *zap.Logger) (*WebhookNotifier, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("webhook notifier is disabled")
	}
	if cfg.URL == "" {
		return nil, fmt.Errorf("url is required")
	}

	client := &http.Client{
		Timeout: cfg.Timeout,
		Transport: &http.Transport{
			MaxIdleConns:        10,
			IdleConnTimeout:     90 * time.Second,
			DisableCompression:  true,
			MaxIdleConnsPerHost: 2,
		},
	}

	return &WebhookNotifier{
		config:    cfg,
		logger:    logger,
		client:    client,
		tplLoader: loader,
	}, nil
}

// NotifyIPChange sends IP change notification
func (n *WebhookNotifier) NotifyIPChange(ctx context.Context, change *types.IPChange) error {
	summary, err := renderSummary(n.tplLoader, change)
	if err != nil {
		return err
	}

	hostname, _ := os.Hostname()
	payload := WebhookPayload{
		EventType: EventIPChange,
		EventID:   uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Machine:   change.Machine,
		Hostname:  hostname,
		Summary:   summary,
		Data: map[string]any{
			"id":               change.ID,
			"old_external":     change.OldExternal,
			"old_local":        change.OldLocal,
			"new_external":     change.NewExternal,
			"new_local":        change.NewLocal,
			"external_changed": change.ExternalChanged(),
			"local_changed":    change.LocalChanged(),
			"source":           change.Source,
			"forced":           change.Forced,
			"detected_at":      change.DetectedAt,
		},
	}

	return n.sendWebhook(ctx, payload)
}

// sendWebhook sends a webhook
func (n *WebhookNotifier) sendWebhook(ctx context.Context, payload WebhookPayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.config.URL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.UserAgent("webhook"))
	req.Header.Set(EventHeader, payload.EventType)
	req.Header.Set(DeliveryHeader, payload.EventID)

	if n.config.Secret != "" {
		req.Header.Set(SignatureHeader, calculateSignature(data, []byte(n.config.Secret)))
	}

	// Add custom headers from config
	for k, v := range n.config.Headers {
		req.Header.Set(k, v)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer func(Body io.ReadCloser) {
		if err := Body.Close(); err != nil {
			n.logger.Error("Failed to close response body", zap.Error(err))
		}
	}(resp.Body)
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook request failed with status %d", resp.StatusCode)
	}

	return nil
}

// calculateSignature calculates the signature
func calculateSignature(payload []byte, secret []byte) string {
	h := hmac.New(sha256.New, secret)
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}
