package notify

import (
	"fmt"
	"strings"

	"ipwatch/internal/notify/template"
	"ipwatch/internal/types"
)

const (
	subjectTemplate = "ip_change_subject"
	bodyTemplate    = "ip_change"
	summaryTemplate = "ip_change_summary"
)

// Message is a rendered notification
type Message struct {
	Subject string
	Body    string
}

// RenderMail renders the subject and body for an IP change
func RenderMail(loader *template.Loader, change *types.IPChange) (*Message, error) {
	if change == nil {
		return nil, fmt.Errorf("change is nil")
	}

	subject, err := loader.Render(template.Mail, subjectTemplate, change)
	if err != nil {
		return nil, fmt.Errorf("failed to render subject: %w", err)
	}
	body, err := loader.Render(template.Mail, bodyTemplate, change)
	if err != nil {
		return nil, fmt.Errorf("failed to render body: %w", err)
	}

	// Header injection guard
	subject = strings.Join(strings.Fields(subject), " ")

	return &Message{Subject: subject, Body: body}, nil
}

// renderSummary renders the one-line webhook summary
func renderSummary(loader *template.Loader, change *types.IPChange) (string, error) {
	summary, err := loader.Render(template.Webhook, summaryTemplate, change)
	if err != nil {
		return "", fmt.Errorf("failed to render summary: %w", err)
	}
	return strings.TrimSpace(summary), nil
}
