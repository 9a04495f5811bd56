// Package email implements the email delivery channel on top of a
// provider registry with ordered fallback across backends.
package email

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ManushiChamika/dynamic-pricing-ai-IRWA-PROJECT-sub000/internal/sink"
	"github.com/ManushiChamika/dynamic-pricing-ai-IRWA-PROJECT-sub000/internal/sink/email/provider"
)

// Config holds email channel settings.
type Config struct {
	From       string
	Recipients []string // default recipients for every incident
	Primary    string   // preferred provider name
	Fallback   []string // fallback provider order
}

// Email delivers incidents as email through the provider registry.
type Email struct {
	registry   *provider.Registry
	from       string
	recipients []string
}

// New builds the email sink and registers the standard providers
// (Resend, SES, SMTP). Unconfigured providers stay registered and are
// skipped at send time.
func New(cfg Config) *Email {
	registry := provider.NewRegistry()
	registry.Register(provider.NewResendProvider())
	registry.Register(provider.NewSESProvider())
	registry.Register(provider.NewSMTPProvider())

	if cfg.Primary != "" {
		if err := registry.SetPrimary(cfg.Primary); err != nil {
			slog.Warn("Unknown primary email provider, using fallback order", "name", cfg.Primary)
		}
	}
	fallback := cfg.Fallback
	if len(fallback) == 0 {
		fallback = []string{"resend", "ses", "smtp"}
	}
	if err := registry.SetFallback(fallback...); err != nil {
		slog.Warn("Invalid email fallback order", "error", err)
	}

	return &Email{
		registry:   registry,
		from:       cfg.From,
		recipients: cfg.Recipients,
	}
}

// NewWithRegistry builds the email sink over a caller-supplied registry.
func NewWithRegistry(registry *provider.Registry, cfg Config) *Email {
	return &Email{
		registry:   registry,
		from:       cfg.From,
		recipients: cfg.Recipients,
	}
}

// Type returns the channel name this sink handles.
func (e *Email) Type() string { return sink.TypeEmail }

// Deliver sends the incident to the configured recipients.
func (e *Email) Deliver(ctx context.Context, n *sink.Notice) error {
	if len(e.recipients) == 0 {
		return fmt.Errorf("no recipients configured for email channel")
	}

	p := sink.BuildEmailPayload(n)
	req := &provider.EmailRequest{
		From:    e.from,
		To:      e.recipients,
		Subject: p.Subject,
		Body:    p.Body,
	}

	if err := e.registry.Send(ctx, req); err != nil {
		return fmt.Errorf("email delivery failed: %w", err)
	}

	slog.Info("Delivered incident email",
		"incident_id", n.Incident.IncidentID,
		"to", strings.Join(e.recipients, ", "),
		"subject", p.Subject,
	)
	return nil
}
