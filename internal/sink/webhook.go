package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// Webhook delivers incidents to a generic HTTP endpoint as a JSON POST.
type Webhook struct {
	url        string
	httpClient *http.Client
}

// NewWebhook creates a webhook sink for the given endpoint URL.
func NewWebhook(url string, client *http.Client) *Webhook {
	if client == nil {
		client = http.DefaultClient
	}
	return &Webhook{
		url:        url,
		httpClient: client,
	}
}

// Type returns the channel name this sink handles.
func (s *Webhook) Type() string { return TypeWebhook }

// Deliver posts the incident to the webhook endpoint.
func (s *Webhook) Deliver(ctx context.Context, n *Notice) error {
	if s.url == "" {
		return fmt.Errorf("webhook URL is required")
	}
	if !isValidURL(s.url) {
		return fmt.Errorf("invalid webhook URL: %q", s.url)
	}

	body, err := json.Marshal(BuildWebhookPayload(n))
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, string(detail))
	}
	return nil
}
