package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// Slack delivers incidents to a Slack Incoming Webhook.
type Slack struct {
	webhookURL string
	httpClient *http.Client
}

// NewSlack creates a Slack sink for the given webhook URL.
func NewSlack(webhookURL string, client *http.Client) *Slack {
	if client == nil {
		client = http.DefaultClient
	}
	return &Slack{
		webhookURL: webhookURL,
		httpClient: client,
	}
}

// Type returns the channel name this sink handles.
func (s *Slack) Type() string { return TypeSlack }

// Deliver posts the incident to the Slack webhook.
func (s *Slack) Deliver(ctx context.Context, n *Notice) error {
	if s.webhookURL == "" {
		return fmt.Errorf("slack webhook URL is required")
	}
	if !isValidURL(s.webhookURL) {
		return fmt.Errorf("invalid Slack webhook URL: %q", maskURL(s.webhookURL))
	}

	body, err := json.Marshal(BuildSlackPayload(n))
	if err != nil {
		return fmt.Errorf("failed to marshal Slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send Slack notification to %s: %w", maskURL(s.webhookURL), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("slack webhook returned status %d", resp.StatusCode)
	}
	return nil
}

func isValidURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// maskURL hides the secret path segment of a webhook URL for logs and errors.
func maskURL(url string) string {
	if len(url) > 50 {
		return url[:30] + "..." + url[len(url)-10:]
	}
	return url
}
