package sink

import (
	"fmt"
	"strings"
)

// SlackPayload is a Slack incoming-webhook message.
type SlackPayload struct {
	Text        string       `json:"text,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Attachment is one Slack message attachment.
type Attachment struct {
	Color     string  `json:"color,omitempty"`
	Title     string  `json:"title,omitempty"`
	Text      string  `json:"text,omitempty"`
	Fields    []Field `json:"fields,omitempty"`
	Timestamp int64   `json:"ts,omitempty"`
}

// Field is one short field in a Slack attachment.
type Field struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

// severityColor maps canonical severities to Slack attachment colors.
func severityColor(severity string) string {
	switch severity {
	case "crit":
		return "danger"
	case "warn":
		return "warning"
	default:
		return "good"
	}
}

// BuildSlackPayload renders an incident as a Slack message.
func BuildSlackPayload(n *Notice) SlackPayload {
	inc := n.Incident
	return SlackPayload{
		Attachments: []Attachment{{
			Color: severityColor(inc.Severity),
			Title: inc.Title,
			Text:  fmt.Sprintf("Incident %s is %s", inc.IncidentID, inc.Status),
			Fields: []Field{
				{Title: "Severity", Value: inc.Severity, Short: true},
				{Title: "Subject", Value: inc.SubjectKey, Short: true},
				{Title: "Rule", Value: inc.RuleID, Short: true},
				{Title: "First seen", Value: inc.FirstSeen.UTC().Format("2006-01-02 15:04:05 MST"), Short: true},
			},
			Timestamp: inc.LastSeen.Unix(),
		}},
	}
}

// WebhookPayload is the generic JSON body posted to webhook endpoints.
type WebhookPayload struct {
	IncidentID string         `json:"incident_id"`
	RuleID     string         `json:"rule_id"`
	SubjectKey string         `json:"subject_key"`
	Severity   string         `json:"severity"`
	Status     string         `json:"status"`
	Title      string         `json:"title"`
	FirstSeen  string         `json:"first_seen"`
	LastSeen   string         `json:"last_seen"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// BuildWebhookPayload renders an incident as a generic webhook body.
func BuildWebhookPayload(n *Notice) WebhookPayload {
	inc := n.Incident
	return WebhookPayload{
		IncidentID: inc.IncidentID,
		RuleID:     inc.RuleID,
		SubjectKey: inc.SubjectKey,
		Severity:   inc.Severity,
		Status:     inc.Status,
		Title:      inc.Title,
		FirstSeen:  inc.FirstSeen.UTC().Format("2006-01-02T15:04:05Z07:00"),
		LastSeen:   inc.LastSeen.UTC().Format("2006-01-02T15:04:05Z07:00"),
		Payload:    n.Payload,
	}
}

// EmailPayload is a rendered email subject and body.
type EmailPayload struct {
	Subject string
	Body    string
}

// BuildEmailPayload renders an incident as a plain-text email.
func BuildEmailPayload(n *Notice) EmailPayload {
	inc := n.Incident
	subject := fmt.Sprintf("[%s] %s", strings.ToUpper(inc.Severity), inc.Title)

	var sb strings.Builder
	sb.WriteString("Pricing Incident\n")
	sb.WriteString("================\n\n")
	sb.WriteString(fmt.Sprintf("Title: %s\n", inc.Title))
	sb.WriteString(fmt.Sprintf("Severity: %s\n", inc.Severity))
	sb.WriteString(fmt.Sprintf("Status: %s\n", inc.Status))
	sb.WriteString(fmt.Sprintf("Subject: %s\n", inc.SubjectKey))
	sb.WriteString(fmt.Sprintf("Rule: %s\n", inc.RuleID))
	sb.WriteString(fmt.Sprintf("Incident ID: %s\n", inc.IncidentID))
	sb.WriteString(fmt.Sprintf("First seen: %s\n", inc.FirstSeen.UTC()))
	sb.WriteString(fmt.Sprintf("Last seen: %s\n", inc.LastSeen.UTC()))

	if len(n.Payload) > 0 {
		sb.WriteString("\nEvent snapshot:\n")
		for k, v := range n.Payload {
			sb.WriteString(fmt.Sprintf("  %s: %v\n", k, v))
		}
	}

	return EmailPayload{Subject: subject, Body: sb.String()}
}
