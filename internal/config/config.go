// Package config provides configuration parsing and validation for the
// pricing governance engine.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Config holds all configuration parameters for the engine process.
type Config struct {
	// HTTP
	HTTPPort string

	// Storage. An empty DSN selects the in-memory store.
	PostgresDSN string

	// Kafka bridge. Empty brokers disable both ingest and mirror.
	KafkaBrokers    string
	IngestTopics    string // comma-separated external topics to pull in
	MirrorTopics    string // comma-separated bus topics to push out
	ConsumerGroupID string

	// Redis metrics reporting. Empty disables it.
	RedisAddr string

	// Rule store seeding and reload.
	RulesFile          string
	RulePollInterval   time.Duration
	HandlerTimeout     time.Duration
	SinkAttemptTimeout time.Duration

	// Governance guardrails.
	MinMargin float64
	MaxDelta  float64
	AutoApply bool
	CostsFile string

	// Delivery channels.
	EmailFrom       string
	EmailRecipients string // comma-separated
	SlackWebhookURL string
	WebhookURL      string
}

// Validate checks that all required configuration fields are set and have
// valid values.
func (c *Config) Validate() error {
	if c.HTTPPort == "" {
		return fmt.Errorf("http-port cannot be empty")
	}
	if c.KafkaBrokers != "" && c.ConsumerGroupID == "" {
		return fmt.Errorf("consumer-group-id cannot be empty when kafka-brokers is set")
	}
	if c.RulePollInterval < 0 {
		return fmt.Errorf("rule-poll-interval must be >= 0")
	}
	if c.HandlerTimeout <= 0 {
		return fmt.Errorf("handler-timeout must be > 0")
	}
	if c.SinkAttemptTimeout <= 0 {
		return fmt.Errorf("sink-attempt-timeout must be > 0")
	}
	if c.MinMargin < 0 || c.MinMargin >= 1 {
		return fmt.Errorf("min-margin must be in [0, 1)")
	}
	if c.MaxDelta <= 0 {
		return fmt.Errorf("max-delta must be > 0")
	}
	return nil
}

// SplitList parses a comma-separated list, trimming whitespace and
// dropping empty entries.
func SplitList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// GetEnvOrDefault returns the environment variable value or a default if
// not set.
func GetEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
