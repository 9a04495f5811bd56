// Package rules defines alert rule specifications, boolean condition
// evaluation, and the immutable rule snapshot used by the alert engine.
package rules

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ManushiChamika/dynamic-pricing-ai-IRWA-PROJECT-sub000/internal/events"
)

// Condition operators.
const (
	OpEq       = "eq"
	OpNe       = "ne"
	OpContains = "contains"
	OpGt       = "gt"
	OpLt       = "lt"
	OpGe       = "ge"
	OpLe       = "le"
	// OpPctDropGt fires when Field is more than Value percent below RefField.
	OpPctDropGt = "pct_drop_gt"
	// OpPctRiseGt fires when Field is more than Value percent above RefField.
	OpPctRiseGt = "pct_rise_gt"
)

// Condition is a single field comparison. All conditions in a rule must hold
// for the rule to fire (AND semantics).
type Condition struct {
	Field    string `json:"field"`
	Op       string `json:"op"`
	Value    string `json:"value"`
	RefField string `json:"ref_field,omitempty"`
}

// DetectorSpec names a statistical detector and its parameters.
type DetectorSpec struct {
	Name       string   `json:"name"` // "ewma_zscore"
	Field      string   `json:"field"`
	Alpha      float64  `json:"alpha"`
	Threshold  float64  `json:"threshold"`
	HoldFor    Duration `json:"hold_for"`
	MinSamples int      `json:"min_samples,omitempty"`
}

// NotifySpec configures incident delivery for a rule.
type NotifySpec struct {
	Channels []string `json:"channels"`
	Throttle Duration `json:"throttle"`
}

// Spec is one alert rule. Immutable once loaded into a snapshot; edits go
// through the rule store and take effect on the next explicit reload.
type Spec struct {
	ID       string          `json:"id"`
	Source   string          `json:"source"` // event topic this rule evaluates
	Title    string          `json:"title,omitempty"`
	Where    []Condition     `json:"where,omitempty"`
	Detector *DetectorSpec   `json:"detector,omitempty"`
	Severity events.Severity `json:"severity"`
	Dedupe   string          `json:"dedupe,omitempty"` // e.g. "{rule}:{sku}"
	GroupBy  []string        `json:"group_by,omitempty"`
	Notify   NotifySpec      `json:"notify"`
	Enabled  bool            `json:"enabled"`
	Version  int             `json:"version"`
}

// Validate checks that the spec is well formed enough to evaluate.
func (s *Spec) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("rule id cannot be empty")
	}
	if s.Source == "" {
		return fmt.Errorf("rule %s: source topic cannot be empty", s.ID)
	}
	if len(s.Where) == 0 && s.Detector == nil {
		return fmt.Errorf("rule %s: needs a where clause or a detector", s.ID)
	}
	if len(s.Where) > 0 && s.Detector != nil {
		return fmt.Errorf("rule %s: where clause and detector are mutually exclusive", s.ID)
	}
	if !s.Severity.Valid() {
		return fmt.Errorf("rule %s: invalid severity %q", s.ID, s.Severity)
	}
	if s.Detector != nil {
		d := s.Detector
		if d.Name != "ewma_zscore" {
			return fmt.Errorf("rule %s: unknown detector %q", s.ID, d.Name)
		}
		if d.Field == "" {
			return fmt.Errorf("rule %s: detector field cannot be empty", s.ID)
		}
		if d.Alpha <= 0 || d.Alpha >= 1 {
			return fmt.Errorf("rule %s: detector alpha must be in (0,1)", s.ID)
		}
		if d.Threshold <= 0 {
			return fmt.Errorf("rule %s: detector threshold must be > 0", s.ID)
		}
	}
	for i := range s.Where {
		if s.Where[i].Field == "" || s.Where[i].Op == "" {
			return fmt.Errorf("rule %s: condition %d missing field or op", s.ID, i)
		}
	}
	return nil
}

// Duration wraps time.Duration with JSON support for both "90s"-style strings
// and plain numbers of seconds, so rule blobs stay hand-editable.
type Duration time.Duration

// MarshalJSON encodes the duration as a string, e.g. "5m0s".
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON accepts "5m", "90s", or a bare number of seconds.
func (d *Duration) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if len(s) > 1 && s[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		parsed, err := time.ParseDuration(str)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", str, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var secs float64
	if err := json.Unmarshal(data, &secs); err != nil {
		return fmt.Errorf("invalid duration %s: %w", s, err)
	}
	*d = Duration(time.Duration(secs * float64(time.Second)))
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }
