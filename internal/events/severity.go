package events

// Severity is the canonical severity vocabulary used across the engine.
// Rule specs, incidents, and notices all use info|warn|crit; producer-side
// vocabularies (low/medium/high/critical) are normalized at the boundary.
type Severity string

const (
	SeverityInfo Severity = "info"
	SeverityWarn Severity = "warn"
	SeverityCrit Severity = "crit"
)

// NormalizeSeverity converts any producer-side severity string to the
// canonical vocabulary. Unknown values are normalized to "info" so a
// misconfigured producer can never silently escalate.
func NormalizeSeverity(s string) Severity {
	switch s {
	case "info", "INFO", "low", "LOW":
		return SeverityInfo
	case "warn", "WARN", "warning", "medium", "MEDIUM":
		return SeverityWarn
	case "crit", "CRIT", "critical", "CRITICAL", "high", "HIGH":
		return SeverityCrit
	default:
		return SeverityInfo
	}
}

// Valid reports whether s is one of the canonical severities.
func (s Severity) Valid() bool {
	switch s {
	case SeverityInfo, SeverityWarn, SeverityCrit:
		return true
	}
	return false
}

// Rank orders severities for comparison; higher is more severe.
func (s Severity) Rank() int {
	switch s {
	case SeverityCrit:
		return 2
	case SeverityWarn:
		return 1
	default:
		return 0
	}
}
