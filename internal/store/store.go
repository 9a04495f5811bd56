// Package store defines the persistence interfaces and records for the
// alerting and governance engine, plus an in-memory implementation. The
// postgres subpackage provides the production implementation.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ManushiChamika/dynamic-pricing-ai-IRWA-PROJECT-sub000/internal/rules"
)

// Incident lifecycle statuses.
const (
	StatusOpen         = "OPEN"
	StatusAcknowledged = "ACKNOWLEDGED"
	StatusResolved     = "RESOLVED"
)

// Governance decision actions.
const (
	ActionAppliedAuto = "APPLIED_AUTO"
	ActionRejected    = "REJECTED"
	ActionStale       = "STALE"
)

// Delivery attempt statuses.
const (
	DeliverySuccess = "success"
	DeliveryFailure = "failure"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrRevisionMismatch is returned by the price CAS update when the
	// stored revision no longer matches the expected one.
	ErrRevisionMismatch = errors.New("price revision mismatch")
	// ErrInvalidTransition is returned for illegal incident status changes.
	ErrInvalidTransition = errors.New("invalid incident status transition")
)

// Incident is a durable, fingerprint-keyed record of a correlated problem.
type Incident struct {
	IncidentID   string    `json:"incident_id"`
	Fingerprint  string    `json:"fingerprint"`
	RuleID       string    `json:"rule_id"`
	SubjectKey   string    `json:"subject_key"`
	GroupKey     string    `json:"group_key,omitempty"`
	Status       string    `json:"status"`
	Severity     string    `json:"severity"`
	Title        string    `json:"title"`
	FirstSeen    time.Time `json:"first_seen"`
	LastSeen     time.Time `json:"last_seen"`
	LastDispatch time.Time `json:"last_dispatch,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// IncidentFilter narrows ListIncidents results. Zero values match everything.
type IncidentFilter struct {
	Status     string
	SubjectKey string
	Limit      int
}

// Delivery is one attempt to push an incident through one channel.
// Append-only: retry bookkeeping and audit.
type Delivery struct {
	DeliveryID string    `json:"delivery_id"`
	IncidentID string    `json:"incident_id"`
	Channel    string    `json:"channel"`
	Attempt    int       `json:"attempt"`
	Status     string    `json:"status"`
	Detail     string    `json:"detail,omitempty"`
	At         time.Time `json:"at"`
}

// DecisionLogEntry is the append-only audit record of one governance outcome.
type DecisionLogEntry struct {
	DecisionID string          `json:"decision_id"`
	ProposalID string          `json:"proposal_id"`
	SubjectKey string          `json:"subject_key"`
	Action     string          `json:"action"`
	Rationale  string          `json:"rationale"`
	PrevPrice  decimal.Decimal `json:"prev_price"`
	NewPrice   decimal.Decimal `json:"new_price"`
	Actor      string          `json:"actor"`
	At         time.Time       `json:"at"`
}

// PriceRecord is the authoritative current price for a SKU. Revision is the
// optimistic-concurrency marker; every applied change increments it.
type PriceRecord struct {
	SKU       string          `json:"sku"`
	Price     decimal.Decimal `json:"price"`
	Revision  int64           `json:"revision"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// EventLogEntry is one best-effort durable record of a published event.
type EventLogEntry struct {
	EventID string    `json:"event_id"`
	Topic   string    `json:"topic"`
	Payload []byte    `json:"payload"`
	At      time.Time `json:"at"`
}

// IncidentStore owns incident rows. The correlator is the only writer of
// lifecycle fields.
type IncidentStore interface {
	CreateIncident(ctx context.Context, inc *Incident) error
	GetIncident(ctx context.Context, incidentID string) (*Incident, error)
	// ActiveByFingerprint returns the single non-resolved incident for a
	// fingerprint, or ErrNotFound.
	ActiveByFingerprint(ctx context.Context, fingerprint string) (*Incident, error)
	// TouchIncident bumps last_seen without changing status.
	TouchIncident(ctx context.Context, incidentID string, lastSeen time.Time) error
	// MarkDispatched records the time of the last sink fan-out for throttling.
	MarkDispatched(ctx context.Context, incidentID string, at time.Time) error
	UpdateIncidentStatus(ctx context.Context, incidentID, status string) error
	ListIncidents(ctx context.Context, f IncidentFilter) ([]*Incident, error)
}

// DeliveryStore records delivery attempts. Insert-only.
type DeliveryStore interface {
	RecordDelivery(ctx context.Context, d *Delivery) error
	ListDeliveries(ctx context.Context, incidentID string) ([]*Delivery, error)
}

// DecisionStore records governance outcomes. Insert-only.
type DecisionStore interface {
	AppendDecision(ctx context.Context, e *DecisionLogEntry) error
	ListDecisions(ctx context.Context, subjectKey string, limit int) ([]*DecisionLogEntry, error)
}

// PriceStore owns the authoritative price table. All writes go through
// ApplyPrice; there is deliberately no unconditional update.
type PriceStore interface {
	GetPrice(ctx context.Context, sku string) (*PriceRecord, error)
	// ApplyPrice writes newPrice only if the stored revision still equals
	// expectedRevision, returning the new record; otherwise
	// ErrRevisionMismatch.
	ApplyPrice(ctx context.Context, sku string, newPrice decimal.Decimal, expectedRevision int64) (*PriceRecord, error)
	// SeedPrice inserts the initial price row for a SKU at revision 1.
	SeedPrice(ctx context.Context, sku string, price decimal.Decimal) (*PriceRecord, error)
}

// EventLog is the best-effort durable append target for published events.
type EventLog interface {
	AppendEvent(ctx context.Context, e *EventLogEntry) error
}

// RuleStore persists rule specs and a version counter bumped on any change.
type RuleStore interface {
	rules.Store
	ListRules(ctx context.Context) ([]rules.Spec, error)
	GetRule(ctx context.Context, ruleID string) (*rules.Spec, error)
	// SaveRule inserts or replaces a rule, bumping its version and the
	// store-wide rules version.
	SaveRule(ctx context.Context, spec *rules.Spec) error
	ToggleRule(ctx context.Context, ruleID string, enabled bool) error
}

// Store aggregates every persistence surface the engine needs.
type Store interface {
	IncidentStore
	DeliveryStore
	DecisionStore
	PriceStore
	EventLog
	RuleStore
}
