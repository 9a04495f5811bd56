// Package incident correlates raw alerts into durable incidents. It owns the
// incident lifecycle: fingerprint dedup, throttled sink dispatch, and the
// OPEN → ACKNOWLEDGED → RESOLVED state machine.
package incident

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ManushiChamika/dynamic-pricing-ai-IRWA-PROJECT-sub000/internal/events"
	"github.com/ManushiChamika/dynamic-pricing-ai-IRWA-PROJECT-sub000/internal/rules"
	"github.com/ManushiChamika/dynamic-pricing-ai-IRWA-PROJECT-sub000/internal/store"
)

// Alert is the ephemeral result of one rule firing on one event.
type Alert struct {
	RuleID      string
	SubjectKey  string
	GroupKey    string
	Severity    events.Severity
	Title       string
	Payload     map[string]any
	At          time.Time
	Fingerprint string
	Notify      rules.NotifySpec
}

// Dispatcher fans an incident out to delivery channels. Implemented by the
// sink package; each channel is attempted independently.
type Dispatcher interface {
	Dispatch(ctx context.Context, inc *store.Incident, payload map[string]any, channels []string)
}

// Recorder receives correlator counters.
type Recorder interface {
	RecordOpened()
	RecordTouched()
	RecordThrottled()
	RecordDispatched()
}

// NoOpRecorder discards all counters.
type NoOpRecorder struct{}

func (NoOpRecorder) RecordOpened()     {}
func (NoOpRecorder) RecordTouched()    {}
func (NoOpRecorder) RecordThrottled()  {}
func (NoOpRecorder) RecordDispatched() {}

// Correlator deduplicates alerts into incidents keyed by fingerprint.
type Correlator struct {
	store      store.IncidentStore
	dispatcher Dispatcher
	recorder   Recorder

	// Touch-vs-create for one fingerprint must be serialized; two concurrent
	// alerts racing to both "create" would violate the one-active-incident
	// invariant.
	locksMu sync.Mutex
	locks   map[string]*fpLock
}

// fpLock serializes work on one fingerprint. refs counts holders and
// waiters so the map entry can be evicted once the last one releases;
// without it the map would grow with every fingerprint ever seen.
type fpLock struct {
	mu   sync.Mutex
	refs int
}

// Option configures a Correlator.
type Option func(*Correlator)

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(c *Correlator) { c.recorder = r }
}

// NewCorrelator creates a correlator over an incident store and a dispatcher.
func NewCorrelator(s store.IncidentStore, d Dispatcher, opts ...Option) *Correlator {
	c := &Correlator{
		store:      s,
		dispatcher: d,
		recorder:   NoOpRecorder{},
		locks:      make(map[string]*fpLock),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// lockFingerprint acquires the per-fingerprint lock and returns its release
// func. A fresh mutex is only ever created when no goroutine holds or waits
// on the previous one, so serialization per fingerprint is preserved across
// evictions.
func (c *Correlator) lockFingerprint(fp string) func() {
	c.locksMu.Lock()
	l, ok := c.locks[fp]
	if !ok {
		l = &fpLock{}
		c.locks[fp] = l
	}
	l.refs++
	c.locksMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		c.locksMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(c.locks, fp)
		}
		c.locksMu.Unlock()
	}
}

// Handle correlates one alert: first alert for a fingerprint opens a new
// incident and dispatches; a repeat while OPEN/ACKNOWLEDGED only bumps
// last_seen, and dispatches again only once the throttle window has elapsed.
// An alert after resolution opens a fresh incident row, preserving the
// resolved one for audit.
func (c *Correlator) Handle(ctx context.Context, a *Alert) error {
	unlock := c.lockFingerprint(a.Fingerprint)
	defer unlock()

	active, err := c.store.ActiveByFingerprint(ctx, a.Fingerprint)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return c.open(ctx, a)
	case err != nil:
		return fmt.Errorf("failed to look up incident by fingerprint: %w", err)
	}

	if err := c.store.TouchIncident(ctx, active.IncidentID, a.At); err != nil {
		return fmt.Errorf("failed to touch incident %s: %w", active.IncidentID, err)
	}
	c.recorder.RecordTouched()

	if a.Notify.Throttle.Std() > 0 && a.At.Sub(active.LastDispatch) < a.Notify.Throttle.Std() {
		c.recorder.RecordThrottled()
		slog.Debug("Suppressing re-delivery inside throttle window",
			"incident_id", active.IncidentID,
			"fingerprint", a.Fingerprint,
			"last_dispatch", active.LastDispatch,
		)
		return nil
	}

	if err := c.store.MarkDispatched(ctx, active.IncidentID, a.At); err != nil {
		return fmt.Errorf("failed to mark incident %s dispatched: %w", active.IncidentID, err)
	}
	active.LastSeen = a.At
	c.fanOut(active, a)
	return nil
}

func (c *Correlator) open(ctx context.Context, a *Alert) error {
	inc := &store.Incident{
		IncidentID:   uuid.NewString(),
		Fingerprint:  a.Fingerprint,
		RuleID:       a.RuleID,
		SubjectKey:   a.SubjectKey,
		GroupKey:     a.GroupKey,
		Status:       store.StatusOpen,
		Severity:     string(a.Severity),
		Title:        a.Title,
		FirstSeen:    a.At,
		LastSeen:     a.At,
		LastDispatch: a.At,
	}
	if err := c.store.CreateIncident(ctx, inc); err != nil {
		return fmt.Errorf("failed to create incident: %w", err)
	}
	c.recorder.RecordOpened()
	slog.Info("Opened incident",
		"incident_id", inc.IncidentID,
		"rule_id", inc.RuleID,
		"subject_key", inc.SubjectKey,
		"severity", inc.Severity,
	)
	c.fanOut(inc, a)
	return nil
}

// fanOut hands the incident to the dispatcher as an independently scheduled
// task so slow channels never stall alert correlation.
func (c *Correlator) fanOut(inc *store.Incident, a *Alert) {
	if c.dispatcher == nil || len(a.Notify.Channels) == 0 {
		return
	}
	c.recorder.RecordDispatched()
	incCopy := *inc
	go c.dispatcher.Dispatch(context.Background(), &incCopy, a.Payload, a.Notify.Channels)
}

// Acknowledge transitions an incident OPEN → ACKNOWLEDGED.
func (c *Correlator) Acknowledge(ctx context.Context, incidentID string) error {
	return c.transition(ctx, incidentID, store.StatusAcknowledged, []string{store.StatusOpen})
}

// Resolve transitions an incident OPEN/ACKNOWLEDGED → RESOLVED.
func (c *Correlator) Resolve(ctx context.Context, incidentID string) error {
	return c.transition(ctx, incidentID, store.StatusResolved, []string{store.StatusOpen, store.StatusAcknowledged})
}

func (c *Correlator) transition(ctx context.Context, incidentID, to string, from []string) error {
	inc, err := c.store.GetIncident(ctx, incidentID)
	if err != nil {
		return err
	}

	unlock := c.lockFingerprint(inc.Fingerprint)
	defer unlock()

	// Re-read under the lock; an alert may have raced the operator action.
	inc, err = c.store.GetIncident(ctx, incidentID)
	if err != nil {
		return err
	}
	allowed := false
	for _, s := range from {
		if inc.Status == s {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Errorf("%w: %s -> %s", store.ErrInvalidTransition, inc.Status, to)
	}
	if err := c.store.UpdateIncidentStatus(ctx, incidentID, to); err != nil {
		return fmt.Errorf("failed to update incident status: %w", err)
	}
	slog.Info("Incident status changed",
		"incident_id", incidentID,
		"from", inc.Status,
		"to", to,
	)
	return nil
}

// AutoResolve resolves the active incident for a fingerprint when the
// underlying condition clears (detector recovery). Missing incident is not
// an error; the condition may have cleared before anything fired.
func (c *Correlator) AutoResolve(ctx context.Context, fingerprint string) error {
	unlock := c.lockFingerprint(fingerprint)
	defer unlock()

	active, err := c.store.ActiveByFingerprint(ctx, fingerprint)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := c.store.UpdateIncidentStatus(ctx, active.IncidentID, store.StatusResolved); err != nil {
		return fmt.Errorf("failed to auto-resolve incident %s: %w", active.IncidentID, err)
	}
	slog.Info("Auto-resolved incident",
		"incident_id", active.IncidentID,
		"fingerprint", fingerprint,
	)
	return nil
}

// List returns incidents matching the filter.
func (c *Correlator) List(ctx context.Context, f store.IncidentFilter) ([]*store.Incident, error) {
	return c.store.ListIncidents(ctx, f)
}
