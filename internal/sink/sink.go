// Package sink delivers incidents to notification channels. Channels are
// pluggable strategies behind a registry; fan-out is independent per channel
// with bounded retries, per-attempt timeouts, and an append-only delivery
// record for every attempt.
package sink

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ManushiChamika/dynamic-pricing-ai-IRWA-PROJECT-sub000/internal/store"
)

// Channel type names.
const (
	TypeInApp   = "inapp"
	TypeSlack   = "slack"
	TypeWebhook = "webhook"
	TypeEmail   = "email"
)

// Notice is one incident handed to a channel for delivery.
type Notice struct {
	Incident *store.Incident
	Payload  map[string]any
}

// Sink is one delivery channel strategy.
type Sink interface {
	// Deliver pushes the notice to the channel. An error marks the attempt
	// failed; transient errors are retried by the fan-out.
	Deliver(ctx context.Context, n *Notice) error
	// Type returns the channel name this sink handles.
	Type() string
}

// Registry manages channel strategies by type.
type Registry struct {
	sinks map[string]Sink
}

// NewRegistry creates an empty sink registry.
func NewRegistry() *Registry {
	return &Registry{sinks: make(map[string]Sink)}
}

// Register adds a sink strategy.
func (r *Registry) Register(s Sink) {
	r.sinks[s.Type()] = s
}

// Get retrieves a sink by channel type.
func (r *Registry) Get(channel string) (Sink, bool) {
	s, ok := r.sinks[channel]
	return s, ok
}

// List returns all registered channel types.
func (r *Registry) List() []string {
	out := make([]string, 0, len(r.sinks))
	for t := range r.sinks {
		out = append(out, t)
	}
	return out
}

// Recorder receives delivery counters.
type Recorder interface {
	RecordDeliverySuccess(channel string)
	RecordDeliveryFailure(channel string)
}

// NoOpRecorder discards all counters.
type NoOpRecorder struct{}

func (NoOpRecorder) RecordDeliverySuccess(string) {}
func (NoOpRecorder) RecordDeliveryFailure(string) {}

// Fanout dispatches one incident to every named channel independently.
// Implements the correlator's Dispatcher contract.
type Fanout struct {
	registry       *Registry
	deliveries     store.DeliveryStore
	retryCfg       RetryConfig
	attemptTimeout time.Duration
	recorder       Recorder
}

// FanoutOption configures a Fanout.
type FanoutOption func(*Fanout)

// WithRetryConfig overrides the retry policy.
func WithRetryConfig(cfg RetryConfig) FanoutOption {
	return func(f *Fanout) { f.retryCfg = cfg }
}

// WithAttemptTimeout overrides the per-attempt delivery timeout.
func WithAttemptTimeout(d time.Duration) FanoutOption {
	return func(f *Fanout) { f.attemptTimeout = d }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) FanoutOption {
	return func(f *Fanout) { f.recorder = r }
}

// NewFanout creates a fan-out over a registry and a delivery store.
func NewFanout(registry *Registry, deliveries store.DeliveryStore, opts ...FanoutOption) *Fanout {
	f := &Fanout{
		registry:       registry,
		deliveries:     deliveries,
		retryCfg:       DefaultRetryConfig(),
		attemptTimeout: 15 * time.Second,
		recorder:       NoOpRecorder{},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Dispatch sends the incident to each named channel. Channels run in
// parallel; one channel failing never prevents the others from being
// attempted. Dispatch returns once every channel has finished or exhausted
// its retries.
func (f *Fanout) Dispatch(ctx context.Context, inc *store.Incident, payload map[string]any, channels []string) {
	n := &Notice{Incident: inc, Payload: payload}

	var wg sync.WaitGroup
	for _, channel := range channels {
		s, ok := f.registry.Get(channel)
		if !ok {
			slog.Warn("Unknown delivery channel, skipping",
				"channel", channel,
				"incident_id", inc.IncidentID,
			)
			continue
		}
		wg.Add(1)
		go func(channel string, s Sink) {
			defer wg.Done()
			f.deliverChannel(ctx, channel, s, n)
		}(channel, s)
	}
	wg.Wait()
}

// deliverChannel runs the bounded retry loop for one channel, recording a
// delivery row for every attempt.
func (f *Fanout) deliverChannel(ctx context.Context, channel string, s Sink, n *Notice) {
	for attempt := 1; attempt <= f.retryCfg.MaxAttempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, f.attemptTimeout)
		err := s.Deliver(attemptCtx, n)
		cancel()

		f.record(n.Incident.IncidentID, channel, attempt, err)

		if err == nil {
			f.recorder.RecordDeliverySuccess(channel)
			if attempt > 1 {
				slog.Info("Delivery succeeded after retry",
					"channel", channel,
					"incident_id", n.Incident.IncidentID,
					"attempt", attempt,
				)
			}
			return
		}

		if !IsRetryable(err) {
			f.recorder.RecordDeliveryFailure(channel)
			slog.Error("Delivery failed permanently",
				"channel", channel,
				"incident_id", n.Incident.IncidentID,
				"attempt", attempt,
				"error", err,
			)
			return
		}
		if attempt == f.retryCfg.MaxAttempts {
			f.recorder.RecordDeliveryFailure(channel)
			slog.Error("Delivery retries exhausted",
				"channel", channel,
				"incident_id", n.Incident.IncidentID,
				"attempts", attempt,
				"error", err,
			)
			return
		}

		backoff := backoffFor(f.retryCfg, attempt-1)
		slog.Warn("Delivery failed, retrying",
			"channel", channel,
			"incident_id", n.Incident.IncidentID,
			"attempt", attempt,
			"backoff", backoff,
			"error", err,
		)
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
	}
}

// record appends one delivery row. A bookkeeping failure is logged, never
// propagated; delivery state must not depend on audit writes.
func (f *Fanout) record(incidentID, channel string, attempt int, deliverErr error) {
	d := &store.Delivery{
		DeliveryID: uuid.NewString(),
		IncidentID: incidentID,
		Channel:    channel,
		Attempt:    attempt,
		Status:     store.DeliverySuccess,
		At:         time.Now().UTC(),
	}
	if deliverErr != nil {
		d.Status = store.DeliveryFailure
		d.Detail = deliverErr.Error()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := f.deliveries.RecordDelivery(ctx, d); err != nil {
		slog.Error("Failed to record delivery attempt",
			"incident_id", incidentID,
			"channel", channel,
			"error", err,
		)
	}
}
