// Package engine evaluates incoming events against the active rule snapshot
// and emits alerts to the incident correlator.
package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ManushiChamika/dynamic-pricing-ai-IRWA-PROJECT-sub000/internal/bus"
	"github.com/ManushiChamika/dynamic-pricing-ai-IRWA-PROJECT-sub000/internal/detector"
	"github.com/ManushiChamika/dynamic-pricing-ai-IRWA-PROJECT-sub000/internal/events"
	"github.com/ManushiChamika/dynamic-pricing-ai-IRWA-PROJECT-sub000/internal/incident"
	"github.com/ManushiChamika/dynamic-pricing-ai-IRWA-PROJECT-sub000/internal/rules"
)

// Correlator receives fired alerts. Implemented by the incident package.
type Correlator interface {
	Handle(ctx context.Context, a *incident.Alert) error
	AutoResolve(ctx context.Context, fingerprint string) error
}

// Recorder receives engine counters.
type Recorder interface {
	RecordEvaluated()
	RecordFired()
	RecordEvalError()
}

// NoOpRecorder discards all counters.
type NoOpRecorder struct{}

func (NoOpRecorder) RecordEvaluated() {}
func (NoOpRecorder) RecordFired()     {}
func (NoOpRecorder) RecordEvalError() {}

// Engine subscribes to every topic referenced by an enabled rule and
// evaluates each incoming event against the rules for its topic.
type Engine struct {
	holder     *rules.Holder
	correlator Correlator
	recorder   Recorder

	// Detector instances are stateful per rule; rebuilt when the rule's
	// version changes on reload.
	detMu     sync.Mutex
	detectors map[string]*ruleDetector

	subMu      sync.Mutex
	subscribed map[string]bool
}

type ruleDetector struct {
	version int
	det     *detector.EWMAZScore
}

// Option configures an Engine.
type Option func(*Engine)

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// New creates an engine over a rule snapshot holder and a correlator.
func New(holder *rules.Holder, correlator Correlator, opts ...Option) *Engine {
	e := &Engine{
		holder:     holder,
		correlator: correlator,
		recorder:   NoOpRecorder{},
		detectors:  make(map[string]*ruleDetector),
		subscribed: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Bind subscribes the engine to every topic the current snapshot references.
// Idempotent; call again after a reload to pick up newly referenced topics.
func (e *Engine) Bind(b *bus.Bus) {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	for _, topic := range e.holder.Current().Topics() {
		if e.subscribed[topic] {
			continue
		}
		e.subscribed[topic] = true
		b.Subscribe(topic, e.HandleEvent)
	}
}

// HandleEvent evaluates one event against the rules for its topic.
// EvaluationErrors are logged and count as "did not fire"; nothing here may
// propagate a failure back into the bus dispatch loop.
func (e *Engine) HandleEvent(ctx context.Context, ev events.Event) error {
	snap := e.holder.Current()
	fields := ev.Payload.Fields()
	subject := events.SubjectKey(ev.Payload)

	for _, spec := range snap.BySource(ev.Topic) {
		e.recorder.RecordEvaluated()
		if spec.Detector != nil {
			e.evaluateDetector(ctx, spec, subject, fields, ev.At)
			continue
		}
		fired, err := rules.EvaluateConditions(spec.Where, fields)
		if err != nil {
			e.recorder.RecordEvalError()
			slog.Warn("Rule evaluation failed, treating as not fired",
				"rule_id", spec.ID,
				"topic", ev.Topic,
				"error", err,
			)
			continue
		}
		if fired {
			e.fire(ctx, spec, subject, fields, ev.At)
		}
	}
	return nil
}

func (e *Engine) evaluateDetector(ctx context.Context, spec *rules.Spec, subject string, fields map[string]any, at time.Time) {
	raw, ok := fields[spec.Detector.Field]
	if !ok {
		e.recorder.RecordEvalError()
		slog.Warn("Detector field missing from event, treating as not fired",
			"rule_id", spec.ID,
			"field", spec.Detector.Field,
		)
		return
	}
	value, err := toFloat64(raw)
	if err != nil {
		e.recorder.RecordEvalError()
		slog.Warn("Detector field not numeric, treating as not fired",
			"rule_id", spec.ID,
			"field", spec.Detector.Field,
			"error", err,
		)
		return
	}

	res := e.detectorFor(spec).Observe(subject, value, at)
	if res.Recovered {
		fp := Fingerprint(spec, subject, fields)
		if err := e.correlator.AutoResolve(ctx, fp); err != nil {
			slog.Error("Failed to auto-resolve recovered incident",
				"rule_id", spec.ID,
				"subject_key", subject,
				"error", err,
			)
		}
	}
	if res.Fired {
		slog.Debug("Detector fired",
			"rule_id", spec.ID,
			"subject_key", subject,
			"z", res.Z,
		)
		e.fire(ctx, spec, subject, fields, at)
	}
}

func (e *Engine) detectorFor(spec *rules.Spec) *detector.EWMAZScore {
	e.detMu.Lock()
	defer e.detMu.Unlock()
	rd, ok := e.detectors[spec.ID]
	if !ok || rd.version != spec.Version {
		d := spec.Detector
		rd = &ruleDetector{
			version: spec.Version,
			det:     detector.NewEWMAZScore(d.Alpha, d.Threshold, d.HoldFor.Std(), d.MinSamples),
		}
		e.detectors[spec.ID] = rd
	}
	return rd.det
}

func (e *Engine) fire(ctx context.Context, spec *rules.Spec, subject string, fields map[string]any, at time.Time) {
	e.recorder.RecordFired()
	a := &incident.Alert{
		RuleID:      spec.ID,
		SubjectKey:  subject,
		GroupKey:    groupKey(spec, fields),
		Severity:    spec.Severity,
		Title:       renderTitle(spec, subject),
		Payload:     fields,
		At:          at,
		Fingerprint: Fingerprint(spec, subject, fields),
		Notify:      spec.Notify,
	}
	if err := e.correlator.Handle(ctx, a); err != nil {
		slog.Error("Failed to correlate alert",
			"rule_id", spec.ID,
			"subject_key", subject,
			"error", err,
		)
	}
}

// Fingerprint derives the deterministic key identifying "the same underlying
// problem" across repeated firings: rule id + subject key + group fields, or
// the rule's dedupe template when one is set.
func Fingerprint(spec *rules.Spec, subject string, fields map[string]any) string {
	key := spec.Dedupe
	if key == "" {
		key = spec.ID + "|" + subject + "|" + groupKey(spec, fields)
	} else {
		key = renderDedupe(key, spec.ID, subject, fields)
	}
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// groupKey joins the rule's group-by field values in spec order.
func groupKey(spec *rules.Spec, fields map[string]any) string {
	if len(spec.GroupBy) == 0 {
		return ""
	}
	parts := make([]string, 0, len(spec.GroupBy))
	for _, f := range spec.GroupBy {
		parts = append(parts, fmt.Sprintf("%v", fields[f]))
	}
	return strings.Join(parts, "|")
}

// renderDedupe substitutes {rule}, {subject}, and {field} tokens in a dedupe
// key template.
func renderDedupe(tmpl, ruleID, subject string, fields map[string]any) string {
	pairs := []string{
		"{rule}", ruleID,
		"{subject}", subject,
	}
	for k, v := range fields {
		pairs = append(pairs, "{"+k+"}", fmt.Sprintf("%v", v))
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}

func renderTitle(spec *rules.Spec, subject string) string {
	if spec.Title != "" {
		return strings.NewReplacer("{subject}", subject).Replace(spec.Title)
	}
	if subject != "" {
		return fmt.Sprintf("Alert: %s (%s)", spec.ID, subject)
	}
	return fmt.Sprintf("Alert: %s", spec.ID)
}

func toFloat64(val any) (float64, error) {
	switch v := val.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	default:
		return 0, fmt.Errorf("cannot convert %T to float64", val)
	}
}
