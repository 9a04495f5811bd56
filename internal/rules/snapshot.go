package rules

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Store is the rule persistence surface the snapshot machinery needs.
// Implemented by the store package.
type Store interface {
	// LoadEnabledRules returns every enabled rule spec.
	LoadEnabledRules(ctx context.Context) ([]Spec, error)
	// RulesVersion returns a counter that changes whenever any rule changes.
	RulesVersion(ctx context.Context) (int64, error)
}

// Snapshot is an immutable view of the enabled rule set, indexed by source
// topic. Built once per load; never mutated, only swapped.
type Snapshot struct {
	version  int64
	bySource map[string][]*Spec
	count    int
}

// BuildSnapshot indexes the given specs by source topic. Invalid specs are
// skipped with a warning rather than poisoning the whole load.
func BuildSnapshot(version int64, specs []Spec) *Snapshot {
	s := &Snapshot{
		version:  version,
		bySource: make(map[string][]*Spec),
	}
	for i := range specs {
		spec := specs[i]
		if err := spec.Validate(); err != nil {
			slog.Warn("Skipping invalid rule spec", "rule_id", spec.ID, "error", err)
			continue
		}
		s.bySource[spec.Source] = append(s.bySource[spec.Source], &spec)
		s.count++
	}
	return s
}

// Version returns the rule-store version this snapshot was built from.
func (s *Snapshot) Version() int64 { return s.version }

// RuleCount returns the number of rules in the snapshot.
func (s *Snapshot) RuleCount() int { return s.count }

// BySource returns the rules whose source matches the given topic.
func (s *Snapshot) BySource(topic string) []*Spec {
	return s.bySource[topic]
}

// Topics returns every topic referenced by at least one rule.
func (s *Snapshot) Topics() []string {
	topics := make([]string, 0, len(s.bySource))
	for t := range s.bySource {
		topics = append(topics, t)
	}
	return topics
}

// Holder provides thread-safe access to the current snapshot and supports
// atomic swapping on reload, so concurrent evaluation never sees a torn
// rule set.
type Holder struct {
	mu    sync.RWMutex
	snap  *Snapshot
	store Store
}

// NewHolder loads the initial snapshot from the store. A load failure here is
// fatal upstream: running with zero rules silently is worse than refusing to
// start.
func NewHolder(ctx context.Context, store Store) (*Holder, error) {
	h := &Holder{store: store}
	if err := h.Reload(ctx); err != nil {
		return nil, fmt.Errorf("initial rule load failed: %w", err)
	}
	return h, nil
}

// Current returns the active snapshot.
func (h *Holder) Current() *Snapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.snap
}

// Reload builds a fresh snapshot from the store and swaps it in atomically.
// Explicit operation; rules never change mid-evaluation.
func (h *Holder) Reload(ctx context.Context) error {
	version, err := h.store.RulesVersion(ctx)
	if err != nil {
		return fmt.Errorf("failed to read rules version: %w", err)
	}
	specs, err := h.store.LoadEnabledRules(ctx)
	if err != nil {
		return fmt.Errorf("failed to load enabled rules: %w", err)
	}
	snap := BuildSnapshot(version, specs)

	h.mu.Lock()
	h.snap = snap
	h.mu.Unlock()

	slog.Info("Loaded rule snapshot",
		"version", version,
		"rules_count", snap.RuleCount(),
	)
	return nil
}
