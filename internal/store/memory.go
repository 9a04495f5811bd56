package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ManushiChamika/dynamic-pricing-ai-IRWA-PROJECT-sub000/internal/rules"
)

// Memory is an in-memory Store used by tests and local single-process runs.
// Safe for concurrent use.
type Memory struct {
	mu sync.RWMutex

	incidents  map[string]*Incident // incident_id -> incident
	deliveries []*Delivery
	decisions  []*DecisionLogEntry
	prices     map[string]*PriceRecord
	eventLog   []*EventLogEntry
	ruleSpecs  map[string]*rules.Spec
	rulesVer   int64
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		incidents: make(map[string]*Incident),
		prices:    make(map[string]*PriceRecord),
		ruleSpecs: make(map[string]*rules.Spec),
	}
}

// CreateIncident inserts a new incident row.
func (m *Memory) CreateIncident(_ context.Context, inc *Incident) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *inc
	now := time.Now().UTC()
	cp.CreatedAt = now
	cp.UpdatedAt = now
	m.incidents[cp.IncidentID] = &cp
	return nil
}

// GetIncident returns an incident by id.
func (m *Memory) GetIncident(_ context.Context, incidentID string) (*Incident, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inc, ok := m.incidents[incidentID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *inc
	return &cp, nil
}

// ActiveByFingerprint returns the non-resolved incident for a fingerprint.
func (m *Memory) ActiveByFingerprint(_ context.Context, fingerprint string) (*Incident, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, inc := range m.incidents {
		if inc.Fingerprint == fingerprint && inc.Status != StatusResolved {
			cp := *inc
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

// TouchIncident bumps last_seen.
func (m *Memory) TouchIncident(_ context.Context, incidentID string, lastSeen time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	inc, ok := m.incidents[incidentID]
	if !ok {
		return ErrNotFound
	}
	inc.LastSeen = lastSeen
	inc.UpdatedAt = time.Now().UTC()
	return nil
}

// MarkDispatched records the last sink fan-out time.
func (m *Memory) MarkDispatched(_ context.Context, incidentID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	inc, ok := m.incidents[incidentID]
	if !ok {
		return ErrNotFound
	}
	inc.LastDispatch = at
	inc.UpdatedAt = time.Now().UTC()
	return nil
}

// UpdateIncidentStatus sets the incident status.
func (m *Memory) UpdateIncidentStatus(_ context.Context, incidentID, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	inc, ok := m.incidents[incidentID]
	if !ok {
		return ErrNotFound
	}
	inc.Status = status
	inc.UpdatedAt = time.Now().UTC()
	return nil
}

// ListIncidents returns incidents matching the filter, newest first.
func (m *Memory) ListIncidents(_ context.Context, f IncidentFilter) ([]*Incident, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Incident
	for _, inc := range m.incidents {
		if f.Status != "" && inc.Status != f.Status {
			continue
		}
		if f.SubjectKey != "" && inc.SubjectKey != f.SubjectKey {
			continue
		}
		cp := *inc
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FirstSeen.After(out[j].FirstSeen) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// RecordDelivery appends a delivery attempt row.
func (m *Memory) RecordDelivery(_ context.Context, d *Delivery) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *d
	m.deliveries = append(m.deliveries, &cp)
	return nil
}

// ListDeliveries returns delivery rows for an incident in insert order.
func (m *Memory) ListDeliveries(_ context.Context, incidentID string) ([]*Delivery, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Delivery
	for _, d := range m.deliveries {
		if d.IncidentID == incidentID {
			cp := *d
			out = append(out, &cp)
		}
	}
	return out, nil
}

// AppendDecision appends a governance decision row.
func (m *Memory) AppendDecision(_ context.Context, e *DecisionLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *e
	m.decisions = append(m.decisions, &cp)
	return nil
}

// ListDecisions returns decisions for a subject key, newest first.
func (m *Memory) ListDecisions(_ context.Context, subjectKey string, limit int) ([]*DecisionLogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*DecisionLogEntry
	for i := len(m.decisions) - 1; i >= 0; i-- {
		d := m.decisions[i]
		if subjectKey != "" && d.SubjectKey != subjectKey {
			continue
		}
		cp := *d
		out = append(out, &cp)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// GetPrice returns the current price record for a SKU.
func (m *Memory) GetPrice(_ context.Context, sku string) (*PriceRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.prices[sku]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

// ApplyPrice performs the update-if-unchanged write for a SKU.
func (m *Memory) ApplyPrice(_ context.Context, sku string, newPrice decimal.Decimal, expectedRevision int64) (*PriceRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.prices[sku]
	if !ok {
		return nil, ErrNotFound
	}
	if p.Revision != expectedRevision {
		return nil, ErrRevisionMismatch
	}
	p.Price = newPrice
	p.Revision++
	p.UpdatedAt = time.Now().UTC()
	cp := *p
	return &cp, nil
}

// SeedPrice inserts the initial price row for a SKU.
func (m *Memory) SeedPrice(_ context.Context, sku string, price decimal.Decimal) (*PriceRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := &PriceRecord{
		SKU:       sku,
		Price:     price,
		Revision:  1,
		UpdatedAt: time.Now().UTC(),
	}
	m.prices[sku] = p
	cp := *p
	return &cp, nil
}

// AppendEvent appends a durable event-log row.
func (m *Memory) AppendEvent(_ context.Context, e *EventLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *e
	m.eventLog = append(m.eventLog, &cp)
	return nil
}

// EventLogLen reports the number of logged events (test hook).
func (m *Memory) EventLogLen() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.eventLog)
}

// LoadEnabledRules returns every enabled rule spec.
func (m *Memory) LoadEnabledRules(_ context.Context) ([]rules.Spec, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []rules.Spec
	for _, s := range m.ruleSpecs {
		if s.Enabled {
			out = append(out, *s)
		}
	}
	return out, nil
}

// RulesVersion returns the store-wide rules version counter.
func (m *Memory) RulesVersion(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.rulesVer, nil
}

// ListRules returns every rule, enabled or not.
func (m *Memory) ListRules(_ context.Context) ([]rules.Spec, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]rules.Spec, 0, len(m.ruleSpecs))
	for _, s := range m.ruleSpecs {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetRule returns a rule by id.
func (m *Memory) GetRule(_ context.Context, ruleID string) (*rules.Spec, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.ruleSpecs[ruleID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

// SaveRule inserts or replaces a rule and bumps versions.
func (m *Memory) SaveRule(_ context.Context, spec *rules.Spec) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *spec
	if prev, ok := m.ruleSpecs[cp.ID]; ok {
		cp.Version = prev.Version + 1
	} else if cp.Version == 0 {
		cp.Version = 1
	}
	m.ruleSpecs[cp.ID] = &cp
	m.rulesVer++
	return nil
}

// ToggleRule flips the enabled flag and bumps the rules version.
func (m *Memory) ToggleRule(_ context.Context, ruleID string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.ruleSpecs[ruleID]
	if !ok {
		return ErrNotFound
	}
	s.Enabled = enabled
	m.rulesVer++
	return nil
}
