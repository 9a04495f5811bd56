package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ManushiChamika/dynamic-pricing-ai-IRWA-PROJECT-sub000/internal/rules"
)

func testIncident(id, fingerprint, status string) *Incident {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	return &Incident{
		IncidentID:  id,
		Fingerprint: fingerprint,
		RuleID:      "rule-1",
		SubjectKey:  "SKU-1",
		Status:      status,
		Severity:    "warn",
		Title:       "test incident",
		FirstSeen:   now,
		LastSeen:    now,
	}
}

func TestMemory_IncidentLifecycle(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	if _, err := m.GetIncident(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetIncident(missing) error = %v, want ErrNotFound", err)
	}

	inc := testIncident("inc-1", "fp-1", StatusOpen)
	if err := m.CreateIncident(ctx, inc); err != nil {
		t.Fatalf("CreateIncident() error = %v", err)
	}

	got, err := m.ActiveByFingerprint(ctx, "fp-1")
	if err != nil {
		t.Fatalf("ActiveByFingerprint() error = %v", err)
	}
	if got.IncidentID != "inc-1" {
		t.Errorf("active incident = %s, want inc-1", got.IncidentID)
	}

	later := inc.LastSeen.Add(time.Minute)
	if err := m.TouchIncident(ctx, "inc-1", later); err != nil {
		t.Fatalf("TouchIncident() error = %v", err)
	}
	if err := m.MarkDispatched(ctx, "inc-1", later); err != nil {
		t.Fatalf("MarkDispatched() error = %v", err)
	}
	got, _ = m.GetIncident(ctx, "inc-1")
	if !got.LastSeen.Equal(later) {
		t.Errorf("LastSeen = %v, want %v", got.LastSeen, later)
	}
	if !got.LastDispatch.Equal(later) {
		t.Errorf("LastDispatch = %v, want %v", got.LastDispatch, later)
	}

	if err := m.UpdateIncidentStatus(ctx, "inc-1", StatusResolved); err != nil {
		t.Fatalf("UpdateIncidentStatus() error = %v", err)
	}
	if _, err := m.ActiveByFingerprint(ctx, "fp-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("resolved incident should no longer be active, error = %v", err)
	}

	if err := m.TouchIncident(ctx, "missing", later); !errors.Is(err, ErrNotFound) {
		t.Errorf("TouchIncident(missing) error = %v, want ErrNotFound", err)
	}
}

func TestMemory_ListIncidentsFilter(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	a := testIncident("inc-a", "fp-a", StatusOpen)
	b := testIncident("inc-b", "fp-b", StatusResolved)
	c := testIncident("inc-c", "fp-c", StatusOpen)
	c.SubjectKey = "SKU-2"
	c.FirstSeen = a.FirstSeen.Add(time.Hour)
	for _, inc := range []*Incident{a, b, c} {
		if err := m.CreateIncident(ctx, inc); err != nil {
			t.Fatalf("CreateIncident() error = %v", err)
		}
	}

	open, err := m.ListIncidents(ctx, IncidentFilter{Status: StatusOpen})
	if err != nil {
		t.Fatalf("ListIncidents() error = %v", err)
	}
	if len(open) != 2 {
		t.Fatalf("open incidents = %d, want 2", len(open))
	}
	// Newest first.
	if open[0].IncidentID != "inc-c" {
		t.Errorf("first listed = %s, want inc-c", open[0].IncidentID)
	}

	bySubject, _ := m.ListIncidents(ctx, IncidentFilter{SubjectKey: "SKU-2"})
	if len(bySubject) != 1 || bySubject[0].IncidentID != "inc-c" {
		t.Errorf("ListIncidents(SKU-2) = %v", bySubject)
	}

	limited, _ := m.ListIncidents(ctx, IncidentFilter{Limit: 1})
	if len(limited) != 1 {
		t.Errorf("limited list = %d entries, want 1", len(limited))
	}
}

func TestMemory_PriceCAS(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	if _, err := m.GetPrice(ctx, "SKU-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetPrice(missing) error = %v, want ErrNotFound", err)
	}

	seeded, err := m.SeedPrice(ctx, "SKU-1", decimal.NewFromFloat(50))
	if err != nil {
		t.Fatalf("SeedPrice() error = %v", err)
	}
	if seeded.Revision != 1 {
		t.Fatalf("seeded revision = %d, want 1", seeded.Revision)
	}

	applied, err := m.ApplyPrice(ctx, "SKU-1", decimal.NewFromFloat(52.5), 1)
	if err != nil {
		t.Fatalf("ApplyPrice() error = %v", err)
	}
	if applied.Revision != 2 {
		t.Errorf("revision after apply = %d, want 2", applied.Revision)
	}
	if !applied.Price.Equal(decimal.NewFromFloat(52.5)) {
		t.Errorf("price after apply = %v, want 52.5", applied.Price)
	}

	// Stale writer: expected revision has moved on.
	if _, err := m.ApplyPrice(ctx, "SKU-1", decimal.NewFromFloat(60), 1); !errors.Is(err, ErrRevisionMismatch) {
		t.Errorf("stale apply error = %v, want ErrRevisionMismatch", err)
	}
	// Winner's value survives.
	got, _ := m.GetPrice(ctx, "SKU-1")
	if !got.Price.Equal(decimal.NewFromFloat(52.5)) {
		t.Errorf("price after stale apply = %v, want 52.5", got.Price)
	}

	if _, err := m.ApplyPrice(ctx, "SKU-9", decimal.NewFromFloat(10), 1); !errors.Is(err, ErrNotFound) {
		t.Errorf("ApplyPrice(missing sku) error = %v, want ErrNotFound", err)
	}
}

func TestMemory_PriceCAS_ConcurrentWritersOneWins(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	if _, err := m.SeedPrice(ctx, "SKU-1", decimal.NewFromFloat(50)); err != nil {
		t.Fatalf("SeedPrice() error = %v", err)
	}

	const writers = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	var wins, stales int
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := m.ApplyPrice(ctx, "SKU-1", decimal.NewFromInt(int64(100+i)), 1)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, ErrRevisionMismatch):
				stales++
			default:
				t.Errorf("unexpected apply error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if wins != 1 || stales != writers-1 {
		t.Errorf("wins = %d, stales = %d; want exactly one winner", wins, stales)
	}
	got, _ := m.GetPrice(ctx, "SKU-1")
	if got.Revision != 2 {
		t.Errorf("final revision = %d, want 2", got.Revision)
	}
}

func TestMemory_DeliveriesAndDecisions(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	for i, incID := range []string{"inc-1", "inc-1", "inc-2"} {
		err := m.RecordDelivery(ctx, &Delivery{
			DeliveryID: string(rune('a' + i)),
			IncidentID: incID,
			Channel:    "slack",
			Attempt:    i + 1,
			Status:     DeliverySuccess,
			At:         time.Now().UTC(),
		})
		if err != nil {
			t.Fatalf("RecordDelivery() error = %v", err)
		}
	}
	ds, err := m.ListDeliveries(ctx, "inc-1")
	if err != nil {
		t.Fatalf("ListDeliveries() error = %v", err)
	}
	if len(ds) != 2 {
		t.Errorf("deliveries for inc-1 = %d, want 2", len(ds))
	}

	for i := 0; i < 3; i++ {
		err := m.AppendDecision(ctx, &DecisionLogEntry{
			DecisionID: string(rune('a' + i)),
			ProposalID: "prop",
			SubjectKey: "SKU-1",
			Action:     ActionAppliedAuto,
			At:         time.Now().UTC(),
		})
		if err != nil {
			t.Fatalf("AppendDecision() error = %v", err)
		}
	}
	decs, err := m.ListDecisions(ctx, "SKU-1", 2)
	if err != nil {
		t.Fatalf("ListDecisions() error = %v", err)
	}
	if len(decs) != 2 {
		t.Errorf("limited decisions = %d, want 2", len(decs))
	}
	// Newest first.
	if decs[0].DecisionID != "c" {
		t.Errorf("first decision = %s, want c", decs[0].DecisionID)
	}
}

func TestMemory_RuleVersioning(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	spec := &rules.Spec{
		ID:       "rule-1",
		Source:   "market.tick",
		Where:    []rules.Condition{{Field: "price", Op: rules.OpGt, Value: "1"}},
		Severity: "warn",
		Enabled:  true,
	}
	if err := m.SaveRule(ctx, spec); err != nil {
		t.Fatalf("SaveRule() error = %v", err)
	}
	v1, _ := m.RulesVersion(ctx)
	if v1 != 1 {
		t.Errorf("rules version after save = %d, want 1", v1)
	}
	got, err := m.GetRule(ctx, "rule-1")
	if err != nil {
		t.Fatalf("GetRule() error = %v", err)
	}
	if got.Version != 1 {
		t.Errorf("rule version = %d, want 1", got.Version)
	}

	// Re-save bumps both the rule version and the store version.
	if err := m.SaveRule(ctx, spec); err != nil {
		t.Fatalf("SaveRule() error = %v", err)
	}
	got, _ = m.GetRule(ctx, "rule-1")
	if got.Version != 2 {
		t.Errorf("rule version after re-save = %d, want 2", got.Version)
	}
	v2, _ := m.RulesVersion(ctx)
	if v2 <= v1 {
		t.Errorf("rules version did not advance: %d -> %d", v1, v2)
	}

	enabled, err := m.LoadEnabledRules(ctx)
	if err != nil {
		t.Fatalf("LoadEnabledRules() error = %v", err)
	}
	if len(enabled) != 1 {
		t.Fatalf("enabled rules = %d, want 1", len(enabled))
	}

	if err := m.ToggleRule(ctx, "rule-1", false); err != nil {
		t.Fatalf("ToggleRule() error = %v", err)
	}
	enabled, _ = m.LoadEnabledRules(ctx)
	if len(enabled) != 0 {
		t.Errorf("enabled rules after disable = %d, want 0", len(enabled))
	}
	if err := m.ToggleRule(ctx, "missing", true); !errors.Is(err, ErrNotFound) {
		t.Errorf("ToggleRule(missing) error = %v, want ErrNotFound", err)
	}
}
