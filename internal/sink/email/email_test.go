package email

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ManushiChamika/dynamic-pricing-ai-IRWA-PROJECT-sub000/internal/sink"
	"github.com/ManushiChamika/dynamic-pricing-ai-IRWA-PROJECT-sub000/internal/sink/email/provider"
	"github.com/ManushiChamika/dynamic-pricing-ai-IRWA-PROJECT-sub000/internal/store"
)

// fakeProvider is a scriptable email backend.
type fakeProvider struct {
	name       string
	configured bool
	err        error

	mu   sync.Mutex
	sent []*provider.EmailRequest
}

func (f *fakeProvider) Name() string       { return f.name }
func (f *fakeProvider) IsConfigured() bool { return f.configured }

func (f *fakeProvider) Send(_ context.Context, req *provider.EmailRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, req)
	return nil
}

func (f *fakeProvider) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func testNotice() *sink.Notice {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	return &sink.Notice{
		Incident: &store.Incident{
			IncidentID: "inc-1",
			RuleID:     "price-drop",
			SubjectKey: "SKU-1",
			Status:     store.StatusOpen,
			Severity:   "warn",
			Title:      "Price drop for SKU-1",
			FirstSeen:  now,
			LastSeen:   now,
		},
		Payload: map[string]any{"price": 49.99},
	}
}

func TestDeliver_SendsThroughPrimary(t *testing.T) {
	p := &fakeProvider{name: "resend", configured: true}
	reg := provider.NewRegistry()
	reg.Register(p)
	reg.SetPrimary("resend")

	e := NewWithRegistry(reg, Config{
		From:       "alerts@example.com",
		Recipients: []string{"ops@example.com"},
	})

	if e.Type() != sink.TypeEmail {
		t.Errorf("Type() = %q, want email", e.Type())
	}
	if err := e.Deliver(context.Background(), testNotice()); err != nil {
		t.Fatalf("Deliver() error = %v", err)
	}
	if p.sentCount() != 1 {
		t.Fatalf("sent = %d, want 1", p.sentCount())
	}
	req := p.sent[0]
	if req.From != "alerts@example.com" {
		t.Errorf("from = %q", req.From)
	}
	if len(req.To) != 1 || req.To[0] != "ops@example.com" {
		t.Errorf("to = %v", req.To)
	}
	if !strings.Contains(req.Subject, "WARN") {
		t.Errorf("subject = %q", req.Subject)
	}
	if !strings.Contains(req.Body, "inc-1") {
		t.Error("body missing incident id")
	}
}

func TestDeliver_NoRecipientsIsPermanent(t *testing.T) {
	reg := provider.NewRegistry()
	reg.Register(&fakeProvider{name: "resend", configured: true})

	e := NewWithRegistry(reg, Config{From: "alerts@example.com"})
	err := e.Deliver(context.Background(), testNotice())
	if err == nil {
		t.Fatal("Deliver() without recipients should fail")
	}
	if sink.IsRetryable(err) {
		t.Errorf("missing recipients should be permanent: %v", err)
	}
}

func TestDeliver_FallsBackWhenPrimaryFails(t *testing.T) {
	primary := &fakeProvider{name: "resend", configured: true, err: errors.New("rate limit")}
	backup := &fakeProvider{name: "smtp", configured: true}
	reg := provider.NewRegistry()
	reg.Register(primary)
	reg.Register(backup)
	reg.SetPrimary("resend")
	reg.SetFallback("smtp")

	e := NewWithRegistry(reg, Config{
		From:       "alerts@example.com",
		Recipients: []string{"ops@example.com"},
	})
	if err := e.Deliver(context.Background(), testNotice()); err != nil {
		t.Fatalf("Deliver() error = %v, fallback should have saved it", err)
	}
	if backup.sentCount() != 1 {
		t.Errorf("fallback sent = %d, want 1", backup.sentCount())
	}
}

func TestRegistry_GetPrimary(t *testing.T) {
	reg := provider.NewRegistry()
	unconfigured := &fakeProvider{name: "resend"}
	configured := &fakeProvider{name: "smtp", configured: true}
	reg.Register(unconfigured)
	reg.Register(configured)
	reg.SetPrimary("resend")
	reg.SetFallback("smtp")

	// Unconfigured primary is skipped in favor of the configured fallback.
	p, err := reg.GetPrimary()
	if err != nil {
		t.Fatalf("GetPrimary() error = %v", err)
	}
	if p.Name() != "smtp" {
		t.Errorf("GetPrimary() = %q, want smtp", p.Name())
	}
}

func TestRegistry_NoConfiguredProvider(t *testing.T) {
	reg := provider.NewRegistry()
	reg.Register(&fakeProvider{name: "resend"})

	if _, err := reg.GetPrimary(); err == nil {
		t.Fatal("GetPrimary() with nothing configured should fail")
	}
	err := reg.Send(context.Background(), &provider.EmailRequest{To: []string{"x@example.com"}})
	if err == nil {
		t.Fatal("Send() with nothing configured should fail")
	}
}

func TestRegistry_SetPrimaryUnknown(t *testing.T) {
	reg := provider.NewRegistry()
	if err := reg.SetPrimary("sendgrid"); err == nil {
		t.Error("SetPrimary(unknown) should fail")
	}
	if err := reg.SetFallback("sendgrid"); err == nil {
		t.Error("SetFallback(unknown) should fail")
	}
}
