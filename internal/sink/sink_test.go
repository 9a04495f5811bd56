package sink

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ManushiChamika/dynamic-pricing-ai-IRWA-PROJECT-sub000/internal/events"
	"github.com/ManushiChamika/dynamic-pricing-ai-IRWA-PROJECT-sub000/internal/store"
)

func testNotice() *Notice {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	return &Notice{
		Incident: &store.Incident{
			IncidentID: "inc-1",
			RuleID:     "price-drop",
			SubjectKey: "SKU-1",
			Status:     store.StatusOpen,
			Severity:   "crit",
			Title:      "Price drop for SKU-1",
			FirstSeen:  now,
			LastSeen:   now,
		},
		Payload: map[string]any{"price": 49.99, "market": "Amazon"},
	}
}

// scriptedSink fails a fixed number of times before succeeding.
type scriptedSink struct {
	name     string
	failures int
	err      error

	mu       sync.Mutex
	attempts int
}

func (s *scriptedSink) Type() string { return s.name }

func (s *scriptedSink) Deliver(_ context.Context, _ *Notice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts++
	if s.attempts <= s.failures {
		return s.err
	}
	return nil
}

func (s *scriptedSink) attemptCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

func fastRetry() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		BackoffFactor:  2.0,
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	r.Register(&scriptedSink{name: TypeSlack})
	r.Register(&scriptedSink{name: TypeEmail})

	if _, ok := r.Get(TypeSlack); !ok {
		t.Error("registered sink not found")
	}
	if _, ok := r.Get(TypeWebhook); ok {
		t.Error("unregistered sink found")
	}
	if got := len(r.List()); got != 2 {
		t.Errorf("List() = %d entries, want 2", got)
	}
}

func TestDispatch_RecordsSuccessRow(t *testing.T) {
	mem := store.NewMemory()
	r := NewRegistry()
	s := &scriptedSink{name: TypeSlack}
	r.Register(s)
	f := NewFanout(r, mem, WithRetryConfig(fastRetry()))

	n := testNotice()
	f.Dispatch(context.Background(), n.Incident, n.Payload, []string{TypeSlack})

	rows, _ := mem.ListDeliveries(context.Background(), "inc-1")
	if len(rows) != 1 {
		t.Fatalf("delivery rows = %d, want 1", len(rows))
	}
	row := rows[0]
	if row.Status != store.DeliverySuccess || row.Channel != TypeSlack || row.Attempt != 1 {
		t.Errorf("row = %+v", row)
	}
	if row.DeliveryID == "" {
		t.Error("delivery row has no id")
	}
}

func TestDispatch_RetriesTransientFailure(t *testing.T) {
	mem := store.NewMemory()
	r := NewRegistry()
	s := &scriptedSink{name: TypeSlack, failures: 2, err: errors.New("connection refused")}
	r.Register(s)
	f := NewFanout(r, mem, WithRetryConfig(fastRetry()))

	n := testNotice()
	f.Dispatch(context.Background(), n.Incident, n.Payload, []string{TypeSlack})

	if s.attemptCount() != 3 {
		t.Errorf("attempts = %d, want 3", s.attemptCount())
	}
	rows, _ := mem.ListDeliveries(context.Background(), "inc-1")
	if len(rows) != 3 {
		t.Fatalf("delivery rows = %d, want one per attempt", len(rows))
	}
	if rows[0].Status != store.DeliveryFailure || rows[2].Status != store.DeliverySuccess {
		t.Errorf("row statuses = %s, %s, %s", rows[0].Status, rows[1].Status, rows[2].Status)
	}
	if !strings.Contains(rows[0].Detail, "connection refused") {
		t.Errorf("failure row detail = %q", rows[0].Detail)
	}
}

func TestDispatch_PermanentFailureNotRetried(t *testing.T) {
	mem := store.NewMemory()
	r := NewRegistry()
	s := &scriptedSink{name: TypeSlack, failures: 99, err: errors.New("invalid webhook URL")}
	r.Register(s)
	f := NewFanout(r, mem, WithRetryConfig(fastRetry()))

	n := testNotice()
	f.Dispatch(context.Background(), n.Incident, n.Payload, []string{TypeSlack})

	if s.attemptCount() != 1 {
		t.Errorf("attempts = %d, want 1 (permanent errors stop retries)", s.attemptCount())
	}
}

func TestDispatch_ExhaustedRetriesStop(t *testing.T) {
	mem := store.NewMemory()
	r := NewRegistry()
	s := &scriptedSink{name: TypeSlack, failures: 99, err: errors.New("request timeout")}
	r.Register(s)
	f := NewFanout(r, mem, WithRetryConfig(fastRetry()))

	n := testNotice()
	f.Dispatch(context.Background(), n.Incident, n.Payload, []string{TypeSlack})

	if s.attemptCount() != 3 {
		t.Errorf("attempts = %d, want MaxAttempts", s.attemptCount())
	}
	rows, _ := mem.ListDeliveries(context.Background(), "inc-1")
	for _, row := range rows {
		if row.Status != store.DeliveryFailure {
			t.Errorf("row %d status = %s, want failure", row.Attempt, row.Status)
		}
	}
}

func TestDispatch_ChannelsAreIsolated(t *testing.T) {
	mem := store.NewMemory()
	r := NewRegistry()
	broken := &scriptedSink{name: TypeSlack, failures: 99, err: errors.New("invalid webhook URL")}
	healthy := &scriptedSink{name: TypeEmail}
	r.Register(broken)
	r.Register(healthy)
	f := NewFanout(r, mem, WithRetryConfig(fastRetry()))

	n := testNotice()
	f.Dispatch(context.Background(), n.Incident, n.Payload, []string{TypeSlack, TypeEmail})

	if healthy.attemptCount() != 1 {
		t.Errorf("healthy channel attempts = %d, want 1", healthy.attemptCount())
	}

	rows, _ := mem.ListDeliveries(context.Background(), "inc-1")
	var success, failure int
	for _, row := range rows {
		switch row.Status {
		case store.DeliverySuccess:
			success++
		case store.DeliveryFailure:
			failure++
		}
	}
	if success != 1 || failure != 1 {
		t.Errorf("success = %d, failure = %d; want one of each", success, failure)
	}
}

func TestDispatch_UnknownChannelSkipped(t *testing.T) {
	mem := store.NewMemory()
	f := NewFanout(NewRegistry(), mem, WithRetryConfig(fastRetry()))

	n := testNotice()
	f.Dispatch(context.Background(), n.Incident, n.Payload, []string{"pager"})

	rows, _ := mem.ListDeliveries(context.Background(), "inc-1")
	if len(rows) != 0 {
		t.Errorf("delivery rows for unknown channel = %d, want 0", len(rows))
	}
}

func TestSlack_Deliver(t *testing.T) {
	var got SlackPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("bad Slack payload: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewSlack(srv.URL, srv.Client())
	if err := s.Deliver(context.Background(), testNotice()); err != nil {
		t.Fatalf("Deliver() error = %v", err)
	}
	if len(got.Attachments) != 1 {
		t.Fatalf("attachments = %d, want 1", len(got.Attachments))
	}
	att := got.Attachments[0]
	if att.Title != "Price drop for SKU-1" {
		t.Errorf("attachment title = %q", att.Title)
	}
	if att.Color != "danger" {
		t.Errorf("crit incident color = %q, want danger", att.Color)
	}
}

func TestSlack_DeliverServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	s := NewSlack(srv.URL, srv.Client())
	err := s.Deliver(context.Background(), testNotice())
	if err == nil {
		t.Fatal("5xx should be an error")
	}
	if !IsRetryable(err) {
		t.Errorf("502 delivery error should classify retryable: %v", err)
	}
}

func TestSlack_MissingURLIsPermanent(t *testing.T) {
	s := NewSlack("", nil)
	err := s.Deliver(context.Background(), testNotice())
	if err == nil {
		t.Fatal("empty URL should fail")
	}
	if IsRetryable(err) {
		t.Errorf("misconfiguration should be permanent: %v", err)
	}
}

func TestWebhook_Deliver(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %q", ct)
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	s := NewWebhook(srv.URL, srv.Client())
	if err := s.Deliver(context.Background(), testNotice()); err != nil {
		t.Fatalf("Deliver() error = %v", err)
	}
	if got["incident_id"] != "inc-1" {
		t.Errorf("webhook payload = %v", got)
	}
}

func TestInApp_PublishesIncidentNotice(t *testing.T) {
	var published events.Payload
	pub := publisherFunc(func(_ context.Context, p events.Payload) error {
		published = p
		return nil
	})

	s := NewInApp(pub)
	if err := s.Deliver(context.Background(), testNotice()); err != nil {
		t.Fatalf("Deliver() error = %v", err)
	}
	notice, ok := published.(*events.IncidentNotice)
	if !ok {
		t.Fatalf("published payload type = %T, want *IncidentNotice", published)
	}
	if notice.IncidentID != "inc-1" || notice.SubjectKey != "SKU-1" {
		t.Errorf("notice = %+v", notice)
	}
	if notice.Topic() != events.TopicIncidentNotice {
		t.Errorf("notice topic = %q", notice.Topic())
	}
}

// publisherFunc adapts a function to the Publisher interface.
type publisherFunc func(ctx context.Context, p events.Payload) error

func (f publisherFunc) Publish(ctx context.Context, p events.Payload) error { return f(ctx, p) }

func TestBuildEmailPayload(t *testing.T) {
	p := BuildEmailPayload(testNotice())
	if !strings.Contains(p.Subject, "CRIT") || !strings.Contains(p.Subject, "Price drop") {
		t.Errorf("subject = %q", p.Subject)
	}
	for _, want := range []string{"inc-1", "SKU-1", "price-drop", "49.99"} {
		if !strings.Contains(p.Body, want) {
			t.Errorf("body missing %q:\n%s", want, p.Body)
		}
	}
}
