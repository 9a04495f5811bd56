package rules

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/ManushiChamika/dynamic-pricing-ai-IRWA-PROJECT-sub000/internal/events"
)

func validSpec() *Spec {
	return &Spec{
		ID:       "price-drop",
		Source:   "market.tick",
		Title:    "Price drop for {subject}",
		Where:    []Condition{{Field: "price", Op: OpLt, Value: "50"}},
		Severity: events.SeverityWarn,
		Notify:   NotifySpec{Channels: []string{"inapp"}, Throttle: Duration(5 * time.Minute)},
		Enabled:  true,
	}
}

func TestSpec_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Spec)
		wantErr bool
	}{
		{"valid condition rule", func(s *Spec) {}, false},
		{"valid detector rule", func(s *Spec) {
			s.Where = nil
			s.Detector = &DetectorSpec{Name: "ewma_zscore", Field: "price", Alpha: 0.3, Threshold: 3}
		}, false},
		{"missing id", func(s *Spec) { s.ID = "" }, true},
		{"missing source", func(s *Spec) { s.Source = "" }, true},
		{"neither where nor detector", func(s *Spec) { s.Where = nil }, true},
		{"both where and detector", func(s *Spec) {
			s.Detector = &DetectorSpec{Name: "ewma_zscore", Field: "price", Alpha: 0.3, Threshold: 3}
		}, true},
		{"invalid severity", func(s *Spec) { s.Severity = "fatal" }, true},
		{"unknown detector", func(s *Spec) {
			s.Where = nil
			s.Detector = &DetectorSpec{Name: "holt_winters", Field: "price", Alpha: 0.3, Threshold: 3}
		}, true},
		{"detector without field", func(s *Spec) {
			s.Where = nil
			s.Detector = &DetectorSpec{Name: "ewma_zscore", Alpha: 0.3, Threshold: 3}
		}, true},
		{"alpha out of range", func(s *Spec) {
			s.Where = nil
			s.Detector = &DetectorSpec{Name: "ewma_zscore", Field: "price", Alpha: 1.5, Threshold: 3}
		}, true},
		{"zero threshold", func(s *Spec) {
			s.Where = nil
			s.Detector = &DetectorSpec{Name: "ewma_zscore", Field: "price", Alpha: 0.3}
		}, true},
		{"condition missing op", func(s *Spec) { s.Where = []Condition{{Field: "price"}} }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := validSpec()
			tt.mutate(s)
			err := s.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDuration_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    time.Duration
		wantErr bool
	}{
		{"string with unit", `"5m"`, 5 * time.Minute, false},
		{"compound string", `"1h30m"`, 90 * time.Minute, false},
		{"bare seconds", `90`, 90 * time.Second, false},
		{"fractional seconds", `0.5`, 500 * time.Millisecond, false},
		{"garbage string", `"soon"`, 0, true},
		{"garbage token", `{}`, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var d Duration
			err := json.Unmarshal([]byte(tt.raw), &d)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Unmarshal(%s) error = %v, wantErr %v", tt.raw, err, tt.wantErr)
			}
			if err == nil && d.Std() != tt.want {
				t.Errorf("Unmarshal(%s) = %v, want %v", tt.raw, d.Std(), tt.want)
			}
		})
	}
}

func TestDuration_MarshalRoundTrip(t *testing.T) {
	d := Duration(90 * time.Second)
	data, err := json.Marshal(d)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var back Duration
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal(%s) error = %v", data, err)
	}
	if back != d {
		t.Errorf("round trip = %v, want %v", back.Std(), d.Std())
	}
}

func TestSpec_JSONRoundTrip(t *testing.T) {
	blob := `{
		"id": "margin-squeeze",
		"source": "price.proposal",
		"where": [{"field": "margin", "op": "lt", "value": "0.05"}],
		"severity": "crit",
		"dedupe": "{rule}:{sku}",
		"notify": {"channels": ["slack", "email"], "throttle": "10m"},
		"enabled": true
	}`
	var s Spec
	if err := json.Unmarshal([]byte(blob), &s); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if err := s.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if s.Notify.Throttle.Std() != 10*time.Minute {
		t.Errorf("throttle = %v, want 10m", s.Notify.Throttle.Std())
	}
	if s.Severity != events.SeverityCrit {
		t.Errorf("severity = %q, want crit", s.Severity)
	}
	if len(s.Notify.Channels) != 2 {
		t.Errorf("channels = %v, want two entries", s.Notify.Channels)
	}
}
