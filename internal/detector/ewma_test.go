package detector

import (
	"math"
	"testing"
	"time"
)

func at(sec int) time.Time {
	return time.Date(2025, 6, 1, 12, 0, sec, 0, time.UTC)
}

// feed pushes a stable series so the subject is warmed up past minSamples.
func feed(d *EWMAZScore, subject string, values []float64, startSec int) []Result {
	out := make([]Result, 0, len(values))
	for i, v := range values {
		out = append(out, d.Observe(subject, v, at(startSec+i)))
	}
	return out
}

func TestObserve_StableStreamNeverFires(t *testing.T) {
	d := NewEWMAZScore(0.3, 3.0, time.Minute, 3)

	results := feed(d, "SKU-1", []float64{100, 103, 97, 102, 98, 104, 96, 101, 99, 103}, 0)
	for i, r := range results {
		if r.Fired {
			t.Errorf("observation %d fired on a stable stream, z=%v", i, r.Z)
		}
		if r.Anomalous {
			t.Errorf("observation %d anomalous on a stable stream, z=%v", i, r.Z)
		}
	}
}

func TestObserve_OutlierFiresOnceAfterWarmup(t *testing.T) {
	d := NewEWMAZScore(0.3, 3.0, time.Minute, 3)

	feed(d, "SKU-1", []float64{100, 103, 97, 102, 98, 104, 96}, 0)

	r := d.Observe("SKU-1", 500, at(10))
	if !r.Fired {
		t.Fatalf("outlier after warm-up should fire, got %+v", r)
	}
	if !r.Anomalous {
		t.Errorf("outlier should be anomalous, got %+v", r)
	}
	if r.Z < 3.0 {
		t.Errorf("z = %v, want >= threshold 3.0", r.Z)
	}
}

func TestObserve_ColdSubjectNeverFires(t *testing.T) {
	d := NewEWMAZScore(0.3, 3.0, time.Minute, 5)

	// Fewer observations than minSamples: even a wild value stays quiet.
	d.Observe("SKU-1", 100, at(0))
	d.Observe("SKU-1", 100, at(1))
	r := d.Observe("SKU-1", 9000, at(2))
	if r.Fired || r.Anomalous {
		t.Errorf("subject below min samples must not fire, got %+v", r)
	}
}

func TestObserve_HoldForSuppressesRepeatFires(t *testing.T) {
	d := NewEWMAZScore(0.1, 3.0, time.Minute, 3)

	feed(d, "SKU-1", []float64{100, 103, 97, 102, 98, 104, 96}, 0)

	first := d.Observe("SKU-1", 500, at(10))
	if !first.Fired {
		t.Fatalf("first outlier should fire, got %+v", first)
	}

	// Still anomalous 10 seconds later: inside the hold-for window.
	second := d.Observe("SKU-1", 510, at(20))
	if !second.Anomalous {
		t.Fatalf("persistent outlier should stay anomalous, got %+v", second)
	}
	if second.Fired {
		t.Error("repeat fire inside the hold-for window should be suppressed")
	}

	// Past the window the subject may fire again.
	third := d.Observe("SKU-1", 1000, at(75))
	if !third.Fired {
		t.Errorf("fire past the hold-for window should be allowed, got %+v", third)
	}
}

func TestObserve_RecoveredOnReturnToNormal(t *testing.T) {
	d := NewEWMAZScore(0.1, 3.0, time.Minute, 3)

	feed(d, "SKU-1", []float64{100, 103, 97, 102, 98, 104, 96}, 0)

	r := d.Observe("SKU-1", 500, at(10))
	if !r.Fired {
		t.Fatalf("outlier should fire, got %+v", r)
	}

	// Back to baseline: one Recovered transition, then quiet.
	rec := d.Observe("SKU-1", 100, at(11))
	if !rec.Recovered {
		t.Fatalf("return to baseline should report Recovered, got %+v", rec)
	}
	next := d.Observe("SKU-1", 101, at(12))
	if next.Recovered {
		t.Error("Recovered must only be reported on the transition")
	}
}

func TestObserve_FlatHistoryInfiniteSurprise(t *testing.T) {
	d := NewEWMAZScore(0.3, 3.0, time.Minute, 3)

	feed(d, "SKU-1", []float64{100, 100, 100, 100}, 0)

	r := d.Observe("SKU-1", 101, at(10))
	if !math.IsInf(r.Z, 1) {
		t.Errorf("deviation from a flat history should score +Inf, got z=%v", r.Z)
	}
	if !r.Fired {
		t.Error("infinite surprise after warm-up should fire")
	}

	feed(d, "SKU-2", []float64{100, 100, 100, 100}, 0)
	r = d.Observe("SKU-2", 99, at(10))
	if !math.IsInf(r.Z, -1) {
		t.Errorf("downward deviation from a flat history should score -Inf, got z=%v", r.Z)
	}
}

func TestObserve_SubjectsAreIndependent(t *testing.T) {
	d := NewEWMAZScore(0.3, 3.0, time.Minute, 3)

	feed(d, "SKU-1", []float64{100, 103, 97, 102, 98, 104, 96}, 0)

	// SKU-2 has no history; its first wild values must not fire even though
	// SKU-1 is fully warmed up.
	r := d.Observe("SKU-2", 9000, at(10))
	if r.Fired || r.Anomalous {
		t.Errorf("fresh subject must not inherit another subject's state, got %+v", r)
	}

	if got := d.Subjects(); got != 2 {
		t.Errorf("Subjects() = %d, want 2", got)
	}
}

func TestReset_DropsSubjectState(t *testing.T) {
	d := NewEWMAZScore(0.3, 3.0, time.Minute, 3)

	feed(d, "SKU-1", []float64{100, 103, 97, 102, 98, 104, 96}, 0)
	d.Reset("SKU-1")

	if got := d.Subjects(); got != 0 {
		t.Fatalf("Subjects() after reset = %d, want 0", got)
	}
	r := d.Observe("SKU-1", 9000, at(10))
	if r.Fired {
		t.Error("reset subject must re-warm before firing")
	}
}

func TestNewEWMAZScore_DefaultMinSamples(t *testing.T) {
	d := NewEWMAZScore(0.3, 3.0, time.Minute, 0)
	if d.minSamples != defaultMinSamples {
		t.Errorf("minSamples = %d, want default %d", d.minSamples, defaultMinSamples)
	}
}
