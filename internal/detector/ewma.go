// Package detector provides statistical anomaly detectors evaluated by the
// alert engine. Detectors are synchronous, bounded, and do no I/O.
package detector

import (
	"math"
	"sync"
	"time"
)

const (
	// defaultMinSamples is the warm-up before a subject can fire at all;
	// the EWMA mean and variance need a few observations to settle.
	defaultMinSamples = 3
	// minSigma is the floor below which the deviation is treated as zero
	// when deciding whether a flat stream has any spread at all.
	minSigma = 1e-9
)

// Result is the outcome of one observation.
type Result struct {
	// Fired is true when this observation should raise a fresh alert.
	Fired bool
	// Anomalous is true when |z| crossed the threshold, fired or not.
	Anomalous bool
	// Recovered is true when the subject transitioned back to normal,
	// used for incident auto-resolution.
	Recovered bool
	// Z is the z-score of the observation against the running EWMA.
	Z float64
}

// EWMAZScore maintains an exponentially-weighted mean and variance per
// subject key and flags observations whose z-score crosses the threshold.
// A hold-for window throttles fresh fires per subject so a persistent
// anomaly yields one alert per window instead of one per sample.
type EWMAZScore struct {
	alpha      float64
	threshold  float64
	holdFor    time.Duration
	minSamples int

	mu     sync.Mutex
	states map[string]*subjectState
}

type subjectState struct {
	mean      float64
	variance  float64
	n         int
	anomalous bool
	lastFire  time.Time
}

// NewEWMAZScore creates a detector with the given smoothing factor, z-score
// threshold, and hold-for window. minSamples <= 0 selects the default warm-up.
func NewEWMAZScore(alpha, threshold float64, holdFor time.Duration, minSamples int) *EWMAZScore {
	if minSamples <= 0 {
		minSamples = defaultMinSamples
	}
	return &EWMAZScore{
		alpha:      alpha,
		threshold:  threshold,
		holdFor:    holdFor,
		minSamples: minSamples,
		states:     make(map[string]*subjectState),
	}
}

// Observe scores one value for a subject key and updates the running state.
func (d *EWMAZScore) Observe(subject string, value float64, now time.Time) Result {
	d.mu.Lock()
	defer d.mu.Unlock()

	st, ok := d.states[subject]
	if !ok {
		// First observation seeds the mean; no spread information yet.
		d.states[subject] = &subjectState{mean: value, n: 1}
		return Result{}
	}

	diff := value - st.mean
	sigma := math.Sqrt(st.variance)

	var z float64
	switch {
	case sigma >= minSigma:
		z = diff / sigma
	case math.Abs(diff) >= minSigma:
		// Flat history, genuinely different value: infinitely surprising.
		z = math.Inf(1)
		if diff < 0 {
			z = math.Inf(-1)
		}
	default:
		z = 0
	}

	res := Result{Z: z}
	warm := st.n >= d.minSamples
	res.Anomalous = warm && math.Abs(z) >= d.threshold

	if res.Anomalous {
		if st.lastFire.IsZero() || now.Sub(st.lastFire) >= d.holdFor {
			res.Fired = true
			st.lastFire = now
		}
		st.anomalous = true
	} else {
		if st.anomalous {
			res.Recovered = true
		}
		st.anomalous = false
	}

	// Standard EWMA recurrence, applied after scoring so the observation is
	// judged against the trend it arrived into.
	incr := d.alpha * diff
	st.mean += incr
	st.variance = (1 - d.alpha) * (st.variance + diff*incr)
	st.n++

	return res
}

// Reset drops the state for a subject key.
func (d *EWMAZScore) Reset(subject string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.states, subject)
}

// Subjects returns the number of subject keys currently tracked.
func (d *EWMAZScore) Subjects() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.states)
}
