// Package lifecycle implements the adaptive flush scheduler. The scheduler
// consumes the ordered intake stream, tracks the wrapped function's
// invocation cadence, and decides when the exporter should drain: after
// each invocation while the cadence is unknown, before each invocation once
// the cadence has proven fast, and on a backup timer whenever invocations
// stop arriving.
package lifecycle

import "time"

// Mode labels the scheduler's flushing strategy.
type Mode string

const (
	// ModeColdStart flushes post-invoke so the very first invocations get
	// their telemetry out even at the cost of billed duration.
	ModeColdStart Mode = "cold-start"
	// ModeSteady flushes pre-invoke, overlapping the drain with the
	// function's own execution.
	ModeSteady Mode = "steady"
)

// Policy is the scheduler's cadence state. Each mode is its own variant;
// transitions return the successor policy so every mode change is an
// explicit value, not a flag flip. The zero gap rule: an invocation with no
// predecessor counts as the start of a fast run.
type Policy interface {
	Mode() Mode

	// InvokeStart records an invocation start and reports whether a
	// pre-invoke flush is due.
	InvokeStart(t time.Time) (Policy, bool)

	// InvokeEnd records an invocation end and reports whether a post-invoke
	// flush is due.
	InvokeEnd(t time.Time) (Policy, bool)
}

// ColdStart is the initial policy. It flushes at every invoke-end and
// watches inter-arrival gaps; once MinRun consecutive invocations arrive
// faster than FastThreshold it hands over to Steady. There is no reverse
// transition: irregular cadence later on is covered by the backup timer,
// not by falling back to post-invoke flushing.
type ColdStart struct {
	FastThreshold time.Duration
	MinRun        int

	prevStart time.Time
	curStart  time.Time
	fastRun   int
}

// NewColdStart creates the initial scheduler policy.
func NewColdStart(fastThreshold time.Duration, minRun int) ColdStart {
	return ColdStart{
		FastThreshold: fastThreshold,
		MinRun:        minRun,
	}
}

// Mode implements Policy.
func (p ColdStart) Mode() Mode { return ModeColdStart }

// InvokeStart shifts the invocation window. Cold start never flushes on
// invoke-start.
func (p ColdStart) InvokeStart(t time.Time) (Policy, bool) {
	p.prevStart = p.curStart
	p.curStart = t
	return p, false
}

// InvokeEnd always requests a post-invoke flush, updates the fast-run
// counter from the inter-arrival gap, and transitions to Steady once the
// run is long enough.
func (p ColdStart) InvokeEnd(_ time.Time) (Policy, bool) {
	if p.prevStart.IsZero() || p.curStart.Sub(p.prevStart) < p.FastThreshold {
		p.fastRun++
	} else {
		p.fastRun = 0
	}
	if p.fastRun >= p.MinRun {
		return Steady{}, true
	}
	return p, true
}

// Steady flushes at every invoke-start and nothing else. It keeps no
// cadence state; once reached, the mode is permanent for the process
// lifetime.
type Steady struct{}

// Mode implements Policy.
func (Steady) Mode() Mode { return ModeSteady }

// InvokeStart requests a pre-invoke flush.
func (p Steady) InvokeStart(_ time.Time) (Policy, bool) { return p, true }

// InvokeEnd does not flush in steady mode.
func (p Steady) InvokeEnd(_ time.Time) (Policy, bool) { return p, false }
