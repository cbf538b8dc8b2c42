package lifecycle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// runInvocation drives one start/end pair through the policy and returns
// the successor along with the flush decisions at each edge.
func runInvocation(p Policy, start time.Time, dur time.Duration) (next Policy, flushAtStart, flushAtEnd bool) {
	p, flushAtStart = p.InvokeStart(start)
	p, flushAtEnd = p.InvokeEnd(start.Add(dur))
	return p, flushAtStart, flushAtEnd
}

func TestColdStartFlushesEveryInvokeEnd(t *testing.T) {
	var p Policy = NewColdStart(60*time.Second, 100)

	for i := 0; i < 5; i++ {
		var atStart, atEnd bool
		p, atStart, atEnd = runInvocation(p, epoch.Add(time.Duration(i)*5*time.Minute), 50*time.Millisecond)
		assert.False(t, atStart, "cold start must not flush pre-invoke")
		assert.True(t, atEnd, "cold start must flush post-invoke")
		assert.Equal(t, ModeColdStart, p.Mode())
	}
}

func TestTransitionAfterConsecutiveFastInvocations(t *testing.T) {
	var p Policy = NewColdStart(60*time.Second, 3)

	// Three invocations 10 seconds apart: the first has no predecessor and
	// opens the fast run, so the mode flips at the third invoke-end.
	for i := 0; i < 2; i++ {
		p, _, _ = runInvocation(p, epoch.Add(time.Duration(i)*10*time.Second), 50*time.Millisecond)
		assert.Equal(t, ModeColdStart, p.Mode())
	}
	p, _, flushAtEnd := runInvocation(p, epoch.Add(20*time.Second), 50*time.Millisecond)
	assert.True(t, flushAtEnd, "the transitioning invoke-end still flushes")
	assert.Equal(t, ModeSteady, p.Mode())
}

func TestSlowGapResetsFastRun(t *testing.T) {
	var p Policy = NewColdStart(60*time.Second, 3)

	p, _, _ = runInvocation(p, epoch, 50*time.Millisecond)
	p, _, _ = runInvocation(p, epoch.Add(10*time.Second), 50*time.Millisecond)
	// Gap of 2 minutes clears the run before it reaches 3.
	p, _, _ = runInvocation(p, epoch.Add(130*time.Second), 50*time.Millisecond)
	assert.Equal(t, ModeColdStart, p.Mode())

	// The reset means three more fast invocations are needed. The slow
	// invocation reset the counter to zero, so the next fast one counts 1.
	p, _, _ = runInvocation(p, epoch.Add(140*time.Second), 50*time.Millisecond)
	p, _, _ = runInvocation(p, epoch.Add(150*time.Second), 50*time.Millisecond)
	assert.Equal(t, ModeColdStart, p.Mode())
	p, _, _ = runInvocation(p, epoch.Add(160*time.Second), 50*time.Millisecond)
	assert.Equal(t, ModeSteady, p.Mode())
}

func TestSteadyFlushesPreInvokeOnly(t *testing.T) {
	var p Policy = Steady{}

	p, atStart := p.InvokeStart(epoch)
	assert.True(t, atStart)
	p, atEnd := p.InvokeEnd(epoch.Add(time.Second))
	assert.False(t, atEnd)

	// Irregular cadence does not revert the mode.
	p, _ = p.InvokeStart(epoch.Add(2 * time.Hour))
	p, _ = p.InvokeEnd(epoch.Add(2*time.Hour + time.Second))
	assert.Equal(t, ModeSteady, p.Mode())
}

func TestTwelveInvocationScenario(t *testing.T) {
	// 12 invocations at 10-second intervals, threshold 60s, minimum run 3:
	// post-invoke flushes for 1-3, pre-invoke flushes for 4-12.
	var p Policy = NewColdStart(60*time.Second, 3)

	for i := 0; i < 12; i++ {
		var atStart, atEnd bool
		p, atStart, atEnd = runInvocation(p, epoch.Add(time.Duration(i)*10*time.Second), 50*time.Millisecond)

		if i < 3 {
			require.False(t, atStart, "invocation %d should not flush pre-invoke", i+1)
			require.True(t, atEnd, "invocation %d should flush post-invoke", i+1)
		} else {
			require.True(t, atStart, "invocation %d should flush pre-invoke", i+1)
			require.False(t, atEnd, "invocation %d should not flush post-invoke", i+1)
		}
	}
	assert.Equal(t, ModeSteady, p.Mode())
}
