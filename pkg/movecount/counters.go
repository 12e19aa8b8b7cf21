// Package movecount holds the two counters that bridge interpreter time
// and motion-execution time: segments submitted to the motion subsystem
// and segments it has physically completed. The completed counter is the
// single piece of interpreter state written from outside the cooperative
// tick context (the motion subsystem's completion signal), so both sides
// of the pair are atomic.
package movecount

import "sync/atomic"

// Counters is the submitted/completed pair. The zero value is ready to use.
// Both counters are monotonically non-decreasing and wrap under the same
// modulus, so differences stay valid across wraparound.
type Counters struct {
	submitted atomic.Uint32
	completed atomic.Uint32
}

// MoveQueued records one motion segment accepted by the motion subsystem.
// Called only from the interpreter, and only on acceptance.
func (c *Counters) MoveQueued() {
	c.submitted.Add(1)
}

// MoveCompleted records one physically finished segment. This is the
// completion-signal entry point and may be called from any goroutine.
func (c *Counters) MoveCompleted() {
	c.completed.Add(1)
}

// Submitted returns the segments-submitted counter.
func (c *Counters) Submitted() uint32 {
	return c.submitted.Load()
}

// Completed returns the segments-completed counter.
func (c *Counters) Completed() uint32 {
	return c.completed.Load()
}

// Outstanding returns submitted minus completed. The difference is
// interpreted as signed: a completion racing DiscardOutstanding can
// briefly run completed ahead of submitted, and that reads as zero
// rather than wrapping.
func (c *Counters) Outstanding() uint32 {
	d := int32(c.submitted.Load() - c.completed.Load())
	if d <= 0 {
		return 0
	}
	return uint32(d)
}

// AllMovesFinished reports whether every submitted segment has completed.
func (c *Counters) AllMovesFinished() bool {
	return c.Outstanding() == 0
}

// DiscardOutstanding forgets segments that were submitted but will
// never complete, as when an emergency stop flushes the motion queue.
// The completed counter is left alone so late completions for
// discarded segments stay harmless.
func (c *Counters) DiscardOutstanding() {
	c.submitted.Store(c.completed.Load())
}
