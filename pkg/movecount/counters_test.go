package movecount

import (
	"sync"
	"testing"
)

func TestCounterInvariant(t *testing.T) {
	var c Counters

	const n = 100
	for i := 0; i < n; i++ {
		c.MoveQueued()
		if c.Completed() > c.Submitted() {
			t.Fatalf("completed %d > submitted %d", c.Completed(), c.Submitted())
		}
	}
	for i := 0; i < n; i++ {
		c.MoveCompleted()
		if c.Completed() > c.Submitted() {
			t.Fatalf("completed %d > submitted %d", c.Completed(), c.Submitted())
		}
	}

	if !c.AllMovesFinished() {
		t.Errorf("AllMovesFinished() = false after %d/%d", c.Submitted(), c.Completed())
	}
	if c.Submitted() != n || c.Completed() != n {
		t.Errorf("counters = %d/%d, want %d/%d", c.Submitted(), c.Completed(), n, n)
	}
}

func TestOutstanding(t *testing.T) {
	var c Counters
	for i := 0; i < 5; i++ {
		c.MoveQueued()
	}
	c.MoveCompleted()
	c.MoveCompleted()

	if got := c.Outstanding(); got != 3 {
		t.Errorf("Outstanding() = %d, want 3", got)
	}
	if c.AllMovesFinished() {
		t.Error("AllMovesFinished() = true with 3 outstanding")
	}
}

func TestDiscardOutstanding(t *testing.T) {
	var c Counters
	for i := 0; i < 4; i++ {
		c.MoveQueued()
	}
	c.MoveCompleted()

	c.DiscardOutstanding()
	if got := c.Outstanding(); got != 0 {
		t.Fatalf("Outstanding() = %d after discard, want 0", got)
	}

	// A completion for a discarded segment arriving late must not wrap
	// the pair into a permanent outstanding count.
	c.MoveCompleted()
	if got := c.Outstanding(); got != 0 {
		t.Errorf("Outstanding() = %d after stale completion, want 0", got)
	}
	if !c.AllMovesFinished() {
		t.Error("AllMovesFinished() = false after stale completion")
	}
}

// The completion signal arrives from the motion subsystem's own context;
// concurrent increments must not lose counts.
func TestConcurrentCompletions(t *testing.T) {
	var c Counters
	const perWorker = 1000
	const workers = 8

	for i := 0; i < workers*perWorker; i++ {
		c.MoveQueued()
	}

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				c.MoveCompleted()
			}
		}()
	}
	wg.Wait()

	if c.Completed() != workers*perWorker {
		t.Errorf("Completed() = %d, want %d", c.Completed(), workers*perWorker)
	}
	if !c.AllMovesFinished() {
		t.Error("AllMovesFinished() = false after all completions")
	}
}
