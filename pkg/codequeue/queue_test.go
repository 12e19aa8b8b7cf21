package codequeue

import (
	"errors"
	"math"
	"testing"

	"reprap-host/pkg/gcode"
)

func TestReleaseInSubmissionOrder(t *testing.T) {
	q := New(8)
	src := gcode.New("test")

	cmds := []struct {
		text   string
		target uint32
	}{
		{"M106 S255", 1},
		{"M106 S128", 3},
		{"M107", 3},
		{"M42 P2 S1", 5},
	}
	for _, c := range cmds {
		if err := q.Enqueue(src, c.text, c.target); err != nil {
			t.Fatal(err)
		}
	}

	var ran []string
	run := func(e Entry) bool {
		ran = append(ran, e.Command)
		return true
	}

	// Nothing completed yet: nothing releases.
	if n := q.ReleaseEligible(0, run); n != 0 {
		t.Fatalf("released %d entries at completed=0", n)
	}

	if n := q.ReleaseEligible(1, run); n != 1 {
		t.Fatalf("released %d at completed=1, want 1", n)
	}
	if n := q.ReleaseEligible(4, run); n != 2 {
		t.Fatalf("released %d at completed=4, want 2", n)
	}
	if n := q.ReleaseEligible(10, run); n != 1 {
		t.Fatalf("released %d at completed=10, want 1", n)
	}

	want := []string{"M106 S255", "M106 S128", "M107", "M42 P2 S1"}
	if len(ran) != len(want) {
		t.Fatalf("ran %v", ran)
	}
	for i := range want {
		if ran[i] != want[i] {
			t.Errorf("ran[%d] = %q, want %q", i, ran[i], want[i])
		}
	}
	if q.Len() != 0 {
		t.Errorf("Len() = %d after full release", q.Len())
	}

	// Releasing again must not re-run anything.
	if n := q.ReleaseEligible(10, run); n != 0 {
		t.Errorf("entry released twice")
	}
}

func TestBusyEntryBlocksRelease(t *testing.T) {
	q := New(4)
	src := gcode.New("test")
	q.Enqueue(src, "M106 S255", 1)
	q.Enqueue(src, "M107", 1)

	calls := 0
	busy := func(e Entry) bool {
		calls++
		return false // still executing
	}
	if n := q.ReleaseEligible(5, busy); n != 0 {
		t.Fatalf("released %d past a busy entry", n)
	}
	if calls != 1 {
		t.Fatalf("run called %d times, want 1 (head only)", calls)
	}

	// Once the head completes, both release in order.
	var ran []string
	n := q.ReleaseEligible(5, func(e Entry) bool {
		ran = append(ran, e.Command)
		return true
	})
	if n != 2 || ran[0] != "M106 S255" || ran[1] != "M107" {
		t.Errorf("released %d: %v", n, ran)
	}
}

func TestBackpressure(t *testing.T) {
	q := New(2)
	src := gcode.New("test")
	if err := q.Enqueue(src, "M106 S1", 1); err != nil {
		t.Fatal(err)
	}
	if err := q.Enqueue(src, "M106 S2", 2); err != nil {
		t.Fatal(err)
	}
	err := q.Enqueue(src, "M106 S3", 3)
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("err = %v, want ErrQueueFull", err)
	}
	// Existing entries are intact.
	if q.Len() != 2 {
		t.Errorf("Len() = %d", q.Len())
	}

	// Releasing frees a slot for reuse.
	q.ReleaseEligible(2, func(Entry) bool { return true })
	if err := q.Enqueue(src, "M106 S3", 3); err != nil {
		t.Errorf("enqueue after release: %v", err)
	}
}

func TestWraparoundComparison(t *testing.T) {
	q := New(2)
	src := gcode.New("test")

	near := uint32(math.MaxUint32 - 1)
	if err := q.Enqueue(src, "M107", near); err != nil {
		t.Fatal(err)
	}

	if n := q.ReleaseEligible(near-5, func(Entry) bool { return true }); n != 0 {
		t.Error("released before target near wrap")
	}
	// Completed counter has wrapped past zero; target was reached.
	if n := q.ReleaseEligible(3, func(Entry) bool { return true }); n != 1 {
		t.Error("wrapwhile comparison failed to release")
	}
}

func TestDrainWithoutExecuting(t *testing.T) {
	q := New(4)
	src := gcode.New("test")
	q.Enqueue(src, "M106 S255", 100)
	q.Enqueue(src, "M107", 200)

	if n := q.Drain(nil); n != 2 {
		t.Fatalf("drained %d, want 2", n)
	}
	if q.Len() != 0 {
		t.Errorf("Len() = %d after drain", q.Len())
	}
	// All slots are reusable.
	for i := 0; i < q.Cap(); i++ {
		if err := q.Enqueue(src, "M107", 1); err != nil {
			t.Fatalf("slot %d not reusable after drain: %v", i, err)
		}
	}
}
