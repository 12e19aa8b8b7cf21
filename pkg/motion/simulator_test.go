package motion

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestSimulatorCompletesSegments(t *testing.T) {
	var completed atomic.Int32
	s := NewSimulator(SimulatorConfig{
		QueueDepth:         4,
		SegmentTime:        time.Millisecond,
		OnSegmentCompleted: func() { completed.Add(1) },
	})
	defer s.Stop()

	for i := 0; i < 3; i++ {
		if !s.SubmitMove(Move{Coords: []float64{float64(i), 0, 0}, FeedRate: 50}) {
			t.Fatalf("move %d rejected", i)
		}
	}

	deadline := time.Now().Add(time.Second)
	for completed.Load() != 3 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if completed.Load() != 3 {
		t.Fatalf("completed = %d, want 3", completed.Load())
	}

	pos := s.Position()
	if len(pos) != 3 || pos[0] != 2 {
		t.Errorf("Position() = %v", pos)
	}
}

func TestSimulatorBackpressure(t *testing.T) {
	s := NewSimulator(SimulatorConfig{QueueDepth: 1, SegmentTime: time.Second})
	defer s.Stop()

	s.SubmitMove(Move{Coords: []float64{1}})
	s.SubmitMove(Move{Coords: []float64{2}})
	if s.SubmitMove(Move{Coords: []float64{3}}) {
		t.Error("move accepted past queue depth")
	}
}

func TestSimulatorEndstops(t *testing.T) {
	var completed atomic.Int32
	s := NewSimulator(SimulatorConfig{
		SegmentTime:        time.Millisecond,
		OnSegmentCompleted: func() { completed.Add(1) },
	})
	defer s.Stop()

	s.FailEndstop(DriveBit(1))
	s.SubmitMove(Move{Coords: []float64{0, -200, 0}, Endstops: DriveBit(0) | DriveBit(1)})

	deadline := time.Now().Add(time.Second)
	for completed.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	if got := s.Triggered(DriveBit(0)); got == 0 {
		t.Error("healthy endstop did not trigger")
	}
	if got := s.Triggered(DriveBit(1)); got != 0 {
		t.Error("failed endstop reported a trigger")
	}
}

func TestSimulatorProbeStopsAtBed(t *testing.T) {
	var completed atomic.Int32
	s := NewSimulator(SimulatorConfig{
		SegmentTime:        time.Millisecond,
		OnSegmentCompleted: func() { completed.Add(1) },
		BedHeight: func(x, y float64) float64 {
			return 0.1 + 0.001*x
		},
	})
	defer s.Stop()

	if _, ok := s.TriggerZ(); ok {
		t.Fatal("trigger height reported before any probe move")
	}

	s.SubmitMove(Move{Coords: []float64{50, 20, -5}, Endstops: ZProbeActive})
	deadline := time.Now().Add(time.Second)
	for completed.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	z, ok := s.TriggerZ()
	if !ok {
		t.Fatal("probe move reported no trigger height")
	}
	if z != 0.15 {
		t.Errorf("trigger Z = %v, want 0.15", z)
	}
	if got := s.Position(); got[2] != 0.15 {
		t.Errorf("Z after probe = %v, want 0.15", got[2])
	}
}
