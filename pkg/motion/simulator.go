package motion

import (
	"sync"
	"time"
)

// SimulatorConfig configures the motion simulator.
type SimulatorConfig struct {
	// QueueDepth is the simulated look-ahead queue length.
	QueueDepth int
	// SegmentTime is how long each segment takes to "execute".
	SegmentTime time.Duration
	// OnSegmentCompleted is invoked once per finished segment, from the
	// simulator's goroutine. Wire it to the completion counter.
	OnSegmentCompleted func()
	// BedHeight models the bed surface: a probe-checked move stops at
	// BedHeight(x, y) instead of its target Z. Nil means a flat bed at 0.
	BedHeight func(x, y float64) float64
}

// Simulator is a stand-in motion subsystem: it queues segments, completes
// them after a fixed time, and records endstop triggers for moves that
// carried an endstop mask. Used by cmd/print-sim and in tests.
type Simulator struct {
	mu        sync.Mutex
	queue     chan Move
	segTime   time.Duration
	onDone    func()
	bedHeight func(x, y float64) float64
	triggered EndstopChecks
	stuck     EndstopChecks // endstops configured never to trigger
	position  []float64
	triggerZ  float64
	probed    bool

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewSimulator creates and starts a simulator.
func NewSimulator(cfg SimulatorConfig) *Simulator {
	depth := cfg.QueueDepth
	if depth <= 0 {
		depth = 16
	}
	segTime := cfg.SegmentTime
	if segTime <= 0 {
		segTime = time.Millisecond
	}
	s := &Simulator{
		queue:     make(chan Move, depth),
		segTime:   segTime,
		onDone:    cfg.OnSegmentCompleted,
		bedHeight: cfg.BedHeight,
		stopCh:    make(chan struct{}),
	}
	s.wg.Add(1)
	go s.run()
	return s
}

// SubmitMove accepts the segment unless the look-ahead queue is full.
func (s *Simulator) SubmitMove(m Move) bool {
	coords := make([]float64, len(m.Coords))
	copy(coords, m.Coords)
	m.Coords = coords
	select {
	case s.queue <- m:
		return true
	default:
		return false
	}
}

// Triggered returns which of the masked endstops fired on the most recent
// endstop-checked move.
func (s *Simulator) Triggered(mask EndstopChecks) EndstopChecks {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.triggered & mask
}

// TriggerZ returns where the most recent probe-checked move stopped.
func (s *Simulator) TriggerZ() (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.triggerZ, s.probed
}

// FailEndstop marks endstops that will never trigger, for exercising the
// homing and probing abort paths.
func (s *Simulator) FailEndstop(mask EndstopChecks) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stuck |= mask
}

// Position returns the last executed segment's coordinates.
func (s *Simulator) Position() []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]float64, len(s.position))
	copy(out, s.position)
	return out
}

// Stop shuts the simulator down and waits for its goroutine.
func (s *Simulator) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

func (s *Simulator) run() {
	defer s.wg.Done()
	for {
		select {
		case <-s.stopCh:
			return
		case m := <-s.queue:
			select {
			case <-time.After(s.segTime):
			case <-s.stopCh:
				return
			}
			s.mu.Lock()
			if m.Endstops != 0 {
				s.triggered = m.Endstops &^ s.stuck
				if m.Endstops&ZProbeActive != 0 && s.triggered&ZProbeActive != 0 {
					z := 0.0
					if s.bedHeight != nil && len(m.Coords) >= 2 {
						z = s.bedHeight(m.Coords[0], m.Coords[1])
					}
					if len(m.Coords) >= 3 {
						m.Coords[2] = z
					}
					s.triggerZ = z
					s.probed = true
				}
			}
			s.position = m.Coords
			done := s.onDone
			s.mu.Unlock()
			if done != nil {
				done()
			}
		}
	}
}
