package interp

import (
	"reprap-host/pkg/errors"
	"reprap-host/pkg/gcode"
	"reprap-host/pkg/motion"
)

// seqKind tags the multi-move sequence currently in progress. At most
// one sequence runs at a time; starting another is a precondition error.
type seqKind int

const (
	seqNone seqKind = iota
	seqHoming
	seqProbing
	seqToolChange
	seqPausing
	seqResuming
)

var seqNames = map[seqKind]string{
	seqNone:       "none",
	seqHoming:     "homing",
	seqProbing:    "probing",
	seqToolChange: "tool change",
	seqPausing:    "pause",
	seqResuming:   "resume",
}

// Homing steps, run once per axis in X, Y, Z order.
const (
	homeSeek = iota
	homeWaitMove
	homeVerify
)

// Probing steps, run once per probe point.
const (
	probePosition = iota
	probeWaitPosition
	probeDescend
	probeWaitDescend
	probeRecord
	probeRetract
	probeWaitRetract
)

// Tool change steps.
const (
	tcStandbyOld = iota
	tcWaitOld
	tcSwap
	tcHeatNew
	tcWaitNew
)

// Pause steps.
const (
	pauseDrain = iota
	pauseSnapshot
	pauseMacro
	pauseWaitMacro
)

// Resume steps.
const (
	resumeMacro = iota
	resumeWaitMacro
	resumeRestore
)

// sequence is the tagged variant holding the state of the active
// multi-move operation. advanceSequence moves it forward by at most one
// step per tick; the owning buffer polls done via sequenceResult.
type sequence struct {
	kind  seqKind
	step  int
	owner *gcode.Buffer
	done  bool
	err   *errors.HostError

	// Homing.
	axes [numAxes]bool
	axis int

	// Probing. singleProbe is G30, which probes one point at the
	// current position and reports instead of fitting a plane.
	point       int
	heights     []float64
	singleProbe bool

	// Tool change.
	newTool int
	oldTool int
	waitOld bool

	// Heater waits inside tool changes.
	deadline float64

	// Pause and resume.
	macroRunning bool
}

func (i *Interpreter) resetSequence() {
	i.seq = sequence{}
}

func (s *sequence) fail(err *errors.HostError) {
	s.err = err.SetStep(seqNames[s.kind])
	s.done = true
}

// startSequence begins a new sequence for owner, rejecting the request
// while another sequence is active.
func (i *Interpreter) startSequence(kind seqKind, owner *gcode.Buffer) error {
	if i.seq.kind != seqNone {
		return errors.SequenceBusyError(seqNames[kind], seqNames[i.seq.kind])
	}
	i.seq = sequence{kind: kind, owner: owner}
	return nil
}

// sequenceResult is polled by the owning buffer's command on each
// redispatch. It returns finished=true exactly once, with the
// sequence's terminal error if it aborted.
func (i *Interpreter) sequenceResult(kind seqKind, b *gcode.Buffer) (finished bool, err *errors.HostError) {
	if i.seq.kind != kind || i.seq.owner != b {
		// The sequence was cancelled out from under the command.
		return true, nil
	}
	if !i.seq.done {
		return false, nil
	}
	err = i.seq.err
	i.resetSequence()
	return true, err
}

func (i *Interpreter) advanceSequence(now float64) {
	if i.seq.done {
		return
	}
	switch i.seq.kind {
	case seqHoming:
		i.advanceHoming()
	case seqProbing:
		i.advanceProbing()
	case seqToolChange:
		i.advanceToolChange(now)
	case seqPausing:
		i.advancePause()
	case seqResuming:
		i.advanceResume()
	}
	if i.seq.done && i.seq.err != nil {
		i.metrics.SequenceAborts.Inc()
		i.logger.Errorf("%s sequence aborted: %v", seqNames[i.seq.kind], i.seq.err)
	}
}

// advanceHoming seeks each requested axis toward its minimum with the
// endstop armed, then verifies the endstop actually triggered. An axis
// that fails aborts the sequence; axes already homed stay homed.
func (i *Interpreter) advanceHoming() {
	s := &i.seq
	switch s.step {
	case homeSeek:
		for s.axis < numAxes && !s.axes[s.axis] {
			s.axis++
		}
		if s.axis >= numAxes {
			s.done = true
			return
		}
		coords := make([]float64, len(i.position))
		copy(coords, i.position)
		coords[s.axis] = i.machine.AxisMin[s.axis] - homeOvertravel
		m := motion.Move{
			Coords:   coords,
			FeedRate: i.machine.HomingFeedRate,
			Endstops: motion.DriveBit(s.axis),
		}
		if !i.submitMove(m) {
			return
		}
		s.step = homeWaitMove
	case homeWaitMove:
		if !i.counters.AllMovesFinished() {
			return
		}
		s.step = homeVerify
	case homeVerify:
		bit := motion.DriveBit(s.axis)
		if i.endstops == nil || i.endstops.Triggered(bit) == 0 {
			s.fail(errors.EndstopFailedError(axisLetters[s.axis]))
			return
		}
		i.axisHomed[s.axis] = true
		i.position[s.axis] = i.machine.AxisMin[s.axis]
		i.interLog[i.sourceOf[s.owner]].Infof("%c axis homed", axisLetters[s.axis])
		s.axis++
		s.step = homeSeek
	}
}

// advanceProbing visits each configured point: travel at safe height,
// descend with the probe armed, record the trigger height, retract. A
// probe that never triggers aborts the cycle. After the last point the
// recorded heights are fitted to a bed plane.
func (i *Interpreter) advanceProbing() {
	s := &i.seq
	points := i.machine.ProbePoints
	if s.singleProbe {
		points = [][2]float64{{i.position[0], i.position[1]}}
	}
	if s.point >= len(points) {
		s.done = true
		return
	}
	pt := points[s.point]
	switch s.step {
	case probePosition:
		coords := make([]float64, len(i.position))
		copy(coords, i.position)
		coords[0], coords[1] = pt[0], pt[1]
		coords[2] = i.machine.ProbeSafeZ
		if !i.submitMove(motion.Move{Coords: coords, FeedRate: i.machine.TravelFeedRate}) {
			return
		}
		copy(i.position, coords)
		s.step = probeWaitPosition
	case probeWaitPosition:
		if i.counters.AllMovesFinished() {
			s.step = probeDescend
		}
	case probeDescend:
		coords := make([]float64, len(i.position))
		copy(coords, i.position)
		coords[2] = i.machine.AxisMin[2] - homeOvertravel
		m := motion.Move{
			Coords:   coords,
			FeedRate: i.machine.HomingFeedRate,
			Endstops: motion.ZProbeActive,
		}
		if !i.submitMove(m) {
			return
		}
		s.step = probeWaitDescend
	case probeWaitDescend:
		if i.counters.AllMovesFinished() {
			s.step = probeRecord
		}
	case probeRecord:
		if i.endstops == nil || i.endstops.Triggered(motion.ZProbeActive) == 0 {
			s.fail(errors.ProbeFailedError(s.point))
			return
		}
		// The motion subsystem reports where the dive actually stopped;
		// fall back to the configured trigger height when it cannot.
		height := i.probe.triggerHeight
		if z, ok := i.endstops.TriggerZ(); ok {
			height = z
		}
		s.heights = append(s.heights, height)
		i.lastProbeHeight = height
		i.position[2] = height
		s.step = probeRetract
	case probeRetract:
		coords := make([]float64, len(i.position))
		copy(coords, i.position)
		coords[2] = i.machine.ProbeSafeZ
		if !i.submitMove(motion.Move{Coords: coords, FeedRate: i.machine.TravelFeedRate}) {
			return
		}
		copy(i.position, coords)
		s.step = probeWaitRetract
	case probeWaitRetract:
		if !i.counters.AllMovesFinished() {
			return
		}
		s.point++
		s.step = probePosition
		if s.point >= len(points) {
			if !s.singleProbe {
				i.setBedEquation(points, s.heights)
			}
			s.done = true
		}
	}
}

// setBedEquation fits z = a*x + b*y + c through the first three probe
// points. Extra points refine c by averaging residuals.
func (i *Interpreter) setBedEquation(points [][2]float64, heights []float64) {
	if len(points) < 3 || len(heights) < 3 {
		return
	}
	x1, y1, z1 := points[0][0], points[0][1], heights[0]
	x2, y2, z2 := points[1][0], points[1][1], heights[1]
	x3, y3, z3 := points[2][0], points[2][1], heights[2]
	det := (x2-x1)*(y3-y1) - (x3-x1)*(y2-y1)
	if det == 0 {
		i.logger.Warn("probe points are collinear, bed equation not set")
		return
	}
	a := ((z2-z1)*(y3-y1) - (z3-z1)*(y2-y1)) / det
	bb := ((x2-x1)*(z3-z1) - (x3-x1)*(z2-z1)) / det
	c := z1 - a*x1 - bb*y1
	if len(heights) > 3 {
		sum := 0.0
		for k := 3; k < len(heights) && k < len(points); k++ {
			sum += heights[k] - (a*points[k][0] + bb*points[k][1] + c)
		}
		c += sum / float64(len(heights)-3)
	}
	i.bed = bedPlane{a: a, b: bb, c: c, active: true}
	i.logger.Infof("bed equation set: z = %.4f*x + %.4f*y + %.4f", a, bb, c)
}

// advanceToolChange stands the old tool's heaters down, swaps the
// selection, then brings the new tool's heaters to active temperature.
// A heater that never arrives aborts the change.
func (i *Interpreter) advanceToolChange(now float64) {
	s := &i.seq
	switch s.step {
	case tcStandbyOld:
		old, ok := i.tools[s.oldTool]
		if !ok {
			s.step = tcSwap
			return
		}
		s.waitOld = false
		for n, h := range old.heaters {
			standby := 0.0
			if n < len(old.standby) {
				standby = old.standby[n]
			}
			if err := i.heat.SetTarget(h, standby); err != nil {
				s.fail(errors.HeaterTimeoutError(h))
				return
			}
			// Only wait when standby is a heat-up, never for cooling.
			if standby > i.heat.Current(h) {
				s.waitOld = true
			}
		}
		s.deadline = now + heaterTimeout
		s.step = tcWaitOld
	case tcWaitOld:
		if s.waitOld {
			old := i.tools[s.oldTool]
			for _, h := range old.heaters {
				if i.heat.Target(h) > i.heat.Current(h) && !i.heat.AtTarget(h) {
					if now > s.deadline {
						s.fail(errors.HeaterTimeoutError(h))
					}
					return
				}
			}
		}
		s.step = tcSwap
	case tcSwap:
		i.currentTool = s.newTool
		s.step = tcHeatNew
	case tcHeatNew:
		t, ok := i.tools[s.newTool]
		if !ok {
			s.done = true
			return
		}
		for n, h := range t.heaters {
			active := 0.0
			if n < len(t.active) {
				active = t.active[n]
			}
			if err := i.heat.SetTarget(h, active); err != nil {
				s.fail(errors.HeaterTimeoutError(h))
				return
			}
		}
		s.deadline = now + heaterTimeout
		s.step = tcWaitNew
	case tcWaitNew:
		t := i.tools[s.newTool]
		for _, h := range t.heaters {
			if !i.heat.AtTarget(h) {
				if now > s.deadline {
					s.fail(errors.HeaterTimeoutError(h))
				}
				return
			}
		}
		s.done = true
	}
}

// advancePause drains outstanding motion, snapshots modal state, pauses
// the file source, then runs the pause macro if one exists.
func (i *Interpreter) advancePause() {
	s := &i.seq
	switch s.step {
	case pauseDrain:
		if !i.counters.AllMovesFinished() {
			return
		}
		s.step = pauseSnapshot
	case pauseSnapshot:
		i.pausedFraction = i.FractionOfFilePrinted()
		if err := i.push(); err != nil {
			s.fail(err.(*errors.HostError))
			return
		}
		// A pause requested by the print file itself leaves its buffer
		// executing so the command can observe completion; i.paused
		// gates further file input either way.
		if fb := i.buffers[SourceFile]; s.owner != fb {
			fb.Pause()
		}
		s.step = pauseMacro
	case pauseMacro:
		if i.fs.Exists(i.machine.MacroDir + "/pause.g") {
			if err := i.runFileMacro("pause.g"); err != nil {
				i.logger.Errorf("pause macro failed: %v", err)
			}
		}
		s.step = pauseWaitMacro
	case pauseWaitMacro:
		if i.doingFileMacro {
			return
		}
		if !i.counters.AllMovesFinished() {
			return
		}
		i.paused = true
		s.done = true
		i.logger.Info("print paused")
	}
}

// advanceResume runs the resume macro, then restores the snapshot taken
// at pause time and releases the file source.
func (i *Interpreter) advanceResume() {
	s := &i.seq
	switch s.step {
	case resumeMacro:
		if i.fs.Exists(i.machine.MacroDir + "/resume.g") {
			if err := i.runFileMacro("resume.g"); err != nil {
				i.logger.Errorf("resume macro failed: %v", err)
			}
		}
		s.step = resumeWaitMacro
	case resumeWaitMacro:
		if i.doingFileMacro {
			return
		}
		if !i.counters.AllMovesFinished() {
			return
		}
		s.step = resumeRestore
	case resumeRestore:
		if err := i.pop(); err != nil {
			s.fail(err.(*errors.HostError))
			return
		}
		i.buffers[SourceFile].Resume()
		i.paused = false
		s.done = true
		i.logger.Info("print resumed")
	}
}
