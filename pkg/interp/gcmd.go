package interp

import (
	"fmt"

	"reprap-host/pkg/errors"
	"reprap-host/pkg/gcode"
)

// handleG executes one G code. Returns true when the command is
// complete; false reschedules the same line for the next tick.
func (i *Interpreter) handleG(b *gcode.Buffer, code int, now float64) bool {
	switch code {
	case 0, 1:
		return i.setupMove(b)

	case 4:
		return i.dwell(b, now)

	case 10:
		return i.setToolOffsets(b)

	case 20:
		i.distanceScale = 25.4
		i.reply(b, "ok")
		return true

	case 21:
		i.distanceScale = 1.0
		i.reply(b, "ok")
		return true

	case 28:
		return i.runSequenceCommand(b, seqHoming, func() {
			any := false
			for a := 0; a < numAxes; a++ {
				b.Rewind()
				if b.Seen(axisLetters[a]) {
					i.seq.axes[a] = true
					any = true
				}
			}
			if !any {
				for a := 0; a < numAxes; a++ {
					i.seq.axes[a] = true
				}
			}
		})

	case 30:
		if i.seq.kind == seqProbing && i.seq.owner == b {
			finished, err := i.sequenceResult(seqProbing, b)
			if !finished {
				return false
			}
			if err != nil {
				i.reportError(b, err)
				return true
			}
			i.reply(b, fmt.Sprintf("Z probe triggered at height %.3f", i.lastProbeHeight))
			return true
		}
		if err := i.startSequence(seqProbing, b); err != nil {
			i.reportError(b, err)
			return true
		}
		i.seq.singleProbe = true
		return false

	case 31:
		return i.setProbeParams(b)

	case 32:
		return i.runSequenceCommand(b, seqProbing, func() {})

	case 90:
		i.axesRelative = false
		i.reply(b, "ok")
		return true

	case 91:
		i.axesRelative = true
		i.reply(b, "ok")
		return true

	case 92:
		return i.setPositions(b)
	}

	i.reportError(b, errors.UnknownCommandError(b.Line()))
	return true
}

// runSequenceCommand is the shared start/poll logic for commands backed
// by a multi-tick sequence. start populates sequence parameters on the
// tick the sequence begins.
func (i *Interpreter) runSequenceCommand(b *gcode.Buffer, kind seqKind, start func()) bool {
	if i.seq.kind == kind && i.seq.owner == b {
		finished, err := i.sequenceResult(kind, b)
		if !finished {
			return false
		}
		if err != nil {
			i.reportError(b, err)
			return true
		}
		i.reply(b, "ok")
		return true
	}
	if err := i.startSequence(kind, b); err != nil {
		i.reportError(b, err)
		return true
	}
	start()
	return false
}

// setToolOffsets is G10: set a tool's axis offsets and temperatures, or
// report them when only P is given.
func (i *Interpreter) setToolOffsets(b *gcode.Buffer) bool {
	b.Rewind()
	if !b.Seen('P') {
		i.reportError(b, errors.MissingParameterError(b.Line(), 'P'))
		return true
	}
	num, err := b.Int()
	if err != nil {
		i.reportError(b, errors.ParseError(b.Line(), err))
		return true
	}
	t, ok := i.tools[num]
	if !ok {
		i.reportError(b, errors.NoToolError(num))
		return true
	}

	changed := false
	for a := 0; a < numAxes; a++ {
		b.Rewind()
		if b.Seen(axisLetters[a]) {
			v, err := b.Float()
			if err != nil {
				i.reportError(b, errors.ParseError(b.Line(), err))
				return true
			}
			t.offsets[a] = v * i.distanceScale
			changed = true
		}
	}
	b.Rewind()
	if b.Seen('S') {
		v, err := b.Float()
		if err != nil {
			i.reportError(b, errors.ParseError(b.Line(), err))
			return true
		}
		for n := range t.active {
			t.active[n] = v
		}
		changed = true
	}
	b.Rewind()
	if b.Seen('R') {
		v, err := b.Float()
		if err != nil {
			i.reportError(b, errors.ParseError(b.Line(), err))
			return true
		}
		for n := range t.standby {
			t.standby[n] = v
		}
		changed = true
	}

	if !changed {
		active, standby := 0.0, 0.0
		if len(t.active) > 0 {
			active = t.active[0]
		}
		if len(t.standby) > 0 {
			standby = t.standby[0]
		}
		i.reply(b, fmt.Sprintf("Tool %d offsets: X%.2f Y%.2f Z%.2f, active %.1fC, standby %.1fC",
			num, t.offsets[0], t.offsets[1], t.offsets[2], active, standby))
		return true
	}
	i.reply(b, "ok")
	return true
}

// setProbeParams is G31: set the probe trigger threshold and height, or
// report them when no parameter is given.
func (i *Interpreter) setProbeParams(b *gcode.Buffer) bool {
	changed := false
	b.Rewind()
	if b.Seen('P') {
		v, err := b.Int()
		if err != nil {
			i.reportError(b, errors.ParseError(b.Line(), err))
			return true
		}
		i.probe.threshold = v
		changed = true
	}
	b.Rewind()
	if b.Seen('Z') {
		v, err := b.Float()
		if err != nil {
			i.reportError(b, errors.ParseError(b.Line(), err))
			return true
		}
		i.probe.triggerHeight = v
		changed = true
	}
	if !changed {
		i.reply(b, fmt.Sprintf("Probe threshold %d, trigger height %.2f", i.probe.threshold, i.probe.triggerHeight))
		return true
	}
	i.reply(b, "ok")
	return true
}

// setPositions is G92: redefine the current position without moving.
// An axis given a position is considered homed afterwards.
func (i *Interpreter) setPositions(b *gcode.Buffer) bool {
	for a := 0; a < numAxes; a++ {
		b.Rewind()
		if b.Seen(axisLetters[a]) {
			v, err := b.Float()
			if err != nil {
				i.reportError(b, errors.ParseError(b.Line(), err))
				return true
			}
			i.position[a] = v * i.distanceScale
			i.axisHomed[a] = true
		}
	}
	b.Rewind()
	if b.Seen('E') && len(i.extruderPos) > 0 {
		v, err := b.Float()
		if err != nil {
			i.reportError(b, errors.ParseError(b.Line(), err))
			return true
		}
		i.extruderPos[0] = v * i.distanceScale
	}
	i.reply(b, "ok")
	return true
}
