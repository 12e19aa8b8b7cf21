package interp

import (
	"fmt"
	"strings"

	"reprap-host/pkg/errors"
	"reprap-host/pkg/gcode"
	"reprap-host/pkg/log"
	"reprap-host/pkg/motion"
)

// handleM executes one M code. Returns true when the command is
// complete; false reschedules the same line for the next tick.
func (i *Interpreter) handleM(b *gcode.Buffer, code int, now float64) bool {
	switch code {
	case 0, 1:
		// Stop: let motion drain, then shut everything down.
		if !i.counters.AllMovesFinished() {
			return false
		}
		i.cancelPrint()
		for h := 0; h < i.machine.NumHeaters; h++ {
			i.heat.SetTarget(h, 0)
		}
		i.setFan(0)
		i.reply(b, "ok")
		return true

	case 18, 84:
		// Motors released; homed positions are no longer trustworthy.
		for a := range i.axisHomed {
			i.axisHomed[a] = false
		}
		i.reply(b, "ok")
		return true

	case 20:
		names, err := i.ListGCodeFiles()
		if err != nil {
			i.reportError(b, err)
			return true
		}
		i.reply(b, "GCode files:\n"+strings.Join(names, "\n"))
		return true

	case 23:
		name, err := b.UnprecedentedString(false)
		if err != nil || name == "" {
			i.reportError(b, errors.NoFileError(""))
			return true
		}
		if err := i.QueueFileToPrint(name); err != nil {
			i.reportError(b, err)
			return true
		}
		i.reply(b, fmt.Sprintf("File %s selected for printing", name))
		return true

	case 24:
		if i.paused || (i.seq.kind == seqResuming && i.seq.owner == b) {
			return i.runSequenceCommand(b, seqResuming, func() {})
		}
		if i.fileToPrint == nil {
			i.reportError(b, errors.NoFileError("(none selected)"))
			return true
		}
		i.fileBeingPrinted = i.fileToPrint
		i.fileToPrint = nil
		i.logger.Infof("printing file %s", i.fileToPrintName)
		i.reply(b, "ok")
		return true

	case 25, 226:
		// A command that started the pause must keep polling its own
		// sequence even after i.paused is set, or it never finishes.
		if i.seq.kind == seqPausing && i.seq.owner == b {
			return i.runSequenceCommand(b, seqPausing, func() {})
		}
		if i.paused {
			i.reply(b, "ok")
			return true
		}
		if !i.IsPrinting() {
			i.reportError(b, errors.RuntimeError("no print to pause"))
			return true
		}
		return i.runSequenceCommand(b, seqPausing, func() {})

	case 28:
		name, err := b.UnprecedentedString(false)
		if err != nil || name == "" {
			i.reportError(b, errors.NoFileError(""))
			return true
		}
		f, err := i.fs.OpenWrite(i.machine.GCodeDir + "/" + name)
		if err != nil {
			i.reportError(b, errors.FileError(name, err))
			return true
		}
		i.fileBeingWritten = f
		i.writeFileName = name
		b.SetWritingFileDirectory(i.machine.GCodeDir)
		i.reply(b, "Writing to file: "+name)
		return true

	case 29:
		// M29 while writing is consumed by writeLineToFile; a stray
		// one is a no-op.
		i.reply(b, "ok")
		return true

	case 30:
		name, err := b.UnprecedentedString(false)
		if err != nil || name == "" {
			i.reportError(b, errors.NoFileError(""))
			return true
		}
		if err := i.DeleteFile(name); err != nil {
			i.reportError(b, err)
			return true
		}
		i.reply(b, "ok")
		return true

	case 42:
		return i.setOutputPin(b)

	case 82:
		i.drivesRelative = false
		i.reply(b, "ok")
		return true

	case 83:
		i.drivesRelative = true
		i.reply(b, "ok")
		return true

	case 104, 109:
		heater, temp, ok := i.extruderTempArgs(b)
		if !ok {
			return true
		}
		if _, waiting := i.waits[b]; !waiting {
			if err := i.heat.SetTarget(heater, temp); err != nil {
				i.reportError(b, errors.Wrap(err, errors.ErrHardwareHeater, "cannot set heater target"))
				return true
			}
		}
		if code == 104 {
			i.reply(b, "ok")
			return true
		}
		return i.waitForHeaters(b, []int{heater}, now)

	case 105:
		i.reply(b, i.temperatureReport())
		return true

	case 106:
		value := 255.0
		b.Rewind()
		if b.Seen('S') {
			v, err := b.Float()
			if err != nil {
				i.reportError(b, errors.ParseError(b.Line(), err))
				return true
			}
			value = v
		}
		if value > 1 {
			value /= 255.0
		}
		i.setFan(value)
		i.reply(b, "ok")
		return true

	case 107:
		i.setFan(0)
		i.reply(b, "ok")
		return true

	case 110:
		var seq int32
		b.Rewind()
		if b.Seen('N') {
			v, err := b.Long()
			if err != nil {
				i.reportError(b, errors.ParseError(b.Line(), err))
				return true
			}
			seq = int32(v)
		}
		b.SetLineNumber(seq)
		i.reply(b, "ok")
		return true

	case 111:
		b.Rewind()
		if b.Seen('S') {
			v, err := b.Int()
			if err != nil {
				i.reportError(b, errors.ParseError(b.Line(), err))
				return true
			}
			if v > 0 {
				i.logger.SetLevel(log.DEBUG)
			} else {
				i.logger.SetLevel(log.INFO)
			}
		}
		i.reply(b, "ok")
		return true

	case 112:
		i.emergencyStop()
		i.reply(b, "Emergency stop")
		return true

	case 114:
		i.reply(b, i.CurrentCoordinates())
		return true

	case 116:
		if _, waiting := i.waits[b]; !waiting {
			var heaters []int
			for h := 0; h < i.machine.NumHeaters; h++ {
				if i.heat.Target(h) > 0 {
					heaters = append(heaters, h)
				}
			}
			if len(heaters) == 0 {
				i.reply(b, "ok")
				return true
			}
			return i.waitForHeaters(b, heaters, now)
		}
		return i.waitForHeaters(b, nil, now)

	case 119:
		i.reply(b, i.endstopReport())
		return true

	case 120:
		if err := i.push(); err != nil {
			i.reportError(b, err)
			return true
		}
		i.reply(b, "ok")
		return true

	case 121:
		if err := i.pop(); err != nil {
			i.reportError(b, err)
			return true
		}
		i.reply(b, "ok")
		return true

	case 122:
		i.reply(b, i.Diagnostics())
		return true

	case 140, 190:
		b.Rewind()
		if !b.Seen('S') {
			i.reportError(b, errors.MissingParameterError(b.Line(), 'S'))
			return true
		}
		temp, err := b.Float()
		if err != nil {
			i.reportError(b, errors.ParseError(b.Line(), err))
			return true
		}
		if _, waiting := i.waits[b]; !waiting {
			if err := i.heat.SetTarget(bedHeater, temp); err != nil {
				i.reportError(b, errors.Wrap(err, errors.ErrHardwareHeater, "cannot set bed target"))
				return true
			}
		}
		if code == 140 {
			i.reply(b, "ok")
			return true
		}
		return i.waitForHeaters(b, []int{bedHeater}, now)
	}

	i.reportError(b, errors.UnknownCommandError(b.Line()))
	return true
}

// extruderTempArgs parses the S temperature and optional T tool of an
// M104/M109, resolving the heater to drive.
func (i *Interpreter) extruderTempArgs(b *gcode.Buffer) (heater int, temp float64, ok bool) {
	b.Rewind()
	if !b.Seen('S') {
		i.reportError(b, errors.MissingParameterError(b.Line(), 'S'))
		return 0, 0, false
	}
	temp, err := b.Float()
	if err != nil {
		i.reportError(b, errors.ParseError(b.Line(), err))
		return 0, 0, false
	}

	toolNum := i.currentTool
	b.Rewind()
	if b.Seen('T') {
		v, err := b.Int()
		if err != nil {
			i.reportError(b, errors.ParseError(b.Line(), err))
			return 0, 0, false
		}
		toolNum = v + b.ToolNumberAdjust()
	}
	if t, okTool := i.tools[toolNum]; okTool && len(t.heaters) > 0 {
		return t.heaters[0], temp, true
	}
	if i.machine.NumHeaters > firstExtruder {
		return firstExtruder, temp, true
	}
	return bedHeater, temp, true
}

func (i *Interpreter) setOutputPin(b *gcode.Buffer) bool {
	b.Rewind()
	if !b.Seen('P') {
		i.reportError(b, errors.MissingParameterError(b.Line(), 'P'))
		return true
	}
	pin, err := b.Int()
	if err != nil {
		i.reportError(b, errors.ParseError(b.Line(), err))
		return true
	}
	value := 1.0
	b.Rewind()
	if b.Seen('S') {
		v, err := b.Float()
		if err != nil {
			i.reportError(b, errors.ParseError(b.Line(), err))
			return true
		}
		value = v
	}
	if value > 1 {
		value /= 255.0
	}
	i.outputs[pin] = value
	i.logger.Debugf("output pin %d set to %.2f", pin, value)
	i.reply(b, "ok")
	return true
}

func (i *Interpreter) temperatureReport() string {
	extruder := 0.0
	if i.machine.NumHeaters > firstExtruder {
		extruder = i.heat.Current(firstExtruder)
	}
	if t, ok := i.tools[i.currentTool]; ok && len(t.heaters) > 0 {
		extruder = i.heat.Current(t.heaters[0])
	}
	return fmt.Sprintf("T:%.1f B:%.1f", extruder, i.heat.Current(bedHeater))
}

func (i *Interpreter) endstopReport() string {
	var sb strings.Builder
	for a := 0; a < numAxes; a++ {
		state := "not stopped"
		if i.endstops != nil && i.endstops.Triggered(motion.DriveBit(a)) != 0 {
			state = "at min stop"
		}
		fmt.Fprintf(&sb, "%c: %s ", axisLetters[a], state)
	}
	state := "not triggered"
	if i.endstops != nil && i.endstops.Triggered(motion.ZProbeActive) != 0 {
		state = "triggered"
	}
	fmt.Fprintf(&sb, "Z probe: %s", state)
	return sb.String()
}
