package interp

import (
	"reprap-host/pkg/errors"
)

// MaxStackDepth bounds macro nesting plus explicit M120 pushes.
const MaxStackDepth = 5

// stateFrame is one saved interpreter state. A frame is pushed on macro
// entry, on M120, and when a print is paused; popping restores it exactly.
type stateFrame struct {
	axesRelative   bool
	drivesRelative bool
	feedRate       float64
	distanceScale  float64
	extruderPos    []float64

	// File context of the caller. Restored on pop so a macro returns
	// to the line after its invocation.
	file           File
	doingFileMacro bool
}

func (i *Interpreter) push() error {
	if i.sp >= MaxStackDepth {
		return errors.StackError("overflow", i.sp)
	}
	frame := &i.stack[i.sp]
	frame.axesRelative = i.axesRelative
	frame.drivesRelative = i.drivesRelative
	frame.feedRate = i.feedRate
	frame.distanceScale = i.distanceScale
	frame.extruderPos = append(frame.extruderPos[:0], i.extruderPos...)
	frame.file = i.fileBeingPrinted
	frame.doingFileMacro = i.doingFileMacro
	i.sp++
	i.metrics.StackDepth.Set(float64(i.sp))
	return nil
}

func (i *Interpreter) pop() error {
	if i.sp == 0 {
		return errors.StackError("underflow", 0)
	}
	i.sp--
	frame := &i.stack[i.sp]
	i.axesRelative = frame.axesRelative
	i.drivesRelative = frame.drivesRelative
	i.feedRate = frame.feedRate
	i.distanceScale = frame.distanceScale
	i.extruderPos = append(i.extruderPos[:0], frame.extruderPos...)
	i.fileBeingPrinted = frame.file
	i.doingFileMacro = frame.doingFileMacro
	frame.file = nil
	i.metrics.StackDepth.Set(float64(i.sp))
	return nil
}

// dropFrames discards every saved frame, closing any file handles they
// hold. Used when a print is cancelled outright.
func (i *Interpreter) dropFrames() {
	for i.sp > 0 {
		i.sp--
		frame := &i.stack[i.sp]
		if frame.file != nil && frame.file != i.fileBeingPrinted {
			frame.file.Close()
		}
		frame.file = nil
	}
	i.metrics.StackDepth.Set(0)
}
