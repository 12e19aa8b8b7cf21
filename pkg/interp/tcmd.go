package interp

import (
	"reprap-host/pkg/errors"
	"reprap-host/pkg/gcode"
)

// handleT selects a tool. The aux source's tool number adjustment has
// already been applied by the dispatcher. Selecting the current tool is
// a no-op; anything else runs the tool change sequence.
func (i *Interpreter) handleT(b *gcode.Buffer, num int, now float64) bool {
	if i.seq.kind == seqToolChange && i.seq.owner == b {
		return i.runSequenceCommand(b, seqToolChange, func() {})
	}
	if num == i.currentTool {
		i.reply(b, "ok")
		return true
	}
	if num >= 0 {
		if _, ok := i.tools[num]; !ok {
			i.reportError(b, errors.NoToolError(num))
			return true
		}
	}
	return i.runSequenceCommand(b, seqToolChange, func() {
		i.seq.oldTool = i.currentTool
		i.seq.newTool = num
	})
}
