package interp

import (
	"fmt"
	"strings"
)

// Diagnostics renders the M122 report: interpreter internals in a form
// useful when debugging a stuck print.
func (i *Interpreter) Diagnostics() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "=== Interpreter diagnostics ===\n")
	fmt.Fprintf(&sb, "Uptime: %.1fs, lines executed: %d\n", i.now()-i.startTime, i.lineCount)
	fmt.Fprintf(&sb, "Position: %s\n", i.CurrentCoordinates())
	homed := make([]byte, 0, numAxes)
	for a := 0; a < numAxes; a++ {
		if i.axisHomed[a] {
			homed = append(homed, axisLetters[a])
		}
	}
	fmt.Fprintf(&sb, "Axes homed: %q\n", homed)
	fmt.Fprintf(&sb, "Moves: submitted %d, completed %d, outstanding %d\n",
		i.counters.Submitted(), i.counters.Completed(), i.counters.Outstanding())
	fmt.Fprintf(&sb, "Modal: absolute=%v extruderAbsolute=%v feed=%.1f scale=%.2f stack=%d/%d\n",
		!i.axesRelative, !i.drivesRelative, i.feedRate, i.distanceScale, i.sp, MaxStackDepth)
	fmt.Fprintf(&sb, "Sequence: %s (step %d)\n", seqNames[i.seq.kind], i.seq.step)
	fmt.Fprintf(&sb, "Delayed codes: %d/%d pending, %s\n", i.queue.Len(), i.queue.Cap(), i.queue.Dump())
	for s := SourceID(0); s < numSources; s++ {
		b := i.buffers[s]
		state := "idle"
		if b.IsPaused() {
			state = "paused"
		} else if b.Active() {
			state = fmt.Sprintf("executing %q", b.Line())
		}
		fmt.Fprintf(&sb, "Source %s: %s\n", s, state)
	}
	fmt.Fprintf(&sb, "Tool: %d, fan: %.0f%%", i.currentTool, i.fanValue*100)
	if i.fileBeingPrinted != nil || i.paused {
		fmt.Fprintf(&sb, ", print progress: %.1f%%", i.FractionOfFilePrinted()*100)
	}
	return sb.String()
}
