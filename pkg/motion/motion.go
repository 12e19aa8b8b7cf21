// Package motion defines the narrow interface the interpreter uses to hand
// motion segments to the planner, together with the endstop bitmap carried
// on homing and probing moves. The planner itself (look-ahead queue, step
// generation) lives behind Controller; the interpreter only submits moves
// and observes completions through the counter pair.
package motion

// EndstopChecks is a bitmap of drives whose endstops must be watched
// during a move, plus the Z-probe bit.
type EndstopChecks uint16

// ZProbeActive marks a move that stops on the Z probe rather than an
// axis endstop.
const ZProbeActive EndstopChecks = 1 << 15

// DriveBit returns the endstop bit for a drive index.
func DriveBit(drive int) EndstopChecks {
	return EndstopChecks(1) << uint(drive)
}

// Move is one motion segment: per-drive target coordinates in machine
// units, the feed rate in mm/s, and the endstops active for the move.
type Move struct {
	Coords   []float64
	FeedRate float64
	Endstops EndstopChecks
}

// Controller accepts motion segments. SubmitMove returns false when the
// planner cannot take the segment now (queue full); the interpreter must
// retry on a later tick and must not count the segment as submitted.
type Controller interface {
	SubmitMove(m Move) bool
}

// EndstopReader reports which endstops fired during the most recent
// endstop-checked move. Homing and probing verify triggers through it.
type EndstopReader interface {
	Triggered(mask EndstopChecks) EndstopChecks
	// TriggerZ returns the Z coordinate at which the most recent
	// probe-checked move stopped, when the subsystem can report it.
	TriggerZ() (float64, bool)
}
