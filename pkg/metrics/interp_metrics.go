// Interpreter metric set
//
// Copyright (C) 2026  RepRap Host Project
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package metrics

// InterpMetrics bundles the metrics the interpreter updates on its hot
// paths, pre-resolved so ticks never touch the registry maps.
type InterpMetrics struct {
	LinesExecuted   *Counter // total; per-source via LinesFor
	ResendsRequested *Counter
	MovesSubmitted  *Counter
	MovesCompleted  *Counter
	MovesRejected   *Counter
	CodesQueued     *Counter
	CodesReleased   *Counter
	QueueBackpressure *Counter
	SequenceAborts  *Counter
	QueueDepth      *Gauge
	StackDepth      *Gauge

	registry *Registry
	perSource map[string]*Counter
}

// NewInterpMetrics registers the interpreter metric set.
func NewInterpMetrics(r *Registry) *InterpMetrics {
	return &InterpMetrics{
		LinesExecuted:     r.Counter("gcode_lines_executed_total", "G-code lines executed across all sources", nil),
		ResendsRequested:  r.Counter("gcode_resends_total", "Checksum mismatches answered with a resend request", nil),
		MovesSubmitted:    r.Counter("moves_submitted_total", "Motion segments accepted by the motion subsystem", nil),
		MovesCompleted:    r.Counter("moves_completed_total", "Motion segments physically completed", nil),
		MovesRejected:     r.Counter("moves_rejected_total", "Motion segments rejected by the motion subsystem", nil),
		CodesQueued:       r.Counter("delayed_codes_queued_total", "Commands deferred until motion completion", nil),
		CodesReleased:     r.Counter("delayed_codes_released_total", "Deferred commands executed", nil),
		QueueBackpressure: r.Counter("delayed_codes_backpressure_total", "Deferred commands refused because the queue was full", nil),
		SequenceAborts:    r.Counter("sequence_aborts_total", "Homing/probing/tool-change sequences aborted on error", nil),
		QueueDepth:        r.Gauge("delayed_code_queue_depth", "Pending entries in the delayed code queue", nil),
		StackDepth:        r.Gauge("modal_stack_depth", "Current modal state stack depth", nil),
		registry:          r,
		perSource:         make(map[string]*Counter),
	}
}

// LinesFor returns the executed-lines counter for one source.
func (m *InterpMetrics) LinesFor(source string) *Counter {
	if c, ok := m.perSource[source]; ok {
		return c
	}
	c := m.registry.Counter("gcode_lines_total", "G-code lines executed", Labels{"source": source})
	m.perSource[source] = c
	return c
}
