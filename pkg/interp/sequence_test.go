package interp

import (
	"strings"
	"testing"

	"reprap-host/pkg/motion"
)

func TestHomingSequence(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.es.closed = motion.DriveBit(0) | motion.DriveBit(1) | motion.DriveBit(2)
	h.exec(t, SourceWeb, "G28")

	for a := 0; a < 3; a++ {
		if !h.i.AxisHomed(a) {
			t.Errorf("axis %d not homed", a)
		}
	}
	pos := h.i.Position()
	if pos[0] != 0 || pos[1] != 0 || pos[2] != 0 {
		t.Errorf("position after homing = %v", pos[:3])
	}
	// One seek move per axis, each with its endstop armed.
	if len(h.fm.moves) != 3 {
		t.Fatalf("moves submitted = %d, want 3", len(h.fm.moves))
	}
	for a, m := range h.fm.moves {
		if m.Endstops != motion.DriveBit(a) {
			t.Errorf("move %d endstops = %04x", a, m.Endstops)
		}
	}
	if got := h.lastReply(SourceWeb); got != "ok" {
		t.Errorf("reply = %q", got)
	}
}

func TestHomingSingleAxis(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.es.closed = motion.DriveBit(1)
	h.exec(t, SourceWeb, "G28 Y")
	if h.i.AxisHomed(0) || !h.i.AxisHomed(1) || h.i.AxisHomed(2) {
		t.Errorf("homed flags = %v", h.i.axisHomed)
	}
	if len(h.fm.moves) != 1 {
		t.Errorf("moves submitted = %d, want 1", len(h.fm.moves))
	}
}

func TestHomingEndstopFailureKeepsEarlierAxes(t *testing.T) {
	h := newHarness(t, nil, nil)
	// X closes, Y never does.
	h.es.closed = motion.DriveBit(0)
	h.exec(t, SourceWeb, "G28")

	if !strings.HasPrefix(h.lastReply(SourceWeb), "Error:") {
		t.Fatalf("expected endstop error, got %q", h.lastReply(SourceWeb))
	}
	if !h.i.AxisHomed(0) {
		t.Error("X axis lost its homed state on a later axis failure")
	}
	if h.i.AxisHomed(1) || h.i.AxisHomed(2) {
		t.Error("failed axes marked homed")
	}
	if h.i.seq.kind != seqNone {
		t.Error("sequence still active after abort")
	}

	// The interpreter accepts new commands afterwards.
	h.exec(t, SourceWeb, "M114")
	if !strings.Contains(h.lastReply(SourceWeb), "X:") {
		t.Errorf("M114 after abort: %q", h.lastReply(SourceWeb))
	}
}

func TestSequenceBusyRejected(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.autoMove = false
	if !h.i.FeedLine(SourceWeb, "G28") {
		t.Fatal("line refused")
	}
	h.i.Tick()
	if h.i.seq.kind != seqHoming {
		t.Fatal("homing did not start")
	}

	h.exec(t, SourceSerial, "G32")
	if !strings.HasPrefix(h.lastReply(SourceSerial), "Error:") {
		t.Fatalf("expected busy error, got %q", h.lastReply(SourceSerial))
	}
	if h.i.seq.kind != seqHoming {
		t.Error("busy rejection disturbed the active sequence")
	}
}

func TestSingleProbe(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.home(t)
	h.es.closed = motion.ZProbeActive
	h.exec(t, SourceWeb, "G31 Z0.5")
	h.exec(t, SourceWeb, "G30")
	got := h.lastReply(SourceWeb)
	if !strings.Contains(got, "0.500") {
		t.Errorf("G30 reply = %q", got)
	}
}

func TestBedProbingSetsEquation(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.home(t)
	h.es.closed = motion.ZProbeActive
	h.exec(t, SourceWeb, "G32")
	if got := h.lastReply(SourceWeb); got != "ok" {
		t.Fatalf("G32 reply = %q", got)
	}
	if !h.i.bed.active {
		t.Fatal("bed equation not set")
	}
	// Identical trigger heights fit a flat plane at the trigger height.
	if h.i.bed.a != 0 || h.i.bed.b != 0 {
		t.Errorf("plane tilt = %v, %v, want flat", h.i.bed.a, h.i.bed.b)
	}
	if h.i.bed.c != h.i.probe.triggerHeight {
		t.Errorf("plane offset = %v, want %v", h.i.bed.c, h.i.probe.triggerHeight)
	}
}

func TestBedProbingUnevenBed(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.home(t)
	h.es.closed = motion.ZProbeActive
	// Default probe points are (20,20), (180,20), (100,180).
	h.es.probeZs = []float64{0.5, 0.7, 0.9}
	h.exec(t, SourceWeb, "G32")
	if got := h.lastReply(SourceWeb); got != "ok" {
		t.Fatalf("G32 reply = %q", got)
	}
	if !h.i.bed.active {
		t.Fatal("bed equation not set")
	}
	if h.i.bed.a == 0 && h.i.bed.b == 0 {
		t.Fatal("unequal probe heights fitted a flat plane")
	}
	// The plane passes through each probed point.
	pts := h.i.machine.ProbePoints
	for k, want := range []float64{0.5, 0.7, 0.9} {
		got := h.i.bed.a*pts[k][0] + h.i.bed.b*pts[k][1] + h.i.bed.c
		if got < want-1e-9 || got > want+1e-9 {
			t.Errorf("plane at point %d = %v, want %v", k, got, want)
		}
	}
}

func TestSingleProbeReportsMeasuredHeight(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.home(t)
	h.es.closed = motion.ZProbeActive
	h.es.probeZs = []float64{0.35}
	h.exec(t, SourceWeb, "G30")
	if got := h.lastReply(SourceWeb); !strings.Contains(got, "0.350") {
		t.Errorf("G30 reply = %q", got)
	}
	if h.i.bed.active {
		t.Error("single probe set a bed equation")
	}
}

func TestProbeNeverTriggersAborts(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.home(t)
	h.exec(t, SourceWeb, "G32")
	if !strings.HasPrefix(h.lastReply(SourceWeb), "Error:") {
		t.Fatalf("expected probe error, got %q", h.lastReply(SourceWeb))
	}
	if h.i.bed.active {
		t.Error("bed equation set from a failed cycle")
	}
}

func TestToolChange(t *testing.T) {
	h := newHarness(t, nil, nil)
	if h.i.currentTool != -1 {
		t.Fatalf("initial tool = %d", h.i.currentTool)
	}

	if !h.i.FeedLine(SourceWeb, "T0") {
		t.Fatal("line refused")
	}
	// Run until the new tool's heater is commanded, then satisfy it.
	for n := 0; n < 50 && h.heaters.Target(1) != 210; n++ {
		h.tick()
	}
	if h.heaters.Target(1) != 210 {
		t.Fatal("tool heater never commanded to active temperature")
	}
	h.heaters.ForceTemperature(1, 210)
	for n := 0; n < 50 && h.i.buffers[SourceWeb].Active(); n++ {
		h.tick()
	}
	if h.i.buffers[SourceWeb].Active() {
		t.Fatal("tool change never finished")
	}
	if h.i.currentTool != 0 {
		t.Errorf("current tool = %d, want 0", h.i.currentTool)
	}
	if got := h.lastReply(SourceWeb); got != "ok" {
		t.Errorf("reply = %q", got)
	}
}

func TestToolChangeHeaterTimeout(t *testing.T) {
	h := newHarness(t, nil, nil)
	if !h.i.FeedLine(SourceWeb, "T0") {
		t.Fatal("line refused")
	}
	for n := 0; n < 10; n++ {
		h.tick()
	}
	h.clock.advance(heaterTimeout + 1)
	for n := 0; n < 10 && h.i.buffers[SourceWeb].Active(); n++ {
		h.tick()
	}
	if !strings.HasPrefix(h.lastReply(SourceWeb), "Error:") {
		t.Fatalf("expected heater timeout, got %q", h.lastReply(SourceWeb))
	}
	if h.i.seq.kind != seqNone {
		t.Error("sequence still active after abort")
	}
}

func TestSelectSameToolIsNoop(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.exec(t, SourceWeb, "T-1")
	if got := h.lastReply(SourceWeb); got != "ok" {
		t.Errorf("reply = %q", got)
	}
	if h.i.seq.kind != seqNone {
		t.Error("selecting the current tool started a sequence")
	}
}

func TestUnknownToolRejected(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.exec(t, SourceWeb, "T7")
	if !strings.HasPrefix(h.lastReply(SourceWeb), "Error:") {
		t.Errorf("expected error, got %q", h.lastReply(SourceWeb))
	}
}

func TestDeselectTool(t *testing.T) {
	h := newHarness(t, nil, nil)
	// Select tool 0 first.
	if !h.i.FeedLine(SourceWeb, "T0") {
		t.Fatal("line refused")
	}
	for n := 0; n < 20; n++ {
		h.tick()
	}
	h.heaters.ForceTemperature(1, 210)
	for n := 0; n < 20 && h.i.buffers[SourceWeb].Active(); n++ {
		h.tick()
	}

	// T-1 stands the old tool down and leaves no tool selected.
	if !h.i.FeedLine(SourceWeb, "T-1") {
		t.Fatal("line refused")
	}
	for n := 0; n < 50 && h.i.buffers[SourceWeb].Active(); n++ {
		h.tick()
	}
	if h.i.currentTool != -1 {
		t.Errorf("current tool = %d, want -1", h.i.currentTool)
	}
	if got := h.heaters.Target(1); got != 160 {
		t.Errorf("old tool heater target = %v, want standby 160", got)
	}
}
