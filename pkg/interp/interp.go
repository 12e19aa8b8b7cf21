// Copyright (C) 2026  RepRap Host Project
//
// This file may be distributed under the terms of the GNU GPLv3 license.

// Package interp is the G-code interpreter. It multiplexes several
// command sources over per-source line buffers, runs a cooperative
// tick loop, and drives the motion and heating subsystems. Every
// mutation of interpreter state happens in tick context; the only
// cross-boundary write is the move completion counter, which the
// motion subsystem increments atomically.
package interp

import (
	"fmt"
	"strings"
	"time"

	"reprap-host/pkg/codequeue"
	"reprap-host/pkg/config"
	"reprap-host/pkg/errors"
	"reprap-host/pkg/gcode"
	"reprap-host/pkg/heat"
	"reprap-host/pkg/log"
	"reprap-host/pkg/metrics"
	"reprap-host/pkg/motion"
	"reprap-host/pkg/movecount"
)

// SourceID identifies a command source. Each source owns one line buffer
// and commands from different sources interleave at line granularity.
type SourceID int

const (
	SourceWeb SourceID = iota
	SourceSerial
	SourceAux
	SourceFile
	SourceMacro
	SourceQueued
	numSources
)

var sourceNames = [numSources]string{"web", "serial", "aux", "file", "macro", "queued"}

func (s SourceID) String() string {
	if s < 0 || s >= numSources {
		return "unknown"
	}
	return sourceNames[s]
}

const (
	numAxes       = 3
	axisLetters   = "XYZ"
	bedHeater     = 0
	firstExtruder = 1

	// homeOvertravel is how far past the axis minimum a homing seek
	// aims, guaranteeing the endstop is reached.
	homeOvertravel = 5.0

	// heaterTimeout bounds every wait-for-temperature, in seconds.
	heaterTimeout = 300.0
)

// tool is one configured tool with its heaters and temperatures.
type tool struct {
	number  int
	heaters []int
	active  []float64
	standby []float64
	offsets [numAxes]float64
}

// probeParams holds the Z probe configuration set by G31.
type probeParams struct {
	threshold     int
	triggerHeight float64
}

// bedPlane is the bed equation produced by G32, z = a*x + b*y + c.
type bedPlane struct {
	a, b, c float64
	active  bool
}

func (p *bedPlane) offsetAt(x, y float64) float64 {
	if !p.active {
		return 0
	}
	return p.a*x + p.b*y + p.c
}

// heaterWait tracks an in-progress M109/M116/M190 style wait.
type heaterWait struct {
	heaters  []int
	deadline float64
}

// Options configures a new Interpreter. Motion and Heat are required;
// everything else has a usable default.
type Options struct {
	Machine  *config.Machine
	Tools    []config.ToolConfig
	Motion   motion.Controller
	Endstops motion.EndstopReader
	Heat     heat.Controller
	FS       FileSystem
	Logger   *log.Logger
	Metrics  *metrics.InterpMetrics
	Now      func() float64
}

// Interpreter executes G-code from multiple sources. All methods except
// the movecount accessors must be called from the tick goroutine.
type Interpreter struct {
	machine  *config.Machine
	motion   motion.Controller
	endstops motion.EndstopReader
	heat     heat.Controller
	fs       FileSystem
	logger   *log.Logger
	metrics  *metrics.InterpMetrics
	now      func() float64

	buffers   [numSources]*gcode.Buffer
	sourceOf  map[*gcode.Buffer]SourceID
	replyTo   [numSources]func(string)
	interLog  [numSources]*log.Logger
	counters  movecount.Counters
	queue     *codequeue.Queue
	startTime float64

	// Modal state, saved and restored by the stack.
	axesRelative   bool
	drivesRelative bool
	feedRate       float64
	distanceScale  float64
	extruderPos    []float64

	stack [MaxStackDepth]stateFrame
	sp    int

	position  []float64
	axisHomed [numAxes]bool

	fileBeingPrinted File
	fileToPrint      File
	fileToPrintName  string
	doingFileMacro   bool
	paused           bool
	pausedFraction   float64

	fileBeingWritten WriteFile
	writeFileName    string

	seq sequence

	tools       map[int]*tool
	currentTool int

	probe           probeParams
	lastProbeHeight float64
	bed             bedPlane
	fanValue  float64
	outputs   map[int]float64
	dwellEnd  float64
	dwelling  bool
	waits     map[*gcode.Buffer]*heaterWait
	lineCount uint64
}

// New builds an Interpreter from opts. It does not start any goroutine;
// the caller drives it by calling Tick from a single context.
func New(opts Options) *Interpreter {
	machine := opts.Machine
	if machine == nil {
		machine = config.Defaults()
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default().WithPrefix("interp")
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.NewInterpMetrics(metrics.NewRegistry())
	}
	now := opts.Now
	if now == nil {
		start := time.Now()
		now = func() float64 { return time.Since(start).Seconds() }
	}
	fs := opts.FS
	if fs == nil {
		fs = &OSFileSystem{Root: "."}
	}

	i := &Interpreter{
		machine:       machine,
		motion:        opts.Motion,
		endstops:      opts.Endstops,
		heat:          opts.Heat,
		fs:            fs,
		logger:        logger,
		metrics:       m,
		now:           now,
		sourceOf:      make(map[*gcode.Buffer]SourceID, numSources),
		queue:         codequeue.New(machine.CodeQueueLength),
		distanceScale: 1.0,
		feedRate:      machine.TravelFeedRate,
		position:      make([]float64, machine.Drives),
		extruderPos:   make([]float64, machine.Drives-numAxes),
		tools:         make(map[int]*tool, len(opts.Tools)),
		currentTool:   -1,
		probe:         probeParams{threshold: 500, triggerHeight: 0.7},
		outputs:       make(map[int]float64),
		waits:         make(map[*gcode.Buffer]*heaterWait),
	}
	i.startTime = now()
	for s := SourceID(0); s < numSources; s++ {
		b := gcode.New(s.String())
		b.Init()
		i.buffers[s] = b
		i.sourceOf[b] = s
		i.interLog[s] = logger.WithPrefix("interp." + s.String())
	}
	if machine.SerialChecksum {
		i.buffers[SourceSerial].RequireChecksum(true)
	}
	i.buffers[SourceAux].SetToolNumberAdjust(machine.AuxToolAdjust)
	for _, tc := range opts.Tools {
		i.tools[tc.Number] = &tool{
			number:  tc.Number,
			heaters: append([]int(nil), tc.Heaters...),
			active:  append([]float64(nil), tc.ActiveTemps...),
			standby: append([]float64(nil), tc.StandbyTemps...),
		}
	}
	return i
}

// SetReplyWriter registers the function that carries replies back to a
// source's transport. A nil writer discards replies.
func (i *Interpreter) SetReplyWriter(src SourceID, w func(string)) {
	i.replyTo[src] = w
}

// Counters exposes the move counter pair for the motion subsystem's
// completion callback.
func (i *Interpreter) Counters() *movecount.Counters { return &i.counters }

// Tick runs one pass of the cooperative loop: advance any active
// sequence, release eligible delayed codes, service the interactive
// sources, then feed the file or macro in progress.
func (i *Interpreter) Tick() {
	now := i.now()

	if i.seq.kind != seqNone {
		i.advanceSequence(now)
	}

	released := i.queue.ReleaseEligible(i.counters.Completed(), i.runQueued)
	if released > 0 {
		i.metrics.CodesReleased.Add(uint64(released))
	}
	i.metrics.QueueDepth.Set(float64(i.queue.Len()))

	for _, src := range []SourceID{SourceWeb, SourceSerial, SourceAux} {
		i.service(src, now)
	}

	i.doFilePrint(now)
}

// FeedChar offers one character from src's transport. It returns false
// when the source's previous line is still executing; the transport
// must retry the same character later.
func (i *Interpreter) FeedChar(src SourceID, c byte) bool {
	b := i.buffers[src]
	if b.Active() {
		return false
	}
	b.Put(c)
	i.checkResend(src, b)
	return true
}

// FeedLine offers a whole line from src's transport, with the same
// backpressure contract as FeedChar.
func (i *Interpreter) FeedLine(src SourceID, line string) bool {
	b := i.buffers[src]
	if b.Active() {
		return false
	}
	b.PutLine(line)
	i.checkResend(src, b)
	return true
}

func (i *Interpreter) checkResend(src SourceID, b *gcode.Buffer) {
	if seq, wanted := b.TakeResend(); wanted {
		i.metrics.ResendsRequested.Inc()
		i.interLog[src].Warnf("checksum mismatch, requesting resend of line %d", seq)
		i.reply(b, fmt.Sprintf("Resend: %d", seq))
	}
}

func (i *Interpreter) service(src SourceID, now float64) {
	b := i.buffers[src]
	if b.IsPaused() || !b.Active() {
		return
	}
	if src == SourceWeb && i.fileBeingWritten != nil {
		i.writeLineToFile(b)
		return
	}
	if i.actOnCode(b, now) {
		i.finishCommand(b)
	}
}

func (i *Interpreter) finishCommand(b *gcode.Buffer) {
	src := i.sourceOf[b]
	i.lineCount++
	i.metrics.LinesExecuted.Inc()
	i.metrics.LinesFor(src.String()).Inc()
	b.SetFinished(true)
}

// actOnCode dispatches the buffer's assembled line. It returns true when
// the command has fully completed; false means the same line is
// redispatched on the next tick.
func (i *Interpreter) actOnCode(b *gcode.Buffer, now float64) bool {
	if i.canQueue(b) {
		return i.enqueueDelayed(b)
	}
	b.Rewind()
	if b.Seen('G') {
		code, err := b.Int()
		if err != nil {
			i.reportError(b, errors.ParseError(b.Line(), err))
			return true
		}
		return i.handleG(b, code, now)
	}
	b.Rewind()
	if b.Seen('M') {
		code, err := b.Int()
		if err != nil {
			i.reportError(b, errors.ParseError(b.Line(), err))
			return true
		}
		return i.handleM(b, code, now)
	}
	b.Rewind()
	if b.Seen('T') {
		num, err := b.Int()
		if err != nil {
			i.reportError(b, errors.ParseError(b.Line(), err))
			return true
		}
		return i.handleT(b, num+b.ToolNumberAdjust(), now)
	}
	i.reportError(b, errors.UnknownCommandError(b.Line()))
	return true
}

// canQueue reports whether the buffer's line must be deferred until the
// moves already submitted have completed. Only codes whose effect must
// stay synchronized with motion are deferred, and only while moves are
// outstanding.
func (i *Interpreter) canQueue(b *gcode.Buffer) bool {
	if i.sourceOf[b] == SourceQueued || i.counters.Outstanding() == 0 {
		return false
	}
	b.Rewind()
	if !b.Seen('M') {
		return false
	}
	code, err := b.Int()
	if err != nil {
		return false
	}
	switch code {
	case 42, 106, 107:
		return true
	}
	return false
}

func (i *Interpreter) enqueueDelayed(b *gcode.Buffer) bool {
	err := i.queue.Enqueue(b, b.Line(), i.counters.Submitted())
	if err != nil {
		i.metrics.QueueBackpressure.Inc()
		i.interLog[i.sourceOf[b]].Debugf("code queue full, retrying %q", b.Line())
		return false
	}
	i.metrics.CodesQueued.Inc()
	i.reply(b, "ok")
	return true
}

// runQueued executes one released entry through the queued-source buffer.
// A false return leaves the entry at the head of the queue for the next
// tick, blocking everything behind it.
func (i *Interpreter) runQueued(e codequeue.Entry) bool {
	qb := i.buffers[SourceQueued]
	if !qb.Active() {
		if !qb.PutLine(e.Command) {
			return true
		}
	}
	if i.actOnCode(qb, i.now()) {
		i.finishCommand(qb)
		return true
	}
	return false
}

// doFilePrint feeds bytes from the file or macro in progress into its
// buffer and executes completed lines. Pausing gates the print source
// but never a macro run as part of the pause itself.
func (i *Interpreter) doFilePrint(now float64) {
	b := i.buffers[SourceFile]
	if i.doingFileMacro {
		b = i.buffers[SourceMacro]
	} else if (i.paused || i.seq.kind == seqPausing || i.seq.kind == seqResuming) && i.seq.owner != b {
		// The print source stays serviced while it owns the pausing
		// sequence, so an M226 from the file itself can finish.
		return
	}
	if b.IsPaused() {
		return
	}
	if b.Active() {
		if i.actOnCode(b, now) {
			i.finishCommand(b)
		}
		return
	}
	if i.fileBeingPrinted == nil {
		return
	}
	for {
		c, ok := i.fileBeingPrinted.ReadByte()
		if !ok {
			// Flush a final unterminated line before ending.
			if b.Length() > 0 {
				b.Put('\n')
				if b.Active() {
					return
				}
			}
			i.fileEnded(b)
			return
		}
		if b.Put(c) {
			return
		}
	}
}

func (i *Interpreter) fileEnded(b *gcode.Buffer) {
	i.fileBeingPrinted.Close()
	if i.doingFileMacro {
		if err := i.pop(); err != nil {
			i.interLog[SourceMacro].Errorf("macro return failed: %v", err)
			i.fileBeingPrinted = nil
			i.doingFileMacro = false
		}
		return
	}
	i.fileBeingPrinted = nil
	i.logger.Infof("finished printing file %s", i.fileToPrintName)
	i.fileToPrintName = ""
}

// runFileMacro pushes the current state and redirects file input to the
// named macro. Nesting beyond the stack depth is rejected.
func (i *Interpreter) runFileMacro(name string) error {
	f, err := i.fs.OpenRead(i.machine.MacroDir + "/" + name)
	if err != nil {
		return errors.FileError(name, err)
	}
	if err := i.push(); err != nil {
		f.Close()
		return err
	}
	i.fileBeingPrinted = f
	i.doingFileMacro = true
	return nil
}

func (i *Interpreter) writeLineToFile(b *gcode.Buffer) {
	line := b.Line()
	b.Rewind()
	if b.Seen('M') {
		if code, err := b.Int(); err == nil && code == 29 {
			i.fileBeingWritten.Close()
			i.fileBeingWritten = nil
			i.logger.Infof("finished writing %s", i.writeFileName)
			i.writeFileName = ""
			i.reply(b, "Done saving file.")
			i.finishCommand(b)
			return
		}
	}
	if err := i.fileBeingWritten.WriteLine(line); err != nil {
		i.reportError(b, errors.FileError(i.writeFileName, err))
		i.fileBeingWritten.Close()
		i.fileBeingWritten = nil
		i.writeFileName = ""
		i.finishCommand(b)
		return
	}
	i.reply(b, "ok")
	i.finishCommand(b)
}

// setupMove assembles and submits a move for G0/G1, sending the reply
// itself. Returns false while the motion subsystem is refusing the
// move. Modal state is committed only after the segment is accepted; a
// refused move re-parses the same line next tick from unchanged state.
func (i *Interpreter) setupMove(b *gcode.Buffer) bool {
	coords := make([]float64, len(i.position))
	copy(coords, i.position)

	var offsets [numAxes]float64
	if t, ok := i.tools[i.currentTool]; ok {
		offsets = t.offsets
	}

	for a := 0; a < numAxes; a++ {
		b.Rewind()
		if !b.Seen(axisLetters[a]) {
			continue
		}
		v, err := b.Float()
		if err != nil {
			i.reportError(b, errors.ParseError(b.Line(), err))
			return true
		}
		if !i.axisHomed[a] {
			i.reportError(b, errors.UnhomedAxisError(axisLetters[a]))
			return true
		}
		v *= i.distanceScale
		if i.axesRelative {
			coords[a] += v
		} else {
			coords[a] = v + offsets[a]
		}
	}
	if i.bed.active && !i.axesRelative {
		coords[2] += i.bed.offsetAt(coords[0], coords[1])
	}

	eDelta := 0.0
	b.Rewind()
	if b.Seen('E') && len(i.extruderPos) > 0 {
		v, err := b.Float()
		if err != nil {
			i.reportError(b, errors.ParseError(b.Line(), err))
			return true
		}
		v *= i.distanceScale
		if i.drivesRelative {
			eDelta = v
		} else {
			eDelta = v - i.extruderPos[0]
		}
		coords[numAxes] += eDelta
	}

	feed := i.feedRate
	b.Rewind()
	if b.Seen('F') {
		v, err := b.Float()
		if err != nil {
			i.reportError(b, errors.ParseError(b.Line(), err))
			return true
		}
		// Feed rates arrive in units per minute.
		feed = v * i.distanceScale / 60.0
	}

	if !i.submitMove(motion.Move{Coords: coords, FeedRate: feed}) {
		return false
	}
	copy(i.position, coords)
	if len(i.extruderPos) > 0 {
		i.extruderPos[0] += eDelta
	}
	i.feedRate = feed
	i.reply(b, "ok")
	return true
}

func (i *Interpreter) submitMove(m motion.Move) bool {
	if !i.motion.SubmitMove(m) {
		i.metrics.MovesRejected.Inc()
		return false
	}
	i.counters.MoveQueued()
	i.metrics.MovesSubmitted.Inc()
	return true
}

// dwell implements G4. It waits for motion to drain, then holds the
// source idle until the delay elapses.
func (i *Interpreter) dwell(b *gcode.Buffer, now float64) bool {
	if !i.counters.AllMovesFinished() {
		return false
	}
	if !i.dwelling {
		var seconds float64
		b.Rewind()
		if b.Seen('S') {
			v, err := b.Float()
			if err != nil {
				i.reportError(b, errors.ParseError(b.Line(), err))
				return true
			}
			seconds = v
		}
		b.Rewind()
		if b.Seen('P') {
			v, err := b.Float()
			if err != nil {
				i.reportError(b, errors.ParseError(b.Line(), err))
				return true
			}
			seconds = v / 1000.0
		}
		i.dwellEnd = now + seconds
		i.dwelling = true
		return false
	}
	if now < i.dwellEnd {
		return false
	}
	i.dwelling = false
	i.reply(b, "ok")
	return true
}

// waitForHeaters blocks the buffer until every listed heater is at its
// target or the deadline passes.
func (i *Interpreter) waitForHeaters(b *gcode.Buffer, heaters []int, now float64) bool {
	w, ok := i.waits[b]
	if !ok {
		w = &heaterWait{heaters: heaters, deadline: now + heaterTimeout}
		i.waits[b] = w
	}
	for _, h := range w.heaters {
		if !i.heat.AtTarget(h) {
			if now > w.deadline {
				delete(i.waits, b)
				i.reportError(b, errors.HeaterTimeoutError(h))
				return true
			}
			return false
		}
	}
	delete(i.waits, b)
	i.reply(b, "ok")
	return true
}

func (i *Interpreter) setFan(value float64) {
	if value < 0 {
		value = 0
	} else if value > 1 {
		value = 1
	}
	i.fanValue = value
	i.logger.Debugf("fan set to %.2f", value)
}

// cancelPrint abandons the file in progress and every queued side
// effect. Buffers attached to file input are reset so nothing is left
// mid-execution.
func (i *Interpreter) cancelPrint() {
	if i.fileBeingPrinted != nil {
		i.fileBeingPrinted.Close()
		i.fileBeingPrinted = nil
	}
	i.dropFrames()
	i.doingFileMacro = false
	i.paused = false
	i.pausedFraction = -1
	i.fileToPrintName = ""
	i.resetSequence()
	i.queue.Drain(nil)
	i.dwelling = false
	for b := range i.waits {
		delete(i.waits, b)
	}
	i.buffers[SourceFile].Init()
	i.buffers[SourceMacro].Init()
}

// emergencyStop is M112. Everything in flight is discarded and heaters
// are driven to zero.
func (i *Interpreter) emergencyStop() {
	i.logger.Error("emergency stop")
	i.cancelPrint()
	if i.heat != nil {
		for h := 0; h < i.machine.NumHeaters; h++ {
			i.heat.SetTarget(h, 0)
		}
	}
	i.counters.DiscardOutstanding()
}

func (i *Interpreter) reply(b *gcode.Buffer, text string) {
	if w := i.replyTo[i.sourceOf[b]]; w != nil {
		w(text)
	}
}

func (i *Interpreter) reportError(b *gcode.Buffer, err error) {
	src := i.sourceOf[b]
	if herr, ok := err.(*errors.HostError); ok {
		herr.SetSource(src.String())
		if herr.Command == "" {
			herr.SetCommand(b.Line())
		}
	}
	i.interLog[src].Errorf("%v", err)
	i.reply(b, "Error: "+err.Error())
}

// FractionOfFilePrinted reports progress through the file being printed,
// or -1 when no print is in progress. During a macro the outer print
// file's position is reported.
func (i *Interpreter) FractionOfFilePrinted() float64 {
	if i.paused {
		return i.pausedFraction
	}
	if i.fileBeingPrinted == nil {
		return -1
	}
	if i.doingFileMacro {
		for j := 0; j < i.sp; j++ {
			if i.stack[j].file != nil {
				return i.stack[j].file.FractionRead()
			}
		}
		return -1
	}
	return i.fileBeingPrinted.FractionRead()
}

// QueueFileToPrint opens a file so a subsequent M24 (or StartPrint)
// begins printing it.
func (i *Interpreter) QueueFileToPrint(name string) error {
	f, err := i.fs.OpenRead(i.machine.GCodeDir + "/" + name)
	if err != nil {
		return errors.FileError(name, err)
	}
	if i.fileToPrint != nil {
		i.fileToPrint.Close()
	}
	i.fileToPrint = f
	i.fileToPrintName = name
	return nil
}

// StartFilePrint selects a stored file and immediately begins printing
// it, as if M23 and M24 had been issued back to back.
func (i *Interpreter) StartFilePrint(name string) error {
	if err := i.QueueFileToPrint(name); err != nil {
		return err
	}
	i.fileBeingPrinted = i.fileToPrint
	i.fileToPrint = nil
	i.logger.Infof("printing file %s", name)
	return nil
}

// DeleteFile removes a stored G-code file.
func (i *Interpreter) DeleteFile(name string) error {
	if err := i.fs.Delete(i.machine.GCodeDir + "/" + name); err != nil {
		return errors.FileError(name, err)
	}
	return nil
}

// IsPrinting reports whether a file print is active (paused counts).
func (i *Interpreter) IsPrinting() bool {
	return i.paused || (i.fileBeingPrinted != nil && !i.doingFileMacro) ||
		(i.doingFileMacro && i.sp > 0 && i.stack[0].file != nil)
}

// IsPaused reports whether the print is paused.
func (i *Interpreter) IsPaused() bool { return i.paused }

// IsPausing reports whether a pause sequence is in progress.
func (i *Interpreter) IsPausing() bool { return i.seq.kind == seqPausing }

// IsResuming reports whether a resume sequence is in progress.
func (i *Interpreter) IsResuming() bool { return i.seq.kind == seqResuming }

// DoingFileMacro reports whether a macro file is being executed.
func (i *Interpreter) DoingFileMacro() bool { return i.doingFileMacro }

// Busy reports whether a source's buffer holds a command still being
// executed.
func (i *Interpreter) Busy(src SourceID) bool {
	return i.buffers[src].Active()
}

// AxisHomed reports whether the given axis has been homed.
func (i *Interpreter) AxisHomed(axis int) bool {
	return axis >= 0 && axis < numAxes && i.axisHomed[axis]
}

// Position returns a copy of the current machine position.
func (i *Interpreter) Position() []float64 {
	out := make([]float64, len(i.position))
	copy(out, i.position)
	return out
}

// CurrentTool returns the selected tool number, -1 when none.
func (i *Interpreter) CurrentTool() int { return i.currentTool }

// FanSpeed returns the fan setting in [0,1].
func (i *Interpreter) FanSpeed() float64 { return i.fanValue }

// ListGCodeFiles lists the stored print files.
func (i *Interpreter) ListGCodeFiles() ([]string, error) {
	names, err := i.fs.List(i.machine.GCodeDir)
	if err != nil {
		return nil, errors.FileError(i.machine.GCodeDir, err)
	}
	return names, nil
}

// CurrentCoordinates formats the position the way M114 reports it.
func (i *Interpreter) CurrentCoordinates() string {
	var sb strings.Builder
	for a := 0; a < numAxes; a++ {
		fmt.Fprintf(&sb, "%c:%.3f ", axisLetters[a], i.position[a])
	}
	e := 0.0
	if len(i.extruderPos) > 0 {
		e = i.extruderPos[0]
	}
	fmt.Fprintf(&sb, "E:%.3f", e)
	return sb.String()
}
