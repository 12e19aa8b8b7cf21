// Package gcode provides the per-source G-code line buffer and field parser.
// Each input channel (web, file, serial, aux, macro) owns one Buffer; raw
// bytes are fed in one at a time and, once a full line has been assembled
// and any checksum validated, typed field values can be pulled out of it.
package gcode

import (
	"errors"
	"fmt"
	"strconv"
)

// MaxLineLength is the longest command line a Buffer will hold, including
// internally generated commands. Characters beyond this are dropped.
const MaxLineLength = 100

// State is the lifecycle state of a Buffer.
type State int

const (
	// Idle means the buffer is accepting characters for a new line.
	Idle State = iota
	// Executing means a complete line is being acted on by the dispatcher.
	Executing
	// Paused means execution of this source is suspended (print paused).
	Paused
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Executing:
		return "executing"
	case Paused:
		return "paused"
	default:
		return "unknown"
	}
}

// Parse errors reported by field extraction.
var (
	ErrNoField       = errors.New("gcode: no field matched before value read")
	ErrBadNumber     = errors.New("gcode: malformed numeric value")
	ErrArrayOverflow = errors.New("gcode: too many values for array")
	ErrEmptyString   = errors.New("gcode: expected a string value")
)

// Buffer holds one G-code line for a single source and provides field
// extraction over the assembled line. It is not safe for concurrent use;
// all access happens from the interpreter's tick context.
type Buffer struct {
	identity string

	buf      [MaxLineLength]byte
	writePos int
	readPos  int

	// Line assembly state.
	inComment  bool
	inChecksum bool
	checkDigits [8]byte
	checkLen   int
	runningSum byte

	// Protocol state.
	checksumRequired bool
	lastSeq          int32
	resendSeq        int32
	resendWanted     bool

	state State

	writingFileDirectory string
	toolNumberAdjust     int
}

// New creates a Buffer for the named source.
func New(identity string) *Buffer {
	b := &Buffer{identity: identity}
	b.Init()
	return b
}

// Identity returns the source tag this buffer was created with.
func (b *Buffer) Identity() string { return b.identity }

// Init resets the buffer to empty and idle. Protocol state (checksum mode,
// line number, tool adjust) survives; it belongs to the source, not the line.
func (b *Buffer) Init() {
	b.writePos = 0
	b.readPos = 0
	b.inComment = false
	b.inChecksum = false
	b.checkLen = 0
	b.runningSum = 0
	b.state = Idle
}

// RequireChecksum sets whether lines from this source must carry a valid
// N<seq> ... *<sum> suffix.
func (b *Buffer) RequireChecksum(required bool) { b.checksumRequired = required }

// SetLineNumber sets the last accepted sequence number (M110).
func (b *Buffer) SetLineNumber(n int32) { b.lastSeq = n }

// LineNumber returns the last accepted sequence number.
func (b *Buffer) LineNumber() int32 { return b.lastSeq }

// TakeResend reports and clears a pending resend request. The returned
// sequence number is the line the sender is expected to retransmit.
func (b *Buffer) TakeResend() (int32, bool) {
	if !b.resendWanted {
		return 0, false
	}
	b.resendWanted = false
	return b.resendSeq, true
}

// IsEmpty reports whether nothing has been fed into the buffer.
func (b *Buffer) IsEmpty() bool { return b.writePos == 0 }

// Length returns the number of stored command bytes.
func (b *Buffer) Length() int { return b.writePos }

// Line returns the assembled command text.
func (b *Buffer) Line() string { return string(b.buf[:b.writePos]) }

// Put appends one character. It returns true when a terminator completes a
// line whose checksum (if required) validates; the buffer then transitions
// to Executing and is ready for field extraction. A full buffer drops the
// character silently rather than failing the source.
func (b *Buffer) Put(c byte) bool {
	if c == '\n' || c == '\r' {
		return b.finishLine()
	}
	if b.inChecksum {
		if c >= '0' && c <= '9' && b.checkLen < len(b.checkDigits) {
			b.checkDigits[b.checkLen] = c
			b.checkLen++
		}
		return false
	}
	if c == '*' && !b.inComment {
		b.inChecksum = true
		return false
	}
	// The running XOR covers every character before the '*', comments and
	// sequence number included.
	b.runningSum ^= c
	if b.inComment {
		return false
	}
	if c == ';' {
		b.inComment = true
		return false
	}
	if b.writePos >= MaxLineLength-1 {
		return false
	}
	b.buf[b.writePos] = c
	b.writePos++
	return false
}

// PutLine bulk-appends text followed by a terminator. It returns true if a
// complete, valid line resulted.
func (b *Buffer) PutLine(text string) bool {
	ready := false
	for i := 0; i < len(text); i++ {
		if b.Put(text[i]) {
			ready = true
		}
	}
	if b.Put('\n') {
		ready = true
	}
	return ready
}

// finishLine processes a terminator: validates the checksum suffix, strips
// the sequence-number prefix, and transitions Idle -> Executing.
func (b *Buffer) finishLine() bool {
	hadChecksum := b.inChecksum
	var sum int64
	if hadChecksum {
		sum, _ = strconv.ParseInt(string(b.checkDigits[:b.checkLen]), 10, 16)
	}
	computed := b.runningSum

	// Trim trailing spaces left after comment stripping.
	for b.writePos > 0 && (b.buf[b.writePos-1] == ' ' || b.buf[b.writePos-1] == '\t') {
		b.writePos--
	}

	seq, seqLen, hasSeq := b.leadingSequence()

	if b.checksumRequired {
		if !hadChecksum || !hasSeq || byte(sum) != computed {
			b.resendWanted = true
			b.resendSeq = b.lastSeq + 1
			b.Init()
			return false
		}
		b.lastSeq = int32(seq)
	} else if hadChecksum && hasSeq && byte(sum) == computed {
		b.lastSeq = int32(seq)
	}

	if hasSeq {
		b.stripPrefix(seqLen)
	}

	if b.writePos == 0 {
		b.Init()
		return false
	}

	b.inComment = false
	b.inChecksum = false
	b.checkLen = 0
	b.runningSum = 0
	b.readPos = 0
	b.state = Executing
	return true
}

// leadingSequence parses an N<digits> prefix, returning the value, its
// length in the buffer (including trailing spaces) and whether it was found.
func (b *Buffer) leadingSequence() (int64, int, bool) {
	if b.writePos < 2 || b.buf[0] != 'N' {
		return 0, 0, false
	}
	i := 1
	for i < b.writePos && b.buf[i] >= '0' && b.buf[i] <= '9' {
		i++
	}
	if i == 1 {
		return 0, 0, false
	}
	seq, err := strconv.ParseInt(string(b.buf[1:i]), 10, 32)
	if err != nil {
		return 0, 0, false
	}
	for i < b.writePos && b.buf[i] == ' ' {
		i++
	}
	return seq, i, true
}

func (b *Buffer) stripPrefix(n int) {
	copy(b.buf[:], b.buf[n:b.writePos])
	b.writePos -= n
}

// Seen scans forward from the read cursor for the given field letter and,
// on a match, leaves the cursor on it so the value can be read. The cursor
// never rewinds: fields must be read left to right within one pass, and a
// failed scan leaves the cursor where it was. Use Rewind to start over.
func (b *Buffer) Seen(letter byte) bool {
	for i := b.readPos; i < b.writePos; i++ {
		if b.buf[i] == letter {
			b.readPos = i
			return true
		}
	}
	return false
}

// Rewind resets the read cursor so the line can be parsed again.
func (b *Buffer) Rewind() { b.readPos = 0 }

// numberEnd returns the index one past the numeric token starting at from.
func (b *Buffer) numberEnd(from int) int {
	i := from
	if i < b.writePos && (b.buf[i] == '+' || b.buf[i] == '-') {
		i++
	}
	for i < b.writePos {
		c := b.buf[i]
		if (c >= '0' && c <= '9') || c == '.' || c == 'e' || c == 'E' {
			i++
			continue
		}
		if (c == '+' || c == '-') && i > from && (b.buf[i-1] == 'e' || b.buf[i-1] == 'E') {
			i++
			continue
		}
		break
	}
	return i
}

// Float returns the float value following the last matched field letter.
func (b *Buffer) Float() (float64, error) {
	start := b.readPos + 1
	if b.readPos >= b.writePos || start > b.writePos {
		return 0, ErrNoField
	}
	end := b.numberEnd(start)
	if end == start {
		return 0, fmt.Errorf("%w: %q at %q", ErrBadNumber, b.buf[b.readPos], b.Line())
	}
	v, err := strconv.ParseFloat(string(b.buf[start:end]), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrBadNumber, string(b.buf[start:end]))
	}
	b.readPos = end
	return v, nil
}

// Long returns the integer value following the last matched field letter.
func (b *Buffer) Long() (int64, error) {
	start := b.readPos + 1
	if b.readPos >= b.writePos || start > b.writePos {
		return 0, ErrNoField
	}
	end := start
	if end < b.writePos && (b.buf[end] == '+' || b.buf[end] == '-') {
		end++
	}
	for end < b.writePos && b.buf[end] >= '0' && b.buf[end] <= '9' {
		end++
	}
	if end == start || (end == start+1 && (b.buf[start] == '+' || b.buf[start] == '-')) {
		return 0, fmt.Errorf("%w: %q at %q", ErrBadNumber, b.buf[b.readPos], b.Line())
	}
	v, err := strconv.ParseInt(string(b.buf[start:end]), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrBadNumber, string(b.buf[start:end]))
	}
	b.readPos = end
	return v, nil
}

// Int returns the int value following the last matched field letter.
func (b *Buffer) Int() (int, error) {
	v, err := b.Long()
	return int(v), err
}

// FloatArray parses a colon-separated list of floats following the last
// matched field letter into dst and returns the count found. More values
// than dst can hold is a parse error.
func (b *Buffer) FloatArray(dst []float64) (int, error) {
	if b.readPos >= b.writePos {
		return 0, ErrNoField
	}
	n := 0
	for {
		v, err := b.Float()
		if err != nil {
			return n, err
		}
		if n >= len(dst) {
			return n, ErrArrayOverflow
		}
		dst[n] = v
		n++
		if b.readPos >= b.writePos || b.buf[b.readPos] != ':' {
			return n, nil
		}
		// Step onto the ':' so Float reads the next element.
	}
}

// LongArray parses a colon-separated list of integers following the last
// matched field letter into dst and returns the count found.
func (b *Buffer) LongArray(dst []int64) (int, error) {
	if b.readPos >= b.writePos {
		return 0, ErrNoField
	}
	n := 0
	for {
		v, err := b.Long()
		if err != nil {
			return n, err
		}
		if n >= len(dst) {
			return n, ErrArrayOverflow
		}
		dst[n] = v
		n++
		if b.readPos >= b.writePos || b.buf[b.readPos] != ':' {
			return n, nil
		}
	}
}

// String returns the text following the last matched field letter, up to
// the end of the line with surrounding spaces trimmed.
func (b *Buffer) String() (string, error) {
	start := b.readPos + 1
	if b.readPos >= b.writePos || start > b.writePos {
		return "", ErrNoField
	}
	for start < b.writePos && b.buf[start] == ' ' {
		start++
	}
	if start >= b.writePos {
		return "", ErrEmptyString
	}
	b.readPos = b.writePos
	return string(b.buf[start:b.writePos]), nil
}

// UnprecedentedString returns the remainder of the line after the command
// word, with no leading field letter. Used for bare filenames (M23 file.g).
// In optional mode an empty remainder is allowed.
func (b *Buffer) UnprecedentedString(optional bool) (string, error) {
	i := 0
	for i < b.writePos && b.buf[i] != ' ' {
		i++
	}
	for i < b.writePos && b.buf[i] == ' ' {
		i++
	}
	if i >= b.writePos {
		if optional {
			return "", nil
		}
		return "", ErrEmptyString
	}
	end := b.writePos
	for end > i && b.buf[end-1] == ' ' {
		end--
	}
	return string(b.buf[i:end]), nil
}

// Active reports whether a complete line is being executed.
func (b *Buffer) Active() bool { return b.state == Executing }

// SetFinished marks the current command done (true) or still in progress
// (false). Finishing clears the buffer for the next line; only the
// dispatcher calls this.
func (b *Buffer) SetFinished(finished bool) {
	if finished {
		b.Init()
	} else {
		b.state = Executing
	}
}

// Pause suspends an executing source; used while a print is interrupted.
func (b *Buffer) Pause() {
	if b.state == Executing {
		b.state = Paused
	}
}

// Resume reactivates a paused source.
func (b *Buffer) Resume() {
	if b.state == Paused {
		b.state = Executing
	}
}

// IsPaused reports whether the source is suspended.
func (b *Buffer) IsPaused() bool { return b.state == Paused }

// WritingFileDirectory returns the target directory when incoming G-code
// is being saved to a file (M28) rather than executed, or "" otherwise.
func (b *Buffer) WritingFileDirectory() string { return b.writingFileDirectory }

// SetWritingFileDirectory sets or clears the save-to-file target.
func (b *Buffer) SetWritingFileDirectory(dir string) { b.writingFileDirectory = dir }

// ToolNumberAdjust returns the offset applied to T numbers from this source.
func (b *Buffer) ToolNumberAdjust() int { return b.toolNumberAdjust }

// SetToolNumberAdjust sets the offset applied to T numbers from this source.
func (b *Buffer) SetToolNumberAdjust(adjust int) { b.toolNumberAdjust = adjust }
