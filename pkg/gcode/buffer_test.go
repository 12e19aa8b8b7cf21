package gcode

import (
	"errors"
	"fmt"
	"testing"
)

func mustLine(t *testing.T, b *Buffer, line string) {
	t.Helper()
	if !b.PutLine(line) {
		t.Fatalf("PutLine(%q) did not complete a line", line)
	}
}

func TestFieldExtractionOrder(t *testing.T) {
	b := New("test")
	mustLine(t, b, "G1 X1 Y2 Z3")

	if !b.Seen('G') {
		t.Fatal("Seen('G') = false")
	}
	if v, err := b.Int(); err != nil || v != 1 {
		t.Fatalf("G value = %d, %v", v, err)
	}

	want := []struct {
		letter byte
		value  float64
	}{{'X', 1.0}, {'Y', 2.0}, {'Z', 3.0}}
	for _, w := range want {
		if !b.Seen(w.letter) {
			t.Fatalf("Seen(%q) = false", w.letter)
		}
		v, err := b.Float()
		if err != nil {
			t.Fatalf("Float after %q: %v", w.letter, err)
		}
		if v != w.value {
			t.Errorf("%c = %f, want %f", w.letter, v, w.value)
		}
	}

	// A letter not on the line fails and leaves the cursor alone.
	if b.Seen('W') {
		t.Error("Seen('W') = true on line without W")
	}
}

func TestSeenDoesNotRewind(t *testing.T) {
	b := New("test")
	mustLine(t, b, "G1 X5 Y6")

	if !b.Seen('Y') {
		t.Fatal("Seen('Y') = false")
	}
	if _, err := b.Float(); err != nil {
		t.Fatal(err)
	}
	// X is behind the cursor now; a single pass scans forward only.
	if b.Seen('X') {
		t.Error("Seen('X') succeeded after cursor passed it")
	}
	b.Rewind()
	if !b.Seen('X') {
		t.Error("Seen('X') failed after Rewind")
	}
}

func TestNegativeAndFractionValues(t *testing.T) {
	b := New("test")
	mustLine(t, b, "G1 X10 Y-5.5 F1200")

	b.Seen('Y')
	if v, err := b.Float(); err != nil || v != -5.5 {
		t.Errorf("Y = %f, %v; want -5.5", v, err)
	}
	b.Seen('F')
	if v, err := b.Float(); err != nil || v != 1200 {
		t.Errorf("F = %f, %v; want 1200", v, err)
	}
}

func TestCommentStripped(t *testing.T) {
	b := New("test")
	mustLine(t, b, "G28 X ; home the X axis")

	if got := b.Line(); got != "G28 X" {
		t.Errorf("Line() = %q, want comment stripped", got)
	}
	// Letters inside the comment must not be seen as fields.
	b.Rewind()
	if b.Seen('h') {
		t.Error("matched a letter from the comment text")
	}
}

func TestCommentOnlyLineIgnored(t *testing.T) {
	b := New("test")
	if b.PutLine("; just a comment") {
		t.Error("comment-only line reported as complete")
	}
	if !b.IsEmpty() || b.Active() {
		t.Error("buffer not reset after comment-only line")
	}
}

func TestOverlongLineDropsCharacters(t *testing.T) {
	b := New("test")
	long := "G1 X"
	for i := 0; i < MaxLineLength*2; i++ {
		long += "9"
	}
	if !b.PutLine(long) {
		t.Fatal("overlong line did not complete")
	}
	if b.Length() >= MaxLineLength {
		t.Errorf("Length() = %d, want < %d", b.Length(), MaxLineLength)
	}
}

// checksum computes the XOR checksum for a line body, as senders do.
func checksum(body string) byte {
	var sum byte
	for i := 0; i < len(body); i++ {
		sum ^= body[i]
	}
	return sum
}

func TestChecksumAccepted(t *testing.T) {
	b := New("serial")
	b.RequireChecksum(true)
	b.SetLineNumber(0)

	body := "N1 G1 X10"
	line := fmt.Sprintf("%s*%d", body, checksum(body))
	if !b.PutLine(line) {
		t.Fatalf("valid checksummed line %q rejected", line)
	}
	if got := b.Line(); got != "G1 X10" {
		t.Errorf("Line() = %q, want sequence prefix stripped", got)
	}
	if b.LineNumber() != 1 {
		t.Errorf("LineNumber() = %d, want 1", b.LineNumber())
	}
	if _, wanted := b.TakeResend(); wanted {
		t.Error("resend requested for a valid line")
	}
}

func TestChecksumMismatchRequestsResend(t *testing.T) {
	b := New("serial")
	b.RequireChecksum(true)
	b.SetLineNumber(4)

	body := "N5 G1 X10"
	// Flip one bit of the correct checksum.
	bad := checksum(body) ^ 0x01
	if b.PutLine(fmt.Sprintf("%s*%d", body, bad)) {
		t.Fatal("corrupted line reported as complete")
	}
	seq, wanted := b.TakeResend()
	if !wanted {
		t.Fatal("no resend requested after checksum mismatch")
	}
	if seq != 5 {
		t.Errorf("resend sequence = %d, want 5", seq)
	}
	if b.Active() {
		t.Error("corrupted line left buffer executing")
	}

	// The retransmitted line is then accepted.
	good := fmt.Sprintf("%s*%d", body, checksum(body))
	if !b.PutLine(good) {
		t.Error("retransmitted valid line rejected")
	}
}

func TestMissingChecksumRequestsResend(t *testing.T) {
	b := New("serial")
	b.RequireChecksum(true)
	if b.PutLine("G1 X10") {
		t.Fatal("line without checksum accepted in checksum mode")
	}
	if _, wanted := b.TakeResend(); !wanted {
		t.Error("no resend requested for missing checksum")
	}
}

func TestFloatArray(t *testing.T) {
	b := New("test")
	mustLine(t, b, "M92 E100.5:200:300.25")

	if !b.Seen('E') {
		t.Fatal("Seen('E') = false")
	}
	var vals [4]float64
	n, err := b.FloatArray(vals[:])
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Fatalf("count = %d, want 3", n)
	}
	want := []float64{100.5, 200, 300.25}
	for i, w := range want {
		if vals[i] != w {
			t.Errorf("vals[%d] = %f, want %f", i, vals[i], w)
		}
	}
}

func TestFloatArrayOverflow(t *testing.T) {
	b := New("test")
	mustLine(t, b, "M92 E1:2:3:4")

	b.Seen('E')
	var vals [2]float64
	_, err := b.FloatArray(vals[:])
	if !errors.Is(err, ErrArrayOverflow) {
		t.Errorf("err = %v, want ErrArrayOverflow", err)
	}
}

func TestLongArray(t *testing.T) {
	b := New("test")
	mustLine(t, b, "M574 S1:0:-1")

	b.Seen('S')
	var vals [3]int64
	n, err := b.LongArray(vals[:])
	if err != nil || n != 3 {
		t.Fatalf("n=%d err=%v", n, err)
	}
	if vals[0] != 1 || vals[1] != 0 || vals[2] != -1 {
		t.Errorf("vals = %v", vals)
	}
}

func TestUnprecedentedString(t *testing.T) {
	b := New("test")
	mustLine(t, b, "M23 prints/benchy.g")

	name, err := b.UnprecedentedString(false)
	if err != nil {
		t.Fatal(err)
	}
	if name != "prints/benchy.g" {
		t.Errorf("name = %q", name)
	}

	b2 := New("test")
	mustLine(t, b2, "M29")
	if _, err := b2.UnprecedentedString(false); err == nil {
		t.Error("empty remainder accepted in required mode")
	}
	if s, err := b2.UnprecedentedString(true); err != nil || s != "" {
		t.Errorf("optional mode: %q, %v", s, err)
	}
}

func TestValueWithoutField(t *testing.T) {
	b := New("test")
	mustLine(t, b, "G1 Xnope")

	b.Seen('X')
	if _, err := b.Float(); err == nil {
		t.Error("malformed value parsed without error")
	}
}

func TestLifecycle(t *testing.T) {
	b := New("file")
	mustLine(t, b, "G1 X1")
	if !b.Active() {
		t.Fatal("complete line not Executing")
	}
	b.Pause()
	if !b.IsPaused() {
		t.Fatal("Pause did not suspend")
	}
	b.Resume()
	if !b.Active() {
		t.Fatal("Resume did not reactivate")
	}
	b.SetFinished(true)
	if b.Active() || !b.IsEmpty() {
		t.Error("SetFinished(true) did not reset the buffer")
	}
}
