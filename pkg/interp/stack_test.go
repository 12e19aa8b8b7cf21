package interp

import (
	"strings"
	"testing"
)

func TestPushPopRoundTrip(t *testing.T) {
	h := newHarness(t, nil, nil)
	i := h.i
	i.axesRelative = true
	i.drivesRelative = true
	i.feedRate = 42.5
	i.distanceScale = 25.4
	i.extruderPos[0] = 7.25

	if err := i.push(); err != nil {
		t.Fatal(err)
	}
	i.axesRelative = false
	i.drivesRelative = false
	i.feedRate = 1
	i.distanceScale = 1
	i.extruderPos[0] = 0
	if err := i.pop(); err != nil {
		t.Fatal(err)
	}

	if !i.axesRelative || !i.drivesRelative {
		t.Error("relative flags not restored")
	}
	if i.feedRate != 42.5 || i.distanceScale != 25.4 {
		t.Errorf("feed/scale = %v/%v", i.feedRate, i.distanceScale)
	}
	if i.extruderPos[0] != 7.25 {
		t.Errorf("extruder position = %v", i.extruderPos[0])
	}
}

func TestStackOverflow(t *testing.T) {
	h := newHarness(t, nil, nil)
	for n := 0; n < MaxStackDepth; n++ {
		if err := h.i.push(); err != nil {
			t.Fatalf("push %d failed: %v", n, err)
		}
	}
	if err := h.i.push(); err == nil {
		t.Fatal("push past capacity succeeded")
	}
	// The interpreter keeps running after the rejection.
	if err := h.i.pop(); err != nil {
		t.Fatalf("pop after overflow: %v", err)
	}
}

func TestPopEmptyStack(t *testing.T) {
	h := newHarness(t, nil, nil)
	if err := h.i.pop(); err == nil {
		t.Fatal("pop of empty stack succeeded")
	}
}

func TestM120M121(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.exec(t, SourceWeb, "G91")
	h.exec(t, SourceWeb, "M120")
	h.exec(t, SourceWeb, "G90")
	if h.i.axesRelative {
		t.Fatal("G90 had no effect")
	}
	h.exec(t, SourceWeb, "M121")
	if !h.i.axesRelative {
		t.Error("M121 did not restore relative mode")
	}
}

func TestMacroNestingLimit(t *testing.T) {
	h := newHarness(t, map[string]string{"sys/deep.g": "G91\n"}, nil)
	i := h.i
	for n := 0; n < MaxStackDepth; n++ {
		if err := i.push(); err != nil {
			t.Fatalf("push %d: %v", n, err)
		}
	}
	err := i.runFileMacro("deep.g")
	if err == nil {
		t.Fatal("macro start succeeded with a full stack")
	}
	if !strings.Contains(err.Error(), "RESOURCE_STACK") {
		t.Errorf("error = %v, want stack exhaustion", err)
	}
	if i.doingFileMacro {
		t.Error("macro state set despite refusal")
	}
}
