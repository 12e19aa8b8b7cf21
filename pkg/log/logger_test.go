package log

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := New("test")
	l.SetOutput(&buf)
	l.SetLevel(WARN)

	l.Debug("not shown")
	l.Info("not shown")
	l.Warn("shown")
	l.Error("also shown")

	out := buf.String()
	if strings.Contains(out, "not shown") {
		t.Errorf("below-level messages written: %q", out)
	}
	if !strings.Contains(out, "shown") || !strings.Contains(out, "also shown") {
		t.Errorf("at-level messages missing: %q", out)
	}
}

func TestTextFields(t *testing.T) {
	var buf bytes.Buffer
	l := New("interp")
	l.SetOutput(&buf)

	l.Info("move submitted", Fields{"axis": "X", "target": 10.5})

	out := buf.String()
	for _, want := range []string{"[interp]", "move submitted", "axis=X", "target=10.5"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q: %q", want, out)
		}
	}
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	l := New("api")
	l.SetOutput(&buf)
	l.SetFormat(FormatJSON)

	l.Warnf("slow tick: %dms", 25)

	var record map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("invalid JSON output %q: %v", buf.String(), err)
	}
	if record["level"] != "WARN" || record["component"] != "api" {
		t.Errorf("record = %v", record)
	}
	if record["msg"] != "slow tick: 25ms" {
		t.Errorf("msg = %v", record["msg"])
	}
}

func TestWithFieldsPersist(t *testing.T) {
	var buf bytes.Buffer
	l := New("test")
	l.SetOutput(&buf)

	child := l.WithFields(Fields{"source": "serial"})
	child.Info("line accepted")

	if !strings.Contains(buf.String(), "source=serial") {
		t.Errorf("persistent field missing: %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]LogLevel{
		"debug": DEBUG, "INFO": INFO, "Warning": WARN, "error": ERROR, "junk": INFO,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestRotation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "host.log")

	w, err := NewRotatingWriter(path, 128, 2)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	line := strings.Repeat("x", 60) + "\n"
	for i := 0; i < 10; i++ {
		if _, err := w.Write([]byte(line)); err != nil {
			t.Fatal(err)
		}
	}

	if _, err := os.Stat(path); err != nil {
		t.Errorf("live log file missing: %v", err)
	}
	if _, err := os.Stat(path + ".1"); err != nil {
		t.Errorf("first backup missing: %v", err)
	}

	info, _ := os.Stat(path)
	if info.Size() > 128 {
		t.Errorf("live file grew past limit: %d bytes", info.Size())
	}
}
