package metrics

import (
	"strings"
	"sync"
	"testing"
)

func TestCounter(t *testing.T) {
	r := NewRegistry()
	c := r.Counter("lines_total", "lines", nil)
	c.Inc()
	c.Add(4)
	if c.Value() != 5 {
		t.Errorf("Value() = %d", c.Value())
	}

	// Same identity returns the same counter.
	if r.Counter("lines_total", "lines", nil) != c {
		t.Error("counter not deduplicated")
	}
}

func TestGauge(t *testing.T) {
	r := NewRegistry()
	g := r.Gauge("queue_depth", "depth", nil)
	g.Set(3)
	if g.Value() != 3 {
		t.Errorf("Value() = %g", g.Value())
	}
	g.Set(0.5)
	if g.Value() != 0.5 {
		t.Errorf("Value() = %g", g.Value())
	}
}

func TestLabels(t *testing.T) {
	r := NewRegistry()
	web := r.Counter("gcode_lines_total", "lines", Labels{"source": "web"})
	serial := r.Counter("gcode_lines_total", "lines", Labels{"source": "serial"})
	if web == serial {
		t.Fatal("distinct label sets shared a counter")
	}
	web.Inc()
	serial.Add(2)

	out := r.Render()
	if !strings.Contains(out, `gcode_lines_total{source="web"} 1`) {
		t.Errorf("web series missing:\n%s", out)
	}
	if !strings.Contains(out, `gcode_lines_total{source="serial"} 2`) {
		t.Errorf("serial series missing:\n%s", out)
	}
}

func TestRenderFormat(t *testing.T) {
	r := NewRegistry()
	r.Counter("moves_submitted_total", "Motion segments accepted", nil).Inc()
	r.Gauge("modal_stack_depth", "Stack depth", nil).Set(2)

	out := r.Render()
	for _, want := range []string{
		"# HELP moves_submitted_total Motion segments accepted",
		"# TYPE moves_submitted_total counter",
		"moves_submitted_total 1",
		"# TYPE modal_stack_depth gauge",
		"modal_stack_depth 2",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("render missing %q:\n%s", want, out)
		}
	}
}

func TestConcurrentUpdates(t *testing.T) {
	r := NewRegistry()
	c := r.Counter("x_total", "x", nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				c.Inc()
			}
		}()
	}
	wg.Wait()
	if c.Value() != 8000 {
		t.Errorf("Value() = %d", c.Value())
	}
}

func TestInterpMetrics(t *testing.T) {
	r := NewRegistry()
	m := NewInterpMetrics(r)

	m.LinesFor("serial").Inc()
	m.LinesFor("serial").Inc()
	m.LinesFor("web").Inc()
	m.MovesSubmitted.Add(3)
	m.QueueDepth.Set(1)

	out := r.Render()
	if !strings.Contains(out, `gcode_lines_total{source="serial"} 2`) {
		t.Errorf("per-source counter wrong:\n%s", out)
	}
	if !strings.Contains(out, "moves_submitted_total 3") {
		t.Errorf("moves counter wrong:\n%s", out)
	}
}
