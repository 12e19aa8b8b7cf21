// Metrics collection for the G-code interpreter host
//
// Counters and gauges with label support, exposed in Prometheus text
// format via the API server's /metrics endpoint.
//
// Copyright (C) 2026  RepRap Host Project
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package metrics

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

// Labels represents metric labels as key-value pairs
type Labels map[string]string

func labelKey(labels Labels) string {
	if len(labels) == 0 {
		return ""
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var sb strings.Builder
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte(',')
		}
		fmt.Fprintf(&sb, "%s=%q", k, labels[k])
	}
	return sb.String()
}

// Counter is a monotonically increasing value. Safe for use from any
// goroutine, including the completion-signal context.
type Counter struct {
	value atomic.Uint64
}

// Inc increments the counter by one.
func (c *Counter) Inc() {
	c.value.Add(1)
}

// Add increments the counter by n.
func (c *Counter) Add(n uint64) {
	c.value.Add(n)
}

// Value returns the current count.
func (c *Counter) Value() uint64 {
	return c.value.Load()
}

// Gauge is a value that can go up and down.
type Gauge struct {
	bits atomic.Uint64
}

// Set sets the gauge.
func (g *Gauge) Set(v float64) {
	g.bits.Store(math.Float64bits(v))
}

// Value returns the current value.
func (g *Gauge) Value() float64 {
	return math.Float64frombits(g.bits.Load())
}

type metricFamily struct {
	name     string
	help     string
	isGauge  bool
	mu       sync.Mutex
	counters map[string]*Counter
	gauges   map[string]*Gauge
	labels   map[string]string // key -> rendered label text
}

// Registry holds all metric families for one process.
type Registry struct {
	mu       sync.Mutex
	families map[string]*metricFamily
	order    []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{families: make(map[string]*metricFamily)}
}

func (r *Registry) family(name, help string, isGauge bool) *metricFamily {
	r.mu.Lock()
	defer r.mu.Unlock()
	if f, ok := r.families[name]; ok {
		return f
	}
	f := &metricFamily{
		name:     name,
		help:     help,
		isGauge:  isGauge,
		counters: make(map[string]*Counter),
		gauges:   make(map[string]*Gauge),
		labels:   make(map[string]string),
	}
	r.families[name] = f
	r.order = append(r.order, name)
	return f
}

// Counter returns (creating if needed) the counter with the given name and
// labels. Repeated calls with the same identity return the same Counter.
func (r *Registry) Counter(name, help string, labels Labels) *Counter {
	f := r.family(name, help, false)
	key := labelKey(labels)
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.counters[key]; ok {
		return c
	}
	c := &Counter{}
	f.counters[key] = c
	f.labels[key] = key
	return c
}

// Gauge returns (creating if needed) the gauge with the given name/labels.
func (r *Registry) Gauge(name, help string, labels Labels) *Gauge {
	f := r.family(name, help, true)
	key := labelKey(labels)
	f.mu.Lock()
	defer f.mu.Unlock()
	if g, ok := f.gauges[key]; ok {
		return g
	}
	g := &Gauge{}
	f.gauges[key] = g
	f.labels[key] = key
	return g
}

// Render writes all metrics in Prometheus text exposition format.
func (r *Registry) Render() string {
	r.mu.Lock()
	names := make([]string, len(r.order))
	copy(names, r.order)
	r.mu.Unlock()

	var sb strings.Builder
	for _, name := range names {
		r.mu.Lock()
		f := r.families[name]
		r.mu.Unlock()
		if f == nil {
			continue
		}

		kind := "counter"
		if f.isGauge {
			kind = "gauge"
		}
		fmt.Fprintf(&sb, "# HELP %s %s\n", f.name, f.help)
		fmt.Fprintf(&sb, "# TYPE %s %s\n", f.name, kind)

		f.mu.Lock()
		keys := make([]string, 0, len(f.labels))
		for k := range f.labels {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, key := range keys {
			label := ""
			if key != "" {
				label = "{" + key + "}"
			}
			if f.isGauge {
				fmt.Fprintf(&sb, "%s%s %g\n", f.name, label, f.gauges[key].Value())
			} else {
				fmt.Fprintf(&sb, "%s%s %d\n", f.name, label, f.counters[key].Value())
			}
		}
		f.mu.Unlock()
	}
	return sb.String()
}
