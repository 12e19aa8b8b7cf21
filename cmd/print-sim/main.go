// print-sim runs a G-code file through the interpreter against simulated
// motion and heating, printing replies and a final diagnostics report.
// Useful for checking files and exercising the interpreter offline.
//
// Usage:
//
//	print-sim [-root dir] [-debug] file.g
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"reprap-host/pkg/config"
	"reprap-host/pkg/heat"
	"reprap-host/pkg/interp"
	"reprap-host/pkg/log"
	"reprap-host/pkg/metrics"
	"reprap-host/pkg/motion"
)

func main() {
	root := flag.String("root", ".", "Directory holding the gcode and macro trees")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()
	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: print-sim [-root dir] file.g")
		os.Exit(1)
	}
	file := flag.Arg(0)

	logger := log.New("sim")
	if *debug {
		logger.SetLevel(log.DEBUG)
	} else {
		logger.SetLevel(log.WARN)
	}

	machine := config.Defaults()
	registry := metrics.NewRegistry()
	interpMetrics := metrics.NewInterpMetrics(registry)
	heaters := heat.NewSimulator(machine.NumHeaters, 300)

	start := time.Now()
	clock := func() float64 { return time.Since(start).Seconds() }

	var in *interp.Interpreter
	sim := motion.NewSimulator(motion.SimulatorConfig{
		SegmentTime: 100 * time.Microsecond,
		OnSegmentCompleted: func() {
			in.Counters().MoveCompleted()
			interpMetrics.MovesCompleted.Inc()
		},
	})
	defer sim.Stop()

	in = interp.New(interp.Options{
		Machine:  machine,
		Motion:   sim,
		Endstops: sim,
		Heat:     heaters,
		FS:       &interp.OSFileSystem{Root: *root},
		Logger:   logger,
		Metrics:  interpMetrics,
		Now:      clock,
	})
	in.SetReplyWriter(interp.SourceWeb, func(msg string) {
		fmt.Print(msg)
	})

	// The file is addressed relative to the gcode tree, matching M23.
	rel, err := filepath.Rel(machine.GCodeDir, file)
	if err != nil || strings.HasPrefix(rel, "..") {
		rel = file
	}
	if err := in.QueueFileToPrint(rel); err != nil {
		fmt.Fprintf(os.Stderr, "cannot open %s: %v\n", file, err)
		os.Exit(1)
	}
	feed(in, "G28")
	feed(in, "M24")

	// Tick until the print and every outstanding move finish.
	deadline := time.Now().Add(10 * time.Minute)
	for {
		in.Tick()
		heaters.Step(0.002)
		if !in.IsPrinting() && in.Counters().AllMovesFinished() {
			break
		}
		if time.Now().After(deadline) {
			fmt.Fprintln(os.Stderr, "print did not finish within 10 minutes")
			os.Exit(1)
		}
		time.Sleep(200 * time.Microsecond)
	}

	feed(in, "M122")
	for n := 0; n < 100; n++ {
		in.Tick()
	}
	fmt.Printf("completed in %.2fs\n", clock())
}

// feed pushes one line into the web source, ticking until the buffer
// accepts it and the command completes.
func feed(in *interp.Interpreter, line string) {
	for !in.FeedLine(interp.SourceWeb, line) {
		in.Tick()
	}
	for n := 0; n < 200000; n++ {
		in.Tick()
		if in.Counters().AllMovesFinished() && !in.Busy(interp.SourceWeb) {
			return
		}
		time.Sleep(50 * time.Microsecond)
	}
}
