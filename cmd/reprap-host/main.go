// reprap-host runs the G-code interpreter with an HTTP/WebSocket API,
// optional serial sources, and simulated motion and heating backends.
//
// Usage:
//
//	reprap-host [-config machine.cfg] [options]
//
// Options:
//
//	-config string   Machine configuration file (INI)
//	-listen string   API listen address (overrides config)
//	-logfile string  Log file path with rotation (default: stdout)
//	-debug           Enable debug logging
package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"reprap-host/pkg/api"
	"reprap-host/pkg/config"
	"reprap-host/pkg/heat"
	"reprap-host/pkg/interp"
	"reprap-host/pkg/log"
	"reprap-host/pkg/metrics"
	"reprap-host/pkg/motion"
	"reprap-host/pkg/reactor"
	"reprap-host/pkg/serial"
)

// tickPeriod is the interpreter's cooperative tick interval in seconds.
const tickPeriod = 0.002

func main() {
	configFile := flag.String("config", "", "Machine configuration file")
	listen := flag.String("listen", "", "API listen address (overrides config)")
	logFile := flag.String("logfile", "", "Log file path (default: stdout)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	logger := log.New("host")
	if *debug {
		logger.SetLevel(log.DEBUG)
	}
	if *logFile != "" {
		w, err := log.NewRotatingWriter(*logFile, 10<<20, 3)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening log file: %v\n", err)
			os.Exit(1)
		}
		defer w.Close()
		logger.SetOutput(w)
	}

	machine := config.Defaults()
	var tools []config.ToolConfig
	if *configFile != "" {
		cfg, err := config.Load(*configFile)
		if err != nil {
			logger.Errorf("cannot read config %s: %v", *configFile, err)
			os.Exit(1)
		}
		machine, tools, err = config.LoadMachine(cfg)
		if err != nil {
			logger.Errorf("bad config %s: %v", *configFile, err)
			os.Exit(1)
		}
	}
	if *listen != "" {
		machine.APIListen = *listen
	}

	logger.Info("RepRap host starting")
	logger.Infof("API: %s, gcode dir: %s, macro dir: %s",
		machine.APIListen, machine.GCodeDir, machine.MacroDir)

	registry := metrics.NewRegistry()
	interpMetrics := metrics.NewInterpMetrics(registry)

	r := reactor.New()
	heaters := heat.NewSimulator(machine.NumHeaters, 300)

	// The completion callback is the one interpreter touch allowed from
	// outside the tick goroutine; it only fires after moves are submitted,
	// so capturing in before New runs is safe.
	var in *interp.Interpreter
	sim := motion.NewSimulator(motion.SimulatorConfig{
		OnSegmentCompleted: func() {
			in.Counters().MoveCompleted()
			interpMetrics.MovesCompleted.Inc()
		},
	})
	defer sim.Stop()

	in = interp.New(interp.Options{
		Machine:  machine,
		Tools:    tools,
		Motion:   sim,
		Endstops: sim,
		Heat:     heaters,
		FS:       &interp.OSFileSystem{Root: "."},
		Logger:   logger.WithPrefix("interp"),
		Metrics:  interpMetrics,
		Now:      r.Monotonic,
	})

	var channels []*serial.Channel
	if machine.SerialDevice != "" {
		ch, err := serial.Open(machine.SerialDevice, machine.SerialBaud, interp.SourceSerial, logger)
		if err != nil {
			logger.Errorf("serial: %v", err)
			os.Exit(1)
		}
		ch.Start(r, in)
		channels = append(channels, ch)
		logger.Infof("serial source on %s at %d baud", machine.SerialDevice, machine.SerialBaud)
	}
	if machine.AuxDevice != "" {
		ch, err := serial.Open(machine.AuxDevice, machine.AuxBaud, interp.SourceAux, logger)
		if err != nil {
			logger.Errorf("aux serial: %v", err)
			os.Exit(1)
		}
		ch.Start(r, in)
		channels = append(channels, ch)
		logger.Infof("aux source on %s at %d baud", machine.AuxDevice, machine.AuxBaud)
	}

	adapter := api.NewInterpAdapter(r, in, heaters, machine.NumHeaters)
	server := api.New(api.Config{
		Addr:    machine.APIListen,
		Printer: adapter,
		Metrics: registry,
		Logger:  logger.WithPrefix("api"),
	})
	in.SetReplyWriter(interp.SourceWeb, server.BroadcastGCodeResponse)
	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			logger.Errorf("api server: %v", err)
		}
	}()

	r.RegisterTimer(func(eventtime float64) float64 {
		in.Tick()
		heaters.Step(tickPeriod)
		return eventtime + tickPeriod
	}, reactor.NOW)
	r.Run()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Infof("received %v, shutting down", sig)

	server.Stop()
	for _, ch := range channels {
		ch.Close()
	}
	r.End()
	r.Wait()
	logger.Info("shutdown complete")
}
