package api

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"reprap-host/pkg/heat"
	"reprap-host/pkg/interp"
	"reprap-host/pkg/reactor"
)

// callTimeout bounds how long an API goroutine waits for the reactor to
// run its request.
const callTimeout = 5 * time.Second

// InterpAdapter implements Printer over the interpreter. The
// interpreter is only safe to touch from reactor context, so every
// method marshals its work through RunAsync and waits for the result.
type InterpAdapter struct {
	reactor    *reactor.Reactor
	interp     *interp.Interpreter
	heat       heat.Controller
	numHeaters int

	currentJob *Job
}

// NewInterpAdapter wires the interpreter behind the Printer interface.
func NewInterpAdapter(r *reactor.Reactor, in *interp.Interpreter, h heat.Controller, numHeaters int) *InterpAdapter {
	return &InterpAdapter{reactor: r, interp: in, heat: h, numHeaters: numHeaters}
}

// call runs fn in reactor context and waits for it.
func (a *InterpAdapter) call(fn func() any) (any, error) {
	done := a.reactor.RunAsync(func(eventtime float64) interface{} {
		return fn()
	})
	result := done.Wait(callTimeout, errTimeout)
	if result == errTimeout {
		return nil, fmt.Errorf("host busy, request timed out")
	}
	return result, nil
}

var errTimeout = &struct{ s string }{"timeout"}

// Status implements Printer.
func (a *InterpAdapter) Status() Status {
	result, err := a.call(func() any {
		in := a.interp
		state := "idle"
		switch {
		case in.IsPaused():
			state = "paused"
		case in.IsPrinting():
			state = "printing"
		}
		homed := make([]byte, 0, 3)
		for axis, letter := range []byte("xyz") {
			if in.AxisHomed(axis) {
				homed = append(homed, letter)
			}
		}
		st := Status{
			State:     state,
			Position:  in.Position(),
			HomedAxes: string(homed),
			Progress:  in.FractionOfFilePrinted(),
			Tool:      in.CurrentTool(),
			FanSpeed:  in.FanSpeed(),
		}
		for h := 0; h < a.numHeaters; h++ {
			st.Temperatures = append(st.Temperatures, Temp{
				Heater:  h,
				Current: a.heat.Current(h),
				Target:  a.heat.Target(h),
			})
		}
		return st
	})
	if err != nil {
		return Status{State: "unreachable"}
	}
	return result.(Status)
}

// ExecuteGCode implements Printer. Each line of the script is offered
// to the web source; a busy source fails the whole script rather than
// silently dropping lines.
func (a *InterpAdapter) ExecuteGCode(script string) error {
	for _, line := range strings.Split(script, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		accepted := false
		deadline := time.Now().Add(callTimeout)
		for time.Now().Before(deadline) {
			result, err := a.call(func() any {
				return a.interp.FeedLine(interp.SourceWeb, line)
			})
			if err != nil {
				return err
			}
			if result.(bool) {
				accepted = true
				break
			}
			time.Sleep(10 * time.Millisecond)
		}
		if !accepted {
			return fmt.Errorf("interpreter busy, line %q not accepted", line)
		}
	}
	return nil
}

// EmergencyStop implements Printer. M112 jumps the queue via its own
// source so a wedged web source cannot delay it.
func (a *InterpAdapter) EmergencyStop() {
	a.call(func() any {
		a.interp.FeedLine(interp.SourceAux, "M112")
		return nil
	})
}

// StartPrint implements Printer.
func (a *InterpAdapter) StartPrint(filename string) (Job, error) {
	result, err := a.call(func() any {
		if a.interp.IsPrinting() {
			return fmt.Errorf("a print is already in progress")
		}
		if err := a.interp.StartFilePrint(filename); err != nil {
			return err
		}
		job := Job{
			ID:       uuid.NewString(),
			Filename: filename,
			Started:  float64(time.Now().Unix()),
		}
		a.currentJob = &job
		return job
	})
	if err != nil {
		return Job{}, err
	}
	if jobErr, ok := result.(error); ok {
		return Job{}, jobErr
	}
	return result.(Job), nil
}

// PausePrint implements Printer.
func (a *InterpAdapter) PausePrint() error {
	return a.control("M25")
}

// ResumePrint implements Printer.
func (a *InterpAdapter) ResumePrint() error {
	return a.control("M24")
}

// CancelPrint implements Printer.
func (a *InterpAdapter) CancelPrint() error {
	return a.control("M0")
}

func (a *InterpAdapter) control(code string) error {
	result, err := a.call(func() any {
		return a.interp.FeedLine(interp.SourceWeb, code)
	})
	if err != nil {
		return err
	}
	if !result.(bool) {
		return fmt.Errorf("interpreter busy")
	}
	return nil
}

// ListFiles implements Printer.
func (a *InterpAdapter) ListFiles() ([]string, error) {
	result, err := a.call(func() any {
		names, err := a.interp.ListGCodeFiles()
		if err != nil {
			return err
		}
		return names
	})
	if err != nil {
		return nil, err
	}
	if listErr, ok := result.(error); ok {
		return nil, listErr
	}
	return result.([]string), nil
}

// DeleteFile implements Printer.
func (a *InterpAdapter) DeleteFile(name string) error {
	result, err := a.call(func() any {
		if err := a.interp.DeleteFile(name); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}
	if delErr, ok := result.(error); ok {
		return delErr
	}
	return nil
}

// Diagnostics implements Printer.
func (a *InterpAdapter) Diagnostics() string {
	result, err := a.call(func() any { return a.interp.Diagnostics() })
	if err != nil {
		return err.Error()
	}
	return result.(string)
}
