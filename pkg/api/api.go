// Package api exposes the host over HTTP and WebSocket: status queries,
// G-code submission, print job control, file management and metrics.
package api

// Status is a point-in-time snapshot of the printer, safe to serialise
// from any goroutine.
type Status struct {
	State        string    `json:"state"`
	Position     []float64 `json:"position"`
	HomedAxes    string    `json:"homed_axes"`
	Progress     float64   `json:"progress"`
	Tool         int       `json:"tool"`
	Temperatures []Temp    `json:"temperatures"`
	FanSpeed     float64   `json:"fan_speed"`
}

// Temp is one heater's current and target temperature.
type Temp struct {
	Heater  int     `json:"heater"`
	Current float64 `json:"current"`
	Target  float64 `json:"target"`
}

// Job identifies a print started through the API.
type Job struct {
	ID       string  `json:"id"`
	Filename string  `json:"filename"`
	Started  float64 `json:"started"`
}

// Printer is what the server needs from the host. Implementations must
// be callable from any goroutine.
type Printer interface {
	Status() Status
	// ExecuteGCode submits a script, one line per call to the
	// interpreter. Replies arrive via the server's gcode response
	// broadcast, not the return value.
	ExecuteGCode(script string) error
	EmergencyStop()
	StartPrint(filename string) (Job, error)
	PausePrint() error
	ResumePrint() error
	CancelPrint() error
	ListFiles() ([]string, error)
	DeleteFile(name string) error
	Diagnostics() string
}
