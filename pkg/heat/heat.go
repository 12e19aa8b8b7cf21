// Package heat defines the interpreter's view of the heating subsystem.
// Tool changes and the M109/M116/M190 family only ever set targets and
// poll for arrival; control loops stay behind the Controller interface.
package heat

import (
	"errors"
	"fmt"
	"math"
	"sync"
)

// CloseEnough is the tolerance, in degrees C, within which a heater is
// considered to have reached its target.
const CloseEnough = 2.5

var (
	ErrUnknownHeater = errors.New("heat: unknown heater")
	ErrTargetTooHigh = errors.New("heat: target above heater maximum")
)

// Controller is the narrow heating interface the interpreter consumes.
type Controller interface {
	// SetTarget sets the target temperature for a heater. A target of 0
	// turns the heater off.
	SetTarget(heater int, temp float64) error
	// Target returns the current target for a heater.
	Target(heater int) float64
	// Current returns the last measured temperature.
	Current(heater int) float64
	// AtTarget reports whether the heater has reached its target.
	AtTarget(heater int) bool
}

type heaterState struct {
	current float64
	target  float64
}

// Simulator is a first-order thermal model implementing Controller, used
// by cmd/print-sim and tests. Temperatures move toward their targets a
// fixed fraction per Step.
type Simulator struct {
	mu      sync.Mutex
	heaters []heaterState
	maxTemp float64
	ambient float64
	// rate is the fraction of the remaining delta closed per second.
	rate float64
}

// NewSimulator creates a simulator with the given number of heaters.
func NewSimulator(numHeaters int, maxTemp float64) *Simulator {
	const ambient = 21.0
	s := &Simulator{
		heaters: make([]heaterState, numHeaters),
		maxTemp: maxTemp,
		ambient: ambient,
		rate:    0.8,
	}
	for i := range s.heaters {
		s.heaters[i].current = ambient
	}
	return s
}

// SetTarget implements Controller.
func (s *Simulator) SetTarget(heater int, temp float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if heater < 0 || heater >= len(s.heaters) {
		return fmt.Errorf("%w: %d", ErrUnknownHeater, heater)
	}
	if temp > s.maxTemp {
		return fmt.Errorf("%w: %.1f > %.1f", ErrTargetTooHigh, temp, s.maxTemp)
	}
	s.heaters[heater].target = temp
	return nil
}

// Target implements Controller.
func (s *Simulator) Target(heater int) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if heater < 0 || heater >= len(s.heaters) {
		return 0
	}
	return s.heaters[heater].target
}

// Current implements Controller.
func (s *Simulator) Current(heater int) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if heater < 0 || heater >= len(s.heaters) {
		return 0
	}
	return s.heaters[heater].current
}

// AtTarget implements Controller. A heater that is off (target 0) counts
// as at target once it has cooled near ambient.
func (s *Simulator) AtTarget(heater int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if heater < 0 || heater >= len(s.heaters) {
		return false
	}
	h := s.heaters[heater]
	goal := h.target
	if goal == 0 {
		goal = s.ambient
	}
	return math.Abs(h.current-goal) <= CloseEnough
}

// Step advances the thermal model by dt seconds.
func (s *Simulator) Step(dt float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f := s.rate * dt
	if f > 1 {
		f = 1
	}
	for i := range s.heaters {
		goal := s.heaters[i].target
		if goal == 0 {
			goal = s.ambient
		}
		s.heaters[i].current += (goal - s.heaters[i].current) * f
	}
}

// ForceTemperature pins a heater's measured temperature; tests use it to
// make arrival deterministic.
func (s *Simulator) ForceTemperature(heater int, temp float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if heater >= 0 && heater < len(s.heaters) {
		s.heaters[heater].current = temp
	}
}
