package heat

import (
	"errors"
	"testing"
)

func TestSetTargetBounds(t *testing.T) {
	s := NewSimulator(2, 280)

	if err := s.SetTarget(0, 205); err != nil {
		t.Fatal(err)
	}
	if got := s.Target(0); got != 205 {
		t.Errorf("Target(0) = %f", got)
	}

	if err := s.SetTarget(0, 400); !errors.Is(err, ErrTargetTooHigh) {
		t.Errorf("over-max target: err = %v", err)
	}
	if err := s.SetTarget(5, 100); !errors.Is(err, ErrUnknownHeater) {
		t.Errorf("unknown heater: err = %v", err)
	}
}

func TestApproachToTarget(t *testing.T) {
	s := NewSimulator(1, 280)
	s.SetTarget(0, 200)

	if s.AtTarget(0) {
		t.Fatal("cold heater reported at target")
	}
	// Enough steps for the first-order model to settle.
	for i := 0; i < 100; i++ {
		s.Step(0.5)
	}
	if !s.AtTarget(0) {
		t.Fatalf("heater never reached target; at %.1f", s.Current(0))
	}
}

func TestOffHeaterCoolsToAmbient(t *testing.T) {
	s := NewSimulator(1, 280)
	s.ForceTemperature(0, 200)
	if s.AtTarget(0) {
		t.Fatal("hot heater with target 0 reported at target")
	}
	for i := 0; i < 100; i++ {
		s.Step(0.5)
	}
	if !s.AtTarget(0) {
		t.Errorf("heater did not cool to ambient; at %.1f", s.Current(0))
	}
}
