package psu

import (
	"fmt"
	"sync"
)

// SimSupply is an in-memory supply. While the output is on it reports the
// programmed voltage and Load, clamped to the current limit.
type SimSupply struct {
	mu sync.Mutex

	current float64
	voltage float64
	output  bool
	closed  bool

	// Load is the current drawn while the output is on.
	Load float64
	// OnMeasure, when set, replaces the computed reading.
	OnMeasure func() (Reading, error)
	// Fail, when non-nil, is returned by every call.
	Fail error
}

// NewSimSupply returns a supply drawing 25mA when enabled.
func NewSimSupply() *SimSupply {
	return &SimSupply{Load: 0.025}
}

func (s *SimSupply) check() error {
	if s.closed {
		return ErrClosed
	}
	return s.Fail
}

func (s *SimSupply) SetCurrent(amps float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	if amps < 0 {
		return fmt.Errorf("psu: negative current %.3fA", amps)
	}
	s.current = amps
	return nil
}

func (s *SimSupply) SetVoltage(volts float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	if volts < 0 {
		return fmt.Errorf("psu: negative voltage %.3fV", volts)
	}
	s.voltage = volts
	return nil
}

func (s *SimSupply) SetOutput(on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	s.output = on
	return nil
}

func (s *SimSupply) Measure() (Reading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return Reading{}, err
	}
	if s.OnMeasure != nil {
		return s.OnMeasure()
	}
	if !s.output {
		return Reading{}, nil
	}
	load := s.Load
	if load > s.current {
		load = s.current
	}
	return Reading{Current: load, Voltage: s.voltage}, nil
}

// Powered reports whether the output is on.
func (s *SimSupply) Powered() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.output && !s.closed
}

// Setpoints returns the programmed current limit and voltage.
func (s *SimSupply) Setpoints() (amps, volts float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current, s.voltage
}

func (s *SimSupply) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.output = false
	s.closed = true
	return nil
}

var _ Supply = (*SimSupply)(nil)
