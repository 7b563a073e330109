package fct

import (
	"fmt"
	"time"

	"github.com/OpenTraceLab/OpenTraceFCT/pkg/psu"
)

// Limits is an inclusive range a measurement must stay within.
type Limits struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Contains reports whether v is within the limits.
func (l Limits) Contains(v float64) bool {
	return v >= l.Min && v <= l.Max
}

// Config controls a test run.
type Config struct {
	// Sequencing
	Cycles        int  // Number of test cycles (default: 1)
	StopOnFailure bool // Stop at the first failed cycle (default: true)

	// InterruptTimeout bounds each open-circuit interrupt wait. Zero waits
	// until the context ends.
	InterruptTimeout time.Duration

	// Supply monitoring and validation
	MonitorInterval time.Duration // PSU sampling period (default: 500ms)
	CurrentLimits   Limits        // Amperes (default: 0.00..0.10)
	VoltageLimits   Limits        // Volts (default: 4.50..5.50)

	// Record metadata
	TestName    string
	Description string
	Version     string
}

// DefaultConfig returns the settings of the expander FCT.
func DefaultConfig() *Config {
	return &Config{
		Cycles:           1,
		StopOnFailure:    true,
		InterruptTimeout: 0,
		MonitorInterval:  psu.DefaultInterval,
		CurrentLimits:    Limits{Min: 0.00, Max: 0.10},
		VoltageLimits:    Limits{Min: 4.50, Max: 5.50},
		TestName:         "fct_test",
		Description:      "PiDP-11 I/O Expander FCT",
		Version:          "1.0.0",
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Cycles < 1 {
		return fmt.Errorf("fct: cycles must be at least 1, got %d", c.Cycles)
	}
	if c.InterruptTimeout < 0 {
		return fmt.Errorf("fct: negative interrupt timeout %v", c.InterruptTimeout)
	}
	if c.MonitorInterval <= 0 {
		return fmt.Errorf("fct: monitor interval must be positive, got %v", c.MonitorInterval)
	}
	if c.CurrentLimits.Min > c.CurrentLimits.Max {
		return fmt.Errorf("fct: current limits %v..%v are inverted", c.CurrentLimits.Min, c.CurrentLimits.Max)
	}
	if c.VoltageLimits.Min > c.VoltageLimits.Max {
		return fmt.Errorf("fct: voltage limits %v..%v are inverted", c.VoltageLimits.Min, c.VoltageLimits.Max)
	}
	if c.TestName == "" {
		return fmt.Errorf("fct: test name is empty")
	}
	return nil
}
