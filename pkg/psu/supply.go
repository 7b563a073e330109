// Package psu drives bench power supplies and samples their output.
package psu

import "errors"

// Reading is one output measurement.
type Reading struct {
	Current float64 // amperes
	Voltage float64 // volts
}

// Supply abstracts a programmable bench supply.
type Supply interface {
	SetCurrent(amps float64) error
	SetVoltage(volts float64) error
	SetOutput(on bool) error
	Measure() (Reading, error)
	Close() error
}

// ErrClosed is returned by operations on a closed supply.
var ErrClosed = errors.New("psu: supply closed")
