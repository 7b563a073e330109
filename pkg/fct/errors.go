package fct

import (
	"errors"
	"fmt"
)

// Sentinels matched by CheckError according to the pass that failed.
var (
	ErrShortCircuit = errors.New("fct: short circuit")
	ErrOpenCircuit  = errors.New("fct: open circuit")
)

// Pass names one of the two verification passes.
type Pass string

const (
	PassShortCircuit Pass = "short-circuit"
	PassOpenCircuit  Pass = "open-circuit"
)

// Checks performed per pin.
const (
	CheckInterrupt = "interrupt"
	CheckPrimary   = "primary data"
	CheckSecondary = "secondary data"
)

// CheckError records the first expected-versus-observed mismatch of a pass.
// For CheckInterrupt, Want and Got are 1 when an interrupt is asserted.
type CheckError struct {
	Pass      Pass   `json:"pass"`
	Cycle     int    `json:"cycle"`
	Primary   int    `json:"primary"`
	Secondary int    `json:"secondary"`
	Pin       int    `json:"pin"`
	Check     string `json:"check"`
	Want      uint8  `json:"want"`
	Got       uint8  `json:"got"`
}

func (e *CheckError) Error() string {
	what := "short circuit"
	if e.Pass == PassOpenCircuit {
		what = "open circuit"
	}
	if e.Check == CheckInterrupt {
		state := "no interrupt"
		if e.Got != 0 {
			state = "unexpected interrupt"
		}
		return fmt.Sprintf("fct: cycle %d: %s at GP%d->GP%d pin %d: %s",
			e.Cycle, what, e.Primary, e.Secondary, e.Pin, state)
	}
	return fmt.Sprintf("fct: cycle %d: %s at GP%d->GP%d pin %d: %s = 0x%02x, want 0x%02x",
		e.Cycle, what, e.Primary, e.Secondary, e.Pin, e.Check, e.Got, e.Want)
}

// Is matches ErrShortCircuit or ErrOpenCircuit by pass.
func (e *CheckError) Is(target error) bool {
	switch target {
	case ErrShortCircuit:
		return e.Pass == PassShortCircuit
	case ErrOpenCircuit:
		return e.Pass == PassOpenCircuit
	}
	return false
}

func isCheckError(err error) bool {
	var ce *CheckError
	return errors.As(err, &ce)
}
