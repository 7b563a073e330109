package fct

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/OpenTraceLab/OpenTraceFCT/pkg/dut"
	"go.uber.org/zap"
)

// DUT is the subset of the expander controller the passes use.
type DUT interface {
	Data(port int) (uint8, error)
	SetData(port int, mask uint8) error
	SetDirection(port int, mask uint8) error
	ClearInterrupt() error
}

// Fixture is the subset of the interposer controller the passes use.
type Fixture interface {
	ConnectPins(pin int) error
	IsolatePins() error
	HasInterrupt() (bool, error)
	WaitForInterrupt(ctx context.Context) error
}

// Progress reports the pin about to be checked.
type Progress struct {
	Pass  Pass
	Cycle int
	Pair  dut.PortPair
	Pin   dut.Pin
	Index int // 0-based position within the pass
	Total int // Checks per pass
}

// Checker runs the pin-integrity passes against a DUT through a fixture.
type Checker struct {
	DUT     DUT
	Fixture Fixture

	// InterruptTimeout bounds each open-circuit interrupt wait; zero blocks
	// until ctx ends.
	InterruptTimeout time.Duration

	// Progress, when non-nil, receives one update per pin.
	Progress chan<- Progress
	Log      *zap.Logger
	Metrics  *Metrics
}

// CheckShortCircuits runs the short-circuit pass once with default settings.
func CheckShortCircuits(ctx context.Context, d DUT, f Fixture) error {
	return (&Checker{DUT: d, Fixture: f}).CheckShortCircuits(ctx, 1)
}

// CheckOpenCircuits runs the open-circuit pass once with default settings.
func CheckOpenCircuits(ctx context.Context, d DUT, f Fixture) error {
	return (&Checker{DUT: d, Fixture: f}).CheckOpenCircuits(ctx, 1)
}

// Verify runs both passes once with default settings.
func Verify(ctx context.Context, d DUT, f Fixture) error {
	return (&Checker{DUT: d, Fixture: f}).Verify(ctx, 1)
}

func (c *Checker) log() *zap.Logger {
	if c.Log == nil {
		return zap.NewNop()
	}
	return c.Log
}

// Verify runs the short-circuit pass and then the open-circuit pass.
func (c *Checker) Verify(ctx context.Context, cycle int) error {
	if err := c.CheckShortCircuits(ctx, cycle); err != nil {
		return err
	}
	return c.CheckOpenCircuits(ctx, cycle)
}

// CheckShortCircuits drives one pin of the primary port high at a time with
// the fixture isolated. Each pin is pulled down on its own, so any other pin
// reading high, or an input change raising an interrupt, is a short.
func (c *Checker) CheckShortCircuits(ctx context.Context, cycle int) error {
	c.log().Info("checking I/O for short circuits", zap.Int("cycle", cycle))
	return c.forEachPin(ctx, PassShortCircuit, cycle, c.checkShort)
}

// CheckOpenCircuits connects one pin pair at a time through the fixture
// switches. Driving the primary pin high must reach the secondary pin and
// raise an interrupt on the change.
func (c *Checker) CheckOpenCircuits(ctx context.Context, cycle int) error {
	c.log().Info("checking I/O for open circuits", zap.Int("cycle", cycle))
	return c.forEachPin(ctx, PassOpenCircuit, cycle, c.checkOpen)
}

type pinCheck func(ctx context.Context, fail failFunc, pp dut.PortPair, pin dut.Pin) error

type failFunc func(check string, want, got uint8) error

func (c *Checker) forEachPin(ctx context.Context, pass Pass, cycle int, check pinCheck) error {
	pairs, pins := dut.Ports(), dut.Pins()
	total := len(pairs) * len(pins)
	index := 0

	for _, pp := range pairs {
		for _, pin := range pins {
			if err := ctx.Err(); err != nil {
				return err
			}
			if c.Progress != nil {
				select {
				case c.Progress <- Progress{Pass: pass, Cycle: cycle, Pair: pp, Pin: pin, Index: index, Total: total}:
				case <-ctx.Done():
					return ctx.Err()
				}
			}

			fail := func(name string, want, got uint8) error {
				return &CheckError{
					Pass:      pass,
					Cycle:     cycle,
					Primary:   pp.Primary,
					Secondary: pp.Secondary,
					Pin:       pin.Index,
					Check:     name,
					Want:      want,
					Got:       got,
				}
			}

			err := check(ctx, fail, pp, pin)
			c.Metrics.ObserveCheck(pass, err)

			var checkErr *CheckError
			switch {
			case err == nil:
			case errors.As(err, &checkErr):
				c.log().Warn("check failed",
					zap.String("pass", string(pass)),
					zap.Int("primary", pp.Primary),
					zap.Int("pin", pin.Index),
					zap.String("check", checkErr.Check))
				return err
			case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
				return err
			default:
				return fmt.Errorf("fct: %s check GP%d->GP%d pin %d: %w", pass, pp.Primary, pp.Secondary, pin.Index, err)
			}
			index++
		}
	}
	return nil
}

// quiesce isolates the fixture, makes the secondary port all inputs, leaves
// only the pin under test as an output on the primary port and drives it low.
func (c *Checker) quiesce(pp dut.PortPair, pin dut.Pin) error {
	if err := c.Fixture.IsolatePins(); err != nil {
		return err
	}
	if err := c.DUT.SetDirection(pp.Secondary, 0xff); err != nil {
		return err
	}
	if err := c.DUT.SetDirection(pp.Primary, ^pin.Mask); err != nil {
		return err
	}
	return c.DUT.SetData(pp.Primary, 0x00)
}

func (c *Checker) checkData(fail failFunc, pp dut.PortPair, wantPrimary, wantSecondary uint8) error {
	got, err := c.DUT.Data(pp.Primary)
	if err != nil {
		return err
	}
	if got != wantPrimary {
		return fail(CheckPrimary, wantPrimary, got)
	}
	got, err = c.DUT.Data(pp.Secondary)
	if err != nil {
		return err
	}
	if got != wantSecondary {
		return fail(CheckSecondary, wantSecondary, got)
	}
	return nil
}

func (c *Checker) checkShort(ctx context.Context, fail failFunc, pp dut.PortPair, pin dut.Pin) error {
	if err := c.quiesce(pp, pin); err != nil {
		return err
	}
	if err := c.DUT.ClearInterrupt(); err != nil {
		return err
	}
	if err := c.DUT.SetData(pp.Primary, pin.Mask); err != nil {
		return err
	}

	irq, err := c.Fixture.HasInterrupt()
	if err != nil {
		return err
	}
	if irq {
		return fail(CheckInterrupt, 0, 1)
	}
	return c.checkData(fail, pp, pin.Mask, 0x00)
}

func (c *Checker) checkOpen(ctx context.Context, fail failFunc, pp dut.PortPair, pin dut.Pin) error {
	if err := c.quiesce(pp, pin); err != nil {
		return err
	}
	if err := c.Fixture.ConnectPins(pin.Index); err != nil {
		return err
	}
	if err := c.DUT.ClearInterrupt(); err != nil {
		return err
	}
	if err := c.DUT.SetData(pp.Primary, pin.Mask); err != nil {
		return err
	}

	if err := c.waitForInterrupt(ctx); err != nil {
		if ctx.Err() == nil && c.InterruptTimeout > 0 && errors.Is(err, context.DeadlineExceeded) {
			return fail(CheckInterrupt, 1, 0)
		}
		return err
	}
	return c.checkData(fail, pp, pin.Mask, pin.Mask)
}

func (c *Checker) waitForInterrupt(ctx context.Context) error {
	if c.InterruptTimeout <= 0 {
		return c.Fixture.WaitForInterrupt(ctx)
	}
	wctx, cancel := context.WithTimeout(ctx, c.InterruptTimeout)
	defer cancel()
	return c.Fixture.WaitForInterrupt(wctx)
}
