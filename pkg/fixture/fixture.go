// Package fixture controls the interposer that connects or isolates the two
// expander ports, and the supply that powers it.
//
// Three adapter GPIO outputs (A0..A2) select one of eight bilateral switches.
// The switches only conduct while the adapter's target power is on, so
// target power doubles as the connect/isolate control. The expander's
// interrupt output comes back on a fourth adapter line, active low.
package fixture

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/OpenTraceLab/OpenTraceFCT/pkg/bus"
	"github.com/OpenTraceLab/OpenTraceFCT/pkg/psu"
	"github.com/jmhodges/clock"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Adapter GPIO lines used by the interposer.
const (
	LineA0  = bus.GPIOMISO // pin 5
	LineA1  = bus.GPIOSCK  // pin 7
	LineA2  = bus.GPIOMOSI // pin 8
	LineINT = bus.GPIOSS   // pin 9, active low

	// Direction drives the select lines and leaves INT as an input.
	Direction = LineA0 | LineA1 | LineA2
)

var selectLines = [3]uint8{LineA0, LineA1, LineA2}

// ErrInvalidPin is returned for pin indices outside 0..7.
var ErrInvalidPin = errors.New("fixture: invalid pin")

// Config holds the fixture supply settings.
type Config struct {
	Current float64       // Supply current limit in amperes (default: 0.50)
	Voltage float64       // Supply voltage in volts (default: 5.0)
	Settle  time.Duration // Wait after enabling the supply (default: 1s)
}

// DefaultConfig returns the supply settings for the fixture.
func DefaultConfig() *Config {
	return &Config{
		Current: 0.50,
		Voltage: 5.0,
		Settle:  time.Second,
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Current <= 0 {
		return fmt.Errorf("fixture: current must be positive, got %.3fA", c.Current)
	}
	if c.Voltage <= 0 {
		return fmt.Errorf("fixture: voltage must be positive, got %.3fV", c.Voltage)
	}
	if c.Settle < 0 {
		return fmt.Errorf("fixture: negative settle time %v", c.Settle)
	}
	return nil
}

// ReversePin compensates for the test leads being wired in reverse order.
func ReversePin(pin int) int {
	return pin ^ 0x7
}

// SelectMask returns the A0..A2 line mask that closes the switch for pin.
func SelectMask(pin int) uint8 {
	reversed := ReversePin(pin)
	var mask uint8
	for bit, line := range selectLines {
		if reversed&(1<<uint(bit)) != 0 {
			mask |= line
		}
	}
	return mask
}

// ErrUnmappedLine is returned when the adapter cannot reach a fixture line.
var ErrUnmappedLine = errors.New("fixture: line not connected")

var lineNames = []struct {
	line uint8
	name string
}{
	{LineA0, "A0"},
	{LineA1, "A1"},
	{LineA2, "A2"},
	{LineINT, "INT"},
}

// CheckLines reports the fixture lines missing from mask, and the switch
// power when power is false.
func CheckLines(mask uint8, power bool) error {
	var missing []string
	for _, l := range lineNames {
		if mask&l.line == 0 {
			missing = append(missing, l.name)
		}
	}
	if !power {
		missing = append(missing, "switch power")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrUnmappedLine, strings.Join(missing, ", "))
	}
	return nil
}

// Controller drives the interposer.
type Controller struct {
	adapter bus.Adapter
	supply  psu.Supply
	log     *zap.Logger
}

// New configures the adapter lines, powers the fixture and waits for it to
// settle on clk.
func New(adapter bus.Adapter, supply psu.Supply, cfg *Config, clk clock.Clock, log *zap.Logger) (*Controller, error) {
	if adapter == nil {
		return nil, fmt.Errorf("fixture: adapter is nil")
	}
	if supply == nil {
		return nil, fmt.Errorf("fixture: supply is nil")
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if clk == nil {
		clk = clock.New()
	}
	if log == nil {
		log = zap.NewNop()
	}

	info, err := adapter.Info()
	if err != nil {
		return nil, fmt.Errorf("fixture: adapter info: %w", err)
	}
	if info.GPIOMask != 0 {
		if err := CheckLines(info.GPIOMask, info.HasTargetPwr); err != nil {
			return nil, fmt.Errorf("fixture: %s: %w", info.Name, err)
		}
	}

	c := &Controller{adapter: adapter, supply: supply, log: log.Named("fixture")}

	if err := adapter.SetGPIODirection(Direction); err != nil {
		return nil, fmt.Errorf("fixture: set direction: %w", bus.NewIOError("gpio direction", err))
	}
	if err := supply.SetCurrent(cfg.Current); err != nil {
		return nil, fmt.Errorf("fixture: %w", bus.NewIOError("psu set current", err))
	}
	if err := supply.SetVoltage(cfg.Voltage); err != nil {
		return nil, fmt.Errorf("fixture: %w", bus.NewIOError("psu set voltage", err))
	}
	if err := supply.SetOutput(true); err != nil {
		return nil, fmt.Errorf("fixture: %w", bus.NewIOError("psu output on", err))
	}

	c.log.Debug("waiting for DUT to settle", zap.Duration("settle", cfg.Settle))
	clk.Sleep(cfg.Settle)

	return c, nil
}

// ConnectPins closes the switch joining pin on both expander ports.
func (c *Controller) ConnectPins(pin int) error {
	if pin < 0 || pin > 7 {
		return fmt.Errorf("%w: %d", ErrInvalidPin, pin)
	}
	mask := SelectMask(pin)
	c.log.Debug("connecting GP0 and GP1", zap.Int("pin", pin), zap.Uint8("select", mask))

	if err := c.adapter.SetGPIO(mask); err != nil {
		return fmt.Errorf("fixture: connect pin %d: %w", pin, bus.NewIOError("gpio set", err))
	}
	if err := c.adapter.SetTargetPower(true); err != nil {
		return fmt.Errorf("fixture: connect pin %d: %w", pin, bus.NewIOError("target power on", err))
	}
	return nil
}

// IsolatePins opens every switch; the pins fall back to their pull-downs.
func (c *Controller) IsolatePins() error {
	c.log.Debug("isolating GP0 and GP1")
	if err := c.adapter.SetTargetPower(false); err != nil {
		return fmt.Errorf("fixture: isolate: %w", bus.NewIOError("target power off", err))
	}
	return nil
}

// HasInterrupt reports whether the expander's interrupt line is asserted.
func (c *Controller) HasInterrupt() (bool, error) {
	c.log.Debug("checking for interrupt")
	mask, err := c.adapter.GetGPIO()
	if err != nil {
		return false, fmt.Errorf("fixture: check interrupt: %w", bus.NewIOError("gpio get", err))
	}
	return mask&LineINT == 0, nil
}

// WaitForInterrupt blocks until the interrupt line is asserted or ctx is
// done. Context errors are returned unwrapped.
func (c *Controller) WaitForInterrupt(ctx context.Context) error {
	c.log.Debug("waiting for interrupt")
	mask, err := c.adapter.GetGPIO()
	if err != nil {
		return fmt.Errorf("fixture: wait for interrupt: %w", bus.NewIOError("gpio get", err))
	}
	for mask&LineINT != 0 {
		mask, err = c.adapter.WaitGPIO(ctx)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return fmt.Errorf("fixture: wait for interrupt: %w", bus.NewIOError("gpio wait", err))
		}
	}
	return nil
}

// Close isolates the pins and turns the supply output off. The supply itself
// stays open.
func (c *Controller) Close() error {
	err := c.IsolatePins()
	if perr := c.supply.SetOutput(false); perr != nil {
		err = multierr.Append(err, fmt.Errorf("fixture: %w", bus.NewIOError("psu output off", perr)))
	}
	return err
}
