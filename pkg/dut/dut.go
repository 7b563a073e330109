package dut

import (
	"errors"
	"fmt"

	"github.com/OpenTraceLab/OpenTraceFCT/pkg/bus"
	"go.uber.org/zap"
)

// MCP23016 register bases; add the port index to address a port.
const (
	RegGP     uint8 = 0x00
	RegOLAT   uint8 = 0x02
	RegIPOL   uint8 = 0x04
	RegIODIR  uint8 = 0x06
	RegINTCAP uint8 = 0x08
	RegIOCON  uint8 = 0x0A
)

// ErrInvalidPort is returned for port indices outside 0..NumberOfPorts-1.
var ErrInvalidPort = errors.New("dut: invalid port")

// Controller performs register operations on the expander.
type Controller struct {
	adapter bus.Adapter
	cfg     Config
	log     *zap.Logger
}

// New configures the adapter's bitrate and pull-ups for the expander. Adapters
// without switchable pull-ups are accepted.
func New(adapter bus.Adapter, cfg *Config, log *zap.Logger) (*Controller, error) {
	if adapter == nil {
		return nil, fmt.Errorf("dut: adapter is nil")
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}

	c := &Controller{adapter: adapter, cfg: *cfg, log: log.Named("dut")}

	khz, err := adapter.SetBitrate(cfg.BitrateKHz)
	if err != nil {
		return nil, fmt.Errorf("dut: set bitrate: %w", bus.NewIOError("set bitrate", err))
	}
	c.log.Debug("bitrate set", zap.Int("requested_khz", cfg.BitrateKHz), zap.Int("actual_khz", khz))

	if err := adapter.SetPullups(cfg.Pullups); err != nil {
		if !errors.Is(err, bus.ErrNotImplemented) {
			return nil, fmt.Errorf("dut: set pull-ups: %w", bus.NewIOError("set pull-ups", err))
		}
		c.log.Warn("adapter cannot switch I2C pull-ups", zap.Bool("requested", cfg.Pullups))
	}

	return c, nil
}

// Address returns the expander's bus address.
func (c *Controller) Address() uint8 {
	return c.cfg.Address
}

func checkPort(port int) error {
	if port < 0 || port >= NumberOfPorts {
		return fmt.Errorf("%w: %d", ErrInvalidPort, port)
	}
	return nil
}

func (c *Controller) read(base uint8, port int) (uint8, error) {
	if err := checkPort(port); err != nil {
		return 0, err
	}
	reg := base + uint8(port)
	data, err := c.adapter.ReadRegister(c.cfg.Address, reg, 1)
	if err == nil && len(data) != 1 {
		err = fmt.Errorf("short read: %d bytes", len(data))
	}
	if err != nil {
		return 0, &bus.IOError{Op: "read", Addr: int(c.cfg.Address), Reg: int(reg), Err: err}
	}
	return data[0], nil
}

func (c *Controller) write(base uint8, port int, value uint8) error {
	if err := checkPort(port); err != nil {
		return err
	}
	reg := base + uint8(port)
	if err := c.adapter.Write(c.cfg.Address, []byte{reg, value}); err != nil {
		return &bus.IOError{Op: "write", Addr: int(c.cfg.Address), Reg: int(reg), Err: err}
	}
	return nil
}

// Data reads the logic level of every pin on port.
func (c *Controller) Data(port int) (uint8, error) {
	v, err := c.read(RegGP, port)
	if err != nil {
		return 0, fmt.Errorf("dut: get data: %w", err)
	}
	c.log.Debug("get data", zap.Int("port", port), zap.Uint8("value", v))
	return v, nil
}

// SetData drives the output pins of port.
func (c *Controller) SetData(port int, mask uint8) error {
	c.log.Debug("set data", zap.Int("port", port), zap.Uint8("mask", mask))
	if err := c.write(RegGP, port, mask); err != nil {
		return fmt.Errorf("dut: set data: %w", err)
	}
	return nil
}

// Direction reads the IODIR register of port.
func (c *Controller) Direction(port int) (uint8, error) {
	v, err := c.read(RegIODIR, port)
	if err != nil {
		return 0, fmt.Errorf("dut: get direction: %w", err)
	}
	c.log.Debug("get direction", zap.Int("port", port), zap.Uint8("value", v))
	return v, nil
}

// SetDirection writes IODIR; set bits make pins inputs.
func (c *Controller) SetDirection(port int, mask uint8) error {
	c.log.Debug("set direction", zap.Int("port", port), zap.Uint8("mask", mask))
	if err := c.write(RegIODIR, port, mask); err != nil {
		return fmt.Errorf("dut: set direction: %w", err)
	}
	return nil
}

// InterruptCapture reads INTCAP, which clears a pending interrupt on port.
func (c *Controller) InterruptCapture(port int) (uint8, error) {
	v, err := c.read(RegINTCAP, port)
	if err != nil {
		return 0, fmt.Errorf("dut: get interrupt capture: %w", err)
	}
	c.log.Debug("get interrupt capture", zap.Int("port", port), zap.Uint8("value", v))
	return v, nil
}

// ClearInterrupt reads INTCAP once for every port.
func (c *Controller) ClearInterrupt() error {
	c.log.Debug("clear interrupt")
	for _, pp := range Ports() {
		if _, err := c.InterruptCapture(pp.Primary); err != nil {
			return err
		}
	}
	return nil
}
