package bus

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jpillora/backoff"
)

// ReportTransport exchanges fixed-size HID reports with a bridge.
type ReportTransport interface {
	WriteRead(cmd []byte) ([]byte, error)
	Close() error
}

// LineMap assigns an adapter GPIO bit (GPIOMISO, GPIOSS, ...) to each GP pin.
// A zero entry leaves the pin unused.
type LineMap [GPCount]uint8

// DefaultLineMap puts the four Aardvark SPI lines on GP0..GP3.
var DefaultLineMap = LineMap{GPIOMISO, GPIOSCK, GPIOMOSI, GPIOSS}

var lineNames = map[string]uint8{
	"scl":  GPIOSCL,
	"sda":  GPIOSDA,
	"miso": GPIOMISO,
	"sck":  GPIOSCK,
	"mosi": GPIOMOSI,
	"ss":   GPIOSS,
	"none": 0,
	"-":    0,
}

// MCP2221Config selects how adapter GPIO lines land on the bridge pins.
type MCP2221Config struct {
	Lines LineMap
	// PowerGP is the GP pin switched by SetTargetPower, -1 when none. Its
	// Lines entry must be zero.
	PowerGP int
	// Retries bounds how often a busy I2C engine is polled per transfer.
	Retries int
}

// DefaultMCP2221Config returns the Aardvark-compatible line layout without a
// target power line.
func DefaultMCP2221Config() MCP2221Config {
	return MCP2221Config{
		Lines:   DefaultLineMap,
		PowerGP: -1,
		Retries: 20,
	}
}

// ParseMCP2221Lines parses a GP0..GP3 assignment such as
// "miso,sck,mosi,power". Each entry is an adapter line name (scl, sda, miso,
// sck, mosi, ss), "power" for the target power switch, or "none".
func ParseMCP2221Lines(s string) (MCP2221Config, error) {
	cfg := DefaultMCP2221Config()
	fields := strings.Split(s, ",")
	if len(fields) != GPCount {
		return cfg, fmt.Errorf("bus: line map %q: want %d entries, got %d", s, GPCount, len(fields))
	}
	for i, f := range fields {
		name := strings.ToLower(strings.TrimSpace(f))
		if name == "power" {
			if cfg.PowerGP >= 0 {
				return cfg, fmt.Errorf("bus: line map %q: power assigned twice", s)
			}
			cfg.PowerGP = i
			cfg.Lines[i] = 0
			continue
		}
		line, ok := lineNames[name]
		if !ok {
			return cfg, fmt.Errorf("bus: line map %q: unknown line %q", s, f)
		}
		cfg.Lines[i] = line
	}
	return cfg, cfg.Validate()
}

// Validate rejects maps that put two functions on one GP pin or one line on
// two pins.
func (c MCP2221Config) Validate() error {
	if c.PowerGP < -1 || c.PowerGP >= GPCount {
		return fmt.Errorf("bus: power GP%d out of range", c.PowerGP)
	}
	if c.PowerGP >= 0 && c.Lines[c.PowerGP] != 0 {
		return fmt.Errorf("bus: GP%d carries both target power and line 0x%02X", c.PowerGP, c.Lines[c.PowerGP])
	}
	var seen uint8
	for i, line := range c.Lines {
		if line == 0 {
			continue
		}
		if line&(line-1) != 0 {
			return fmt.Errorf("bus: GP%d maps several lines (0x%02X)", i, line)
		}
		if seen&line != 0 {
			return fmt.Errorf("bus: line 0x%02X mapped to more than one GP pin", line)
		}
		seen |= line
	}
	return nil
}

// Mapped returns the adapter lines that reach a GP pin.
func (c MCP2221Config) Mapped() uint8 {
	var mask uint8
	for _, line := range c.Lines {
		mask |= line
	}
	return mask
}

// MCP2221Adapter implements the Adapter interface for Microchip MCP2221A
// USB-HID bridges.
type MCP2221Adapter struct {
	transport ReportTransport
	protocol  *MCP2221Protocol
	cfg       MCP2221Config

	info       AdapterInfo
	bitrateKHz int
	dir        uint8 // adapter mask, bit set = output
	out        uint8
	lastSeen   uint8
	poll       *backoff.Backoff
	retryDelay time.Duration

	mu sync.Mutex
}

// NewMCP2221Adapter opens the first MCP2221A on the USB bus.
func NewMCP2221Adapter(cfg MCP2221Config) (*MCP2221Adapter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	transport, err := NewUSBTransport(VendorIDMicrochip, ProductIDMCP2221)
	if err != nil {
		return nil, fmt.Errorf("failed to open USB device: %w", err)
	}

	adapter, err := NewMCP2221AdapterWithTransport(transport, cfg)
	if err != nil {
		transport.Close()
		return nil, err
	}
	return adapter, nil
}

// NewMCP2221AdapterWithTransport builds an adapter on an already open
// transport and puts every mapped pin into input mode.
func NewMCP2221AdapterWithTransport(t ReportTransport, cfg MCP2221Config) (*MCP2221Adapter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Retries <= 0 {
		cfg.Retries = 20
	}

	a := &MCP2221Adapter{
		transport: t,
		protocol:  NewMCP2221Protocol(),
		cfg:       cfg,
		poll: &backoff.Backoff{
			Min:    time.Millisecond,
			Max:    50 * time.Millisecond,
			Factor: 2,
		},
		retryDelay: 300 * time.Microsecond,
		info: AdapterInfo{
			Name:          "MCP2221A",
			Vendor:        "Microchip",
			Model:         "MCP2221A",
			MinBitrateKHz: 47,
			MaxBitrateKHz: 400,
			GPIOLines:     GPCount,
			HasPullups:    false,
			HasTargetPwr:  cfg.PowerGP >= 0,
		},
	}

	if _, err := a.status(); err != nil {
		return nil, fmt.Errorf("failed to query status: %w", err)
	}
	if err := a.applyGPIO(true, true); err != nil {
		return nil, fmt.Errorf("failed to configure GPIO: %w", err)
	}
	return a, nil
}

// Info returns adapter capabilities
func (a *MCP2221Adapter) Info() (AdapterInfo, error) {
	return a.info, nil
}

func (a *MCP2221Adapter) status() (MCP2221Status, error) {
	resp, err := a.transport.WriteRead(a.protocol.EncodeStatus())
	if err != nil {
		return MCP2221Status{}, err
	}
	return a.protocol.DecodeStatus(resp)
}

// SetBitrate sets the I2C clock divider.
func (a *MCP2221Adapter) SetBitrate(khz int) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	cmd, actual, err := a.protocol.EncodeSetBitrate(khz)
	if err != nil {
		return 0, err
	}
	resp, err := a.transport.WriteRead(cmd)
	if err != nil {
		return 0, fmt.Errorf("set bitrate failed: %w", err)
	}
	st, err := a.protocol.DecodeStatus(resp)
	if err != nil {
		return 0, err
	}
	if st.SpeedSetup == 0x21 {
		return 0, fmt.Errorf("set bitrate rejected: transfer in progress")
	}
	a.bitrateKHz = actual
	return actual, nil
}

// SetPullups is not possible on the MCP2221A; SCL/SDA need external pull-ups.
func (a *MCP2221Adapter) SetPullups(bool) error {
	return ErrNotImplemented
}

// ReadRegister writes the register pointer without a stop, then reads n bytes
// with a repeated start.
func (a *MCP2221Adapter) ReadRegister(addr, reg uint8, n int) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.write(addr, []byte{reg}, false); err != nil {
		return nil, err
	}

	cmd, err := a.protocol.EncodeI2CRead(addr, n)
	if err != nil {
		return nil, err
	}
	resp, err := a.transport.WriteRead(cmd)
	if err != nil {
		return nil, fmt.Errorf("read request failed: %w", err)
	}
	if err := a.protocol.DecodeI2CAck(CmdI2CReadRepStart, resp); err != nil {
		return nil, a.recover(err)
	}

	for i := 0; i < a.cfg.Retries; i++ {
		resp, err := a.transport.WriteRead(a.protocol.EncodeI2CGetData())
		if err != nil {
			return nil, fmt.Errorf("get data failed: %w", err)
		}
		data, retry, err := a.protocol.DecodeI2CGetData(resp, n)
		if err != nil {
			return nil, a.recover(err)
		}
		if !retry {
			return data, nil
		}
		time.Sleep(a.retryDelay)
	}
	return nil, a.recover(fmt.Errorf("read from 0x%02x: too many retries", addr))
}

// Write sends data (register pointer first) followed by a stop.
func (a *MCP2221Adapter) Write(addr uint8, data []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.write(addr, data, true)
}

func (a *MCP2221Adapter) write(addr uint8, data []byte, stop bool) error {
	cmd, err := a.protocol.EncodeI2CWrite(addr, data, stop)
	if err != nil {
		return err
	}
	resp, err := a.transport.WriteRead(cmd)
	if err != nil {
		return fmt.Errorf("write request failed: %w", err)
	}
	if err := a.protocol.DecodeI2CAck(cmd[0], resp); err != nil {
		return a.recover(err)
	}

	// Wait for the engine to drain the payload.
	for i := 0; i < a.cfg.Retries; i++ {
		st, err := a.status()
		if err != nil {
			return err
		}
		if err := i2cFailed(st.I2CState); err != nil {
			return a.recover(err)
		}
		if st.I2CState == I2CStateIdle || (!stop && st.I2CState == I2CStateWritingNoStop) {
			return nil
		}
		time.Sleep(a.retryDelay)
	}
	return a.recover(fmt.Errorf("write to 0x%02x: too many retries", addr))
}

// recover cancels a stuck transfer so the next one starts from idle, and
// returns the original error.
func (a *MCP2221Adapter) recover(cause error) error {
	if resp, err := a.transport.WriteRead(a.protocol.EncodeCancel()); err == nil {
		a.protocol.DecodeStatus(resp)
	}
	return cause
}

// SetGPIODirection sets the adapter lines in mask as outputs, the rest as
// inputs.
func (a *MCP2221Adapter) SetGPIODirection(mask uint8) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.dir = mask
	return a.applyGPIO(false, true)
}

// SetGPIO drives the output lines.
func (a *MCP2221Adapter) SetGPIO(mask uint8) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.out = mask
	return a.applyGPIO(true, false)
}

// GetGPIO returns the level of every mapped line.
func (a *MCP2221Adapter) GetGPIO() (uint8, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	mask, err := a.readGPIO()
	if err != nil {
		return 0, err
	}
	a.lastSeen = mask
	return mask, nil
}

// WaitGPIO polls the pins until they differ from the last reported value.
// The bridge has no change notification, so polling backs off up to 50ms.
func (a *MCP2221Adapter) WaitGPIO(ctx context.Context) (uint8, error) {
	a.poll.Reset()
	for {
		a.mu.Lock()
		mask, err := a.readGPIO()
		changed := err == nil && mask != a.lastSeen
		if changed {
			a.lastSeen = mask
		}
		a.mu.Unlock()

		if err != nil {
			return 0, err
		}
		if changed {
			return mask, nil
		}

		timer := time.NewTimer(a.poll.Duration())
		select {
		case <-ctx.Done():
			timer.Stop()
			return 0, ctx.Err()
		case <-timer.C:
		}
	}
}

// SetTargetPower switches the GP pin configured as PowerGP.
func (a *MCP2221Adapter) SetTargetPower(on bool) error {
	if a.cfg.PowerGP < 0 {
		return ErrNotImplemented
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	var updates [GPCount]GPIOUpdate
	updates[a.cfg.PowerGP] = GPIOUpdate{AlterValue: true, High: on, AlterDir: true}
	resp, err := a.transport.WriteRead(a.protocol.EncodeGPIOSet(updates))
	if err != nil {
		return fmt.Errorf("set target power failed: %w", err)
	}
	return a.protocol.DecodeGPIOSet(resp)
}

// Close releases the transport.
func (a *MCP2221Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.transport.Close()
}

func (a *MCP2221Adapter) applyGPIO(values, dirs bool) error {
	var updates [GPCount]GPIOUpdate
	for i, line := range a.cfg.Lines {
		if line == 0 {
			continue
		}
		output := a.dir&line != 0
		updates[i] = GPIOUpdate{
			AlterValue: values && output,
			High:       a.out&line != 0,
			AlterDir:   dirs,
			Input:      !output,
		}
	}
	resp, err := a.transport.WriteRead(a.protocol.EncodeGPIOSet(updates))
	if err != nil {
		return fmt.Errorf("GPIO set failed: %w", err)
	}
	return a.protocol.DecodeGPIOSet(resp)
}

func (a *MCP2221Adapter) readGPIO() (uint8, error) {
	resp, err := a.transport.WriteRead(a.protocol.EncodeGPIOGet())
	if err != nil {
		return 0, fmt.Errorf("GPIO get failed: %w", err)
	}
	st, err := a.protocol.DecodeGPIOGet(resp)
	if err != nil {
		return 0, err
	}
	var mask uint8
	for i, line := range a.cfg.Lines {
		if line == 0 {
			continue
		}
		if st.GPIO&(1<<i) == 0 {
			return 0, fmt.Errorf("GP%d is not in GPIO mode", i)
		}
		if st.Level&(1<<i) != 0 {
			mask |= line
		}
	}
	return mask, nil
}

var _ Adapter = (*MCP2221Adapter)(nil)
