package bus

import (
	"context"
	"errors"
	"fmt"
)

// GPIO line bits, laid out like the Aardvark 10-pin header.
const (
	GPIOSCL  uint8 = 1 << 0 // pin 1
	GPIOSDA  uint8 = 1 << 1 // pin 3
	GPIOMISO uint8 = 1 << 2 // pin 5
	GPIOSCK  uint8 = 1 << 3 // pin 7
	GPIOMOSI uint8 = 1 << 4 // pin 8
	GPIOSS   uint8 = 1 << 5 // pin 9
)

// AdapterInfo describes capabilities reported by a bus adapter implementation.
type AdapterInfo struct {
	Name          string
	Vendor        string
	Model         string
	SerialNumber  string
	Firmware      string
	MinBitrateKHz int
	MaxBitrateKHz int
	GPIOLines     int
	GPIOMask      uint8 // Lines reachable through GPIO, zero when not reported
	HasPullups    bool
	HasTargetPwr  bool
	Notes         string
}

// Adapter abstracts a physical or virtual I2C/GPIO bus adapter.
type Adapter interface {
	Info() (AdapterInfo, error)

	// SetBitrate sets the I2C clock and returns the rate actually applied.
	SetBitrate(khz int) (int, error)
	SetPullups(enable bool) error

	// ReadRegister writes reg to the device at addr and reads n bytes back
	// with a repeated start.
	ReadRegister(addr, reg uint8, n int) ([]byte, error)
	Write(addr uint8, data []byte) error

	SetGPIODirection(mask uint8) error
	SetGPIO(mask uint8) error
	GetGPIO() (uint8, error)
	// WaitGPIO blocks until the sensed GPIO lines change and returns the new
	// mask. It returns ctx.Err() once ctx is done.
	WaitGPIO(ctx context.Context) (uint8, error)

	SetTargetPower(on bool) error
	Close() error
}

// ErrNotImplemented lets backends signal that a requested capability is not
// available on this adapter.
var ErrNotImplemented = errors.New("bus: not implemented")

// ErrIO is matched by every IOError.
var ErrIO = errors.New("bus: I/O failure")

// IOError reports a failed adapter or instrument transaction.
type IOError struct {
	Op   string
	Addr int // -1 when not addressed
	Reg  int // -1 when no register is involved
	Err  error
}

// NewIOError wraps err for an operation that has no bus address.
func NewIOError(op string, err error) *IOError {
	return &IOError{Op: op, Addr: -1, Reg: -1, Err: err}
}

func (e *IOError) Error() string {
	switch {
	case e.Addr >= 0 && e.Reg >= 0:
		return fmt.Sprintf("bus: %s 0x%02x reg 0x%02x: %v", e.Op, e.Addr, e.Reg, e.Err)
	case e.Addr >= 0:
		return fmt.Sprintf("bus: %s 0x%02x: %v", e.Op, e.Addr, e.Err)
	}
	return fmt.Sprintf("bus: %s: %v", e.Op, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrIO) hold for any IOError.
func (e *IOError) Is(target error) bool { return target == ErrIO }

// ValidateTransfer checks a register transfer request before it reaches the
// wire. 7-bit addresses only.
func ValidateTransfer(addr uint8, n int) error {
	if addr > 0x7f {
		return fmt.Errorf("bus: address 0x%02x is not a 7-bit address", addr)
	}
	if n <= 0 {
		return fmt.Errorf("bus: transfer length must be positive, got %d", n)
	}
	return nil
}
