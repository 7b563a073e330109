package psu

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/tarm/serial"
	"go.uber.org/zap"
)

// BK1785BConfig selects the serial port of a B&K Precision 1785B.
type BK1785BConfig struct {
	Port    string
	Baud    int
	Address byte
	Timeout time.Duration
}

// DefaultBK1785BConfig returns the factory serial settings.
func DefaultBK1785BConfig() BK1785BConfig {
	return BK1785BConfig{
		Port:    "/dev/ttyUSB0",
		Baud:    9600,
		Address: 0,
		Timeout: 500 * time.Millisecond,
	}
}

// BK1785B drives a 1785B series supply in remote mode.
type BK1785B struct {
	port io.ReadWriteCloser
	addr byte
	log  *zap.Logger

	mu     sync.Mutex
	closed bool
}

// OpenBK1785B opens the serial port and puts the supply into remote mode.
func OpenBK1785B(cfg BK1785BConfig, log *zap.Logger) (*BK1785B, error) {
	c := &serial.Config{Name: cfg.Port, Baud: cfg.Baud, ReadTimeout: cfg.Timeout}
	s, err := serial.OpenPort(c)
	if err != nil {
		return nil, fmt.Errorf("psu: open %s: %w", cfg.Port, err)
	}

	p := NewBK1785B(s, cfg.Address, log)
	if err := p.command(EncodeRemote(p.addr, true)); err != nil {
		s.Close()
		return nil, fmt.Errorf("psu: enable remote control: %w", err)
	}
	return p, nil
}

// NewBK1785B wraps an already open connection.
func NewBK1785B(rw io.ReadWriteCloser, addr byte, log *zap.Logger) *BK1785B {
	if log == nil {
		log = zap.NewNop()
	}
	return &BK1785B{port: rw, addr: addr, log: log.Named("bk1785b")}
}

func (p *BK1785B) transact(frame []byte) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrClosed
	}
	if _, err := p.port.Write(frame); err != nil {
		return nil, fmt.Errorf("psu: write: %w", err)
	}
	resp := make([]byte, FrameSize)
	if _, err := io.ReadFull(p.port, resp); err != nil {
		return nil, fmt.Errorf("psu: read: %w", err)
	}
	return resp, nil
}

func (p *BK1785B) command(frame []byte) error {
	resp, err := p.transact(frame)
	if err != nil {
		return err
	}
	return DecodeStatus(resp, p.addr)
}

// SetCurrent sets the current limit.
func (p *BK1785B) SetCurrent(amps float64) error {
	frame, err := EncodeCurrent(p.addr, amps)
	if err != nil {
		return err
	}
	p.log.Debug("set current", zap.Float64("amps", amps))
	return p.command(frame)
}

// SetVoltage sets the output voltage.
func (p *BK1785B) SetVoltage(volts float64) error {
	frame, err := EncodeVoltage(p.addr, volts)
	if err != nil {
		return err
	}
	p.log.Debug("set voltage", zap.Float64("volts", volts))
	return p.command(frame)
}

// SetOutput switches the output on or off.
func (p *BK1785B) SetOutput(on bool) error {
	p.log.Debug("set output", zap.Bool("on", on))
	return p.command(EncodeOutput(p.addr, on))
}

// Measure reads the present output current and voltage.
func (p *BK1785B) Measure() (Reading, error) {
	resp, err := p.transact(EncodeReadStatus(p.addr))
	if err != nil {
		return Reading{}, err
	}
	return DecodeReading(resp, p.addr)
}

// Close returns the front panel to local control and closes the port.
func (p *BK1785B) Close() error {
	if err := p.command(EncodeRemote(p.addr, false)); err != nil {
		p.log.Warn("failed to leave remote mode", zap.Error(err))
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.port.Close()
}

var _ Supply = (*BK1785B)(nil)
