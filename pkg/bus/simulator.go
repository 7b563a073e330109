package bus

import (
	"context"
	"fmt"
)

// TxKind identifies the kind of a recorded adapter transaction.
type TxKind uint8

const (
	TxRead TxKind = iota
	TxWrite
	TxDirection
	TxSetGPIO
	TxGetGPIO
	TxWaitGPIO
	TxTargetPower
)

func (k TxKind) String() string {
	switch k {
	case TxRead:
		return "read"
	case TxWrite:
		return "write"
	case TxDirection:
		return "direction"
	case TxSetGPIO:
		return "gpio-set"
	case TxGetGPIO:
		return "gpio-get"
	case TxWaitGPIO:
		return "gpio-wait"
	case TxTargetPower:
		return "target-power"
	}
	return fmt.Sprintf("TxKind(%d)", uint8(k))
}

// Transaction captures one adapter call for inspection within tests.
type Transaction struct {
	Kind TxKind
	Addr uint8
	Reg  uint8
	Data []byte
}

// ReadHook lets a simulation answer register reads.
type ReadHook func(addr, reg uint8, n int) ([]byte, error)

// WriteHook lets a simulation observe register writes. data[0] is the
// register pointer.
type WriteHook func(addr uint8, data []byte) error

// SenseHook returns the level of every GPIO line given the driven outputs,
// the direction mask and the target power state.
type SenseHook func(out, dir uint8, power bool) uint8

// SimAdapter is an in-memory adapter useful for unit tests. Without hooks it
// behaves as a plain register file per address and reports Sensed on its
// input lines.
type SimAdapter struct {
	InfoData   AdapterInfo
	BitrateKHz int
	Pullups    bool
	Direction  uint8
	Output     uint8
	Power      bool

	// Sensed is the input level used when OnSense is nil. Lines read high
	// by default.
	Sensed uint8

	OnRead  ReadHook
	OnWrite WriteHook
	OnSense SenseHook

	// Fail, when non-nil, is returned by every bus transaction.
	Fail error
	// FailOn is consulted before every transaction; a non-nil result fails it.
	FailOn func(tx Transaction) error

	regs     map[uint8]*[256]byte
	log      []Transaction
	lastSeen uint8
	closed   bool
}

// NewSimAdapter constructs a simulator configured with the provided AdapterInfo.
func NewSimAdapter(info AdapterInfo) *SimAdapter {
	return &SimAdapter{
		InfoData: info,
		Sensed:   0xff,
		regs:     make(map[uint8]*[256]byte),
		lastSeen: 0xff,
	}
}

// Transactions returns a copy of the transaction log.
func (s *SimAdapter) Transactions() []Transaction {
	out := make([]Transaction, len(s.log))
	copy(out, s.log)
	return out
}

// ResetTransactions clears the transaction log.
func (s *SimAdapter) ResetTransactions() {
	s.log = s.log[:0]
}

// Count reports how many logged transactions match kind, addr and reg. A
// negative reg matches any register.
func (s *SimAdapter) Count(kind TxKind, addr uint8, reg int) int {
	n := 0
	for _, tx := range s.log {
		if tx.Kind != kind || tx.Addr != addr {
			continue
		}
		if reg >= 0 && int(tx.Reg) != reg {
			continue
		}
		n++
	}
	return n
}

// Register returns the fallback register file value.
func (s *SimAdapter) Register(addr, reg uint8) uint8 {
	if f, ok := s.regs[addr]; ok {
		return f[reg]
	}
	return 0
}

// SetRegister seeds the fallback register file.
func (s *SimAdapter) SetRegister(addr, reg, val uint8) {
	s.file(addr)[reg] = val
}

func (s *SimAdapter) file(addr uint8) *[256]byte {
	f, ok := s.regs[addr]
	if !ok {
		f = new([256]byte)
		s.regs[addr] = f
	}
	return f
}

func (s *SimAdapter) record(tx Transaction) error {
	s.log = append(s.log, tx)
	if s.closed {
		return fmt.Errorf("bus: adapter closed")
	}
	if s.Fail != nil {
		return s.Fail
	}
	if s.FailOn != nil {
		return s.FailOn(tx)
	}
	return nil
}

func (s *SimAdapter) Info() (AdapterInfo, error) {
	return s.InfoData, nil
}

func (s *SimAdapter) SetBitrate(khz int) (int, error) {
	if khz <= 0 {
		return 0, fmt.Errorf("bus: invalid bitrate %dkHz", khz)
	}
	s.BitrateKHz = khz
	return khz, nil
}

func (s *SimAdapter) SetPullups(enable bool) error {
	s.Pullups = enable
	return nil
}

func (s *SimAdapter) ReadRegister(addr, reg uint8, n int) ([]byte, error) {
	if err := ValidateTransfer(addr, n); err != nil {
		return nil, err
	}
	if err := s.record(Transaction{Kind: TxRead, Addr: addr, Reg: reg}); err != nil {
		return nil, err
	}
	if s.OnRead != nil {
		return s.OnRead(addr, reg, n)
	}
	f := s.file(addr)
	out := make([]byte, n)
	for i := range out {
		out[i] = f[(int(reg)+i)&0xff]
	}
	return out, nil
}

func (s *SimAdapter) Write(addr uint8, data []byte) error {
	if err := ValidateTransfer(addr, len(data)); err != nil {
		return err
	}
	tx := Transaction{Kind: TxWrite, Addr: addr, Reg: data[0], Data: append([]byte(nil), data[1:]...)}
	if err := s.record(tx); err != nil {
		return err
	}
	if s.OnWrite != nil {
		return s.OnWrite(addr, data)
	}
	f := s.file(addr)
	for i, b := range data[1:] {
		f[(int(data[0])+i)&0xff] = b
	}
	return nil
}

func (s *SimAdapter) SetGPIODirection(mask uint8) error {
	if err := s.record(Transaction{Kind: TxDirection, Data: []byte{mask}}); err != nil {
		return err
	}
	s.Direction = mask
	return nil
}

func (s *SimAdapter) SetGPIO(mask uint8) error {
	if err := s.record(Transaction{Kind: TxSetGPIO, Data: []byte{mask}}); err != nil {
		return err
	}
	s.Output = mask
	return nil
}

func (s *SimAdapter) GetGPIO() (uint8, error) {
	if err := s.record(Transaction{Kind: TxGetGPIO}); err != nil {
		return 0, err
	}
	s.lastSeen = s.levels()
	return s.lastSeen, nil
}

// WaitGPIO returns immediately when the lines differ from the last value
// reported. Otherwise nothing in the simulation can change them, so it blocks
// until ctx is done.
func (s *SimAdapter) WaitGPIO(ctx context.Context) (uint8, error) {
	if err := s.record(Transaction{Kind: TxWaitGPIO}); err != nil {
		return 0, err
	}
	if cur := s.levels(); cur != s.lastSeen {
		s.lastSeen = cur
		return cur, nil
	}
	<-ctx.Done()
	return 0, ctx.Err()
}

func (s *SimAdapter) SetTargetPower(on bool) error {
	v := byte(0)
	if on {
		v = 1
	}
	if err := s.record(Transaction{Kind: TxTargetPower, Data: []byte{v}}); err != nil {
		return err
	}
	s.Power = on
	return nil
}

func (s *SimAdapter) Close() error {
	s.closed = true
	return nil
}

// levels merges driven outputs with sensed inputs.
func (s *SimAdapter) levels() uint8 {
	sensed := s.Sensed
	if s.OnSense != nil {
		sensed = s.OnSense(s.Output, s.Direction, s.Power)
	}
	return (s.Output & s.Direction) | (sensed &^ s.Direction)
}

var _ Adapter = (*SimAdapter)(nil)
