package bench

import (
	"fmt"

	"github.com/OpenTraceLab/OpenTraceFCT/pkg/bus"
	"github.com/OpenTraceLab/OpenTraceFCT/pkg/psu"
)

const (
	ports       = 2
	pinsPerPort = 8
	nodes       = ports * pinsPerPort
)

// Register bases, one register per port at base+port.
const (
	regGP     = 0x00
	regOLAT   = 0x02
	regIPOL   = 0x04
	regIODIR  = 0x06
	regINTCAP = 0x08
	regIOCON  = 0x0A
)

// Interposer lines on the adapter.
const (
	lineA0  = bus.GPIOMISO
	lineA1  = bus.GPIOSCK
	lineA2  = bus.GPIOMOSI
	lineINT = bus.GPIOSS
)

// Bench is the simulated expander plus interposer. It installs itself as the
// read, write and sense hooks of a SimAdapter.
type Bench struct {
	adapter  *bus.SimAdapter
	addr     uint8
	supply   *psu.SimSupply
	scenario Scenario

	olat    [ports]uint8
	ipol    [ports]uint8
	iodir   [ports]uint8
	iocon   [ports]uint8
	intcap  [ports]uint8
	pending [ports]bool
	prev    [ports]uint8
}

// New attaches a bench answering at addr to adapter. supply may be nil, in
// which case the expander is always powered.
func New(adapter *bus.SimAdapter, addr uint8, sc *Scenario, supply *psu.SimSupply) (*Bench, error) {
	if sc == nil {
		sc = &Scenario{}
	}
	if err := sc.Validate(); err != nil {
		return nil, err
	}

	b := &Bench{
		adapter:  adapter,
		addr:     addr,
		supply:   supply,
		scenario: *sc,
	}
	b.reset()

	adapter.OnRead = b.read
	adapter.OnWrite = b.write
	adapter.OnSense = b.sense
	return b, nil
}

// reset loads the power-on register values.
func (b *Bench) reset() {
	for p := 0; p < ports; p++ {
		b.olat[p] = 0x00
		b.ipol[p] = 0x00
		b.iodir[p] = 0xff
		b.iocon[p] = 0x00
		b.intcap[p] = 0x00
		b.pending[p] = false
	}
	b.prev = b.levels()
}

func (b *Bench) powered() bool {
	return b.supply == nil || b.supply.Powered()
}

// Pending reports the interrupt latch of each port.
func (b *Bench) Pending() [ports]bool {
	return b.pending
}

// Levels returns the electrical level of every pin, evaluated now.
func (b *Bench) Levels() [ports]uint8 {
	return b.levels()
}

func (b *Bench) read(addr, reg uint8, n int) ([]byte, error) {
	if addr != b.addr || !b.powered() {
		return nil, bus.ErrNACK
	}
	if reg > regIOCON+1 {
		return nil, fmt.Errorf("bench: register 0x%02x out of range", reg)
	}

	b.update()
	out := make([]byte, n)
	for i := range out {
		// Sequential access toggles between the two registers of a pair.
		out[i] = b.readRegister(reg ^ uint8(i&1))
	}
	return out, nil
}

func (b *Bench) readRegister(reg uint8) uint8 {
	port := int(reg & 1)
	switch reg &^ 1 {
	case regGP:
		b.pending[port] = false
		return b.prev[port] ^ (b.ipol[port] & b.iodir[port])
	case regOLAT:
		return b.olat[port]
	case regIPOL:
		return b.ipol[port]
	case regIODIR:
		return b.iodir[port]
	case regINTCAP:
		b.pending[port] = false
		return b.intcap[port]
	case regIOCON:
		return b.iocon[port]
	}
	return 0
}

func (b *Bench) write(addr uint8, data []byte) error {
	if addr != b.addr || !b.powered() {
		return bus.ErrNACK
	}
	reg := data[0]
	if reg > regIOCON+1 {
		return fmt.Errorf("bench: register 0x%02x out of range", reg)
	}

	for i, v := range data[1:] {
		b.writeRegister(reg^uint8(i&1), v)
	}
	b.update()
	return nil
}

func (b *Bench) writeRegister(reg, v uint8) {
	port := int(reg & 1)
	switch reg &^ 1 {
	case regGP, regOLAT:
		b.olat[port] = v
	case regIPOL:
		b.ipol[port] = v
	case regIODIR:
		b.iodir[port] = v
	case regIOCON:
		b.iocon[port] = v & 0x01
	}
}

// sense returns the adapter's view of the interposer: INT low while any
// port has a pending interrupt, every other line pulled high.
func (b *Bench) sense(out, dir uint8, power bool) uint8 {
	if !b.powered() {
		return 0xff
	}
	b.update()
	for _, p := range b.pending {
		if p {
			return 0xff &^ lineINT
		}
	}
	return 0xff
}

// update latches interrupts for input pins that changed since the last
// evaluation.
func (b *Bench) update() {
	cur := b.levels()
	for p := 0; p < ports; p++ {
		changed := (cur[p] ^ b.prev[p]) & b.iodir[p]
		if changed != 0 && !b.pending[p] {
			b.pending[p] = true
			b.intcap[p] = cur[p] ^ (b.ipol[p] & b.iodir[p])
		}
	}
	b.prev = cur
}

// selected returns the pin whose switch the select lines address.
func (b *Bench) selected() int {
	lines := b.adapter.Output & b.adapter.Direction
	s := 0
	for bit, line := range []uint8{lineA0, lineA1, lineA2} {
		if lines&line != 0 {
			s |= 1 << uint(bit)
		}
	}
	if b.scenario.Straight {
		return s
	}
	return s ^ 0x7
}

func (b *Bench) isOpen(pin int) bool {
	for _, o := range b.scenario.Opens {
		if o == pin {
			return true
		}
	}
	return false
}

// levels resolves every net: stuck pins win, then any driver driving high,
// otherwise the pull-downs hold the net low.
func (b *Bench) levels() [ports]uint8 {
	nets := newUnionFind(nodes)
	for _, sh := range b.scenario.Shorts {
		nets.union(sh.A.node(), sh.B.node())
	}
	if b.adapter.Power {
		if pin := b.selected(); !b.isOpen(pin) {
			nets.union(PinRef{0, pin}.node(), PinRef{1, pin}.node())
		}
	}

	const (
		undriven = iota
		low
		high
	)
	var driven, stuck [nodes]int
	for n := 0; n < nodes; n++ {
		port, pin := n/pinsPerPort, n%pinsPerPort
		if b.iodir[port]&(1<<uint(pin)) != 0 {
			continue
		}
		root := nets.find(n)
		if b.olat[port]&(1<<uint(pin)) != 0 {
			driven[root] = high
		} else if driven[root] == undriven {
			driven[root] = low
		}
	}
	for _, st := range b.scenario.Stuck {
		root := nets.find(st.Pin.node())
		if st.High() {
			stuck[root] = high
		} else if stuck[root] == undriven {
			stuck[root] = low
		}
	}

	var out [ports]uint8
	for n := 0; n < nodes; n++ {
		root := nets.find(n)
		level := driven[root]
		if stuck[root] != undriven {
			level = stuck[root]
		}
		if level == high {
			out[n/pinsPerPort] |= 1 << uint(n%pinsPerPort)
		}
	}
	return out
}

type unionFind struct {
	parent []int
}

func newUnionFind(n int) *unionFind {
	uf := &unionFind{parent: make([]int, n)}
	for i := range uf.parent {
		uf.parent[i] = i
	}
	return uf
}

func (u *unionFind) find(x int) int {
	for u.parent[x] != x {
		u.parent[x] = u.parent[u.parent[x]]
		x = u.parent[x]
	}
	return x
}

func (u *unionFind) union(a, b int) {
	ra, rb := u.find(a), u.find(b)
	if ra != rb {
		u.parent[ra] = rb
	}
}
