package bench

import (
	"bytes"
	"errors"
	"testing"

	"github.com/OpenTraceLab/OpenTraceFCT/pkg/bus"
	"github.com/OpenTraceLab/OpenTraceFCT/pkg/psu"
)

const addr = 0x20

func newTestBench(t *testing.T, sc *Scenario) (*Bench, *bus.SimAdapter) {
	t.Helper()
	sim := bus.NewSimAdapter(bus.AdapterInfo{Name: "bench"})
	b, err := New(sim, addr, sc, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	// Interposer select lines are outputs, as the fixture configures them.
	sim.SetGPIODirection(lineA0 | lineA1 | lineA2)
	return b, sim
}

func mustWrite(t *testing.T, sim *bus.SimAdapter, data ...byte) {
	t.Helper()
	if err := sim.Write(addr, data); err != nil {
		t.Fatalf("Write(% X) failed: %v", data, err)
	}
}

func mustRead(t *testing.T, sim *bus.SimAdapter, reg uint8) uint8 {
	t.Helper()
	v, err := sim.ReadRegister(addr, reg, 1)
	if err != nil {
		t.Fatalf("ReadRegister(0x%02x) failed: %v", reg, err)
	}
	return v[0]
}

// closeSwitch selects the switch for pin (leads reversed) and powers it.
func closeSwitch(sim *bus.SimAdapter, pin int) {
	s := pin ^ 0x7
	var out uint8
	for bit, line := range []uint8{lineA0, lineA1, lineA2} {
		if s&(1<<uint(bit)) != 0 {
			out |= line
		}
	}
	sim.SetGPIO(out)
	sim.SetTargetPower(true)
}

func TestPowerOnRegisters(t *testing.T) {
	_, sim := newTestBench(t, nil)

	got, err := sim.ReadRegister(addr, regIODIR, 2)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, []byte{0xff, 0xff}) {
		t.Errorf("IODIR = % X, want FF FF", got)
	}
	if v := mustRead(t, sim, regGP); v != 0 {
		t.Errorf("GP0 = 0x%02x, want pulled down", v)
	}
}

func TestRegisterPairAccess(t *testing.T) {
	_, sim := newTestBench(t, nil)

	mustWrite(t, sim, regIODIR, 0x0f, 0xf0)
	if v := mustRead(t, sim, regIODIR+1); v != 0xf0 {
		t.Errorf("IODIR1 = 0x%02x, want 0xf0", v)
	}
	got, _ := sim.ReadRegister(addr, regIODIR+1, 2)
	if !bytes.Equal(got, []byte{0xf0, 0x0f}) {
		t.Errorf("pair read from IODIR1 = % X, want F0 0F", got)
	}

	mustWrite(t, sim, regIOCON, 0xff)
	if v := mustRead(t, sim, regIOCON); v != 0x01 {
		t.Errorf("IOCON0 = 0x%02x, want only IARES kept", v)
	}
}

func TestOutputsAndPolarity(t *testing.T) {
	_, sim := newTestBench(t, nil)

	mustWrite(t, sim, regIODIR, 0xf0) // GP0 low nibble outputs
	mustWrite(t, sim, regGP, 0x05)
	if v := mustRead(t, sim, regGP); v != 0x05 {
		t.Errorf("GP0 = 0x%02x, want 0x05", v)
	}
	if v := mustRead(t, sim, regOLAT); v != 0x05 {
		t.Errorf("OLAT0 = 0x%02x, want 0x05", v)
	}

	// Inverting inputs only.
	mustWrite(t, sim, regIPOL, 0x81)
	if v := mustRead(t, sim, regGP); v != 0x85 {
		t.Errorf("GP0 with IPOL = 0x%02x, want 0x85", v)
	}
}

func TestInterruptOnInputChange(t *testing.T) {
	b, sim := newTestBench(t, nil)

	mustWrite(t, sim, regIODIR, 0xf7) // GP0.3 output
	mustWrite(t, sim, regIODIR+1, 0xff)
	closeSwitch(sim, 3)
	mustRead(t, sim, regINTCAP)
	mustRead(t, sim, regINTCAP+1)

	if lines, _ := sim.GetGPIO(); lines&lineINT == 0 {
		t.Fatalf("INT asserted before any change")
	}

	mustWrite(t, sim, regGP, 0x08)
	if b.Pending() != [ports]bool{false, true} {
		t.Fatalf("pending = %v, want GP1 only", b.Pending())
	}
	if lines, _ := sim.GetGPIO(); lines&lineINT != 0 {
		t.Errorf("INT not asserted after GP1.3 changed")
	}
	if v := mustRead(t, sim, regINTCAP+1); v != 0x08 {
		t.Errorf("INTCAP1 = 0x%02x, want 0x08", v)
	}
	if b.Pending()[1] {
		t.Errorf("INTCAP read did not clear the interrupt")
	}
	if v := mustRead(t, sim, regGP+1); v != 0x08 {
		t.Errorf("GP1 = 0x%02x, want 0x08 through the switch", v)
	}
}

func TestSwitchesFollowTargetPower(t *testing.T) {
	b, sim := newTestBench(t, nil)

	mustWrite(t, sim, regIODIR, 0xfe)
	mustWrite(t, sim, regGP, 0x01)
	if got := b.Levels(); got != [ports]uint8{0x01, 0x00} {
		t.Fatalf("isolated levels = %v", got)
	}

	closeSwitch(sim, 0)
	if got := b.Levels(); got != [ports]uint8{0x01, 0x01} {
		t.Errorf("connected levels = %v, want pin 0 on both ports", got)
	}

	// Another pin's switch leaves pin 0 isolated.
	closeSwitch(sim, 1)
	if got := b.Levels(); got != [ports]uint8{0x01, 0x00} {
		t.Errorf("levels with switch 1 = %v", got)
	}

	closeSwitch(sim, 0)
	sim.SetTargetPower(false)
	if got := b.Levels(); got != [ports]uint8{0x01, 0x00} {
		t.Errorf("levels after isolate = %v", got)
	}
}

func TestFaults(t *testing.T) {
	tests := []struct {
		name    string
		sc      Scenario
		connect int // -1 keeps the fixture isolated
		want    [ports]uint8
	}{
		{"short across ports", Scenario{Shorts: []Short{{PinRef{0, 0}, PinRef{1, 4}}}}, -1, [ports]uint8{0x01, 0x10}},
		{"short within port", Scenario{Shorts: []Short{{PinRef{0, 0}, PinRef{0, 1}}}}, -1, [ports]uint8{0x03, 0x00}},
		{"stuck low beats driver", Scenario{Stuck: []Stuck{{PinRef{0, 0}, "low"}}}, -1, [ports]uint8{0x00, 0x00}},
		{"stuck high", Scenario{Stuck: []Stuck{{PinRef{1, 6}, "high"}}}, -1, [ports]uint8{0x01, 0x40}},
		{"open switch", Scenario{Opens: []int{0}}, 0, [ports]uint8{0x01, 0x00}},
		{"straight leads", Scenario{Straight: true}, 0, [ports]uint8{0x01, 0x00}},
		{"straight leads mirror", Scenario{Straight: true}, 7, [ports]uint8{0x01, 0x01}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sc := tt.sc
			b, sim := newTestBench(t, &sc)
			mustWrite(t, sim, regIODIR, 0xfe)
			mustWrite(t, sim, regGP, 0x01)
			if tt.connect >= 0 {
				closeSwitch(sim, tt.connect)
			}
			if got := b.Levels(); got != tt.want {
				t.Errorf("levels = %02x, want %02x", got, tt.want)
			}
		})
	}
}

func TestAddressAndPower(t *testing.T) {
	sim := bus.NewSimAdapter(bus.AdapterInfo{})
	supply := psu.NewSimSupply()
	if _, err := New(sim, addr, nil, supply); err != nil {
		t.Fatal(err)
	}

	if _, err := sim.ReadRegister(addr, regGP, 1); !errors.Is(err, bus.ErrNACK) {
		t.Errorf("unpowered read error = %v, want ErrNACK", err)
	}
	if lines, _ := sim.GetGPIO(); lines != 0xff {
		t.Errorf("unpowered lines = 0x%02x, want 0xff", lines)
	}

	supply.SetOutput(true)
	if _, err := sim.ReadRegister(addr, regGP, 1); err != nil {
		t.Errorf("powered read failed: %v", err)
	}
	if err := sim.Write(0x21, []byte{regGP, 0}); !errors.Is(err, bus.ErrNACK) {
		t.Errorf("wrong address error = %v, want ErrNACK", err)
	}
	if _, err := sim.ReadRegister(addr, 0x20, 1); err == nil {
		t.Errorf("expected error for unknown register")
	}
}

func TestNewRejectsInvalidScenario(t *testing.T) {
	sim := bus.NewSimAdapter(bus.AdapterInfo{})
	sc := &Scenario{Opens: []int{8}}
	if _, err := New(sim, addr, sc, nil); err == nil {
		t.Fatalf("expected error")
	}
}
