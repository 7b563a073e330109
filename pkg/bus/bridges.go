package bus

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/gousb"
)

// BridgeKind names a family of I2C/GPIO bridges. Usable kinds double as the
// value of the fct --adapter flag.
type BridgeKind string

const (
	BridgeMCP2221   BridgeKind = "mcp2221"
	BridgeAardvark  BridgeKind = "aardvark"
	BridgeSimulator BridgeKind = "simulator"
)

// Bridge is one bridge found on the host.
type Bridge struct {
	Kind BridgeKind
	Name string
	// USB location and identifiers, zero for the simulator.
	BusNum, Address int
	VID, PID        uint16
	// Unusable says why fct cannot drive the bridge; empty when it can.
	Unusable string
	Note     string
}

// Usable reports whether fct has a backend for the bridge.
func (b Bridge) Usable() bool { return b.Unusable == "" }

// Location formats the USB position, or "-" for virtual bridges.
func (b Bridge) Location() string {
	if b.VID == 0 && b.PID == 0 {
		return "-"
	}
	return fmt.Sprintf("usb %03d/%03d %04X:%04X", b.BusNum, b.Address, b.VID, b.PID)
}

func (b Bridge) String() string {
	s := fmt.Sprintf("%s at %s", b.Name, b.Location())
	if !b.Usable() {
		s += ": " + b.Unusable
	}
	return s
}

type usbID struct{ vid, pid uint16 }

type bridgeModel struct {
	kind     BridgeKind
	name     string
	unusable string
	note     string
}

var bridgeModels = map[usbID]bridgeModel{
	{VendorIDMicrochip, ProductIDMCP2221}: {
		kind: BridgeMCP2221,
		name: "Microchip MCP2221A USB-I2C/GPIO",
		note: "4 GP pins; the stock fixture needs 5 lines (see fct run --gp-lines)",
	},
	{0x0403, 0xE0D0}: {
		kind:     BridgeAardvark,
		name:     "Total Phase Aardvark I2C/SPI",
		unusable: "driven only through the closed-source Total Phase library, which fct does not link",
	},
}

// simulatorBridge is always present so the sequence can run without hardware.
var simulatorBridge = Bridge{
	Kind: BridgeSimulator,
	Name: "Simulated bench",
	Note: "fault injection with --scenario",
}

// FindBridges lists the known bridges attached over USB, followed by the
// simulator. Missing permission to open a device does not fail the scan.
func FindBridges(ctx context.Context) ([]Bridge, error) {
	usb := gousb.NewContext()
	defer usb.Close()

	var found []Bridge
	_, err := usb.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		if ctx.Err() != nil {
			return false
		}
		if b, ok := identifyBridge(desc); ok {
			found = append(found, b)
		}
		return false
	})
	if err != nil && !errors.Is(err, gousb.ErrorAccess) {
		return found, fmt.Errorf("bus: usb scan: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return found, err
	}
	return append(found, simulatorBridge), nil
}

func identifyBridge(desc *gousb.DeviceDesc) (Bridge, bool) {
	id := usbID{uint16(desc.Vendor), uint16(desc.Product)}
	m, ok := bridgeModels[id]
	if !ok {
		return Bridge{}, false
	}
	return Bridge{
		Kind:     m.kind,
		Name:     m.name,
		BusNum:   desc.Bus,
		Address:  desc.Address,
		VID:      id.vid,
		PID:      id.pid,
		Unusable: m.unusable,
		Note:     m.note,
	}, true
}
