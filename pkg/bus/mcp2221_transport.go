package bus

import (
	"context"
	"fmt"
	"time"

	"github.com/google/gousb"
	"go.uber.org/multierr"
)

const (
	// MCP2221A USB identifiers
	VendorIDMicrochip = 0x04D8
	ProductIDMCP2221  = 0x00DD

	// HID reports are always 64 bytes in both directions.
	ReportSize     = 64
	DefaultTimeout = time.Second
)

// USBTransport exchanges HID reports with an MCP2221A over its interrupt
// endpoints.
type USBTransport struct {
	ctx  *gousb.Context
	dev  *gousb.Device
	cfg  *gousb.Config
	intf *gousb.Interface

	epOut *gousb.OutEndpoint
	epIn  *gousb.InEndpoint

	timeout time.Duration

	vid uint16
	pid uint16
}

// NewUSBTransport opens the first device matching vid/pid and claims its HID
// interface.
func NewUSBTransport(vid, pid uint16) (*USBTransport, error) {
	ctx := gousb.NewContext()

	dev, err := ctx.OpenDeviceWithVIDPID(gousb.ID(vid), gousb.ID(pid))
	if err != nil {
		ctx.Close()
		return nil, fmt.Errorf("USB error: %w", err)
	}
	if dev == nil {
		ctx.Close()
		return nil, fmt.Errorf("device not found (VID:0x%04X PID:0x%04X)", vid, pid)
	}

	// The kernel hid driver owns the interface on Linux. Auto-detach is
	// unsupported on some platforms; its error is kept for a failed claim.
	detachErr := dev.SetAutoDetach(true)

	transport := &USBTransport{
		ctx:     ctx,
		dev:     dev,
		timeout: DefaultTimeout,
		vid:     vid,
		pid:     pid,
	}

	if err := transport.claimInterface(); err != nil {
		dev.Close()
		ctx.Close()
		return nil, claimError(err, detachErr)
	}

	return transport, nil
}

// claimInterface finds and claims the HID interface. The MCP2221A also
// exposes a CDC pair for its UART which we leave alone.
func (t *USBTransport) claimInterface() error {
	cfg, err := t.dev.Config(1)
	if err != nil {
		return fmt.Errorf("failed to get config: %w", err)
	}

	hidIntfNum := -1
	for _, intf := range cfg.Desc.Interfaces {
		if len(intf.AltSettings) > 0 && intf.AltSettings[0].Class == gousb.ClassHID {
			hidIntfNum = intf.Number
			break
		}
	}

	if hidIntfNum == -1 {
		// Interface 2 on stock firmware
		hidIntfNum = 2
	}

	intf, err := cfg.Interface(hidIntfNum, 0)
	if err != nil {
		cfg.Close()
		return fmt.Errorf("failed to claim interface %d: %w", hidIntfNum, err)
	}
	t.cfg = cfg
	t.intf = intf

	if err := t.findEndpoints(); err != nil {
		intf.Close()
		cfg.Close()
		return err
	}

	return nil
}

// findEndpoints discovers the interrupt IN and OUT endpoints
func (t *USBTransport) findEndpoints() error {
	setting := t.intf.Setting

	var outAddr, inAddr int
	for _, ep := range setting.Endpoints {
		if ep.TransferType != gousb.TransferTypeInterrupt {
			continue
		}
		switch ep.Direction {
		case gousb.EndpointDirectionOut:
			if outAddr == 0 {
				outAddr = ep.Number
			}
		case gousb.EndpointDirectionIn:
			if inAddr == 0 {
				inAddr = ep.Number
			}
		}
	}

	if outAddr == 0 {
		return fmt.Errorf("interrupt OUT endpoint not found")
	}
	if inAddr == 0 {
		return fmt.Errorf("interrupt IN endpoint not found")
	}

	epOut, err := t.intf.OutEndpoint(outAddr)
	if err != nil {
		return fmt.Errorf("failed to open OUT endpoint: %w", err)
	}
	t.epOut = epOut

	epIn, err := t.intf.InEndpoint(inAddr)
	if err != nil {
		return fmt.Errorf("failed to open IN endpoint: %w", err)
	}
	t.epIn = epIn

	return nil
}

// Write sends one report, padded to ReportSize.
func (t *USBTransport) Write(data []byte) (int, error) {
	report := make([]byte, ReportSize)
	copy(report, data)

	n, err := t.epOut.Write(report)
	if err != nil {
		return 0, fmt.Errorf("USB write failed: %w", err)
	}

	return n, nil
}

// Read receives one report.
func (t *USBTransport) Read(data []byte) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
	defer cancel()

	n, err := t.epIn.ReadContext(ctx, data)
	if err != nil {
		return 0, fmt.Errorf("USB read failed: %w", err)
	}
	return n, nil
}

// WriteRead performs a command/response transaction
func (t *USBTransport) WriteRead(cmd []byte) ([]byte, error) {
	if _, err := t.Write(cmd); err != nil {
		return nil, err
	}

	resp := make([]byte, ReportSize)
	n, err := t.Read(resp)
	if err != nil {
		return nil, err
	}

	return resp[:n], nil
}

// SetTimeout sets the read timeout
func (t *USBTransport) SetTimeout(timeout time.Duration) {
	t.timeout = timeout
}

// Close releases USB resources
func (t *USBTransport) Close() error {
	if t.intf != nil {
		t.intf.Close()
		t.intf = nil
	}
	if t.cfg != nil {
		t.cfg.Close()
		t.cfg = nil
	}
	if t.dev != nil {
		t.dev.Close()
		t.dev = nil
	}
	if t.ctx != nil {
		t.ctx.Close()
		t.ctx = nil
	}
	return nil
}

// DeviceInfo represents a discovered USB device
type DeviceInfo struct {
	VID          uint16
	PID          uint16
	SerialNumber string
	Description  string
}

// EnumerateMCP2221 finds all connected MCP2221A bridges.
func EnumerateMCP2221() ([]DeviceInfo, error) {
	ctx := gousb.NewContext()
	defer ctx.Close()

	devices := make([]DeviceInfo, 0)

	devs, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return desc.Vendor == VendorIDMicrochip && desc.Product == ProductIDMCP2221
	})
	if err != nil && err != gousb.ErrorAccess {
		return nil, fmt.Errorf("failed to enumerate devices: %w", err)
	}

	for _, dev := range devs {
		serial, _ := dev.SerialNumber()
		manufacturer, _ := dev.Manufacturer()
		product, _ := dev.Product()

		devices = append(devices, DeviceInfo{
			VID:          uint16(dev.Desc.Vendor),
			PID:          uint16(dev.Desc.Product),
			SerialNumber: serial,
			Description:  fmt.Sprintf("%s %s", manufacturer, product),
		})
		dev.Close()
	}

	return devices, nil
}

func claimError(claim, detach error) error {
	if detach == nil {
		return claim
	}
	return multierr.Append(claim, fmt.Errorf("auto-detach: %w", detach))
}
