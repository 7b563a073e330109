package bus

import (
	"errors"
	"fmt"
)

// MCP2221A HID command IDs
const (
	CmdStatus          = 0x10 // also set-parameters
	CmdI2CWrite        = 0x90
	CmdI2CReadRepStart = 0x93
	CmdI2CWriteNoStop  = 0x94
	CmdI2CGetData      = 0x40
	CmdGPIOSet         = 0x50
	CmdGPIOGet         = 0x51
)

// I2C engine states reported in the status response (byte 8) and in
// get-data responses (byte 2).
const (
	I2CStateIdle          = 0x00
	I2CStateStartTimeout  = 0x12
	I2CStateRepStartTO    = 0x17
	I2CStateAddrTimeout   = 0x23
	I2CStateAddrNACK      = 0x25
	I2CStatePartialData   = 0x41
	I2CStateWriteTimeout  = 0x44
	I2CStateWritingNoStop = 0x45
	I2CStateReadTimeout   = 0x52
	I2CStateReadPartial   = 0x54
	I2CStateReadComplete  = 0x55
	I2CStateStopTimeout   = 0x62
	I2CReadError          = 0x7F
)

const (
	mcp2221ClockKHz = 12000
	// Longest payload a single report can carry.
	MaxTransfer = 60
	// GPCount is the number of general purpose pins on the bridge.
	GPCount = 4

	gpioModeInvalid = 0xEE
	setParamSpeed   = 0x20
	setParamCancel  = 0x10
	alter           = 0xFF
)

// ErrNACK reports a target that did not acknowledge its address.
var ErrNACK = errors.New("bus: address not acknowledged")

// MCP2221Status is the subset of the status report used by the adapter.
type MCP2221Status struct {
	Cancel     byte
	SpeedSetup byte
	I2CState   byte
	ClockDiv   byte
}

// GPIOUpdate describes the change requested for one GP pin.
type GPIOUpdate struct {
	AlterValue bool
	High       bool
	AlterDir   bool
	Input      bool
}

// GPIOState holds one bit per GP pin.
type GPIOState struct {
	Level uint8
	Input uint8
	GPIO  uint8 // pins configured for GPIO function
}

// MCP2221Protocol handles encoding/decoding of MCP2221A HID reports
type MCP2221Protocol struct{}

// NewMCP2221Protocol creates a new protocol handler
func NewMCP2221Protocol() *MCP2221Protocol {
	return &MCP2221Protocol{}
}

func report(cmd byte) []byte {
	r := make([]byte, ReportSize)
	r[0] = cmd
	return r
}

// EncodeStatus builds a status request that changes nothing.
func (p *MCP2221Protocol) EncodeStatus() []byte {
	return report(CmdStatus)
}

// EncodeCancel builds a set-parameters report that cancels the current
// I2C transfer.
func (p *MCP2221Protocol) EncodeCancel() []byte {
	r := report(CmdStatus)
	r[2] = setParamCancel
	return r
}

// EncodeSetBitrate builds a set-parameters report for the requested I2C
// clock. It returns the rate the divider actually produces.
func (p *MCP2221Protocol) EncodeSetBitrate(khz int) ([]byte, int, error) {
	if khz < 47 || khz > 400 {
		return nil, 0, fmt.Errorf("bus: bitrate %dkHz out of range [47, 400]", khz)
	}
	div := mcp2221ClockKHz/khz - 3
	r := report(CmdStatus)
	r[3] = setParamSpeed
	r[4] = byte(div)
	return r, mcp2221ClockKHz / (div + 3), nil
}

// DecodeStatus parses a status/set-parameters response
func (p *MCP2221Protocol) DecodeStatus(resp []byte) (MCP2221Status, error) {
	if len(resp) < 15 {
		return MCP2221Status{}, fmt.Errorf("response too short")
	}
	if resp[0] != CmdStatus {
		return MCP2221Status{}, fmt.Errorf("invalid command ID: 0x%02X", resp[0])
	}
	if resp[1] != 0 {
		return MCP2221Status{}, fmt.Errorf("status command failed: 0x%02X", resp[1])
	}
	return MCP2221Status{
		Cancel:     resp[2],
		SpeedSetup: resp[3],
		I2CState:   resp[8],
		ClockDiv:   resp[14],
	}, nil
}

// EncodeI2CWrite builds a write report. With stop false the bus is left
// claimed for a following repeated-start read.
func (p *MCP2221Protocol) EncodeI2CWrite(addr uint8, data []byte, stop bool) ([]byte, error) {
	if err := ValidateTransfer(addr, len(data)); err != nil {
		return nil, err
	}
	if len(data) > MaxTransfer {
		return nil, fmt.Errorf("bus: write of %d bytes exceeds %d", len(data), MaxTransfer)
	}
	cmd := byte(CmdI2CWrite)
	if !stop {
		cmd = CmdI2CWriteNoStop
	}
	r := report(cmd)
	r[1] = byte(len(data))
	r[2] = byte(len(data) >> 8)
	r[3] = addr << 1
	copy(r[4:], data)
	return r, nil
}

// EncodeI2CRead builds a repeated-start read report.
func (p *MCP2221Protocol) EncodeI2CRead(addr uint8, n int) ([]byte, error) {
	if err := ValidateTransfer(addr, n); err != nil {
		return nil, err
	}
	if n > MaxTransfer {
		return nil, fmt.Errorf("bus: read of %d bytes exceeds %d", n, MaxTransfer)
	}
	r := report(CmdI2CReadRepStart)
	r[1] = byte(n)
	r[2] = byte(n >> 8)
	r[3] = addr<<1 | 0x01
	return r, nil
}

// DecodeI2CAck parses the response to a write or read request.
func (p *MCP2221Protocol) DecodeI2CAck(cmd byte, resp []byte) error {
	if len(resp) < 3 {
		return fmt.Errorf("response too short")
	}
	if resp[0] != cmd {
		return fmt.Errorf("invalid command ID: 0x%02X", resp[0])
	}
	if resp[2] == I2CStateAddrNACK {
		return ErrNACK
	}
	if resp[1] != 0 {
		return fmt.Errorf("I2C engine busy (state 0x%02X)", resp[2])
	}
	return nil
}

// EncodeI2CGetData builds a request for data collected by a prior read.
func (p *MCP2221Protocol) EncodeI2CGetData() []byte {
	return report(CmdI2CGetData)
}

// DecodeI2CGetData parses a get-data response. retry is true when the engine
// has not finished collecting the bytes yet.
func (p *MCP2221Protocol) DecodeI2CGetData(resp []byte, n int) (data []byte, retry bool, err error) {
	if len(resp) < 4+n {
		return nil, false, fmt.Errorf("response too short")
	}
	if resp[0] != CmdI2CGetData {
		return nil, false, fmt.Errorf("invalid command ID: 0x%02X", resp[0])
	}
	if resp[2] == I2CStateAddrNACK {
		return nil, false, ErrNACK
	}
	if resp[1] != 0 || resp[3] == I2CReadError || resp[2] == I2CStatePartialData {
		return nil, true, nil
	}
	if int(resp[3]) < n {
		return nil, false, fmt.Errorf("short read: %d of %d bytes", resp[3], n)
	}
	return append([]byte(nil), resp[4:4+n]...), false, nil
}

// EncodeGPIOSet builds a GPIO set report for all four GP pins.
func (p *MCP2221Protocol) EncodeGPIOSet(updates [GPCount]GPIOUpdate) []byte {
	r := report(CmdGPIOSet)
	for i, u := range updates {
		base := 2 + 4*i
		if u.AlterValue {
			r[base] = alter
			if u.High {
				r[base+1] = 1
			}
		}
		if u.AlterDir {
			r[base+2] = alter
			if u.Input {
				r[base+3] = 1
			}
		}
	}
	return r
}

// DecodeGPIOSet checks a GPIO set response.
func (p *MCP2221Protocol) DecodeGPIOSet(resp []byte) error {
	if len(resp) < 2 {
		return fmt.Errorf("response too short")
	}
	if resp[0] != CmdGPIOSet {
		return fmt.Errorf("invalid command ID: 0x%02X", resp[0])
	}
	if resp[1] != 0 {
		return fmt.Errorf("GPIO set failed: 0x%02X", resp[1])
	}
	return nil
}

// EncodeGPIOGet builds a GPIO read report.
func (p *MCP2221Protocol) EncodeGPIOGet() []byte {
	return report(CmdGPIOGet)
}

// DecodeGPIOGet parses a GPIO read response.
func (p *MCP2221Protocol) DecodeGPIOGet(resp []byte) (GPIOState, error) {
	if len(resp) < 2+2*GPCount {
		return GPIOState{}, fmt.Errorf("response too short")
	}
	if resp[0] != CmdGPIOGet {
		return GPIOState{}, fmt.Errorf("invalid command ID: 0x%02X", resp[0])
	}
	if resp[1] != 0 {
		return GPIOState{}, fmt.Errorf("GPIO get failed: 0x%02X", resp[1])
	}
	var st GPIOState
	for i := 0; i < GPCount; i++ {
		val, dir := resp[2+2*i], resp[3+2*i]
		if val == gpioModeInvalid {
			continue
		}
		st.GPIO |= 1 << i
		if val != 0 {
			st.Level |= 1 << i
		}
		if dir != 0 {
			st.Input |= 1 << i
		}
	}
	return st, nil
}

// i2cFailed reports engine states that end a transfer.
func i2cFailed(state byte) error {
	switch state {
	case I2CStateAddrNACK:
		return ErrNACK
	case I2CStateStartTimeout, I2CStateRepStartTO, I2CStateAddrTimeout,
		I2CStateWriteTimeout, I2CStateReadTimeout, I2CStateStopTimeout:
		return fmt.Errorf("I2C timeout (state 0x%02X)", state)
	}
	return nil
}
