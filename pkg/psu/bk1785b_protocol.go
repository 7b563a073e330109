package psu

import (
	"encoding/binary"
	"fmt"
	"math"
)

// BK1785B frame layout: start byte, address, command, 22 data bytes and a
// checksum over the first 25 bytes.
const (
	FrameSize  = 26
	frameStart = 0xAA
)

// BK1785B command IDs
const (
	CmdRemote      = 0x20
	CmdOutput      = 0x21
	CmdMaxVoltage  = 0x22
	CmdVoltage     = 0x23
	CmdCurrent     = 0x24
	CmdReadStatus  = 0x26
	CmdStatusReply = 0x12
)

// Status codes carried in byte 3 of a status reply.
const (
	StatusOK       = 0x80
	StatusChecksum = 0x90
	StatusParam    = 0xA0
	StatusUnknown  = 0xB0
	StatusInvalid  = 0xC0
)

// Checksum sums every byte before the checksum position.
func Checksum(frame []byte) byte {
	var sum byte
	for _, b := range frame[:FrameSize-1] {
		sum += b
	}
	return sum
}

// EncodeFrame builds a complete frame for cmd with data left-aligned in the
// data field.
func EncodeFrame(addr, cmd byte, data []byte) []byte {
	f := make([]byte, FrameSize)
	f[0] = frameStart
	f[1] = addr
	f[2] = cmd
	copy(f[3:FrameSize-1], data)
	f[FrameSize-1] = Checksum(f)
	return f
}

// DecodeFrame validates a frame received from addr and returns its command
// and data field.
func DecodeFrame(frame []byte, addr byte) (byte, []byte, error) {
	if len(frame) != FrameSize {
		return 0, nil, fmt.Errorf("psu: frame is %d bytes, want %d", len(frame), FrameSize)
	}
	if frame[0] != frameStart {
		return 0, nil, fmt.Errorf("psu: bad start byte 0x%02X", frame[0])
	}
	if frame[1] != addr {
		return 0, nil, fmt.Errorf("psu: reply from address %d, want %d", frame[1], addr)
	}
	if sum := Checksum(frame); sum != frame[FrameSize-1] {
		return 0, nil, fmt.Errorf("psu: checksum 0x%02X, want 0x%02X", frame[FrameSize-1], sum)
	}
	return frame[2], frame[3 : FrameSize-1], nil
}

func boolByte(on bool) byte {
	if on {
		return 1
	}
	return 0
}

// EncodeRemote switches front-panel lockout on or off.
func EncodeRemote(addr byte, on bool) []byte {
	return EncodeFrame(addr, CmdRemote, []byte{boolByte(on)})
}

// EncodeOutput switches the output terminals.
func EncodeOutput(addr byte, on bool) []byte {
	return EncodeFrame(addr, CmdOutput, []byte{boolByte(on)})
}

// EncodeVoltage sets the output voltage in millivolt resolution.
func EncodeVoltage(addr byte, volts float64) ([]byte, error) {
	if volts < 0 || volts > 18 {
		return nil, fmt.Errorf("psu: voltage %.3fV out of range [0, 18]", volts)
	}
	data := make([]byte, 4)
	binary.LittleEndian.PutUint32(data, uint32(math.Round(volts*1000)))
	return EncodeFrame(addr, CmdVoltage, data), nil
}

// EncodeCurrent sets the current limit in milliamp resolution.
func EncodeCurrent(addr byte, amps float64) ([]byte, error) {
	if amps < 0 || amps > 5 {
		return nil, fmt.Errorf("psu: current %.3fA out of range [0, 5]", amps)
	}
	data := make([]byte, 2)
	binary.LittleEndian.PutUint16(data, uint16(math.Round(amps*1000)))
	return EncodeFrame(addr, CmdCurrent, data), nil
}

// EncodeReadStatus requests present current, voltage and state.
func EncodeReadStatus(addr byte) []byte {
	return EncodeFrame(addr, CmdReadStatus, nil)
}

// StatusError is a non-success status reply.
type StatusError struct {
	Code byte
}

func (e *StatusError) Error() string {
	var msg string
	switch e.Code {
	case StatusChecksum:
		msg = "checksum incorrect"
	case StatusParam:
		msg = "parameter incorrect"
	case StatusUnknown:
		msg = "unrecognized command"
	case StatusInvalid:
		msg = "invalid command"
	default:
		msg = "unknown status"
	}
	return fmt.Sprintf("psu: status 0x%02X: %s", e.Code, msg)
}

// DecodeStatus checks the reply to a set command.
func DecodeStatus(frame []byte, addr byte) error {
	cmd, data, err := DecodeFrame(frame, addr)
	if err != nil {
		return err
	}
	if cmd != CmdStatusReply {
		return fmt.Errorf("psu: unexpected reply command 0x%02X", cmd)
	}
	if data[0] != StatusOK {
		return &StatusError{Code: data[0]}
	}
	return nil
}

// DecodeReading parses a read-status reply.
func DecodeReading(frame []byte, addr byte) (Reading, error) {
	cmd, data, err := DecodeFrame(frame, addr)
	if err != nil {
		return Reading{}, err
	}
	if cmd == CmdStatusReply {
		return Reading{}, &StatusError{Code: data[0]}
	}
	if cmd != CmdReadStatus {
		return Reading{}, fmt.Errorf("psu: unexpected reply command 0x%02X", cmd)
	}
	return Reading{
		Current: float64(binary.LittleEndian.Uint16(data[0:2])) / 1000,
		Voltage: float64(binary.LittleEndian.Uint32(data[2:6])) / 1000,
	}, nil
}
