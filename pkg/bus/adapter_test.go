package bus

import (
	"errors"
	"fmt"
	"testing"
)

func TestValidateTransfer(t *testing.T) {
	tests := []struct {
		name    string
		addr    uint8
		n       int
		wantErr bool
	}{
		{"mcp23016 base", 0x20, 1, false},
		{"highest 7-bit", 0x7f, 2, false},
		{"8-bit address", 0x80, 1, true},
		{"zero length", 0x20, 0, true},
		{"negative length", 0x20, -1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTransfer(tt.addr, tt.n)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateTransfer(0x%02x, %d) error = %v, wantErr %v", tt.addr, tt.n, err, tt.wantErr)
			}
		})
	}
}

func TestIOErrorMatching(t *testing.T) {
	cause := errors.New("usb stall")
	err := fmt.Errorf("dut: read GP0: %w", &IOError{Op: "read", Addr: 0x20, Reg: 0x00, Err: cause})

	if !errors.Is(err, ErrIO) {
		t.Errorf("errors.Is(err, ErrIO) = false, want true")
	}
	if !errors.Is(err, cause) {
		t.Errorf("errors.Is(err, cause) = false, want true")
	}

	var ioErr *IOError
	if !errors.As(err, &ioErr) {
		t.Fatalf("errors.As failed for %v", err)
	}
	if ioErr.Addr != 0x20 || ioErr.Reg != 0 {
		t.Errorf("IOError addr/reg = %d/%d, want 32/0", ioErr.Addr, ioErr.Reg)
	}
	if errors.Is(ErrNotImplemented, ErrIO) {
		t.Errorf("ErrNotImplemented must not match ErrIO")
	}
}

func TestIOErrorString(t *testing.T) {
	tests := []struct {
		err  *IOError
		want string
	}{
		{&IOError{Op: "read", Addr: 0x20, Reg: 0x08, Err: ErrNACK}, "bus: read 0x20 reg 0x08: bus: address not acknowledged"},
		{&IOError{Op: "write", Addr: 0x20, Reg: -1, Err: ErrNACK}, "bus: write 0x20: bus: address not acknowledged"},
		{NewIOError("gpio get", errors.New("timeout")), "bus: gpio get: timeout"},
	}

	for _, tt := range tests {
		if got := tt.err.Error(); got != tt.want {
			t.Errorf("Error() = %q, want %q", got, tt.want)
		}
	}
}
