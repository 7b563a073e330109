// Package dut controls the device under test: a Microchip MCP23016 16-bit
// I/O expander reached over an I2C bus adapter.
//
// The expander has two 8-pin ports, GP0 and GP1. Every register exists once
// per port at consecutive addresses, so the register for port p is the base
// address plus p:
//
//	GP      0x00  port data (writes go to OLAT)
//	OLAT    0x02  output latch
//	IPOL    0x04  input polarity
//	IODIR   0x06  direction, bit set = input
//	INTCAP  0x08  port value captured at interrupt, read clears
//	IOCON   0x0A  interrupt activity resolution
//
// A Controller performs exactly one bus transaction per operation and never
// retries. Bus failures surface as errors matching bus.ErrIO.
//
// Ports and Pins enumerate the port pairs and pin masks the verification
// passes iterate over.
package dut
