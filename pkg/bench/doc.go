// Package bench simulates the FCT bench: an MCP23016 expander wired to the
// interposer fixture, reached through a bus.SimAdapter.
//
// The model covers what the verification passes observe:
//
//   - GP, OLAT, IPOL, IODIR, INTCAP and IOCON registers for both ports
//   - a pull-down on every pin, so undriven nets read low
//   - an interrupt latched when an input pin changes, cleared by reading
//     GP or INTCAP of that port, reported on the adapter's SS line (active low)
//   - eight bilateral switches joining GP0.n to GP1.n, selected by the
//     adapter's A0..A2 lines and closed only while target power is on
//   - lead wiring reversed, so select value s closes the switch for pin s^7
//
// Faults are injected through a Scenario:
//
//	# GP0.3 and GP1.3 bridged by solder
//	short GP0.3 GP1.3
//	open 5              # switch path for pin 5 broken
//	stuck GP1.0 low
//	straight            # leads wired in order
//
// When a psu.SimSupply is attached the expander only acknowledges its
// address while the supply output is on.
package bench
