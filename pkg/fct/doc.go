// Package fct implements the pin-integrity verification of the I/O expander
// and the sequence that runs it on a bench.
//
// Two passes walk every port pair and pin. The short-circuit pass drives one
// primary pin high with the fixture isolated and expects nothing else to
// follow it. The open-circuit pass connects that pin to its partner through
// the fixture and expects the level and an interrupt to arrive on the
// secondary port. The first mismatch ends the pass with a *CheckError.
//
// Runner wraps the passes in the setup, main and validate phases of a bench
// run: it cycles the passes while a psu.Monitor samples the fixture supply,
// checks the samples against limits and fills in a Record.
package fct
