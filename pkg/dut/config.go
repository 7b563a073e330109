package dut

import "fmt"

// Config describes how the expander is reached on the bus.
type Config struct {
	Address    uint8 // 7-bit I2C address (default: 0x20)
	BitrateKHz int   // I2C clock (default: 100)
	Pullups    bool  // Enable adapter I2C pull-ups (default: true)
}

// DefaultConfig returns the settings for an expander strapped to A2..A0 = 0.
func DefaultConfig() *Config {
	return &Config{
		Address:    0x20,
		BitrateKHz: 100,
		Pullups:    true,
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Address > 0x7f {
		return fmt.Errorf("dut: address 0x%02x is not a 7-bit address", c.Address)
	}
	if c.BitrateKHz <= 0 {
		return fmt.Errorf("dut: bitrate must be positive, got %dkHz", c.BitrateKHz)
	}
	return nil
}
