package dut

const (
	// NumberOfPorts is the number of 8-bit ports on the expander.
	NumberOfPorts = 2
	// PinsPerPort is the number of pins in each port.
	PinsPerPort = 8
)

// PortPair names the port being driven and the port sensing it.
type PortPair struct {
	Primary   int
	Secondary int
}

// Pin is a pin index within a port together with its bit in the port value.
type Pin struct {
	Index int
	Mask  uint8
}

// Ports pairs ports forward against backward, so each port is primary
// exactly once: (0, 1), (1, 0).
func Ports() []PortPair {
	pairs := make([]PortPair, NumberOfPorts)
	for i := range pairs {
		pairs[i] = PortPair{Primary: i, Secondary: NumberOfPorts - 1 - i}
	}
	return pairs
}

// Pins returns every pin of a port with mask 1<<index.
func Pins() []Pin {
	pins := make([]Pin, PinsPerPort)
	for i := range pins {
		pins[i] = Pin{Index: i, Mask: 1 << uint(i)}
	}
	return pins
}
