package bench

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
	"github.com/spf13/afero"
)

// PinRef names one expander pin, written GPport.pin.
type PinRef struct {
	Port int
	Pin  int
}

func (p PinRef) String() string {
	return fmt.Sprintf("GP%d.%d", p.Port, p.Pin)
}

// Capture parses the GPport.pin token.
func (p *PinRef) Capture(values []string) error {
	s := strings.TrimPrefix(values[0], "GP")
	parts := strings.SplitN(s, ".", 2)
	if len(parts) != 2 {
		return fmt.Errorf("malformed pin %q", values[0])
	}
	port, err := strconv.Atoi(parts[0])
	if err != nil {
		return err
	}
	pin, err := strconv.Atoi(parts[1])
	if err != nil {
		return err
	}
	p.Port, p.Pin = port, pin
	return nil
}

func (p PinRef) node() int {
	return p.Port*pinsPerPort + p.Pin
}

func (p PinRef) valid() bool {
	return p.Port >= 0 && p.Port < ports && p.Pin >= 0 && p.Pin < pinsPerPort
}

// Short bridges two pins permanently.
type Short struct {
	A PinRef `@Pin`
	B PinRef `@Pin`
}

// Stuck holds a pin at a fixed level regardless of drivers.
type Stuck struct {
	Pin   PinRef `@Pin`
	Level string `@("high" | "low")`
}

// High reports whether the pin is stuck high.
func (s Stuck) High() bool {
	return s.Level == "high"
}

type faultAST struct {
	Short    *Short `  "short" @@`
	Open     *int   `| "open" @Int`
	Stuck    *Stuck `| "stuck" @@`
	Straight bool   `| @"straight"`
}

type scenarioAST struct {
	Faults []*faultAST `@@*`
}

var scenarioLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Comment", Pattern: `#[^\n]*`},
	{Name: "Whitespace", Pattern: `[\s\t\n\r]+`},
	{Name: "Pin", Pattern: `GP[0-9]+\.[0-9]+`},
	{Name: "Int", Pattern: `[0-9]+`},
	{Name: "Ident", Pattern: `[a-zA-Z_]+`},
})

var scenarioParser = participle.MustBuild[scenarioAST](
	participle.Lexer(scenarioLexer),
	participle.Elide("Comment", "Whitespace"),
)

// Scenario lists the faults present on the simulated bench.
type Scenario struct {
	Shorts   []Short
	Opens    []int
	Stuck    []Stuck
	Straight bool
}

// ParseScenario parses the scenario text format.
func ParseScenario(src string) (*Scenario, error) {
	ast, err := scenarioParser.ParseString("", src)
	if err != nil {
		return nil, fmt.Errorf("bench: parse scenario: %w", err)
	}

	sc := &Scenario{}
	for _, f := range ast.Faults {
		switch {
		case f.Short != nil:
			sc.Shorts = append(sc.Shorts, *f.Short)
		case f.Open != nil:
			sc.Opens = append(sc.Opens, *f.Open)
		case f.Stuck != nil:
			sc.Stuck = append(sc.Stuck, *f.Stuck)
		case f.Straight:
			sc.Straight = true
		}
	}
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	return sc, nil
}

// LoadScenario reads and parses a scenario file.
func LoadScenario(fs afero.Fs, path string) (*Scenario, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("bench: %w", err)
	}
	sc, err := ParseScenario(string(data))
	if err != nil {
		return nil, fmt.Errorf("%w (%s)", err, path)
	}
	return sc, nil
}

// Validate checks that every fault names an existing pin.
func (s *Scenario) Validate() error {
	for _, sh := range s.Shorts {
		if !sh.A.valid() || !sh.B.valid() {
			return fmt.Errorf("bench: short %s %s: no such pin", sh.A, sh.B)
		}
		if sh.A == sh.B {
			return fmt.Errorf("bench: short %s to itself", sh.A)
		}
	}
	for _, pin := range s.Opens {
		if pin < 0 || pin >= pinsPerPort {
			return fmt.Errorf("bench: open %d: no such pin", pin)
		}
	}
	for _, st := range s.Stuck {
		if !st.Pin.valid() {
			return fmt.Errorf("bench: stuck %s: no such pin", st.Pin)
		}
	}
	return nil
}

// Empty reports whether the scenario has no faults.
func (s *Scenario) Empty() bool {
	return len(s.Shorts) == 0 && len(s.Opens) == 0 && len(s.Stuck) == 0 && !s.Straight
}

// String renders the scenario in the text format, one fault per line.
func (s *Scenario) String() string {
	var b strings.Builder
	for _, sh := range s.Shorts {
		fmt.Fprintf(&b, "short %s %s\n", sh.A, sh.B)
	}
	for _, pin := range s.Opens {
		fmt.Fprintf(&b, "open %d\n", pin)
	}
	for _, st := range s.Stuck {
		fmt.Fprintf(&b, "stuck %s %s\n", st.Pin, st.Level)
	}
	if s.Straight {
		b.WriteString("straight\n")
	}
	return b.String()
}
