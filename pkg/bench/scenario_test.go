package bench

import (
	"strings"
	"testing"

	"github.com/go-test/deep"
	"github.com/spf13/afero"
)

func TestParseScenario(t *testing.T) {
	src := `
# bridged during rework
short GP0.3 GP1.3
open 5      # switch 5 dead
stuck GP1.0 low
stuck GP0.7 high
straight
`
	sc, err := ParseScenario(src)
	if err != nil {
		t.Fatalf("ParseScenario failed: %v", err)
	}

	want := &Scenario{
		Shorts:   []Short{{A: PinRef{0, 3}, B: PinRef{1, 3}}},
		Opens:    []int{5},
		Stuck:    []Stuck{{Pin: PinRef{1, 0}, Level: "low"}, {Pin: PinRef{0, 7}, Level: "high"}},
		Straight: true,
	}
	if diff := deep.Equal(sc, want); diff != nil {
		t.Error(diff)
	}
}

func TestParseScenarioEmpty(t *testing.T) {
	for _, src := range []string{"", "\n\n", "# nothing wrong with this board\n"} {
		sc, err := ParseScenario(src)
		if err != nil {
			t.Fatalf("ParseScenario(%q) failed: %v", src, err)
		}
		if !sc.Empty() {
			t.Errorf("ParseScenario(%q) = %+v, want empty", src, sc)
		}
	}
}

func TestParseScenarioErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"unknown fault", "melted GP0.1"},
		{"missing pin", "short GP0.1"},
		{"port out of range", "short GP0.1 GP2.1"},
		{"pin out of range", "stuck GP0.8 high"},
		{"open out of range", "open 9"},
		{"short to itself", "short GP1.2 GP1.2"},
		{"bad level", "stuck GP0.1 floating"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseScenario(tt.src); err == nil {
				t.Errorf("ParseScenario(%q) succeeded, want error", tt.src)
			}
		})
	}
}

func TestScenarioStringRoundTrip(t *testing.T) {
	sc := &Scenario{
		Shorts: []Short{{A: PinRef{0, 1}, B: PinRef{0, 2}}},
		Opens:  []int{0, 7},
		Stuck:  []Stuck{{Pin: PinRef{1, 4}, Level: "high"}},
	}
	text := sc.String()
	if !strings.Contains(text, "short GP0.1 GP0.2\n") {
		t.Errorf("String() = %q", text)
	}

	back, err := ParseScenario(text)
	if err != nil {
		t.Fatalf("ParseScenario(String()) failed: %v", err)
	}
	if diff := deep.Equal(back, sc); diff != nil {
		t.Error(diff)
	}
}

func TestLoadScenario(t *testing.T) {
	fs := afero.NewMemMapFs()
	if err := afero.WriteFile(fs, "/bench/open3.txt", []byte("open 3\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	sc, err := LoadScenario(fs, "/bench/open3.txt")
	if err != nil {
		t.Fatalf("LoadScenario failed: %v", err)
	}
	if len(sc.Opens) != 1 || sc.Opens[0] != 3 {
		t.Errorf("Opens = %v, want [3]", sc.Opens)
	}

	if _, err := LoadScenario(fs, "/bench/missing.txt"); err == nil {
		t.Errorf("expected error for missing file")
	}
}
