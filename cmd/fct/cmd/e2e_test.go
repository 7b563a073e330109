package cmd

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/OpenTraceLab/OpenTraceFCT/pkg/dut"
	"github.com/OpenTraceLab/OpenTraceFCT/pkg/fct"
	"github.com/OpenTraceLab/OpenTraceFCT/pkg/fixture"
	"github.com/OpenTraceLab/OpenTraceFCT/pkg/psu"
)

// resetFlags restores every flag variable so tests do not leak into each
// other through the shared command tree.
func resetFlags() {
	verbose = false
	logLevel = "warn"
	logFile = ""

	def := psu.DefaultBK1785BConfig()
	adapterType = "simulator"
	gpLines = "miso,sck,mosi,ss"
	scenarioFile = ""
	psuType = "simulator"
	serialPort = def.Port
	psuBaud = def.Baud
	psuAddress = def.Address

	dutID = ""
	outputDir = "."
	metricsFile = ""
	keepGoing = false
	*runCfg = *fct.DefaultConfig()
	*dutCfg = *dut.DefaultConfig()
	*fixtureCfg = *fixture.DefaultConfig()

	psuWatch = 0
	psuInterval = psu.DefaultInterval
}

// execute runs the command tree with args and returns what it printed to
// stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	old := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w

	// Read in background to prevent pipe buffer from blocking
	var buf bytes.Buffer
	done := make(chan struct{})
	go func() {
		buf.ReadFrom(r)
		close(done)
	}()

	resetFlags()
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()

	w.Close()
	os.Stdout = old
	<-done

	return buf.String(), err
}

func writeScenario(t *testing.T, dir, src string) string {
	t.Helper()
	path := filepath.Join(dir, "scenario.txt")
	if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
		t.Fatalf("failed to write scenario: %v", err)
	}
	return path
}

// TestRunE2E tests the run command end-to-end on the simulated bench
func TestRunE2E(t *testing.T) {
	tests := []struct {
		name        string
		scenario    string
		args        []string
		wantErr     bool
		wantOutcome fct.Outcome
		wantCycles  int
		wantContain []string
	}{
		{
			name:        "healthy bench",
			wantOutcome: fct.OutcomePass,
			wantCycles:  1,
			wantContain: []string{
				"PiDP-11 I/O Expander FCT",
				"Result: PASS",
				"setup",
				"validate",
				"Test record saved to",
			},
		},
		{
			name:        "several cycles",
			args:        []string{"--cycles", "2"},
			wantOutcome: fct.OutcomePass,
			wantCycles:  2,
		},
		{
			name:        "short between ports",
			scenario:    "short GP0.3 GP1.3\n",
			wantErr:     true,
			wantOutcome: fct.OutcomeFail,
			wantCycles:  1,
			wantContain: []string{
				"Result: FAIL",
				"short circuit at GP0->GP1 pin 3: unexpected interrupt",
			},
		},
		{
			name:        "open switch",
			scenario:    "# switch 5 never closes\nopen 5\n",
			args:        []string{"--interrupt-timeout", "20ms"},
			wantErr:     true,
			wantOutcome: fct.OutcomeFail,
			wantCycles:  1,
			wantContain: []string{
				"open circuit at GP0->GP1 pin 5: no interrupt",
			},
		},
		{
			name:        "keep going after a failure",
			scenario:    "stuck GP1.2 high\n",
			args:        []string{"--cycles", "2", "--keep-going"},
			wantErr:     true,
			wantOutcome: fct.OutcomeFail,
			wantCycles:  2,
		},
		{
			name:        "supply out of limits",
			args:        []string{"--current-max", "0.01"},
			wantErr:     true,
			wantOutcome: fct.OutcomeFail,
			wantCycles:  1,
			wantContain: []string{"current  FAIL"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			args := []string{"run", "--dut-id", "SN0001", "--settle", "0s",
				"--monitor-interval", "5ms", "--output-dir", dir,
				"--metrics-file", filepath.Join(dir, "fct.prom")}
			if tt.scenario != "" {
				args = append(args, "--scenario", writeScenario(t, dir, tt.scenario))
			}
			args = append(args, tt.args...)

			output, err := execute(t, args...)
			if tt.wantErr && err == nil {
				t.Errorf("Expected error but got none\nOutput: %s", output)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("Unexpected error: %v\nOutput: %s", err, output)
			}

			for _, want := range tt.wantContain {
				if !strings.Contains(output, want) {
					t.Errorf("Output missing expected string: %q\nGot:\n%s", want, output)
				}
			}

			rec, err := fct.ReadRecord(fs, filepath.Join(dir, "SN0001.fct_test.json"))
			if err != nil {
				t.Fatalf("test record not written: %v", err)
			}
			if rec.Outcome != tt.wantOutcome {
				t.Errorf("record outcome = %s, want %s", rec.Outcome, tt.wantOutcome)
			}
			if len(rec.Cycles) != tt.wantCycles {
				t.Errorf("record has %d cycles, want %d", len(rec.Cycles), tt.wantCycles)
			}

			prom, err := os.ReadFile(filepath.Join(dir, "fct.prom"))
			if err != nil {
				t.Fatalf("metrics not written: %v", err)
			}
			if !strings.Contains(string(prom), "fct_checks_total") {
				t.Errorf("metrics missing fct_checks_total:\n%s", prom)
			}
		})
	}
}

func TestRunArgumentErrors(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name string
		args []string
	}{
		{"missing DUT id", []string{"run", "--settle", "0s", "--output-dir", dir}},
		{"unknown adapter", []string{"run", "--dut-id", "SN1", "--adapter", "aardvark", "--output-dir", dir}},
		{"unknown supply", []string{"run", "--dut-id", "SN1", "--psu", "e3631a", "--output-dir", dir}},
		{"zero cycles", []string{"run", "--dut-id", "SN1", "--cycles", "0", "--output-dir", dir}},
		{"missing scenario", []string{"run", "--dut-id", "SN1", "--settle", "0s", "--scenario", filepath.Join(dir, "nope.txt")}},
		{"mcp2221 line map too short", []string{"run", "--dut-id", "SN1", "--adapter", "mcp2221", "--gp-lines", "miso,sck"}},
		{"mcp2221 power assigned twice", []string{"run", "--dut-id", "SN1", "--adapter", "mcp2221", "--gp-lines", "power,sck,mosi,power"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := execute(t, tt.args...); err == nil {
				t.Errorf("Expected error but got none")
			}
		})
	}
}

// TestRunRefusesUnmappedFixture checks that every four-pin MCP2221A map is
// refused before any hardware is opened.
func TestRunRefusesUnmappedFixture(t *testing.T) {
	tests := []struct {
		lines   string
		missing string
	}{
		{"miso,sck,mosi,ss", "switch power"},
		{"power,sck,mosi,ss", "A0"},
		{"miso,power,mosi,ss", "A1"},
		{"miso,sck,power,ss", "A2"},
		{"miso,sck,mosi,power", "INT"},
	}
	for _, tt := range tests {
		t.Run(tt.lines, func(t *testing.T) {
			_, err := execute(t, "run", "--dut-id", "SN1", "--adapter", "mcp2221",
				"--gp-lines", tt.lines, "--psu", "bk1785b", "--serial-port", "/dev/does-not-exist")
			if !errors.Is(err, fixture.ErrUnmappedLine) {
				t.Fatalf("error = %v, want ErrUnmappedLine", err)
			}
			if !strings.Contains(err.Error(), tt.missing) {
				t.Errorf("error %q does not name %s", err, tt.missing)
			}
		})
	}
}

// TestScenarioE2E tests the scenario command end-to-end
func TestScenarioE2E(t *testing.T) {
	tests := []struct {
		name        string
		src         string
		wantErr     bool
		wantContain []string
	}{
		{
			name: "faults",
			src:  "short GP0.3 GP1.3\nopen 5 # relay\nstuck GP1.0 low\n",
			wantContain: []string{
				"Shorts: 1, opens: 1, stuck pins: 1",
				"short GP0.3 GP1.3",
				"open 5",
				"stuck GP1.0 low",
			},
		},
		{
			name:        "empty",
			src:         "# nothing wrong\n",
			wantContain: []string{"healthy bench"},
		},
		{
			name:    "syntax error",
			src:     "bridge GP0.1 GP0.2\n",
			wantErr: true,
		},
		{
			name:    "no such pin",
			src:     "stuck GP2.0 high\n",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeScenario(t, t.TempDir(), tt.src)
			output, err := execute(t, "scenario", path)
			if tt.wantErr {
				if err == nil {
					t.Errorf("Expected error but got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			for _, want := range tt.wantContain {
				if !strings.Contains(output, want) {
					t.Errorf("Output missing expected string: %q\nGot:\n%s", want, output)
				}
			}
		})
	}
}

// TestPSUE2E reads the simulated supply
func TestPSUE2E(t *testing.T) {
	output, err := execute(t, "psu")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	for _, want := range []string{"Current: 0.000 A", "Voltage: 0.000 V"} {
		if !strings.Contains(output, want) {
			t.Errorf("Output missing expected string: %q\nGot:\n%s", want, output)
		}
	}

	output, err = execute(t, "psu", "--watch", "30ms", "--monitor-interval", "10ms")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !strings.Contains(output, "sample(s)") {
		t.Errorf("watch output missing sample count:\n%s", output)
	}
}
