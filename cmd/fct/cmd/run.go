package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/OpenTraceLab/OpenTraceFCT/pkg/dut"
	"github.com/OpenTraceLab/OpenTraceFCT/pkg/fct"
	"github.com/OpenTraceLab/OpenTraceFCT/pkg/fixture"
	"github.com/jmhodges/clock"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	dutID       string
	outputDir   string
	metricsFile string
	keepGoing   bool

	runCfg     = fct.DefaultConfig()
	dutCfg     = dut.DefaultConfig()
	fixtureCfg = fixture.DefaultConfig()
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the functional circuit test on one board",
	Long: `Run the FCT sequence on one expander board:

  1. setup     power the fixture, isolate the switches, clear interrupts
  2. main      short-circuit and open-circuit passes over every pin, for
               each test cycle, while the fixture supply is sampled
  3. validate  check every supply sample against the current and voltage
               limits

The test record is written to <output-dir>/<dut-id>.<test-name>.json. The
command exits non-zero unless the board passes.

Examples:
  # Simulated bench
  fct run --dut-id SN0001

  # Simulated bench with a short between the ports on pin 3
  echo "short GP0.3 GP1.3" > short.txt
  fct run --dut-id SN0001 --scenario short.txt

  # Simulated bench, giving up on an interrupt after 100ms
  fct run --dut-id SN0001 --interrupt-timeout 100ms

With --adapter mcp2221, --gp-lines assigns GP0..GP3 and the run is refused
when a fixture line (A0..A2, INT or the switch power) is left unconnected.
The stock fixture needs five lines, so every four-pin map is refused there.`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
	addAdapterFlags(runCmd)
	addPSUFlags(runCmd)

	f := runCmd.Flags()
	f.StringVar(&dutID, "dut-id", "", "serial number of the board under test")
	f.StringVarP(&outputDir, "output-dir", "o", ".", "directory for the JSON test record")
	f.StringVar(&metricsFile, "metrics-file", "", "write Prometheus metrics to this textfile")
	f.BoolVar(&keepGoing, "keep-going", false, "continue with the next cycle after a failure")

	f.IntVarP(&runCfg.Cycles, "cycles", "n", runCfg.Cycles, "number of test cycles")
	f.DurationVar(&runCfg.InterruptTimeout, "interrupt-timeout", runCfg.InterruptTimeout,
		"give up waiting for an interrupt after this long (0 waits forever)")
	f.DurationVar(&runCfg.MonitorInterval, "monitor-interval", runCfg.MonitorInterval, "supply sampling period")
	f.Float64Var(&runCfg.CurrentLimits.Min, "current-min", runCfg.CurrentLimits.Min, "lowest allowed supply current (A)")
	f.Float64Var(&runCfg.CurrentLimits.Max, "current-max", runCfg.CurrentLimits.Max, "highest allowed supply current (A)")
	f.Float64Var(&runCfg.VoltageLimits.Min, "voltage-min", runCfg.VoltageLimits.Min, "lowest allowed supply voltage (V)")
	f.Float64Var(&runCfg.VoltageLimits.Max, "voltage-max", runCfg.VoltageLimits.Max, "highest allowed supply voltage (V)")
	f.StringVar(&runCfg.TestName, "test-name", runCfg.TestName, "test name used in the record")

	f.Uint8Var(&dutCfg.Address, "address", dutCfg.Address, "expander I2C address")
	f.IntVar(&dutCfg.BitrateKHz, "bitrate", dutCfg.BitrateKHz, "I2C bitrate in kHz")
	f.BoolVar(&dutCfg.Pullups, "pullups", dutCfg.Pullups, "enable adapter I2C pull-ups")

	f.Float64Var(&fixtureCfg.Current, "current", fixtureCfg.Current, "fixture supply current limit (A)")
	f.Float64Var(&fixtureCfg.Voltage, "voltage", fixtureCfg.Voltage, "fixture supply voltage (V)")
	f.DurationVar(&fixtureCfg.Settle, "settle", fixtureCfg.Settle, "wait after powering the fixture")
}

func runRun(cmd *cobra.Command, args []string) error {
	if dutID == "" {
		return fmt.Errorf("--dut-id is required")
	}
	if adapterType == "mcp2221" {
		if _, err := mcp2221Config(); err != nil {
			return err
		}
	}
	runCfg.StopOnFailure = !keepGoing
	if err := runCfg.Validate(); err != nil {
		return err
	}

	log, closeLog, err := newLogger()
	if err != nil {
		return err
	}
	defer closeLog()

	supply, err := createSupply(log)
	if err != nil {
		return fmt.Errorf("failed to open supply: %w", err)
	}
	defer supply.Close()

	adapter, err := createAdapter(dutCfg.Address, supply)
	if err != nil {
		return fmt.Errorf("failed to create adapter: %w", err)
	}
	defer adapter.Close()

	if verbose {
		if info, err := adapter.Info(); err == nil {
			fmt.Printf("\nAdapter Information:\n")
			fmt.Printf("  Name: %s\n", info.Name)
			fmt.Printf("  Vendor: %s\n", info.Vendor)
			fmt.Printf("  Model: %s\n", info.Model)
			fmt.Println()
		}
	}

	d, err := dut.New(adapter, dutCfg, log)
	if err != nil {
		return err
	}

	fmt.Printf("Powering fixture (%.2fV, %.2fA limit), settling for %s...\n",
		fixtureCfg.Voltage, fixtureCfg.Current, fixtureCfg.Settle)
	fix, err := fixture.New(adapter, supply, fixtureCfg, clock.New(), log)
	if err != nil {
		return err
	}
	defer func() {
		if err := fix.Close(); err != nil {
			log.Warn("failed to shut the fixture down", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	metrics := fct.NewMetrics()
	progressCh := make(chan fct.Progress, 16)
	progressDone := make(chan struct{})
	go func() {
		displayProgress(progressCh)
		close(progressDone)
	}()

	runner := &fct.Runner{
		Config:   runCfg,
		DUT:      d,
		Fixture:  fix,
		Supply:   supply,
		Log:      log,
		Metrics:  metrics,
		Progress: progressCh,
	}

	fmt.Println("╔════════════════════════════════════════════════════════════════╗")
	fmt.Printf("║ %-62s ║\n", runCfg.Description)
	fmt.Println("╚════════════════════════════════════════════════════════════════╝")
	fmt.Printf("DUT: %s, %d cycle(s)\n\n", dutID, runCfg.Cycles)

	start := time.Now()
	rec, runErr := runner.Run(ctx, dutID)
	close(progressCh)
	<-progressDone

	if rec == nil {
		return runErr
	}
	fmt.Println()
	printSummary(rec, time.Since(start))

	path, err := fct.WriteRecord(fs, outputDir, rec)
	if err != nil {
		return err
	}
	fmt.Printf("\n✓ Test record saved to: %s\n", path)

	if metricsFile != "" {
		if err := metrics.WriteTextfile(metricsFile); err != nil {
			return err
		}
		fmt.Printf("✓ Metrics saved to: %s\n", metricsFile)
	}

	if runErr != nil {
		return fmt.Errorf("test aborted: %w", runErr)
	}
	if rec.Outcome != fct.OutcomePass {
		return fmt.Errorf("DUT %s: %s", dutID, rec.Outcome)
	}
	return nil
}

// displayProgress shows one progress bar per pass.
func displayProgress(progressCh <-chan fct.Progress) {
	lastPercent := -1
	var lastPass fct.Pass

	for p := range progressCh {
		if p.Pass != lastPass {
			if lastPass != "" {
				fmt.Println()
			}
			lastPass = p.Pass
			lastPercent = -1
		}

		percent := 0
		if p.Total > 0 {
			percent = ((p.Index + 1) * 100) / p.Total
		}
		if percent == lastPercent {
			continue
		}

		barWidth := 32
		filled := (percent * barWidth) / 100
		bar := strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled)
		fmt.Printf("\rCycle %d %-13s [%s] %3d%% | GP%d->GP%d pin %d",
			p.Cycle, p.Pass, bar, percent, p.Pair.Primary, p.Pair.Secondary, p.Pin.Index)
		lastPercent = percent
	}

	fmt.Println()
}

// printSummary displays the outcome of a run.
func printSummary(rec *fct.Record, elapsed time.Duration) {
	fmt.Println("╔════════════════════════════════════════════════════════════════╗")
	fmt.Printf("║ Result: %-54s ║\n", rec.Outcome)
	fmt.Println("╚════════════════════════════════════════════════════════════════╝")
	fmt.Println()

	fmt.Printf("Test:                  %s %s\n", rec.TestName, rec.Version)
	fmt.Printf("DUT:                   %s\n", rec.DUTID)
	fmt.Printf("Time elapsed:          %s\n", elapsed.Round(time.Millisecond))

	fmt.Println("\nPhases:")
	for _, p := range rec.Phases {
		fmt.Printf("  %-10s %s\n", p.Name, p.Outcome)
		if p.Error != "" {
			fmt.Printf("             %s\n", p.Error)
		}
	}

	fmt.Println("\nCycles:")
	for _, c := range rec.Cycles {
		fmt.Printf("  %-4d %s\n", c.Cycle, c.Outcome)
		if c.Failure != nil {
			fmt.Printf("       %s\n", c.Failure)
		}
		if c.Error != "" {
			fmt.Printf("       %s\n", c.Error)
		}
	}

	if len(rec.Measurements) > 0 {
		fmt.Println("\nMeasurements:")
		for _, m := range rec.Measurements {
			lo, hi := minMax(m.Values)
			fmt.Printf("  %-8s %s  %d samples, %.3f..%.3f %s (limits %.3f..%.3f)\n",
				m.Name, m.Outcome, len(m.Values), lo, hi, m.Units, m.Limits.Min, m.Limits.Max)
		}
	}
}

func minMax(values [][2]float64) (lo, hi float64) {
	for i, v := range values {
		if i == 0 || v[1] < lo {
			lo = v[1]
		}
		if i == 0 || v[1] > hi {
			hi = v[1]
		}
	}
	return lo, hi
}
