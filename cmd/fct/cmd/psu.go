package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/OpenTraceLab/OpenTraceFCT/pkg/psu"
	"github.com/spf13/cobra"
)

var (
	psuWatch    time.Duration
	psuInterval time.Duration
)

var psuCmd = &cobra.Command{
	Use:   "psu",
	Short: "Read the fixture supply",
	Long: `Print the current and voltage reported by the fixture supply. With --watch
the supply is sampled every --monitor-interval for the given duration.

Examples:
  fct psu --psu bk1785b --serial-port /dev/ttyUSB0
  fct psu --psu bk1785b --watch 5s`,
	RunE: runPSU,
}

func init() {
	rootCmd.AddCommand(psuCmd)
	addPSUFlags(psuCmd)
	psuCmd.Flags().DurationVar(&psuWatch, "watch", 0, "keep sampling for this long")
	psuCmd.Flags().DurationVar(&psuInterval, "monitor-interval", psu.DefaultInterval, "sampling period for --watch")
}

func runPSU(cmd *cobra.Command, args []string) error {
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

	if psuWatch <= 0 {
		r, err := supply.Measure()
		if err != nil {
			return fmt.Errorf("measure: %w", err)
		}
		fmt.Printf("Current: %.3f A\n", r.Current)
		fmt.Printf("Voltage: %.3f V\n", r.Voltage)
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), psuWatch)
	defer cancel()

	fmt.Printf("%10s  %10s  %10s\n", "ms", "A", "V")
	m := &psu.Monitor{
		Supply:   supply,
		Interval: psuInterval,
		OnSample: func(s psu.Sample) {
			fmt.Printf("%10d  %10.3f  %10.3f\n", s.ElapsedMs, s.Current, s.Voltage)
		},
	}
	samples, err := m.Run(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("\n%d sample(s)\n", len(samples))
	return nil
}
