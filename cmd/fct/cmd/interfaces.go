package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/OpenTraceLab/OpenTraceFCT/pkg/bus"
	"github.com/spf13/cobra"
)

var interfacesCmd = &cobra.Command{
	Use:   "interfaces",
	Short: "List the I2C/GPIO bridges fct can use",
	Long: `Scan USB for known I2C/GPIO bridges and sort them into the ones fct can
drive and the ones it recognises but cannot. The simulated bench is always
listed. The first column is the value to pass to --adapter.`,
	RunE: runInterfaces,
}

func init() {
	rootCmd.AddCommand(interfacesCmd)
}

func runInterfaces(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	bridges, err := bus.FindBridges(ctx)
	if err != nil {
		return fmt.Errorf("scan for bridges: %w", err)
	}
	printBridges(os.Stdout, bridges)
	return nil
}

func printBridges(w io.Writer, bridges []bus.Bridge) {
	var usable, unusable []bus.Bridge
	for _, b := range bridges {
		if b.Usable() {
			usable = append(usable, b)
		} else {
			unusable = append(unusable, b)
		}
	}

	fmt.Fprintln(w, "Usable bridges:")
	for _, b := range usable {
		fmt.Fprintf(w, "  %-10s %-34s %s\n", b.Kind, b.Name, b.Location())
		if b.Note != "" {
			fmt.Fprintf(w, "  %-10s %s\n", "", b.Note)
		}
	}
	if len(unusable) == 0 {
		return
	}
	fmt.Fprintln(w, "\nRecognised but not usable:")
	for _, b := range unusable {
		fmt.Fprintf(w, "  %-10s %-34s %s\n", b.Kind, b.Name, b.Location())
		fmt.Fprintf(w, "  %-10s why: %s\n", "", b.Unusable)
	}
}
