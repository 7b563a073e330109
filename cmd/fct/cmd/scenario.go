package cmd

import (
	"fmt"

	"github.com/OpenTraceLab/OpenTraceFCT/pkg/bench"
	"github.com/spf13/cobra"
)

var scenarioCmd = &cobra.Command{
	Use:   "scenario <file>",
	Short: "Check a simulated bench fault scenario",
	Long: `Parse a fault scenario for the simulated bench and print the faults it
injects. One fault per line, '#' starts a comment:

  short GP0.3 GP1.3   # bridge two pins
  open 5              # switch 5 never closes
  stuck GP1.0 high    # pin held high (or low)
  straight            # leads wired without the pin reversal`,
	Args: cobra.ExactArgs(1),
	RunE: runScenario,
}

func init() {
	rootCmd.AddCommand(scenarioCmd)
}

func runScenario(cmd *cobra.Command, args []string) error {
	sc, err := bench.LoadScenario(fs, args[0])
	if err != nil {
		return err
	}

	if sc.Empty() {
		fmt.Println("No faults: healthy bench.")
		return nil
	}

	fmt.Printf("Shorts: %d, opens: %d, stuck pins: %d, straight leads: %v\n\n",
		len(sc.Shorts), len(sc.Opens), len(sc.Stuck), sc.Straight)
	fmt.Print(sc)
	return nil
}
