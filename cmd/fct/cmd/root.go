package cmd

import (
	"fmt"
	"os"

	"github.com/OpenTraceLab/OpenTraceFCT/internal/logger"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Global flags
	verbose  bool
	logLevel string
	logFile  string
)

var rootCmd = &cobra.Command{
	Use:   "fct",
	Short: "I/O expander functional circuit test",
	Long: `Functional circuit test for the MCP23016 I/O expander board.

The test walks every pin of both expander ports through a short-circuit pass
with the fixture isolated and an open-circuit pass with the fixture switches
connecting the ports, while the fixture supply is monitored.

Examples:
  fct run --dut-id SN0001                                  # Run on the simulated bench
  fct run --dut-id SN0001 --scenario faults.txt            # Simulated bench with injected faults
  fct run --dut-id SN0001 --adapter mcp2221 --psu bk1785b  # Run on hardware
  fct interfaces                                           # List bus adapters`,
	Version:       "1.0.0",
	SilenceUsage:  true,
	SilenceErrors: false,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output (debug logging)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "also write JSON logs to this file")
}

// newLogger builds the logger selected by the global flags. The returned
// function flushes and closes the log file.
func newLogger() (*zap.Logger, func(), error) {
	level, err := logger.ParseLevel(logLevel)
	if err != nil {
		return nil, nil, err
	}
	if verbose {
		level = zapcore.DebugLevel
	}
	log, closeLog, err := logger.New(logger.Options{
		Level:   level,
		File:    logFile,
		Console: os.Stderr,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return log, func() {
		if err := closeLog(); err != nil {
			fmt.Fprintf(os.Stderr, "failed to close log file: %v\n", err)
		}
	}, nil
}
