package cmd

import (
	"fmt"

	"github.com/OpenTraceLab/OpenTraceFCT/pkg/bench"
	"github.com/OpenTraceLab/OpenTraceFCT/pkg/bus"
	"github.com/OpenTraceLab/OpenTraceFCT/pkg/fixture"
	"github.com/OpenTraceLab/OpenTraceFCT/pkg/psu"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	adapterType  string
	gpLines      string
	scenarioFile string

	psuType    string
	serialPort string
	psuBaud    int
	psuAddress uint8
)

// fs is where scenarios are read from and records written to.
var fs = afero.NewOsFs()

func addAdapterFlags(c *cobra.Command) {
	c.Flags().StringVarP(&adapterType, "adapter", "a", "simulator",
		"bus adapter type (simulator, mcp2221)")
	c.Flags().StringVar(&gpLines, "gp-lines", "miso,sck,mosi,ss",
		"mcp2221: GP0..GP3 assignment (scl, sda, miso, sck, mosi, ss, power, none)")
	c.Flags().StringVar(&scenarioFile, "scenario", "",
		"simulator: fault scenario file for the simulated bench")
}

func addPSUFlags(c *cobra.Command) {
	def := psu.DefaultBK1785BConfig()
	c.Flags().StringVar(&psuType, "psu", "simulator",
		"fixture supply type (simulator, bk1785b)")
	c.Flags().StringVar(&serialPort, "serial-port", def.Port,
		"bk1785b: serial port")
	c.Flags().IntVar(&psuBaud, "psu-baud", def.Baud,
		"bk1785b: baud rate")
	c.Flags().Uint8Var(&psuAddress, "psu-address", def.Address,
		"bk1785b: instrument address")
}

// createSupply opens the fixture supply selected by --psu.
func createSupply(log *zap.Logger) (psu.Supply, error) {
	switch psuType {
	case "simulator", "sim":
		if verbose {
			fmt.Println("Using simulated supply")
		}
		return psu.NewSimSupply(), nil

	case "bk1785b":
		cfg := psu.DefaultBK1785BConfig()
		cfg.Port = serialPort
		cfg.Baud = psuBaud
		cfg.Address = psuAddress
		if verbose {
			fmt.Printf("Opening BK1785B on %s (%d baud, address %d)\n", cfg.Port, cfg.Baud, cfg.Address)
		}
		return psu.OpenBK1785B(cfg, log)

	default:
		return nil, fmt.Errorf("unknown supply type: %s (supported: simulator, bk1785b)", psuType)
	}
}

// mcp2221Config parses --gp-lines and refuses maps that leave a fixture line
// or the switch power unconnected.
func mcp2221Config() (bus.MCP2221Config, error) {
	cfg, err := bus.ParseMCP2221Lines(gpLines)
	if err != nil {
		return cfg, err
	}
	if err := fixture.CheckLines(cfg.Mapped(), cfg.PowerGP >= 0); err != nil {
		return cfg, fmt.Errorf("--gp-lines %s cannot drive the fixture: %w", gpLines, err)
	}
	return cfg, nil
}

// createAdapter opens the bus adapter selected by --adapter. The simulator
// comes with a simulated bench answering at addr, powered by supply when that
// is a simulated supply as well.
func createAdapter(addr uint8, supply psu.Supply) (bus.Adapter, error) {
	if scenarioFile != "" && adapterType != "simulator" && adapterType != "sim" {
		return nil, fmt.Errorf("--scenario requires the simulator adapter")
	}

	switch adapterType {
	case "simulator", "sim":
		sc := &bench.Scenario{}
		if scenarioFile != "" {
			var err error
			if sc, err = bench.LoadScenario(fs, scenarioFile); err != nil {
				return nil, err
			}
		}
		if verbose {
			fmt.Println("Using simulated bench")
			if !sc.Empty() {
				fmt.Printf("Injected faults:\n%s", sc)
			}
		}

		sim := bus.NewSimAdapter(bus.AdapterInfo{
			Name:          "Bench Simulator",
			Vendor:        "OpenTraceLab",
			Model:         "Sim-1.0",
			MinBitrateKHz: 1,
			MaxBitrateKHz: 1000,
			GPIOLines:     6,
			GPIOMask:      0x3F,
			HasPullups:    true,
			HasTargetPwr:  true,
		})
		simSupply, _ := supply.(*psu.SimSupply)
		if _, err := bench.New(sim, addr, sc, simSupply); err != nil {
			return nil, err
		}
		return sim, nil

	case "mcp2221":
		cfg, err := mcp2221Config()
		if err != nil {
			return nil, err
		}
		if verbose {
			fmt.Println("Opening MCP2221A...")
		}
		return bus.NewMCP2221Adapter(cfg)

	default:
		return nil, fmt.Errorf("unknown adapter type: %s (supported: simulator, mcp2221)", adapterType)
	}
}
