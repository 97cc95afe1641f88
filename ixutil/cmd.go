package ixutil

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	ixsim "github.com/puran-water/ix-design-sim"
	"github.com/lnashier/viper"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// version is set at build time via -ldflags.
var version = "dev"

// Cfg holds configuration information for the ixsim CLI.
type Cfg struct {
	*viper.Viper

	Root, simulateCmd, versionCmd *cobra.Command
}

var options []struct {
	name, usage, shorthand string
	defaultVal             interface{}
	flagsets               []*pflag.FlagSet
}

// InitializeConfig builds the cobra/viper command tree for the ixsim
// CLI: a simulate_cycle entry point plus the ambient flags a caller
// needs to point the tool at a PHREEQC binary and a calibration store.
func InitializeConfig() *Cfg {
	cfg := &Cfg{
		Viper: viper.New(),
	}

	cfg.Root = &cobra.Command{
		Use:   "ixsim",
		Short: "Industrial ion-exchange vessel simulation engine.",
		Long: `ixsim simulates softening and dealkalization service/regeneration
cycles for SAC, WAC Na-form, and WAC H-form ion-exchange vessels by
driving PHREEQC and applying an empirical leakage overlay.

Configuration can be set by command-line flag, environment variable
(prefixed IXSIM_), or configuration file (--config).`,
		DisableAutoGenTag: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return setConfig(cfg)
		},
	}

	cfg.versionCmd = &cobra.Command{
		Use:               "version",
		Short:             "Print the version number",
		DisableAutoGenTag: true,
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("ixsim v%s\n", version)
		},
	}

	cfg.simulateCmd = &cobra.Command{
		Use:   "simulate [scenario.json]",
		Short: "Run one simulate_cycle scenario and print the result as JSON.",
		Long: `simulate reads a simulate_cycle scenario file (spec.md §6.1 schema),
runs the WaterModel -> CellPlanner -> ScriptBuilder -> PhreeqcRunner ->
CurveParser -> EmpiricalOverlay -> Controller pipeline, and writes the
resulting Result as JSON to standard output.`,
		Args:              cobra.ExactArgs(1),
		DisableAutoGenTag: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulate(cfg, args[0])
		},
	}

	cfg.Root.PersistentFlags().String("config", "", "path to a configuration file")
	cfg.BindPFlag("config", cfg.Root.PersistentFlags().Lookup("config"))

	options = []struct {
		name, usage, shorthand string
		defaultVal             interface{}
		flagsets               []*pflag.FlagSet
	}{
		{
			name:       "phreeqc_exe",
			usage:      `phreeqc_exe is the path to the PHREEQC batch executable.`,
			defaultVal: "phreeqc",
			flagsets:   []*pflag.FlagSet{cfg.simulateCmd.Flags()},
		},
		{
			name:       "mcp_simulation_timeout_s",
			usage:      `mcp_simulation_timeout_s bounds how long a single PHREEQC invocation may run before being killed.`,
			defaultVal: 600,
			flagsets:   []*pflag.FlagSet{cfg.simulateCmd.Flags()},
		},
		{
			name:       "ix_design_mcp_root",
			usage:      `ix_design_mcp_root is the directory tree holding per-site calibration TOML files.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{cfg.simulateCmd.Flags()},
		},
		{
			name:       "cache_capacity",
			usage:      `cache_capacity bounds the number of cached simulate_cycle results kept in memory per process.`,
			defaultVal: 64,
			flagsets:   []*pflag.FlagSet{cfg.simulateCmd.Flags()},
		},
	}

	cfg.SetEnvPrefix("IXSIM")
	cfg.AutomaticEnv()
	for _, option := range options {
		for i, set := range option.flagsets {
			if i != 0 {
				set.AddFlag(option.flagsets[0].Lookup(option.name))
				continue
			}
			switch v := option.defaultVal.(type) {
			case string:
				set.String(option.name, v, option.usage)
			case int:
				set.Int(option.name, v, option.usage)
			default:
				panic(fmt.Errorf("invalid argument type: %T", option.defaultVal))
			}
		}
		cfg.BindPFlag(option.name, option.flagsets[0].Lookup(option.name))
	}
	// These three settings are also read from their unprefixed
	// environment variable names.
	cfg.BindEnv("phreeqc_exe", "PHREEQC_EXE")
	cfg.BindEnv("mcp_simulation_timeout_s", "MCP_SIMULATION_TIMEOUT_S")
	cfg.BindEnv("ix_design_mcp_root", "IX_DESIGN_MCP_ROOT")

	cfg.Root.AddCommand(cfg.versionCmd, cfg.simulateCmd)
	return cfg
}

// setConfig finds and reads in the configuration file, if there is one.
func setConfig(cfg *Cfg) error {
	if cfgpath := cfg.GetString("config"); cfgpath != "" {
		cfg.SetConfigFile(cfgpath)
		if err := cfg.ReadInConfig(); err != nil {
			return fmt.Errorf("ixsim: problem reading configuration file: %v", err)
		}
	}
	return nil
}

func runSimulate(cfg *Cfg, scenarioPath string) error {
	data, err := os.ReadFile(scenarioPath)
	if err != nil {
		return fmt.Errorf("reading scenario file: %w", err)
	}
	scenario, err := ParseScenario(data)
	if err != nil {
		return err
	}
	feed, vessel, resin, regen, targets, calibKey, err := scenario.ToDomain()
	if err != nil {
		return err
	}

	log := logrus.StandardLogger()
	timeout := time.Duration(cfg.GetInt("mcp_simulation_timeout_s")) * time.Second
	runner := ixsim.NewRunner(cfg.GetString("phreeqc_exe"), timeout, log)

	var store ixsim.CalibrationStore
	if root := cfg.GetString("ix_design_mcp_root"); root != "" {
		store = NewFileCalibrationStore(root)
	} else {
		store = NewFileCalibrationStore("")
	}

	controller := ixsim.NewController(runner, store, log, cfg.GetInt("cache_capacity"))

	ctx, cancel := context.WithTimeout(context.Background(), timeout+30*time.Second)
	defer cancel()

	result, err := controller.SimulateCycle(ctx, feed, vessel, resin, regen, targets, calibKey)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}
