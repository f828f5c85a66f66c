package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string

	// Global flags
	registerFile string
	verbose      bool

	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "modbussim",
	Short: "A Modbus field-device simulator",
	Long: `modbussim simulates Modbus field devices for testing SCADA software,
protocol clients, and polling logic without physical hardware.

Features:
  - Coils, discrete inputs, input and holding registers
  - Typed register values (integers, floats, strings, booleans)
  - Per-register scaling and byte/word order
  - Injected error behavior (failures, intermittent faults, stale values)
  - Modbus TCP and RTU transports

Examples:
  # Serve a register file over Modbus TCP on port 5020
  modbussim serve --file registers.json --port 5020

  # Serve over RTU on a serial device
  modbussim serve --file registers.json --transport rtu --device /dev/ttyUSB0

  # Create a test register file
  modbussim create --file test_registers.json

  # Print the registers defined in a file
  modbussim dump --file registers.json`,
	Version: version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// Setup logger
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: level,
		}))
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	// Configuration file
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $HOME/.modbussim.yaml)")

	rootCmd.PersistentFlags().StringVarP(&registerFile, "file", "f", "registers.json", "Register definition file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")

	// Bind to viper
	viper.BindPFlag("file", rootCmd.PersistentFlags().Lookup("file"))

	// Add commands
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(dumpCmd)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return
		}

		viper.AddConfigPath(home)
		viper.AddConfigPath(".")
		viper.SetConfigName(".modbussim")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("MODBUSSIM")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		if verbose {
			fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
		}
	}
}
