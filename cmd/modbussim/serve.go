package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	simulator "github.com/edgeo-scada/modbus-sim"
)

var (
	serveHost      string
	servePort      int
	serveTransport string
	serveDevice    string
	serveBaud      int
	serveDataBits  int
	serveStopBits  int
	serveParity    string
	serveUnitID    uint8
	serveMaxConns  int
	serveTimeout   time.Duration
	serveSeed      int64
	serveWatch     bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve a register file over Modbus TCP or RTU",
	Long: `Serve the registers defined in a JSON file over Modbus TCP or RTU.

The server runs until interrupted. Register values, scaling, byte/word
order, and error behavior all come from the register file.`,
	Example: `  modbussim serve --file registers.json --port 5020
  modbussim serve --file registers.json --host 0.0.0.0 --port 502 --unit 1
  modbussim serve --file registers.json --transport rtu --device /dev/ttyUSB0 --baud 19200`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVarP(&serveHost, "host", "H", "", "Listen host (TCP)")
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 5020, "Listen port (TCP)")
	serveCmd.Flags().StringVarP(&serveTransport, "transport", "T", "tcp", "Transport: tcp, rtu")
	serveCmd.Flags().StringVarP(&serveDevice, "device", "d", "", "Serial device path (RTU)")
	serveCmd.Flags().IntVar(&serveBaud, "baud", 9600, "Baud rate (RTU)")
	serveCmd.Flags().IntVar(&serveDataBits, "data-bits", 8, "Data bits (RTU)")
	serveCmd.Flags().IntVar(&serveStopBits, "stop-bits", 1, "Stop bits (RTU)")
	serveCmd.Flags().StringVar(&serveParity, "parity", "N", "Parity: N, E, O (RTU)")
	serveCmd.Flags().Uint8VarP(&serveUnitID, "unit", "u", 0, "Unit ID to answer (0 = answer all)")
	serveCmd.Flags().IntVar(&serveMaxConns, "max-connections", 100, "Maximum concurrent TCP connections")
	serveCmd.Flags().DurationVarP(&serveTimeout, "read-timeout", "t", 30*time.Second, "Per-connection read timeout")
	serveCmd.Flags().Int64Var(&serveSeed, "seed", 0, "RNG seed for intermittent faults (0 = time-based)")
	serveCmd.Flags().BoolVarP(&serveWatch, "watch", "w", true, "Reload the register file when it changes")
}

func runServe(cmd *cobra.Command, args []string) error {
	transport, err := simulator.ParseTransportKind(serveTransport)
	if err != nil {
		return err
	}

	var storeOpts []simulator.StoreOption
	if serveSeed != 0 {
		storeOpts = append(storeOpts, simulator.WithRandSeed(serveSeed))
	}

	engine := simulator.NewEngine(
		simulator.WithEngineLogger(logger),
		simulator.WithStoreOptions(storeOpts...),
		simulator.WithServerOptions(
			simulator.WithMaxConnections(serveMaxConns),
			simulator.WithReadTimeout(serveTimeout),
			simulator.WithUnitID(simulator.UnitID(serveUnitID)),
		),
		simulator.WithSerialConfig(simulator.SerialConfig{
			BaudRate: serveBaud,
			DataBits: serveDataBits,
			StopBits: serveStopBits,
			Parity:   serveParity,
		}),
	)

	if err := engine.LoadConfig(viper.GetString("file")); err != nil {
		return err
	}

	host := serveHost
	port := servePort
	if transport == simulator.TransportRTU {
		if serveDevice == "" {
			return fmt.Errorf("rtu transport requires --device")
		}
		host = serveDevice
	}

	if err := engine.Start(host, port, transport); err != nil {
		return err
	}

	if serveWatch {
		if err := engine.WatchConfig(viper.GetString("file"), time.Second); err != nil {
			engine.Stop()
			return err
		}
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	done := make(chan error, 1)
	go func() { done <- engine.Wait() }()

	select {
	case s := <-sig:
		logger.Info("shutting down", "signal", s.String())
		return engine.Stop()
	case err := <-done:
		return err
	}
}
