package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	simulator "github.com/edgeo-scada/modbus-sim"
)

var createForce bool

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a test register file",
	Long: `Create a register file pre-populated with recognizable test values:
ten holding registers, input registers, coils, and discrete inputs each.

The file can then be served with the serve command and read back with any
Modbus client to verify connectivity.`,
	Example: `  modbussim create --file test_registers.json
  modbussim serve --file test_registers.json --port 5020`,
	RunE: runCreate,
}

func init() {
	createCmd.Flags().BoolVar(&createForce, "force", false, "Overwrite an existing file")
}

func runCreate(cmd *cobra.Command, args []string) error {
	path := viper.GetString("file")
	if !createForce {
		if _, err := simulator.LoadConfig(path); err == nil {
			return fmt.Errorf("%s already exists, use --force to overwrite", path)
		}
	}

	store := simulator.NewStore()
	holding := []uint16{12345, 54321, 9999, 8888, 7777, 6666, 5555, 4444, 3333, 2222}
	coils := []bool{true, false, true, false, true, false, true, false, true, false}
	discrete := []bool{true, true, false, false, true, true, false, false, true, false}

	for i, v := range holding {
		if err := store.AddRegister(simulator.RegisterConfig{
			Kind:    simulator.HoldingRegister,
			Address: uint16(i),
			Value:   v,
		}); err != nil {
			return err
		}
	}
	for i := 0; i < 10; i++ {
		if err := store.AddRegister(simulator.RegisterConfig{
			Kind:    simulator.InputRegister,
			Address: uint16(i),
			Value:   uint16(5000 + i),
		}); err != nil {
			return err
		}
	}
	for i, v := range coils {
		if err := store.AddRegister(simulator.RegisterConfig{
			Kind:    simulator.Coil,
			Address: uint16(i),
			Value:   v,
		}); err != nil {
			return err
		}
	}
	for i, v := range discrete {
		if err := store.AddRegister(simulator.RegisterConfig{
			Kind:    simulator.DiscreteInput,
			Address: uint16(i),
			Value:   v,
		}); err != nil {
			return err
		}
	}

	if err := simulator.SaveConfig(store, path); err != nil {
		return err
	}

	fmt.Printf("Created %s with test values\n", path)
	fmt.Println("You can now run the server with:")
	fmt.Printf("  modbussim serve --file %s\n", path)
	return nil
}
