package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/tempolab/tempo/ctrl"
	"github.com/tempolab/tempo/tables"
)

// exampleControlStates is a four-step ladder for a small multi-core CPU.
// The speedup and cost figures are relative to the lowest state.
var exampleControlStates = []ctrl.ControlState{
	{ID: 0, Speedup: 1.0, Cost: 1.0},
	{ID: 1, Speedup: 1.6, Cost: 1.9},
	{ID: 2, Speedup: 2.4, Cost: 3.1},
	{ID: 3, Speedup: 3.0, Cost: 4.6},
}

var exampleCPUStates = []ctrl.CPUState{
	{ID: 0, Freq: 1_400_000, Cores: 2},
	{ID: 1, Freq: 1_800_000, Cores: 2},
	{ID: 2, Freq: 2_200_000, Cores: 4},
	{ID: 3, Freq: 2_600_000, Cores: 4},
}

var initCmd = &cobra.Command{
	Use:   "init [dir]",
	Short: "Write example control and cpu state table files",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := "."
		if len(args) == 1 {
			dir = args[0]
		}

		controlPath := filepath.Join(dir, "control_config")
		cpuPath := filepath.Join(dir, "cpu_config")

		err := tables.WriteControlStates(controlPath, exampleControlStates)
		if err != nil {
			return err
		}

		err = tables.WriteCPUStates(cpuPath, exampleCPUStates)
		if err != nil {
			return err
		}

		fmt.Printf("Wrote %s and %s\n", controlPath, cpuPath)

		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
