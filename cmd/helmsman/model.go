package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"helmsman/internal/modeltier"
)

var modelCmd = &cobra.Command{
	Use:   "model",
	Short: "Inspect model files and tier resolution",
}

var modelInspectCmd = &cobra.Command{
	Use:   "inspect <path.gguf>",
	Short: "Read GGUF metadata and show the resolved tier profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		meta, err := modeltier.ReadGGUF(args[0])
		if err != nil {
			return fmt.Errorf("read gguf: %w", err)
		}

		params := meta.ParamCount()
		profile := modeltier.Resolve(params)

		fmt.Printf("gguf version:       %d\n", meta.Version)
		fmt.Printf("tensor count:       %d\n", meta.TensorCount)
		fmt.Printf("parameter count:    %d\n", params)
		fmt.Printf("tier:               %d\n", profile.Tier)
		fmt.Printf("instruction budget: %d\n", profile.InstructionBudget)
		fmt.Printf("retry budget:       %d\n", profile.RetryBudget)
		fmt.Printf("compaction aggr.:   %.2f\n", profile.CompactionAggressiveness)
		return nil
	},
}

func init() {
	modelCmd.AddCommand(modelInspectCmd)
	rootCmd.AddCommand(modelCmd)
}
