package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"helmsman/internal/config"
	"helmsman/internal/logging"
)

var (
	cfgPath string
	verbose bool

	cfg *config.Config
)

// rootCmd is the base command.
var rootCmd = &cobra.Command{
	Use:   "helmsman",
	Short: "helmsman - control plane for instruction-driven model sessions",
	Long: `helmsman drives autonomous model sessions: it discloses an instruction
vocabulary sized to the model, extracts and repairs instructions from the
model's output, classifies failed turns into a recovery taxonomy, and
compacts conversation history to fit the context window.

Execution of instructions is delegated to an executor; helmsman decides
what should run and why.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.LoadConfig(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		level := cfg.Logging.Level
		if verbose {
			level = "debug"
		}
		if err := logging.Initialize(cfg.Logging.Dir, level); err != nil {
			return fmt.Errorf("init logging: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
