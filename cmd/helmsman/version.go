package main

import (
	"fmt"
	"runtime/debug"

	"github.com/spf13/cobra"
)

// version is stamped by the build; falls back to module build info.
var version = "dev"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the helmsman version",
	Run: func(cmd *cobra.Command, args []string) {
		v := version
		if v == "dev" {
			if bi, ok := debug.ReadBuildInfo(); ok && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
				v = bi.Main.Version
			}
		}
		fmt.Println("helmsman", v)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
