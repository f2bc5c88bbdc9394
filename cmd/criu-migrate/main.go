// Command criu-migrate is the Glue / CLI bridge (spec §6): it maps
// flags and an optional YAML config file onto config.Config, builds
// the selected Workload, and runs one Experiment Orchestrator pass.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

type cmdGlobal struct {
	flagVersion bool
}

func main() {
	runCmd := cmdRun{}
	app := runCmd.command()
	app.SilenceUsage = true
	app.CompletionOptions = cobra.CompletionOptions{DisableDefaultCmd: true}

	globalCmd := cmdGlobal{}
	runCmd.global = &globalCmd
	app.PersistentFlags().BoolVar(&globalCmd.flagVersion, "version", false, "Print version number")

	app.SetVersionTemplate("{{.Version}}\n")
	app.Version = "0.1.0"

	err := app.Execute()
	if err != nil {
		os.Exit(1)
	}
}
