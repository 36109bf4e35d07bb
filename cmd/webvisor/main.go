package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildRoot creates the root command with every subcommand attached.
func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	root := createRootCommand(globalFlags)
	root.AddCommand(
		createServeCommand(globalFlags, &ServeFlags{}),
		createWorkerCommand(globalFlags, &WorkerFlags{}),
		createCheckCommand(globalFlags),
		createStatusCommand(globalFlags, &StatusFlags{}),
		createStopCommand(&StopFlags{}),
		createCertCommand(&CertFlags{}),
		createTemplateCommand(&TemplateFlags{}),
	)
	return root
}

// createRootCommand creates the root command with minimal persistent flags
func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "webvisor",
		Short: "Supervisor for pools of web server workers",
		Long: `Webvisor runs every application of a TOML configuration as a pool of
worker processes (or in-process when a single worker is configured),
restarts workers that exit, and exposes an admin API.

Examples:
  webvisor check --config webvisor.toml
  webvisor serve --config webvisor.toml --env staging
  webvisor status --admin-url http://127.0.0.1:9900`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file")

	return root
}
