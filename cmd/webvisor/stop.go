package main

import (
	"fmt"
	"os"

	"github.com/loykin/webvisor/internal/detector"
	"github.com/loykin/webvisor/internal/process"
	"github.com/spf13/cobra"
)

// createStopCommand creates the stop subcommand
func createStopCommand(stopFlags *StopFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Gracefully stop a supervisor started with --pidfile",
		Long: `Send a graceful stop request to the supervisor whose pid is
recorded in the pid file. Workers drain before the supervisor exits.

Examples:
  webvisor stop --pidfile /run/webvisor.pid`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if stopFlags.PidFile == "" {
				return fmt.Errorf("--pidfile is required")
			}
			rec, err := process.ReadPIDFile(stopFlags.PidFile)
			if err != nil {
				return fmt.Errorf("read pid file: %w", err)
			}
			if rec.PID <= 0 || rec.PID == os.Getpid() {
				return fmt.Errorf("refusing to signal pid %d", rec.PID)
			}
			_, alive, err := detector.PIDFileDetector{PIDFile: stopFlags.PidFile}.Lookup()
			if err != nil {
				return err
			}
			if !alive {
				return fmt.Errorf("supervisor with PID %d is not running (stale %s)", rec.PID, stopFlags.PidFile)
			}
			if err := process.TerminatePID(rec.PID); err != nil {
				return fmt.Errorf("stop pid %d: %w", rec.PID, err)
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Sent stop request to PID %d\n", rec.PID)
			return nil
		},
	}

	cmd.Flags().StringVar(&stopFlags.PidFile, "pidfile", "", "pid file written by serve")

	return cmd
}
