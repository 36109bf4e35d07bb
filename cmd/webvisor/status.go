package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/loykin/webvisor/pkg/client"
	"github.com/spf13/cobra"
)

// createStatusCommand creates the status subcommand
func createStatusCommand(globalFlags *GlobalFlags, statusFlags *StatusFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show worker pools of a running supervisor",
		Long: `Query the admin API of a running supervisor.

Examples:
  webvisor status --admin-url http://127.0.0.1:9900
  webvisor status --config webvisor.toml --app web
  webvisor status --app web --history 20
  webvisor status --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			base, err := adminURL(globalFlags, statusFlags)
			if err != nil {
				return err
			}
			c := client.New(client.Config{BaseURL: base, Timeout: statusFlags.Timeout, Insecure: statusFlags.Insecure})
			return runStatus(cmd, c, statusFlags)
		},
	}

	cmd.Flags().StringVar(&statusFlags.AdminURL, "admin-url", "", "admin API base URL (default: from --config, else http://127.0.0.1:9900)")
	cmd.Flags().StringVar(&statusFlags.App, "app", "", "show a single application")
	cmd.Flags().IntVar(&statusFlags.History, "history", 0, "also show the last N lifecycle events")
	cmd.Flags().BoolVar(&statusFlags.JSON, "json", false, "print raw JSON")
	cmd.Flags().BoolVar(&statusFlags.Insecure, "insecure", false, "skip TLS verification")
	cmd.Flags().DurationVar(&statusFlags.Timeout, "timeout", 10*time.Second, "request timeout")

	return cmd
}

// adminURL picks the explicit flag, then the admin listener of --config.
func adminURL(globalFlags *GlobalFlags, flags *StatusFlags) (string, error) {
	if flags.AdminURL != "" {
		return flags.AdminURL, nil
	}
	if globalFlags.ConfigPath == "" {
		return "", nil
	}
	cfg, err := loadConfig(globalFlags.ConfigPath, "")
	if err != nil {
		return "", err
	}
	if cfg.Admin.Listen == "" {
		return "", fmt.Errorf("admin API is not enabled in %s", globalFlags.ConfigPath)
	}
	host, port, err := net.SplitHostPort(cfg.Admin.Listen)
	if err != nil {
		return "", fmt.Errorf("invalid admin.listen %q: %w", cfg.Admin.Listen, err)
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port), nil
}

func runStatus(cmd *cobra.Command, c *client.Client, flags *StatusFlags) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	var apps []client.AppStatus
	if flags.App != "" {
		st, err := c.AppStatus(ctx, flags.App)
		if err != nil {
			return err
		}
		apps = []client.AppStatus{st}
	} else {
		var err error
		if apps, err = c.Status(ctx); err != nil {
			return err
		}
	}

	var events []client.HistoryEvent
	if flags.History > 0 {
		var err error
		if events, err = c.History(ctx, flags.App, flags.History); err != nil {
			return err
		}
	}

	if flags.JSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if flags.History > 0 {
			return enc.Encode(map[string]any{"apps": apps, "history": events})
		}
		return enc.Encode(apps)
	}

	if err := printStatus(out, apps); err != nil {
		return err
	}
	if flags.History > 0 {
		_, _ = fmt.Fprintln(out)
		return printHistory(out, events)
	}
	return nil
}

func printStatus(out io.Writer, apps []client.AppStatus) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "APP\tENABLED\tRUNNING\tRESTARTS\tFAILURES\tPIDS")
	for _, a := range apps {
		pids := make([]string, 0, len(a.Workers))
		for _, wk := range a.Workers {
			pid := fmt.Sprintf("%d", wk.PID)
			if wk.InProcess {
				pid += "*"
			}
			if wk.Usage != nil {
				pid += fmt.Sprintf("(%.1f%% %.1fMB)", wk.Usage.CPUPercent, wk.Usage.MemoryMB)
			}
			pids = append(pids, pid)
		}
		_, _ = fmt.Fprintf(w, "%s\t%t\t%d/%d\t%d\t%d\t%s\n",
			a.App, a.Enabled, a.Running, a.Desired, a.Restarts, a.Failures, strings.Join(pids, " "))
	}
	return w.Flush()
}

func printHistory(out io.Writer, events []client.HistoryEvent) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "TIME\tEVENT\tAPP\tSLOT\tPID\tEXIT")
	for _, e := range events {
		exit := "-"
		if e.Type == "exit" {
			exit = fmt.Sprintf("%d", e.Record.ExitCode)
			if e.Record.Signal != "" {
				exit = e.Record.Signal
			}
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n",
			e.OccurredAt.Local().Format(time.DateTime), e.Type, e.Record.App, e.Record.Slot, e.Record.PID, exit)
	}
	return w.Flush()
}
