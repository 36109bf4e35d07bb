package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/loykin/webvisor"
	"github.com/spf13/cobra"
)

// createCheckCommand creates the check subcommand
func createCheckCommand(globalFlags *GlobalFlags) *cobra.Command {
	var environment string
	cmd := &cobra.Command{
		Use:   "check [config.toml]",
		Short: "Validate a configuration and print the plan",
		Long: `Validate the configuration file and print what serve would run.
All configuration errors are reported at once.

Examples:
  webvisor check --config webvisor.toml
  webvisor check webvisor.toml --env local`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath := globalFlags.ConfigPath
			if len(args) > 0 {
				configPath = args[0]
			}
			cfg, err := loadConfig(configPath, environment)
			if err != nil {
				return err
			}
			if err := cfg.Validate(webvisor.NewRegistry().Kinds()); err != nil {
				return fmt.Errorf("invalid configuration:\n%w", err)
			}
			if _, err := cfg.GlobalEnv(); err != nil {
				return fmt.Errorf("env files: %w", err)
			}
			return printPlan(cmd.OutOrStdout(), cfg)
		},
	}

	cmd.Flags().StringVar(&environment, "env", "", "environment name (overrides config and WEBVISOR_ENV)")

	return cmd
}

func printPlan(out io.Writer, cfg *webvisor.Config) error {
	_, _ = fmt.Fprintf(out, "environment: %s\n", cfg.Environment)
	if cfg.Admin.Listen != "" {
		_, _ = fmt.Fprintf(out, "admin:       %s\n", cfg.Admin.Listen)
	}
	if cfg.Metrics.Enabled {
		listen := cfg.Metrics.Listen
		if listen == "" {
			listen = "admin /metrics"
		}
		_, _ = fmt.Fprintf(out, "metrics:     %s\n", listen)
	}
	if cfg.History.DSN != "" {
		scheme, _, _ := strings.Cut(cfg.History.DSN, "://")
		_, _ = fmt.Fprintf(out, "history:     %s\n", scheme)
	}
	_, _ = fmt.Fprintln(out)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "APP\tENABLED\tMODE\tWORKERS\tHANDLER\tLISTEN\tTLS\tRESTART\tRUN AS")
	for _, app := range cfg.Apps {
		mode := "processes"
		if app.InProcess() {
			mode = "in-process"
		}
		tlsAddr := "-"
		if app.SSL.Enable {
			tlsAddr = app.TLSAddr()
		}
		runAs := "-"
		if app.RunAs.Enable {
			runAs = app.RunAs.UID
			if app.RunAs.GID != "" {
				runAs += ":" + app.RunAs.GID
			}
		}
		_, _ = fmt.Fprintf(w, "%s\t%t\t%s\t%d\t%s\t%s\t%s\t%t\t%s\n",
			app.Name, app.Enabled, mode, app.Workers(), app.HandlerKind(), app.Addr(), tlsAddr, app.AutoRestart, runAs)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if len(cfg.ProxyRules) == 0 {
		return nil
	}
	_, _ = fmt.Fprintln(out)
	w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "HOST\tTARGET\tMIRRORS\tTLS")
	for _, r := range cfg.ProxyRules {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%t\n", r.PublicHostname, r.Target.URL, len(r.Mirrors), r.SSL.Enable)
	}
	return w.Flush()
}
