package main

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/loykin/webvisor"
	"github.com/loykin/webvisor/internal/env"
	"github.com/loykin/webvisor/internal/logger"
	"github.com/loykin/webvisor/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

// createWorkerCommand creates the hidden worker subcommand the supervisor
// re-executes for every child worker.
func createWorkerCommand(globalFlags *GlobalFlags, workerFlags *WorkerFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:    "worker",
		Short:  "Serve one application slot (spawned by the supervisor)",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorkerCommand(cmd, globalFlags, workerFlags)
		},
	}

	cmd.Flags().StringVar(&workerFlags.App, "app", "", "application name")
	cmd.Flags().IntVar(&workerFlags.Slot, "slot", 0, "worker slot")
	cmd.Flags().StringVar(&workerFlags.Environment, "env", "", "environment name")

	return cmd
}

// workerIdentity fills missing flags from the variables the spawner exports.
func workerIdentity(flags *WorkerFlags) error {
	if flags.App == "" {
		flags.App = os.Getenv(env.VarApp)
	}
	if flags.App == "" {
		return fmt.Errorf("--app is required")
	}
	if flags.Slot == 0 {
		if s := os.Getenv(env.VarSlot); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil {
				return fmt.Errorf("invalid %s %q: %w", env.VarSlot, s, err)
			}
			flags.Slot = n
		}
	}
	if flags.Environment == "" {
		flags.Environment = os.Getenv(env.VarEnv)
	}
	return nil
}

func runWorkerCommand(cmd *cobra.Command, globalFlags *GlobalFlags, flags *WorkerFlags) error {
	if err := workerIdentity(flags); err != nil {
		return err
	}
	cfg, err := loadConfig(globalFlags.ConfigPath, flags.Environment)
	if err != nil {
		return err
	}

	// stderr is captured (and rotated) by the supervisor
	logOpts := cfg.Log
	logOpts.File = ""
	log, closer, err := logger.New(logOpts, cmd.ErrOrStderr())
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = closer.Close() }()
	log = log.With("app", flags.App, "slot", flags.Slot, "pid", os.Getpid())
	gin.SetMode(gin.ReleaseMode)

	if cfg.Metrics.Enabled {
		if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
			log.Warn("failed to register metrics", "error", err)
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := webvisor.RunWorker(ctx, cfg, flags.App, webvisor.WorkerOptions{Logger: log}); err != nil {
		log.Error("worker failed", "error", err)
		return err
	}
	log.Info("worker stopped")
	return nil
}
