package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/loykin/webvisor"
	"github.com/loykin/webvisor/internal/detector"
	"github.com/loykin/webvisor/internal/logger"
	"github.com/loykin/webvisor/internal/process"
	"github.com/spf13/cobra"
)

// createServeCommand creates the serve subcommand
func createServeCommand(globalFlags *GlobalFlags, serveFlags *ServeFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve [config.toml]",
		Short: "Start the supervisor",
		Long: `Start the supervisor: spawn the worker pools of every enabled
application, restart workers that exit and serve the admin API.

Examples:
  webvisor serve --config webvisor.toml
  webvisor serve webvisor.toml --env local
  webvisor serve --config webvisor.toml --daemonize --pidfile /run/webvisor.pid`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath := globalFlags.ConfigPath
			if len(args) > 0 {
				configPath = args[0]
			}
			return runServe(cmd, configPath, serveFlags)
		},
	}

	cmd.Flags().StringVar(&serveFlags.Environment, "env", "", "environment name (overrides config and WEBVISOR_ENV)")
	cmd.Flags().BoolVar(&serveFlags.Daemonize, "daemonize", false, "run as daemon in background")
	cmd.Flags().StringVar(&serveFlags.PidFile, "pidfile", "", "write the supervisor pid to this file")
	cmd.Flags().StringVar(&serveFlags.LogFile, "logfile", "", "redirect daemon output to file")
	cmd.Flags().DurationVar(&serveFlags.ShutdownTimeout, "shutdown-timeout", 0, "bound the graceful stop (default: longest app drain plus margin)")

	return cmd
}

func runServe(cmd *cobra.Command, configPath string, flags *ServeFlags) error {
	if configPath == "" {
		return fmt.Errorf("config file required for serve command. Use --config=webvisor.toml or provide as argument")
	}
	cfg, err := loadConfig(configPath, flags.Environment)
	if err != nil {
		return err
	}

	if flags.PidFile != "" {
		rec, alive, err := detector.PIDFileDetector{PIDFile: flags.PidFile}.Lookup()
		if err != nil {
			return fmt.Errorf("pid file: %w", err)
		}
		if alive {
			return fmt.Errorf("supervisor already running with PID %d (%s)", rec.PID, flags.PidFile)
		}
	}

	if flags.Daemonize {
		return daemonize(flags.PidFile, flags.LogFile)
	}

	log, closer, err := logger.New(cfg.Log, cmd.ErrOrStderr())
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = closer.Close() }()
	slog.SetDefault(log)
	gin.SetMode(gin.ReleaseMode)

	sup, err := webvisor.New(cfg, webvisor.Options{Logger: log})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := sup.Start(ctx); err != nil {
		_ = sup.Shutdown(context.Background())
		return err
	}

	if flags.PidFile != "" {
		abs, _ := filepath.Abs(configPath)
		pid := os.Getpid()
		rec := process.PIDRecord{PID: pid, Config: abs, StartedAt: time.Now(), StartUnix: detector.StartUnix(pid)}
		if err := process.WritePIDFile(flags.PidFile, rec); err != nil {
			log.Warn("failed to write pid file", "path", flags.PidFile, "error", err)
		} else {
			defer func() { _ = removePidFile(flags.PidFile) }()
		}
	}

	<-ctx.Done()
	log.Info("shutting down")

	sctx := context.Background()
	if flags.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		sctx, cancel = context.WithTimeout(sctx, flags.ShutdownTimeout)
		defer cancel()
	}
	if err := sup.Shutdown(sctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}

// loadConfig reads the configuration and applies a non-empty environment override.
func loadConfig(path, environment string) (*webvisor.Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config file required. Use --config=webvisor.toml")
	}
	cfg, err := webvisor.LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("error loading config: %w", err)
	}
	if environment != "" {
		cfg.Environment = environment
	}
	return cfg, nil
}
