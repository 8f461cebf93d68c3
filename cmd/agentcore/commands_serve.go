package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentforge/corerun/internal/config"
)

// buildServeCmd creates the "serve" command that runs the agent main
// loop (C11) against the registered console channel until SIGINT/
// SIGTERM, per §4.10's startup sequence.
func buildServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the agent main loop",
		Long: `Assemble every component (session engine, job scheduler, tool registry,
sandbox manager, LLM provider chain) from the config file and run the
agent main loop against the console channel until interrupted.`,
		Example: `  agentcore serve
  agentcore serve --config /etc/agentcore/config.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	return cmd
}

func runServe(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	c, err := buildComponents(cfg, slog.Default())
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := c.tracerShutdown(shutdownCtx); err != nil {
			slog.Warn("tracer shutdown failed", "error", err)
		}
		if err := c.store.Close(); err != nil {
			slog.Warn("persistence store close failed", "error", err)
		}
	}()

	if err := c.store.RunMigrations(ctx); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	slog.Info("agentcore starting", "agent", cfg.AgentName, "persistence", cfg.Persistence.Driver)
	return c.loop.Run(ctx)
}
