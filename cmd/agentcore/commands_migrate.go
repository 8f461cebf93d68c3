package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agentforge/corerun/internal/config"
)

// buildMigrateCmd creates the "migrate" command group that brings C12's
// persistence backend schema up to date without starting the loop.
func buildMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the persistence backend schema",
	}
	cmd.AddCommand(buildMigrateUpCmd())
	return cmd
}

func buildMigrateUpCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrateUp(configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	return cmd
}

func runMigrateUp(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	store, err := buildStore(cfg)
	if err != nil {
		return fmt.Errorf("build persistence store: %w", err)
	}
	defer store.Close()

	if err := store.RunMigrations(context.Background()); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	fmt.Printf("migrations applied (driver=%s)\n", cfg.Persistence.Driver)
	return nil
}
