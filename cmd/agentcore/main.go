// Package main is the agentcore CLI entry point: the execution
// substrate described by SPEC_FULL.md assembled into one binary with
// serve/audit/migrate subcommands.
package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd assembles the root command with every subcommand
// attached, separated from main so tests can exercise it directly.
func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "agentcore",
		Short:        "agentcore - the core execution substrate for an autonomous LLM agent",
		Long:         `agentcore runs the agent main loop (sessions, job contexts, sandboxed tool execution, LLM routing) against one console transport.`,
		Version:      version + " (" + commit + ")",
		SilenceUsage: true,
	}
	root.AddCommand(buildServeCmd(), buildAuditCmd(), buildMigrateCmd())
	return root
}
