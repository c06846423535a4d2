// Package main provides the CLI entry point for AgentSH, an
// agent-driven shell: an interactive REPL that routes each line to
// either a literal shell command or an LLM-driven Agent Loop, backed by
// a security controller, a long-term memory store, and a multi-device
// coordinator for fleet-wide rollouts.
//
// # Basic Usage
//
// Start the interactive shell:
//
//	agentsh --config agentsh.yaml
//
// Check system status:
//
//	agentsh status
//
// Start the remote-integration server:
//
//	agentsh --mcp-server
//
// Pair a new device:
//
//	agentsh devices add worker-1.example.com
//
// # Environment Variables
//
// Configuration can be provided via environment variables:
//
//   - AGENTSH_<KEY>: overrides any scalar config key (nested keys use __)
//   - ANTHROPIC_API_KEY: Anthropic API key for Claude models
//   - OPENAI_API_KEY: OpenAI API key for GPT models
//   - OLLAMA_HOST: Ollama server address
//   - AGENTSH_MCP_TOKEN: bearer token the --mcp-server surface requires
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information - populated by ldflags during build.
//
// Example build command:
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version = "dev"     // Semantic version (e.g., "v1.0.0")
	commit  = "none"    // Git commit SHA
	date    = "unknown" // Build timestamp
)

// main is the entry point for the AgentSH CLI.
func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// Separated from main() to facilitate testing.
func buildRootCmd() *cobra.Command {
	var (
		configPath string
		logLevel   string
		mcpServer  bool
		mcpAddr    string
	)

	rootCmd := &cobra.Command{
		Use:   "agentsh",
		Short: "AgentSH - an agent-driven shell",
		Long: `AgentSH classifies every line you type as a literal shell command, a
natural-language goal for the LLM, or a shell-builtin/meta command, and
routes it accordingly. Commands subject to the security policy may
require interactive approval before they run.

Run with no subcommand to start the interactive shell.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if mcpServer {
				return runMCPServer(cmd, configPath, mcpAddr)
			}
			return runShell(cmd, configPath, logLevel)
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: DEBUG, INFO, WARNING, ERROR (default from config)")
	rootCmd.Flags().BoolVar(&mcpServer, "mcp-server", false, "Start the remote-integration (MCP) gRPC server instead of the interactive shell")
	rootCmd.Flags().StringVar(&mcpAddr, "mcp-addr", ":7337", "Listen address for --mcp-server")

	rootCmd.AddCommand(
		buildConfigCmd(),
		buildStatusCmd(),
		buildDevicesCmd(),
	)

	return rootCmd
}
