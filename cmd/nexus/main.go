// Package main provides the CLI entry point for the Nexus agent runtime.
//
// Nexus runs a single agent loop against a configured LLM provider with
// tool execution and session persistence. The CLI exposes exactly the
// collaborator surface the runtime defines: run, subscribe, reset,
// listSessions, getHistory.
//
// # Basic Usage
//
//	nexus run --key main "what time is it in Tokyo?"
//	nexus sessions list
//	nexus sessions history --key main
//	nexus sessions reset --key main
//
// # Environment Variables
//
//   - NEXUS_CONFIG: path to the configuration file (default: nexus.yaml)
//   - ANTHROPIC_API_KEY, OPENAI_API_KEY: provider credentials, also settable in config
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags during release builds.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// Separated from main() to facilitate testing.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "nexus",
		Short: "Nexus - AI agent runtime CLI",
		Long: `Nexus drives a single-agent run loop against a configured LLM provider.

Commands: run, sessions (list, history, reset), setup, service`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringP("config", "c", resolveConfigPath(""), "Path to YAML configuration file")

	rootCmd.AddCommand(
		buildRunCmd(),
		buildSessionsCmd(),
		buildSetupCmd(),
		buildServiceCmd(),
	)
	return rootCmd
}

// resolveConfigPath returns path if non-empty, else NEXUS_CONFIG, else the
// default "nexus.yaml" in the working directory.
func resolveConfigPath(path string) string {
	if path != "" {
		return path
	}
	if env := os.Getenv("NEXUS_CONFIG"); env != "" {
		return env
	}
	return "nexus.yaml"
}
