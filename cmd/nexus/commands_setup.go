package main

import (
	"fmt"
	"strings"

	"github.com/haasonsaas/nexus/internal/config"
	"github.com/haasonsaas/nexus/internal/workspace"
	"github.com/spf13/cobra"
)

// buildSetupCmd creates the "setup" command for initializing a workspace
// with its bootstrap files (AGENTS.md, SOUL.md, USER.md, ...).
func buildSetupCmd() *cobra.Command {
	var workspaceDir string
	var overwrite bool

	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Initialize a workspace with bootstrap files",
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			cfg := &config.Config{Workspace: config.DefaultWorkspaceConfig()}
			if loaded, err := config.Load(resolveConfigPath(configPath)); err == nil {
				cfg = loaded
			}
			if strings.TrimSpace(workspaceDir) != "" {
				cfg.Workspace.Path = workspaceDir
			}

			files := workspace.BootstrapFilesForConfig(cfg)
			result, err := workspace.EnsureWorkspaceFiles(cfg.Workspace.Path, files, overwrite)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Workspace ready: %s\n", cfg.Workspace.Path)
			if len(result.Created) > 0 {
				fmt.Fprintln(out, "Created:")
				for _, path := range result.Created {
					fmt.Fprintf(out, "  - %s\n", path)
				}
			}
			if len(result.Skipped) > 0 {
				fmt.Fprintln(out, "Skipped (already exists):")
				for _, path := range result.Skipped {
					fmt.Fprintf(out, "  - %s\n", path)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&workspaceDir, "workspace", "", "Workspace directory to initialize (overrides config)")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Overwrite existing bootstrap files")
	return cmd
}
