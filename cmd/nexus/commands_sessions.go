package main

import (
	"fmt"

	"github.com/haasonsaas/nexus/internal/config"
	"github.com/spf13/cobra"
)

// buildSessionsCmd creates the "sessions" command group, covering the
// spec §6 CLI boundary operations listSessions, getHistory, and reset.
func buildSessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect and manage agent sessions",
	}
	cmd.AddCommand(buildSessionsListCmd(), buildSessionsHistoryCmd(), buildSessionsResetCmd())
	return cmd
}

func buildSessionsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every known session key (agent.listSessions)",
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(resolveConfigPath(configPath))
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			controller, closeStore, err := buildController(cfg)
			if err != nil {
				return err
			}
			defer closeStore()

			keys, err := controller.ListSessions(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(keys) == 0 {
				fmt.Fprintln(out, "No sessions.")
				return nil
			}
			for _, key := range keys {
				fmt.Fprintln(out, key)
			}
			return nil
		},
	}
}

func buildSessionsHistoryCmd() *cobra.Command {
	var key string
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print a session's full transcript (agent.getHistory)",
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(resolveConfigPath(configPath))
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			controller, closeStore, err := buildController(cfg)
			if err != nil {
				return err
			}
			defer closeStore()

			messages, err := controller.GetHistory(cmd.Context(), key)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(messages) == 0 {
				fmt.Fprintln(out, "No messages.")
				return nil
			}
			for _, m := range messages {
				fmt.Fprintf(out, "[%s] %s\n", m.Role, m.Text())
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&key, "key", "main", "Session key to fetch history for")
	return cmd
}

func buildSessionsResetCmd() *cobra.Command {
	var key string
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Clear a session's transcript (agent.reset)",
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(resolveConfigPath(configPath))
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			controller, closeStore, err := buildController(cfg)
			if err != nil {
				return err
			}
			defer closeStore()

			if err := controller.Reset(cmd.Context(), key); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Session reset: %s\n", key)
			return nil
		},
	}
	cmd.Flags().StringVar(&key, "key", "main", "Session key to reset")
	return cmd
}
