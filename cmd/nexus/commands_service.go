package main

import (
	"fmt"

	"github.com/haasonsaas/nexus/internal/service"
	"github.com/spf13/cobra"
)

// buildServiceCmd creates the "service" command group for installing and
// repairing the user-level systemd/launchd service file.
func buildServiceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "service",
		Short: "Manage service installation files",
	}
	cmd.AddCommand(buildServiceInstallCmd(false), buildServiceInstallCmd(true))
	return cmd
}

func buildServiceInstallCmd(repair bool) *cobra.Command {
	var restart bool
	use, short := "install", "Install a user-level service file"
	if repair {
		use, short = "repair", "Rewrite the user-level service file"
	}
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			result, err := service.InstallUserService(resolveConfigPath(configPath), repair)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Service file written: %s\n", result.Path)
			if restart {
				steps, err := service.RestartUserService(cmd.Context())
				if err != nil {
					fmt.Fprintf(out, "Service restart failed: %v\n", err)
					for _, step := range steps {
						fmt.Fprintf(out, "  - %s\n", step)
					}
					return err
				}
				fmt.Fprintln(out, "Service restarted.")
			}
			for _, step := range result.Instructions {
				fmt.Fprintf(out, "  - %s\n", step)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&restart, "restart", true, "Restart the service after writing the file")
	return cmd
}
