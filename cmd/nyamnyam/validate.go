package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Hawon-Oh/NyamNyamPing/internal/app"
	"github.com/Hawon-Oh/NyamNyamPing/internal/commands"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the settings document and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd.Context())
			if err != nil {
				return err
			}
			if _, err := commands.BuildTable(cfg.Commands); err != nil {
				return err
			}
			if _, err := app.SchedulePlan(cfg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (%d restaurants, gateway %s)\n", flagConfig, len(cfg.Restaurants), cfg.Gateway.Driver)
			return nil
		},
	}
}
