package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/Hawon-Oh/NyamNyamPing/internal/config"
)

var flagConfig string

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "nyamnyam",
		Short:        "Daily cafeteria menu notifications for chat servers",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&flagConfig, "config", "c", "./config.yaml", "path to the settings document (yaml or json)")

	root.AddCommand(
		newRunCmd(),
		newFetchCmd(),
		newPlanCmd(),
		newTenantsCmd(),
		newValidateCmd(),
	)
	// Bare invocation runs the bot.
	root.RunE = newRunCmd().RunE
	return root
}

func loadConfig(ctx context.Context) (*config.Config, error) {
	m := config.NewConfigManager(flagConfig)
	m.SetValidator(func(_ context.Context, cfg *config.Config) error { return config.Validate(cfg) })
	return m.Load(ctx)
}
