package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Hawon-Oh/NyamNyamPing/internal/app"
)

const stopTimeout = 10 * time.Second

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Connect to the chat platform and run the scheduler",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, err := app.NewApp(ctx, flagConfig)
			if err != nil {
				return err
			}
			if err := a.Start(ctx); err != nil {
				sctx, scancel := context.WithTimeout(context.Background(), stopTimeout)
				_ = a.Stop(sctx, app.StopFatalError)
				scancel()
				return err
			}

			reason := app.StopSignal
			select {
			case <-ctx.Done():
			case <-a.Done():
				if a.Err() != nil {
					reason = app.StopFatalError
				}
			}
			sctx, scancel := context.WithTimeout(context.Background(), stopTimeout)
			defer scancel()
			_ = a.Stop(sctx, reason)
			return a.Err()
		},
	}
}
