package main

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/Hawon-Oh/NyamNyamPing/internal/app"
	"github.com/Hawon-Oh/NyamNyamPing/internal/menu"
	"github.com/Hawon-Oh/NyamNyamPing/internal/menu/kakao"
	logx "github.com/Hawon-Oh/NyamNyamPing/pkg/logx"
)

func newFetchCmd() *cobra.Command {
	var verbose bool
	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Fetch every restaurant once and print the menu text",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd.Context())
			if err != nil {
				return err
			}
			log := logx.Nop()
			if verbose {
				log = logx.NewConsole("debug")
			}
			f := kakao.New(&http.Client{}, app.FetcherConfig(cfg), log)
			results := f.Fetch(cmd.Context(), app.Restaurants(cfg))
			fmt.Fprint(cmd.OutOrStdout(), menu.Format(results, app.Catalog(cfg).Placeholder))
			for _, r := range results {
				if r.Err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", r.Name, r.Err)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "log each request to stderr")
	return cmd
}
