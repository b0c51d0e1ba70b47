package main

import (
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Hawon-Oh/NyamNyamPing/internal/app"
	"github.com/Hawon-Oh/NyamNyamPing/internal/storage"
	logx "github.com/Hawon-Oh/NyamNyamPing/pkg/logx"
)

func newTenantsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tenants",
		Short: "List the persisted tenant settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd.Context())
			if err != nil {
				return err
			}
			st, err := storage.Open(app.StorageConfig(cfg), logx.Nop())
			if err != nil {
				return err
			}
			defer st.Close()

			recs, err := st.LoadTenants(cmd.Context())
			if err != nil {
				return err
			}
			ids := make([]string, 0, len(recs))
			for id := range recs {
				ids = append(ids, id)
			}
			sort.Strings(ids)

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TENANT\tCHANNEL\tHOLIDAY_SKIP\tSCHEDULER")
			for _, id := range ids {
				r := recs[id]
				fmt.Fprintf(w, "%s\t%s\t%t\t%t\n", id, r.Channel, r.HolidaySkip, r.SchedulerOn)
			}
			return w.Flush()
		},
	}
}
