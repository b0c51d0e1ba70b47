package main

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/Hawon-Oh/NyamNyamPing/internal/app"
	"github.com/Hawon-Oh/NyamNyamPing/internal/task/scheduler"
)

func newPlanCmd() *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Print the scheduled jobs and their next trigger times",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd.Context())
			if err != nil {
				return err
			}
			p, err := app.SchedulePlan(cfg)
			if err != nil {
				return err
			}
			jobs, err := p.Jobs()
			if err != nil {
				return err
			}
			now := time.Now().In(app.Location(cfg))
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "JOB\tAT\tSPEC\tNEXT (%s)\n", app.Timezone(cfg))
			for _, j := range jobs {
				runs, err := scheduler.NextRuns(j.Spec, now, n)
				if err != nil {
					return fmt.Errorf("%s: %w", j.ID, err)
				}
				next := make([]string, 0, len(runs))
				for _, r := range runs {
					next = append(next, r.Format("01-02 Mon 15:04"))
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", j.ID, j.At, j.Spec, strings.Join(next, ", "))
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVarP(&n, "next", "n", 3, "number of upcoming runs per job")
	return cmd
}
