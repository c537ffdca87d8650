package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/podcast-intel/internal/budget"
	"github.com/sells-group/podcast-intel/internal/cost"
	"github.com/sells-group/podcast-intel/internal/model"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show episode counts and budget state",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		counts, err := st.CountByStatus(ctx)
		if err != nil {
			return eris.Wrap(err, "count episodes")
		}

		ledger := budget.NewLedger(st, budget.Limits{
			Daily:  cost.FromFloat(cfg.Budget.DailyLimitUSD),
			Weekly: cost.FromFloat(cfg.Budget.WeeklyLimitUSD),
		})
		daily, weekly, err := ledger.Snapshot(ctx)
		if err != nil {
			return eris.Wrap(err, "budget snapshot")
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "Episodes")
		for _, s := range []model.EpisodeStatus{
			model.StatusDiscovered,
			model.StatusAdmitted,
			model.StatusExtracted,
			model.StatusFailed,
			model.StatusSkippedBudget,
			model.StatusSkippedDuplicate,
		} {
			_, _ = fmt.Fprintf(w, "  %s:\t%d\n", s, counts[s])
		}
		_, _ = fmt.Fprintln(w)
		_, _ = fmt.Fprintln(w, "Budget")
		_, _ = fmt.Fprintf(w, "  daily:\t%s of %s\t(since %s)\n",
			daily.Spent, daily.Limit, daily.Start.Format("2006-01-02"))
		_, _ = fmt.Fprintf(w, "  weekly:\t%s of %s\t(since %s)\n",
			weekly.Spent, weekly.Limit, weekly.Start.Format("2006-01-02"))
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
