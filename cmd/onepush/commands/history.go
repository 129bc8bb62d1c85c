package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/onepush/onepush/pkg/engine"
)

func newHistoryCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history [RUN_ID]",
		Short: "List past setup and push runs",
		Long: `List recent runs recorded in the history database, newest first.
With a run ID, print that run's events instead.`,
		Example: `  onepush history
  onepush history --limit 5
  onepush history 6f1c2a9e-...`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			store, err := openStore(ctx)
			if err != nil {
				return err
			}
			if store == nil {
				return engine.NewConfigurationError("run history is disabled", nil).
					WithCode(engine.ErrCodeNoConfig)
			}
			defer store.Close()

			out := cmd.OutOrStdout()

			if len(args) == 1 {
				run, err := store.GetRun(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Run %s (%s, %s)\n", run.ID, run.Kind, run.Status)
				if run.Error != nil {
					fmt.Fprintf(out, "Error: %s\n", *run.Error)
				}
				events, err := store.ListEvents(ctx, run.ID, limit)
				if err != nil {
					return err
				}
				for _, e := range events {
					fmt.Fprintf(out, "  %s %-7s %-20s %-28s %s\n",
						e.Timestamp.Local().Format(time.DateTime), e.Level, e.Host, e.Task, e.Message)
				}
				return nil
			}

			runs, err := store.ListRuns(ctx, limit, 0)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Fprintln(out, "No runs recorded yet.")
				return nil
			}
			for _, r := range runs {
				took := "-"
				if r.CompletedAt != nil {
					took = r.CompletedAt.Sub(r.StartedAt).Round(time.Second).String()
				}
				fmt.Fprintf(out, "%s  %-5s  %-9s  %s  %s\n",
					r.ID, r.Kind, r.Status, r.StartedAt.Local().Format(time.DateTime), took)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of runs or events to show")

	return cmd
}
