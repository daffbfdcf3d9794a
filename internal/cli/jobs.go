package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"fieldsales-server/internal/jobs"
)

func newJobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Run background jobs by hand",
	}
	cmd.AddCommand(newJobsListCmd(), newJobsRunCmd())
	return cmd
}

func newJobsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the registered jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()
			for _, name := range a.scheduler().Names() {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}
}

func newJobsRunCmd() *cobra.Command {
	var date string

	cmd := &cobra.Command{
		Use:   "run <name>",
		Short: "Run one job now",
		Long:  "Runs a job once in the foreground. daily-report accepts --date to rebuild a past day.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			ctx := a.log.WithContext(cmd.Context())
			if date != "" {
				if args[0] != jobs.DailyReportName {
					return fmt.Errorf("--date only applies to %s", jobs.DailyReportName)
				}
				day, err := time.Parse("2006-01-02", date)
				if err != nil {
					return fmt.Errorf("invalid --date: %w", err)
				}
				return jobs.NewDailyReport(a.db, a.reports, a.store, a.events).Generate(ctx, day)
			}
			return a.scheduler().Run(ctx, args[0])
		},
	}

	cmd.Flags().StringVar(&date, "date", "", "day to build for daily-report (YYYY-MM-DD)")

	return cmd
}
