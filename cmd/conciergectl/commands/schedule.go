package commands

import (
	"context"
	"fmt"

	"guest-concierge/internal/app"
	"guest-concierge/internal/schedule"

	"github.com/spf13/cobra"
)

func newSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Deliver due scheduled messages and materialize recurring tasks once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				res, err := a.Engine.Sweep(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}
}

func newRetryFailedCmd() *cobra.Command {
	var f schedule.RetryFilter
	cmd := &cobra.Command{
		Use:   "retry-failed",
		Short: "Reset failed scheduled messages to pending",
		Long: `Resets failed scheduled messages to pending so the next sweep sends them
again. Without filters every failed message is reset.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				n, err := a.Engine.RetryFailed(ctx, f)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d message(s) reset to pending\n", n)
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVar(&f.IDs, "id", nil, "scheduled message id (repeatable)")
	cmd.Flags().StringVar(&f.BookingID, "booking", "", "only messages for this booking")
	cmd.Flags().StringVar(&f.PropertyID, "property", "", "only messages for this property")
	return cmd
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print scheduled message counts by status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				st, err := a.Engine.Stats(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), st)
			})
		},
	}
}
