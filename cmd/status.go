package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"proofwatch/internal/bootstrap"
	"proofwatch/internal/ports"
	"proofwatch/internal/usecase/statusview"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print a snapshot of subscribers, events, and deliveries",
	RunE: func(cmd *cobra.Command, _ []string) error {
		var (
			subs   ports.SubscriberRepository
			events ports.EventRepository
			ledger ports.DeliveryLedger
		)
		return runWithApp(cmd, []any{&subs, &events, &ledger}, func(ctx context.Context, _ *bootstrap.App) error {
			out, err := statusview.Snapshot(ctx, subs, events, ledger)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
