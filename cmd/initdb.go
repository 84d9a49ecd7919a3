package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"proofwatch/internal/bootstrap"
	"proofwatch/internal/bootstrap/logging"
)

var initDbCmd = &cobra.Command{
	Use:   "init-db",
	Short: "Create or migrate the database schema",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runWithApp(cmd, nil, func(ctx context.Context, app *bootstrap.App) error {
			if err := app.InitSchema(ctx); err != nil {
				return err
			}
			logging.Info(ctx, "database ready")
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(initDbCmd)
}
