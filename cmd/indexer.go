package cmd

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"proofwatch/internal/bootstrap"
	"proofwatch/internal/bootstrap/logging"
	"proofwatch/internal/errs"
	"proofwatch/internal/infrastructure/chain/ethlogs"
	"proofwatch/internal/metric"
	"proofwatch/internal/ports"
	"proofwatch/internal/transport/pushws"
	"proofwatch/internal/usecase/ingest"
)

var indexerCmd = &cobra.Command{
	Use:   "indexer",
	Short: "Run the chain indexer",
	Long:  "Backfills historical proof events, follows the live log stream, and pushes new events to the engine.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		var (
			events  ports.EventRepository
			cache   ports.Cache
			metrics *metric.Metrics
		)
		return runWithApp(cmd, []any{&events, &cache, &metrics}, func(ctx context.Context, app *bootstrap.App) error {
			if err := app.InitSchema(ctx); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			chainCfg := app.Config.Chain
			source, err := ethlogs.Dial(ctx, chainCfg.URL, chainCfg.Contract, chainCfg.Topic0)
			if err != nil {
				return errs.Wrap(err, "connect chain source")
			}
			defer func() {
				_ = source.Close()
			}()

			pushCfg := app.Config.Push
			notifier := pushws.NewClient(pushws.ClientConfig{
				URL:             pushCfg.URL,
				ConnectAttempts: pushCfg.ConnectAttempts,
				ConnectDelay:    pushCfg.ConnectDelay,
			})
			if err := notifier.Connect(ctx); err != nil {
				// Storage keeps working without the push channel; the
				// engine reconciler picks the events up from the store.
				logging.Warn(ctx, "push channel unavailable", slog.Any("err", errs.Loggable(err)))
			}

			runner := ingest.NewRunner(events, source, notifier, cache, metrics, ingest.Config{
				FromBlock: chainCfg.FromBlock,
				ChunkSize: chainCfg.ChunkSize,
			})

			if err := runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			logging.Info(ctx, "indexer stopped")
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(indexerCmd)
}
