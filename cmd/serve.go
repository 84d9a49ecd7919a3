package cmd

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"proofwatch/internal/api"
	"proofwatch/internal/bootstrap"
	"proofwatch/internal/bootstrap/logging"
	"proofwatch/internal/errs"
	"proofwatch/internal/transport/pushws"
	"proofwatch/internal/usecase/delivery"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the notification engine",
	Long:  "Starts the push channel websocket server, the HTTP API, and the reconciler loop.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		var (
			engine    *delivery.Service
			pushSrv   *pushws.Server
			apiServer *api.Server
		)
		return runWithApp(cmd, []any{&engine, &pushSrv, &apiServer}, func(ctx context.Context, app *bootstrap.App) error {
			if err := app.InitSchema(ctx); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			pushMux := http.NewServeMux()
			pushMux.Handle(app.Config.Push.Path, pushSrv)
			pushHTTP := &http.Server{Addr: app.Config.Push.Addr, Handler: pushMux}
			apiHTTP := &http.Server{Addr: app.Config.API.Addr, Handler: apiServer.Router()}

			errCh := make(chan error, 3)
			go func() {
				logging.Info(ctx, "push channel listening",
					slog.String("addr", app.Config.Push.Addr),
					slog.String("path", app.Config.Push.Path),
				)
				errCh <- pushHTTP.ListenAndServe()
			}()
			go func() {
				logging.Info(ctx, "api listening", slog.String("addr", app.Config.API.Addr))
				errCh <- apiHTTP.ListenAndServe()
			}()
			go func() {
				errCh <- engine.RunReconciler(ctx)
			}()

			var runErr error
			select {
			case <-ctx.Done():
				logging.Info(ctx, "shutdown signal received")
			case err := <-errCh:
				if err != nil && !errors.Is(err, http.ErrServerClosed) && !errors.Is(err, context.Canceled) {
					logging.Error(ctx, "engine component failed", slog.Any("err", errs.Loggable(err)))
					runErr = err
				}
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := pushHTTP.Shutdown(shutdownCtx); err != nil {
				logging.Warn(ctx, "push server shutdown failed", slog.Any("err", errs.Loggable(err)))
			}
			if err := apiHTTP.Shutdown(shutdownCtx); err != nil {
				logging.Warn(ctx, "api server shutdown failed", slog.Any("err", errs.Loggable(err)))
			}
			return runErr
		})
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
