package cmd

import (
	"context"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"proofwatch/internal/bootstrap"
	"proofwatch/internal/bootstrap/logging"
	"proofwatch/internal/errs"
)

// runWithApp boots the fx container, populates the requested targets (the
// *bootstrap.App is always available), runs the command body, and tears the
// container down afterwards.
func runWithApp(cmd *cobra.Command, targets []any, run func(ctx context.Context, app *bootstrap.App) error) error {
	ctx := logging.WithAttrs(
		cmd.Context(),
		slog.String("command", cmd.CommandPath()),
		slog.String("config_file", cfgFile),
	)

	var app *bootstrap.App
	fxApp := fx.New(
		bootstrap.Module,
		fx.Provide(func() context.Context { return ctx }),
		fx.Provide(
			fx.Annotate(
				func() string { return cfgFile },
				fx.ResultTags(`name:"configFile"`),
			),
		),
		fx.Populate(append([]any{&app}, targets...)...),
	)

	startCtx, cancelStart := context.WithTimeout(ctx, 10*time.Second)
	defer cancelStart()
	if err := fxApp.Start(startCtx); err != nil {
		logging.Error(ctx, "bootstrap application failed", slog.Any("err", errs.Loggable(err)))
		return errs.Wrap(err, "start fx application")
	}

	defer func() {
		stopCtx, cancelStop := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancelStop()
		if err := fxApp.Stop(stopCtx); err != nil {
			logging.Error(ctx, "fx application stop failed", slog.Any("err", errs.Loggable(err)))
		}
	}()

	if err := run(ctx, app); err != nil {
		return errs.Wrap(err, "run command")
	}
	return nil
}
