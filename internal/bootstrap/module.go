package bootstrap

import (
	"context"
	"log/slog"

	"go.uber.org/fx"
	"gorm.io/gorm"

	"proofwatch/internal/api"
	"proofwatch/internal/bootstrap/config"
	"proofwatch/internal/bootstrap/database"
	"proofwatch/internal/bootstrap/logging"
	"proofwatch/internal/domain/notify"
	cacheinfra "proofwatch/internal/infrastructure/cache"
	sqliterepo "proofwatch/internal/infrastructure/persistence/sqlite/repository"
	sqliteuow "proofwatch/internal/infrastructure/persistence/sqlite/uow"
	"proofwatch/internal/infrastructure/telegram"
	"proofwatch/internal/metric"
	"proofwatch/internal/ports"
	"proofwatch/internal/transport/pushws"
	"proofwatch/internal/usecase/delivery"
	"proofwatch/internal/usecase/subscription"
)

var Module = fx.Options(
	fx.Provide(provideConfig),
	fx.Provide(provideDatabase),
	fx.Provide(provideApp),
	fx.Provide(
		fx.Annotate(
			sqliterepo.NewSubscriberRepository,
			fx.As(new(ports.SubscriberRepository)),
		),
	),
	fx.Provide(
		fx.Annotate(
			sqliterepo.NewEventRepository,
			fx.As(new(ports.EventRepository)),
		),
	),
	fx.Provide(
		fx.Annotate(
			sqliterepo.NewDeliveryLedger,
			fx.As(new(ports.DeliveryLedger)),
		),
	),
	fx.Provide(
		fx.Annotate(
			sqliteuow.NewUnitOfWork,
			fx.As(new(ports.UnitOfWork)),
		),
	),
	fx.Provide(
		fx.Annotate(
			cacheinfra.NewSQLiteCache,
			fx.As(new(ports.Cache)),
		),
	),
	fx.Provide(metric.New),
	fx.Provide(provideRenderer),
	fx.Provide(provideSender),
	fx.Provide(provideDeliveryService),
	fx.Provide(subscription.NewService),
	fx.Provide(
		fx.Annotate(
			delivery.NewEventIngress,
			fx.As(new(pushws.EventSink)),
		),
	),
	fx.Provide(pushws.NewServer),
	fx.Provide(api.NewServer),
)

type configParams struct {
	fx.In

	Ctx        context.Context
	ConfigFile string `name:"configFile"`
}

func provideConfig(p configParams) (config.Config, error) {
	ctx := logging.WithAttrs(p.Ctx, slog.String("component", "bootstrap.fx"))
	return config.Load(ctx, p.ConfigFile)
}

func provideDatabase(lc fx.Lifecycle, ctx context.Context, cfg config.Config) (*gorm.DB, error) {
	logCtx := logging.WithAttrs(ctx, slog.String("component", "bootstrap.fx"))

	db, err := database.Open(logCtx, cfg.Database)
	if err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStop: func(_ context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.Close()
		},
	})

	return db, nil
}

func provideApp(cfg config.Config, db *gorm.DB) *App {
	return &App{
		Config: cfg,
		DB:     db,
	}
}

func provideRenderer(cfg config.Config) (*notify.Renderer, error) {
	tpl, err := notify.LoadTemplates(cfg.Templates.Path)
	if err != nil {
		return nil, err
	}
	return notify.NewRenderer(tpl), nil
}

func provideSender(cfg config.Config) ports.MessageSender {
	return telegram.NewSender(cfg.Telegram.APIBase, cfg.Telegram.Token)
}

func provideDeliveryService(
	cfg config.Config,
	subs ports.SubscriberRepository,
	ledger ports.DeliveryLedger,
	sender ports.MessageSender,
	renderer *notify.Renderer,
	metrics *metric.Metrics,
) *delivery.Service {
	return delivery.NewService(subs, ledger, sender, renderer, metrics, delivery.Config{
		ReconcileInterval: cfg.Engine.ReconcileInterval,
		ErrorBackoff:      cfg.Engine.ErrorBackoff,
		PageSize:          cfg.Engine.PageSize,
		Workers:           cfg.Engine.Workers,
	})
}
