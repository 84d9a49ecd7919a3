package config

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"

	"proofwatch/internal/bootstrap/logging"
	"proofwatch/internal/errs"
)

type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Push      PushConfig      `mapstructure:"push"`
	API       APIConfig       `mapstructure:"api"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	Chain     ChainConfig     `mapstructure:"chain"`
	Templates TemplatesConfig `mapstructure:"templates"`
}

type AppConfig struct {
	Name string `mapstructure:"name"`
	Env  string `mapstructure:"env"`
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

type EngineConfig struct {
	ReconcileInterval time.Duration `mapstructure:"reconcile_interval"`
	ErrorBackoff      time.Duration `mapstructure:"error_backoff"`
	PageSize          int           `mapstructure:"page_size"`
	Workers           int           `mapstructure:"workers"`
}

type PushConfig struct {
	Addr            string        `mapstructure:"addr"`
	Path            string        `mapstructure:"path"`
	URL             string        `mapstructure:"url"`
	ConnectAttempts int           `mapstructure:"connect_attempts"`
	ConnectDelay    time.Duration `mapstructure:"connect_delay"`
}

type APIConfig struct {
	Addr string `mapstructure:"addr"`
}

type TelegramConfig struct {
	APIBase string `mapstructure:"api_base"`
	Token   string `mapstructure:"token"`
}

type ChainConfig struct {
	URL       string `mapstructure:"url"`
	Contract  string `mapstructure:"contract"`
	Topic0    string `mapstructure:"topic0"`
	FromBlock uint64 `mapstructure:"from_block"`
	ChunkSize uint64 `mapstructure:"chunk_size"`
}

type TemplatesConfig struct {
	Path string `mapstructure:"path"`
}

func Load(ctx context.Context, configFile string) (Config, error) {
	if ctx == nil {
		return Config{}, errors.New("context is required")
	}
	if err := ctx.Err(); err != nil {
		return Config{}, errs.Wrap(err, "check context")
	}

	logCtx := logging.WithAttrs(ctx, slog.String("component", "bootstrap.config"))

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("PW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile == "" && errors.As(err, &notFound) {
			// Keep default and env-backed config when no file is provided.
			logging.Warn(logCtx, "config file not found, fallback to defaults and env")
		} else {
			return Config{}, errs.Wrap(err, "read config")
		}
	} else {
		logging.Info(logCtx, "using config file", slog.String("path", v.ConfigFileUsed()))
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errs.Wrap(err, "unmarshal config")
	}

	if cfg.Database.DSN == "" {
		return Config{}, errors.New("database.dsn is required")
	}

	logging.Info(
		logCtx,
		"config loaded",
		slog.String("app", cfg.App.Name),
		slog.String("env", cfg.App.Env),
		slog.String("database_driver", cfg.Database.Driver),
	)

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "proofwatch")
	v.SetDefault("app.env", "local")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "data/proofwatch.sqlite")

	v.SetDefault("engine.reconcile_interval", "10s")
	v.SetDefault("engine.error_backoff", "30s")
	v.SetDefault("engine.page_size", 50)
	v.SetDefault("engine.workers", 8)

	v.SetDefault("push.addr", ":8765")
	v.SetDefault("push.path", "/ws")
	v.SetDefault("push.url", "ws://localhost:8765/ws")
	v.SetDefault("push.connect_attempts", 3)
	v.SetDefault("push.connect_delay", "5s")

	v.SetDefault("api.addr", ":8000")

	v.SetDefault("telegram.api_base", "https://api.telegram.org")

	v.SetDefault("chain.url", "ws://localhost:8546")
	v.SetDefault("chain.from_block", 0)
	v.SetDefault("chain.chunk_size", 10000)

	v.SetDefault("templates.path", "configs/templates.toml")
}
