package main

import (
	"context"
	"fmt"

	"github.com/Gobusters/ectoenv"
	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Ramsey-B/clover/config"
	"github.com/Ramsey-B/clover/db"
	appctx "github.com/Ramsey-B/clover/pkg/context"
	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/graph"
	"github.com/Ramsey-B/clover/pkg/keylock"
	"github.com/Ramsey-B/clover/pkg/startup"
	"github.com/Ramsey-B/clover/pkg/tracing"
	"github.com/Ramsey-B/clover/pkg/tracing/exporters"
)

func loadConfig() (config.Config, error) {
	// A missing .env is fine; the environment may already be set.
	_ = godotenv.Load()

	var cfg config.Config
	if err := ectoenv.BindEnv(&cfg); err != nil {
		return cfg, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg config.Config) (ectologger.Logger, func(), error) {
	zapConfig := zap.NewProductionConfig()
	if cfg.PrettyLogs {
		zapConfig = zap.NewDevelopmentConfig()
	}
	if level, err := zapcore.ParseLevel(cfg.LogLevel); err == nil {
		zapConfig.Level = zap.NewAtomicLevelAt(level)
	}

	zapLogger, err := zapConfig.Build()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build logger: %w", err)
	}

	logger := zapadapter.NewZapEctoLogger(zapLogger, withRequestFields)
	return logger, func() { _ = zapLogger.Sync() }, nil
}

// withRequestFields adds the request and trace ids carried by the log context.
func withRequestFields(msg ectologger.EctoLogMessage) ectologger.EctoLogMessage {
	if msg.Ctx == nil {
		return msg
	}

	fields := appctx.Fields(msg.Ctx)
	if traceID := tracing.GetTraceID(msg.Ctx); traceID != "" {
		fields["trace_id"] = traceID
	}
	for k, v := range msg.Fields {
		fields[k] = v
	}
	msg.Fields = fields
	return msg
}

func setupTracing(ctx context.Context, cfg config.Config) (func(context.Context) error, error) {
	exporter, err := exporters.New(ctx, exporters.OTLPConfig{
		Endpoint: cfg.OTLPEndpoint,
		Protocol: cfg.OTLPProtocol,
		Insecure: cfg.OTLPInsecure,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}
	return tracing.Setup(cfg.AppName, exporter), nil
}

func migrations(cfg config.Config, logger ectologger.Logger) *database.MigrationService {
	return database.NewMigrationService(logger, db.Migrations, db.MigrationsDir, &database.MigrationConfig{
		Version:      uint(cfg.DatabaseMigrationVersion),
		Force:        cfg.DatabaseMigrationForce,
		AutoRollback: cfg.DatabaseMigrationAutoRollback,
	})
}

func openDatabase(cfg config.Config, logger ectologger.Logger) (database.DB, error) {
	return database.Open(database.Config{
		Driver:          cfg.DatabaseDriver,
		DSN:             cfg.DatabaseDSN(),
		MaxOpenConns:    cfg.DatabaseMaxOpenConns,
		MaxIdleConns:    cfg.DatabaseMaxIdleConns,
		ConnMaxLifetime: cfg.DatabaseConnMaxLifetime,
	}, logger)
}

// infra holds the connections shared by the commands. redis and graph are nil when disabled.
type infra struct {
	db    database.DB
	redis *redis.Client
	graph *graph.Client
	boot  *startup.Startup
}

// connect brings up the database, redis and the graph database in order, retrying as configured.
func connect(ctx context.Context, cfg config.Config, logger ectologger.Logger, migrate bool) (*infra, error) {
	conn, err := openDatabase(cfg, logger)
	if err != nil {
		return nil, err
	}

	i := &infra{db: conn, boot: startup.New(logger, cfg.StartupMaxAttempts)}
	i.boot.Add(startup.Func{
		ID:      "database",
		OnStart: func(ctx context.Context) error { return conn.SQL().PingContext(ctx) },
		OnStop:  func(context.Context) error { return conn.Close() },
	})

	if migrate {
		i.boot.Add(startup.Func{
			ID:       "migrations",
			Requires: []string{"database"},
			OnStart:  func(context.Context) error { return migrations(cfg, logger).Migrate(conn) },
		})
	}

	if cfg.RedisURL != "" {
		i.boot.Add(startup.Func{
			ID: "redis",
			OnStart: func(ctx context.Context) error {
				if i.redis != nil {
					return i.redis.Ping(ctx).Err()
				}
				client, err := keylock.Connect(ctx, cfg.RedisURL)
				if err != nil {
					return err
				}
				i.redis = client
				return nil
			},
			OnStop: func(context.Context) error {
				if i.redis == nil {
					return nil
				}
				return i.redis.Close()
			},
		})
	}

	if cfg.GraphEnabled {
		client, err := graph.NewClient(graph.Config{
			Host:     cfg.GraphDBHost,
			Port:     cfg.GraphDBPort,
			Username: cfg.GraphDBUser,
			Password: cfg.GraphDBPassword,
		}, logger)
		if err != nil {
			return nil, err
		}
		i.graph = client
		i.boot.Add(startup.Func{
			ID:      "graph",
			OnStart: client.VerifyConnectivity,
			OnStop:  client.Close,
		})
	}

	if err := i.boot.Start(ctx); err != nil {
		return nil, err
	}
	return i, nil
}

func (i *infra) locker(cfg config.Config, logger ectologger.Logger) keylock.Locker {
	if i.redis == nil {
		return keylock.NewLocal()
	}
	return keylock.NewRedis(i.redis, logger, keylock.RedisConfig{
		Prefix: cfg.MDMLinkLockPrefix,
		TTL:    cfg.MDMLinkLockTTL,
		Wait:   cfg.MDMLinkLockWait,
	})
}

func (i *infra) close(ctx context.Context) error {
	return i.boot.Stop(ctx)
}
