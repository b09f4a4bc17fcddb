package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Gobusters/ectoinject"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Ramsey-B/clover/internal/server"
	"github.com/Ramsey-B/clover/pkg/events"
	"github.com/Ramsey-B/clover/pkg/kafka"
	"github.com/Ramsey-B/clover/pkg/routes/health"
)

func serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the resource deletion consumer",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context())
		},
	}
}

func serve(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, syncLogs, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer syncLogs()

	shutdownTracing, err := setupTracing(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	conns, err := connect(ctx, cfg, logger, cfg.DatabaseMigrateOnStart)
	if err != nil {
		logger.WithError(err).Error("Failed to start dependencies")
		return err
	}
	defer func() { _ = conns.close(context.Background()) }()

	var publisher events.Publisher
	if cfg.KafkaProducerEnabled {
		producer := kafka.NewProducer(kafka.ProducerConfigFrom(cfg), logger)
		defer func() { _ = producer.Close() }()
		publisher = producer
	}

	services, err := server.NewServices(server.Dependencies{
		Config:    cfg,
		DB:        conns.db,
		Logger:    logger,
		Locker:    conns.locker(cfg, logger),
		Publisher: publisher,
		Graph:     conns.graph,
	})
	if err != nil {
		return err
	}

	container, err := ectoinject.NewDIDefaultContainer()
	if err != nil {
		return fmt.Errorf("failed to create dependency container: %w", err)
	}
	if err := services.Register(container); err != nil {
		return fmt.Errorf("failed to register services: %w", err)
	}

	checker := health.NewChecker(func(ctx context.Context) error { return conns.db.SQL().PingContext(ctx) }, version)
	if conns.redis != nil {
		checker.Add("redis", func(ctx context.Context) error { return conns.redis.Ping(ctx).Err() })
	}
	if conns.graph != nil {
		checker.Add("graph", conns.graph.VerifyConnectivity)
	}

	g, gctx := errgroup.WithContext(ctx)

	if cfg.KafkaConsumerEnabled {
		consumer := kafka.NewConsumer(cfg, logger, server.DeletionHandler(services.Linking, logger))
		checker.Add("kafka_consumer", func(context.Context) error {
			if !consumer.Health() {
				return errors.New("consumer is not running")
			}
			return nil
		})
		if err := consumer.Start(gctx); err != nil {
			return err
		}
		g.Go(func() error {
			<-gctx.Done()
			return consumer.Stop()
		})
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           server.NewEcho(cfg, logger, container.GetContainerID(), checker),
		ReadTimeout:       time.Duration(cfg.HttpServerReadTimeoutSeconds) * time.Second,
		WriteTimeout:      time.Duration(cfg.HttpServerWriteTimeoutSeconds) * time.Second,
		IdleTimeout:       time.Duration(cfg.HttpServerIdleTimeoutSeconds) * time.Second,
		ReadHeaderTimeout: time.Duration(cfg.ReadHeaderTimeoutSeconds) * time.Second,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	g.Go(func() error {
		logger.WithField("addr", srv.Addr).Info("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		checker.SetReady(false)
		return srv.Shutdown(shutdownCtx)
	})

	checker.SetReady(true)
	err = g.Wait()
	logger.Info("Shut down")
	return err
}
