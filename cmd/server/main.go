package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Tyrowin/gochat-realtime/internal/events"
	"github.com/Tyrowin/gochat-realtime/internal/logging"
	"github.com/Tyrowin/gochat-realtime/internal/realtime"
	"github.com/Tyrowin/gochat-realtime/internal/server"
	"github.com/Tyrowin/gochat-realtime/internal/store"
	"github.com/Tyrowin/gochat-realtime/internal/telemetry"
)

const (
	serviceName     = "gochat-realtime"
	shutdownTimeout = 10 * time.Second
)

func main() {
	cfg := server.NewConfigFromEnv()

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Error("Server stopped", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg *server.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("Starting realtime node", zap.String("node", cfg.NodeID), zap.String("port", cfg.Port))

	meter, flushTelemetry, err := telemetry.Init(ctx, serviceName)
	if err != nil {
		return err
	}
	defer shutdownStep(logger, "telemetry", flushTelemetry)

	var backing realtime.Store = realtime.NopStore{}
	if cfg.Mongo.URI != "" {
		mongoStore, err := store.NewMongo(ctx, cfg.Mongo.URI, cfg.Mongo.Database)
		if err != nil {
			return err
		}
		defer shutdownStep(logger, "mongo", mongoStore.Close)
		backing = mongoStore
		logger.Info("Using MongoDB store", zap.String("database", cfg.Mongo.Database))
	}

	registry := realtime.NewRegistry()
	metrics, err := realtime.NewMetrics(meter, registry)
	if err != nil {
		return errors.Wrap(err, "register metrics")
	}

	broadcaster := realtime.NewBroadcaster(registry, metrics, logger)
	lifecycleOpts := []realtime.LifecycleOption{realtime.WithStoreTimeout(cfg.StoreTimeout)}
	var directory server.PresenceDirectory

	if cfg.Redis.Addr != "" {
		rdb, err := store.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return err
		}
		defer shutdownStep(logger, "redis", func(context.Context) error { return rdb.Close() })

		presence := store.NewRedisPresence(rdb, cfg.NodeID, cfg.Redis.PresenceTTL)
		lifecycleOpts = append(lifecycleOpts, realtime.WithPresenceMirror(presence))
		directory = presence
		go presence.KeepAlive(ctx, registry, cfg.Redis.PresenceTTL/2, logger)
		logger.Info("Mirroring presence to Redis", zap.String("addr", cfg.Redis.Addr))
	}

	lifecycle := realtime.NewLifecycle(registry, broadcaster, backing, logger, lifecycleOpts...)
	defer shutdownStep(logger, "store writes", lifecycle.Close)
	relay := realtime.NewRelay(registry, metrics, logger)
	seen := realtime.NewSeenPropagator(registry, backing, backing, metrics, logger)
	notifier := realtime.NewNotifier(registry, metrics, logger)
	dispatcher := realtime.NewDispatcher(registry, relay, seen)

	if cfg.NATS.URL != "" {
		nc, err := events.Connect(ctx, cfg.NATS.URL, serviceName+"-"+cfg.NodeID, 30, 2*time.Second, logger)
		if err != nil {
			return err
		}
		sub := events.NewSubscriber(cfg.NATS.SubjectPrefix, notifier, seen, logger)
		if err := sub.Start(nc); err != nil {
			nc.Close()
			return err
		}
		defer shutdownStep(logger, "nats", func(context.Context) error {
			defer nc.Close()
			if err := sub.Stop(); err != nil {
				return err
			}
			return errors.Wrap(nc.Drain(), "drain nats")
		})
	}

	hub := server.NewHub(lifecycle, dispatcher, logger)
	go hub.Run()

	handlers := server.NewHandlers(hub, registry, directory, cfg, logger)
	httpServer := server.CreateServer(cfg.Port, server.SetupRoutes(handlers))

	serveErr := make(chan error, 1)
	go func() { serveErr <- server.StartServer(httpServer, logger) }()

	select {
	case err := <-serveErr:
		_ = hub.Shutdown(shutdownTimeout)
		return err
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	}

	if err := server.ShutdownServer(httpServer, shutdownTimeout, logger); err != nil {
		logger.Warn("HTTP shutdown", zap.Error(err))
	}
	if err := hub.Shutdown(shutdownTimeout); err != nil {
		logger.Warn("Hub shutdown", zap.Error(err))
	}
	return nil
}

// shutdownStep runs a deferred cleanup with its own deadline.
func shutdownStep(logger *zap.Logger, name string, fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		logger.Warn("Cleanup failed", zap.String("step", name), zap.Error(err))
	}
}
