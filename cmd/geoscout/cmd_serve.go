package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/HerbHall/geoscout/internal/event"
	"github.com/HerbHall/geoscout/internal/geolocate"
	"github.com/HerbHall/geoscout/internal/metrics"
	"github.com/HerbHall/geoscout/internal/plugin"
	"github.com/HerbHall/geoscout/internal/server"
	"github.com/HerbHall/geoscout/internal/store"
	"github.com/HerbHall/geoscout/internal/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP service",
	RunE: func(cmd *cobra.Command, _ []string) error {
		e, err := loadEnv()
		if err != nil {
			return err
		}
		defer func() { _ = e.logger.Sync() }()
		return serve(cmd.Context(), e)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func serve(ctx context.Context, e *env) error {
	logger := e.logger
	logger.Info("geoscout starting", version.Fields()...)

	if err := os.MkdirAll(filepath.Dir(e.settings.Store.Path), 0o755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}
	db, err := store.New(e.settings.Store.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	bus := event.NewBus(logger.Named("event"))
	mt := metrics.New()

	registry := plugin.NewRegistry(logger)
	mod := geolocate.New(
		geolocate.WithEventBus(bus),
		geolocate.WithStore(db),
		geolocate.WithMetrics(mt),
	)
	if err := registry.Register(mod); err != nil {
		return err
	}
	if err := registry.InitAll(e.v); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := registry.StartAll(ctx); err != nil {
		registry.StopAll()
		return err
	}

	addr := e.settings.Addr()
	if addr == ":" {
		addr = "0.0.0.0:8080"
	}
	srv := server.New(addr, registry, logger.Named("server"), server.WithMetricsHandler(mt.Handler()))

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()
	logger.Info("geoscout ready", zap.String("addr", addr))

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case serveErr = <-errCh:
	}

	shutdown(srv, registry, db, logger)

	logger.Info("geoscout stopped")
	return serveErr
}

type httpServer interface {
	Shutdown(ctx context.Context) error
}

type checkpointer interface {
	Checkpoint(ctx context.Context) error
}

// shutdown stops the plugins, drains HTTP, then checkpoints the store.
// A running synchronous start returns once its job is stopped. Each step
// has its own deadline.
func shutdown(srv httpServer, registry *plugin.Registry, db checkpointer, logger *zap.Logger) {
	registry.StopAll()

	httpCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(httpCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}

	dbCtx, cancelDB := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelDB()
	if err := db.Checkpoint(dbCtx); err != nil {
		logger.Warn("checkpoint on shutdown", zap.Error(err))
	}
}
