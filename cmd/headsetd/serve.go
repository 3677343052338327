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

	"github.com/vmorsell/headsetd/internal/battery"
	"github.com/vmorsell/headsetd/internal/clock"
	"github.com/vmorsell/headsetd/internal/config"
	"github.com/vmorsell/headsetd/internal/daemon"
	"github.com/vmorsell/headsetd/internal/gate"
	"github.com/vmorsell/headsetd/internal/gateway"
	"github.com/vmorsell/headsetd/internal/handlers"
	"github.com/vmorsell/headsetd/internal/hub"
	"github.com/vmorsell/headsetd/internal/logging"
	"github.com/vmorsell/headsetd/internal/state"
	"github.com/vmorsell/headsetd/internal/storage"
	"github.com/vmorsell/headsetd/internal/watcher"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	readTimeout     = 15 * time.Second
	writeTimeout    = 15 * time.Second
	idleTimeout     = 60 * time.Second
	shutdownTimeout = 5 * time.Second
)

func serve(parent context.Context, configPath string) error {
	cfg, v, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.File)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if config.Watch(v, func(next *config.Config) {
		if err := logger.SetLevel(next.Log.Level); err != nil {
			logger.Warn("ignoring log level", zap.Error(err))
		}
	}, func(err error) {
		logger.Warn("ignoring invalid config change", zap.Error(err))
	}) {
		logger.Info("watching config", zap.String("path", v.ConfigFileUsed()))
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	snapshots, err := storage.Open(ctx, logger.Named("storage"), storageOptions(cfg))
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	mem := storage.LoadOrDefault(ctx, logger.Logger, snapshots)

	clk := clock.Real()
	observers := hub.New(logger.Named("hub"))
	store := state.NewStore(logger.Named("state"), mem, snapshots, observers, clk, cfg.Persist.Debounce)

	toolGate := &gate.Gate{}
	runner := gateway.ExecRunner()
	scanner := gateway.NewSoundVolumeView(logger.Named("gateway"), runner, cfg.Tools.SoundVolumeView, cfg.Scan.DumpDir, cfg.Tools.Timeout)
	querier := gateway.NewHeadsetControl(runner, cfg.Tools.HeadsetControl, cfg.Tools.Timeout)

	poller := battery.NewPoller(logger.Named("battery"), store, toolGate, querier, clk, battery.Config{
		BusyRetry:        cfg.Battery.BusyRetry,
		UnavailableRetry: cfg.Battery.UnavailableRetry,
		MaxAttempts:      cfg.Battery.MaxAttempts,
	})
	devices := watcher.NewWatcher(logger.Named("watcher"), store, toolGate, scanner, poller)

	d := daemon.New(logger.Named("daemon"), daemon.Config{
		StartupDelay:    cfg.Startup.Delay,
		ScanInterval:    cfg.Scan.Interval,
		BatteryInterval: cfg.Battery.Interval,
		BatteryStagger:  cfg.Battery.Stagger,
		DumpDir:         cfg.Scan.DumpDir,
	}, clk, devices, poller, store)

	handler := handlers.NewHandler(logger.Named("http"), store, observers, cfg.WS.ConnectionRateLimit, cfg.Server.StaticDir)
	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handler.Routes(),
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		observers.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return d.Run(gctx)
	})
	g.Go(func() error {
		logger.Info("server started", zap.String("addr", cfg.Server.Addr), zap.String("version", version))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	logger.Info("server exited")
	return err
}
