package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/unitroute/unitroute/internal/config"
	"github.com/unitroute/unitroute/internal/engine"
	"github.com/unitroute/unitroute/internal/logger"
	"github.com/unitroute/unitroute/internal/output"
	"github.com/unitroute/unitroute/internal/scheduler"
	"github.com/unitroute/unitroute/internal/sysbus"
	"github.com/unitroute/unitroute/internal/version"
)

type App struct {
	cfg       *config.Config
	logger    logger.Logger
	connector *sysbus.Connector
	engine    *engine.Engine
	syncer    *output.Synchronizer
	resyncer  *scheduler.Resyncer
}

func New() *App {
	cfg := config.Load()

	loggerClient := logger.New(cfg.LogLevel, cfg.PrettyLog)

	syncer := output.NewSynchronizer(cfg.OutDir, loggerClient)

	connector := sysbus.New(sysbus.Options{
		CallTimeout:    cfg.BusCallTimeout,
		ConnectTimeout: cfg.BusConnectTimeout,
		RetryInterval:  cfg.BusRetryInterval,
		MaxWait:        cfg.BusMaxWait,
		WarnThreshold:  cfg.BusWarnThreshold,
	}, loggerClient)

	eng := engine.New(
		connector.Events(),
		connector,
		syncer,
		loggerClient,
		cfg.DebounceWindow,
		cfg.Workers,
	)

	resyncer := scheduler.NewResyncer(connector, loggerClient, cfg.ResyncInterval)

	return &App{
		cfg:       cfg,
		logger:    loggerClient,
		connector: connector,
		engine:    eng,
		syncer:    syncer,
		resyncer:  resyncer,
	}
}

func (a *App) Run() error {
	defer func() { _ = a.logger.Sync() }()

	a.logger.Infof("🚀 Starting unitroute %s (commit=%s, built=%s, go=%s)",
		version.Version, version.Commit, version.BuildDate, version.GoVersion)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.syncer.EnsureDir(); err != nil {
		return err
	}
	a.logger.Info("output directory ready",
		logger.String("dir", a.cfg.OutDir))

	// Fail fast when the bus cannot be reached at all: without a
	// connection there is nothing this process can do.
	if err := a.connector.Connect(ctx); err != nil {
		return fmt.Errorf("initial bus connection failed: %w", err)
	}

	errCh := make(chan error, 2)
	go func() { errCh <- a.engine.Run(ctx) }()
	go func() { errCh <- a.connector.Run(ctx) }()

	a.resyncer.Start(ctx)
	a.logger.Info("watching units",
		logger.Duration("debounce_window", a.cfg.DebounceWindow),
		logger.Int("workers", a.cfg.Workers),
		logger.Duration("resync_interval", a.cfg.ResyncInterval))

	running := 2
	select {
	case <-ctx.Done():
		a.logger.Info("⏳ Shutting down gracefully...")
	case err := <-errCh:
		running--
		if err != nil {
			return err
		}
	}
	stop()

	a.resyncer.Stop()

	// Give in-flight settles a moment to land; a write already past
	// its rename is durable either way.
	deadline := time.After(a.cfg.ShutdownTimeout)
	for running > 0 {
		select {
		case err := <-errCh:
			running--
			if err != nil {
				a.logger.Warn("component exited with error during shutdown",
					logger.Error(err))
			}
		case <-deadline:
			a.logger.Warn("shutdown timeout reached, exiting anyway")
			running = 0
		}
	}

	a.logger.Info("✅ unitroute stopped cleanly")
	return nil
}
