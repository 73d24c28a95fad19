package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/livearc/livearc/internal/config"
	"github.com/livearc/livearc/internal/event"
	"github.com/livearc/livearc/internal/handler"
	"github.com/livearc/livearc/internal/log"
	"github.com/livearc/livearc/internal/namedlock"
	"github.com/livearc/livearc/internal/persistence"
	"github.com/livearc/livearc/internal/plugin"
	"github.com/livearc/livearc/internal/reload"
	"github.com/livearc/livearc/internal/uploader"
	"github.com/livearc/livearc/internal/watch"
)

// Set via -ldflags at build time.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	os.Exit(run())
}

func run() int {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	flag.Parse()

	if *showVersion {
		fmt.Printf("livearcd %s (%s) %s\n", version, commit, runtime.Version())
		return 0
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "livearcd: load config %s: %v\n", *configPath, err)
		return 1
	}

	log.Configure(log.Config{Level: cfg.LogLevel, Service: "livearc"})
	logger := log.WithComponent("daemon")
	logger.Info().Str("version", version).Str("config", *configPath).Msg("starting")

	if err := os.MkdirAll(cfg.WorkDir, 0o755); err != nil {
		logger.Error().Err(err).Str("dir", cfg.WorkDir).Msg("create workdir")
		return 1
	}
	if dir := filepath.Dir(cfg.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			logger.Error().Err(err).Str("dir", dir).Msg("create database directory")
			return 1
		}
	}

	store, err := persistence.OpenSQLite(cfg.DBPath, persistence.DefaultSQLiteConfig())
	if err != nil {
		logger.Error().Err(err).Str("path", cfg.DBPath).Msg("open database")
		return 1
	}
	defer func() { _ = store.Close() }()

	bootCtx, bootCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if prev, err := store.GetKV(bootCtx, "last_start"); err == nil {
		logger.Info().Str("previous_start", prev).Msg("previous run")
	}
	if err := store.PutKV(bootCtx, "last_start", time.Now().Format(time.RFC3339)); err != nil {
		logger.Warn().Err(err).Msg("record start time")
	}
	bootCancel()

	holder := config.NewHolder(cfg, *configPath)
	registry := plugin.NewRegistry()
	table := watch.NewTable()
	locks := namedlock.Default()
	bus := event.NewBus(event.PoolSizes{Pool1: cfg.Pool1Size, Pool2: cfg.Pool2Size})
	uploads := uploader.NewManager(store, table, locks, holder)

	handler.Register(handler.Deps{
		Bus:      bus,
		Registry: registry,
		Store:    store,
		Table:    table,
		Locks:    locks,
		Holder:   holder,
		Uploads:  uploads,
	})
	bus.Start()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sched := watch.NewScheduler(registry, bus, table, locks, holder, watch.Options{
		Interval:      time.Duration(cfg.EventLoopInterval) * time.Second,
		BatchInterval: time.Duration(cfg.BatchCheckInterval) * time.Second,
	})
	if err := sched.Start(ctx); err != nil {
		logger.Error().Err(err).Msg("start scheduler")
		return 1
	}
	holder.OnChange(func(_, next *config.Config) {
		if err := sched.Apply(next); err != nil {
			logger.Error().Err(err).Msg("apply reloaded config")
		}
	})

	var srv *http.Server
	if cfg.Listen != "" {
		srv = newServer(cfg.Listen, table, holder)
	}

	var shutdownOnce sync.Once
	shutdown := func() {
		shutdownOnce.Do(func() {
			sched.Stop()
			if srv != nil {
				sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				_ = srv.Shutdown(sctx)
				cancel()
			}
			bctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if err := bus.Shutdown(bctx); err != nil {
				logger.Warn().Err(err).Msg("event bus drain timed out")
			}
			cancel()
		})
	}

	coord := reload.NewCoordinator(*configPath, cfg.WorkDir,
		time.Duration(cfg.CheckSourcecode)*time.Second, shutdown)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		coord.Run(gctx)
		return nil
	})
	if srv != nil {
		g.Go(func() error {
			logger.Info().Str("addr", cfg.Listen).Msg("observability endpoint listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down")
		shutdown()
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("daemon error")
		return 1
	}
	logger.Info().Msg("stopped")
	return 0
}
