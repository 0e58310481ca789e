// Copyright 2026 The Kiln Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kiln-build/kiln/lib/archive"
	"github.com/kiln-build/kiln/lib/artifactcache"
	"github.com/kiln-build/kiln/lib/clock"
	"github.com/kiln-build/kiln/lib/compile"
	"github.com/kiln-build/kiln/lib/config"
	"github.com/kiln-build/kiln/lib/janitor"
	"github.com/kiln-build/kiln/lib/journal"
	"github.com/kiln-build/kiln/lib/process"
	"github.com/kiln-build/kiln/lib/service"
	"github.com/kiln-build/kiln/lib/toolchain"
	"github.com/kiln-build/kiln/lib/version"
	"github.com/kiln-build/kiln/lib/workspace"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var (
		configPath  string
		showVersion bool
		verbose     bool
	)
	flag.StringVar(&configPath, "config", "", "path to the kiln.yaml config file (default: KILN_CONFIG, then built-in defaults)")
	flag.BoolVar(&showVersion, "version", false, "print version information and exit")
	flag.BoolVar(&verbose, "verbose", false, "log at debug level")
	flag.Parse()

	if showVersion {
		fmt.Printf("kiln-build-service %s\n", version.Info())
		return nil
	}

	// Allow a .env file for local runs. Absence is the normal case.
	_ = godotenv.Load()

	cfg, err := config.Resolve(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := cfg.EnsurePaths(); err != nil {
		return err
	}

	logger := service.NewLogger(verbose)
	clk := clock.Real()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := artifactcache.Open(artifactcache.Config{
		Root:   cfg.Paths.Cache,
		Clock:  clk,
		Logger: logger,
	})
	if err != nil {
		return err
	}

	pool, err := workspace.NewPool(workspace.PoolConfig{
		Root:     cfg.Paths.Build,
		Capacity: cfg.Build.PoolCapacity,
	})
	if err != nil {
		return err
	}

	profile := toolchain.Default()
	if cfg.Paths.Profile != "" {
		profile, err = toolchain.Load(cfg.Paths.Profile)
		if err != nil {
			return err
		}
		logger.Info("toolchain profile loaded", "path", cfg.Paths.Profile, "command", profile.Command)
	}

	buildJournal, err := journal.Open(journal.Config{
		Path:   cfg.Paths.Journal,
		Clock:  clk,
		Logger: logger,
	})
	if err != nil {
		return err
	}
	defer buildJournal.Close()

	retainCompression, err := archive.ParseCompression(cfg.Build.RetainCompression)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	metrics := compile.NewMetrics()

	compileCfg := compile.Config{
		Cache:        store,
		Workspaces:   pool,
		Profile:      profile,
		Concurrency:  cfg.Build.Concurrency,
		BuildTimeout: cfg.Build.Timeout.Std(),
		AccelDir:     cfg.Paths.Accel,
		Journal:      buildJournal,
		Metrics:      metrics,
		Clock:        clk,
		Logger:       logger,
		// Builds survive caller disconnects but stop at shutdown.
		BaseContext: ctx,
	}
	if cfg.Build.RetainFailures {
		compileCfg.RetainDir = cfg.Paths.Retain
		compileCfg.RetainCompression = retainCompression
	}
	compiler, err := compile.New(compileCfg)
	if err != nil {
		return err
	}

	buildService := &BuildService{
		compiler:  compiler,
		store:     store,
		journal:   buildJournal,
		clock:     clk,
		startedAt: clk.Now(),
		logger:    logger,
	}

	socketServer := service.NewSocketServer(cfg.Listen.Socket, logger)
	buildService.registerActions(socketServer)

	socketDone := make(chan error, 1)
	go func() {
		socketDone <- socketServer.Serve(ctx)
	}()

	var httpDone chan error
	if cfg.Listen.Metrics != "" {
		httpServer := service.NewHTTPServer(service.HTTPServerConfig{
			Address: cfg.Listen.Metrics,
			Handler: metricsHandler(metrics),
			Logger:  logger,
		})
		httpDone = make(chan error, 1)
		go func() {
			httpDone <- httpServer.Serve(ctx)
		}()
	}

	if !cfg.Janitor.Disabled {
		sweeper, err := janitor.New(janitor.Config{
			BuildRoot:     cfg.Paths.Build,
			RetainDir:     cfg.Paths.Retain,
			Schedule:      cfg.Janitor.Schedule,
			MaxAge:        cfg.Janitor.MaxAge.Std(),
			Journal:       buildJournal,
			JournalMaxAge: cfg.Janitor.JournalMaxAge.Std(),
			Clock:         clk,
			Logger:        logger,
		})
		if err != nil {
			return err
		}
		go sweeper.Run(ctx)
	}

	logger.Info("build service running",
		"version", version.Short(),
		"socket", cfg.Listen.Socket,
		"cache", cfg.Paths.Cache,
		"concurrency", cfg.Build.Concurrency,
		"toolchain", profile.Command,
	)

	<-ctx.Done()
	logger.Info("shutting down")

	if err := <-socketDone; err != nil {
		logger.Error("socket listener error", "error", err)
	}
	if httpDone != nil {
		if err := <-httpDone; err != nil {
			logger.Error("metrics listener error", "error", err)
		}
	}

	return nil
}

// metricsHandler serves the Prometheus registry on /metrics and a
// liveness probe on /healthz.
func metricsHandler(metrics *compile.Metrics) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"ok","version":%q}`+"\n", version.Short())
	})
	return mux
}
