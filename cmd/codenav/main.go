// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command codenav starts the code navigation API server.
//
// codenav keeps one browsing session per opened repository: the file tree,
// the selected file, the structure panel and a cache of caller/callee
// expansions. Parsing and dependency analysis are done by the analysis
// backend it talks to.
//
// Usage:
//
//	go run ./cmd/codenav
//	go run ./cmd/codenav -config /etc/codenav/codenav.yaml
//
// With a remote backend and span export:
//
//	CODENAV_BACKEND_URL=http://analysis:8000 CODENAV_TRACING_EXPORTER=stdout go run ./cmd/codenav
//
// Example requests:
//
//	# Open a repository
//	curl -X POST http://localhost:8080/v1/codenav/sessions \
//	  -H "Content-Type: application/json" \
//	  -d '{"url": "https://github.com/example/project"}'
//
//	# Open a file
//	curl -X POST http://localhost:8080/v1/codenav/sessions/$ID/select \
//	  -H "Content-Type: application/json" -d '{"path": "pkg/mod.py"}'
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/AleutianAI/codenav/services/codenav"
	"github.com/AleutianAI/codenav/services/codenav/backend"
	"github.com/AleutianAI/codenav/services/codenav/config"
	"github.com/AleutianAI/codenav/services/codenav/depcache"
	"github.com/AleutianAI/codenav/services/codenav/session"
	"github.com/AleutianAI/codenav/services/codenav/telemetry"
	"github.com/AleutianAI/codenav/services/codenav/tree"
)

const shutdownTimeout = 15 * time.Second

func main() {
	configPath := flag.String("config", config.DefaultConfigPath, "Path to the YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		slog.Error("codenav exited", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	level := new(slog.LevelVar)
	logger := config.NewLogger(cfg.Log, level, os.Stderr)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, telemetry.Options{
		Exporter:    cfg.Tracing.Exporter,
		ServiceName: "codenav",
	})
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("trace flush failed", slog.String("error", err.Error()))
		}
	}()

	// Only the log level is applied live; everything else needs a restart.
	go func() {
		if err := config.Watch(ctx, configPath, config.LevelUpdater(level), logger); err != nil {
			logger.Warn("config watch disabled", slog.String("error", err.Error()))
		}
	}()

	client := backend.NewClient(backend.Options{
		BaseURL:       cfg.Backend.BaseURL,
		Timeout:       cfg.Backend.Timeout,
		RatePerSecond: cfg.Backend.RatePerSecond,
		Burst:         cfg.Backend.Burst,
		Logger:        logger,
	})

	registry := session.NewRegistry(session.Options{
		Backend: client,
		Filter:  tree.NewFilter(cfg.Tree.Hidden),
		Cache: depcache.Options{
			FetchTimeout:        cfg.Cache.FetchTimeout,
			PrefetchConcurrency: cfg.Cache.PrefetchConcurrency,
		},
		IdleTTL:     cfg.Session.IdleTTL,
		MaxSessions: cfg.Session.MaxSessions,
		Logger:      logger,
	})
	defer registry.Shutdown()
	go registry.RunReaper(ctx, cfg.Session.ReapInterval)

	if cfg.Server.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	handlers := codenav.NewHandlers(registry, logger)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("codenav"))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	codenav.RegisterRoutes(router.Group("/v1"), handlers)

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("codenav listening",
			slog.String("addr", srv.Addr),
			slog.String("backend", client.BaseURL()),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	handlers.SetReady(false)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
