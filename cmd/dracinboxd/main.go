// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Command dracinboxd runs the playback engine daemon: the metadata client,
// delivery planning and playback sessions behind the HTTP control surface.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/yutupremsatu/dracinbox/internal/api"
	"github.com/yutupremsatu/dracinbox/internal/config"
	"github.com/yutupremsatu/dracinbox/internal/delivery"
	"github.com/yutupremsatu/dracinbox/internal/log"
	"github.com/yutupremsatu/dracinbox/internal/mediasink"
	"github.com/yutupremsatu/dracinbox/internal/metrics"
	"github.com/yutupremsatu/dracinbox/internal/playback"
	"github.com/yutupremsatu/dracinbox/internal/provider"
	"github.com/yutupremsatu/dracinbox/internal/subtitle"
	"github.com/yutupremsatu/dracinbox/internal/transport"
)

var (
	version   = "v1.0.0"
	commit    = "none"
	buildDate = "unknown"
)

const shutdownTimeout = 10 * time.Second

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	listenAddr := flag.String("listen", "", "listen address (overrides config)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	// Safe defaults until the config is loaded.
	log.Configure(log.Config{
		Level:   "info",
		Service: "dracinbox",
		Version: version,
	})
	logger := log.WithComponent("daemon")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "config.load_failed").
			Str("config_path", *configPath).
			Msg("failed to load configuration")
	}
	if *listenAddr != "" {
		cfg.Listen = *listenAddr
	}
	log.Configure(log.Config{
		Level:   cfg.LogLevel,
		Service: "dracinbox",
		Version: version,
	})
	logger.Info().
		Str("event", "config.loaded").
		Str("config_path", *configPath).
		Int("providers", len(cfg.ProviderBases)).
		Str("listen", cfg.Listen).
		Msg("configuration loaded")

	srv, err := buildServer(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to assemble control surface")
	}

	httpServer := &http.Server{
		Addr:              cfg.Listen,
		Handler:           srv.Routes(),
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		logger.Info().Str("listen", cfg.Listen).Msg("HTTP server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		logger.Fatal().Err(err).Msg("HTTP server failed")
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("HTTP shutdown incomplete")
	}
	srv.Shutdown()
	logger.Info().Msg("shutdown complete")
}

// buildServer wires the engine: registry, metadata client, delivery planning
// and a per-request session factory behind the control surface.
func buildServer(cfg config.Config) (*api.Server, error) {
	registry := provider.NewRegistry(cfg.SubtitleLanguage)
	metadata := provider.NewClient(registry, provider.ClientOptions{
		BaseURLs:          cfg.Bases(),
		EnvelopeSecret:    cfg.EnvelopeSecret,
		RequestsPerSecond: cfg.UpstreamRPS,
		BreakerThreshold:  cfg.BreakerThreshold,
		BreakerReset:      cfg.BreakerReset,
	})
	resolver := delivery.NewResolver(cfg.RelayBase)
	prober := delivery.NewProber(cfg.RelayBase, nil)
	prober.SetProbeBudget(cfg.WarmupPollBudget)

	return api.New(api.Options{
		NewSession: func() (*playback.Session, error) {
			subtitles := subtitle.NewReconciler(cfg.SubtitleLanguage, func(trigger string) {
				metrics.IncSubtitleReassert(trigger)
			})
			sess, err := playback.NewSession(playback.Options{
				Registry:  registry,
				Metadata:  metadata,
				Resolver:  resolver,
				Prober:    prober,
				Sink:      mediasink.NewMemory(),
				Subtitles: subtitles,
				Navigator: playback.NopNavigator{},
				NewTransport: func(hooks transport.Hooks) playback.Transport {
					return transport.NewLoader(transport.Config{
						BufferAhead: cfg.BufferAhead,
					}, hooks)
				},
				RetryBudget: cfg.RetryBudget,
			})
			if err != nil {
				return nil, err
			}
			sess.BindSink()
			return sess, nil
		},
	})
}
