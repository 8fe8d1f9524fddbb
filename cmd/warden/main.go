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

	"github.com/rs/zerolog"

	"github.com/wardenfs/warden/internal/api"
	"github.com/wardenfs/warden/internal/logger"
	"github.com/wardenfs/warden/pkg/audit"
	"github.com/wardenfs/warden/pkg/config"
	"github.com/wardenfs/warden/pkg/engine"
	"github.com/wardenfs/warden/pkg/metrics"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file (optional; WARDEN_* env vars always apply)")
	enableMetrics := flag.Bool("metrics", true, "Expose Prometheus metrics on /metrics")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.Setup(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to configure logging: %v\n", err)
		os.Exit(1)
	}

	if *enableMetrics {
		metrics.InitRegistry()
	}

	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("Server exited with error")
	}
}

func run(cfg *config.Config, log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tree, err := config.NewTreeStore(ctx, cfg.Tree)
	if err != nil {
		return fmt.Errorf("failed to create tree store: %w", err)
	}
	log.Info().Str("type", cfg.Tree.Type).Msg("Tree store initialized")

	contentStore, err := config.NewContentStore(ctx, cfg.Content)
	if err != nil {
		return fmt.Errorf("failed to create content store: %w", err)
	}
	log.Info().Str("type", cfg.Content.Type).Msg("Content store initialized")

	sink, closeSink, err := config.NewAuditSink(cfg.Audit)
	if err != nil {
		return fmt.Errorf("failed to create audit sink: %w", err)
	}
	defer func() {
		if err := closeSink(); err != nil {
			log.Error().Err(err).Msg("Failed to close audit sink")
		}
	}()
	log.Info().Str("type", cfg.Audit.Type).Msg("Audit sink initialized")

	limiter, closeCounter, err := config.NewLimiter(ctx, cfg.RateLimit)
	if err != nil {
		return fmt.Errorf("failed to create rate limiter: %w", err)
	}
	defer func() {
		if err := closeCounter(); err != nil {
			log.Error().Err(err).Msg("Failed to close counter store")
		}
	}()
	log.Info().
		Str("counter", cfg.RateLimit.Counter.Type).
		Bool("fail_closed", cfg.RateLimit.FailClosed).
		Msg("Rate limiter initialized")

	engineMetrics := metrics.NewEngineMetrics()

	recorderCfg := audit.RecorderConfig{
		Sink:       sink,
		BufferSize: cfg.Audit.BufferSize,
		Logger:     log,
	}
	if engineMetrics != nil {
		recorderCfg.OnWriteFailure = func(audit.Entry, error) {
			engineMetrics.AuditWriteFailure()
		}
	}
	recorder, err := audit.NewRecorder(recorderCfg)
	if err != nil {
		return fmt.Errorf("failed to create audit recorder: %w", err)
	}

	eng, err := engine.NewEngine(engine.EngineDependencies{
		Tree:     tree,
		Content:  contentStore,
		Limiter:  limiter,
		Recorder: recorder,
		Metrics:  engineMetrics,
		Logger:   log,
	})
	if err != nil {
		return fmt.Errorf("failed to create engine: %w", err)
	}

	server, err := api.NewServer(api.ServerDependencies{
		Engine:         eng,
		Tree:           tree,
		AuthSecret:     []byte(cfg.Auth.Secret),
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Logger:         log,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	httpServer := &http.Server{
		Addr:              cfg.Server.ListenAddress,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverDone := make(chan error, 1)
	go func() {
		log.Info().Str("address", cfg.Server.ListenAddress).Msg("Server listening")
		serverDone <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("Shutdown signal received, draining")
	case err := <-serverDone:
		return fmt.Errorf("server failed: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP shutdown did not complete cleanly")
	}
	if err := <-serverDone; err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error().Err(err).Msg("Server stopped with error")
	}

	// Engine first so in-flight cleanups finish, then the recorder so
	// every entry they produced reaches the sink.
	if err := eng.Close(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Engine shutdown did not complete cleanly")
	}
	if err := recorder.Close(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Audit recorder shutdown did not complete cleanly")
	}

	log.Info().Msg("Server stopped gracefully")
	return nil
}
