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

	"go.uber.org/zap"

	"github.com/hinyari/amedas-ranking-service/internal/amedas"
	"github.com/hinyari/amedas-ranking-service/internal/cache"
	"github.com/hinyari/amedas-ranking-service/internal/circuitbreaker"
	"github.com/hinyari/amedas-ranking-service/internal/client"
	"github.com/hinyari/amedas-ranking-service/internal/config"
	httphandler "github.com/hinyari/amedas-ranking-service/internal/http"
	"github.com/hinyari/amedas-ranking-service/internal/lifecycle"
	"github.com/hinyari/amedas-ranking-service/internal/observability"
	"github.com/hinyari/amedas-ranking-service/internal/service"
)

func main() {
	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}

	var breaker *circuitbreaker.CircuitBreaker
	if cfg.CircuitBreakerEnabled {
		breaker = circuitbreaker.New(circuitbreaker.Config{
			FailureThreshold: cfg.CircuitBreakerFailureThreshold,
			SuccessThreshold: cfg.CircuitBreakerSuccessThreshold,
			Timeout:          cfg.CircuitBreakerTimeout,
			Component:        "jma",
			OnStateChange: func(component string, from, to circuitbreaker.State) {
				observability.CircuitBreakerState.WithLabelValues(component).Set(float64(to))
				logger.Warn("circuit breaker state change",
					zap.String("component", component),
					zap.String("from", from.String()),
					zap.String("to", to.String()))
			},
		})
		observability.CircuitBreakerState.WithLabelValues("jma").Set(0)
		logger.Info("circuit breaker enabled", zap.Int("failure_threshold", cfg.CircuitBreakerFailureThreshold), zap.Duration("timeout", cfg.CircuitBreakerTimeout))
	}

	jma := client.NewJMAClient(cfg.AmedasBaseURL, cfg.AmedasTimeout, breaker)
	directory := amedas.NewDirectory(jma, amedas.WithTTL(cfg.DirectoryTTL), amedas.WithLogger(logger))
	fetcher := amedas.NewFetcher(directory, jma, cfg.ObservationTZ, logger)
	rankingService := service.NewRankingService(fetcher)

	if cfg.DirectoryWarm {
		warmCtx, warmCancel := context.WithTimeout(context.Background(), cfg.RequestTimeout)
		// a failed warm-up is logged by the directory; the first request retries
		_ = directory.Warm(warmCtx)
		warmCancel()
	}

	store, closeStore, err := newStore(cfg, logger)
	if err != nil {
		logger.Fatal("cache backend", zap.String("backend", cfg.CacheBackend), zap.Error(err))
	}
	instrumented := cache.WithMetrics(store, cfg.CacheBackend)

	// generator stays a nil interface when generation is unconfigured
	var generator service.Generator
	if cfg.GenerationEnabled() {
		gemini, err := client.NewGeminiClient(cfg.GeminiAPIKey, cfg.GeminiURL, cfg.GeminiModel, cfg.GenerationTimeout)
		if err != nil {
			logger.Warn("description generation disabled", zap.Error(err))
		} else {
			generator = gemini
			logger.Info("description generation enabled", zap.String("model", cfg.GeminiModel))
		}
	} else {
		logger.Info("description generation not configured; serving placeholders")
	}
	descriptionService := service.NewDescriptionService(instrumented, generator, cfg.GenerationTimeout, logger)

	healthConfig := &httphandler.HealthConfig{
		DegradedWindow:   cfg.DegradedWindow,
		DegradedErrorPct: cfg.DegradedErrorPct,
		StartTime:        time.Now(),
		CacheBackend:     cfg.CacheBackend,
	}
	if _, ok := store.(cache.Pinger); ok {
		healthConfig.CachePing = instrumented.Ping
	}

	handler := httphandler.NewHandler(
		rankingService,
		descriptionService,
		instrumented,
		httphandler.RankingLimits{Default: cfg.RankingDefaultLimit, Max: cfg.RankingMaxLimit},
		healthConfig,
		logger,
	)
	observability.RegisterTrafficGauges(cfg.DegradedWindow)
	router := httphandler.NewRouter(handler, observability.MetricsHandler(), cfg.RequestTimeout, logger)

	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       10 * time.Second,
		// generation may run for most of the request timeout
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("addr", ":"+cfg.ServerPort), zap.String("cache_backend", cfg.CacheBackend))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	<-ctx.Done()
	stop()

	if lifecycle.SetShuttingDown(true) {
		logger.Info("graceful shutdown triggered")
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	inFlight := httphandler.InFlightCount()
	logger.Info("waiting for in-flight requests", zap.Int64("count", inFlight))
	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.ShutdownInFlightTimeout)
	defer waitCancel()
	if err := httphandler.WaitForInFlight(waitCtx, cfg.ShutdownInFlightCheckInterval); err != nil {
		logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", httphandler.InFlightCount()))
	}

	if err := observability.FlushTelemetry(context.Background(), logger); err != nil {
		logger.Error("telemetry flush", zap.Error(err))
	}

	if closeStore != nil {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := closeStore(closeCtx); err != nil {
			logger.Error("cache close", zap.String("backend", cfg.CacheBackend), zap.Error(err))
		}
		closeCancel()
	}
	logger.Info("shutdown complete")
}
