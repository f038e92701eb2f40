// Package main provides the journey API service entry point.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/patientpath/journey-engine/internal/api/handlers"
	"github.com/patientpath/journey-engine/internal/api/middleware"
	"github.com/patientpath/journey-engine/internal/config"
	"github.com/patientpath/journey-engine/internal/dimensions"
	"github.com/patientpath/journey-engine/internal/infrastructure/postgres"
	"github.com/patientpath/journey-engine/internal/observability/metrics"
	"github.com/patientpath/journey-engine/internal/observability/tracing"
	"github.com/patientpath/journey-engine/internal/pipeline"
	"github.com/patientpath/journey-engine/pkg/circuitbreaker"
)

func main() {
	configFile := flag.String("config", "", "path to config file")
	envPath := flag.String("env", "", "path to env file directory")
	flag.Parse()

	cfg, err := config.LoadAPIConfig(*configFile, *envPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Debug)
	defer logger.Sync()

	ctx := context.Background()

	tp, err := tracing.Init(ctx, tracing.Config{
		ServiceName:    "journey-api",
		ServiceVersion: "0.1.0",
		Environment:    env(cfg.Debug),
		OTLPEndpoint:   cfg.OTLP.Endpoint,
		SampleRate:     cfg.OTLP.SampleRate,
	})
	if err != nil {
		logger.Warn("tracing disabled", zap.Error(err))
	} else {
		defer tp.Shutdown(ctx)
	}

	pool, err := pgxpool.New(ctx, cfg.Database.DSN())
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		logger.Fatal("database ping failed", zap.Error(err))
	}
	logger.Info("connected to database")

	m := metrics.New()
	store := postgres.NewStore(pool, logger)
	breakers := circuitbreaker.NewManager(logger)
	dims := dimensions.NewLoader(pool, breakers, logger)
	runner := pipeline.NewRunner(pipeline.Config{Workers: cfg.Worker.PoolSize}, logger, m)

	batchHandler := handlers.NewBatchHandler(runner, dims, store, logger)
	alertsHandler := handlers.NewAlertsHandler(logger)

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.CORS)
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Tracing("journey-api"))

	r.Get("/health", healthHandler)
	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		if err := pool.Ping(r.Context()); err != nil {
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ready"))
	})
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		if keys := cfg.Auth.KeyMap(); len(keys) > 0 {
			r.Use(middleware.APIKeyAuth(keys))
		}
		r.Mount("/batches", batchHandler.Routes())
		r.Mount("/alerts", alertsHandler.Routes())
	})

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown error", zap.Error(err))
		}
	}()

	logger.Info("starting journey API",
		zap.String("addr", server.Addr),
		zap.Int("worker_pool", cfg.Worker.PoolSize))
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		logger.Fatal("server error", zap.Error(err))
	}

	logger.Info("server stopped")
}

func newLogger(debug bool) *zap.Logger {
	if debug {
		logger, _ := zap.NewDevelopment()
		return logger
	}
	logger, _ := zap.NewProduction()
	return logger
}

func env(debug bool) string {
	if debug {
		return "development"
	}
	return "production"
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"healthy","service":"journey-api","version":"0.1.0"}`)
}
