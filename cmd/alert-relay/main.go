// Package main provides the alert relay entry point. It drains the
// transactional alert outbox to Kafka and parks poisoned entries on the dead
// letter topic.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/patientpath/journey-engine/internal/config"
	"github.com/patientpath/journey-engine/internal/infrastructure/kafka"
	"github.com/patientpath/journey-engine/internal/infrastructure/postgres"
	"github.com/patientpath/journey-engine/internal/observability/metrics"
	"github.com/patientpath/journey-engine/internal/observability/tracing"
)

// kafkaPublisher adapts the producer to the outbox publisher interface.
type kafkaPublisher struct {
	producer *kafka.Producer
}

func (p *kafkaPublisher) Publish(ctx context.Context, topic, key string, value []byte) error {
	return p.producer.ProduceMessage(ctx, topic, key, value)
}

func main() {
	configFile := flag.String("config", "", "path to config file")
	envPath := flag.String("env", "", "path to env file directory")
	flag.Parse()

	cfg, err := config.LoadRelayConfig(*configFile, *envPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Debug)
	defer logger.Sync()

	ctx := context.Background()

	tp, err := tracing.Init(ctx, tracing.Config{
		ServiceName:    "alert-relay",
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

	producerCfg := kafka.DefaultProducerConfig()
	producerCfg.Brokers = cfg.Kafka.Brokers
	producer, err := kafka.NewProducer(producerCfg, logger)
	if err != nil {
		logger.Fatal("failed to create producer", zap.Error(err))
	}
	defer producer.Close()

	m := metrics.New()
	outbox := postgres.NewOutbox(pool, &kafkaPublisher{producer: producer}, postgres.DefaultOutboxConfig(), logger)
	outbox.Start()
	defer outbox.Stop()

	maintCtx, cancelMaint := context.WithCancel(ctx)
	defer cancelMaint()
	go maintenanceLoop(maintCtx, outbox, m, logger)

	logger.Info("alert relay started", zap.Strings("brokers", cfg.Kafka.Brokers))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down relay")
}

// maintenanceLoop moves exhausted entries to the dead letter topic, prunes
// delivered entries and keeps the pending gauge current.
func maintenanceLoop(ctx context.Context, outbox *postgres.Outbox, m *metrics.Metrics, logger *zap.Logger) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			moved, err := outbox.MoveToDeadLetter(ctx, kafka.TopicDeadLetter)
			if err != nil {
				logger.Error("dead letter sweep failed", zap.Error(err))
			} else if moved > 0 {
				logger.Warn("moved alerts to dead letter", zap.Int64("count", moved))
			}

			if _, err := outbox.CleanupProcessed(ctx, 7*24*time.Hour); err != nil {
				logger.Error("outbox cleanup failed", zap.Error(err))
			}

			stats, err := outbox.GetStats(ctx)
			if err != nil {
				logger.Error("outbox stats failed", zap.Error(err))
				continue
			}
			m.OutboxPending.Set(float64(stats.Pending))
		}
	}
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
