// Package main provides the derivation worker entry point. It consumes raw
// journey batches off Kafka, runs the derivation and validation pass, persists
// the results and republishes enriched rows and quality reports.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/patientpath/journey-engine/internal/config"
	"github.com/patientpath/journey-engine/internal/dimensions"
	"github.com/patientpath/journey-engine/internal/domain/journey"
	"github.com/patientpath/journey-engine/internal/infrastructure/kafka"
	"github.com/patientpath/journey-engine/internal/infrastructure/postgres"
	"github.com/patientpath/journey-engine/internal/ingest"
	"github.com/patientpath/journey-engine/internal/observability/metrics"
	"github.com/patientpath/journey-engine/internal/observability/tracing"
	"github.com/patientpath/journey-engine/internal/pipeline"
	"github.com/patientpath/journey-engine/pkg/circuitbreaker"
	"github.com/patientpath/journey-engine/pkg/idempotency"
)

// BatchMessage is the payload published to the journey records topic by
// upstream extract jobs. ExtractTS and RowCount feed the idempotency key, so
// a re-published extract is recognized and skipped.
type BatchMessage struct {
	Source       string               `json:"source"`
	Program      string               `json:"program"`
	ExtractTS    time.Time            `json:"extract_ts"`
	Records      []journey.Record     `json:"records"`
	StatusEvents []ingest.StatusEvent `json:"status_events,omitempty"`
}

type worker struct {
	cfg      *config.WorkerServiceConfig
	runner   *pipeline.Runner
	dims     *dimensions.Loader
	store    *postgres.Store
	inbox    *idempotency.Inbox
	producer *kafka.Producer
	logger   *zap.Logger
}

func main() {
	configFile := flag.String("config", "", "path to config file")
	envPath := flag.String("env", "", "path to env file directory")
	flag.Parse()

	cfg, err := config.LoadWorkerConfig(*configFile, *envPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Debug)
	defer logger.Sync()

	ctx := context.Background()

	tp, err := tracing.Init(ctx, tracing.Config{
		ServiceName:    "derivation-worker",
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

	admin, err := kafka.NewAdmin(cfg.Kafka.Brokers, logger)
	if err != nil {
		logger.Fatal("failed to create kafka admin", zap.Error(err))
	}
	if err := admin.EnsureTopics(ctx); err != nil {
		logger.Warn("topic creation failed, continuing", zap.Error(err))
	}
	admin.Close()

	producerCfg := kafka.DefaultProducerConfig()
	producerCfg.Brokers = cfg.Kafka.Brokers
	producer, err := kafka.NewProducer(producerCfg, logger)
	if err != nil {
		logger.Fatal("failed to create producer", zap.Error(err))
	}
	defer producer.Close()

	m := metrics.New()
	breakers := circuitbreaker.NewManager(logger)
	inbox := idempotency.NewInbox(pool, idempotency.DefaultConfig(), logger)
	inbox.StartCleanup()
	defer inbox.Stop()

	w := &worker{
		cfg:      cfg,
		runner:   pipeline.NewRunner(pipeline.Config{Workers: cfg.Worker.PoolSize}, logger, m),
		dims:     dimensions.NewLoader(pool, breakers, logger),
		store:    postgres.NewStore(pool, logger),
		inbox:    inbox,
		producer: producer,
		logger:   logger,
	}

	consumerCfg := kafka.DefaultConsumerConfig()
	consumerCfg.Brokers = cfg.Kafka.Brokers
	consumerCfg.GroupID = cfg.Kafka.GroupID
	consumerCfg.Topics = []string{kafka.TopicJourneyRecords}
	consumer, err := kafka.NewConsumer(consumerCfg, w.handleMessage, logger)
	if err != nil {
		logger.Fatal("failed to create consumer", zap.Error(err))
	}
	consumer.Start()

	logger.Info("derivation worker started",
		zap.Strings("brokers", cfg.Kafka.Brokers),
		zap.String("group_id", cfg.Kafka.GroupID),
		zap.Int("worker_pool", cfg.Worker.PoolSize))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down worker")
	if err := consumer.Stop(); err != nil {
		logger.Error("consumer stop error", zap.Error(err))
	}
	logger.Info("worker stopped")
}

func (w *worker) handleMessage(ctx context.Context, msg *kafka.ConsumedMessage) error {
	var batch BatchMessage
	if err := json.Unmarshal(msg.Value, &batch); err != nil {
		// Unparseable payloads cannot succeed on redelivery.
		w.logger.Error("dropping malformed batch message",
			zap.Int64("offset", msg.Offset),
			zap.Error(err))
		return nil
	}
	if len(batch.Records) == 0 {
		w.logger.Warn("dropping empty batch message", zap.Int64("offset", msg.Offset))
		return nil
	}

	key := idempotency.GenerateKey(batch.Source, batch.Program, batch.ExtractTS, len(batch.Records))
	result, err := w.inbox.Process(ctx, key, "derive-batch", msg.Value, func(ctx context.Context, _ json.RawMessage) (json.RawMessage, error) {
		return w.processBatch(ctx, &batch)
	})
	if err != nil {
		if errors.Is(err, idempotency.ErrDuplicateBatch) {
			w.logger.Info("skipping duplicate batch",
				zap.String("source", batch.Source),
				zap.String("idempotency_key", key))
			return nil
		}
		if errors.Is(err, idempotency.ErrBatchFailed) {
			// Retrying cannot succeed, so commit past it.
			w.logger.Error("skipping permanently failed batch",
				zap.String("source", batch.Source),
				zap.String("idempotency_key", key))
			return nil
		}
		return err
	}
	if !result.IsNew {
		w.logger.Info("batch already processed",
			zap.String("source", batch.Source),
			zap.String("idempotency_key", key))
	}
	return nil
}

func (w *worker) processBatch(ctx context.Context, batch *BatchMessage) (json.RawMessage, error) {
	ingest.ApplyOutcomes(batch.Records, batch.StatusEvents)

	now := time.Now().UTC()
	refDate, err := w.cfg.Reporting.PeriodEndDate(now)
	if err != nil {
		return nil, idempotency.Terminal(err)
	}
	opts := journey.Options{
		ReferenceDate: refDate,
		AsOf:          now,
		MaturityDays:  w.cfg.Reporting.MaturityDays,
	}

	dims := w.dims.Load(ctx)

	priorCount, err := w.store.RowCount(ctx, "")
	if err != nil {
		w.logger.Warn("prior row count unavailable", zap.Error(err))
		priorCount = 0
	}

	res, err := w.runner.Run(ctx, batch.Records, dims, opts, priorCount)
	if err != nil {
		return nil, err
	}

	if err := w.store.SaveBatch(ctx, res.BatchID, batch.Source, res.Records, res.Report, res.Snapshot, res.Alerts); err != nil {
		return nil, fmt.Errorf("failed to persist batch %s: %w", res.BatchID, err)
	}

	if err := w.publishResults(ctx, res); err != nil {
		// The batch is persisted and alerts ride the outbox, so a publish
		// failure here must not rerun the whole derivation.
		w.logger.Error("failed to publish results",
			zap.String("batch_id", res.BatchID),
			zap.Error(err))
	}

	w.logger.Info("batch processed",
		zap.String("batch_id", res.BatchID),
		zap.String("source", batch.Source),
		zap.Int("rows", len(res.Records)),
		zap.Int("findings", len(res.Report.Findings)),
		zap.Int("alerts", len(res.Alerts)))

	return json.Marshal(map[string]interface{}{
		"batch_id": res.BatchID,
		"rows":     len(res.Records),
		"alerts":   len(res.Alerts),
	})
}

func (w *worker) publishResults(ctx context.Context, res *pipeline.Result) error {
	records := make([]*kafka.Record, 0, len(res.Records)+1)
	for i := range res.Records {
		value, err := json.Marshal(&res.Records[i])
		if err != nil {
			return fmt.Errorf("failed to marshal enriched record: %w", err)
		}
		records = append(records, &kafka.Record{
			Topic: kafka.TopicJourneyEnriched,
			Key:   res.Records[i].Record.EnrollmentID,
			Value: value,
		})
	}

	report, err := json.Marshal(res.Report)
	if err != nil {
		return fmt.Errorf("failed to marshal quality report: %w", err)
	}
	records = append(records, &kafka.Record{
		Topic: kafka.TopicJourneyQuality,
		Key:   res.BatchID,
		Value: report,
	})

	return w.producer.ProduceBatch(ctx, records)
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
