package main

import (
	"context"
	"fmt"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/riskscan/scan-worker/internal/config"
	"github.com/riskscan/scan-worker/internal/detection"
	"github.com/riskscan/scan-worker/internal/detection/openai"
	"github.com/riskscan/scan-worker/internal/events"
	"github.com/riskscan/scan-worker/internal/evidence"
	"github.com/riskscan/scan-worker/internal/intake"
	"github.com/riskscan/scan-worker/internal/store"
	"github.com/riskscan/scan-worker/pkg/log"
)

// setupLogger installs the global logger. The returned func restores the
// previous one and flushes.
func setupLogger(cfg *config.Config) func() {
	logger := log.InitLog(log.ParseLevel(cfg.Service.LogLevel), cfg.Service.LogEncoding)
	undo := zap.ReplaceGlobals(logger)
	return func() {
		_ = logger.Sync()
		undo()
	}
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	db, err := store.InitDB(cfg)
	if err != nil {
		return nil, fmt.Errorf("initializing data store: %w", err)
	}
	s := store.NewStore(db)
	if cfg.Database.Type != "pgsql" {
		// sqlite is for local runs only, it is created from the models
		if err := s.InitialMigration(ctx); err != nil {
			s.Close()
			return nil, fmt.Errorf("running initial migration: %w", err)
		}
	}
	return s, nil
}

func newValidator(cfg *config.Config) detection.Validator {
	if cfg.Validator.APIKey == "" {
		zap.S().Named("scan_worker").Warn("no validation service configured, every candidate is accepted")
		return detection.AcceptAll{}
	}
	return openai.NewValidator(cfg.Validator.APIKey, cfg.Validator.BaseURL, cfg.Validator.Model,
		openai.WithTimeout(cfg.Validator.Timeout))
}

func newEvidenceStore(ctx context.Context, cfg *config.Config) evidence.Store {
	if cfg.Storage.Endpoint == "" {
		return evidence.NoopStore{}
	}
	s, err := evidence.NewMinioStore(ctx,
		evidence.WithEndpoint(cfg.Storage.Endpoint),
		evidence.WithBucket(cfg.Storage.Bucket),
		evidence.WithAccessKey(cfg.Storage.AccessKey),
		evidence.WithSecretKey(cfg.Storage.SecretKey),
		evidence.WithSSL(cfg.Storage.UseSSL),
	)
	if err != nil {
		zap.S().Named("scan_worker").Errorw("failed to create evidence store, evidence is not kept", "error", err)
		return evidence.NoopStore{}
	}
	return s
}

func newEventProducer(cfg *config.Config) (*events.EventProducer, error) {
	opts := []events.ProducerOptions{events.WithOutputTopic(cfg.Queue.OutboundTopic)}
	if !cfg.Queue.KafkaEnabled() {
		return events.NewEventProducer(&events.StdoutWriter{}, opts...), nil
	}

	saramaCfg, err := cfg.Queue.SaramaConfig()
	if err != nil {
		return nil, err
	}
	writer, err := events.NewKafkaWriter(cfg.Queue.Brokers, saramaCfg)
	if err != nil {
		return nil, err
	}
	return events.NewEventProducer(writer, opts...), nil
}

func riverOptions(cfg *config.Config) intake.RiverOptions {
	return intake.RiverOptions{
		Queue:      cfg.Queue.RiverQueue,
		MaxWorkers: cfg.Queue.RiverMaxWorkers,
	}
}

func newKafkaProducer(cfg *config.Config) (sarama.SyncProducer, error) {
	if !cfg.Queue.KafkaEnabled() {
		return nil, fmt.Errorf("the kafka queue driver needs SCAN_WORKER_KAFKA_BROKERS")
	}
	saramaCfg, err := cfg.Queue.SaramaConfig()
	if err != nil {
		return nil, err
	}
	return sarama.NewSyncProducer(cfg.Queue.Brokers, saramaCfg)
}
