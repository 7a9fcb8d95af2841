package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	apiserver "github.com/riskscan/scan-worker/internal/api_server"
	"github.com/riskscan/scan-worker/internal/config"
	"github.com/riskscan/scan-worker/internal/detection"
	"github.com/riskscan/scan-worker/internal/estimation/calculators"
	"github.com/riskscan/scan-worker/internal/intake"
	"github.com/riskscan/scan-worker/internal/modules"
	"github.com/riskscan/scan-worker/internal/persistence"
	"github.com/riskscan/scan-worker/internal/scheduler"
	"github.com/riskscan/scan-worker/internal/service"
	"github.com/riskscan/scan-worker/internal/store"
)

const riverStopTimeout = 30 * time.Second

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Consume scan jobs until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.New()
		if err != nil {
			return fmt.Errorf("reading configuration: %w", err)
		}
		defer setupLogger(cfg)()

		zap.S().Named("scan_worker").Infow("starting scan worker", "queue_driver", cfg.Queue.Driver)
		defer zap.S().Named("scan_worker").Info("scan worker stopped")

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGHUP, syscall.SIGTERM, syscall.SIGQUIT)
		defer cancel()

		s, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer s.Close()
		gateway := persistence.NewStoreGateway(s)

		registry := detection.NewRuleRegistry(cfg.Detection.RulesFile)
		go registry.Watch(ctx, cfg.Detection.RulesReload)

		pipeline := detection.NewPipeline(registry, newValidator(cfg), detection.NewVerdictCache(),
			detection.WithNoiseCap(cfg.Detection.NoiseCap),
			detection.WithBatchSize(cfg.Validator.BatchSize),
			detection.WithEntropyThreshold(cfg.Detection.EntropyThreshold),
			detection.WithMinTokenLength(cfg.Detection.MinTokenLength),
		)

		sched := scheduler.New(
			scheduler.WithMaxConcurrency(cfg.Scheduler.MaxConcurrency),
			scheduler.WithMaxTargets(cfg.Scheduler.MaxTargets),
		)
		modules.Register(sched,
			modules.Config{
				Timeout:                cfg.Scheduler.ModuleTimeout,
				TargetTimeout:          cfg.Scheduler.TargetTimeout,
				MaxConsecutiveFailures: cfg.Scheduler.MaxConsecutiveFailures,
			},
			modules.NewFetcher(cfg.Service.UserAgent, cfg.Detection.MaxAssetBytes, cfg.Scheduler.FetchRate),
			pipeline,
			newEvidenceStore(ctx, cfg),
		)

		producer, err := newEventProducer(cfg)
		if err != nil {
			return fmt.Errorf("creating event producer: %w", err)
		}
		defer func() {
			if err := producer.Close(); err != nil {
				zap.S().Named("scan_worker").Warnw("failed to close event producer", "error", err)
			}
		}()

		svc := service.NewScanService(gateway, sched, calculators.NewDefaultEngine(), producer)
		handler := intake.NewHandler(svc, gateway)

		listener, err := newListener(cfg.Service.OpsAddress)
		if err != nil {
			return fmt.Errorf("creating listener: %w", err)
		}

		ctx, stop := context.WithCancel(ctx)
		defer stop()
		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			defer stop()
			return apiserver.NewOpsServer(cfg.Service.OpsAddress, listener, gateway, s.ScanStatus()).Run(ctx)
		})
		g.Go(func() error {
			defer stop()
			return consume(ctx, cfg, handler)
		})
		return g.Wait()
	},
}

func consume(ctx context.Context, cfg *config.Config, handler *intake.Handler) error {
	switch cfg.Queue.Driver {
	case "river":
		pool, err := store.NewPgxPool(ctx, cfg)
		if err != nil {
			return err
		}
		defer pool.Close()

		client, err := intake.NewRiverClient(pool, handler, riverOptions(cfg))
		if err != nil {
			return err
		}
		if err := client.Start(ctx); err != nil {
			return fmt.Errorf("failed to start river: %w", err)
		}
		zap.S().Named("scan_worker").Infow("river job queue started", "queue", cfg.Queue.RiverQueue)

		<-ctx.Done()
		// running scans are finished before the client stops
		stopCtx, cancel := context.WithTimeout(context.Background(), riverStopTimeout)
		defer cancel()
		return client.Stop(stopCtx)
	case "kafka":
		if !cfg.Queue.KafkaEnabled() {
			return fmt.Errorf("the kafka queue driver needs SCAN_WORKER_KAFKA_BROKERS")
		}
		saramaCfg, err := cfg.Queue.SaramaConfig()
		if err != nil {
			return err
		}
		consumer, err := intake.NewKafkaConsumer(cfg.Queue.Brokers, cfg.Queue.ConsumerGroup, cfg.Queue.InboundTopic, saramaCfg, handler)
		if err != nil {
			return fmt.Errorf("failed to create kafka consumer: %w", err)
		}
		defer consumer.Close()
		zap.S().Named("scan_worker").Infow("kafka consumer started", "topic", cfg.Queue.InboundTopic, "group", cfg.Queue.ConsumerGroup)
		return consumer.Run(ctx)
	default:
		return fmt.Errorf("unknown queue driver %q", cfg.Queue.Driver)
	}
}

func newListener(address string) (net.Listener, error) {
	if address == "" {
		address = "localhost:0"
	}
	return net.Listen("tcp", address)
}
