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

	"github.com/dunamismax/cloudmagick/internal/config"
	"github.com/dunamismax/cloudmagick/internal/pipeline"
	"github.com/dunamismax/cloudmagick/internal/storage"
	"github.com/dunamismax/cloudmagick/internal/store"
	"github.com/dunamismax/cloudmagick/internal/telemetry"
	"github.com/dunamismax/cloudmagick/internal/webhook"
	"github.com/dunamismax/cloudmagick/internal/worker"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := telemetry.NewLogger(telemetry.LogConfig{Level: cfg.Log.Level, Format: cfg.Log.Format}, "worker")
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("worker failed", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TraceConfig{
		ServiceName:  "cloudmagick-worker",
		Exporter:     cfg.Trace.Exporter,
		OTLPEndpoint: cfg.Trace.OTLPEndpoint,
		OTLPInsecure: cfg.Trace.OTLPInsecure,
	}, logger)
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer shutdownTracing(context.Background())

	if err := pipeline.Startup(); err != nil {
		return fmt.Errorf("start image runtime: %w", err)
	}
	defer pipeline.Shutdown()

	storageClient, err := storage.NewClient(storage.Config{
		Endpoint: cfg.Storage.Endpoint,
		Access:   cfg.Storage.AccessKey,
		Secret:   cfg.Storage.SecretKey,
		Bucket:   cfg.Storage.Bucket,
		UseSSL:   cfg.Storage.UseSSL,
	})
	if err != nil {
		return err
	}
	bucketCtx, cancelBucket := context.WithTimeout(ctx, 10*time.Second)
	err = storageClient.EnsureBucket(bucketCtx)
	cancelBucket()
	if err != nil {
		return err
	}

	converter, err := pipeline.NewMagickConverter(pipeline.MagickConfig{
		Binary:     cfg.Magick.Binary,
		Protocol:   pipeline.Protocol(cfg.Magick.Protocol),
		ScratchDir: cfg.Magick.ScratchDir,
		Timeout:    cfg.Magick.Timeout,
	})
	if err != nil {
		return err
	}

	processor, err := pipeline.NewProcessor(logger.Named("pipeline"), storageClient, converter, storageClient, pipeline.Config{
		SourcePrefix:  cfg.Delivery.OriginPrefix,
		PublicBaseURL: cfg.Delivery.PublicBaseURL,
		MaxAge:        cfg.Delivery.MaxAge,
	})
	if err != nil {
		return err
	}

	var jobStore interface {
		store.JobStore
		store.UsageStore
	}
	if cfg.Database.DSN != "" {
		pgStore, err := store.NewPostgresJobStore(ctx, cfg.Database.DSN)
		if err != nil {
			return err
		}
		defer pgStore.Close()
		jobStore = pgStore
	} else {
		logger.Warn("POSTGRES_DSN is empty, job status updates stay local to this worker")
		jobStore = store.NewMemoryJobStore()
	}

	webhookClient := webhook.NewClient(webhook.Config{
		SigningSecret: cfg.Webhook.SigningSecret,
		Timeout:       cfg.Webhook.Timeout,
		MaxAttempts:   cfg.Webhook.MaxAttempts,
		MaxBackoff:    30 * time.Second,
	})

	srv, err := worker.NewServer(logger, cfg.Queue, cfg.Worker, processor, webhookClient, jobStore, jobStore)
	if err != nil {
		return err
	}

	metricsServer := &http.Server{
		Addr:              cfg.Worker.MetricsAddr,
		Handler:           srv.MetricsHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	logger.Info("starting worker",
		zap.Int("concurrency", cfg.Worker.Concurrency),
		zap.Int("max_active_jobs", cfg.Worker.MaxActiveJobs),
		zap.String("queue", cfg.Queue.Name),
		zap.String("redis", cfg.Queue.RedisAddr),
		zap.String("magick_protocol", string(converter.Protocol())),
	)

	// asynq's Run blocks on its own signal handling; Start lets the shared
	// context drive shutdown instead.
	if err := srv.Start(); err != nil {
		return fmt.Errorf("start worker: %w", err)
	}
	<-ctx.Done()

	logger.Info("shutting down")
	srv.Shutdown()
	return nil
}
