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

	"github.com/dunamismax/cloudmagick/internal/api"
	"github.com/dunamismax/cloudmagick/internal/config"
	"github.com/dunamismax/cloudmagick/internal/pipeline"
	"github.com/dunamismax/cloudmagick/internal/queue"
	"github.com/dunamismax/cloudmagick/internal/ratelimit"
	"github.com/dunamismax/cloudmagick/internal/storage"
	"github.com/dunamismax/cloudmagick/internal/store"
	"github.com/dunamismax/cloudmagick/internal/telemetry"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := telemetry.NewLogger(telemetry.LogConfig{Level: cfg.Log.Level, Format: cfg.Log.Format}, "api")
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("api failed", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TraceConfig{
		ServiceName:  "cloudmagick-api",
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
	pingCtx, cancelPing := context.WithTimeout(ctx, 5*time.Second)
	if err := storageClient.Ping(pingCtx); err != nil {
		logger.Warn("object store not reachable yet", zap.String("bucket", storageClient.Bucket()), zap.Error(err))
	}
	cancelPing()

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

	queueClient := queue.NewClient(cfg.Queue.RedisClientOpt(), cfg.Queue.Name, cfg.Magick.Timeout+time.Minute)
	defer func() {
		if err := queueClient.Close(); err != nil {
			logger.Warn("queue client close error", zap.Error(err))
		}
	}()

	var jobStore store.JobStore
	if cfg.Database.DSN != "" {
		pgStore, err := store.NewPostgresJobStore(ctx, cfg.Database.DSN)
		if err != nil {
			return err
		}
		defer pgStore.Close()
		jobStore = pgStore
	} else {
		logger.Warn("POSTGRES_DSN is empty, job records are kept in memory and are not visible to workers")
		jobStore = store.NewMemoryJobStore()
	}

	opts := api.Options{
		Delivery:       cfg.Delivery.Mode,
		AllowedOrigins: cfg.API.AllowedOrigins,
		Sources:        storageClient,
		SourcePrefix:   cfg.Delivery.OriginPrefix,
	}
	if cfg.RateLimit.Enabled() {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Queue.RedisAddr,
			Password: cfg.Queue.RedisPassword,
			DB:       cfg.Queue.RedisDB,
		})
		defer redisClient.Close()

		limiter, err := ratelimit.NewRedisTokenBucket(redisClient, cfg.RateLimit.Capacity, cfg.RateLimit.Window, "")
		if err != nil {
			return fmt.Errorf("init rate limiter: %w", err)
		}
		opts.RateLimiter = limiter

		opts.TrustedProxies, err = api.ParseTrustedProxies(cfg.RateLimit.TrustedProxies)
		if err != nil {
			return err
		}
	}

	app := api.NewServer(logger, processor, queueClient, jobStore, opts)

	httpServer := &http.Server{
		Addr:         cfg.API.Addr,
		Handler:      app.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.Magick.Timeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening",
			zap.String("addr", cfg.API.Addr),
			zap.String("delivery", cfg.Delivery.Mode),
			zap.String("magick_protocol", string(converter.Protocol())),
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("serve http: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", zap.Error(err))
	}
	return nil
}
