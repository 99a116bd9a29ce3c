package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/dunamismax/cloudmagick/internal/config"
	"github.com/dunamismax/cloudmagick/internal/domain"
	"github.com/dunamismax/cloudmagick/internal/pipeline"
	"github.com/dunamismax/cloudmagick/internal/queue"
	"github.com/dunamismax/cloudmagick/internal/storage"
	"github.com/dunamismax/cloudmagick/internal/store"
	"github.com/dunamismax/cloudmagick/internal/webhook"
	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	outcomeRendered = "rendered"
	outcomeFailed   = "failed"
	outcomeRetrying = "retrying"
)

type Publisher interface {
	Publish(ctx context.Context, req pipeline.Request) (pipeline.Published, error)
}

type WebhookSender interface {
	Send(ctx context.Context, endpoint, event string, payload any) error
}

type Server struct {
	logger     *zap.Logger
	server     *asynq.Server
	sem        chan struct{}
	publisher  Publisher
	webhooks   WebhookSender
	jobStore   store.JobStore
	usageStore store.UsageStore
	metrics    *metrics
	tracer     trace.Tracer
	now        func() time.Time
}

func NewServer(
	logger *zap.Logger,
	queueCfg config.QueueConfig,
	workerCfg config.WorkerConfig,
	publisher Publisher,
	webhooks WebhookSender,
	jobStore store.JobStore,
	usageStore store.UsageStore,
) (*Server, error) {
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if usageStore == nil {
		if jobAndUsageStore, ok := jobStore.(store.UsageStore); ok {
			usageStore = jobAndUsageStore
		}
	}

	s := newServer(logger, workerCfg.MaxActiveJobs, publisher, webhooks, jobStore, usageStore)
	s.server = asynq.NewServer(
		queueCfg.RedisClientOpt(),
		asynq.Config{
			Concurrency: workerCfg.Concurrency,
			Queues: map[string]int{
				queueCfg.Name: 1,
			},
			Logger:   logger.Sugar().Named("asynq"),
			LogLevel: asynq.InfoLevel,
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				retried, _ := asynq.GetRetryCount(ctx)
				maxRetry, _ := asynq.GetMaxRetry(ctx)
				logger.Warn("task failed",
					zap.String("type", task.Type()),
					zap.Int("retry", retried),
					zap.Int("max_retry", maxRetry),
					zap.Error(err),
				)
			}),
		},
	)
	return s, nil
}

func newServer(
	logger *zap.Logger,
	maxActiveJobs int,
	publisher Publisher,
	webhooks WebhookSender,
	jobStore store.JobStore,
	usageStore store.UsageStore,
) *Server {
	return &Server{
		logger:     logger,
		sem:        make(chan struct{}, max(1, maxActiveJobs)),
		publisher:  publisher,
		webhooks:   webhooks,
		jobStore:   jobStore,
		usageStore: usageStore,
		metrics:    newMetrics(),
		tracer:     otel.Tracer("cloudmagick/worker"),
		now:        time.Now,
	}
}

// Start begins consuming render tasks in the background.
func (s *Server) Start() error {
	return s.server.Start(s.Mux())
}

func (s *Server) Shutdown() {
	s.server.Shutdown()
}

func (s *Server) Mux() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TypeRenderVariant, s.handleRenderVariant)
	return mux
}

func (s *Server) MetricsHandler() http.Handler {
	return s.metrics.Handler()
}

func (s *Server) handleRenderVariant(ctx context.Context, task *asynq.Task) error {
	startedAt := s.now()
	outcome := outcomeFailed

	payload, err := queue.ParseRenderVariantPayload(task)
	if err != nil {
		return fmt.Errorf("parse payload: %v: %w", err, asynq.SkipRetry)
	}

	ctx, span := s.tracer.Start(ctx, "worker.render_variant", trace.WithSpanKind(trace.SpanKindConsumer))
	span.SetAttributes(
		attribute.String("job.id", payload.JobID),
		attribute.String("job.directive", payload.Directive),
		attribute.String("job.filename", payload.Filename),
	)
	defer span.End()
	defer func() {
		s.metrics.jobDuration.WithLabelValues(outcome).Observe(time.Since(startedAt).Seconds())
		s.metrics.jobsTotal.WithLabelValues(outcome).Inc()
	}()

	s.sem <- struct{}{}
	s.metrics.activeJobs.Inc()
	defer func() {
		<-s.sem
		s.metrics.activeJobs.Dec()
	}()

	log := s.logger.With(
		zap.String("job_id", payload.JobID),
		zap.String("directive", payload.Directive),
		zap.String("filename", payload.Filename),
	)
	log.Info("rendering variant")
	s.updateJob(ctx, log, payload.JobID, domain.JobUpdate{Status: domain.JobStatusProcessing})

	published, err := s.publisher.Publish(ctx, pipeline.Request{
		Directive: payload.Directive,
		Filename:  payload.Filename,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "render failed")

		if !permanent(err) && !finalAttempt(ctx) {
			outcome = outcomeRetrying
			log.Warn("render failed, will retry", zap.Error(err))
			s.updateJob(ctx, log, payload.JobID, domain.JobUpdate{Status: domain.JobStatusQueued, Error: err.Error()})
			return fmt.Errorf("render variant: %w", err)
		}

		log.Error("render failed", zap.Error(err))
		s.updateJob(ctx, log, payload.JobID, domain.JobUpdate{Status: domain.JobStatusFailed, Error: err.Error()})
		_ = s.dispatchWebhook(ctx, log, payload, webhook.EventVariantFailed, map[string]any{
			"job_id":       payload.JobID,
			"status":       domain.JobStatusFailed,
			"directive":    payload.Directive,
			"filename":     payload.Filename,
			"requested_at": payload.RequestedAt,
			"failed_at":    s.now().UTC(),
			"error":        err.Error(),
		})
		return fmt.Errorf("render variant: %v: %w", err, asynq.SkipRetry)
	}

	computeTime := s.now().Sub(startedAt)
	log.Info("rendered variant",
		zap.String("object_key", published.Key),
		zap.String("location", published.Location),
		zap.Int("output_bytes", published.Result.Output.Size()),
		zap.Duration("compute_time", computeTime),
	)
	s.updateJob(ctx, log, payload.JobID, domain.JobUpdate{
		Status:    domain.JobStatusSucceeded,
		ObjectKey: published.Key,
		Location:  published.Location,
	})
	s.recordUsage(ctx, log, payload.JobID, published.Result, computeTime)

	if err := s.dispatchWebhook(ctx, log, payload, webhook.EventVariantRendered, map[string]any{
		"job_id":       payload.JobID,
		"status":       domain.JobStatusSucceeded,
		"directive":    payload.Directive,
		"filename":     payload.Filename,
		"object_key":   published.Key,
		"location":     published.Location,
		"etag":         published.Result.ETag,
		"content_type": published.Result.Output.ContentType,
		"bytes":        published.Result.Output.Size(),
		"requested_at": payload.RequestedAt,
		"completed_at": s.now().UTC(),
	}); err != nil {
		// The variant is stored and the job is final; a retry would only
		// render it again. The client already retried the delivery.
		outcome = outcomeRendered
		span.RecordError(err)
		span.SetStatus(codes.Error, "webhook dispatch failed")
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	outcome = outcomeRendered
	span.SetStatus(codes.Ok, "rendered")
	return nil
}

// permanent reports errors that would fail the same way on every retry.
func permanent(err error) bool {
	return errors.Is(err, pipeline.ErrConversionFailed) ||
		errors.Is(err, pipeline.ErrInvalidRequest) ||
		errors.Is(err, pipeline.ErrSinkUnavailable) ||
		errors.Is(err, storage.ErrObjectNotFound)
}

func finalAttempt(ctx context.Context) bool {
	retried, ok := asynq.GetRetryCount(ctx)
	if !ok {
		return true
	}
	maxRetry, ok := asynq.GetMaxRetry(ctx)
	if !ok {
		return true
	}
	return retried >= maxRetry
}

func (s *Server) updateJob(ctx context.Context, log *zap.Logger, jobID string, update domain.JobUpdate) {
	if s.jobStore == nil {
		return
	}
	if _, err := s.jobStore.Update(ctx, jobID, update); err != nil {
		log.Warn("job update failed", zap.String("status", update.Status), zap.Error(err))
	}
}

func (s *Server) dispatchWebhook(ctx context.Context, log *zap.Logger, payload queue.RenderVariantPayload, event string, body map[string]any) error {
	if payload.WebhookURL == "" || s.webhooks == nil {
		return nil
	}

	if err := s.webhooks.Send(ctx, payload.WebhookURL, event, body); err != nil {
		log.Warn("webhook delivery failed", zap.String("event", event), zap.Error(err))
		return fmt.Errorf("dispatch webhook: %w", err)
	}

	return nil
}

func (s *Server) recordUsage(ctx context.Context, log *zap.Logger, jobID string, result pipeline.Result, computeDuration time.Duration) {
	if s.usageStore == nil {
		return
	}

	usage := domain.UsageLog{
		JobID:         jobID,
		SourceBytes:   int64(result.SourceBytes),
		OutputBytes:   int64(result.Output.Size()),
		ComputeTimeMS: max(1, computeDuration.Milliseconds()),
		CreatedAt:     s.now().UTC(),
	}
	if err := s.usageStore.CreateUsageLog(ctx, usage); err != nil {
		log.Warn("usage log write failed", zap.Error(err))
		return
	}

	s.metrics.sourceBytesTotal.Add(float64(usage.SourceBytes))
	s.metrics.outputBytesTotal.Add(float64(usage.OutputBytes))
	s.metrics.computeTimeMSTotal.Add(float64(usage.ComputeTimeMS))
}
