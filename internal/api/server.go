package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/netip"
	"strconv"
	"time"

	"github.com/dunamismax/cloudmagick/internal/config"
	"github.com/dunamismax/cloudmagick/internal/domain"
	"github.com/dunamismax/cloudmagick/internal/id"
	"github.com/dunamismax/cloudmagick/internal/pipeline"
	"github.com/dunamismax/cloudmagick/internal/queue"
	"github.com/dunamismax/cloudmagick/internal/storage"
	"github.com/dunamismax/cloudmagick/internal/store"
	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type Transformer interface {
	Transform(ctx context.Context, req pipeline.Request) (pipeline.Result, error)
	Publish(ctx context.Context, req pipeline.Request) (pipeline.Published, error)
}

type queueEnqueuer interface {
	EnqueueRenderVariant(ctx context.Context, payload queue.RenderVariantPayload) (*asynq.TaskInfo, error)
}

type objectChecker interface {
	ObjectExists(ctx context.Context, key string) (bool, error)
}

type Options struct {
	Delivery       string
	AllowedOrigins []string
	RateLimiter    RateLimiter
	// TrustedProxies are the peers allowed to name the client through
	// X-Forwarded-For when rate limiting.
	TrustedProxies []netip.Prefix
	// Sources, when set, lets job creation reject filenames with no source
	// object under SourcePrefix before anything is enqueued.
	Sources      objectChecker
	SourcePrefix string
}

type Server struct {
	logger         *zap.Logger
	transformer    Transformer
	queueClient    queueEnqueuer
	jobStore       store.JobStore
	delivery       string
	allowedOrigins []string
	rateLimiter    RateLimiter
	trustedProxies []netip.Prefix
	sources        objectChecker
	sourcePrefix   string
	metrics        *metrics
	tracer         trace.Tracer
	mux            *http.ServeMux
	handler        http.Handler
}

// NewServer builds the HTTP front. queueClient and jobStore may be nil, in
// which case the job endpoints answer 503.
func NewServer(logger *zap.Logger, transformer Transformer, queueClient queueEnqueuer, jobStore store.JobStore, opts Options) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Delivery == "" {
		opts.Delivery = config.DeliveryInline
	}

	s := &Server{
		logger:         logger,
		transformer:    transformer,
		queueClient:    queueClient,
		jobStore:       jobStore,
		delivery:       opts.Delivery,
		allowedOrigins: opts.AllowedOrigins,
		rateLimiter:    opts.RateLimiter,
		trustedProxies: opts.TrustedProxies,
		sources:        opts.Sources,
		sourcePrefix:   opts.SourcePrefix,
		metrics:        newMetrics(),
		tracer:         otel.Tracer("cloudmagick/api"),
		mux:            http.NewServeMux(),
	}
	s.routes()
	s.handler = s.withTracing(s.metrics.withHTTPMetrics(s.withRateLimit(s.mux)))
	return s
}

func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.Handle("GET /metrics", s.metrics.metricsHandler())
	s.mux.HandleFunc("POST /v1/jobs", s.handleCreateJob)
	s.mux.HandleFunc("GET /v1/jobs/{id}", s.handleGetJob)
	s.mux.HandleFunc("GET /{directive}/{filename...}", s.handleTransform)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleTransform(w http.ResponseWriter, r *http.Request) {
	if !s.originAllowed(r) {
		s.metrics.transformsTotal.WithLabelValues("origin_rejected").Inc()
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "origin not allowed"})
		return
	}

	req := pipeline.Request{
		Directive: r.PathValue("directive"),
		Filename:  r.PathValue("filename"),
	}

	if s.delivery == config.DeliveryRedirect {
		published, err := s.transformer.Publish(r.Context(), req)
		if err != nil {
			s.writeTransformError(w, req, err)
			return
		}
		s.metrics.transformsTotal.WithLabelValues("redirected").Inc()
		http.Redirect(w, r, published.Location, http.StatusFound)
		return
	}

	result, err := s.transformer.Transform(r.Context(), req)
	if err != nil {
		s.writeTransformError(w, req, err)
		return
	}

	if etagMatches(r.Header.Get("If-None-Match"), result.ETag) {
		s.metrics.transformsTotal.WithLabelValues("not_modified").Inc()
		result.WriteHeaders(w.Header())
		w.Header().Del("Content-Type")
		w.WriteHeader(http.StatusNotModified)
		return
	}

	s.metrics.transformsTotal.WithLabelValues("ok").Inc()
	if s.delivery == config.DeliveryEnvelope {
		writeJSON(w, http.StatusOK, newEnvelope(result))
		return
	}

	result.WriteHeaders(w.Header())
	w.Header().Set("Content-Length", strconv.Itoa(result.Output.Size()))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Output.Data)
}

// envelope is the proxy-integration response shape used by function
// gateways that can only carry text bodies.
type envelope struct {
	IsBase64Encoded bool              `json:"isBase64Encoded"`
	StatusCode      int               `json:"statusCode"`
	Headers         map[string]string `json:"headers"`
	Body            string            `json:"body"`
}

func newEnvelope(result pipeline.Result) envelope {
	h := http.Header{}
	result.WriteHeaders(h)

	headers := make(map[string]string, len(h))
	for name := range h {
		headers[name] = h.Get(name)
	}

	return envelope{
		IsBase64Encoded: true,
		StatusCode:      http.StatusOK,
		Headers:         headers,
		Body:            result.Base64(),
	}
}

func (s *Server) writeTransformError(w http.ResponseWriter, req pipeline.Request, err error) {
	log := s.logger.With(zap.String("directive", req.Directive), zap.String("filename", req.Filename))

	var convErr *pipeline.ConversionError
	switch {
	case errors.Is(err, pipeline.ErrInvalidRequest):
		s.metrics.transformsTotal.WithLabelValues("invalid").Inc()
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, storage.ErrObjectNotFound):
		s.metrics.transformsTotal.WithLabelValues("not_found").Inc()
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "source image not found"})
	case errors.Is(err, storage.ErrTransient):
		s.metrics.transformsTotal.WithLabelValues("unavailable").Inc()
		log.Warn("source store unavailable", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "source store unavailable"})
	case errors.As(err, &convErr):
		s.metrics.transformsTotal.WithLabelValues("conversion_failed").Inc()
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error":      pipeline.ErrConversionFailed.Error(),
			"diagnostic": convErr.Diagnostic,
		})
	default:
		s.metrics.transformsTotal.WithLabelValues("error").Inc()
		log.Error("transform failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "transform failed"})
	}
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	if s.queueClient == nil || s.jobStore == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "async rendering is not configured"})
		return
	}

	var req domain.CreateJobRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if err := req.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	if err := s.verifySourceExists(r.Context(), req.Filename); err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "source image not found"})
			return
		}
		s.logger.Warn("source check failed", zap.String("filename", req.Filename), zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "source store unavailable"})
		return
	}

	now := time.Now().UTC()
	job := domain.Job{
		ID:         id.New(),
		Status:     domain.JobStatusCreated,
		Directive:  req.Directive,
		Filename:   req.Filename,
		WebhookURL: req.WebhookURL,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	log := s.logger.With(zap.String("job_id", job.ID))

	if err := s.jobStore.Create(r.Context(), job); err != nil {
		log.Error("create job failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to create job"})
		return
	}

	taskInfo, err := s.queueClient.EnqueueRenderVariant(r.Context(), queue.RenderVariantPayload{
		JobID:       job.ID,
		Directive:   job.Directive,
		Filename:    job.Filename,
		WebhookURL:  job.WebhookURL,
		RequestedAt: now,
	})
	if err != nil {
		log.Error("enqueue failed", zap.Error(err))
		if _, err := s.jobStore.Update(r.Context(), job.ID, domain.JobUpdate{Status: domain.JobStatusFailed, Error: "enqueue failed"}); err != nil {
			log.Warn("update status failed", zap.Error(err))
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to enqueue job"})
		return
	}
	s.metrics.queueEnqueued.WithLabelValues(taskInfo.Queue).Inc()

	if _, err := s.jobStore.Update(r.Context(), job.ID, domain.JobUpdate{Status: domain.JobStatusQueued}); err != nil {
		log.Warn("update status failed", zap.Error(err))
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":     job.ID,
		"status":     domain.JobStatusQueued,
		"queue":      taskInfo.Queue,
		"task_id":    taskInfo.ID,
		"status_url": fmt.Sprintf("/v1/jobs/%s", job.ID),
	})
}

func (s *Server) verifySourceExists(ctx context.Context, filename string) error {
	if s.sources == nil {
		return nil
	}
	key := storage.SourceKey(s.sourcePrefix, filename)
	exists, err := s.sources.ObjectExists(ctx, key)
	if err != nil {
		return fmt.Errorf("source object check failed: %w", err)
	}
	if !exists {
		return fmt.Errorf("source object %s: %w", key, storage.ErrObjectNotFound)
	}
	return nil
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	if s.jobStore == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "async rendering is not configured"})
		return
	}

	jobID := r.PathValue("id")
	job, ok, err := s.jobStore.Get(r.Context(), jobID)
	if err != nil {
		s.logger.Error("fetch job failed", zap.String("job_id", jobID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load job"})
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "job not found"})
		return
	}

	writeJSON(w, http.StatusOK, job)
}

func decodeJSON(r *http.Request, into any) error {
	const maxBodyBytes = 1 << 20
	limited := io.LimitReader(r.Body, maxBodyBytes)
	decoder := json.NewDecoder(limited)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(into); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return errors.New("invalid JSON body: multiple JSON values are not allowed")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
