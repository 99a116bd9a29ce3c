package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dunamismax/cloudmagick/internal/domain"
	"github.com/dunamismax/cloudmagick/internal/storage"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var (
	ErrInvalidRequest  = errors.New("invalid transform request")
	ErrSinkUnavailable = errors.New("variant storage is not configured")
)

type Request struct {
	Directive string
	Filename  string
}

// Published is the outcome of the asynchronous delivery mode: the variant
// was written to Key and is publicly reachable at Location.
type Published struct {
	Key      string
	Location string
	Result   Result
}

type Source interface {
	Fetch(ctx context.Context, key string) (domain.Blob, error)
}

type Sink interface {
	Store(ctx context.Context, key string, blob domain.Blob, cacheControl string) error
}

type Config struct {
	SourcePrefix  string
	PublicBaseURL string
	MaxAge        time.Duration
}

type Processor struct {
	logger    *zap.Logger
	source    Source
	converter Converter
	sink      Sink
	cfg       Config
	tracer    trace.Tracer
	now       func() time.Time
}

// NewProcessor wires the pipeline stages. sink may be nil when only inline
// delivery is used.
func NewProcessor(logger *zap.Logger, source Source, converter Converter, sink Sink, cfg Config) (*Processor, error) {
	if source == nil {
		return nil, errors.New("source is required")
	}
	if converter == nil {
		return nil, errors.New("converter is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = DefaultMaxAge
	}

	return &Processor{
		logger:    logger,
		source:    source,
		converter: converter,
		sink:      sink,
		cfg:       cfg,
		tracer:    otel.Tracer("cloudmagick/pipeline"),
		now:       time.Now,
	}, nil
}

// Transform fetches the source object, applies the directive and returns the
// assembled result. Nothing is returned alongside an error.
func (p *Processor) Transform(ctx context.Context, req Request) (Result, error) {
	if strings.TrimSpace(req.Filename) == "" {
		return Result{}, fmt.Errorf("%w: filename is required", ErrInvalidRequest)
	}

	key := storage.SourceKey(p.cfg.SourcePrefix, req.Filename)
	log := p.logger.With(zap.String("directive", req.Directive), zap.String("key", key))

	ctx, span := p.tracer.Start(ctx, "pipeline.transform")
	span.SetAttributes(
		attribute.String("transform.directive", req.Directive),
		attribute.String("transform.key", key),
	)
	defer span.End()

	source, err := p.source.Fetch(ctx, key)
	if err != nil {
		log.Warn("fetch source failed", zap.Error(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")
		return Result{}, fmt.Errorf("fetch source %s: %w", key, err)
	}

	ops := ParseDirective(req.Directive)
	if ops.Empty() {
		log.Debug("directive has no recognized operations, only normalizing orientation")
	}
	args := BuildArgs(ops, InputPlaceholder, OutputPlaceholder)

	startedAt := time.Now()
	output, err := p.converter.Convert(ctx, args, source)
	if err != nil {
		fields := []zap.Field{zap.Strings("args", args), zap.Error(err)}
		var convErr *ConversionError
		if errors.As(err, &convErr) {
			fields = append(fields, zap.Strings("resolved_args", convErr.Args), zap.String("diagnostic", convErr.Diagnostic))
		}
		log.Error("conversion failed", fields...)
		span.RecordError(err)
		span.SetStatus(codes.Error, "conversion failed")
		return Result{}, fmt.Errorf("transform %s: %w", key, err)
	}

	result := Assemble(output, source, p.now(), p.cfg.MaxAge)
	result.Operations = ops
	result.Args = args

	log.Debug("transformed",
		zap.Strings("args", args),
		zap.Int("source_bytes", source.Size()),
		zap.Int("output_bytes", len(output)),
		zap.Duration("convert_duration", time.Since(startedAt)),
	)
	span.SetAttributes(attribute.Int("transform.output_bytes", len(output)))
	span.SetStatus(codes.Ok, "transformed")
	return result, nil
}

// Publish transforms and stores the variant under {directive}/{filename}
// so a static host can serve it directly from then on.
func (p *Processor) Publish(ctx context.Context, req Request) (Published, error) {
	if p.sink == nil {
		return Published{}, ErrSinkUnavailable
	}

	result, err := p.Transform(ctx, req)
	if err != nil {
		return Published{}, err
	}

	key := storage.VariantKey(req.Directive, req.Filename)
	if err := p.sink.Store(ctx, key, result.Output, result.CacheControl); err != nil {
		p.logger.Error("store variant failed",
			zap.String("directive", req.Directive),
			zap.String("key", key),
			zap.Error(err),
		)
		return Published{}, fmt.Errorf("store variant %s: %w", key, err)
	}

	return Published{
		Key:      key,
		Location: storage.PublicURL(p.cfg.PublicBaseURL, key),
		Result:   result,
	}, nil
}
