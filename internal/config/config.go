package config

import (
	"errors"
	"fmt"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/spf13/viper"
)

const (
	DeliveryInline   = "inline"
	DeliveryRedirect = "redirect"
	DeliveryEnvelope = "envelope"
)

type Config struct {
	API       APIConfig
	Delivery  DeliveryConfig
	Magick    MagickConfig
	Queue     QueueConfig
	Worker    WorkerConfig
	Storage   StorageConfig
	Database  DatabaseConfig
	RateLimit RateLimitConfig
	Webhook   WebhookConfig
	Trace     TraceConfig
	Log       LogConfig
}

type APIConfig struct {
	Addr           string
	AllowedOrigins []string
}

type DeliveryConfig struct {
	Mode          string
	OriginPrefix  string
	PublicBaseURL string
	MaxAge        time.Duration
}

type MagickConfig struct {
	Binary     string
	Protocol   string
	ScratchDir string
	Timeout    time.Duration
}

type QueueConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Name          string
}

func (q QueueConfig) RedisClientOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     q.RedisAddr,
		Password: q.RedisPassword,
		DB:       q.RedisDB,
	}
}

type WorkerConfig struct {
	Concurrency   int
	MaxActiveJobs int
	MetricsAddr   string
}

type StorageConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type DatabaseConfig struct {
	DSN string
}

type RateLimitConfig struct {
	Capacity int
	Window   time.Duration
	// TrustedProxies lists the peers (IPs or CIDRs) whose X-Forwarded-For
	// header is believed. Everyone else is keyed by their socket address.
	TrustedProxies []string
}

func (r RateLimitConfig) Enabled() bool {
	return r.Capacity > 0 && r.Window > 0
}

type WebhookConfig struct {
	SigningSecret string
	Timeout       time.Duration
	MaxAttempts   int
}

type TraceConfig struct {
	Exporter     string
	OTLPEndpoint string
	OTLPInsecure bool
}

type LogConfig struct {
	Level  string
	Format string
}

// Load reads configuration from the environment and, when CLOUDMAGICK_CONFIG
// names a file, from that file first. Environment variables win.
func Load() (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if file := strings.TrimSpace(v.GetString("CLOUDMAGICK_CONFIG")); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", file, err)
		}
	}

	cfg := Config{
		API: APIConfig{
			Addr:           v.GetString("CLOUDMAGICK_API_ADDR"),
			AllowedOrigins: splitList(v.GetString("ALLOWED_ORIGINS")),
		},
		Delivery: DeliveryConfig{
			Mode:          strings.ToLower(strings.TrimSpace(v.GetString("DELIVERY_MODE"))),
			OriginPrefix:  v.GetString("ORIGIN_PREFIX"),
			PublicBaseURL: v.GetString("PUBLIC_BASE_URL"),
			MaxAge:        seconds(v, "CACHE_MAX_AGE"),
		},
		Magick: MagickConfig{
			Binary:     v.GetString("MAGICK_BINARY"),
			Protocol:   v.GetString("MAGICK_PROTOCOL"),
			ScratchDir: v.GetString("MAGICK_SCRATCH_DIR"),
			Timeout:    v.GetDuration("MAGICK_TIMEOUT"),
		},
		Queue: QueueConfig{
			RedisAddr:     v.GetString("REDIS_ADDR"),
			RedisPassword: v.GetString("REDIS_PASSWORD"),
			RedisDB:       v.GetInt("REDIS_DB"),
			Name:          v.GetString("ASYNC_QUEUE"),
		},
		Worker: WorkerConfig{
			Concurrency:   v.GetInt("WORKER_CONCURRENCY"),
			MaxActiveJobs: v.GetInt("WORKER_MAX_ACTIVE_JOBS"),
			MetricsAddr:   v.GetString("WORKER_METRICS_ADDR"),
		},
		Storage: StorageConfig{
			Endpoint:  v.GetString("MINIO_ENDPOINT"),
			AccessKey: v.GetString("MINIO_ACCESS_KEY"),
			SecretKey: v.GetString("MINIO_SECRET_KEY"),
			Bucket:    v.GetString("MINIO_BUCKET"),
			UseSSL:    v.GetBool("MINIO_USE_SSL"),
		},
		Database: DatabaseConfig{
			DSN: v.GetString("POSTGRES_DSN"),
		},
		RateLimit: RateLimitConfig{
			Capacity:       v.GetInt("RATE_LIMIT_CAPACITY"),
			Window:         v.GetDuration("RATE_LIMIT_WINDOW"),
			TrustedProxies: splitList(v.GetString("RATE_LIMIT_TRUSTED_PROXIES")),
		},
		Webhook: WebhookConfig{
			SigningSecret: v.GetString("WEBHOOK_SIGNING_SECRET"),
			Timeout:       v.GetDuration("WEBHOOK_TIMEOUT"),
			MaxAttempts:   v.GetInt("WEBHOOK_MAX_ATTEMPTS"),
		},
		Trace: TraceConfig{
			Exporter:     v.GetString("TRACE_EXPORTER"),
			OTLPEndpoint: v.GetString("OTEL_EXPORTER_OTLP_ENDPOINT"),
			OTLPInsecure: v.GetBool("OTEL_EXPORTER_OTLP_INSECURE"),
		},
		Log: LogConfig{
			Level:  v.GetString("LOG_LEVEL"),
			Format: v.GetString("LOG_FORMAT"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.Delivery.Mode {
	case DeliveryInline, DeliveryEnvelope:
	case DeliveryRedirect:
		if strings.TrimSpace(c.Delivery.PublicBaseURL) == "" {
			return errors.New("PUBLIC_BASE_URL is required for DELIVERY_MODE=redirect")
		}
	default:
		return fmt.Errorf("unsupported DELIVERY_MODE: %q", c.Delivery.Mode)
	}
	if c.Delivery.MaxAge < time.Second {
		return errors.New("CACHE_MAX_AGE must be at least one second")
	}
	if strings.TrimSpace(c.Storage.Bucket) == "" {
		return errors.New("MINIO_BUCKET is required")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	defaultWorkerSlots := max(1, runtime.NumCPU()/2)

	v.SetDefault("CLOUDMAGICK_API_ADDR", ":8080")
	v.SetDefault("ALLOWED_ORIGINS", "")

	v.SetDefault("DELIVERY_MODE", DeliveryInline)
	v.SetDefault("ORIGIN_PREFIX", "")
	v.SetDefault("PUBLIC_BASE_URL", "")
	v.SetDefault("CACHE_MAX_AGE", "315360000")

	v.SetDefault("MAGICK_BINARY", "convert")
	v.SetDefault("MAGICK_PROTOCOL", "file")
	v.SetDefault("MAGICK_SCRATCH_DIR", "")
	v.SetDefault("MAGICK_TIMEOUT", 30*time.Second)

	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("ASYNC_QUEUE", "default")

	v.SetDefault("WORKER_CONCURRENCY", max(2, runtime.NumCPU()))
	v.SetDefault("WORKER_MAX_ACTIVE_JOBS", defaultWorkerSlots)
	v.SetDefault("WORKER_METRICS_ADDR", ":9091")

	v.SetDefault("MINIO_ENDPOINT", "localhost:9000")
	v.SetDefault("MINIO_ACCESS_KEY", "minioadmin")
	v.SetDefault("MINIO_SECRET_KEY", "minioadmin")
	v.SetDefault("MINIO_BUCKET", "cloudmagick")
	v.SetDefault("MINIO_USE_SSL", false)

	v.SetDefault("POSTGRES_DSN", "")

	v.SetDefault("RATE_LIMIT_CAPACITY", 0)
	v.SetDefault("RATE_LIMIT_WINDOW", time.Minute)
	v.SetDefault("RATE_LIMIT_TRUSTED_PROXIES", "")

	v.SetDefault("WEBHOOK_SIGNING_SECRET", "")
	v.SetDefault("WEBHOOK_TIMEOUT", 10*time.Second)
	v.SetDefault("WEBHOOK_MAX_ATTEMPTS", 3)

	v.SetDefault("TRACE_EXPORTER", "none")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
}

// seconds reads key as a max-age: a bare integer counts seconds, anything
// else must be a Go duration string such as "24h".
func seconds(v *viper.Viper, key string) time.Duration {
	raw := strings.TrimSpace(v.GetString(key))
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Duration(n) * time.Second
	}
	return v.GetDuration(key)
}

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
