package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.API.Addr)
	assert.Equal(t, DeliveryInline, cfg.Delivery.Mode)
	assert.Equal(t, 315360000*time.Second, cfg.Delivery.MaxAge)
	assert.Equal(t, "convert", cfg.Magick.Binary)
	assert.Equal(t, "file", cfg.Magick.Protocol)
	assert.Equal(t, 30*time.Second, cfg.Magick.Timeout)
	assert.Equal(t, "localhost:6379", cfg.Queue.RedisAddr)
	assert.Equal(t, "cloudmagick", cfg.Storage.Bucket)
	assert.False(t, cfg.RateLimit.Enabled())
	assert.Empty(t, cfg.API.AllowedOrigins)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("DELIVERY_MODE", "Redirect")
	t.Setenv("PUBLIC_BASE_URL", "http://static.example.com")
	t.Setenv("ORIGIN_PREFIX", "/origin/")
	t.Setenv("CACHE_MAX_AGE", "24h")
	t.Setenv("MAGICK_PROTOCOL", "stream")
	t.Setenv("MAGICK_TIMEOUT", "5s")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("MINIO_USE_SSL", "true")
	t.Setenv("RATE_LIMIT_CAPACITY", "20")
	t.Setenv("ALLOWED_ORIGINS", "https://*.example.com, http://localhost:*")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DeliveryRedirect, cfg.Delivery.Mode)
	assert.Equal(t, "http://static.example.com", cfg.Delivery.PublicBaseURL)
	assert.Equal(t, "/origin/", cfg.Delivery.OriginPrefix)
	assert.Equal(t, 24*time.Hour, cfg.Delivery.MaxAge)
	assert.Equal(t, "stream", cfg.Magick.Protocol)
	assert.Equal(t, 5*time.Second, cfg.Magick.Timeout)
	assert.Equal(t, 3, cfg.Queue.RedisDB)
	assert.True(t, cfg.Storage.UseSSL)
	assert.True(t, cfg.RateLimit.Enabled())
	assert.Equal(t, []string{"https://*.example.com", "http://localhost:*"}, cfg.API.AllowedOrigins)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cloudmagick.yaml")
	require.NoError(t, os.WriteFile(path, []byte("MINIO_BUCKET: images\nORIGIN_PREFIX: origin\n"), 0o644))
	t.Setenv("CLOUDMAGICK_CONFIG", path)
	t.Setenv("ORIGIN_PREFIX", "override")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "images", cfg.Storage.Bucket)
	assert.Equal(t, "override", cfg.Delivery.OriginPrefix)
}

func TestLoadRejectsInvalidDelivery(t *testing.T) {
	t.Setenv("DELIVERY_MODE", "carrier-pigeon")
	_, err := Load()
	assert.Error(t, err)
}

func TestLoadRedirectRequiresPublicBaseURL(t *testing.T) {
	t.Setenv("DELIVERY_MODE", "redirect")
	_, err := Load()
	assert.Error(t, err)
}

func TestLoadCacheMaxAgeBareSeconds(t *testing.T) {
	t.Setenv("CACHE_MAX_AGE", "315360000")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 315360000*time.Second, cfg.Delivery.MaxAge)
}

func TestLoadRejectsSubSecondCacheMaxAge(t *testing.T) {
	t.Setenv("CACHE_MAX_AGE", "500ms")
	_, err := Load()
	assert.Error(t, err)
}

func TestLoadTrustedProxies(t *testing.T) {
	t.Setenv("RATE_LIMIT_TRUSTED_PROXIES", "10.0.0.0/8, 192.168.1.1")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"10.0.0.0/8", "192.168.1.1"}, cfg.RateLimit.TrustedProxies)
}
