package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger(LogConfig{Level: "debug", Format: "console"}, "api")
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))

	logger, err = NewLogger(LogConfig{Level: "warn", Format: "json"}, "worker")
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))

	_, err = NewLogger(LogConfig{Level: "chatty"}, "api")
	assert.Error(t, err)
}

func TestSetupTracingDisabled(t *testing.T) {
	shutdown, err := SetupTracing(context.Background(), TraceConfig{ServiceName: "cloudmagick-test", Exporter: "none"}, nil)
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))

	_, err = SetupTracing(context.Background(), TraceConfig{ServiceName: "cloudmagick-test", Exporter: "otlp"}, nil)
	assert.Error(t, err, "otlp without endpoint must fail")

	_, err = SetupTracing(context.Background(), TraceConfig{ServiceName: "cloudmagick-test", Exporter: "smoke-signals"}, nil)
	assert.Error(t, err)
}
