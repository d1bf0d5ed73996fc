package telemetry

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"gemini-relay/internal/config"
)

func TestInitLogger_WritesJSONToFile(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	file := filepath.Join(t.TempDir(), "logs", "relay.log")
	logger, cleanup, err := InitLogger(config.LoggingConfig{Level: "debug", File: file, MaxSizeMB: 1})
	require.NoError(t, err)

	logger.Debug("upstream reply", "status", 200)
	cleanup()

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	require.Contains(t, string(data), `"msg":"upstream reply"`)
	require.Contains(t, string(data), `"status":200`)
}

func TestParseLevel(t *testing.T) {
	require.Equal(t, slog.LevelDebug, parseLevel("DEBUG"))
	require.Equal(t, slog.LevelWarn, parseLevel("warn"))
	require.Equal(t, slog.LevelError, parseLevel("error"))
	require.Equal(t, slog.LevelInfo, parseLevel(""))
}

func TestInitTelemetry_DisabledReturnsNoop(t *testing.T) {
	tracer, meter, cleanup, err := InitTelemetry(context.Background(), config.TelemetryConfig{})
	require.NoError(t, err)
	require.NotNil(t, tracer)
	require.NotNil(t, meter)
	cleanup()
}

func TestInitTelemetry_EnabledWritesExportFiles(t *testing.T) {
	prevTracers, prevMeters := otel.GetTracerProvider(), otel.GetMeterProvider()
	t.Cleanup(func() {
		otel.SetTracerProvider(prevTracers)
		otel.SetMeterProvider(prevMeters)
	})

	dir := filepath.Join(t.TempDir(), "telemetry")
	tracer, meter, cleanup, err := InitTelemetry(context.Background(), config.TelemetryConfig{Enabled: true, Dir: dir})
	require.NoError(t, err)

	_, span := tracer.Start(context.Background(), "gemini.generate_content")
	span.End()

	counter, err := meter.Int64Counter("gemini.request.outcomes")
	require.NoError(t, err)
	counter.Add(context.Background(), 1)

	cleanup()

	traces, err := os.ReadFile(filepath.Join(dir, "relay_traces.log"))
	require.NoError(t, err)
	require.Contains(t, string(traces), "gemini.generate_content")

	metrics, err := os.ReadFile(filepath.Join(dir, "relay_metrics.log"))
	require.NoError(t, err)
	require.Contains(t, string(metrics), "gemini.request.outcomes")
}
