package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/othentic-ai/ideationd/internal/config"
)

func TestNew_DisabledIsNoop(t *testing.T) {
	tel, err := New(context.Background(), config.TelemetryConfig{Enabled: false})
	require.NoError(t, err)
	require.NotNil(t, tel)
	assert.Nil(t, tel.provider)
	assert.NoError(t, tel.Shutdown(context.Background()))
}

func TestShutdown_NilReceiver(t *testing.T) {
	var tel *Telemetry
	assert.NoError(t, tel.Shutdown(context.Background()))
}

func TestNewExporter_UnknownProtocol(t *testing.T) {
	_, err := newExporter(context.Background(), config.TelemetryConfig{
		Enabled:  true,
		Endpoint: "localhost:4317",
		Protocol: "carrier-pigeon",
	})
	assert.Error(t, err)
}

func TestSampler(t *testing.T) {
	assert.Equal(t, sdktrace.AlwaysSample(), sampler(1.0))
	assert.Equal(t, sdktrace.NeverSample(), sampler(0))
	assert.Equal(t, sdktrace.TraceIDRatioBased(0.25), sampler(0.25))
}

func TestStripScheme(t *testing.T) {
	assert.Equal(t, "otel.example.com:4318", stripScheme("https://otel.example.com:4318"))
	assert.Equal(t, "localhost:4318", stripScheme("http://localhost:4318"))
	assert.Equal(t, "localhost:4318", stripScheme("localhost:4318"))
}
