package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		level   string
		format  string
		wantErr bool
	}{
		{"info json", "info", "json", false},
		{"debug console", "debug", "console", false},
		{"empty format defaults to json", "warn", "", false},
		{"bad level", "loud", "json", true},
		{"bad format", "info", "yaml", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := New(tt.level, tt.format)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, logger)
		})
	}
}

func TestContextFields_SessionAndStage(t *testing.T) {
	ctx := WithSessionID(context.Background(), "sess-abc123")
	ctx = WithStage(ctx, "researcher")

	tl := NewTestLogger()
	tl.Info(ctx, "stage started")

	tl.AssertLogged(t, zapcore.InfoLevel, "stage started")
	tl.AssertField(t, "stage started", "session.id", "sess-abc123")
	tl.AssertField(t, "stage started", "stage", "researcher")
}

func TestContextFields_EmptyContext(t *testing.T) {
	assert.Empty(t, ContextFields(context.Background()))
}

func TestFromContext(t *testing.T) {
	// Missing logger yields a usable nop.
	logger := FromContext(context.Background())
	require.NotNil(t, logger)
	logger.Info(context.Background(), "no-op")

	tl := NewTestLogger()
	ctx := WithLogger(context.Background(), tl.Logger)
	assert.Same(t, tl.Logger, FromContext(ctx))
}

func TestWith(t *testing.T) {
	tl := NewTestLogger()
	child := tl.Logger.With(zap.String("component", "pipeline"))
	child.Info(context.Background(), "tick")

	entries := tl.FilterMessage("tick").All()
	require.Len(t, entries, 1)
	require.Len(t, entries[0].Context, 1)
	assert.Equal(t, "component", entries[0].Context[0].Key)
}
