package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNewLogger(t *testing.T) {
	t.Run("nil config uses defaults", func(t *testing.T) {
		logger, err := NewLogger(nil, nil)
		require.NoError(t, err)
		assert.NotNil(t, logger)
	})

	t.Run("rejects invalid format", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.Format = "xml"

		_, err := NewLogger(cfg, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "format must be")
	})

	t.Run("rejects no outputs", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.Output.Stdout = false
		cfg.Output.OTEL = false

		_, err := NewLogger(cfg, nil)
		require.Error(t, err)
	})

	t.Run("console format", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.Format = "console"

		logger, err := NewLogger(cfg, nil)
		require.NoError(t, err)
		assert.NotNil(t, logger)
	})
}

func TestConfig_Validate(t *testing.T) {
	t.Run("default config is valid", func(t *testing.T) {
		assert.NoError(t, NewDefaultConfig().Validate())
	})

	t.Run("negative caller skip", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.Caller.Skip = -1
		assert.Error(t, cfg.Validate())
	})

	t.Run("empty field value", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.Fields = map[string]string{"component": ""}
		assert.Error(t, cfg.Validate())
	})
}

func TestLogger_ContextFields(t *testing.T) {
	tl := NewTestLogger()

	ctx := WithRunID(context.Background(), "run-123")
	ctx = WithPhase(ctx, "plan")
	ctx = WithTodoID(ctx, "todo-7")

	tl.Info(ctx, "phase complete", zap.Int("todos", 4))

	entries := tl.FilterMessage("phase complete").All()
	require.Len(t, entries, 1)

	fields := make(map[string]interface{})
	for _, f := range entries[0].Context {
		switch f.Type {
		case zapcore.StringType:
			fields[f.Key] = f.String
		case zapcore.Int64Type:
			fields[f.Key] = f.Integer
		}
	}

	assert.Equal(t, "run-123", fields["run.id"])
	assert.Equal(t, "plan", fields["run.phase"])
	assert.Equal(t, "todo-7", fields["todo.id"])
	assert.Equal(t, int64(4), fields["todos"])
}

func TestLogger_Named(t *testing.T) {
	tl := NewTestLogger()

	child := tl.Named("dispatcher")
	child.Info(context.Background(), "started")

	entries := tl.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "dispatcher", entries[0].LoggerName)
}

func TestLogger_TraceLevel(t *testing.T) {
	tl := NewTestLogger()

	tl.Trace(context.Background(), "step recorded")
	tl.AssertLogged(t, TraceLevel, "step recorded")
}

func TestLevelFromString(t *testing.T) {
	tests := []struct {
		in      string
		want    zapcore.Level
		wantErr bool
	}{
		{"trace", TraceLevel, false},
		{"debug", zapcore.DebugLevel, false},
		{"info", zapcore.InfoLevel, false},
		{"warn", zapcore.WarnLevel, false},
		{"error", zapcore.ErrorLevel, false},
		{"bogus", zapcore.InfoLevel, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := LevelFromString(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFromContext(t *testing.T) {
	t.Run("returns stored logger", func(t *testing.T) {
		tl := NewTestLogger()
		ctx := WithLogger(context.Background(), tl.Logger)

		got := FromContext(ctx)
		assert.Same(t, tl.Logger, got)
	})

	t.Run("returns nop when absent", func(t *testing.T) {
		got := FromContext(context.Background())
		require.NotNil(t, got)
		// Logging through it must not panic.
		got.Info(context.Background(), "ignored")
	})
}
