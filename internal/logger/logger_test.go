package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carepoint/policygate/internal/config"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want slog.Level
	}{
		{name: "Should parse lowercase debug", in: "debug", want: slog.LevelDebug},
		{name: "Should parse uppercase WARN", in: "WARN", want: slog.LevelWarn},
		{name: "Should parse error", in: "error", want: slog.LevelError},
		{name: "Should fall back to info on unknown level", in: "super-critical", want: slog.LevelInfo},
		{name: "Should fall back to info on empty input", in: "", want: slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.in))
		})
	}
}

func TestNewWithWriter(t *testing.T) {
	t.Run("Should emit JSON with service attributes", func(t *testing.T) {
		// Arrange
		var buf bytes.Buffer
		cfg := &config.AppConfig{
			Name:        "policygate",
			Version:     "1.2.3",
			Environment: "production",
			LogLevel:    "info",
			LogFormat:   "json",
		}

		// Act
		NewWithWriter(cfg, &buf).Info("hello", slog.String("k", "v"))

		// Assert
		var entry map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
		assert.Equal(t, "hello", entry["msg"])
		assert.Equal(t, "policygate", entry["service"])
		assert.Equal(t, "1.2.3", entry["version"])
		assert.Equal(t, "production", entry["env"])
		assert.Equal(t, "v", entry["k"])
		assert.NotContains(t, entry, slog.SourceKey, "source is omitted in production")
	})

	t.Run("Should emit text and respect the configured level", func(t *testing.T) {
		// Arrange
		var buf bytes.Buffer
		cfg := &config.AppConfig{
			Name:        "policygate",
			Environment: "development",
			LogLevel:    "warn",
			LogFormat:   "text",
		}
		log := NewWithWriter(cfg, &buf)

		// Act
		log.Info("dropped")
		log.Warn("kept")

		// Assert
		out := buf.String()
		assert.NotContains(t, out, "dropped")
		assert.True(t, strings.Contains(out, "msg=kept"))
		assert.Contains(t, out, "source=")
	})

	t.Run("Should panic on nil config", func(t *testing.T) {
		assert.Panics(t, func() { NewWithWriter(nil, &bytes.Buffer{}) })
	})
}
