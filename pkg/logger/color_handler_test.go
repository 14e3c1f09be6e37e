package logger

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestColorHandler(t *testing.T) {
	tests := []struct {
		name     string
		level    slog.Level
		message  string
		wantCode string
	}{
		{"error is red", slog.LevelError, "bulk insert failed", colorRed},
		{"warning is yellow", slog.LevelWarn, "no graph snapshot", colorYellow},
		{"plain info", slog.LevelInfo, "applying change batch", ""},
		{"indexed info is green", slog.LevelInfo, "Records indexed", colorGreen},
		{"synced info is green", slog.LevelInfo, "graph synced", colorGreen},
		{"debug", slog.LevelDebug, "rule evaluated", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			NewLogger(&buf, slog.LevelDebug).Log(context.Background(), tt.level, tt.message)
			out := buf.String()

			assert.Contains(t, out, tt.message)
			if tt.wantCode != "" {
				assert.Contains(t, out, tt.wantCode+tt.message+colorReset)
				return
			}
			assert.NotContains(t, out, "\033[")
		})
	}
}

func TestColorHandlerAttrs(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger(&buf, slog.LevelInfo).With("component", "update")
	log.WithGroup("doc").Error("swap failed", "id", "d1", slog.Group("counts", "added", 2))

	out := buf.String()
	assert.Contains(t, out, "component=update")
	assert.Contains(t, out, "doc.id=d1")
	assert.Contains(t, out, "doc.counts.added=2")
	assert.Contains(t, out, colorRed)
}

func TestColorHandlerLevel(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger(&buf, slog.LevelWarn)
	log.Info("hidden")
	log.Debug("hidden")
	assert.Empty(t, buf.String())
	log.Warn("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestNew(t *testing.T) {
	var buf bytes.Buffer
	log, err := New(&buf, slog.LevelInfo, "json")
	require.NoError(t, err)
	log.Info("hello", "k", "v")
	assert.Contains(t, buf.String(), `"msg":"hello"`)

	_, err = New(&buf, slog.LevelInfo, "xml")
	assert.Error(t, err)
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"INFO", slog.LevelInfo, false},
		{"warn", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"loud", slog.LevelInfo, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
