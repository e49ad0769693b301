package logging_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deskpet/memcore/logging"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"DEBUG":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
		"":        slog.LevelInfo,
	}
	for in, want := range cases {
		assert.Equal(t, want, logging.ParseLevel(in), "level %q", in)
	}
}

func TestNewRespectsLevel(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := logging.New(buf, logging.Options{Level: "warn"})
	require.NotNil(t, logger)

	logger.Info("quiet message")
	logger.Warn("loud message")

	assert.NotContains(t, buf.String(), "quiet message")
	assert.Contains(t, buf.String(), "loud message")
}

func TestWithAndFrom(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := logging.New(buf, logging.Options{Level: "debug"}).With("component", "test")

	ctx := logging.With(context.Background(), logger)
	got := logging.From(ctx)
	assert.Equal(t, logger, got)

	got.Info("hello")
	assert.Contains(t, buf.String(), "hello")
	assert.Contains(t, buf.String(), "component")
}

func TestFromWithoutLogger(t *testing.T) {
	assert.Equal(t, logging.Default(), logging.From(context.Background()))
}

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestJSONFormat(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := logging.New(buf, logging.Options{Level: "info", Format: logging.FormatJSON})

	logger.Info("session started", "mode", "lexical", "active", 2)

	entry := decodeLine(t, buf)
	assert.Equal(t, "session started", entry["msg"])
	assert.Equal(t, "lexical", entry["mode"])
	assert.Equal(t, float64(2), entry["active"])
}

func TestUserTextIsRedacted(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := logging.New(buf, logging.Options{Level: "debug", Format: logging.FormatJSON})

	logger.With("query", "where do I live").
		WithGroup("memory").
		Debug("memory added", "id", 3, "text", "我住在台北")

	entry := decodeLine(t, buf)
	assert.Equal(t, "<15 chars>", entry["query"])
	group, ok := entry["memory"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "<5 chars>", group["text"])
	assert.Equal(t, float64(3), group["id"])
	assert.NotContains(t, buf.String(), "台北")
}

func TestRedactionInsideGroupAttr(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := logging.New(buf, logging.Options{Format: logging.FormatJSON})

	logger.Info("deletion", slog.Group("request", "target", "Taipei", "scope", "specific"))

	group, ok := decodeLine(t, buf)["request"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "<6 chars>", group["target"])
	assert.Equal(t, "specific", group["scope"])
}

func TestKeepUserText(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := logging.New(buf, logging.Options{Format: logging.FormatJSON, KeepUserText: true})

	logger.Info("memory added", "text", "I live in Taipei")

	assert.Equal(t, "I live in Taipei", decodeLine(t, buf)["text"])
}

func TestConsoleFormatRedacts(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := logging.New(buf, logging.Options{Level: "info"})

	logger.Info("memory added", "text", "my locker is 42")

	assert.Contains(t, buf.String(), "memory added")
	assert.NotContains(t, buf.String(), "locker")
}
