// Package logging builds the slog loggers used across the memory core.
//
// Memory text is personal data. Unless Options.KeepUserText is set, the
// values of UserTextKeys are replaced by their length before they reach the
// handler, so debug logs can be shared without leaking what the user said.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/m-mizutani/clog"
)

// Output formats accepted by Options.Format.
const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

// UserTextKeys are the attribute keys that carry user utterances or memory
// text.
var UserTextKeys = []string{"text", "query", "target", "utterance"}

// Options configures New.
type Options struct {
	// Level is "debug", "info", "warn" or "error". Default: info.
	Level string
	// Format is FormatConsole (colored, for the terminal) or FormatJSON
	// (for the websocket server behind a log collector). Default: console.
	Format string
	// KeepUserText disables redaction of UserTextKeys.
	KeepUserText bool
}

type ctxKey struct{}

var (
	defaultMu     sync.RWMutex
	defaultLogger = New(os.Stderr, Options{})
)

// ParseLevel maps "debug", "info", "warn"/"warning" and "error"
// (case-insensitive) to a slog level. Anything else is info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New returns a logger writing to w.
func New(w io.Writer, opts Options) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}
	level := ParseLevel(opts.Level)

	var handler slog.Handler
	if strings.EqualFold(strings.TrimSpace(opts.Format), FormatJSON) {
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	} else {
		handler = clog.New(
			clog.WithWriter(w),
			clog.WithLevel(level),
			clog.WithTimeFmt("15:04:05"),
			clog.WithSource(false),
			clog.WithAttrHook(clog.GoerrHook),
		)
	}
	if !opts.KeepUserText {
		handler = &redactHandler{next: handler}
	}
	return slog.New(handler)
}

// Discard returns a logger that drops everything. Handy in tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

func Default() *slog.Logger {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultLogger
}

func SetDefault(logger *slog.Logger) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultLogger = logger
}

// With attaches logger to ctx.
func With(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, logger)
}

// From returns the logger attached to ctx, or the default logger.
func From(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok && logger != nil {
		return logger
	}
	return Default()
}

// redactHandler rewrites user text attributes, including ones bound with
// Logger.With and ones nested in groups.
type redactHandler struct {
	next slog.Handler
}

func (h *redactHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *redactHandler) Handle(ctx context.Context, r slog.Record) error {
	out := slog.NewRecord(r.Time, r.Level, r.Message, r.PC)
	r.Attrs(func(a slog.Attr) bool {
		out.AddAttrs(redact(a))
		return true
	})
	return h.next.Handle(ctx, out)
}

func (h *redactHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	redacted := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		redacted[i] = redact(a)
	}
	return &redactHandler{next: h.next.WithAttrs(redacted)}
}

func (h *redactHandler) WithGroup(name string) slog.Handler {
	return &redactHandler{next: h.next.WithGroup(name)}
}

func redact(a slog.Attr) slog.Attr {
	v := a.Value.Resolve()
	if v.Kind() == slog.KindGroup {
		group := v.Group()
		redacted := make([]any, len(group))
		for i, g := range group {
			redacted[i] = redact(g)
		}
		return slog.Group(a.Key, redacted...)
	}
	if v.Kind() == slog.KindString && slices.Contains(UserTextKeys, a.Key) {
		return slog.String(a.Key, fmt.Sprintf("<%d chars>", utf8.RuneCountInString(v.String())))
	}
	return a
}
