package logger

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"strings"
)

// New returns a JSON slog.Logger configured for the given service name.
func New(service string, level slog.Level) *slog.Logger {
	return NewWithWriter(os.Stdout, service, level)
}

// NewWithWriter is New with an explicit destination. Records the JSON handler
// fails to write are reported on stderr instead of being returned to callers.
func NewWithWriter(w io.Writer, service string, level slog.Level) *slog.Logger {
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	fallback := log.New(os.Stderr, service+" ", log.LstdFlags)
	return slog.New(&guardHandler{next: h, fallback: fallback}).With("service", service)
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// OrDiscard returns l, or a discarding logger when l is nil.
func OrDiscard(l *slog.Logger) *slog.Logger {
	if l == nil {
		return Discard()
	}
	return l
}

// ParseLevel maps a textual level to slog.Level, defaulting to info.
func ParseLevel(value string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(value)) {
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

// guardHandler keeps logging failures away from the code that logs.
type guardHandler struct {
	next     slog.Handler
	fallback *log.Logger
}

func (g *guardHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return g.next.Enabled(ctx, level)
}

func (g *guardHandler) Handle(ctx context.Context, record slog.Record) (err error) {
	defer func() {
		if r := recover(); r != nil {
			g.fallback.Printf("log handler panic: %v: %s", r, record.Message)
			err = nil
		}
	}()
	if herr := g.next.Handle(ctx, record); herr != nil {
		g.fallback.Printf("log handler error: %v: %s%s", herr, record.Message, flatten(record))
	}
	return nil
}

func (g *guardHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &guardHandler{next: g.next.WithAttrs(attrs), fallback: g.fallback}
}

func (g *guardHandler) WithGroup(name string) slog.Handler {
	return &guardHandler{next: g.next.WithGroup(name), fallback: g.fallback}
}

func flatten(record slog.Record) string {
	var b strings.Builder
	record.Attrs(func(a slog.Attr) bool {
		fmt.Fprintf(&b, " %s=%v", a.Key, a.Value)
		return true
	})
	return b.String()
}
