// Package logging configures the process-wide slog logger: a JSON or text
// handler with a runtime-adjustable level, wrapped in a handler that redacts
// credentials and prompt bodies.
package logging

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
)

const redacted = "[REDACTED]"

// sensitiveKeys are attribute keys (lower-cased) that are always redacted.
var sensitiveKeys = map[string]bool{
	"authorization":       true,
	"proxy-authorization": true,
	"x-api-key":           true,
	"cookie":              true,
	"set-cookie":          true,
	"body":                true,
	"request_body":        true,
	"response_body":       true,
	"prompt":              true,
	"messages":            true,
	"token":               true,
	"dsn":                 true,
}

// sensitiveFragments redact any key containing them.
var sensitiveFragments = []string{"api_key", "apikey", "secret", "password", "access_token", "_token"}

var level = new(slog.LevelVar)

// Setup installs a logger writing to w as the slog default and returns it.
// format "text" selects the text handler; anything else is JSON.
func Setup(w io.Writer, lvl, format string) *slog.Logger {
	SetLevel(lvl)

	opts := &slog.HandlerOptions{Level: level}
	var base slog.Handler
	if strings.EqualFold(format, "text") {
		base = slog.NewTextHandler(w, opts)
	} else {
		base = slog.NewJSONHandler(w, opts)
	}

	logger := slog.New(NewRedactingHandler(base))
	slog.SetDefault(logger)
	return logger
}

// SetLevel changes the log level at runtime. Unknown values mean info.
func SetLevel(lvl string) {
	level.Set(ParseLevel(lvl))
}

// Level returns the current log level.
func Level() slog.Level { return level.Level() }

func ParseLevel(lvl string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(lvl)) {
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

// RedactingHandler wraps an slog.Handler to redact sensitive attribute values,
// including those nested in groups.
type RedactingHandler struct {
	base slog.Handler
}

func NewRedactingHandler(base slog.Handler) *RedactingHandler {
	return &RedactingHandler{base: base}
}

func (h *RedactingHandler) Enabled(ctx context.Context, l slog.Level) bool {
	return h.base.Enabled(ctx, l)
}

func (h *RedactingHandler) Handle(ctx context.Context, r slog.Record) error {
	out := slog.NewRecord(r.Time, r.Level, r.Message, r.PC)
	r.Attrs(func(a slog.Attr) bool {
		out.AddAttrs(redactAttr(a))
		return true
	})
	return h.base.Handle(ctx, out)
}

func (h *RedactingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make([]slog.Attr, 0, len(attrs))
	for _, a := range attrs {
		out = append(out, redactAttr(a))
	}
	return &RedactingHandler{base: h.base.WithAttrs(out)}
}

func (h *RedactingHandler) WithGroup(name string) slog.Handler {
	return &RedactingHandler{base: h.base.WithGroup(name)}
}

func redactAttr(a slog.Attr) slog.Attr {
	if isSensitive(a.Key) {
		return slog.String(a.Key, redacted)
	}
	if a.Value.Kind() == slog.KindGroup {
		group := a.Value.Group()
		out := make([]any, 0, len(group))
		for _, g := range group {
			out = append(out, redactAttr(g))
		}
		return slog.Group(a.Key, out...)
	}
	return a
}

// isSensitive matches credential-like keys. Token counts ("input_tokens")
// are not credentials and pass through.
func isSensitive(key string) bool {
	k := strings.ToLower(key)
	if sensitiveKeys[k] {
		return true
	}
	for _, f := range sensitiveFragments {
		if strings.Contains(k, f) && !strings.HasSuffix(k, "_tokens") {
			return true
		}
	}
	return false
}

// RequestLogger returns chi middleware that logs one line per HTTP request.
// 5xx responses log at warn. Request bodies and auth headers are never logged.
func RequestLogger(logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			reqID := r.Header.Get("X-Request-ID")
			if reqID == "" {
				reqID = middleware.GetReqID(r.Context())
			}

			next.ServeHTTP(ww, r)

			lvl := slog.LevelInfo
			if ww.Status() >= 500 {
				lvl = slog.LevelWarn
			}
			logger.LogAttrs(r.Context(), lvl, "http_request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.Status()),
				slog.Int("bytes", ww.BytesWritten()),
				slog.Duration("duration", time.Since(start)),
				slog.String("request_id", reqID),
				slog.String("remote_addr", r.RemoteAddr),
			)
		})
	}
}
