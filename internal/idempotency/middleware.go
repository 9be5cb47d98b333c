package idempotency

import (
	"bytes"
	"log/slog"
	"net/http"
)

const (
	HeaderKey    = "Idempotency-Key"
	HeaderReplay = "Idempotent-Replayed"
)

// Middleware replays the stored response when a request repeats an
// Idempotency-Key already seen for the same method and path. Only responses
// below 500 are stored, so a failed provider call can be retried with the
// same key. Requests without the header pass through.
func Middleware(cache *Cache) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(HeaderKey)
			if key == "" || cache == nil {
				next.ServeHTTP(w, r)
				return
			}
			scoped := r.Method + " " + r.URL.Path + " " + key

			if e, ok := cache.Get(scoped); ok {
				slog.Debug("idempotent replay", slog.String("path", r.URL.Path))
				for k, v := range e.Header {
					w.Header().Set(k, v)
				}
				w.Header().Set(HeaderReplay, "true")
				w.WriteHeader(e.StatusCode)
				_, _ = w.Write(e.Body)
				return
			}

			rec := &responseRecorder{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rec, r)
			if rec.statusCode >= http.StatusInternalServerError {
				return
			}

			hdrs := make(map[string]string, len(rec.Header()))
			for k, v := range rec.Header() {
				if len(v) > 0 {
					hdrs[k] = v[0]
				}
			}
			cache.Set(scoped, Entry{Body: rec.body.Bytes(), StatusCode: rec.statusCode, Header: hdrs})
		})
	}
}

// responseRecorder tees the response into a buffer.
type responseRecorder struct {
	http.ResponseWriter
	body       bytes.Buffer
	statusCode int
	written    bool
}

func (r *responseRecorder) WriteHeader(code int) {
	if !r.written {
		r.statusCode = code
		r.written = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	r.written = true
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}
