package providers

import "context"

type ctxKey int

const (
	requestIDKey ctxKey = iota
	callerKey
)

// Caller identifies who a provider call is made for.
type Caller struct {
	UserID    string
	SessionID string
}

// WithRequestID returns a context carrying the inbound request ID, which
// DoRequest forwards as X-Request-ID.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// GetRequestID extracts the request ID from context.
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

func WithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, callerKey, c)
}

// CallerFrom returns the caller stored in ctx, or the zero Caller.
func CallerFrom(ctx context.Context) Caller {
	c, _ := ctx.Value(callerKey).(Caller)
	return c
}
