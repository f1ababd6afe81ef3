package util

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
)

type requestIDContextKey string

const (
	requestIDHeader          = "X-Request-Id"
	requestIDCtxKey          = requestIDContextKey("request_id")
	defaultRequestIDFallback = ""
)

// WithRequestID returns a context carrying id and a logger tagged with it.
// An empty id is replaced by a generated one.
func WithRequestID(ctx context.Context, id string) context.Context {
	id = strings.TrimSpace(id)
	if id == "" {
		id = NewID()
	}
	ctx = context.WithValue(ctx, requestIDCtxKey, id)
	return ContextWithLogger(ctx, slog.Default().With("request_id", id))
}

// RequestIDFromContext returns request id from context.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return defaultRequestIDFallback
	}
	id, _ := ctx.Value(requestIDCtxKey).(string)
	return id
}

// RequestIDFromRequest returns request id from request context.
func RequestIDFromRequest(r *http.Request) string {
	if r == nil {
		return defaultRequestIDFallback
	}
	return RequestIDFromContext(r.Context())
}

type requestIDTransport struct {
	next http.RoundTripper
}

// WithRequestIDTransport sets X-Request-Id on every outgoing request, taking
// the id from the request context or generating one.
func WithRequestIDTransport(next http.RoundTripper) http.RoundTripper {
	if next == nil {
		next = http.DefaultTransport
	}
	return &requestIDTransport{next: next}
}

func (t *requestIDTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if strings.TrimSpace(req.Header.Get(requestIDHeader)) != "" {
		return t.next.RoundTrip(req)
	}
	id := RequestIDFromRequest(req)
	if id == "" {
		ctx := WithRequestID(req.Context(), "")
		id = RequestIDFromContext(ctx)
		req = req.WithContext(ctx)
	}
	req = req.Clone(req.Context())
	req.Header.Set(requestIDHeader, id)
	return t.next.RoundTrip(req)
}
