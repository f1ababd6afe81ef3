package util

import (
	"log/slog"
	"net/http"
	"strings"
	"time"
)

type requestLogTransport struct {
	service string
	next    http.RoundTripper
}

// WithRequestLog emits a structured log for each outgoing HTTP request.
// It includes request_id so client logs can be matched with server logs.
func WithRequestLog(service string, next http.RoundTripper) http.RoundTripper {
	service = strings.TrimSpace(service)
	if service == "" {
		service = "unknown"
	}
	if next == nil {
		next = http.DefaultTransport
	}
	return &requestLogTransport{service: service, next: next}
}

func (t *requestLogTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := t.next.RoundTrip(req)
	status := 0
	if resp != nil {
		status = resp.StatusCode
	}
	attrs := []any{
		"service", t.service,
		"method", req.Method,
		"path", req.URL.Path,
		"status", status,
		"duration_ms", time.Since(start).Milliseconds(),
		"request_id", req.Header.Get(requestIDHeader),
	}
	if err != nil {
		slog.Warn("http_request", append(attrs, "err", err)...)
	} else {
		slog.Info("http_request", attrs...)
	}
	return resp, err
}

// NewClientTransport chains request id propagation and request logging on
// top of base.
func NewClientTransport(service string, base http.RoundTripper) http.RoundTripper {
	return WithRequestIDTransport(WithRequestLog(service, base))
}
