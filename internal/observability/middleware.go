package observability

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
)

const RequestIDHeader = "X-Request-ID"

type requestIDKey struct{}

func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// responseMeter remembers the status and body size written by the handler.
type responseMeter struct {
	http.ResponseWriter
	status  int
	bytes   int
	written bool
}

func (m *responseMeter) WriteHeader(status int) {
	if !m.written {
		m.status = status
		m.written = true
	}
	m.ResponseWriter.WriteHeader(status)
}

func (m *responseMeter) Write(p []byte) (int, error) {
	if !m.written {
		m.status = http.StatusOK
		m.written = true
	}
	n, err := m.ResponseWriter.Write(p)
	m.bytes += n
	return n, err
}

// RequestLoggingMiddleware tags each request with an id and logs it once
// served: error level for 5xx, warn for 4xx, info otherwise.
func RequestLoggingMiddleware(logger *Logger, service string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()

		requestID := strings.TrimSpace(r.Header.Get(RequestIDHeader))
		if requestID == "" || len(requestID) > 128 {
			requestID = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, requestID)
		r = r.WithContext(context.WithValue(r.Context(), requestIDKey{}, requestID))

		meter := &responseMeter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(meter, r)

		fields := map[string]any{
			"service":     service,
			"request_id":  requestID,
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      meter.status,
			"bytes":       meter.bytes,
			"duration_ms": time.Since(started).Milliseconds(),
			"ip":          ClientIP(r),
		}

		switch {
		case meter.status >= http.StatusInternalServerError:
			logger.Error("http_request", fields)
		case meter.status >= http.StatusBadRequest:
			logger.Warn("http_request", fields)
		default:
			logger.Info("http_request", fields)
		}
	})
}

// RecoverMiddleware turns a panic into a 500 JSON body. The panic goes to
// Sentry on a per-request hub carrying the request details.
func RecoverMiddleware(logger *Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub := sentry.CurrentHub().Clone()
		hub.Scope().SetRequest(r)
		ctx := sentry.SetHubOnContext(r.Context(), hub)

		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}

			hub.Scope().SetTag("path", r.URL.Path)
			hub.RecoverWithContext(ctx, rec)

			logger.Error("panic_recovered", map[string]any{
				"path":       r.URL.Path,
				"method":     r.Method,
				"request_id": RequestIDFromContext(r.Context()),
				"panic":      fmt.Sprint(rec),
			})

			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusInternalServerError)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "internal server error"})
		}()

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ClientIP is the first X-Forwarded-For hop, or the remote host without
// its port.
func ClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}

	addr := strings.TrimSpace(r.RemoteAddr)
	if addr == "" {
		return "unknown"
	}
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
