package auth

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/getsentry/sentry-go"

	"casetrack/internal/observability"
)

const unauthenticatedMessage = "Could not validate credentials"

// Middleware exposes a Gate as net/http middleware. The resolved principal
// is stored in the request context.
type Middleware struct {
	gate   *Gate
	logger *observability.Logger
}

func NewMiddleware(gate *Gate, logger *observability.Logger) *Middleware {
	return &Middleware{gate: gate, logger: logger}
}

func (m *Middleware) Authenticated(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, err := m.gate.Authenticate(r.Context(), r.Header.Get("Authorization"))
		if err != nil {
			m.reject(w, r, err)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
	})
}

func (m *Middleware) AdminOnly(next http.Handler) http.Handler {
	return m.Authenticated(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, _ := PrincipalFromContext(r.Context())
		if err := m.gate.RequireAdmin(principal); err != nil {
			m.reject(w, r, err)
			return
		}

		next.ServeHTTP(w, r)
	}))
}

func (m *Middleware) reject(w http.ResponseWriter, r *http.Request, err error) {
	fields := map[string]any{
		"reason": FailureReason(err),
		"method": r.Method,
		"path":   r.URL.Path,
	}
	if errors.Is(err, ErrStoreUnavailable) {
		fields["error"] = err.Error()
		m.logger.Error("auth_store_unavailable", fields)
		sentry.CaptureException(err)
	} else {
		m.logger.Warn("auth_rejected", fields)
	}

	WriteError(w, err)
}

// StatusFor maps the authorization error taxonomy to an HTTP status and a
// client-safe message. Every authentication sub-cause shares one message.
func StatusFor(err error) (int, string) {
	switch {
	case errors.Is(err, ErrUnauthenticated):
		return http.StatusUnauthorized, unauthenticatedMessage
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden, "Not enough permissions"
	case errors.Is(err, ErrPrincipalNotFound):
		return http.StatusNotFound, "User not found"
	case errors.Is(err, ErrStoreUnavailable):
		return http.StatusServiceUnavailable, "Service temporarily unavailable"
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

func WriteError(w http.ResponseWriter, err error) {
	status, message := StatusFor(err)
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", "Bearer")
	}
	writeError(w, status, message)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
