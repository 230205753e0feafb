package auth

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"

	"casetrack/internal/observability"
)

// LoginIPStore counts login hits per client address inside a window and
// reports how long the caller must wait once the limit is exceeded.
type LoginIPStore interface {
	AllowLoginIP(ctx context.Context, ip string, maxHits int, window time.Duration, now time.Time) (bool, time.Duration, error)
}

type LoginRateLimiter struct {
	store   LoginIPStore
	maxHits int
	window  time.Duration
	now     func() time.Time
	logger  *observability.Logger
}

func NewLoginRateLimiter(store LoginIPStore, maxHits int, window time.Duration, logger *observability.Logger) *LoginRateLimiter {
	if maxHits <= 0 {
		maxHits = 10
	}
	if window <= 0 {
		window = time.Minute
	}

	return &LoginRateLimiter{
		store:   store,
		maxHits: maxHits,
		window:  window,
		now:     time.Now,
		logger:  logger,
	}
}

func (l *LoginRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := observability.ClientIP(r)

		allowed, retryAfter, err := l.store.AllowLoginIP(r.Context(), ip, l.maxHits, l.window, l.now().UTC())
		if err != nil {
			l.logger.Error("login_rate_limit_failed", map[string]any{"error": err.Error(), "ip": ip})
			sentry.CaptureException(err)
			writeError(w, http.StatusServiceUnavailable, "Service temporarily unavailable")
			return
		}
		if !allowed {
			w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(retryAfter)))
			writeError(w, http.StatusTooManyRequests, "too many login attempts")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func retryAfterSeconds(d time.Duration) int {
	seconds := int((d + time.Second - 1) / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	return seconds
}

// MemoryLoginStore keeps one fixed window per address in process memory,
// matching the Redis and Postgres stores. It suits a single instance.
type MemoryLoginStore struct {
	mu      sync.Mutex
	windows map[string]ipWindow
	// sweepAt is the table size that triggers dropping expired windows.
	sweepAt int
}

type ipWindow struct {
	start    time.Time
	attempts int
}

func NewMemoryLoginStore() *MemoryLoginStore {
	return &MemoryLoginStore{windows: make(map[string]ipWindow), sweepAt: 5000}
}

func (s *MemoryLoginStore) AllowLoginIP(_ context.Context, ip string, maxHits int, window time.Duration, now time.Time) (bool, time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.windows[ip]
	if !ok || !now.Before(w.start.Add(window)) {
		w = ipWindow{start: now}
	}
	w.attempts++
	s.windows[ip] = w

	if len(s.windows) > s.sweepAt {
		s.sweep(now, window)
	}

	if w.attempts <= maxHits {
		return true, 0, nil
	}
	return false, max(w.start.Add(window).Sub(now), time.Second), nil
}

func (s *MemoryLoginStore) sweep(now time.Time, window time.Duration) {
	for ip, w := range s.windows {
		if !now.Before(w.start.Add(window)) {
			delete(s.windows, ip)
		}
	}
}
