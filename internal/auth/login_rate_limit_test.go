package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"casetrack/internal/observability"
)

func TestMemoryLoginStore_SweepsExpiredWindows(t *testing.T) {
	store := NewMemoryLoginStore()
	store.sweepAt = 1
	ctx := context.Background()

	_, _, err := store.AllowLoginIP(ctx, "10.0.0.1", 3, time.Minute, baseTime)
	require.NoError(t, err)
	_, _, err = store.AllowLoginIP(ctx, "10.0.0.2", 3, time.Minute, baseTime.Add(2*time.Minute))
	require.NoError(t, err)

	assert.Len(t, store.windows, 1)
	assert.Contains(t, store.windows, "10.0.0.2")
}

func TestMemoryLoginStore_FixedWindow(t *testing.T) {
	store := NewMemoryLoginStore()
	ctx := context.Background()
	now := baseTime

	for i := 0; i < 3; i++ {
		allowed, _, err := store.AllowLoginIP(ctx, "10.0.0.1", 3, time.Minute, now.Add(time.Duration(i)*time.Second))
		require.NoError(t, err)
		assert.True(t, allowed)
	}

	allowed, retryAfter, err := store.AllowLoginIP(ctx, "10.0.0.1", 3, time.Minute, now.Add(10*time.Second))
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Equal(t, 50*time.Second, retryAfter)

	allowed, _, err = store.AllowLoginIP(ctx, "10.0.0.2", 3, time.Minute, now.Add(10*time.Second))
	require.NoError(t, err)
	assert.True(t, allowed)

	allowed, _, err = store.AllowLoginIP(ctx, "10.0.0.1", 3, time.Minute, now.Add(61*time.Second))
	require.NoError(t, err)
	assert.True(t, allowed)
}

type stubLoginStore struct {
	allowed    bool
	retryAfter time.Duration
	err        error
	lastIP     string
}

func (s *stubLoginStore) AllowLoginIP(_ context.Context, ip string, _ int, _ time.Duration, _ time.Time) (bool, time.Duration, error) {
	s.lastIP = ip
	return s.allowed, s.retryAfter, s.err
}

func TestLoginRateLimiter_Middleware(t *testing.T) {
	tests := []struct {
		name       string
		store      *stubLoginStore
		wantStatus int
		wantRetry  string
	}{
		{"allowed", &stubLoginStore{allowed: true}, http.StatusNoContent, ""},
		{"limited", &stubLoginStore{retryAfter: 1500 * time.Millisecond}, http.StatusTooManyRequests, "2"},
		{"store down", &stubLoginStore{err: errors.New("redis down")}, http.StatusServiceUnavailable, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limiter := NewLoginRateLimiter(tt.store, 5, time.Minute, observability.NewNopLogger())
			handler := limiter.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusNoContent)
			}))

			req := httptest.NewRequest(http.MethodPost, "/user/login", nil)
			req.Header.Set("X-Forwarded-For", "203.0.113.7")
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantRetry, rec.Header().Get("Retry-After"))
			assert.Equal(t, "203.0.113.7", tt.store.lastIP)
		})
	}
}

// scriptStub answers EvalSha with a fixed counter and ttl.
type scriptStub struct {
	counter int64
	ttl     int64
	err     error
	keys    []string
}

func (s *scriptStub) reply(ctx context.Context, keys []string) *redis.Cmd {
	s.keys = keys
	cmd := redis.NewCmd(ctx)
	if s.err != nil {
		cmd.SetErr(s.err)
		return cmd
	}
	cmd.SetVal([]any{s.counter, s.ttl})
	return cmd
}

func (s *scriptStub) Eval(ctx context.Context, _ string, keys []string, _ ...any) *redis.Cmd {
	return s.reply(ctx, keys)
}

func (s *scriptStub) EvalSha(ctx context.Context, _ string, keys []string, _ ...any) *redis.Cmd {
	return s.reply(ctx, keys)
}

func (s *scriptStub) EvalRO(ctx context.Context, _ string, keys []string, _ ...any) *redis.Cmd {
	return s.reply(ctx, keys)
}

func (s *scriptStub) EvalShaRO(ctx context.Context, _ string, keys []string, _ ...any) *redis.Cmd {
	return s.reply(ctx, keys)
}

func (s *scriptStub) ScriptExists(ctx context.Context, hashes ...string) *redis.BoolSliceCmd {
	cmd := redis.NewBoolSliceCmd(ctx)
	cmd.SetVal(make([]bool, len(hashes)))
	return cmd
}

func (s *scriptStub) ScriptLoad(ctx context.Context, _ string) *redis.StringCmd {
	cmd := redis.NewStringCmd(ctx)
	cmd.SetVal("sha")
	return cmd
}

func TestRedisLoginStore(t *testing.T) {
	ctx := context.Background()

	stub := &scriptStub{counter: 3, ttl: 40000}
	store := NewRedisLoginStoreWithClient(stub)

	allowed, _, err := store.AllowLoginIP(ctx, "10.0.0.1", 3, time.Minute, baseTime)
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.Equal(t, []string{"casetrack:login_ip:10.0.0.1"}, stub.keys)

	stub.counter = 4
	allowed, retryAfter, err := store.AllowLoginIP(ctx, "10.0.0.1", 3, time.Minute, baseTime)
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Equal(t, 40*time.Second, retryAfter)

	stub.err = errors.New("connection reset")
	_, _, err = store.AllowLoginIP(ctx, "10.0.0.1", 3, time.Minute, baseTime)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "connection reset"))
}

func TestNewRedisLoginStore_BadURL(t *testing.T) {
	_, _, err := NewRedisLoginStore("")
	require.Error(t, err)

	_, _, err = NewRedisLoginStore("http://not-redis")
	require.Error(t, err)
}
