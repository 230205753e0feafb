package maintenance

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"casetrack/internal/observability"
	"casetrack/internal/user"
)

// CleanupStore removes expired login throttling rows.
type CleanupStore interface {
	CleanupStaleAuthData(ctx context.Context, retention time.Duration, batchSize int) (user.CleanupResult, error)
}

// Cleaner runs one cleanup pass and logs its outcome. It backs both the
// HTTP hook and the cron schedule.
type Cleaner struct {
	store     CleanupStore
	logger    *observability.Logger
	retention time.Duration
	batchSize int
}

func NewCleaner(store CleanupStore, logger *observability.Logger, retention time.Duration, batchSize int) *Cleaner {
	return &Cleaner{store: store, logger: logger, retention: retention, batchSize: batchSize}
}

func (c *Cleaner) Run(ctx context.Context, trigger string) (user.CleanupResult, error) {
	result, err := c.store.CleanupStaleAuthData(ctx, c.retention, c.batchSize)
	if err != nil {
		c.logger.Error("auth_cleanup_failed", map[string]any{"error": err.Error(), "trigger": trigger})
		return user.CleanupResult{}, err
	}

	c.logger.Info("auth_cleanup_completed", map[string]any{
		"trigger":                trigger,
		"deleted_login_attempts": result.DeletedLoginAttempts,
		"deleted_ip_limits":      result.DeletedIPLimits,
	})
	return result, nil
}

type CleanupHandler struct {
	cleaner    *Cleaner
	cronSecret string
}

func NewCleanupHandler(cleaner *Cleaner, cronSecret string) *CleanupHandler {
	return &CleanupHandler{cleaner: cleaner, cronSecret: strings.TrimSpace(cronSecret)}
}

// Handle answers 404 while no cron secret is configured so the hook is
// invisible by default.
func (h *CleanupHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if h.cronSecret == "" {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}

	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") ||
		subtle.ConstantTimeCompare([]byte(strings.TrimSpace(parts[1])), []byte(h.cronSecret)) != 1 {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	result, err := h.cleaner.Run(r.Context(), "http")
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "cleanup failed"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"result": result,
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
