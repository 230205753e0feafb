package config

import (
	"cmp"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const minSecretBytes = 32

type Config struct {
	AppEnv      string
	Port        string
	DatabaseURL string
	JWTSecret   string
	SentryDSN   string
	RedisURL    string

	AccessTTL           time.Duration
	RefreshTTL          time.Duration
	RotateRefreshTokens bool
	AuthLookupTimeout   time.Duration

	LoginMaxAttempts     int
	LoginLockDuration    time.Duration
	LoginRateLimitMax    int
	LoginRateLimitWindow time.Duration

	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration
	DBConnMaxIdleTime time.Duration

	CronSecret            string
	LoginAttemptRetention time.Duration
	CleanupBatchSize      int
	CleanupSchedule       string

	AdminUsername string
	AdminPassword string

	RunMigrations bool
}

// Load reads the process environment. When loadDotEnv is set a .env file in
// the working directory seeds variables that are not already present.
// Missing required variables are reported together.
func Load(loadDotEnv bool, defaultPort string) (Config, error) {
	if loadDotEnv {
		_ = godotenv.Load()
	}

	var missing []error
	required := func(name string) string {
		v := lookup(name)
		if v == "" {
			missing = append(missing, fmt.Errorf("%s is not set", name))
		}
		return v
	}

	databaseURL := required("DATABASE_URL")
	jwtSecret := required("JWT_SECRET")
	if err := errors.Join(missing...); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if len(jwtSecret) < minSecretBytes {
		return Config{}, fmt.Errorf("config: JWT_SECRET must be at least %d bytes", minSecretBytes)
	}

	cfg := Config{
		AppEnv:      cmp.Or(lookup("APP_ENV"), "development"),
		Port:        cmp.Or(lookup("PORT"), defaultPort),
		DatabaseURL: databaseURL,
		JWTSecret:   jwtSecret,
		SentryDSN:   lookup("SENTRY_DSN"),
		RedisURL:    lookup("REDIS_URL"),

		AccessTTL:           duration("ACCESS_TOKEN_TTL_MINUTES", 24*60, time.Minute),
		RefreshTTL:          duration("REFRESH_TOKEN_TTL_MINUTES", 48*60, time.Minute),
		RotateRefreshTokens: Bool("ROTATE_REFRESH_TOKENS", false),
		AuthLookupTimeout:   duration("AUTH_LOOKUP_TIMEOUT_MS", 2000, time.Millisecond),

		LoginMaxAttempts:     positive("LOGIN_MAX_ATTEMPTS", 5),
		LoginLockDuration:    duration("LOGIN_LOCK_MINUTES", 15, time.Minute),
		LoginRateLimitMax:    positive("LOGIN_RATE_LIMIT_MAX", 10),
		LoginRateLimitWindow: duration("LOGIN_RATE_LIMIT_WINDOW_SECONDS", 60, time.Second),

		DBMaxOpenConns:    positive("DB_MAX_OPEN_CONNS", 10),
		DBMaxIdleConns:    positive("DB_MAX_IDLE_CONNS", 5),
		DBConnMaxLifetime: duration("DB_CONN_MAX_LIFETIME_MINUTES", 30, time.Minute),
		DBConnMaxIdleTime: duration("DB_CONN_MAX_IDLE_TIME_MINUTES", 10, time.Minute),

		CronSecret:            lookup("CRON_SECRET"),
		LoginAttemptRetention: duration("AUTH_LOGIN_ATTEMPT_RETENTION_DAYS", 30, 24*time.Hour),
		CleanupBatchSize:      positive("AUTH_CLEANUP_BATCH_SIZE", 500),
		CleanupSchedule:       lookup("AUTH_CLEANUP_SCHEDULE"),

		AdminUsername: lookup("ADMIN_USERNAME"),
		AdminPassword: lookup("ADMIN_PASSWORD"),

		RunMigrations: Bool("RUN_MIGRATIONS_ON_STARTUP", false),
	}

	if (cfg.AdminUsername == "") != (cfg.AdminPassword == "") {
		return Config{}, errors.New("config: ADMIN_USERNAME and ADMIN_PASSWORD are required together")
	}

	return cfg, nil
}

func lookup(name string) string {
	return strings.TrimSpace(os.Getenv(name))
}

// positive parses name as an int. Unset, malformed and non-positive values
// fall back.
func positive(name string, fallback int) int {
	n, err := strconv.Atoi(lookup(name))
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func duration(name string, fallback int, unit time.Duration) time.Duration {
	return time.Duration(positive(name, fallback)) * unit
}

// Bool accepts 1/0, true/false, yes/no and on/off in any case.
func Bool(name string, fallback bool) bool {
	switch strings.ToLower(lookup(name)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return fallback
}
