package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"casetrack/internal/auth"
	"casetrack/internal/cases"
	"casetrack/internal/config"
	"casetrack/internal/db"
	"casetrack/internal/maintenance"
	"casetrack/internal/observability"
	"casetrack/internal/user"
)

// Service selects which routes a runtime serves. Both services share one
// database and one token secret.
type Service string

const (
	ServiceUsers Service = "users"
	ServiceCases Service = "cases"
	ServiceAll   Service = "all"
)

func (s Service) valid() bool {
	return s == ServiceUsers || s == ServiceCases || s == ServiceAll
}

func (s Service) serves(part Service) bool {
	return s == ServiceAll || s == part
}

func (s Service) defaultPort() string {
	switch s {
	case ServiceUsers:
		return "8000"
	case ServiceCases:
		return "8001"
	default:
		return "8080"
	}
}

type Options struct {
	LoadDotEnv bool
	Service    Service
}

type Runtime struct {
	Handler http.Handler
	Logger  *observability.Logger
	Config  config.Config
	Cleaner *maintenance.Cleaner
	Close   func() error
}

func Build(ctx context.Context, options Options) (rt *Runtime, err error) {
	if !options.Service.valid() {
		return nil, fmt.Errorf("unknown service %q", options.Service)
	}

	cfg, err := config.Load(options.LoadDotEnv, options.Service.defaultPort())
	if err != nil {
		return nil, err
	}

	logger := observability.NewLogger()
	if err := observability.InitSentry(observability.SentryOptions{
		DSN:         cfg.SentryDSN,
		Environment: cfg.AppEnv,
		Service:     string(options.Service),
	}); err != nil {
		logger.Error("init_sentry_failed", map[string]any{"error": err.Error()})
	}

	var closers []func() error
	closeAll := func() error {
		var errs []error
		for i := len(closers) - 1; i >= 0; i-- {
			errs = append(errs, closers[i]())
		}
		observability.FlushSentry()
		_ = logger.Sync()
		return errors.Join(errs...)
	}
	defer func() {
		if err != nil {
			_ = closeAll()
		}
	}()

	database, err := db.Open(ctx, cfg.DatabaseURL, db.PoolConfig{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
		ConnMaxIdleTime: cfg.DBConnMaxIdleTime,
	})
	if err != nil {
		return nil, err
	}
	closers = append(closers, database.Close)

	if cfg.RunMigrations {
		if err := db.RunMigrations(ctx, database); err != nil {
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}

	codec, err := auth.NewCodec([]byte(cfg.JWTSecret), time.Now)
	if err != nil {
		return nil, fmt.Errorf("init token codec: %w", err)
	}
	issuer, err := auth.NewIssuer(codec, cfg.AccessTTL, cfg.RefreshTTL)
	if err != nil {
		return nil, fmt.Errorf("init token issuer: %w", err)
	}
	verifier := auth.NewVerifier(codec)

	userRepo := user.NewRepository(database)
	guard := auth.NewMiddleware(auth.NewGate(verifier, userRepo, cfg.AuthLookupTimeout), logger)
	cleaner := maintenance.NewCleaner(userRepo, logger, cfg.LoginAttemptRetention, cfg.CleanupBatchSize)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", healthHandler(database))

	if options.Service.serves(ServiceUsers) {
		ipStore, closeStore, err := loginIPStore(ctx, cfg, userRepo, logger)
		if err != nil {
			return nil, err
		}
		if closeStore != nil {
			closers = append(closers, closeStore)
		}

		userService := user.NewService(userRepo, issuer, auth.NewRefresher(verifier, issuer, cfg.RotateRefreshTokens)).
			WithLockout(cfg.LoginMaxAttempts, cfg.LoginLockDuration)
		if err := userService.BootstrapAdmin(ctx, cfg.AdminUsername, cfg.AdminPassword); err != nil {
			return nil, fmt.Errorf("bootstrap admin: %w", err)
		}

		limiter := auth.NewLoginRateLimiter(ipStore, cfg.LoginRateLimitMax, cfg.LoginRateLimitWindow, logger)
		user.RegisterRoutes(mux, user.NewHandler(userService), guard, limiter)

		cleanupHandler := maintenance.NewCleanupHandler(cleaner, cfg.CronSecret)
		mux.HandleFunc("GET /internal/maintenance/cleanup", cleanupHandler.Handle)
		mux.HandleFunc("POST /internal/maintenance/cleanup", cleanupHandler.Handle)
	}

	if options.Service.serves(ServiceCases) {
		cases.RegisterRoutes(mux, cases.NewHandler(cases.NewRepository(database)), guard)
	}

	handler := observability.RequestLoggingMiddleware(logger, string(options.Service), observability.RecoverMiddleware(logger, mux))

	return &Runtime{
		Handler: handler,
		Logger:  logger,
		Config:  cfg,
		Cleaner: cleaner,
		Close:   closeAll,
	}, nil
}

// loginIPStore prefers Redis when REDIS_URL is set and falls back to the
// Postgres table otherwise.
func loginIPStore(ctx context.Context, cfg config.Config, fallback auth.LoginIPStore, logger *observability.Logger) (auth.LoginIPStore, func() error, error) {
	if cfg.RedisURL == "" {
		return fallback, nil, nil
	}

	store, client, err := auth.NewRedisLoginStore(cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("ping redis: %w", err)
	}

	logger.Info("login_rate_limit_store", map[string]any{"backend": "redis"})
	return store, client.Close, nil
}

type pinger interface {
	PingContext(ctx context.Context) error
}

func healthHandler(database pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		body := map[string]any{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)}
		if err := database.PingContext(ctx); err != nil {
			status = http.StatusServiceUnavailable
			body = map[string]any{"status": "degraded", "time": time.Now().UTC().Format(time.RFC3339)}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}
}
