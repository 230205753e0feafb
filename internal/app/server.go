package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"casetrack/internal/observability"
)

const shutdownTimeout = 30 * time.Second

// Serve runs handler on listener until ctx is cancelled, then gives
// in-flight requests shutdownTimeout to finish.
func Serve(ctx context.Context, listener net.Listener, handler http.Handler, logger *observability.Logger) error {
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server_start", map[string]any{"addr": listener.Addr().String()})
		serveErr <- srv.Serve(listener)
	}()

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	case <-ctx.Done():
	}

	logger.Info("server_shutdown", map[string]any{})
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http: %w", err)
	}
	return nil
}

func (rt *Runtime) ListenAndServe(ctx context.Context) error {
	listener, err := net.Listen("tcp", ":"+rt.Config.Port)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	return Serve(ctx, listener, rt.Handler, rt.Logger)
}

// Run serves rt until ctx ends. setup runs before the listener opens and may
// return a hook that runs once the server has stopped. rt.Close runs on
// every path, including a failed setup.
func Run(ctx context.Context, rt *Runtime, setup func(*Runtime) (func(), error)) (err error) {
	defer func() {
		if closeErr := rt.Close(); closeErr != nil {
			err = errors.Join(err, fmt.Errorf("close runtime: %w", closeErr))
		}
	}()

	if setup != nil {
		teardown, err := setup(rt)
		if err != nil {
			return err
		}
		if teardown != nil {
			defer teardown()
		}
	}

	if err := rt.ListenAndServe(ctx); err != nil {
		rt.Logger.Error("server_failed", map[string]any{"error": err.Error()})
		return err
	}
	rt.Logger.Info("server_stopped", map[string]any{})
	return nil
}
