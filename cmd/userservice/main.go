package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"casetrack/internal/app"
	"casetrack/internal/maintenance"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "userservice: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runtime, err := app.Build(ctx, app.Options{LoadDotEnv: true, Service: app.ServiceUsers})
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}

	return app.Run(ctx, runtime, startScheduler)
}

func startScheduler(runtime *app.Runtime) (func(), error) {
	schedule := runtime.Config.CleanupSchedule
	if schedule == "" {
		return nil, nil
	}

	scheduler, err := maintenance.NewScheduler(runtime.Cleaner, runtime.Logger, schedule)
	if err != nil {
		runtime.Logger.Error("cleanup_schedule_invalid", map[string]any{"error": err.Error()})
		return nil, err
	}
	scheduler.Start()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		scheduler.Stop(ctx)
	}, nil
}
