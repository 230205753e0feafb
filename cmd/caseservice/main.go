package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"casetrack/internal/app"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "caseservice: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runtime, err := app.Build(ctx, app.Options{LoadDotEnv: true, Service: app.ServiceCases})
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}

	return app.Run(ctx, runtime, nil)
}
