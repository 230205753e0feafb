package maintenance

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"casetrack/internal/observability"
)

const runTimeout = 5 * time.Minute

// Scheduler runs the cleaner on a standard five-field cron expression.
type Scheduler struct {
	cron    *cron.Cron
	cleaner *Cleaner
	logger  *observability.Logger
}

func NewScheduler(cleaner *Cleaner, logger *observability.Logger, schedule string) (*Scheduler, error) {
	s := &Scheduler{
		cron:    cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		cleaner: cleaner,
		logger:  logger,
	}

	if _, err := s.cron.AddFunc(schedule, s.runOnce); err != nil {
		return nil, fmt.Errorf("parse cleanup schedule %q: %w", schedule, err)
	}

	return s, nil
}

func (s *Scheduler) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()
	_, _ = s.cleaner.Run(ctx, "cron")
}

func (s *Scheduler) Start() {
	s.cron.Start()
	for _, entry := range s.cron.Entries() {
		s.logger.Info("auth_cleanup_scheduled", map[string]any{"next_run": entry.Next.UTC().Format(time.RFC3339)})
	}
}

// Stop halts the schedule and waits for a running cleanup until ctx ends.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.logger.Warn("auth_cleanup_stop_timeout", map[string]any{"error": ctx.Err().Error()})
	}
}
