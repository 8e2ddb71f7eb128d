// Package scheduler runs the periodic sweeps: escalation, BOL expiry,
// activity archival and audit retention.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"sentinelops/internal/config"
)

// TaskHandler is one periodic sweep.
type TaskHandler interface {
	Name() string
	Execute(ctx context.Context) error
}

// task tracks one scheduled handler and its run counters.
type task struct {
	handler    TaskHandler
	schedule   string
	entryID    cron.EntryID
	lastRun    time.Time
	runCount   int64
	errorCount int64
}

// Scheduler drives the sweep handlers off cron expressions.
type Scheduler struct {
	cfg    *config.Config
	logger *slog.Logger
	cron   *cron.Cron
	tasks  map[string]*task
	mu     sync.RWMutex
}

// New creates a scheduler with second-precision cron in UTC.
func New(cfg *config.Config, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		cfg:    cfg,
		logger: logger,
		cron:   cron.New(cron.WithSeconds(), cron.WithLocation(time.UTC)),
		tasks:  make(map[string]*task),
	}
}

// Register schedules a handler under the given cron expression.
func (s *Scheduler) Register(schedule string, handler TaskHandler) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := &task{handler: handler, schedule: schedule}
	entryID, err := s.cron.AddFunc(schedule, func() {
		s.run(t)
	})
	if err != nil {
		return fmt.Errorf("failed to schedule task %s: %w", handler.Name(), err)
	}
	t.entryID = entryID
	s.tasks[handler.Name()] = t

	s.logger.Info("task scheduled", "task", handler.Name(), "schedule", schedule)
	return nil
}

func (s *Scheduler) run(t *task) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	start := time.Now()
	err := t.handler.Execute(ctx)

	s.mu.Lock()
	t.lastRun = start
	t.runCount++
	if err != nil {
		t.errorCount++
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("scheduled task failed",
			"task", t.handler.Name(),
			"duration", time.Since(start),
			"error", err)
		return
	}
	s.logger.Debug("scheduled task completed",
		"task", t.handler.Name(),
		"duration", time.Since(start))
}

// Start starts the cron loop.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started", "tasks", len(s.tasks))
}

// Stop stops the cron loop and waits for running tasks.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("scheduler stopped")
}

// Stats reports per-task run counters for the status endpoint.
func (s *Scheduler) Stats() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := make(map[string]any, len(s.tasks))
	for name, t := range s.tasks {
		stats[name] = map[string]any{
			"schedule": t.schedule,
			"last_run": t.lastRun,
			"runs":     t.runCount,
			"errors":   t.errorCount,
		}
	}
	return stats
}
