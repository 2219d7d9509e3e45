package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
)

var ErrStarted = errors.New("scheduler: already started")

// Job is one recurring unit of work. It receives a context that is
// cancelled when the scheduler stops.
type Job func(ctx context.Context) error

// Scheduler runs named recurring jobs. A run that is still in progress when
// its next slot arrives is skipped rather than overlapped.
type Scheduler struct {
	cron   *gocron.Scheduler
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	names   []string
	started bool
}

// New creates a Scheduler on UTC.
func New(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{cron: s, logger: logger, ctx: ctx, cancel: cancel}
}

// Every schedules job to run each interval. With immediate the first run
// happens at Start, otherwise after one interval.
func (s *Scheduler) Every(name string, interval time.Duration, immediate bool, job Job) error {
	if interval <= 0 {
		return fmt.Errorf("scheduler: job %q: interval must be positive", name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrStarted
	}

	sched := s.cron.Every(interval).Tag(name)
	if !immediate {
		sched = sched.WaitForSchedule()
	}
	if _, err := sched.Do(s.run, name, job); err != nil {
		return fmt.Errorf("scheduler: job %q: %w", name, err)
	}
	s.names = append(s.names, name)
	return nil
}

// Daily schedules job once a day at the given "HH:MM" UTC.
func (s *Scheduler) Daily(name, at string, job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrStarted
	}

	if _, err := s.cron.Every(1).Day().At(at).Tag(name).Do(s.run, name, job); err != nil {
		return fmt.Errorf("scheduler: job %q: %w", name, err)
	}
	s.names = append(s.names, name)
	return nil
}

func (s *Scheduler) run(name string, job Job) {
	if s.ctx.Err() != nil {
		return
	}
	start := time.Now()
	s.logger.Debug("scheduler: running job", "job", name)
	if err := job(s.ctx); err != nil {
		s.logger.Error("scheduler: job failed", "job", name, "duration", time.Since(start), "error", err)
		return
	}
	s.logger.Debug("scheduler: job completed", "job", name, "duration", time.Since(start))
}

// Jobs returns the names of scheduled jobs in registration order.
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.names...)
}

// RunNow triggers the named job outside its schedule.
func (s *Scheduler) RunNow(name string) error {
	if err := s.cron.RunByTag(name); err != nil {
		return fmt.Errorf("scheduler: run %q: %w", name, err)
	}
	return nil
}

// Start begins running jobs in the background.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	if len(s.names) == 0 {
		s.logger.Info("scheduler: no jobs configured; nothing to schedule")
	}
	s.cron.StartAsync()
	s.logger.Info("scheduler: started", "jobs", s.names)
}

// Stop cancels in-flight jobs and stops scheduling new runs.
func (s *Scheduler) Stop() {
	s.cancel()
	if s.cron != nil {
		s.cron.Stop()
	}
}
