// Package scheduler runs named periodic tasks with an explicit start and
// stop lifecycle.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// ErrAlreadyStarted is returned by Start on a running scheduler.
var ErrAlreadyStarted = eris.New("scheduler: already started")

// Task is one periodic unit of work. Fn runs once per Interval; a slow run
// delays the next tick rather than overlapping it.
type Task struct {
	Name     string
	Interval time.Duration
	Fn       func(ctx context.Context) error
}

// Scheduler owns one ticker goroutine per task.
type Scheduler struct {
	mu      sync.Mutex
	tasks   []Task
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	log     *zap.Logger
}

// New creates an idle scheduler.
func New() *Scheduler {
	return &Scheduler{log: zap.L().With(zap.String("component", "scheduler"))}
}

// Add registers a task. Tasks added after Start run from the next Start.
func (s *Scheduler) Add(t Task) error {
	if t.Name == "" {
		return eris.New("scheduler: task name is required")
	}
	if t.Interval <= 0 {
		return eris.Errorf("scheduler: task %s: interval must be > 0", t.Name)
	}
	if t.Fn == nil {
		return eris.Errorf("scheduler: task %s: fn is required", t.Name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append(s.tasks, t)
	return nil
}

// Tasks returns the registered task names.
func (s *Scheduler) Tasks() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, len(s.tasks))
	for i, t := range s.tasks {
		names[i] = t.Name
	}
	return names
}

// Start launches every registered task. It does not block.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrAlreadyStarted
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true
	for _, t := range s.tasks {
		s.wg.Add(1)
		go s.loop(ctx, t)
	}
	s.log.Info("scheduler started", zap.Int("tasks", len(s.tasks)))
	return nil
}

// Stop cancels all tasks and waits for in-flight runs. Calling Stop on an
// idle scheduler is a no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cancel()
	s.mu.Unlock()

	s.wg.Wait()
	s.log.Info("scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context, t Task) {
	defer s.wg.Done()
	log := s.log.With(zap.String("task", t.Name))
	log.Debug("task scheduled", zap.Duration("interval", t.Interval))

	ticker := time.NewTicker(t.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx, t, log)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context, t Task, log *zap.Logger) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("scheduler: task panicked", zap.Any("panic", r))
		}
	}()
	start := time.Now()
	if err := t.Fn(ctx); err != nil {
		log.Warn("scheduler: task failed", zap.Error(err))
		return
	}
	log.Debug("scheduler: task complete", zap.Duration("duration", time.Since(start)))
}
