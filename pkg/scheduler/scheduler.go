// Package scheduler runs named periodic callbacks on dedicated tickers.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/crosslane/arb-relay/pkg/logging"
)

var schedLog = logging.WithComponent(logging.LogTypeScheduler, "scheduler")

// ErrTaskExists is returned when registering a name that is already scheduled.
var ErrTaskExists = errors.New("task already registered")

// ErrSchedulerStopped is returned when registering on a stopped scheduler.
var ErrSchedulerStopped = errors.New("scheduler stopped")

// Metrics defines metrics operations for the scheduler.
type Metrics interface {
	PublishSchedulingFailure(ctx context.Context, task string) error
}

// Task is a periodic callback. Errors are logged and counted; they never
// stop the task's timer.
type Task func(ctx context.Context) error

type taskHandle struct {
	cancel context.CancelFunc
}

// Scheduler owns one goroutine per registered task. Callbacks run inline in
// the task goroutine, so two ticks of the same task never overlap.
type Scheduler struct {
	metrics Metrics

	mu      sync.Mutex
	tasks   map[string]*taskHandle
	stopped bool

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a scheduler. metrics may be nil, in which case failures are
// only logged.
func New(metrics Metrics) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		metrics: metrics,
		tasks:   make(map[string]*taskHandle),
		baseCtx: ctx,
		cancel:  cancel,
	}
}

// Register schedules fn every interval under the given name. Names are
// unique; registering a live name fails with ErrTaskExists.
func (s *Scheduler) Register(name string, interval time.Duration, fn Task) error {
	if name == "" {
		return errors.New("task name is required")
	}
	if interval <= 0 {
		return fmt.Errorf("task %s: interval must be positive", name)
	}
	if fn == nil {
		return fmt.Errorf("task %s: callback is required", name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrSchedulerStopped
	}
	if _, exists := s.tasks[name]; exists {
		return fmt.Errorf("%w: %s", ErrTaskExists, name)
	}

	taskCtx, cancel := context.WithCancel(s.baseCtx)
	s.tasks[name] = &taskHandle{cancel: cancel}

	s.wg.Add(1)
	go s.run(taskCtx, name, interval, fn)

	schedLog.Info("task registered",
		slog.String(logging.KeyTask, name),
		slog.Int64(logging.KeyDuration, interval.Milliseconds()))
	return nil
}

// Cancel stops the named task. It reports whether the name was scheduled.
func (s *Scheduler) Cancel(name string) bool {
	s.mu.Lock()
	handle, ok := s.tasks[name]
	if ok {
		delete(s.tasks, name)
	}
	s.mu.Unlock()

	if !ok {
		return false
	}
	handle.cancel()
	schedLog.Info("task cancelled", slog.String(logging.KeyTask, name))
	return true
}

// Names returns the currently scheduled task names, sorted.
func (s *Scheduler) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.tasks))
	for name := range s.tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Stop cancels every task and waits for in-flight callbacks. Idempotent.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.stopped {
		s.stopped = true
		s.cancel()
		s.tasks = make(map[string]*taskHandle)
	}
	s.mu.Unlock()

	s.wg.Wait()
}

func (s *Scheduler) run(ctx context.Context, name string, interval time.Duration, fn Task) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.invoke(ctx, name, fn)
			// Drop a tick that queued up while the callback ran; a slow
			// callback must not cause an immediate re-fire.
			select {
			case <-ticker.C:
			default:
			}
		}
	}
}

// invoke runs one callback with panics and errors contained at the boundary.
func (s *Scheduler) invoke(ctx context.Context, name string, fn Task) {
	defer func() {
		if r := recover(); r != nil {
			schedLog.Error("panic in scheduled task",
				slog.String(logging.KeyTask, name),
				slog.Any("panic", r))
			s.countFailure(ctx, name)
		}
	}()

	if err := fn(ctx); err != nil {
		schedLog.Error("scheduled task failed",
			slog.String(logging.KeyTask, name),
			slog.String(logging.KeyError, err.Error()))
		s.countFailure(ctx, name)
	}
}

func (s *Scheduler) countFailure(ctx context.Context, name string) {
	if ctx.Err() != nil || s.metrics == nil {
		return
	}
	if err := s.metrics.PublishSchedulingFailure(ctx, name); err != nil {
		schedLog.Warn("failed to publish scheduling failure metric",
			slog.String(logging.KeyTask, name),
			slog.String(logging.KeyError, err.Error()))
	}
}
