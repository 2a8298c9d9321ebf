package streaming

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/harunnryd/confgate/pkg/clock"
	"github.com/harunnryd/confgate/pkg/logging"
	"github.com/sourcegraph/conc/panics"
	"github.com/sourcegraph/conc/pool"
)

// Scheduler runs timed tasks for many sessions on one bounded worker pool,
// so goroutine usage does not grow with the number of heartbeats.
type Scheduler struct {
	clock  clock.Clock
	logger *slog.Logger

	mu     sync.RWMutex
	pool   *pool.Pool
	closed bool
}

// NewScheduler creates a scheduler with at most workers concurrent task
// runs.
func NewScheduler(c clock.Clock, workers int, logger *slog.Logger) *Scheduler {
	if c == nil {
		c = clock.Real()
	}
	if workers <= 0 {
		workers = 1
	}
	return &Scheduler{
		clock:  c,
		logger: logging.NewComponentLogger(logger, "scheduler"),
		pool:   pool.New().WithMaxGoroutines(workers),
	}
}

func (s *Scheduler) Clock() clock.Clock { return s.clock }

// Every runs fn every interval until the task is cancelled. Errors and
// panics from fn are logged and the schedule continues.
func (s *Scheduler) Every(name string, interval time.Duration, fn func() error) *Task {
	t := &Task{name: name, sched: s, interval: interval, fn: fn}
	if interval <= 0 {
		t.cancelled.Store(true)
		return t
	}
	t.arm()
	return t
}

// After runs fn once after delay.
func (s *Scheduler) After(name string, delay time.Duration, fn func()) *Task {
	t := &Task{name: name, sched: s, fn: func() error { fn(); return nil }}
	t.armOnce(delay)
	return t
}

// Close stops accepting runs and waits for in-flight runs to finish.
// Pending timers still fire but their runs are dropped.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	s.pool.Wait()
}

func (s *Scheduler) submit(run func()) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false
	}
	s.pool.Go(run)
	return true
}

// Task is a scheduled activity. Cancel must not be called from the task's
// own function.
type Task struct {
	name     string
	sched    *Scheduler
	interval time.Duration
	fn       func() error

	cancelled atomic.Bool
	timerMu   sync.Mutex
	timer     *clock.Timer
	runMu     sync.Mutex
}

// Cancel stops future runs and waits for a run in progress to return.
// After Cancel returns fn is not called again. Safe to call repeatedly.
func (t *Task) Cancel() {
	if t == nil {
		return
	}
	t.cancelled.Store(true)
	t.timerMu.Lock()
	if t.timer != nil {
		t.timer.Stop()
	}
	t.timerMu.Unlock()
	t.runMu.Lock()
	t.runMu.Unlock()
}

func (t *Task) Cancelled() bool { return t.cancelled.Load() }

func (t *Task) arm() {
	t.timerMu.Lock()
	defer t.timerMu.Unlock()
	if t.cancelled.Load() {
		return
	}
	t.timer = t.sched.clock.AfterFunc(t.interval, t.fireRepeating)
}

// fireRepeating re-arms before submitting, so the schedule does not drift
// with pool latency.
func (t *Task) fireRepeating() {
	if t.cancelled.Load() {
		return
	}
	t.arm()
	t.sched.submit(t.run)
}

func (t *Task) armOnce(delay time.Duration) {
	if delay <= 0 {
		t.fireOnce()
		return
	}
	t.timerMu.Lock()
	defer t.timerMu.Unlock()
	t.timer = t.sched.clock.AfterFunc(delay, t.fireOnce)
}

func (t *Task) fireOnce() {
	if t.cancelled.Load() {
		return
	}
	t.sched.submit(t.run)
}

func (t *Task) run() {
	t.runMu.Lock()
	defer t.runMu.Unlock()
	if t.cancelled.Load() {
		return
	}
	var err error
	if r := panics.Try(func() { err = t.fn() }); r != nil {
		t.sched.logger.Error("scheduled_task_panic",
			slog.String("task", t.name),
			slog.String("error", r.AsError().Error()))
		return
	}
	if err != nil {
		t.sched.logger.Warn("scheduled_task_error",
			slog.String("task", t.name),
			slog.String("error", err.Error()))
	}
}
