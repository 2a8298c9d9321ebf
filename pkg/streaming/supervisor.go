package streaming

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/harunnryd/confgate/pkg/errorsx"
	"github.com/harunnryd/confgate/pkg/logging"
	"github.com/harunnryd/confgate/pkg/metrics"
)

const DefaultReconnectMaxDelay = 5 * time.Second

// Connector is the part of a Session the supervisor drives.
type Connector interface {
	Connect(ctx context.Context) error
	Endpoint() string
}

type SupervisorConfig struct {
	MaxDelay time.Duration
	// Jitter returns the delay before the next attempt. Defaults to a
	// uniform draw from [0, max).
	Jitter   func(max time.Duration) time.Duration
	Logger   *slog.Logger
	Observer metrics.Observer
}

// Supervisor reconnects a session after every termination it did not
// request itself. At most one attempt is pending at a time and attempts
// continue until Stop.
type Supervisor struct {
	target   Connector
	sched    *Scheduler
	maxDelay time.Duration
	jitter   func(time.Duration) time.Duration
	logger   *slog.Logger
	obs      metrics.Observer

	// ctx is cancelled by Stop and bounds every attempt.
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	pending  *Task
	failures int
	stopped  bool
}

func NewSupervisor(target Connector, sched *Scheduler, cfg SupervisorConfig) *Supervisor {
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = DefaultReconnectMaxDelay
	}
	if cfg.Jitter == nil {
		cfg.Jitter = uniformJitter
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		ctx:      ctx,
		cancel:   cancel,
		target:   target,
		sched:    sched,
		maxDelay: cfg.MaxDelay,
		jitter:   cfg.Jitter,
		logger:   logging.NewComponentLogger(cfg.Logger, "supervisor"),
		obs:      metrics.OrNoop(cfg.Observer),
	}
}

func uniformJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(max)))
}

// Hooks returns session hooks wired to this supervisor.
func (s *Supervisor) Hooks() Hooks {
	return Hooks{OnReady: s.OnReady, OnTerminated: s.OnTerminated}
}

// OnReady resets the failure count.
func (s *Supervisor) OnReady() {
	s.mu.Lock()
	s.failures = 0
	s.mu.Unlock()
}

// OnTerminated schedules a reconnect unless the session was closed
// locally or the supervisor is stopped.
func (s *Supervisor) OnTerminated(t Termination) {
	if t.Local {
		return
	}
	s.mu.Lock()
	if s.stopped || s.pending != nil {
		s.mu.Unlock()
		return
	}
	s.failures++
	failures := s.failures
	delay := s.jitter(s.maxDelay)
	s.pending = s.sched.After("reconnect", delay, s.attempt)
	s.mu.Unlock()

	s.logger.Log(context.Background(), severity(failures), "reconnect_scheduled",
		slog.String("endpoint", s.target.Endpoint()),
		slog.Duration("delay", delay),
		slog.Int("consecutive_failures", failures),
		slog.String("reason", reasonOf(t)))
	s.obs.RecordEvent(metrics.MetricsEvent{
		Name:  metrics.EventReconnectScheduled,
		Time:  s.sched.Clock().Now(),
		Value: float64(delay.Milliseconds()),
		Tags:  map[string]string{"endpoint": s.target.Endpoint()},
	})
}

// Pending reports whether a reconnect attempt is scheduled.
func (s *Supervisor) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending != nil
}

// Stop cancels any pending attempt and disables further reconnects.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	s.stopped = true
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()
	s.cancel()
	pending.Cancel()
}

func (s *Supervisor) attempt() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.pending = nil
	s.mu.Unlock()

	// A failed Connect reports through OnTerminated, which schedules the
	// next attempt, so the dial runs off the scheduler's workers.
	go func() {
		s.mu.Lock()
		stopped := s.stopped
		s.mu.Unlock()
		if stopped {
			return
		}
		if err := s.target.Connect(s.ctx); err != nil {
			s.logger.Debug("reconnect_attempt_failed", slog.String("error", err.Error()))
		}
	}()
}

func severity(failures int) slog.Level {
	switch {
	case failures < 3:
		return slog.LevelInfo
	case failures < 10:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}

func reasonOf(t Termination) string {
	if t.Err != nil {
		return string(errorsx.Reason(t.Err))
	}
	return t.Reason
}
