package streaming

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/harunnryd/confgate/pkg/clock"
)

// Monitor tracks peer activity for one connection and runs the pinger and
// ponger tasks of its heartbeat contract on a shared Scheduler.
type Monitor struct {
	name   string
	clock  clock.Clock
	sched  *Scheduler
	logger *slog.Logger

	lastActivity atomic.Int64
	dead         atomic.Bool

	mu       sync.Mutex
	contract Contract
	pinger   *Task
	ponger   *Task
	stopped  bool
}

// NewMonitor creates a stopped monitor whose activity clock starts now.
func NewMonitor(name string, sched *Scheduler, logger *slog.Logger) *Monitor {
	m := &Monitor{
		name:   name,
		clock:  sched.Clock(),
		sched:  sched,
		logger: logger,
	}
	m.Touch()
	return m
}

// Touch records inbound activity. Called for every inbound message,
// heartbeats included.
func (m *Monitor) Touch() {
	m.lastActivity.Store(m.clock.Now().UnixNano())
}

func (m *Monitor) LastActivity() time.Time {
	return time.Unix(0, m.lastActivity.Load())
}

func (m *Monitor) Contract() Contract {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.contract
}

// Start schedules the pinger and ponger for contract. ping sends one
// keep-alive; onDead runs at most once, on its own goroutine, when the
// peer stays silent for SilenceTolerance incoming intervals.
func (m *Monitor) Start(contract Contract, ping func() error, onDead func(silence time.Duration)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return
	}
	m.contract = contract
	m.Touch()
	if contract.Outgoing > 0 && ping != nil {
		m.pinger = m.sched.Every(m.name+"_pinger", contract.Outgoing, func() error {
			if err := ping(); err != nil {
				m.logger.Debug("heartbeat_ping_failed", slog.String("error", err.Error()))
			}
			return nil
		})
	}
	if contract.Incoming > 0 && onDead != nil {
		m.ponger = m.sched.Every(m.name+"_ponger", contract.Incoming, func() error {
			m.check(onDead)
			return nil
		})
	}
}

func (m *Monitor) check(onDead func(time.Duration)) {
	limit := m.Contract().SilenceLimit()
	silence := m.clock.Now().Sub(m.LastActivity())
	if silence < limit {
		return
	}
	if m.dead.CompareAndSwap(false, true) {
		m.logger.Warn("heartbeat_timeout",
			slog.Duration("silence", silence),
			slog.Duration("limit", limit))
		go onDead(silence)
	}
}

// Stop cancels both tasks. When Stop returns no further ping or liveness
// check will run.
func (m *Monitor) Stop() {
	m.mu.Lock()
	m.stopped = true
	pinger, ponger := m.pinger, m.ponger
	m.pinger, m.ponger = nil, nil
	m.mu.Unlock()
	pinger.Cancel()
	ponger.Cancel()
}
