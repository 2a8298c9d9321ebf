package streaming

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/harunnryd/confgate/pkg/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonitorDeclaresDeathAtTwiceIncoming(t *testing.T) {
	fc := clock.Fake(epoch)
	s := NewScheduler(fc, 2, nil)
	defer s.Close()

	m := NewMonitor("test", s, nil)
	var dead atomic.Int32
	var silence atomic.Int64
	m.Start(Contract{Incoming: time.Second}, nil, func(d time.Duration) {
		silence.Store(int64(d))
		dead.Add(1)
	})
	defer m.Stop()

	fc.Advance(2*time.Second - time.Millisecond)
	require.Never(t, func() bool { return dead.Load() > 0 }, 50*time.Millisecond, 5*time.Millisecond)

	fc.Advance(time.Millisecond)
	require.Eventually(t, func() bool { return dead.Load() == 1 }, time.Second, time.Millisecond)
	assert.GreaterOrEqual(t, time.Duration(silence.Load()), 2*time.Second)

	// Reported once only.
	fc.Advance(5 * time.Second)
	require.Never(t, func() bool { return dead.Load() > 1 }, 50*time.Millisecond, 5*time.Millisecond)
}

func TestMonitorTouchKeepsSessionAlive(t *testing.T) {
	fc := clock.Fake(epoch)
	s := NewScheduler(fc, 2, nil)
	defer s.Close()

	m := NewMonitor("test", s, nil)
	var dead atomic.Bool
	m.Start(Contract{Incoming: time.Second}, nil, func(time.Duration) { dead.Store(true) })
	defer m.Stop()

	for i := 0; i < 10; i++ {
		fc.Advance(1500 * time.Millisecond)
		m.Touch()
	}
	require.Never(t, dead.Load, 50*time.Millisecond, 5*time.Millisecond)
}

func TestMonitorPingsAtOutgoingInterval(t *testing.T) {
	fc := clock.Fake(epoch)
	s := NewScheduler(fc, 2, nil)
	defer s.Close()

	m := NewMonitor("test", s, nil)
	var pings atomic.Int32
	m.Start(Contract{Outgoing: 500 * time.Millisecond}, func() error {
		pings.Add(1)
		return nil
	}, nil)

	fc.Advance(2 * time.Second)
	require.Eventually(t, func() bool { return pings.Load() == 4 }, time.Second, time.Millisecond)

	m.Stop()
	fc.Advance(2 * time.Second)
	require.Never(t, func() bool { return pings.Load() > 4 }, 50*time.Millisecond, 5*time.Millisecond)
	assert.Equal(t, Contract{Outgoing: 500 * time.Millisecond}, m.Contract())
}

func TestMonitorStartAfterStopIsNoop(t *testing.T) {
	fc := clock.Fake(epoch)
	s := NewScheduler(fc, 1, nil)
	defer s.Close()

	m := NewMonitor("test", s, nil)
	m.Stop()
	m.Start(Contract{Outgoing: time.Second, Incoming: time.Second}, func() error { return nil }, func(time.Duration) {})
	assert.Zero(t, fc.Pending())
}
