package streaming_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/harunnryd/confgate/pkg/clock"
	"github.com/harunnryd/confgate/pkg/metrics"
	"github.com/harunnryd/confgate/pkg/streaming"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type jitterRecorder struct {
	mu    sync.Mutex
	maxes []time.Duration
}

func (j *jitterRecorder) jitter(max time.Duration) time.Duration {
	j.mu.Lock()
	j.maxes = append(j.maxes, max)
	j.mu.Unlock()
	return time.Second
}

func (j *jitterRecorder) calls() []time.Duration {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]time.Duration(nil), j.maxes...)
}

func newSupervised(t *testing.T) (*harness, *streaming.Supervisor, *jitterRecorder) {
	t.Helper()
	h := newHarness(t, &lineProtocol{}, streaming.Config{})
	j := &jitterRecorder{}
	sup := streaming.NewSupervisor(h.session, h.sched, streaming.SupervisorConfig{
		MaxDelay: 5 * time.Second,
		Jitter:   j.jitter,
		Observer: h.obs,
	})
	h.onReady = sup.OnReady
	h.onTerm = sup.OnTerminated
	t.Cleanup(sup.Stop)
	return h, sup, j
}

func TestSupervisorReconnectsAfterDrop(t *testing.T) {
	h, sup, j := newSupervised(t)
	require.NoError(t, h.session.Connect(context.Background()))
	h.awaitState(t, streaming.StateReady)

	h.dialer.Last().Drop(errors.New("reset"))
	require.Eventually(t, sup.Pending, wait, time.Millisecond)
	assert.Equal(t, []time.Duration{5 * time.Second}, j.calls())

	h.clock.Advance(999 * time.Millisecond)
	assert.Equal(t, 1, h.dialer.Dials())

	h.clock.Advance(time.Millisecond)
	require.Eventually(t, func() bool { return h.dialer.Dials() == 2 }, wait, time.Millisecond)
	h.awaitState(t, streaming.StateReady)
	assert.False(t, sup.Pending())
	assert.Equal(t, 1, h.obs.Count(metrics.EventReconnectScheduled))
}

func TestSupervisorIgnoresLocalClose(t *testing.T) {
	h, sup, _ := newSupervised(t)
	require.NoError(t, h.session.Connect(context.Background()))
	h.awaitState(t, streaming.StateReady)

	require.NoError(t, h.session.Close())
	term := <-h.terms
	assert.True(t, term.Local)
	assert.False(t, sup.Pending())

	h.clock.Advance(time.Minute)
	assert.Equal(t, 1, h.dialer.Dials())
}

func TestSupervisorStopCancelsPendingAttempt(t *testing.T) {
	h, sup, _ := newSupervised(t)
	h.dialer.PushError(errors.New("refused"))
	require.Error(t, h.session.Connect(context.Background()))
	require.True(t, sup.Pending())

	sup.Stop()
	assert.False(t, sup.Pending())
	h.clock.Advance(time.Minute)
	assert.Never(t, func() bool { return h.dialer.Dials() > 1 }, 50*time.Millisecond, 5*time.Millisecond)
}

func TestSupervisorKeepsRetryingFailedDials(t *testing.T) {
	h, sup, _ := newSupervised(t)
	for i := 0; i < 3; i++ {
		h.dialer.PushError(errors.New("refused"))
	}
	require.Error(t, h.session.Connect(context.Background()))

	for want := 2; want <= 4; want++ {
		require.Eventually(t, sup.Pending, wait, time.Millisecond)
		h.clock.Advance(time.Second)
		require.Eventually(t, func() bool { return h.dialer.Dials() == want }, wait, time.Millisecond)
	}
	h.awaitState(t, streaming.StateReady)
	assert.Equal(t, 3, h.obs.Count(metrics.EventReconnectScheduled))
}

// blockingConnector holds every Connect until its context ends.
type blockingConnector struct {
	entered chan struct{}
	result  chan error
}

func (c *blockingConnector) Endpoint() string { return "wss://lobby.test/ws" }

func (c *blockingConnector) Connect(ctx context.Context) error {
	c.entered <- struct{}{}
	<-ctx.Done()
	c.result <- ctx.Err()
	return ctx.Err()
}

func TestSupervisorStopCancelsInFlightAttempt(t *testing.T) {
	fc := clock.Fake(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	sched := streaming.NewScheduler(fc, 1, nil)
	t.Cleanup(sched.Close)
	target := &blockingConnector{entered: make(chan struct{}, 1), result: make(chan error, 1)}
	sup := streaming.NewSupervisor(target, sched, streaming.SupervisorConfig{
		MaxDelay: 5 * time.Second,
		Jitter:   func(time.Duration) time.Duration { return time.Second },
	})

	sup.OnTerminated(streaming.Termination{Code: streaming.CloseAbnormal, Reason: "reset"})
	require.True(t, sup.Pending())
	fc.Advance(time.Second)

	select {
	case <-target.entered:
	case <-time.After(wait):
		t.Fatal("attempt did not start")
	}
	sup.Stop()

	select {
	case err := <-target.result:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(wait):
		t.Fatal("attempt outlived Stop")
	}
}
