package metrics

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAsyncObserverForwardsToInner(t *testing.T) {
	mem := NewMemoryObserver()
	async := NewAsyncObserver(mem, 4)
	async.RecordEvent(MetricsEvent{Name: EventSessionReady, Time: time.Now()})
	async.RecordEvent(MetricsEvent{Name: EventSessionClosed, Time: time.Now()})

	require.Eventually(t, func() bool { return mem.Count(EventSessionClosed) == 1 }, time.Second, 5*time.Millisecond)
	async.Close()
	async.RecordEvent(MetricsEvent{Name: EventSessionFailed})
	assert.Equal(t, []string{EventSessionReady, EventSessionClosed}, mem.Names())
}

func TestJSONLObserverWritesTags(t *testing.T) {
	var buf bytes.Buffer
	obs := NewJSONLObserver(&buf)
	obs.RecordEvent(MetricsEvent{
		Name:  EventReconnectScheduled,
		Time:  time.Unix(10, 0),
		Value: 1200,
		Tags:  map[string]string{"binding": "stomp"},
	})

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, EventReconnectScheduled, line["name"])
	assert.Equal(t, "stomp", line["binding"])
	assert.NoError(t, obs.Close())
}

func TestOrNoop(t *testing.T) {
	assert.IsType(t, NoopObserver{}, OrNoop(nil))
	mem := NewMemoryObserver()
	assert.Same(t, mem, OrNoop(mem))
}

type panicObserver struct{}

func (panicObserver) RecordEvent(MetricsEvent) { panic("sink exploded") }

type flushObserver struct {
	MemoryObserver
	flushed bool
}

func (f *flushObserver) Flush() error {
	f.flushed = true
	return nil
}

func TestAsyncObserverSurvivesPanickingSink(t *testing.T) {
	async := NewAsyncObserver(panicObserver{}, 4)
	async.RecordEvent(MetricsEvent{Name: EventGoLive})
	async.RecordEvent(MetricsEvent{Name: EventGoLive})
	require.NoError(t, async.Close())
	assert.Equal(t, int64(2), async.Panicked())
}

func TestAsyncObserverCloseDrainsAndFlushes(t *testing.T) {
	inner := &flushObserver{}
	async := NewAsyncObserver(inner, 16)
	for i := 0; i < 10; i++ {
		async.RecordEvent(MetricsEvent{Name: EventMessageDropped})
	}
	require.NoError(t, async.Close())
	assert.Equal(t, 10, inner.Count(EventMessageDropped))
	assert.True(t, inner.flushed)
	assert.Zero(t, async.Dropped())
}
