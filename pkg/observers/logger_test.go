package observers

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/harunnryd/confgate/pkg/metrics"
	"github.com/stretchr/testify/assert"
)

func TestLoggerObserverRaisesFailures(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
	obs := NewLoggerObserver(log)

	obs.RecordEvent(metrics.MetricsEvent{Name: metrics.EventSessionReady, Time: time.Now()})
	assert.Empty(t, buf.String())

	obs.RecordEvent(metrics.MetricsEvent{Name: metrics.EventHeartbeatTimeout, Time: time.Now(), Tags: map[string]string{"binding": "stomp"}})
	out := buf.String()
	assert.True(t, strings.Contains(out, "level=WARN"), out)
	assert.True(t, strings.Contains(out, "binding=stomp"), out)
}

func TestMultiObserverSkipsNil(t *testing.T) {
	a := metrics.NewMemoryObserver()
	b := metrics.NewMemoryObserver()
	multi := NewMultiObserver(a, nil, b)
	multi.RecordEvent(metrics.MetricsEvent{Name: metrics.EventGoLive})
	assert.Equal(t, 1, a.Count(metrics.EventGoLive))
	assert.Equal(t, 1, b.Count(metrics.EventGoLive))
}
