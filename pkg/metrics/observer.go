package metrics

import "time"

// Session lifecycle events emitted by the streaming core and its users.
const (
	EventSessionReady       = "session_ready"
	EventSessionFailed      = "session_failed"
	EventSessionClosed      = "session_closed"
	EventHeartbeatTimeout   = "heartbeat_timeout"
	EventDecodeError        = "decode_error"
	EventReconnectScheduled = "reconnect_scheduled"
	EventGoLive             = "go_live"
	EventMessageDropped     = "message_dropped"
)

type MetricsEvent struct {
	Name   string
	Time   time.Time
	Value  float64
	Tags   map[string]string
	Fields map[string]any
}

type Observer interface {
	RecordEvent(ev MetricsEvent)
}

type Flusher interface {
	Flush() error
}

type NoopObserver struct{}

func (NoopObserver) RecordEvent(MetricsEvent) {}

// OrNoop returns obs, or a NoopObserver when obs is nil.
func OrNoop(obs Observer) Observer {
	if obs == nil {
		return NoopObserver{}
	}
	return obs
}
