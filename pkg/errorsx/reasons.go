package errorsx

// ReasonCode is a short machine-readable error reason.
type ReasonCode string

const (
	ReasonUnknown ReasonCode = "unknown"

	ReasonConnectTimeout ReasonCode = "connect_timeout"
	ReasonAuthentication ReasonCode = "authentication_failed"
	ReasonTransport      ReasonCode = "transport_error"
	ReasonProtocolDecode ReasonCode = "protocol_decode_error"
	ReasonSessionClosed  ReasonCode = "session_closed"
	ReasonHeartbeat      ReasonCode = "heartbeat_timeout"
	ReasonSendQueueFull  ReasonCode = "send_queue_full"

	ReasonConfig              ReasonCode = "config_invalid"
	ReasonTranscriptionSend   ReasonCode = "transcription_send"
	ReasonTranscriptionRemote ReasonCode = "transcription_remote_error"
	ReasonConferenceJoin      ReasonCode = "conference_join"
)
