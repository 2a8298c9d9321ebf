// Package speech implements the realtime speech transcription binding:
// JSON events over a websocket, authenticated by a signed credentials
// message sent right after the socket opens.
package speech

import (
	"encoding/json"
	"fmt"

	"github.com/harunnryd/confgate/pkg/errorsx"
)

const binding = "speech"

// Server event discriminants.
const (
	EventAckAudio = "ACKAUDIO"
	EventConnect  = "CONNECT"
	EventResult   = "RESULT"
	EventError    = "ERROR"
)

// Client event discriminants.
const (
	EventSendFinalResult = "SEND_FINAL_RESULT"
	authCredentials      = "CREDENTIALS"
)

type envelope struct {
	Event         string `json:"event"`
	ParticipantID string `json:"participantId,omitempty"`
}

func (e envelope) ContextKey() string { return e.ParticipantID }

// AckAudio acknowledges received audio when acks are enabled.
type AckAudio struct {
	envelope
	Details string `json:"details,omitempty"`
}

// ConnectAck confirms the service accepted the credentials.
type ConnectAck struct {
	envelope
	SessionID string `json:"sessionId,omitempty"`
}

// Result carries partial or final transcriptions.
type Result struct {
	envelope
	Transcriptions []Transcription `json:"transcriptions"`
}

type Transcription struct {
	Transcription   string  `json:"transcription"`
	IsFinal         bool    `json:"isFinal"`
	StartTimeInMs   int64   `json:"startTimeInMs"`
	EndTimeInMs     int64   `json:"endTimeInMs"`
	Confidence      float64 `json:"confidence"`
	TrailingSilence int64   `json:"trailingSilence,omitempty"`
	Tokens          []Token `json:"tokens,omitempty"`
}

type Token struct {
	Token         string  `json:"token"`
	StartTimeInMs int64   `json:"startTimeInMs"`
	EndTimeInMs   int64   `json:"endTimeInMs"`
	Confidence    float64 `json:"confidence"`
	Type          string  `json:"type,omitempty"`
}

// Final reports whether any transcription in r is final.
func (r *Result) Final() bool {
	for _, t := range r.Transcriptions {
		if t.IsFinal {
			return true
		}
	}
	return false
}

// ErrorEvent is an error reported by the service. The service usually
// closes the socket right after.
type ErrorEvent struct {
	envelope
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *ErrorEvent) Error() string {
	return fmt.Sprintf("speech service error %d: %s", e.Code, e.Message)
}

// DecodeEvent decodes one server event. A missing or unknown discriminant
// is a ProtocolDecodeError.
func DecodeEvent(data []byte) (any, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, decodeErr("invalid json", data, err)
	}

	var target any
	switch env.Event {
	case "":
		return nil, decodeErr("missing event discriminant", data, nil)
	case EventAckAudio:
		target = &AckAudio{}
	case EventConnect:
		target = &ConnectAck{}
	case EventResult:
		target = &Result{}
	case EventError:
		target = &ErrorEvent{}
	default:
		return nil, decodeErr(fmt.Sprintf("unknown event %q", env.Event), data, nil)
	}
	if err := json.Unmarshal(data, target); err != nil {
		return nil, decodeErr("invalid "+env.Event+" payload", data, err)
	}
	return target, nil
}

// authMessage is the first message on every connection.
type authMessage struct {
	AuthenticationType string            `json:"authenticationType"`
	Headers            map[string]string `json:"headers"`
	CompartmentID      string            `json:"compartmentId"`
}

func encodeAuth(headers map[string]string, compartmentID string) ([]byte, error) {
	return json.Marshal(authMessage{
		AuthenticationType: authCredentials,
		Headers:            headers,
		CompartmentID:      compartmentID,
	})
}

func encodeFinalResultRequest() []byte {
	data, _ := json.Marshal(envelope{Event: EventSendFinalResult})
	return data
}

func decodeErr(detail string, raw []byte, err error) error {
	return &errorsx.ProtocolDecodeError{Binding: binding, Detail: detail, Raw: raw, Err: err}
}
