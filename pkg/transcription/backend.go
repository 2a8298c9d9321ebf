// Package transcription runs one realtime transcription stream per
// conference participant and turns their results into text frames.
package transcription

import (
	"context"
)

// Transcript is one recognized segment.
type Transcript struct {
	Participant string
	Text        string
	Final       bool
	Confidence  float64
	StartMs     int64
	EndMs       int64
}

// Sink receives the events of one stream. Calls arrive on the stream's
// own goroutines.
type Sink interface {
	Opened()
	Transcript(t Transcript)
	Failed(err error)
	Closed(code int, reason string)
}

// BoundarySink is implemented by sinks that accept end of utterance hints
// from services with their own voice activity detection.
type BoundarySink interface {
	Boundary(reason string)
}

// Stream is one participant's connection to a transcription service.
type Stream interface {
	Connect(ctx context.Context) error
	SendAudio(chunk []byte) error
	// RequestFinal asks the service to finalize pending partial results.
	RequestFinal() error
	Close() error
}

// Backend opens streams for one transcription service.
type Backend interface {
	Name() string
	Open(participant string, sink Sink) (Stream, error)
}
