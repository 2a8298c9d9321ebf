// Package mock is a scripted transcription backend for local runs and
// tests: the first audio chunk of a stream produces a fixed transcript.
package mock

import (
	"context"
	"sync"

	"github.com/harunnryd/confgate/pkg/errorsx"
	"github.com/harunnryd/confgate/pkg/streaming"
	"github.com/harunnryd/confgate/pkg/transcription"
)

type Config struct {
	Transcript        string
	InterimTranscript string
	EmitInterim       bool
	EmitVAD           bool
	EmitUtteranceEnd  bool
}

type Backend struct {
	cfg Config
}

func New(cfg Config) *Backend {
	if cfg.Transcript == "" {
		cfg.Transcript = "mock transcript"
	}
	return &Backend{cfg: cfg}
}

func (b *Backend) Name() string { return "mock" }

func (b *Backend) Open(participant string, sink transcription.Sink) (transcription.Stream, error) {
	return &Stream{cfg: b.cfg, participant: participant, sink: sink}, nil
}

type Stream struct {
	cfg         Config
	participant string
	sink        transcription.Sink

	mu      sync.Mutex
	started bool
	emitted bool
}

func (s *Stream) Connect(context.Context) error {
	s.mu.Lock()
	s.started = true
	s.mu.Unlock()
	s.sink.Opened()
	return nil
}

func (s *Stream) SendAudio([]byte) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return &errorsx.SessionClosedError{Session: s.participant, State: streaming.StateDisconnected.String()}
	}
	if s.emitted {
		s.mu.Unlock()
		return nil
	}
	s.emitted = true
	s.mu.Unlock()

	if s.cfg.EmitVAD {
		s.boundary("speech_started")
	}
	if s.cfg.EmitInterim {
		interim := s.cfg.InterimTranscript
		if interim == "" {
			interim = s.cfg.Transcript
		}
		s.sink.Transcript(transcription.Transcript{Participant: s.participant, Text: interim})
	}
	s.sink.Transcript(transcription.Transcript{Participant: s.participant, Text: s.cfg.Transcript, Final: true, Confidence: 1})
	if s.cfg.EmitUtteranceEnd {
		s.boundary("utterance_end")
	}
	return nil
}

// RequestFinal re-arms the script so the next chunk emits again.
func (s *Stream) RequestFinal() error {
	s.mu.Lock()
	s.emitted = false
	s.mu.Unlock()
	return nil
}

func (s *Stream) Close() error {
	s.mu.Lock()
	was := s.started
	s.started = false
	s.mu.Unlock()
	if was {
		s.sink.Closed(streaming.CloseNormal, "closed locally")
	}
	return nil
}

func (s *Stream) boundary(reason string) {
	if b, ok := s.sink.(transcription.BoundarySink); ok {
		b.Boundary(reason)
	}
}

var _ transcription.Backend = (*Backend)(nil)
