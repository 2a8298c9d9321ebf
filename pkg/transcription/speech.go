package transcription

import (
	"context"
	"log/slog"

	"github.com/harunnryd/confgate/pkg/errorsx"
	"github.com/harunnryd/confgate/pkg/logging"
	"github.com/harunnryd/confgate/pkg/speech"
	"github.com/harunnryd/confgate/pkg/streaming"
)

// SpeechBackend streams through the speech service binding. Results of
// every participant are routed through one shared dispatcher.
type SpeechBackend struct {
	cfg        speech.Config
	dialer     streaming.Dialer
	dispatcher *streaming.Dispatcher
	opts       []streaming.Option
	logger     *slog.Logger
}

// NewSpeechBackend creates a backend. cfg is the template for every
// participant; its Participant field is ignored.
func NewSpeechBackend(cfg speech.Config, dialer streaming.Dialer, dispatcher *streaming.Dispatcher, opts ...streaming.Option) *SpeechBackend {
	if dispatcher == nil {
		dispatcher = streaming.NewDispatcher(cfg.Logger)
	}
	return &SpeechBackend{
		cfg:        cfg,
		dialer:     dialer,
		dispatcher: dispatcher,
		opts:       opts,
		logger:     logging.NewComponentLogger(cfg.Logger, "speech_backend"),
	}
}

func (b *SpeechBackend) Name() string { return "speech" }

func (b *SpeechBackend) Dispatcher() *streaming.Dispatcher { return b.dispatcher }

func (b *SpeechBackend) Open(participant string, sink Sink) (Stream, error) {
	cfg := b.cfg
	cfg.Participant = participant
	client, err := speech.NewClient(cfg, b.dialer, b.dispatcher, b.opts...)
	if err != nil {
		return nil, err
	}
	b.dispatcher.Register(participant, &speechListener{
		participant: participant,
		sink:        sink,
		logger:      b.logger.With(slog.String("participant", participant)),
	})
	return &speechStream{client: client, dispatcher: b.dispatcher}, nil
}

type speechStream struct {
	client     *speech.Client
	dispatcher *streaming.Dispatcher
}

func (s *speechStream) Connect(ctx context.Context) error { return s.client.Connect(ctx) }

func (s *speechStream) SendAudio(chunk []byte) error { return s.client.SendAudio(chunk) }

func (s *speechStream) RequestFinal() error { return s.client.RequestFinalResult() }

// Close closes the session first so the listener still sees OnClose.
func (s *speechStream) Close() error {
	err := s.client.Close()
	s.dispatcher.Remove(s.client.Participant())
	return err
}

// speechListener adapts speech events to a Sink.
type speechListener struct {
	participant string
	sink        Sink
	logger      *slog.Logger
}

func (l *speechListener) OnOpen() { l.sink.Opened() }

func (l *speechListener) OnMessage(msg streaming.Message) {
	switch m := msg.(type) {
	case *speech.Result:
		for _, tr := range m.Transcriptions {
			l.sink.Transcript(Transcript{
				Participant: l.participant,
				Text:        tr.Transcription,
				Final:       tr.IsFinal,
				Confidence:  tr.Confidence,
				StartMs:     tr.StartTimeInMs,
				EndMs:       tr.EndTimeInMs,
			})
		}
	case *speech.ErrorEvent:
		l.sink.Failed(errorsx.Wrap(m, errorsx.ReasonTranscriptionRemote))
	case *speech.ConnectAck:
		l.logger.Debug("speech_connect_ack", slog.String("speech_session_id", m.SessionID))
	case *speech.AckAudio:
		l.logger.Debug("speech_audio_ack", slog.String("details", m.Details))
	}
}

func (l *speechListener) OnError(err error) { l.sink.Failed(err) }

func (l *speechListener) OnClose(code int, reason string) { l.sink.Closed(code, reason) }
