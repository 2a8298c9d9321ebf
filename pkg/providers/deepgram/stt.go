// Package deepgram is a transcription backend for Deepgram live
// streaming.
package deepgram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/harunnryd/confgate/pkg/errorsx"
	"github.com/harunnryd/confgate/pkg/logging"
	"github.com/harunnryd/confgate/pkg/redact"
	"github.com/harunnryd/confgate/pkg/streaming"
	"github.com/harunnryd/confgate/pkg/transcription"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	client "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
)

type Params struct {
	EchoCancellation bool
	UtteranceEndMS   int
}

type Config struct {
	APIKey     string
	Model      string
	Language   string
	SampleRate int
	Encoding   string
	Interim    bool
	VADEvents  bool
	Params     Params
	Logger     *slog.Logger
}

// liveClient is the part of the SDK websocket client a stream drives.
type liveClient interface {
	Connect() bool
	Stream(r io.Reader) error
	Stop()
}

type dialFunc func(ctx context.Context, apiKey string, copts *interfaces.ClientOptions, topts *interfaces.LiveTranscriptionOptions, cb msginterfaces.LiveMessageCallback) (liveClient, error)

func dialSDK(ctx context.Context, apiKey string, copts *interfaces.ClientOptions, topts *interfaces.LiveTranscriptionOptions, cb msginterfaces.LiveMessageCallback) (liveClient, error) {
	return client.NewWSUsingCallback(ctx, apiKey, copts, topts, cb)
}

type Backend struct {
	cfg    Config
	logger *slog.Logger
	dial   dialFunc
}

func New(cfg Config) *Backend {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Encoding == "" {
		cfg.Encoding = "linear16"
	}
	return &Backend{
		cfg:    cfg,
		logger: logging.NewComponentLogger(cfg.Logger, "deepgram_stt"),
		dial:   dialSDK,
	}
}

func (b *Backend) Name() string { return "deepgram" }

func (b *Backend) Open(participant string, sink transcription.Sink) (transcription.Stream, error) {
	if b.cfg.APIKey == "" {
		return nil, &errorsx.AuthenticationError{Provider: "deepgram", Err: errors.New("api key is required")}
	}
	return &Stream{
		cfg:         b.cfg,
		dial:        b.dial,
		participant: participant,
		sink:        sink,
		logger:      b.logger.With(slog.String("participant", participant)),
	}, nil
}

// Stream is one participant's Deepgram connection. Audio is written into a
// pipe the SDK reads from.
type Stream struct {
	cfg         Config
	dial        dialFunc
	participant string
	sink        transcription.Sink
	logger      *slog.Logger

	mu         sync.Mutex
	dg         liveClient
	cancel     context.CancelFunc
	pipeWriter *io.PipeWriter
	metaLogged bool
	closeOnce  sync.Once
}

func (s *Stream) Connect(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	// The SDK keeps using its context for the whole stream.
	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	pipeReader, pipeWriter := io.Pipe()

	topts := &interfaces.LiveTranscriptionOptions{
		Model:          s.cfg.Model,
		Language:       s.cfg.Language,
		Encoding:       s.cfg.Encoding,
		SampleRate:     s.cfg.SampleRate,
		InterimResults: s.cfg.Interim,
		VadEvents:      s.cfg.VADEvents,
		SmartFormat:    true,
	}
	if s.cfg.Params.UtteranceEndMS > 0 {
		topts.UtteranceEndMs = fmt.Sprintf("%d", s.cfg.Params.UtteranceEndMS)
	}
	// Echo cancellation has no option in this SDK version.
	if s.cfg.Params.EchoCancellation {
		s.logger.Debug("echo_cancellation_unsupported")
	}

	s.logger.Info("deepgram_connecting",
		slog.String("model", s.cfg.Model),
		slog.Bool("vad_events", s.cfg.VADEvents),
		slog.Int("sample_rate", s.cfg.SampleRate))

	dg, err := s.dial(streamCtx, s.cfg.APIKey, &interfaces.ClientOptions{EnableKeepAlive: true}, topts, &callback{s: s})
	if err != nil {
		cancel()
		return &errorsx.TransportError{Op: "dial", Err: err}
	}
	if !dg.Connect() {
		cancel()
		return &errorsx.TransportError{Op: "dial", Err: errors.New("deepgram connection failed")}
	}

	s.mu.Lock()
	s.dg, s.cancel, s.pipeWriter = dg, cancel, pipeWriter
	s.mu.Unlock()

	go func() {
		if err := dg.Stream(pipeReader); err != nil && streamCtx.Err() == nil {
			s.logger.Error("deepgram_stream_error", slog.String("error", err.Error()))
			s.sink.Failed(&errorsx.TransportError{Op: "stream", Err: err})
		}
	}()
	return nil
}

func (s *Stream) SendAudio(chunk []byte) error {
	s.mu.Lock()
	w := s.pipeWriter
	s.mu.Unlock()
	if w == nil {
		return &errorsx.SessionClosedError{Session: s.participant, State: streaming.StateDisconnected.String()}
	}
	if _, err := w.Write(chunk); err != nil {
		return &errorsx.TransportError{Op: "send", Err: err}
	}
	return nil
}

// RequestFinal asks Deepgram to flush pending results when the SDK client
// supports it.
func (s *Stream) RequestFinal() error {
	s.mu.Lock()
	dg := s.dg
	s.mu.Unlock()
	if dg == nil {
		return &errorsx.SessionClosedError{Session: s.participant, State: streaming.StateDisconnected.String()}
	}
	if f, ok := dg.(interface{ Finalize() error }); ok {
		return f.Finalize()
	}
	return nil
}

func (s *Stream) Close() error {
	s.mu.Lock()
	dg, cancel, w := s.dg, s.cancel, s.pipeWriter
	s.dg, s.cancel, s.pipeWriter = nil, nil, nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if w != nil {
		_ = w.Close()
	}
	if dg != nil {
		dg.Stop()
		s.closed("closed locally")
	}
	return nil
}

func (s *Stream) closed(reason string) {
	s.closeOnce.Do(func() {
		s.logger.Info("deepgram_connection_closed", slog.String("reason", reason))
		s.sink.Closed(streaming.CloseNormal, reason)
	})
}

func (s *Stream) boundary(reason string) {
	if b, ok := s.sink.(transcription.BoundarySink); ok {
		b.Boundary(reason)
	}
}

type callback struct {
	s *Stream
}

func (c *callback) Open(*msginterfaces.OpenResponse) error {
	c.s.logger.Info("deepgram_connection_opened")
	c.s.sink.Opened()
	return nil
}

func (c *callback) Message(mr *msginterfaces.MessageResponse) error {
	if len(mr.Channel.Alternatives) == 0 {
		return nil
	}
	alt := mr.Channel.Alternatives[0]
	if alt.Transcript == "" {
		return nil
	}
	final := mr.IsFinal || mr.SpeechFinal
	c.s.logger.Debug("deepgram_transcript",
		slog.String("transcript", redact.Text(alt.Transcript)),
		slog.Bool("is_final", final))
	c.s.sink.Transcript(transcription.Transcript{
		Participant: c.s.participant,
		Text:        alt.Transcript,
		Final:       final,
		Confidence:  alt.Confidence,
	})
	return nil
}

func (c *callback) Metadata(md *msginterfaces.MetadataResponse) error {
	c.s.mu.Lock()
	first := !c.s.metaLogged
	c.s.metaLogged = true
	c.s.mu.Unlock()
	if first {
		c.s.logger.Info("deepgram_metadata_received", slog.String("request_id", md.RequestID))
	}
	return nil
}

func (c *callback) SpeechStarted(*msginterfaces.SpeechStartedResponse) error {
	c.s.logger.Debug("deepgram_speech_started")
	c.s.boundary("speech_started")
	return nil
}

func (c *callback) UtteranceEnd(*msginterfaces.UtteranceEndResponse) error {
	c.s.logger.Debug("deepgram_utterance_end", slog.Int("utterance_end_ms", c.s.cfg.Params.UtteranceEndMS))
	c.s.boundary("utterance_end")
	return nil
}

func (c *callback) Close(*msginterfaces.CloseResponse) error {
	c.s.closed("closed by deepgram")
	return nil
}

func (c *callback) Error(er *msginterfaces.ErrorResponse) error {
	c.s.logger.Error("deepgram_error",
		slog.String("error_code", er.ErrCode),
		slog.String("error_message", er.ErrMsg))
	err := fmt.Errorf("deepgram error %s: %s", er.ErrCode, er.ErrMsg)
	c.s.sink.Failed(errorsx.Wrap(err, errorsx.ReasonTranscriptionRemote))
	return nil
}

func (c *callback) UnhandledEvent(data []byte) error {
	c.s.logger.Debug("deepgram_unhandled_event", slog.Int("size_bytes", len(data)))
	return nil
}

var (
	_ transcription.Backend             = (*Backend)(nil)
	_ transcription.Stream              = (*Stream)(nil)
	_ msginterfaces.LiveMessageCallback = (*callback)(nil)
)
