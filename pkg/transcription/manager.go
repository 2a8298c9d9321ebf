package transcription

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/harunnryd/confgate/pkg/errorsx"
	"github.com/harunnryd/confgate/pkg/frames"
	"github.com/harunnryd/confgate/pkg/logging"
	"github.com/harunnryd/confgate/pkg/metrics"
	"github.com/harunnryd/confgate/pkg/redact"
	"go.uber.org/multierr"
)

const defaultResultBuffer = 256

type ManagerOptions struct {
	Room         string
	ResultBuffer int
	Logger       *slog.Logger
	Observer     metrics.Observer
}

// Manager owns the transcription streams of one conference. A stream that
// fails is removed; the caller may Start it again.
type Manager struct {
	backend Backend
	room    string
	logger  *slog.Logger
	obs     metrics.Observer
	pts     *frames.PTSGen

	mu      sync.Mutex
	streams map[string]*entry
	out     chan frames.Frame
	closed  bool
}

type entry struct {
	m           *Manager
	participant string
	stream      Stream
}

func NewManager(backend Backend, opts ManagerOptions) *Manager {
	if opts.ResultBuffer <= 0 {
		opts.ResultBuffer = defaultResultBuffer
	}
	return &Manager{
		backend: backend,
		room:    opts.Room,
		logger:  logging.NewComponentLogger(opts.Logger, "transcription").With(slog.String("backend", backend.Name())),
		obs:     metrics.OrNoop(opts.Observer),
		pts:     frames.NewPTSGen(),
		streams: make(map[string]*entry),
		out:     make(chan frames.Frame, opts.ResultBuffer),
	}
}

// Results delivers transcripts and stream lifecycle frames. It is closed
// by Close.
func (m *Manager) Results() <-chan frames.Frame { return m.out }

// Start opens participant's stream. Starting a participant that already
// streams is a no-op.
func (m *Manager) Start(ctx context.Context, participant string) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return &errorsx.SessionClosedError{Session: participant, State: "manager closed"}
	}
	if _, ok := m.streams[participant]; ok {
		m.mu.Unlock()
		return nil
	}
	e := &entry{m: m, participant: participant}
	m.streams[participant] = e
	m.mu.Unlock()

	stream, err := m.backend.Open(participant, e)
	if err != nil {
		m.remove(e)
		return fmt.Errorf("open %s stream for %s: %w", m.backend.Name(), participant, err)
	}
	m.mu.Lock()
	e.stream = stream
	current := m.tracked(e)
	m.mu.Unlock()
	if !current {
		_ = stream.Close()
		return &errorsx.SessionClosedError{Session: participant, State: "stopped while opening"}
	}

	if err := stream.Connect(ctx); err != nil {
		m.remove(e)
		_ = stream.Close()
		return err
	}
	m.mu.Lock()
	current = m.tracked(e)
	m.mu.Unlock()
	if !current {
		_ = stream.Close()
		return &errorsx.SessionClosedError{Session: participant, State: "stopped while connecting"}
	}
	m.logger.Info("transcription_started", slog.String("participant", participant))
	return nil
}

// tracked reports whether e is still the live entry of its participant.
// m.mu must be held.
func (m *Manager) tracked(e *entry) bool {
	return !m.closed && m.streams[e.participant] == e
}

// SendAudio forwards one audio frame of participant. It never blocks on
// the network.
func (m *Manager) SendAudio(participant string, frame frames.AudioFrame) error {
	stream, err := m.stream(participant)
	if err != nil {
		return err
	}
	if err := stream.SendAudio(frame.RawPayload()); err != nil {
		return errorsx.Wrap(err, errorsx.ReasonTranscriptionSend)
	}
	return nil
}

// Finalize asks participant's stream to finalize pending partials.
func (m *Manager) Finalize(participant string) error {
	stream, err := m.stream(participant)
	if err != nil {
		return err
	}
	return stream.RequestFinal()
}

// Stop closes participant's stream.
func (m *Manager) Stop(participant string) error {
	m.mu.Lock()
	e, ok := m.streams[participant]
	var stream Stream
	if ok {
		delete(m.streams, participant)
		stream = e.stream
	}
	m.mu.Unlock()
	if stream == nil {
		return nil
	}
	m.pts.Forget(participant)
	return stream.Close()
}

// Participants returns the participants with an open stream, sorted.
func (m *Manager) Participants() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.streams))
	for p := range m.streams {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Close stops every stream and closes Results.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	streams := make([]Stream, 0, len(m.streams))
	for _, e := range m.streams {
		if e.stream != nil {
			streams = append(streams, e.stream)
		}
	}
	m.streams = make(map[string]*entry)
	m.mu.Unlock()

	var err error
	for _, stream := range streams {
		err = multierr.Append(err, stream.Close())
	}

	m.mu.Lock()
	m.closed = true
	close(m.out)
	m.mu.Unlock()
	return err
}

func (m *Manager) stream(participant string) (Stream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.streams[participant]
	if !ok || e.stream == nil {
		return nil, &errorsx.SessionClosedError{Session: participant, State: "not streaming"}
	}
	return e.stream, nil
}

func (m *Manager) remove(e *entry) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.streams[e.participant] != e {
		return false
	}
	delete(m.streams, e.participant)
	return true
}

func (m *Manager) emit(f frames.Frame) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	select {
	case m.out <- f:
	default:
		m.logger.Warn("transcription_results_full", slog.String("kind", string(f.Kind())))
		m.obs.RecordEvent(metrics.MetricsEvent{
			Name:  metrics.EventMessageDropped,
			Time:  time.Now(),
			Value: 1,
			Tags:  map[string]string{"room": m.room, "reason": "results_full"},
		})
	}
}

func (m *Manager) meta(participant string, extra map[string]string) map[string]string {
	meta := map[string]string{
		frames.MetaParticipant: participant,
		frames.MetaSource:      m.backend.Name(),
	}
	if m.room != "" {
		meta[frames.MetaRoom] = m.room
	}
	for k, v := range extra {
		meta[k] = v
	}
	return meta
}

func (e *entry) Opened() {
	m := e.m
	m.emit(frames.NewSystemFrame(e.participant, m.pts.Next(e.participant), frames.SystemStreamOpened, m.meta(e.participant, nil)))
}

func (e *entry) Transcript(t Transcript) {
	m := e.m
	if t.Text == "" {
		return
	}
	final := strconv.FormatBool(t.Final)
	m.logger.Debug("transcript_received",
		slog.String("participant", e.participant),
		slog.String("transcript", redact.Text(t.Text)),
		slog.Bool("is_final", t.Final))

	m.emit(frames.NewTextFrame(e.participant, m.pts.Next(e.participant), t.Text, m.meta(e.participant, map[string]string{
		frames.MetaIsFinal:    final,
		frames.MetaConfidence: strconv.FormatFloat(t.Confidence, 'f', 3, 64),
		frames.MetaStartMs:    strconv.FormatInt(t.StartMs, 10),
		frames.MetaEndMs:      strconv.FormatInt(t.EndMs, 10),
	})))
	if t.Final {
		m.emit(frames.NewControlFrame(e.participant, m.pts.Next(e.participant), frames.ControlFlush,
			m.meta(e.participant, map[string]string{frames.MetaReason: "final_result"})))
	}
}

func (e *entry) Boundary(reason string) {
	m := e.m
	m.emit(frames.NewControlFrame(e.participant, m.pts.Next(e.participant), frames.ControlFlush,
		m.meta(e.participant, map[string]string{frames.MetaReason: reason})))
}

// Failed removes the stream when err ended it; other errors are only
// logged.
func (e *entry) Failed(err error) {
	m := e.m
	reason := string(errorsx.Reason(err))
	if !errorsx.IsFatal(err) {
		m.logger.Warn("transcription_error",
			slog.String("participant", e.participant),
			slog.String("reason", reason),
			slog.String("error", err.Error()))
		return
	}
	if !m.remove(e) {
		return
	}
	m.logger.Warn("transcription_failed",
		slog.String("participant", e.participant),
		slog.String("reason", reason),
		slog.String("error", err.Error()))
	m.emit(frames.NewSystemFrame(e.participant, m.pts.Next(e.participant), frames.SystemStreamFailed,
		m.meta(e.participant, map[string]string{frames.MetaReason: reason, frames.MetaError: err.Error()})))
}

func (e *entry) Closed(code int, reason string) {
	m := e.m
	m.remove(e)
	m.logger.Info("transcription_closed",
		slog.String("participant", e.participant),
		slog.Int("code", code),
		slog.String("reason", reason))
	m.emit(frames.NewSystemFrame(e.participant, m.pts.Next(e.participant), frames.SystemStreamClosed,
		m.meta(e.participant, map[string]string{frames.MetaReason: reason})))
}
