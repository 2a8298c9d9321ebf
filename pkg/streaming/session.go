package streaming

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/harunnryd/confgate/pkg/errorsx"
	"github.com/harunnryd/confgate/pkg/logging"
	"github.com/harunnryd/confgate/pkg/metrics"
	"github.com/harunnryd/confgate/pkg/redact"
)

const defaultSendBuffer = 256

// Config describes one logical connection.
type Config struct {
	Endpoint       string
	Header         http.Header
	ConnectTimeout time.Duration
	// Heartbeat holds the local default intervals. For bindings that do
	// not negotiate it is used as is.
	Heartbeat  Contract
	SendBuffer int
	// Key is the dispatcher key for lifecycle callbacks and for messages
	// that carry no context key of their own.
	Key string
}

// Termination describes how a connection ended.
type Termination struct {
	Local  bool
	Code   int
	Reason string
	Err    error
}

// Hooks let a supervisor observe a session. They run after the listener
// was notified.
type Hooks struct {
	OnReady      func()
	OnTerminated func(Termination)
}

type Option func(*Session)

func WithScheduler(s *Scheduler) Option { return func(sess *Session) { sess.sched = s } }

func WithLogger(l *slog.Logger) Option { return func(sess *Session) { sess.baseLogger = l } }

func WithObserver(o metrics.Observer) Option { return func(sess *Session) { sess.obs = metrics.OrNoop(o) } }

func WithHooks(h Hooks) Option { return func(sess *Session) { sess.hooks = h } }

// Session drives one streaming connection through
// Disconnected → Connecting → Authenticating → Ready → Closing →
// Disconnected, with Failed reachable from every live state. A session in
// a terminal state may Connect again; each attempt is a new generation
// with its own socket, send queue and heartbeat monitor.
type Session struct {
	id         string
	cfg        Config
	proto      Protocol
	dialer     Dialer
	dispatcher *Dispatcher
	sched      *Scheduler
	obs        metrics.Observer
	hooks      Hooks
	baseLogger *slog.Logger
	logger     *slog.Logger

	mu        sync.Mutex
	state     State
	gen       *generation
	authTimer *Task
}

// generation is the per-connection part of a session.
type generation struct {
	conn    Conn
	sendCh  chan Outbound
	done    chan struct{}
	monitor *Monitor
	once    sync.Once
	local   atomic.Bool
}

func NewSession(cfg Config, proto Protocol, dialer Dialer, dispatcher *Dispatcher, opts ...Option) *Session {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = defaultSendBuffer
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	s := &Session{
		id:         uuid.NewString(),
		cfg:        cfg,
		proto:      proto,
		dialer:     dialer,
		dispatcher: dispatcher,
		obs:        metrics.NoopObserver{},
		state:      StateDisconnected,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.dispatcher == nil {
		s.dispatcher = NewDispatcher(s.baseLogger)
	}
	if s.sched == nil {
		s.sched = NewScheduler(nil, 1, s.baseLogger)
	}
	s.logger = logging.NewComponentLogger(s.baseLogger, proto.Name()+"_session").With(
		slog.String("session_id", s.id),
		slog.String("key", cfg.Key))
	return s
}

func (s *Session) ID() string { return s.id }

func (s *Session) Key() string { return s.cfg.Key }

func (s *Session) Endpoint() string { return s.cfg.Endpoint }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Contract returns the heartbeat contract of the current connection.
func (s *Session) Contract() Contract {
	s.mu.Lock()
	gen := s.gen
	s.mu.Unlock()
	if gen == nil {
		return Contract{}
	}
	return gen.monitor.Contract()
}

// LastActivity is the time of the last inbound message on the current
// connection.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	gen := s.gen
	s.mu.Unlock()
	if gen == nil {
		return time.Time{}
	}
	return gen.monitor.LastActivity()
}

// Connect opens the transport and sends the handshake. It blocks until the
// transport is open or the connect timeout expires; it is the only
// blocking call of a session.
func (s *Session) Connect(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if !s.state.Terminal() {
		st := s.state
		s.mu.Unlock()
		return fmt.Errorf("%s session %s: connect while %s", s.proto.Name(), s.id, st)
	}
	// A cancelled caller never leaves the terminal state.
	if err := ctx.Err(); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("%s session %s: connect: %w", s.proto.Name(), s.id, err)
	}
	s.setStateLocked(StateConnecting)
	s.mu.Unlock()

	s.logger.Info("session_connecting", slog.String("endpoint", s.cfg.Endpoint))
	if len(s.cfg.Header) > 0 {
		s.logger.Debug("session_dial_headers", slog.Any("headers", redact.Headers(s.cfg.Header)))
	}

	dialCtx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	conn, err := s.dialer.Dial(dialCtx, s.cfg.Endpoint, s.cfg.Header)
	timedOut := errors.Is(dialCtx.Err(), context.DeadlineExceeded)
	cancel()
	if err != nil {
		if timedOut || errors.Is(err, context.DeadlineExceeded) {
			err = &errorsx.ConnectTimeoutError{Endpoint: s.cfg.Endpoint, Timeout: s.cfg.ConnectTimeout, Stage: "dial"}
		} else {
			err = &errorsx.TransportError{Op: "dial", Err: err}
		}
		s.failBeforeOpen(err)
		return err
	}

	handshake, err := s.proto.Handshake()
	if err != nil {
		_ = conn.Close(CloseGoingAway, "authentication failed")
		if !errors.Is(err, errorsx.ErrAuthentication) {
			err = &errorsx.AuthenticationError{Provider: s.proto.Name(), Err: err}
		}
		s.failBeforeOpen(err)
		return err
	}

	gen := &generation{
		conn:    conn,
		sendCh:  make(chan Outbound, s.cfg.SendBuffer),
		done:    make(chan struct{}),
		monitor: NewMonitor(s.proto.Name()+"_heartbeat", s.sched, s.logger),
	}

	s.mu.Lock()
	if s.state != StateConnecting {
		s.mu.Unlock()
		_ = conn.Close(CloseNormal, "closed during connect")
		s.abortConnect()
		return &errorsx.SessionClosedError{Session: s.id, State: StateDisconnected.String()}
	}
	s.gen = gen
	s.setStateLocked(StateAuthenticating)
	s.mu.Unlock()

	go s.writeLoop(gen)
	go s.readLoop(gen)

	for _, out := range handshake {
		if err := gen.enqueue(s.id, out); err != nil {
			s.fail(gen, err)
			return err
		}
	}

	if s.proto.AwaitAck() {
		s.armAuthTimeout(gen)
		return nil
	}
	s.becomeReady(gen, s.cfg.Heartbeat)
	return nil
}

// Send queues out for the socket. It never blocks: a session that is not
// Ready returns SessionClosedError and a full queue returns a
// TransportError.
func (s *Session) Send(out Outbound) error {
	s.mu.Lock()
	st, gen := s.state, s.gen
	s.mu.Unlock()
	if st != StateReady || gen == nil {
		return &errorsx.SessionClosedError{Session: s.id, State: st.String()}
	}
	return gen.enqueue(s.id, out)
}

// Close ends the session locally. It is idempotent and safe from any
// goroutine; heartbeat tasks are cancelled before it returns and the
// listener sees exactly one OnClose.
func (s *Session) Close() error {
	s.mu.Lock()
	switch s.state {
	case StateDisconnected, StateFailed, StateClosing:
		s.mu.Unlock()
		return nil
	case StateConnecting:
		// Connect notices the state change once the dial returns.
		s.setStateLocked(StateClosing)
		s.mu.Unlock()
		s.logger.Info("session_close_during_connect")
		return nil
	}
	gen := s.gen
	s.setStateLocked(StateClosing)
	s.mu.Unlock()

	gen.local.Store(true)
	s.terminate(gen, StateDisconnected, Termination{Local: true, Code: CloseNormal, Reason: "closed locally"})
	return nil
}

func (s *Session) armAuthTimeout(gen *generation) {
	timeout := s.cfg.ConnectTimeout
	task := s.sched.After(s.proto.Name()+"_auth_timeout", timeout, func() {
		// fail cancels this task, so it must not run on the task itself.
		go s.fail(gen, &errorsx.ConnectTimeoutError{Endpoint: s.cfg.Endpoint, Timeout: timeout, Stage: "authenticate"})
	})
	s.mu.Lock()
	if s.gen == gen && s.state == StateAuthenticating {
		s.authTimer = task
		task = nil
	}
	s.mu.Unlock()
	task.Cancel()
}

func (s *Session) becomeReady(gen *generation, contract Contract) {
	s.mu.Lock()
	if s.gen != gen || s.state != StateAuthenticating {
		s.mu.Unlock()
		return
	}
	s.setStateLocked(StateReady)
	auth := s.authTimer
	s.authTimer = nil
	s.mu.Unlock()
	auth.Cancel()

	gen.monitor.Start(contract,
		func() error {
			ka := s.proto.KeepAlive()
			if ka.Empty() {
				return nil
			}
			return gen.enqueue(s.id, ka)
		},
		func(silence time.Duration) {
			s.obs.RecordEvent(s.event(metrics.EventHeartbeatTimeout, float64(silence.Milliseconds())))
			s.fail(gen, &errorsx.TransportError{
				Op:  "heartbeat",
				Err: fmt.Errorf("no peer activity for %s", silence),
			})
		})

	s.logger.Info("session_ready",
		slog.Duration("heartbeat_outgoing", contract.Outgoing),
		slog.Duration("heartbeat_incoming", contract.Incoming))
	s.obs.RecordEvent(s.event(metrics.EventSessionReady, 0))
	s.dispatcher.Notify(s.cfg.Key, func(l Listener) { l.OnOpen() })
	if s.hooks.OnReady != nil {
		s.hooks.OnReady()
	}
}

func (s *Session) readLoop(gen *generation) {
	for {
		kind, data, err := gen.conn.ReadMessage()
		if err != nil {
			s.handleReadError(gen, err)
			return
		}
		gen.monitor.Touch()

		ev, err := s.proto.Decode(kind, data)
		if err != nil {
			s.reportDecodeError(err, data)
			continue
		}
		switch ev.Kind {
		case EventPing:
		case EventConnected:
			s.handleConnected(gen, ev.Proposal)
		case EventMessage:
			if ev.Message != nil {
				s.dispatcher.Dispatch(s.cfg.Key, ev.Message)
			}
		}
	}
}

func (s *Session) handleConnected(gen *generation, proposal Proposal) {
	if s.State() != StateAuthenticating {
		s.logger.Warn("unexpected_connected_ack", slog.String("state", s.State().String()))
		return
	}
	contract := Negotiate(s.cfg.Heartbeat, proposal)
	replies, err := s.proto.OnConnected()
	if err != nil {
		s.fail(gen, err)
		return
	}
	for _, out := range replies {
		if err := gen.enqueue(s.id, out); err != nil {
			s.fail(gen, err)
			return
		}
	}
	s.becomeReady(gen, contract)
}

func (s *Session) reportDecodeError(err error, raw []byte) {
	var de *errorsx.ProtocolDecodeError
	if !errors.As(err, &de) {
		err = &errorsx.ProtocolDecodeError{Binding: s.proto.Name(), Detail: "decode failed", Raw: raw, Err: err}
	}
	s.logger.Warn("decode_error", slog.String("error", err.Error()), slog.Int("size_bytes", len(raw)))
	s.obs.RecordEvent(s.event(metrics.EventDecodeError, 1))
	s.dispatcher.Notify(s.cfg.Key, func(l Listener) { l.OnError(err) })
}

func (s *Session) handleReadError(gen *generation, err error) {
	if gen.local.Load() {
		return
	}
	var pc *PeerClosedError
	if errors.As(err, &pc) {
		s.mu.Lock()
		if s.gen == gen && canTransition(s.state, StateClosing) {
			s.setStateLocked(StateClosing)
		}
		s.mu.Unlock()
		s.terminate(gen, StateDisconnected, Termination{Code: pc.Code, Reason: pc.Reason})
		return
	}
	s.fail(gen, &errorsx.TransportError{Op: "read", Err: err})
}

func (s *Session) writeLoop(gen *generation) {
	for {
		select {
		case <-gen.done:
			return
		case out := <-gen.sendCh:
			if err := gen.conn.WriteMessage(out.Kind, out.Data); err != nil {
				if gen.local.Load() {
					return
				}
				s.fail(gen, &errorsx.TransportError{Op: "write", Err: err})
				return
			}
		}
	}
}

// fail moves gen's connection to Failed.
func (s *Session) fail(gen *generation, err error) {
	s.terminate(gen, StateFailed, Termination{Code: CloseAbnormal, Reason: string(errorsx.Reason(err)), Err: err})
}

// failBeforeOpen handles failures that happen before a generation exists.
func (s *Session) failBeforeOpen(err error) {
	s.mu.Lock()
	if s.state == StateClosing {
		s.mu.Unlock()
		s.abortConnect()
		return
	}
	if s.state != StateConnecting {
		s.mu.Unlock()
		return
	}
	s.setStateLocked(StateFailed)
	s.mu.Unlock()
	s.notifyTerminated(Termination{Code: CloseAbnormal, Reason: string(errorsx.Reason(err)), Err: err})
}

// abortConnect finishes a Close that arrived while Connect was dialing.
func (s *Session) abortConnect() {
	s.mu.Lock()
	if s.state != StateClosing {
		s.mu.Unlock()
		return
	}
	s.setStateLocked(StateDisconnected)
	s.mu.Unlock()
	s.notifyTerminated(Termination{Local: true, Code: CloseNormal, Reason: "closed during connect"})
}

// terminate releases gen exactly once: heartbeat tasks are cancelled
// synchronously, the socket is closed, then the listener and hooks are
// notified.
func (s *Session) terminate(gen *generation, final State, t Termination) {
	gen.once.Do(func() {
		s.mu.Lock()
		var auth *Task
		current := s.gen == gen
		if current {
			if final == StateDisconnected && s.state != StateClosing {
				s.setStateLocked(StateClosing)
			}
			s.setStateLocked(final)
			auth = s.authTimer
			s.authTimer = nil
		}
		s.mu.Unlock()

		gen.monitor.Stop()
		auth.Cancel()
		close(gen.done)
		code := t.Code
		if code == CloseAbnormal {
			code = CloseGoingAway
		}
		_ = gen.conn.Close(code, t.Reason)

		if current {
			s.notifyTerminated(t)
		}
	})
}

func (s *Session) notifyTerminated(t Termination) {
	if t.Err != nil {
		s.logger.Warn("session_failed",
			slog.String("reason", string(errorsx.Reason(t.Err))),
			slog.String("error", t.Err.Error()))
		s.obs.RecordEvent(s.event(metrics.EventSessionFailed, 1))
		s.dispatcher.Notify(s.cfg.Key, func(l Listener) { l.OnError(t.Err) })
	} else {
		s.logger.Info("session_closed",
			slog.Int("code", t.Code),
			slog.String("reason", t.Reason),
			slog.Bool("local", t.Local))
		s.obs.RecordEvent(s.event(metrics.EventSessionClosed, 0))
		s.dispatcher.Notify(s.cfg.Key, func(l Listener) { l.OnClose(t.Code, t.Reason) })
	}
	if s.hooks.OnTerminated != nil {
		s.hooks.OnTerminated(t)
	}
}

func (s *Session) setStateLocked(next State) {
	if !canTransition(s.state, next) {
		s.logger.Debug("unexpected_state_transition",
			slog.String("from", s.state.String()),
			slog.String("to", next.String()))
	}
	s.state = next
}

func (s *Session) event(name string, value float64) metrics.MetricsEvent {
	return metrics.MetricsEvent{
		Name:  name,
		Time:  s.sched.Clock().Now(),
		Value: value,
		Tags: map[string]string{
			"binding":    s.proto.Name(),
			"session_id": s.id,
			"key":        s.cfg.Key,
		},
	}
}

func (g *generation) enqueue(sessionID string, out Outbound) error {
	select {
	case <-g.done:
		return &errorsx.SessionClosedError{Session: sessionID, State: StateDisconnected.String()}
	default:
	}
	select {
	case g.sendCh <- out:
		return nil
	default:
		return &errorsx.TransportError{Op: "send", Err: errorsx.ErrSendQueueFull}
	}
}
