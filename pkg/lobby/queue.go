// Package lobby keeps a conference room subscribed to the visitor queue
// service and moves the room into the conference when the service says it
// is live.
package lobby

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/harunnryd/confgate/pkg/errorsx"
	"github.com/harunnryd/confgate/pkg/logging"
	"github.com/harunnryd/confgate/pkg/metrics"
	"github.com/harunnryd/confgate/pkg/stomp"
	"github.com/harunnryd/confgate/pkg/streaming"
)

const StatusLive = "live"

// Conference is the conference logic notified when a room goes live.
type Conference interface {
	Join(ctx context.Context, room string) error
}

type ConferenceFunc func(ctx context.Context, room string) error

func (f ConferenceFunc) Join(ctx context.Context, room string) error { return f(ctx, room) }

// Notification is the JSON body of a queue MESSAGE.
type Notification struct {
	Status        string `json:"status"`
	RandomDelayMs int64  `json:"randomDelayMs"`
	Position      *int   `json:"position,omitempty"`
}

func (n Notification) Live() bool { return n.Status == StatusLive }

type Config struct {
	Room              string
	Endpoint          string
	Host              string
	TopicPrefix       string
	ConnectTimeout    time.Duration
	Heartbeat         streaming.Contract
	ReconnectMaxDelay time.Duration
	Tokens            stomp.TokenSource
}

// Deps are the shared collaborators of every queue in a gateway.
type Deps struct {
	Dialer     streaming.Dialer
	Dispatcher *streaming.Dispatcher
	// Heartbeats runs session heartbeats; Timer runs reconnect delays and
	// the go-live transition.
	Heartbeats *streaming.Scheduler
	Timer      *streaming.Scheduler
	Conference Conference
	Logger     *slog.Logger
	Observer   metrics.Observer
	// OnNotification receives every decoded notification, live or not.
	OnNotification func(room string, n Notification)
	// Jitter overrides the reconnect delay draw.
	Jitter func(max time.Duration) time.Duration
}

// Queue is one room's subscription.
type Queue struct {
	room       string
	session    *streaming.Session
	supervisor *streaming.Supervisor
	dispatcher *streaming.Dispatcher
	timer      *streaming.Scheduler
	conference Conference
	onNotify   func(string, Notification)
	logger     *slog.Logger
	obs        metrics.Observer

	mu       sync.Mutex
	liveTask *streaming.Task
	live     bool
	stopped  bool
	joined   chan struct{}
	joinErr  error
}

func NewQueue(cfg Config, deps Deps) *Queue {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = stomp.DefaultConnectTimeout
	}
	if deps.Dispatcher == nil {
		deps.Dispatcher = streaming.NewDispatcher(deps.Logger)
	}
	if deps.Heartbeats == nil {
		deps.Heartbeats = streaming.NewScheduler(nil, 1, deps.Logger)
	}
	if deps.Timer == nil {
		deps.Timer = deps.Heartbeats
	}
	q := &Queue{
		room:       cfg.Room,
		dispatcher: deps.Dispatcher,
		timer:      deps.Timer,
		conference: deps.Conference,
		onNotify:   deps.OnNotification,
		logger:     logging.NewComponentLogger(deps.Logger, "lobby").With(slog.String("room", cfg.Room)),
		obs:        metrics.OrNoop(deps.Observer),
		joined:     make(chan struct{}),
	}

	proto := stomp.NewProtocol(stomp.Config{
		Host:        cfg.Host,
		Room:        cfg.Room,
		TopicPrefix: cfg.TopicPrefix,
		Heartbeat:   cfg.Heartbeat,
		Tokens:      cfg.Tokens,
	})
	// The supervisor needs the session and the session needs the
	// supervisor's hooks.
	var sup *streaming.Supervisor
	q.session = streaming.NewSession(streaming.Config{
		Endpoint:       cfg.Endpoint,
		ConnectTimeout: cfg.ConnectTimeout,
		Heartbeat:      cfg.Heartbeat,
		Key:            cfg.Room,
	}, proto, deps.Dialer, deps.Dispatcher,
		streaming.WithScheduler(deps.Heartbeats),
		streaming.WithLogger(deps.Logger),
		streaming.WithObserver(deps.Observer),
		streaming.WithHooks(streaming.Hooks{
			OnReady:      func() { sup.OnReady() },
			OnTerminated: func(t streaming.Termination) { sup.OnTerminated(t) },
		}))
	sup = streaming.NewSupervisor(q.session, deps.Timer, streaming.SupervisorConfig{
		MaxDelay: cfg.ReconnectMaxDelay,
		Jitter:   deps.Jitter,
		Logger:   deps.Logger,
		Observer: deps.Observer,
	})
	q.supervisor = sup
	return q
}

func (q *Queue) Room() string { return q.room }

func (q *Queue) State() streaming.State { return q.session.State() }

func (q *Queue) Session() *streaming.Session { return q.session }

// Live reports whether the go-live notification was received.
func (q *Queue) Live() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.live
}

// Joined is closed once the conference join ran. JoinErr reports its
// result.
func (q *Queue) Joined() <-chan struct{} { return q.joined }

func (q *Queue) JoinErr() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.joinErr
}

// Start subscribes the room. A failed first attempt is returned but the
// supervisor keeps retrying until Stop.
func (q *Queue) Start(ctx context.Context) error {
	q.dispatcher.Register(q.room, q)
	err := q.session.Connect(ctx)
	if err != nil {
		q.logger.Warn("lobby_connect_failed", slog.String("error", err.Error()))
	}
	return err
}

// Stop leaves the queue without joining.
func (q *Queue) Stop() error {
	q.mu.Lock()
	q.stopped = true
	task := q.liveTask
	q.liveTask = nil
	q.mu.Unlock()

	task.Cancel()
	q.supervisor.Stop()
	err := q.session.Close()
	q.dispatcher.Remove(q.room)
	return err
}

func (q *Queue) OnOpen() {
	q.logger.Info("lobby_subscribed", slog.String("session_id", q.session.ID()))
}

func (q *Queue) OnMessage(msg streaming.Message) {
	switch m := msg.(type) {
	case *stomp.Message:
		q.handleNotification(m)
	case *stomp.ServerError:
		q.logger.Warn("lobby_server_error", slog.String("error", m.Error()))
	case *stomp.Receipt:
		q.logger.Debug("lobby_receipt", slog.String("receipt_id", m.Header(stomp.HeaderReceiptID)))
	}
}

func (q *Queue) OnError(err error) {
	q.logger.Warn("lobby_session_error",
		slog.String("reason", string(errorsx.Reason(err))),
		slog.String("error", err.Error()))
}

func (q *Queue) OnClose(code int, reason string) {
	q.logger.Info("lobby_session_closed", slog.Int("code", code), slog.String("reason", reason))
}

func (q *Queue) handleNotification(m *stomp.Message) {
	var n Notification
	if err := json.Unmarshal(m.Body, &n); err != nil {
		q.logger.Warn("lobby_notification_invalid",
			slog.String("error", err.Error()),
			slog.Int("size_bytes", len(m.Body)))
		return
	}
	q.logger.Debug("lobby_notification", slog.String("status", n.Status))
	if q.onNotify != nil {
		q.onNotify(q.room, n)
	}
	if n.Live() {
		q.goLive(time.Duration(max(n.RandomDelayMs, 0)) * time.Millisecond)
	}
}

// goLive schedules the one-shot transition: leave the queue without
// reconnecting, then join the conference.
func (q *Queue) goLive(delay time.Duration) {
	q.mu.Lock()
	if q.live || q.stopped {
		q.mu.Unlock()
		return
	}
	q.live = true
	q.mu.Unlock()

	q.logger.Info("lobby_go_live", slog.Duration("delay", delay))
	q.obs.RecordEvent(metrics.MetricsEvent{
		Name:  metrics.EventGoLive,
		Time:  q.timer.Clock().Now(),
		Value: float64(delay.Milliseconds()),
		Tags:  map[string]string{"room": q.room},
	})

	task := q.timer.After("go_live", delay, q.completeLive)
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		task.Cancel()
		return
	}
	q.liveTask = task
	q.mu.Unlock()
}

func (q *Queue) completeLive() {
	q.mu.Lock()
	q.liveTask = nil
	q.mu.Unlock()

	q.supervisor.Stop()
	_ = q.session.Close()
	q.dispatcher.Remove(q.room)

	// The timer is shared by every room; the join runs off it.
	go q.join()
}

func (q *Queue) join() {
	var err error
	if q.conference != nil {
		err = q.conference.Join(context.Background(), q.room)
	}
	if err != nil {
		err = errorsx.Wrap(err, errorsx.ReasonConferenceJoin)
		q.logger.Error("lobby_join_failed", slog.String("error", err.Error()))
	} else {
		q.logger.Info("lobby_joined_conference")
	}
	q.mu.Lock()
	q.joinErr = err
	q.mu.Unlock()
	close(q.joined)
}
