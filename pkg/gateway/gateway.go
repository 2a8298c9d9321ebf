// Package gateway assembles the lobby queues and the transcription
// manager of one process around shared schedulers and dispatchers.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/harunnryd/confgate/pkg/clock"
	"github.com/harunnryd/confgate/pkg/configutil"
	"github.com/harunnryd/confgate/pkg/credentials"
	"github.com/harunnryd/confgate/pkg/lobby"
	"github.com/harunnryd/confgate/pkg/logging"
	"github.com/harunnryd/confgate/pkg/metrics"
	"github.com/harunnryd/confgate/pkg/observers"
	"github.com/harunnryd/confgate/pkg/redact"
	"github.com/harunnryd/confgate/pkg/stomp"
	"github.com/harunnryd/confgate/pkg/streaming"
	"github.com/harunnryd/confgate/pkg/transcription"
	"go.uber.org/multierr"
)

var (
	ErrLobbyDisabled = errors.New("gateway: lobby is disabled")
	ErrClosed        = errors.New("gateway: closed")
)

type Options struct {
	Config     Config
	Dialer     streaming.Dialer
	Clock      clock.Clock
	Conference lobby.Conference
	Backends   *BackendRegistry
	// Tokens overrides the JWT source built from lobby.token.
	Tokens         stomp.TokenSource
	Logger         *slog.Logger
	Observer       metrics.Observer
	Jitter         func(max time.Duration) time.Duration
	OnNotification func(room string, n lobby.Notification)
}

type Gateway struct {
	cfg        Config
	logger     *slog.Logger
	obs        metrics.Observer
	async      *metrics.AsyncObserver
	jsonl      *metrics.JSONLObserver
	heartbeats *streaming.Scheduler
	timer      *streaming.Scheduler
	lobbyDeps  lobby.Deps
	tokens     stomp.TokenSource
	manager    *transcription.Manager

	mu     sync.Mutex
	queues map[string]*lobby.Queue
	closed bool
}

func New(opts Options) (*Gateway, error) {
	cfg := opts.Config
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Dialer == nil {
		opts.Dialer = streaming.NewWebsocketDialer()
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Backends == nil {
		opts.Backends = DefaultBackends()
	}
	redact.SetEnabled(cfg.Privacy.RedactPII)

	g := &Gateway{
		cfg:    cfg,
		logger: logging.NewComponentLogger(logger, "gateway"),
		queues: make(map[string]*lobby.Queue),
	}

	sinks := []metrics.Observer{observers.NewLoggerObserver(logging.NewComponentLogger(logger, "metrics"))}
	if opts.Observer != nil {
		sinks = append(sinks, opts.Observer)
	}
	if cfg.Observability.MetricsFile != "" {
		f, err := os.OpenFile(cfg.Observability.MetricsFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open metrics file: %w", err)
		}
		g.jsonl = metrics.NewJSONLObserver(f)
		g.async = metrics.NewAsyncObserver(g.jsonl, cfg.Observability.MetricsBuffer)
		sinks = append(sinks, g.async)
	}
	g.obs = observers.NewMultiObserver(sinks...)

	g.heartbeats = streaming.NewScheduler(opts.Clock, cfg.Scheduler.HeartbeatWorkers, logger)
	g.timer = streaming.NewScheduler(opts.Clock, cfg.Scheduler.TimerWorkers, logger)

	g.tokens = opts.Tokens
	if g.tokens == nil && cfg.Lobby.Enabled {
		g.tokens = credentials.NewJWTSource(cfg.Lobby.Token.JWT(), credentials.KeyFile(cfg.Lobby.Token.PrivateKeyPath), opts.Clock)
	}
	g.lobbyDeps = lobby.Deps{
		Dialer:         opts.Dialer,
		Dispatcher:     streaming.NewDispatcher(logger),
		Heartbeats:     g.heartbeats,
		Timer:          g.timer,
		Conference:     opts.Conference,
		Logger:         logger,
		Observer:       g.obs,
		OnNotification: opts.OnNotification,
		Jitter:         opts.Jitter,
	}

	if cfg.Transcription.Provider != "" {
		backend, err := opts.Backends.Build(cfg.Transcription.Provider, cfg.Transcription.Settings, BackendDeps{
			Dialer:     opts.Dialer,
			Dispatcher: streaming.NewDispatcher(logger),
			Clock:      opts.Clock,
			Logger:     logger,
			Options: []streaming.Option{
				streaming.WithScheduler(g.heartbeats),
				streaming.WithObserver(g.obs),
			},
		})
		if err != nil {
			g.shutdown()
			return nil, fmt.Errorf("build transcription backend: %w", err)
		}
		g.manager = transcription.NewManager(backend, transcription.ManagerOptions{
			ResultBuffer: cfg.Transcription.ResultBuffer,
			Logger:       logger,
			Observer:     g.obs,
		})
	}
	return g, nil
}

// JoinQueue subscribes room to the lobby queue. Joining a room twice
// returns the existing queue. A failed first connect is returned together
// with the queue, which keeps retrying until LeaveQueue or Drain.
func (g *Gateway) JoinQueue(ctx context.Context, room string) (*lobby.Queue, error) {
	if err := configutil.RequireString(room, "room"); err != nil {
		return nil, err
	}
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil, ErrClosed
	}
	if !g.cfg.Lobby.Enabled {
		g.mu.Unlock()
		return nil, ErrLobbyDisabled
	}
	if q, ok := g.queues[room]; ok {
		g.mu.Unlock()
		return q, nil
	}
	lc := g.cfg.Lobby
	q := lobby.NewQueue(lobby.Config{
		Room:              room,
		Endpoint:          lc.ServiceURL,
		Host:              lc.StompHost(),
		TopicPrefix:       lc.TopicPrefix,
		ConnectTimeout:    configutil.Millis(lc.ConnectTimeoutMS, stomp.DefaultConnectTimeout),
		Heartbeat:         lc.Heartbeat(),
		ReconnectMaxDelay: configutil.Millis(lc.ReconnectMaxDelayMS, streaming.DefaultReconnectMaxDelay),
		Tokens:            g.tokens,
	}, g.lobbyDeps)
	g.queues[room] = q
	g.mu.Unlock()

	g.logger.Info("queue_joining", slog.String("room", room), slog.String("endpoint", lc.ServiceURL))
	return q, q.Start(ctx)
}

// LeaveQueue stops room's queue. Leaving an unknown room is a no-op.
func (g *Gateway) LeaveQueue(room string) error {
	g.mu.Lock()
	q, ok := g.queues[room]
	delete(g.queues, room)
	g.mu.Unlock()
	if !ok {
		return nil
	}
	g.logger.Info("queue_left", slog.String("room", room))
	return q.Stop()
}

func (g *Gateway) Queue(room string) (*lobby.Queue, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	q, ok := g.queues[room]
	return q, ok
}

// Rooms returns the joined rooms, sorted.
func (g *Gateway) Rooms() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, 0, len(g.queues))
	for room := range g.queues {
		out = append(out, room)
	}
	sort.Strings(out)
	return out
}

// Transcriber returns the transcription manager, or nil when no provider
// is configured.
func (g *Gateway) Transcriber() *transcription.Manager { return g.manager }

// Drain closes every queue and transcription stream, then the schedulers.
// It returns early with ctx's error when ctx ends first.
func (g *Gateway) Drain(ctx context.Context) error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil
	}
	g.closed = true
	queues := make([]*lobby.Queue, 0, len(g.queues))
	for _, q := range g.queues {
		queues = append(queues, q)
	}
	g.queues = make(map[string]*lobby.Queue)
	g.mu.Unlock()

	g.logger.Info("gateway_draining", slog.Int("queues", len(queues)))
	done := make(chan error, 1)
	go func() {
		var err error
		for _, q := range queues {
			err = multierr.Append(err, q.Stop())
		}
		if g.manager != nil {
			err = multierr.Append(err, g.manager.Close())
		}
		done <- multierr.Append(err, g.shutdown())
	}()

	select {
	case err := <-done:
		if err != nil {
			g.logger.Warn("gateway_drained", slog.String("error", err.Error()))
		} else {
			g.logger.Info("gateway_drained")
		}
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *Gateway) shutdown() error {
	if g.heartbeats != nil {
		g.heartbeats.Close()
	}
	if g.timer != nil {
		g.timer.Close()
	}
	var err error
	if g.async != nil {
		err = multierr.Append(g.async.Close(), g.jsonl.Close())
	}
	return err
}
