package runner

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/harunnryd/confgate/pkg/logging"
	"go.uber.org/multierr"
)

var (
	ErrInvalidTransition = errors.New("runner: invalid state transition")
	ErrDrainTimeout      = errors.New("runner: drain timeout")
)

const DefaultDrainTimeout = 10 * time.Second

type Options struct {
	DrainTimeout time.Duration
	Banner       io.Writer
	Logger       *slog.Logger
}

type LifecycleRunner struct {
	state    atomic.Int32
	ctx      context.Context
	cancel   context.CancelFunc
	onceStop sync.Once
	hooks    Hooks
	drainer  Drainer
	stopErr  error
	opts     Options
	logger   *slog.Logger
}

func NewLifecycleRunner(drainer Drainer, hooks Hooks, opts Options) *LifecycleRunner {
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = DefaultDrainTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &LifecycleRunner{
		ctx:     ctx,
		cancel:  cancel,
		hooks:   hooks,
		drainer: drainer,
		opts:    opts,
		logger:  logging.NewComponentLogger(opts.Logger, "runner"),
	}
}

// Run starts the hooks and blocks until ctx ends or Stop is called, then
// drains.
func (r *LifecycleRunner) Run(ctx context.Context) error {
	if !r.casState(StateNew, StateStarting) {
		return ErrInvalidTransition
	}
	PrintBanner(r.opts.Banner)
	if ctx != nil {
		r.ctx, r.cancel = context.WithCancel(ctx)
	}
	if r.hooks.OnStart != nil {
		if err := r.hooks.OnStart(r.ctx); err != nil {
			r.logger.Error("start_failed", slog.String("error", err.Error()))
			return multierr.Append(err, r.stop())
		}
	}
	r.setState(StateRunning)
	r.logger.Info("running")
	<-r.ctx.Done()
	return r.stop()
}

func (r *LifecycleRunner) Stop() error {
	r.cancel()
	return r.stop()
}

func (r *LifecycleRunner) State() State {
	return State(r.state.Load())
}

func (r *LifecycleRunner) stop() error {
	r.onceStop.Do(func() {
		r.setState(StateDraining)
		r.logger.Info("draining", slog.Duration("timeout", r.opts.DrainTimeout))
		if r.drainer != nil {
			ctx, cancel := context.WithTimeout(context.Background(), r.opts.DrainTimeout)
			done := make(chan error, 1)
			go func() { done <- r.drainer.Drain(ctx) }()
			select {
			case err := <-done:
				r.stopErr = err
			case <-ctx.Done():
				r.stopErr = ErrDrainTimeout
			}
			cancel()
		}
		if r.hooks.OnStop != nil {
			r.hooks.OnStop()
		}
		r.setState(StateStopped)
		if r.stopErr != nil {
			r.logger.Warn("stopped", slog.String("error", r.stopErr.Error()))
		} else {
			r.logger.Info("stopped")
		}
	})
	return r.stopErr
}

func (r *LifecycleRunner) casState(from, to State) bool {
	return r.state.CompareAndSwap(int32(from), int32(to))
}

func (r *LifecycleRunner) setState(s State) {
	r.state.Store(int32(s))
}
