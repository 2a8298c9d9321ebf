package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/harunnryd/confgate/pkg/frames"
	"github.com/harunnryd/confgate/pkg/gateway"
	"github.com/harunnryd/confgate/pkg/lobby"
	"github.com/harunnryd/confgate/pkg/logging"
	"github.com/harunnryd/confgate/pkg/redact"
	"github.com/harunnryd/confgate/pkg/runner"
)

func main() {
	configPath := flag.String("config", "cmd/confgate/config.example.yaml", "path to the config file")
	rooms := flag.String("rooms", "", "comma separated rooms to queue for at startup")
	participants := flag.String("transcribe", "", "comma separated participants to transcribe at startup")
	flag.Parse()

	cfg, err := gateway.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	logger := logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	logger = logger.With(slog.String("environment", cfg.Environment))

	g, err := gateway.New(gateway.Options{
		Config:     cfg,
		Conference: lobby.ConferenceFunc(joinConference(logger)),
		Logger:     logger,
		OnNotification: func(room string, n lobby.Notification) {
			attrs := []any{slog.String("room", room), slog.String("status", n.Status)}
			if n.Position != nil {
				attrs = append(attrs, slog.Int("position", *n.Position))
			}
			logger.Info("queue_notification", attrs...)
		},
	})
	if err != nil {
		logger.Error("gateway_init_failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	r := runner.NewLifecycleRunner(runner.DrainerFunc(g.Drain), runner.Hooks{
		OnStart: func(ctx context.Context) error {
			for _, room := range splitList(*rooms) {
				// The queue keeps retrying after a failed first connect.
				if _, err := g.JoinQueue(ctx, room); err != nil {
					logger.Warn("queue_join_pending", slog.String("room", room), slog.String("error", err.Error()))
				}
			}
			if t := g.Transcriber(); t != nil {
				go logTranscripts(logger, t.Results())
				for _, p := range splitList(*participants) {
					if err := t.Start(ctx, p); err != nil {
						logger.Warn("transcription_start_failed", slog.String("participant", p), slog.String("error", err.Error()))
					}
				}
			}
			return nil
		},
	}, runner.Options{
		DrainTimeout: cfg.DrainTimeout(),
		Banner:       os.Stdout,
		Logger:       logger,
	})

	if err := r.Run(ctx); err != nil {
		logger.Error("shutdown_failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func joinConference(logger *slog.Logger) func(ctx context.Context, room string) error {
	return func(_ context.Context, room string) error {
		logger.Info("conference_join", slog.String("room", room))
		return nil
	}
}

func logTranscripts(logger *slog.Logger, results <-chan frames.Frame) {
	for f := range results {
		switch fr := f.(type) {
		case frames.TextFrame:
			if fr.Final() {
				logger.Info("transcript",
					slog.String("participant", fr.Participant()),
					slog.String("text", redact.Text(fr.Text())))
			}
		case frames.SystemFrame:
			logger.Info("transcription_stream", slog.String("event", fr.Name()), slog.Any("meta", fr.Meta()))
		}
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
