package speech

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/harunnryd/confgate/pkg/streaming"
)

// Config describes one participant's transcription stream.
type Config struct {
	Endpoint      string
	CompartmentID string
	Params        Params
	// Participant is the dispatch key of the stream's listener.
	Participant    string
	ConnectTimeout time.Duration
	Signer         RequestSigner
	Logger         *slog.Logger
}

// Client streams one participant's audio to the speech service. It never
// reconnects on its own; failures reach the listener and the caller
// decides whether to Connect again.
type Client struct {
	participant string
	session     *streaming.Session
	target      string
}

func NewClient(cfg Config, dialer streaming.Dialer, dispatcher *streaming.Dispatcher, opts ...streaming.Option) (*Client, error) {
	if cfg.Participant == "" {
		return nil, fmt.Errorf("speech client: participant is required")
	}
	target, err := StreamURL(cfg.Endpoint, cfg.Params)
	if err != nil {
		return nil, err
	}
	proto := NewProtocol(target, cfg.CompartmentID, cfg.Signer)
	if cfg.Logger != nil {
		opts = append([]streaming.Option{streaming.WithLogger(cfg.Logger)}, opts...)
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	session := streaming.NewSession(streaming.Config{
		Endpoint:       target.String(),
		ConnectTimeout: cfg.ConnectTimeout,
		Key:            cfg.Participant,
	}, proto, dialer, dispatcher, opts...)
	return &Client{participant: cfg.Participant, session: session, target: target.String()}, nil
}

func (c *Client) Participant() string { return c.participant }

func (c *Client) URL() string { return c.target }

func (c *Client) State() streaming.State { return c.session.State() }

func (c *Client) SessionID() string { return c.session.ID() }

// Connect opens the stream and sends the credentials. It blocks for at
// most the connect timeout.
func (c *Client) Connect(ctx context.Context) error {
	return c.session.Connect(ctx)
}

// SendAudio queues one audio chunk. It fails fast with SessionClosedError
// when the stream is not ready.
func (c *Client) SendAudio(chunk []byte) error {
	return c.session.Send(streaming.Binary(chunk))
}

// RequestFinalResult asks the service to finalize the pending partial
// transcription.
func (c *Client) RequestFinalResult() error {
	return c.session.Send(streaming.Text(string(encodeFinalResultRequest())))
}

func (c *Client) Close() error {
	return c.session.Close()
}
