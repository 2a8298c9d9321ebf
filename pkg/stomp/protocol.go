package stomp

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/harunnryd/confgate/pkg/errorsx"
	"github.com/harunnryd/confgate/pkg/streaming"
)

const (
	AcceptVersion = "1.1,1.2"

	DefaultConnectTimeout = 5 * time.Second
	DefaultHeartbeat      = 15 * time.Second
)

// TokenSource mints the bearer token sent on CONNECT. It is called once
// per connection attempt.
type TokenSource interface {
	Token(room string) (string, error)
}

type TokenSourceFunc func(room string) (string, error)

func (f TokenSourceFunc) Token(room string) (string, error) { return f(room) }

// Config describes the queue subscription of one conference room.
type Config struct {
	Host        string
	Room        string
	TopicPrefix string
	Heartbeat   streaming.Contract
	Tokens      TokenSource
}

// Destination is the topic subscribed for the room.
func (c Config) Destination() string { return c.TopicPrefix + c.Room }

// Protocol is the STOMP binding of streaming.Session.
type Protocol struct {
	cfg Config

	// subscription is set on the read goroutine and read by callers.
	subscription atomic.Pointer[string]
}

func NewProtocol(cfg Config) *Protocol {
	return &Protocol{cfg: cfg}
}

func (p *Protocol) Name() string { return binding }

func (p *Protocol) AwaitAck() bool { return true }

// Handshake builds the CONNECT frame. The token is minted fresh for every
// connection.
func (p *Protocol) Handshake() ([]streaming.Outbound, error) {
	headers := map[string]string{
		HeaderAcceptVersion: AcceptVersion,
		HeaderHeartBeat: FormatHeartBeat(
			int(p.cfg.Heartbeat.Outgoing.Milliseconds()),
			int(p.cfg.Heartbeat.Incoming.Milliseconds())),
	}
	if p.cfg.Host != "" {
		headers[HeaderHost] = p.cfg.Host
	}
	if p.cfg.Tokens != nil {
		token, err := p.cfg.Tokens.Token(p.cfg.Room)
		if err != nil {
			return nil, &errorsx.AuthenticationError{Provider: "stomp_token", Err: err}
		}
		headers[HeaderAuthorization] = "Bearer " + token
	}
	return []streaming.Outbound{streaming.Text(string(Encode(NewFrame(CommandConnect, headers, nil))))}, nil
}

// OnConnected subscribes to the room topic with a fresh subscription id.
func (p *Protocol) OnConnected() ([]streaming.Outbound, error) {
	id := uuid.NewString()
	p.subscription.Store(&id)
	sub := NewFrame(CommandSubscribe, map[string]string{
		HeaderDestination: p.cfg.Destination(),
		HeaderID:          id,
		HeaderAck:         "auto",
	}, nil)
	return []streaming.Outbound{streaming.Text(string(Encode(sub)))}, nil
}

func (p *Protocol) Decode(_ streaming.MessageKind, data []byte) (streaming.Event, error) {
	if IsHeartbeat(data) {
		return streaming.Event{Kind: streaming.EventPing}, nil
	}
	f, err := Decode(data)
	if err != nil {
		return streaming.Event{}, err
	}
	switch f.Command {
	case CommandConnected:
		sx, sy, err := ParseHeartBeat(f.Header(HeaderHeartBeat))
		if err != nil {
			return streaming.Event{}, decodeErr("invalid CONNECTED heart-beat", data, err)
		}
		return streaming.Event{Kind: streaming.EventConnected, Proposal: streaming.Proposal{
			PeerOutgoing: time.Duration(sx) * time.Millisecond,
			PeerIncoming: time.Duration(sy) * time.Millisecond,
		}}, nil
	case CommandMessage:
		return message(&Message{Frame: f}), nil
	case CommandError:
		return message(&ServerError{Frame: f}), nil
	case CommandReceipt:
		return message(&Receipt{Frame: f}), nil
	default:
		return streaming.Event{}, decodeErr(fmt.Sprintf("unexpected command %q", f.Command), data, nil)
	}
}

// KeepAlive is a single end-of-line.
func (p *Protocol) KeepAlive() streaming.Outbound { return streaming.Text("\n") }

// Subscription is the id of the current subscription.
func (p *Protocol) Subscription() string {
	if id := p.subscription.Load(); id != nil {
		return *id
	}
	return ""
}

func message(m streaming.Message) streaming.Event {
	return streaming.Event{Kind: streaming.EventMessage, Message: m}
}

// Message is a MESSAGE frame delivered on the room subscription. A queue
// session serves one room, so it routes to the session's default key.
type Message struct {
	Frame
}

func (*Message) ContextKey() string { return "" }

func (m *Message) Destination() string { return m.Header(HeaderDestination) }

// ServerError is an ERROR frame. Brokers usually close the socket after
// sending one.
type ServerError struct {
	Frame
}

func (*ServerError) ContextKey() string { return "" }

func (e *ServerError) Error() string {
	if msg := e.Header(HeaderMessage); msg != "" {
		return "stomp error: " + msg
	}
	return "stomp error: " + string(e.Body)
}

type Receipt struct {
	Frame
}

func (*Receipt) ContextKey() string { return "" }
