package streaming

// MessageKind distinguishes text and binary transport messages.
type MessageKind int

const (
	TextMessage   MessageKind = 1
	BinaryMessage MessageKind = 2
)

func (k MessageKind) String() string {
	switch k {
	case TextMessage:
		return "text"
	case BinaryMessage:
		return "binary"
	default:
		return "unknown"
	}
}

// Outbound is one message queued for the socket.
type Outbound struct {
	Kind MessageKind
	Data []byte
}

func Text(s string) Outbound { return Outbound{Kind: TextMessage, Data: []byte(s)} }

func Binary(b []byte) Outbound { return Outbound{Kind: BinaryMessage, Data: b} }

// Empty reports whether there is nothing to send.
func (o Outbound) Empty() bool { return len(o.Data) == 0 }

// Message is a decoded, typed inbound message. ContextKey selects the
// listener; an empty key routes to the session's default listener.
type Message interface {
	ContextKey() string
}

type EventKind int

const (
	// EventPing is a keep-alive from the peer. It only refreshes liveness.
	EventPing EventKind = iota
	// EventConnected acknowledges the handshake and carries the peer's
	// heartbeat proposal.
	EventConnected
	// EventMessage carries a typed message for the dispatcher.
	EventMessage
)

// Event is the result of decoding one transport message.
type Event struct {
	Kind     EventKind
	Proposal Proposal
	Message  Message
}

// Protocol is the strategy that adapts one wire binding to the session
// state machine.
type Protocol interface {
	// Name is used in logs, metrics and decode errors.
	Name() string
	// Handshake returns the messages sent right after the transport
	// opens. Credential failures are returned as AuthenticationError.
	Handshake() ([]Outbound, error)
	// AwaitAck reports whether the session stays Authenticating until an
	// EventConnected arrives. When false the session is Ready as soon as
	// the handshake is queued.
	AwaitAck() bool
	// OnConnected returns the messages sent once the peer acknowledged
	// the handshake, before the session becomes Ready.
	OnConnected() ([]Outbound, error)
	// Decode maps one inbound transport message to an event.
	Decode(kind MessageKind, data []byte) (Event, error)
	// KeepAlive is the payload sent by the pinger.
	KeepAlive() Outbound
}

// Listener observes one dispatch key. All callbacks run on session
// goroutines, never on the caller's.
type Listener interface {
	OnOpen()
	OnMessage(msg Message)
	OnError(err error)
	OnClose(code int, reason string)
}

// ListenerFuncs adapts plain functions to Listener. Nil fields are
// ignored.
type ListenerFuncs struct {
	Open    func()
	Message func(Message)
	Error   func(error)
	Close   func(code int, reason string)
}

func (l ListenerFuncs) OnOpen() {
	if l.Open != nil {
		l.Open()
	}
}

func (l ListenerFuncs) OnMessage(msg Message) {
	if l.Message != nil {
		l.Message(msg)
	}
}

func (l ListenerFuncs) OnError(err error) {
	if l.Error != nil {
		l.Error(err)
	}
}

func (l ListenerFuncs) OnClose(code int, reason string) {
	if l.Close != nil {
		l.Close(code, reason)
	}
}
