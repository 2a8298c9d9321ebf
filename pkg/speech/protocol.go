package speech

import (
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/harunnryd/confgate/pkg/errorsx"
	"github.com/harunnryd/confgate/pkg/streaming"
)

const DefaultConnectTimeout = 10 * time.Second

// RequestSigner computes signed headers for a request.
type RequestSigner interface {
	Sign(method string, target *url.URL) (map[string]string, error)
}

// Protocol is the speech binding of streaming.Session. Credentials are
// sent without waiting for an acknowledgment, so the session is Ready as
// soon as they are queued.
type Protocol struct {
	target        *url.URL
	compartmentID string
	signer        RequestSigner
}

func NewProtocol(target *url.URL, compartmentID string, signer RequestSigner) *Protocol {
	return &Protocol{target: target, compartmentID: compartmentID, signer: signer}
}

func (p *Protocol) Name() string { return binding }

func (p *Protocol) AwaitAck() bool { return false }

func (p *Protocol) Handshake() ([]streaming.Outbound, error) {
	if p.signer == nil {
		return nil, &errorsx.AuthenticationError{Provider: binding, Err: errNoSigner}
	}
	headers, err := p.signer.Sign(http.MethodGet, p.target)
	if err != nil {
		return nil, err
	}
	data, err := encodeAuth(headers, p.compartmentID)
	if err != nil {
		return nil, &errorsx.AuthenticationError{Provider: binding, Err: err}
	}
	return []streaming.Outbound{streaming.Text(string(data))}, nil
}

func (p *Protocol) OnConnected() ([]streaming.Outbound, error) { return nil, nil }

func (p *Protocol) Decode(_ streaming.MessageKind, data []byte) (streaming.Event, error) {
	ev, err := DecodeEvent(data)
	if err != nil {
		return streaming.Event{}, err
	}
	return streaming.Event{Kind: streaming.EventMessage, Message: ev.(streaming.Message)}, nil
}

// KeepAlive is empty: the service does not expect keep-alives.
func (p *Protocol) KeepAlive() streaming.Outbound { return streaming.Outbound{} }

var errNoSigner = errors.New("no request signer configured")
