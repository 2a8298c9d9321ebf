package streaming

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// Standard close codes used by sessions.
const (
	CloseNormal        = websocket.CloseNormalClosure
	CloseGoingAway     = websocket.CloseGoingAway
	CloseAbnormal      = websocket.CloseAbnormalClosure
	closeWriteDeadline = time.Second
)

// Conn is one open streaming socket. ReadMessage is called from a single
// goroutine and WriteMessage from another; Close may be called at any
// time.
type Conn interface {
	ReadMessage() (MessageKind, []byte, error)
	WriteMessage(kind MessageKind, data []byte) error
	Close(code int, reason string) error
}

// Dialer opens Conns. Dial must honour ctx cancellation.
type Dialer interface {
	Dial(ctx context.Context, endpoint string, header http.Header) (Conn, error)
}

// PeerClosedError is returned by ReadMessage when the peer closed the
// connection in an orderly way.
type PeerClosedError struct {
	Code   int
	Reason string
}

func (e *PeerClosedError) Error() string {
	return fmt.Sprintf("peer closed connection (%d %s)", e.Code, e.Reason)
}

// WebsocketDialer dials with gorilla/websocket.
type WebsocketDialer struct {
	Dialer       *websocket.Dialer
	WriteTimeout time.Duration
	ReadLimit    int64
}

func NewWebsocketDialer() *WebsocketDialer {
	return &WebsocketDialer{
		Dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
			ReadBufferSize:   4096,
			WriteBufferSize:  4096,
		},
		WriteTimeout: 5 * time.Second,
		ReadLimit:    1 << 20,
	}
}

func (d *WebsocketDialer) Dial(ctx context.Context, endpoint string, header http.Header) (Conn, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, resp, err := dialer.DialContext(ctx, endpoint, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %s: %w", endpoint, resp.Status, err)
		}
		return nil, fmt.Errorf("dial %s: %w", endpoint, err)
	}
	if d.ReadLimit > 0 {
		conn.SetReadLimit(d.ReadLimit)
	}
	return &wsConn{conn: conn, writeTimeout: d.WriteTimeout}, nil
}

type wsConn struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
}

func (c *wsConn) ReadMessage() (MessageKind, []byte, error) {
	mt, data, err := c.conn.ReadMessage()
	if err != nil {
		var ce *websocket.CloseError
		if errors.As(err, &ce) && ce.Code != websocket.CloseAbnormalClosure {
			return 0, nil, &PeerClosedError{Code: ce.Code, Reason: ce.Text}
		}
		return 0, nil, err
	}
	if mt == websocket.BinaryMessage {
		return BinaryMessage, data, nil
	}
	return TextMessage, data, nil
}

func (c *wsConn) WriteMessage(kind MessageKind, data []byte) error {
	if c.writeTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return err
		}
	}
	mt := websocket.TextMessage
	if kind == BinaryMessage {
		mt = websocket.BinaryMessage
	}
	return c.conn.WriteMessage(mt, data)
}

func (c *wsConn) Close(code int, reason string) error {
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(closeWriteDeadline))
	return c.conn.Close()
}
