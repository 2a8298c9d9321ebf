// Package streamingtest provides in-memory transports for exercising
// sessions without a network.
package streamingtest

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/harunnryd/confgate/pkg/streaming"
)

var ErrConnClosed = errors.New("streamingtest: connection closed")

type frame struct {
	kind streaming.MessageKind
	data []byte
	err  error
}

// Conn is a scripted connection. Inbound messages are pushed with Deliver
// and outbound writes are collected for inspection.
type Conn struct {
	inbound chan frame
	closed  chan struct{}

	mu        sync.Mutex
	written   []streaming.Outbound
	writeErr  error
	closeOnce sync.Once
	closeCode int
	closeText string
	writes    chan struct{}
}

func NewConn() *Conn {
	return &Conn{
		inbound: make(chan frame, 64),
		closed:  make(chan struct{}),
		writes:  make(chan struct{}, 1024),
	}
}

// Deliver queues an inbound text message.
func (c *Conn) Deliver(data string) {
	c.inbound <- frame{kind: streaming.TextMessage, data: []byte(data)}
}

func (c *Conn) DeliverBinary(data []byte) {
	c.inbound <- frame{kind: streaming.BinaryMessage, data: data}
}

// PeerClose makes the next read report an orderly close by the peer.
func (c *Conn) PeerClose(code int, reason string) {
	c.inbound <- frame{err: &streaming.PeerClosedError{Code: code, Reason: reason}}
}

// Drop makes the next read fail like a reset socket.
func (c *Conn) Drop(err error) {
	if err == nil {
		err = errors.New("connection reset by peer")
	}
	c.inbound <- frame{err: err}
}

// FailWrites makes every later write return err.
func (c *Conn) FailWrites(err error) {
	c.mu.Lock()
	c.writeErr = err
	c.mu.Unlock()
}

func (c *Conn) ReadMessage() (streaming.MessageKind, []byte, error) {
	select {
	case f := <-c.inbound:
		return f.kind, f.data, f.err
	case <-c.closed:
		return 0, nil, ErrConnClosed
	}
}

func (c *Conn) WriteMessage(kind streaming.MessageKind, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.closed:
		return ErrConnClosed
	default:
	}
	if c.writeErr != nil {
		return c.writeErr
	}
	c.written = append(c.written, streaming.Outbound{Kind: kind, Data: append([]byte(nil), data...)})
	select {
	case c.writes <- struct{}{}:
	default:
	}
	return nil
}

func (c *Conn) Close(code int, reason string) error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closeCode, c.closeText = code, reason
		c.mu.Unlock()
		close(c.closed)
	})
	return nil
}

// Written returns a copy of everything written so far.
func (c *Conn) Written() []streaming.Outbound {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]streaming.Outbound(nil), c.written...)
}

// WrittenText returns the text payloads written so far.
func (c *Conn) WrittenText() []string {
	var out []string
	for _, o := range c.Written() {
		if o.Kind == streaming.TextMessage {
			out = append(out, string(o.Data))
		}
	}
	return out
}

// WaitWritten blocks until at least n messages were written or timeout
// elapses.
func (c *Conn) WaitWritten(n int, timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		c.mu.Lock()
		got := len(c.written)
		c.mu.Unlock()
		if got >= n {
			return true
		}
		select {
		case <-c.writes:
		case <-deadline:
			return false
		}
	}
}

func (c *Conn) Closed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// CloseCode returns the code passed to Close.
func (c *Conn) CloseCode() (int, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCode, c.closeText
}

// Dialer hands out Conns. Each Dial takes the next queued result; when the
// queue is empty a fresh Conn is created.
type Dialer struct {
	mu      sync.Mutex
	queue   []dialResult
	conns   []*Conn
	headers []http.Header
	hang    bool
}

type dialResult struct {
	conn *Conn
	err  error
}

func NewDialer() *Dialer { return &Dialer{} }

// Push queues a connection for the next Dial.
func (d *Dialer) Push(c *Conn) {
	d.mu.Lock()
	d.queue = append(d.queue, dialResult{conn: c})
	d.mu.Unlock()
}

// PushError makes the next Dial fail with err.
func (d *Dialer) PushError(err error) {
	d.mu.Lock()
	d.queue = append(d.queue, dialResult{err: err})
	d.mu.Unlock()
}

// Hang makes every Dial block until its context ends.
func (d *Dialer) Hang() {
	d.mu.Lock()
	d.hang = true
	d.mu.Unlock()
}

func (d *Dialer) Dial(ctx context.Context, endpoint string, header http.Header) (streaming.Conn, error) {
	d.mu.Lock()
	d.headers = append(d.headers, header.Clone())
	if d.hang {
		d.mu.Unlock()
		<-ctx.Done()
		return nil, ctx.Err()
	}
	var res dialResult
	if len(d.queue) > 0 {
		res = d.queue[0]
		d.queue = d.queue[1:]
	} else {
		res = dialResult{conn: NewConn()}
	}
	if res.conn != nil {
		d.conns = append(d.conns, res.conn)
	}
	d.mu.Unlock()
	if res.err != nil {
		return nil, res.err
	}
	return res.conn, nil
}

// Dials returns how many times Dial was called.
func (d *Dialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.headers)
}

// Conns returns the connections handed out so far.
func (d *Dialer) Conns() []*Conn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Conn(nil), d.conns...)
}

// Last returns the most recent connection, or nil.
func (d *Dialer) Last() *Conn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

// Header returns the header of the i-th dial.
func (d *Dialer) Header(i int) http.Header {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i < 0 || i >= len(d.headers) {
		return nil
	}
	return d.headers[i]
}

// RecordingListener collects listener callbacks.
type RecordingListener struct {
	mu       sync.Mutex
	Opens    int
	Messages []streaming.Message
	Errors   []error
	Closes   []int
	events   chan string
}

func NewRecordingListener() *RecordingListener {
	return &RecordingListener{events: make(chan string, 1024)}
}

func (l *RecordingListener) OnOpen() {
	l.mu.Lock()
	l.Opens++
	l.mu.Unlock()
	l.signal("open")
}

func (l *RecordingListener) OnMessage(m streaming.Message) {
	l.mu.Lock()
	l.Messages = append(l.Messages, m)
	l.mu.Unlock()
	l.signal("message")
}

func (l *RecordingListener) OnError(err error) {
	l.mu.Lock()
	l.Errors = append(l.Errors, err)
	l.mu.Unlock()
	l.signal("error")
}

func (l *RecordingListener) OnClose(code int, reason string) {
	l.mu.Lock()
	l.Closes = append(l.Closes, code)
	l.mu.Unlock()
	l.signal("close")
}

func (l *RecordingListener) signal(name string) {
	select {
	case l.events <- name:
	default:
	}
}

// Wait blocks until a callback named name (open, message, error, close)
// arrives or timeout elapses. Other callbacks seen meanwhile are skipped.
func (l *RecordingListener) Wait(name string, timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		select {
		case ev := <-l.events:
			if ev == name {
				return true
			}
		case <-deadline:
			return false
		}
	}
}

// Snapshot returns counts of each callback.
func (l *RecordingListener) Snapshot() (opens, messages, errs, closes int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.Opens, len(l.Messages), len(l.Errors), len(l.Closes)
}

// LastError returns the most recent error or nil.
func (l *RecordingListener) LastError() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.Errors) == 0 {
		return nil
	}
	return l.Errors[len(l.Errors)-1]
}

// MessageAt returns the i-th message or nil.
func (l *RecordingListener) MessageAt(i int) streaming.Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	if i < 0 || i >= len(l.Messages) {
		return nil
	}
	return l.Messages[i]
}
