// Package errorsx holds the session failure taxonomy shared by every
// streaming binding. Each error carries a ReasonCode for logs and metrics
// and matches its sentinel through errors.Is.
package errorsx

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrConnectTimeout = errors.New("connect timeout")
	ErrAuthentication = errors.New("authentication failed")
	ErrTransport      = errors.New("transport error")
	ErrProtocolDecode = errors.New("protocol decode error")
	ErrSessionClosed  = errors.New("session closed")
	ErrSendQueueFull  = errors.New("send queue full")
)

// ConnectTimeoutError reports that the transport did not open, or the peer
// did not acknowledge the handshake, within the connect budget.
type ConnectTimeoutError struct {
	Endpoint string
	Timeout  time.Duration
	Stage    string
}

func (e *ConnectTimeoutError) Error() string {
	stage := e.Stage
	if stage == "" {
		stage = "dial"
	}
	return fmt.Sprintf("connect timeout after %s (%s) to %s", e.Timeout, stage, e.Endpoint)
}

func (e *ConnectTimeoutError) Is(target error) bool { return target == ErrConnectTimeout }

func (e *ConnectTimeoutError) Reason() ReasonCode { return ReasonConnectTimeout }

// AuthenticationError reports unreadable or unsignable credential material.
type AuthenticationError struct {
	Provider string
	Err      error
}

func (e *AuthenticationError) Error() string {
	if e.Provider == "" {
		return fmt.Sprintf("authentication failed: %v", e.Err)
	}
	return fmt.Sprintf("%s authentication failed: %v", e.Provider, e.Err)
}

func (e *AuthenticationError) Unwrap() error { return e.Err }

func (e *AuthenticationError) Is(target error) bool { return target == ErrAuthentication }

func (e *AuthenticationError) Reason() ReasonCode { return ReasonAuthentication }

// TransportError wraps a socket level failure. Op names the failing
// operation (dial, read, write, send, heartbeat).
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Is(target error) bool { return target == ErrTransport }

func (e *TransportError) Reason() ReasonCode {
	if errors.Is(e.Err, ErrSendQueueFull) {
		return ReasonSendQueueFull
	}
	if e.Op == "heartbeat" {
		return ReasonHeartbeat
	}
	return ReasonTransport
}

// ProtocolDecodeError describes one malformed inbound message. It never
// terminates a session.
type ProtocolDecodeError struct {
	Binding string
	Detail  string
	Raw     []byte
	Err     error
}

func (e *ProtocolDecodeError) Error() string {
	msg := fmt.Sprintf("%s decode: %s", e.Binding, e.Detail)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProtocolDecodeError) Unwrap() error { return e.Err }

func (e *ProtocolDecodeError) Is(target error) bool { return target == ErrProtocolDecode }

func (e *ProtocolDecodeError) Reason() ReasonCode { return ReasonProtocolDecode }

// SessionClosedError is returned synchronously when a caller sends on a
// session that is not ready.
type SessionClosedError struct {
	Session string
	State   string
}

func (e *SessionClosedError) Error() string {
	return fmt.Sprintf("session %s is %s", e.Session, e.State)
}

func (e *SessionClosedError) Is(target error) bool { return target == ErrSessionClosed }

func (e *SessionClosedError) Reason() ReasonCode { return ReasonSessionClosed }

// IsFatal reports whether err terminates the session it came from.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrConnectTimeout) ||
		errors.Is(err, ErrAuthentication) ||
		errors.Is(err, ErrTransport)
}
