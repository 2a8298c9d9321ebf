package stomp_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/harunnryd/confgate/pkg/errorsx"
	"github.com/harunnryd/confgate/pkg/stomp"
	"github.com/harunnryd/confgate/pkg/streaming"
	"github.com/harunnryd/confgate/pkg/streaming/streamingtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newProtocol(tokens stomp.TokenSource) *stomp.Protocol {
	return stomp.NewProtocol(stomp.Config{
		Host:        "lobby.example.com",
		Room:        "room1",
		TopicPrefix: "/topic/lobby.",
		Heartbeat:   streaming.Contract{Outgoing: 15 * time.Second, Incoming: 15 * time.Second},
		Tokens:      tokens,
	})
}

func staticToken(tok string) stomp.TokenSource {
	return stomp.TokenSourceFunc(func(room string) (string, error) { return tok + "-" + room, nil })
}

func TestHandshakeCarriesTokenAndHeartbeat(t *testing.T) {
	p := newProtocol(staticToken("tok"))
	out, err := p.Handshake()
	require.NoError(t, err)
	require.Len(t, out, 1)

	f, err := stomp.Decode(out[0].Data)
	require.NoError(t, err)
	assert.Equal(t, stomp.CommandConnect, f.Command)
	assert.Equal(t, "Bearer tok-room1", f.Header(stomp.HeaderAuthorization))
	assert.Equal(t, "15000,15000", f.Header(stomp.HeaderHeartBeat))
	assert.Equal(t, "1.1,1.2", f.Header(stomp.HeaderAcceptVersion))
	assert.Equal(t, "lobby.example.com", f.Header(stomp.HeaderHost))
}

func TestHandshakeTokenFailureIsAuthenticationError(t *testing.T) {
	p := newProtocol(stomp.TokenSourceFunc(func(string) (string, error) {
		return "", errors.New("open key.pem: no such file")
	}))
	_, err := p.Handshake()
	assert.ErrorIs(t, err, errorsx.ErrAuthentication)
}

func TestDecodeConnectedProposal(t *testing.T) {
	p := newProtocol(nil)
	ev, err := p.Decode(streaming.TextMessage, []byte("CONNECTED\nheart-beat:10000,5000\n\n\x00"))
	require.NoError(t, err)
	assert.Equal(t, streaming.EventConnected, ev.Kind)
	assert.Equal(t, 10*time.Second, ev.Proposal.PeerOutgoing)
	assert.Equal(t, 5*time.Second, ev.Proposal.PeerIncoming)

	_, err = p.Decode(streaming.TextMessage, []byte("CONNECTED\nheart-beat:soon\n\n\x00"))
	assert.ErrorIs(t, err, errorsx.ErrProtocolDecode)
}

func TestDecodeMessagesAndPings(t *testing.T) {
	p := newProtocol(nil)

	ev, err := p.Decode(streaming.TextMessage, []byte("\n"))
	require.NoError(t, err)
	assert.Equal(t, streaming.EventPing, ev.Kind)

	ev, err = p.Decode(streaming.TextMessage, []byte("MESSAGE\ndestination:/topic/lobby.room1\n\n{\"status\":\"live\"}\x00"))
	require.NoError(t, err)
	msg, ok := ev.Message.(*stomp.Message)
	require.True(t, ok)
	assert.Equal(t, "/topic/lobby.room1", msg.Destination())
	assert.Equal(t, `{"status":"live"}`, string(msg.Body))
	assert.Empty(t, msg.ContextKey())

	ev, err = p.Decode(streaming.TextMessage, []byte("ERROR\nmessage:bad token\n\n\x00"))
	require.NoError(t, err)
	serverErr, ok := ev.Message.(*stomp.ServerError)
	require.True(t, ok)
	assert.Equal(t, "stomp error: bad token", serverErr.Error())

	_, err = p.Decode(streaming.TextMessage, []byte("BEGIN\n\n\x00"))
	assert.ErrorIs(t, err, errorsx.ErrProtocolDecode)
}

func TestSessionNegotiatesAndSubscribes(t *testing.T) {
	dialer := streamingtest.NewDialer()
	listener := streamingtest.NewRecordingListener()
	dispatcher := streaming.NewDispatcher(nil)
	dispatcher.Register("room1", listener)
	p := newProtocol(staticToken("tok"))

	session := streaming.NewSession(streaming.Config{
		Endpoint:       "wss://lobby.example.com/ws",
		ConnectTimeout: stomp.DefaultConnectTimeout,
		Heartbeat:      streaming.Contract{Outgoing: 15 * time.Second, Incoming: 15 * time.Second},
		Key:            "room1",
	}, p, dialer, dispatcher)
	defer session.Close()

	require.NoError(t, session.Connect(context.Background()))
	conn := dialer.Last()
	conn.Deliver("CONNECTED\nversion:1.2\nheart-beat:10000,5000\n\n\x00")
	require.True(t, listener.Wait("open", 2*time.Second))

	assert.Equal(t, streaming.StateReady, session.State())
	assert.Equal(t, streaming.Contract{Outgoing: 15 * time.Second, Incoming: 15 * time.Second}, session.Contract())

	require.True(t, conn.WaitWritten(2, 2*time.Second))
	written := conn.WrittenText()
	assert.True(t, strings.HasPrefix(written[0], "CONNECT\n"))
	sub, err := stomp.Decode([]byte(written[1]))
	require.NoError(t, err)
	assert.Equal(t, stomp.CommandSubscribe, sub.Command)
	assert.Equal(t, "/topic/lobby.room1", sub.Header(stomp.HeaderDestination))
	assert.Equal(t, p.Subscription(), sub.Header(stomp.HeaderID))

	conn.Deliver("MESSAGE\ndestination:/topic/lobby.room1\n\n{}\x00")
	require.True(t, listener.Wait("message", 2*time.Second))
}

func TestSubscriptionReadableWhileReconnecting(t *testing.T) {
	p := newProtocol(nil)
	assert.Empty(t, p.Subscription())

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			_, err := p.OnConnected()
			assert.NoError(t, err)
		}
	}()
	for i := 0; i < 100; i++ {
		_ = p.Subscription()
	}
	<-done
	assert.NotEmpty(t, p.Subscription())
}
