package speech_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/harunnryd/confgate/pkg/errorsx"
	"github.com/harunnryd/confgate/pkg/speech"
	"github.com/harunnryd/confgate/pkg/streaming"
	"github.com/harunnryd/confgate/pkg/streaming/streamingtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const wait = 2 * time.Second

type fakeSigner struct {
	err    error
	target *url.URL
}

func (s *fakeSigner) Sign(method string, target *url.URL) (map[string]string, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.target = target
	return map[string]string{"date": "Wed, 01 May 2024 12:00:00 GMT", "authorization": "Signature test"}, nil
}

type fixture struct {
	client     *speech.Client
	dialer     *streamingtest.Dialer
	dispatcher *streaming.Dispatcher
	listener   *streamingtest.RecordingListener
	signer     *fakeSigner
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		dialer:     streamingtest.NewDialer(),
		dispatcher: streaming.NewDispatcher(nil),
		listener:   streamingtest.NewRecordingListener(),
		signer:     &fakeSigner{},
	}
	f.dispatcher.Register("alice", f.listener)
	client, err := speech.NewClient(speech.Config{
		Endpoint:      "wss://realtime.speech.example.com",
		CompartmentID: "ocid1.compartment.test",
		Participant:   "alice",
		Signer:        f.signer,
	}, f.dialer, f.dispatcher)
	require.NoError(t, err)
	f.client = client
	t.Cleanup(func() { _ = client.Close() })
	return f
}

func TestSendAudioBeforeConnectFailsFast(t *testing.T) {
	f := newFixture(t)
	err := f.client.SendAudio([]byte{0, 1, 2, 3})
	var closed *errorsx.SessionClosedError
	require.ErrorAs(t, err, &closed)
	assert.Equal(t, streaming.StateDisconnected, f.client.State())
}

func TestConnectSendsCredentialsFirst(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.client.Connect(context.Background()))
	assert.Equal(t, streaming.StateReady, f.client.State())
	require.True(t, f.listener.Wait("open", wait))

	require.NoError(t, f.client.SendAudio([]byte{1, 2}))
	require.NoError(t, f.client.RequestFinalResult())

	conn := f.dialer.Last()
	require.True(t, conn.WaitWritten(3, wait))
	written := conn.Written()

	var auth map[string]any
	require.NoError(t, json.Unmarshal(written[0].Data, &auth))
	assert.Equal(t, "CREDENTIALS", auth["authenticationType"])
	assert.Equal(t, "ocid1.compartment.test", auth["compartmentId"])
	assert.Equal(t, "Signature test", auth["headers"].(map[string]any)["authorization"])
	assert.Equal(t, "/ws/transcribe/stream", f.signer.target.Path)

	assert.Equal(t, streaming.BinaryMessage, written[1].Kind)
	assert.Equal(t, []byte{1, 2}, written[1].Data)
	assert.JSONEq(t, `{"event":"SEND_FINAL_RESULT"}`, string(written[2].Data))
}

func TestMalformedEventKeepsSessionReady(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.client.Connect(context.Background()))
	conn := f.dialer.Last()

	conn.Deliver(`{"transcriptions":[{"transcription":"lost"}]}`)
	conn.Deliver(`{"event":"RESULT","transcriptions":[{"transcription":"hi","isFinal":false}]}`)

	require.True(t, f.listener.Wait("error", wait))
	require.True(t, f.listener.Wait("message", wait))
	_, msgs, errs, closes := f.listener.Snapshot()
	assert.Equal(t, 1, errs)
	assert.Equal(t, 1, msgs)
	assert.Zero(t, closes)
	assert.ErrorIs(t, f.listener.LastError(), errorsx.ErrProtocolDecode)
	assert.Equal(t, streaming.StateReady, f.client.State())

	res := f.listener.MessageAt(0).(*speech.Result)
	assert.Equal(t, "hi", res.Transcriptions[0].Transcription)
}

func TestResultsRouteByParticipant(t *testing.T) {
	f := newFixture(t)
	bob := streamingtest.NewRecordingListener()
	f.dispatcher.Register("bob", bob)
	require.NoError(t, f.client.Connect(context.Background()))

	f.dialer.Last().Deliver(`{"event":"RESULT","participantId":"bob","transcriptions":[]}`)
	require.True(t, bob.Wait("message", wait))
	_, aliceMsgs, _, _ := f.listener.Snapshot()
	assert.Zero(t, aliceMsgs)
}

func TestDropIsNotRetried(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.client.Connect(context.Background()))
	f.dialer.Last().Drop(errors.New("reset"))

	require.True(t, f.listener.Wait("error", wait))
	require.Eventually(t, func() bool { return f.client.State() == streaming.StateFailed }, wait, time.Millisecond)
	assert.Never(t, func() bool { return f.dialer.Dials() > 1 }, 100*time.Millisecond, 10*time.Millisecond)
	assert.ErrorIs(t, f.client.SendAudio([]byte{1}), errorsx.ErrSessionClosed)

	// The caller decides to reconnect.
	require.NoError(t, f.client.Connect(context.Background()))
	assert.Equal(t, 2, f.dialer.Dials())
}

func TestSigningFailureIsAuthenticationError(t *testing.T) {
	f := newFixture(t)
	f.signer.err = errors.New("key unreadable")
	err := f.client.Connect(context.Background())
	assert.ErrorIs(t, err, errorsx.ErrAuthentication)
	assert.Equal(t, streaming.StateFailed, f.client.State())
}

func TestNewClientRequiresParticipant(t *testing.T) {
	_, err := speech.NewClient(speech.Config{Endpoint: "wss://x"}, streamingtest.NewDialer(), nil)
	assert.Error(t, err)
}
