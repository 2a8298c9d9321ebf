package deepgram

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/harunnryd/confgate/pkg/errorsx"
	"github.com/harunnryd/confgate/pkg/frames"
	"github.com/harunnryd/confgate/pkg/transcription"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
)

type fakeLive struct {
	connectOK bool
	cb        msginterfaces.LiveMessageCallback
	topts     *interfaces.LiveTranscriptionOptions

	mu        sync.Mutex
	audio     []byte
	stopped   bool
	finalized int
	done      chan struct{}
}

func (f *fakeLive) Connect() bool { return f.connectOK }

func (f *fakeLive) Stream(r io.Reader) error {
	defer close(f.done)
	buf := make([]byte, 64)
	for {
		n, err := r.Read(buf)
		f.mu.Lock()
		f.audio = append(f.audio, buf[:n]...)
		f.mu.Unlock()
		if err != nil {
			return nil
		}
	}
}

func (f *fakeLive) Stop() {
	f.mu.Lock()
	f.stopped = true
	f.mu.Unlock()
}

func (f *fakeLive) Finalize() error {
	f.mu.Lock()
	f.finalized++
	f.mu.Unlock()
	return nil
}

func (f *fakeLive) received() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]byte(nil), f.audio...)
}

func newTestManager(t *testing.T, live *fakeLive, cfg Config) *transcription.Manager {
	t.Helper()
	if cfg.APIKey == "" {
		cfg.APIKey = "dg-key"
	}
	b := New(cfg)
	b.dial = func(_ context.Context, apiKey string, _ *interfaces.ClientOptions, topts *interfaces.LiveTranscriptionOptions, cb msginterfaces.LiveMessageCallback) (liveClient, error) {
		assert.Equal(t, "dg-key", apiKey)
		live.cb, live.topts = cb, topts
		return live, nil
	}
	m := transcription.NewManager(b, transcription.ManagerOptions{Room: "standup"})
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func nextFrame(t *testing.T, m *transcription.Manager) frames.Frame {
	t.Helper()
	select {
	case f := <-m.Results():
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("no frame")
		return nil
	}
}

func TestTranscriptsAndBoundaries(t *testing.T) {
	live := &fakeLive{connectOK: true, done: make(chan struct{})}
	m := newTestManager(t, live, Config{Model: "nova-2", Interim: true, Params: Params{UtteranceEndMS: 1000}})
	require.NoError(t, m.Start(context.Background(), "alice"))

	assert.Equal(t, "1000", live.topts.UtteranceEndMs)
	assert.Equal(t, 16000, live.topts.SampleRate)
	assert.Equal(t, "linear16", live.topts.Encoding)

	require.NoError(t, live.cb.Open(&msginterfaces.OpenResponse{}))
	assert.Equal(t, frames.SystemStreamOpened, nextFrame(t, m).(frames.SystemFrame).Name())

	mr := &msginterfaces.MessageResponse{IsFinal: true}
	mr.Channel.Alternatives = []msginterfaces.Alternative{{Transcript: "good morning", Confidence: 0.8}}
	require.NoError(t, live.cb.Message(mr))

	text := nextFrame(t, m).(frames.TextFrame)
	assert.Equal(t, "good morning", text.Text())
	assert.True(t, text.Final())
	assert.Equal(t, "deepgram", text.Meta()[frames.MetaSource])
	assert.Equal(t, frames.ControlFlush, nextFrame(t, m).(frames.ControlFrame).Code())

	require.NoError(t, live.cb.UtteranceEnd(&msginterfaces.UtteranceEndResponse{}))
	flush := nextFrame(t, m).(frames.ControlFrame)
	assert.Equal(t, "utterance_end", flush.Meta()[frames.MetaReason])
}

func TestAudioIsPipedAndFinalized(t *testing.T) {
	live := &fakeLive{connectOK: true, done: make(chan struct{})}
	m := newTestManager(t, live, Config{})
	require.NoError(t, m.Start(context.Background(), "alice"))

	require.NoError(t, m.SendAudio("alice", frames.NewAudioFrame("alice", 1, []byte{1, 2, 3}, 16000, 1, nil)))
	require.Eventually(t, func() bool { return len(live.received()) == 3 }, time.Second, 5*time.Millisecond)
	require.NoError(t, m.Finalize("alice"))

	require.NoError(t, m.Stop("alice"))
	<-live.done
	live.mu.Lock()
	defer live.mu.Unlock()
	assert.True(t, live.stopped)
	assert.Equal(t, 1, live.finalized)
}

func TestConnectFailure(t *testing.T) {
	live := &fakeLive{connectOK: false, done: make(chan struct{})}
	m := newTestManager(t, live, Config{})

	err := m.Start(context.Background(), "alice")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errorsx.ErrTransport))
	assert.Empty(t, m.Participants())
}

func TestMissingAPIKey(t *testing.T) {
	_, err := (&Backend{cfg: Config{}}).Open("alice", nil)
	assert.ErrorIs(t, err, errorsx.ErrAuthentication)
}

func TestRemoteErrorThenClose(t *testing.T) {
	live := &fakeLive{connectOK: true, done: make(chan struct{})}
	m := newTestManager(t, live, Config{})
	require.NoError(t, m.Start(context.Background(), "alice"))

	require.NoError(t, live.cb.Error(&msginterfaces.ErrorResponse{ErrCode: "NET-0001", ErrMsg: "timeout"}))
	assert.Equal(t, []string{"alice"}, m.Participants())

	require.NoError(t, live.cb.Close(&msginterfaces.CloseResponse{}))
	closed := nextFrame(t, m).(frames.SystemFrame)
	assert.Equal(t, frames.SystemStreamClosed, closed.Name())
	assert.Empty(t, m.Participants())
}
