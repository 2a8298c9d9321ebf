package mock

import (
	"context"
	"testing"

	"github.com/harunnryd/confgate/pkg/frames"
	"github.com/harunnryd/confgate/pkg/transcription"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(m *transcription.Manager, n int) []frames.Frame {
	out := make([]frames.Frame, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, <-m.Results())
	}
	return out
}

func TestScriptedTranscript(t *testing.T) {
	m := transcription.NewManager(New(Config{
		Transcript:       "hello there",
		EmitInterim:      true,
		EmitVAD:          true,
		EmitUtteranceEnd: true,
	}), transcription.ManagerOptions{})
	t.Cleanup(func() { _ = m.Close() })

	require.NoError(t, m.Start(context.Background(), "alice"))
	audio := frames.NewAudioFrame("alice", 1, []byte{0, 0}, 16000, 1, nil)
	require.NoError(t, m.SendAudio("alice", audio))
	require.NoError(t, m.SendAudio("alice", audio))

	got := drain(m, 6)
	assert.Equal(t, frames.SystemStreamOpened, got[0].(frames.SystemFrame).Name())
	assert.Equal(t, "speech_started", got[1].Meta()[frames.MetaReason])
	assert.False(t, got[2].(frames.TextFrame).Final())
	assert.Equal(t, "hello there", got[3].(frames.TextFrame).Text())
	assert.True(t, got[3].(frames.TextFrame).Final())
	assert.Equal(t, frames.ControlFlush, got[4].(frames.ControlFrame).Code())
	assert.Equal(t, "utterance_end", got[5].Meta()[frames.MetaReason])

	select {
	case f := <-m.Results():
		t.Fatalf("unexpected frame %v", f)
	default:
	}

	require.NoError(t, m.Finalize("alice"))
	require.NoError(t, m.SendAudio("alice", audio))
	assert.Len(t, drain(m, 5), 5)
}

func TestSendBeforeConnect(t *testing.T) {
	s, err := New(Config{}).Open("bob", nil)
	require.NoError(t, err)
	assert.Error(t, s.SendAudio([]byte{1}))
}
