package speech

import (
	"net/url"
	"testing"

	"github.com/harunnryd/confgate/pkg/errorsx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeEventDiscriminants(t *testing.T) {
	ev, err := DecodeEvent([]byte(`{"event":"ACKAUDIO","details":"ok"}`))
	require.NoError(t, err)
	assert.Equal(t, "ok", ev.(*AckAudio).Details)

	ev, err = DecodeEvent([]byte(`{"event":"CONNECT","sessionId":"s-1"}`))
	require.NoError(t, err)
	assert.Equal(t, "s-1", ev.(*ConnectAck).SessionID)

	ev, err = DecodeEvent([]byte(`{"event":"RESULT","participantId":"alice","transcriptions":[
		{"transcription":"hello world","isFinal":true,"startTimeInMs":10,"endTimeInMs":900,"confidence":0.93,
		 "tokens":[{"token":"hello","startTimeInMs":10,"endTimeInMs":400,"confidence":0.9,"type":"WORD"}]}]}`))
	require.NoError(t, err)
	res := ev.(*Result)
	assert.Equal(t, "alice", res.ContextKey())
	assert.True(t, res.Final())
	require.Len(t, res.Transcriptions, 1)
	assert.Equal(t, "hello world", res.Transcriptions[0].Transcription)
	assert.InDelta(t, 0.93, res.Transcriptions[0].Confidence, 1e-9)
	assert.Equal(t, "WORD", res.Transcriptions[0].Tokens[0].Type)

	ev, err = DecodeEvent([]byte(`{"event":"ERROR","code":401,"message":"bad signature"}`))
	require.NoError(t, err)
	assert.Equal(t, "speech service error 401: bad signature", ev.(*ErrorEvent).Error())
}

func TestDecodeEventRejects(t *testing.T) {
	for _, in := range []string{
		`{"transcriptions":[]}`,
		`{"event":"PARTY"}`,
		`not json`,
		`{"event":"RESULT","transcriptions":"nope"}`,
	} {
		_, err := DecodeEvent([]byte(in))
		assert.ErrorIs(t, err, errorsx.ErrProtocolDecode, in)
	}
}

func TestStreamURL(t *testing.T) {
	u, err := StreamURL("https://realtime.speech.example.com/", Params{
		IsAckEnabled:              true,
		FinalSilenceThresholdInMs: 1000,
		LanguageCode:              "es-ES",
		Customizations:            []Customization{{CustomizationID: "c1", Alias: "brands"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "wss", u.Scheme)
	assert.Equal(t, "/ws/transcribe/stream", u.Path)

	q, err := url.ParseQuery(u.RawQuery)
	require.NoError(t, err)
	assert.Equal(t, "true", q.Get("isAckEnabled"))
	assert.Equal(t, DefaultEncoding, q.Get("encoding"))
	assert.Equal(t, "1000", q.Get("finalSilenceThresholdInMs"))
	assert.Empty(t, q.Get("partialSilenceThresholdInMs"))
	assert.Equal(t, "es-ES", q.Get("languageCode"))
	assert.Equal(t, DefaultModelDomain, q.Get("modelDomain"))
	assert.Equal(t, "false", q.Get("shouldIgnoreInvalidCustomizations"))
	assert.JSONEq(t, `[{"customizationId":"c1","customizationAlias":"brands"}]`, q.Get("customizations"))

	_, err = StreamURL("ftp://x", Params{})
	assert.Error(t, err)
}
