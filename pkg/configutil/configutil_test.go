package configutil

import (
	"testing"
	"time"

	"github.com/harunnryd/confgate/pkg/errorsx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateSection(t *testing.T) {
	schema := Schema{Required: []string{"api_key"}, Optional: []string{"model"}}

	require.NoError(t, ValidateSettings(map[string]any{"API-Key": "k", "model": "nova"}, schema))

	err := ValidateSection("transcription.settings", map[string]any{"api_key": " ", "voice": "x"}, schema)
	var se *SettingsError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, []string{"api_key"}, se.Missing)
	assert.Equal(t, []string{"voice"}, se.Unknown)
	assert.Equal(t, "transcription.settings: missing: api_key; unknown: voice", err.Error())
	assert.Equal(t, errorsx.ReasonConfig, errorsx.Reason(err))

	err = ValidateSettings(map[string]any{}, schema)
	require.EqualError(t, err, "missing: api_key")

	require.NoError(t, ValidateSettings(map[string]any{"api_key": "k", "extra": 1}, Schema{Required: []string{"api_key"}, AllowUnknown: true}))
}

func TestDecodeSettings(t *testing.T) {
	var out struct {
		APIKey     string        `mapstructure:"api_key"`
		SampleRate int           `mapstructure:"sample_rate"`
		Interim    *bool         `mapstructure:"interim"`
		Timeout    time.Duration `mapstructure:"timeout"`
	}
	require.NoError(t, DecodeSettings(map[string]any{
		"ApiKey":      "k",
		"sample-rate": "8000",
		"interim":     "false",
		"timeout":     "1500ms",
	}, &out))
	assert.Equal(t, "k", out.APIKey)
	assert.Equal(t, 8000, out.SampleRate)
	require.NotNil(t, out.Interim)
	assert.False(t, BoolValue(out.Interim, true))
	assert.Equal(t, 1500*time.Millisecond, out.Timeout)

	require.NoError(t, DecodeSettings(nil, &out))
}

func TestHelpers(t *testing.T) {
	assert.Error(t, RequireString("  ", "lobby.room"))
	assert.NoError(t, RequireURL("wss://lobby.example.com/ws", "lobby.service_url", "ws", "wss"))
	assert.Error(t, RequireURL("https://lobby.example.com", "lobby.service_url", "ws", "wss"))
	assert.Error(t, RequireURL("not a url", "lobby.service_url", "wss"))

	assert.Equal(t, 7, IntValue(nil, 7))
	n := 3
	assert.Equal(t, 3, IntValue(&n, 7))
	assert.Equal(t, 5*time.Second, Millis(0, 5*time.Second))
	assert.Equal(t, 250*time.Millisecond, Millis(250, time.Second))
}
