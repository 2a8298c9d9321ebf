package gateway

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/harunnryd/confgate/pkg/clock"
	"github.com/harunnryd/confgate/pkg/configutil"
	"github.com/harunnryd/confgate/pkg/credentials"
	"github.com/harunnryd/confgate/pkg/providers/deepgram"
	"github.com/harunnryd/confgate/pkg/providers/mock"
	"github.com/harunnryd/confgate/pkg/speech"
	"github.com/harunnryd/confgate/pkg/streaming"
	"github.com/harunnryd/confgate/pkg/transcription"
)

// BackendDeps are the gateway collaborators a backend may use.
type BackendDeps struct {
	Dialer     streaming.Dialer
	Dispatcher *streaming.Dispatcher
	Clock      clock.Clock
	Logger     *slog.Logger
	Options    []streaming.Option
}

type BackendFactory func(settings map[string]any, deps BackendDeps) (transcription.Backend, error)

// BackendRegistry maps provider names to transcription backends. Names
// are case insensitive.
type BackendRegistry struct {
	factories map[string]BackendFactory
}

func NewBackendRegistry() *BackendRegistry {
	return &BackendRegistry{factories: make(map[string]BackendFactory)}
}

// DefaultBackends knows the speech service, Deepgram and a scripted mock.
func DefaultBackends() *BackendRegistry {
	r := NewBackendRegistry()
	r.Register("speech", newSpeechBackend)
	r.Register("deepgram", newDeepgramBackend)
	r.Register("mock", newMockBackend)
	return r
}

func (r *BackendRegistry) Register(name string, factory BackendFactory) {
	r.factories[normalizeName(name)] = factory
}

func (r *BackendRegistry) Build(name string, settings map[string]any, deps BackendDeps) (transcription.Backend, error) {
	fn := r.factories[normalizeName(name)]
	if fn == nil {
		return nil, fmt.Errorf("transcription provider not registered: %s", name)
	}
	return fn(settings, deps)
}

func (r *BackendRegistry) Names() []string {
	out := make([]string, 0, len(r.factories))
	for name := range r.factories {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

type speechSettings struct {
	Endpoint                    string                 `mapstructure:"endpoint"`
	CompartmentID               string                 `mapstructure:"compartment_id"`
	KeyID                       string                 `mapstructure:"key_id"`
	PrivateKeyPath              string                 `mapstructure:"private_key_path"`
	ConnectTimeoutMS            int                    `mapstructure:"connect_timeout_ms"`
	LanguageCode                string                 `mapstructure:"language_code"`
	ModelDomain                 string                 `mapstructure:"model_domain"`
	Encoding                    string                 `mapstructure:"encoding"`
	PartialSilenceThresholdMS   int                    `mapstructure:"partial_silence_threshold_ms"`
	FinalSilenceThresholdMS     int                    `mapstructure:"final_silence_threshold_ms"`
	AckEnabled                  bool                   `mapstructure:"ack_enabled"`
	IgnoreInvalidCustomizations bool                   `mapstructure:"ignore_invalid_customizations"`
	Customizations              []speech.Customization `mapstructure:"customizations"`
}

var speechSchema = configutil.Schema{
	Required: []string{"endpoint", "compartment_id", "key_id", "private_key_path"},
	Optional: []string{
		"connect_timeout_ms", "language_code", "model_domain", "encoding",
		"partial_silence_threshold_ms", "final_silence_threshold_ms",
		"ack_enabled", "ignore_invalid_customizations", "customizations",
	},
}

func newSpeechBackend(settings map[string]any, deps BackendDeps) (transcription.Backend, error) {
	if err := configutil.ValidateSection("transcription.settings", settings, speechSchema); err != nil {
		return nil, err
	}
	var s speechSettings
	if err := configutil.DecodeSettings(settings, &s); err != nil {
		return nil, fmt.Errorf("decode speech settings: %w", err)
	}
	if err := configutil.RequireURL(s.Endpoint, "transcription.settings.endpoint", "https", "wss", "http", "ws"); err != nil {
		return nil, err
	}
	signer := credentials.NewHTTPSigner(s.KeyID, credentials.KeyFile(s.PrivateKeyPath), deps.Clock)
	return transcription.NewSpeechBackend(speech.Config{
		Endpoint:      s.Endpoint,
		CompartmentID: s.CompartmentID,
		Params: speech.Params{
			IsAckEnabled:                      s.AckEnabled,
			Encoding:                          s.Encoding,
			PartialSilenceThresholdInMs:       s.PartialSilenceThresholdMS,
			FinalSilenceThresholdInMs:         s.FinalSilenceThresholdMS,
			LanguageCode:                      s.LanguageCode,
			ModelDomain:                       s.ModelDomain,
			ShouldIgnoreInvalidCustomizations: s.IgnoreInvalidCustomizations,
			Customizations:                    s.Customizations,
		},
		ConnectTimeout: configutil.Millis(s.ConnectTimeoutMS, speech.DefaultConnectTimeout),
		Signer:         signer,
		Logger:         deps.Logger,
	}, deps.Dialer, deps.Dispatcher, deps.Options...), nil
}

type deepgramSettings struct {
	APIKey           string `mapstructure:"api_key"`
	Model            string `mapstructure:"model"`
	Language         string `mapstructure:"language"`
	SampleRate       *int   `mapstructure:"sample_rate"`
	Encoding         string `mapstructure:"encoding"`
	Interim          *bool  `mapstructure:"interim"`
	VADEvents        *bool  `mapstructure:"vad_events"`
	UtteranceEndMS   *int   `mapstructure:"utterance_end_ms"`
	EchoCancellation bool   `mapstructure:"echo_cancellation"`
}

var deepgramSchema = configutil.Schema{
	Required: []string{"api_key"},
	Optional: []string{"model", "language", "sample_rate", "encoding", "interim", "vad_events", "utterance_end_ms", "echo_cancellation"},
}

func newDeepgramBackend(settings map[string]any, deps BackendDeps) (transcription.Backend, error) {
	if err := configutil.ValidateSection("transcription.settings", settings, deepgramSchema); err != nil {
		return nil, err
	}
	var s deepgramSettings
	if err := configutil.DecodeSettings(settings, &s); err != nil {
		return nil, fmt.Errorf("decode deepgram settings: %w", err)
	}
	if err := configutil.RequireString(s.APIKey, "transcription.settings.api_key"); err != nil {
		return nil, err
	}
	if s.Model == "" {
		s.Model = "nova-2"
	}
	if s.Language == "" {
		s.Language = "en-US"
	}
	return deepgram.New(deepgram.Config{
		APIKey:     s.APIKey,
		Model:      s.Model,
		Language:   s.Language,
		SampleRate: configutil.IntValue(s.SampleRate, 16000),
		Encoding:   s.Encoding,
		Interim:    configutil.BoolValue(s.Interim, true),
		VADEvents:  configutil.BoolValue(s.VADEvents, true),
		Params: deepgram.Params{
			EchoCancellation: s.EchoCancellation,
			UtteranceEndMS:   configutil.IntValue(s.UtteranceEndMS, 1000),
		},
		Logger: deps.Logger,
	}), nil
}

type mockSettings struct {
	Transcript        string `mapstructure:"transcript"`
	InterimTranscript string `mapstructure:"interim_transcript"`
	EmitInterim       *bool  `mapstructure:"emit_interim"`
	EmitVAD           *bool  `mapstructure:"emit_vad"`
	EmitUtteranceEnd  *bool  `mapstructure:"emit_utterance_end"`
}

func newMockBackend(settings map[string]any, _ BackendDeps) (transcription.Backend, error) {
	err := configutil.ValidateSection("transcription.settings", settings, configutil.Schema{
		Optional: []string{"transcript", "interim_transcript", "emit_interim", "emit_vad", "emit_utterance_end"},
	})
	if err != nil {
		return nil, err
	}
	var s mockSettings
	if err := configutil.DecodeSettings(settings, &s); err != nil {
		return nil, fmt.Errorf("decode mock settings: %w", err)
	}
	return mock.New(mock.Config{
		Transcript:        s.Transcript,
		InterimTranscript: s.InterimTranscript,
		EmitInterim:       configutil.BoolValue(s.EmitInterim, false),
		EmitVAD:           configutil.BoolValue(s.EmitVAD, false),
		EmitUtteranceEnd:  configutil.BoolValue(s.EmitUtteranceEnd, true),
	}), nil
}
