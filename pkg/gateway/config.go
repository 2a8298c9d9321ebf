package gateway

import (
	"fmt"
	"net/url"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/harunnryd/confgate/pkg/configutil"
	"github.com/harunnryd/confgate/pkg/credentials"
	"github.com/harunnryd/confgate/pkg/errorsx"
	"github.com/harunnryd/confgate/pkg/logging"
	"github.com/harunnryd/confgate/pkg/streaming"
	"github.com/spf13/viper"
)

type Config struct {
	Environment    string              `mapstructure:"environment"`
	LogLevel       string              `mapstructure:"log_level"`
	LogFormat      string              `mapstructure:"log_format"`
	DrainTimeoutMS int                 `mapstructure:"drain_timeout_ms"`
	Scheduler      SchedulerConfig     `mapstructure:"scheduler"`
	Lobby          LobbyConfig         `mapstructure:"lobby"`
	Transcription  TranscriptionConfig `mapstructure:"transcription"`
	Observability  ObservabilityConfig `mapstructure:"observability"`
	Privacy        PrivacyConfig       `mapstructure:"privacy"`
}

// SchedulerConfig sizes the two shared worker pools: one for heartbeats,
// one for reconnect delays and go-live timers.
type SchedulerConfig struct {
	HeartbeatWorkers int `mapstructure:"heartbeat_workers"`
	TimerWorkers     int `mapstructure:"timer_workers"`
}

type LobbyConfig struct {
	Enabled             bool        `mapstructure:"enabled"`
	ServiceURL          string      `mapstructure:"service_url"`
	Host                string      `mapstructure:"host"`
	TopicPrefix         string      `mapstructure:"topic_prefix"`
	ConnectTimeoutMS    int         `mapstructure:"connect_timeout_ms"`
	HeartbeatOutgoingMS int         `mapstructure:"heartbeat_outgoing_ms"`
	HeartbeatIncomingMS int         `mapstructure:"heartbeat_incoming_ms"`
	ReconnectMaxDelayMS int         `mapstructure:"reconnect_max_delay_ms"`
	Token               TokenConfig `mapstructure:"token"`
}

type TokenConfig struct {
	PrivateKeyPath string `mapstructure:"private_key_path"`
	KeyID          string `mapstructure:"key_id"`
	Issuer         string `mapstructure:"issuer"`
	Audience       string `mapstructure:"audience"`
	Subject        string `mapstructure:"subject"`
	TTLMS          int    `mapstructure:"ttl_ms"`
}

type TranscriptionConfig struct {
	Provider     string         `mapstructure:"provider"`
	ResultBuffer int            `mapstructure:"result_buffer"`
	Settings     map[string]any `mapstructure:"settings"`
}

type ObservabilityConfig struct {
	MetricsFile   string `mapstructure:"metrics_file"`
	MetricsBuffer int    `mapstructure:"metrics_buffer"`
}

type PrivacyConfig struct {
	RedactPII bool `mapstructure:"redact_pii"`
}

func LoadConfig(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("drain_timeout_ms", 10000)
	v.SetDefault("scheduler.heartbeat_workers", 4)
	v.SetDefault("scheduler.timer_workers", 1)
	v.SetDefault("lobby.enabled", false)
	v.SetDefault("lobby.service_url", "")
	v.SetDefault("lobby.host", "")
	v.SetDefault("lobby.topic_prefix", "/topic/")
	v.SetDefault("lobby.connect_timeout_ms", 5000)
	v.SetDefault("lobby.heartbeat_outgoing_ms", 15000)
	v.SetDefault("lobby.heartbeat_incoming_ms", 15000)
	v.SetDefault("lobby.reconnect_max_delay_ms", 5000)
	v.SetDefault("lobby.token.private_key_path", "")
	v.SetDefault("lobby.token.key_id", "")
	v.SetDefault("lobby.token.issuer", "")
	v.SetDefault("lobby.token.audience", "")
	v.SetDefault("lobby.token.subject", "")
	v.SetDefault("lobby.token.ttl_ms", 3600000)
	v.SetDefault("transcription.provider", "")
	v.SetDefault("transcription.result_buffer", 256)
	v.SetDefault("observability.metrics_file", "")
	v.SetDefault("observability.metrics_buffer", 1024)
	v.SetDefault("privacy.redact_pii", true)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal: %w", err)
	}

	expandEnvStrings(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, errorsx.Wrap(fmt.Errorf("validate config: %w", err), errorsx.ReasonConfig)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if _, ok := logging.ParseLevel(c.LogLevel); !ok {
		return fmt.Errorf("log_level %q is not a level", c.LogLevel)
	}
	if c.Scheduler.HeartbeatWorkers <= 0 || c.Scheduler.TimerWorkers <= 0 {
		return fmt.Errorf("scheduler workers must be positive")
	}
	if c.Lobby.Enabled {
		if err := configutil.RequireURL(c.Lobby.ServiceURL, "lobby.service_url", "ws", "wss"); err != nil {
			return err
		}
		if err := configutil.RequireString(c.Lobby.Token.PrivateKeyPath, "lobby.token.private_key_path"); err != nil {
			return err
		}
		if c.Lobby.HeartbeatOutgoingMS < 0 || c.Lobby.HeartbeatIncomingMS < 0 {
			return fmt.Errorf("lobby heartbeat intervals must not be negative")
		}
	}
	return nil
}

// DrainTimeout bounds shutdown.
func (c Config) DrainTimeout() time.Duration {
	return configutil.Millis(c.DrainTimeoutMS, 10*time.Second)
}

// Heartbeat is the local heartbeat proposal of lobby sessions. Zero
// disables a direction.
func (c LobbyConfig) Heartbeat() streaming.Contract {
	return streaming.Contract{
		Outgoing: time.Duration(c.HeartbeatOutgoingMS) * time.Millisecond,
		Incoming: time.Duration(c.HeartbeatIncomingMS) * time.Millisecond,
	}
}

// StompHost is the CONNECT host header: the configured host or the
// service URL's host name.
func (c LobbyConfig) StompHost() string {
	if strings.TrimSpace(c.Host) != "" {
		return c.Host
	}
	u, err := url.Parse(c.ServiceURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

func (c TokenConfig) JWT() credentials.JWTConfig {
	return credentials.JWTConfig{
		KeyID:    c.KeyID,
		Issuer:   c.Issuer,
		Audience: c.Audience,
		Subject:  c.Subject,
		TTL:      configutil.Millis(c.TTLMS, credentials.DefaultTokenTTL),
	}
}

func expandEnvStrings(cfg *Config) {
	expandValue(reflect.ValueOf(cfg))
	cfg.Transcription.Settings = expandSettings(cfg.Transcription.Settings)
}

func expandSettings(settings map[string]any) map[string]any {
	for k, v := range settings {
		settings[k] = expandAny(v)
	}
	return settings
}

func expandAny(v any) any {
	switch val := v.(type) {
	case string:
		return os.ExpandEnv(val)
	case []any:
		for i := range val {
			val[i] = expandAny(val[i])
		}
		return val
	case map[string]any:
		return expandSettings(val)
	default:
		return v
	}
}

func expandValue(v reflect.Value) {
	if !v.IsValid() {
		return
	}
	switch v.Kind() {
	case reflect.Pointer:
		if !v.IsNil() {
			expandValue(v.Elem())
		}
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			expandValue(v.Field(i))
		}
	case reflect.String:
		if v.CanSet() {
			v.SetString(os.ExpandEnv(v.String()))
		}
	}
}
