package speech

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

const streamPath = "/ws/transcribe/stream"

const (
	DefaultEncoding     = "audio/raw;rate=16000"
	DefaultLanguageCode = "en-US"
	DefaultModelDomain  = "GENERIC"
)

// Params are the stream options carried in the upgrade query.
type Params struct {
	IsAckEnabled                      bool
	Encoding                          string
	PartialSilenceThresholdInMs       int
	FinalSilenceThresholdInMs         int
	LanguageCode                      string
	ModelDomain                       string
	ShouldIgnoreInvalidCustomizations bool
	Customizations                    []Customization
}

type Customization struct {
	CustomizationID string `json:"customizationId" mapstructure:"customization_id"`
	CompartmentID   string `json:"compartmentId,omitempty" mapstructure:"compartment_id"`
	Alias           string `json:"customizationAlias,omitempty" mapstructure:"alias"`
}

func (p Params) withDefaults() Params {
	if p.Encoding == "" {
		p.Encoding = DefaultEncoding
	}
	if p.LanguageCode == "" {
		p.LanguageCode = DefaultLanguageCode
	}
	if p.ModelDomain == "" {
		p.ModelDomain = DefaultModelDomain
	}
	return p
}

// StreamURL builds the upgrade URL for endpoint. Thresholds of 0 are left
// to the service defaults.
func StreamURL(endpoint string, p Params) (*url.URL, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse speech endpoint: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("speech endpoint %q: unsupported scheme %q", endpoint, u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + streamPath

	p = p.withDefaults()
	q := url.Values{}
	q.Set("isAckEnabled", strconv.FormatBool(p.IsAckEnabled))
	q.Set("encoding", p.Encoding)
	if p.PartialSilenceThresholdInMs > 0 {
		q.Set("partialSilenceThresholdInMs", strconv.Itoa(p.PartialSilenceThresholdInMs))
	}
	if p.FinalSilenceThresholdInMs > 0 {
		q.Set("finalSilenceThresholdInMs", strconv.Itoa(p.FinalSilenceThresholdInMs))
	}
	q.Set("languageCode", p.LanguageCode)
	q.Set("modelDomain", p.ModelDomain)
	q.Set("shouldIgnoreInvalidCustomizations", strconv.FormatBool(p.ShouldIgnoreInvalidCustomizations))
	if len(p.Customizations) > 0 {
		data, err := json.Marshal(p.Customizations)
		if err != nil {
			return nil, fmt.Errorf("encode customizations: %w", err)
		}
		q.Set("customizations", string(data))
	}
	u.RawQuery = q.Encode()
	return u, nil
}
