// Package redact masks personal data in transcripts and credentials in
// headers before they reach logs.
package redact

import (
	"net/http"
	"regexp"
	"strings"
	"sync/atomic"
)

var enabled atomic.Bool

var (
	emailRe     = regexp.MustCompile(`(?i)[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}`)
	phoneRe     = regexp.MustCompile(`\b\+?\d[\d\s\-]{7,}\d\b`)
	bearerRe    = regexp.MustCompile(`(?i)\bbearer\s+[a-z0-9\-_.~+/]+=*`)
	signatureRe = regexp.MustCompile(`(?i)signature="[^"]*"`)
)

// SetEnabled toggles PII redaction of transcripts.
func SetEnabled(v bool) {
	enabled.Store(v)
}

func Enabled() bool {
	return enabled.Load()
}

// Text redacts emails and phone numbers when enabled.
func Text(in string) string {
	if !enabled.Load() || strings.TrimSpace(in) == "" {
		return in
	}
	out := emailRe.ReplaceAllString(in, "[REDACTED_EMAIL]")
	out = phoneRe.ReplaceAllString(out, "[REDACTED_PHONE]")
	return out
}

// Secret masks bearer tokens and request signatures. It applies whether
// or not PII redaction is enabled.
func Secret(in string) string {
	out := bearerRe.ReplaceAllString(in, "Bearer [REDACTED]")
	return signatureRe.ReplaceAllString(out, `signature="[REDACTED]"`)
}

// Headers returns a copy of h safe to log.
func Headers(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, vs := range h {
		v := strings.Join(vs, ",")
		switch strings.ToLower(k) {
		case "authorization", "passcode", "x-api-key":
			v = Secret(v)
			if v == strings.Join(vs, ",") {
				v = "[REDACTED]"
			}
		}
		out[k] = v
	}
	return out
}
