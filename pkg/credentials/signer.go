package credentials

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/harunnryd/confgate/pkg/clock"
	"github.com/harunnryd/confgate/pkg/errorsx"
)

// Signed header names, in signing order.
var signedHeaders = []string{"date", "(request-target)", "host"}

// HTTPSigner signs requests with the draft-cavage HTTP signature scheme
// used by the speech service: rsa-sha256 over date, request target and
// host.
type HTTPSigner struct {
	keyID string
	keys  KeyLoader
	clock clock.Clock
}

// NewHTTPSigner creates a signer. keyID identifies the key to the service,
// usually "<tenancy>/<user>/<fingerprint>".
func NewHTTPSigner(keyID string, keys KeyLoader, c clock.Clock) *HTTPSigner {
	if c == nil {
		c = clock.Real()
	}
	return &HTTPSigner{keyID: keyID, keys: keys, clock: c}
}

// Sign returns the date, host and authorization headers for method on
// target.
func (s *HTTPSigner) Sign(method string, target *url.URL) (map[string]string, error) {
	if target == nil {
		return nil, &errorsx.AuthenticationError{Provider: "http_signature", Err: fmt.Errorf("no request target")}
	}
	key, err := s.keys()
	if err != nil {
		return nil, &errorsx.AuthenticationError{Provider: "http_signature", Err: err}
	}

	headers := map[string]string{
		"date": s.clock.Now().UTC().Format(http.TimeFormat),
		"host": target.Host,
	}
	sig, err := jwt.SigningMethodRS256.Sign(SigningString(method, target, headers), key)
	if err != nil {
		return nil, &errorsx.AuthenticationError{Provider: "http_signature", Err: err}
	}
	headers["authorization"] = fmt.Sprintf(
		`Signature version="1",headers=%q,keyId=%q,algorithm="rsa-sha256",signature=%q`,
		strings.Join(signedHeaders, " "), s.keyID, base64.StdEncoding.EncodeToString(sig))
	return headers, nil
}

// SigningString builds the string covered by the signature.
func SigningString(method string, target *url.URL, headers map[string]string) string {
	lines := make([]string, 0, len(signedHeaders))
	for _, h := range signedHeaders {
		if h == "(request-target)" {
			lines = append(lines, h+": "+strings.ToLower(method)+" "+target.RequestURI())
			continue
		}
		lines = append(lines, h+": "+headers[h])
	}
	return strings.Join(lines, "\n")
}
