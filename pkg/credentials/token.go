package credentials

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/harunnryd/confgate/pkg/clock"
	"github.com/harunnryd/confgate/pkg/errorsx"
)

const DefaultTokenTTL = time.Hour

type JWTConfig struct {
	KeyID    string
	Issuer   string
	Audience string
	Subject  string
	TTL      time.Duration
}

// JWTSource mints RS256 tokens for the lobby queue.
type JWTSource struct {
	cfg   JWTConfig
	keys  KeyLoader
	clock clock.Clock
}

func NewJWTSource(cfg JWTConfig, keys KeyLoader, c clock.Clock) *JWTSource {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTokenTTL
	}
	if c == nil {
		c = clock.Real()
	}
	return &JWTSource{cfg: cfg, keys: keys, clock: c}
}

// Token signs a token scoped to room. Key or signing failures are
// AuthenticationErrors.
func (s *JWTSource) Token(room string) (string, error) {
	key, err := s.keys()
	if err != nil {
		return "", &errorsx.AuthenticationError{Provider: "jwt", Err: err}
	}

	now := s.clock.Now()
	claims := jwt.MapClaims{
		"iat": now.Unix(),
		"nbf": now.Add(-10 * time.Second).Unix(),
		"exp": now.Add(s.cfg.TTL).Unix(),
		"jti": uuid.NewString(),
	}
	if s.cfg.Issuer != "" {
		claims["iss"] = s.cfg.Issuer
	}
	if s.cfg.Audience != "" {
		claims["aud"] = s.cfg.Audience
	}
	if s.cfg.Subject != "" {
		claims["sub"] = s.cfg.Subject
	}
	if room != "" {
		claims["room"] = room
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	if s.cfg.KeyID != "" {
		token.Header["kid"] = s.cfg.KeyID
	}
	signed, err := token.SignedString(key)
	if err != nil {
		return "", &errorsx.AuthenticationError{Provider: "jwt", Err: err}
	}
	return signed, nil
}
