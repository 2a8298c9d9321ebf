// Package credentials produces connect-time authentication material: RS256
// bearer tokens for the lobby queue and HTTP request signatures for the
// speech service.
package credentials

import (
	"crypto/rsa"
	"fmt"
	"os"

	"github.com/golang-jwt/jwt/v5"
)

// KeyLoader returns the signing key. It is called on every connect so a
// rotated key file is picked up without a restart.
type KeyLoader func() (*rsa.PrivateKey, error)

// KeyFile loads a PEM encoded RSA private key (PKCS#1 or PKCS#8) from path.
func KeyFile(path string) KeyLoader {
	return func() (*rsa.PrivateKey, error) {
		if path == "" {
			return nil, fmt.Errorf("private key path is empty")
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read private key: %w", err)
		}
		key, err := jwt.ParseRSAPrivateKeyFromPEM(data)
		if err != nil {
			return nil, fmt.Errorf("parse private key %s: %w", path, err)
		}
		return key, nil
	}
}

// StaticKey always returns key.
func StaticKey(key *rsa.PrivateKey) KeyLoader {
	return func() (*rsa.PrivateKey, error) {
		if key == nil {
			return nil, fmt.Errorf("no private key configured")
		}
		return key, nil
	}
}
